package billing

import (
	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Event type names for the Payment aggregate
const (
	EventTypePaymentInitialized = "PaymentInitialized"
	EventTypePaymentCompleted   = "PaymentCompleted"
	EventTypePaymentFailed      = "PaymentFailed"
)

const aggregateTypePayment = "Payment"

// PaymentInitializedEvent is raised when a pending gateway payment is created
type PaymentInitializedEvent struct {
	shared.BaseDomainEvent
	PaymentID        uuid.UUID       `json:"payment_id"`
	InvoiceID        uuid.UUID       `json:"invoice_id"`
	GatewayReference string          `json:"gateway_reference"`
	Amount           decimal.Decimal `json:"amount"`
}

// NewPaymentInitializedEvent creates a new PaymentInitializedEvent
func NewPaymentInitializedEvent(p *Payment) *PaymentInitializedEvent {
	return &PaymentInitializedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypePaymentInitialized, aggregateTypePayment, p.ID),
		PaymentID:        p.ID,
		InvoiceID:        p.InvoiceID,
		GatewayReference: p.GatewayReference,
		Amount:           p.Amount,
	}
}

// PaymentCompletedEvent is raised when a payment starts counting toward its
// invoice, either on manual entry or on gateway confirmation
type PaymentCompletedEvent struct {
	shared.BaseDomainEvent
	PaymentID     uuid.UUID          `json:"payment_id"`
	InvoiceID     uuid.UUID          `json:"invoice_id"`
	ReceiptNumber string             `json:"receipt_number"`
	Amount        decimal.Decimal    `json:"amount"`
	Method        PaymentMethod      `json:"method"`
	Source        ConfirmationSource `json:"source"`
}

// NewPaymentCompletedEvent creates a new PaymentCompletedEvent
func NewPaymentCompletedEvent(p *Payment) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentCompleted, aggregateTypePayment, p.ID),
		PaymentID:       p.ID,
		InvoiceID:       p.InvoiceID,
		ReceiptNumber:   p.ReceiptNumber,
		Amount:          p.Amount,
		Method:          p.Method,
		Source:          p.ConfirmationSource,
	}
}

// PaymentFailedEvent is raised when a gateway payment fails
type PaymentFailedEvent struct {
	shared.BaseDomainEvent
	PaymentID        uuid.UUID          `json:"payment_id"`
	InvoiceID        uuid.UUID          `json:"invoice_id"`
	GatewayReference string             `json:"gateway_reference"`
	Amount           decimal.Decimal    `json:"amount"`
	Reason           string             `json:"reason,omitempty"`
	Source           ConfirmationSource `json:"source"`
}

// NewPaymentFailedEvent creates a new PaymentFailedEvent
func NewPaymentFailedEvent(p *Payment) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypePaymentFailed, aggregateTypePayment, p.ID),
		PaymentID:        p.ID,
		InvoiceID:        p.InvoiceID,
		GatewayReference: p.GatewayReference,
		Amount:           p.Amount,
		Reason:           p.FailureReason,
		Source:           p.ConfirmationSource,
	}
}
