package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// PaymentMethod represents how funds were transferred
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodCheque       PaymentMethod = "cheque"
	PaymentMethodGateway      PaymentMethod = "gateway"
)

// IsValid checks if the method is a valid PaymentMethod
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCard,
		PaymentMethodCheque, PaymentMethodGateway:
		return true
	}
	return false
}

// IsManual returns true for methods recorded by staff at time of receipt
func (m PaymentMethod) IsManual() bool {
	return m.IsValid() && m != PaymentMethodGateway
}

// String returns the string representation of PaymentMethod
func (m PaymentMethod) String() string {
	return string(m)
}

// PaymentStatus represents the lifecycle state of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true for completed and failed
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// ConfirmationSource records which path brought a payment to its terminal state
type ConfirmationSource string

const (
	ConfirmationSourceManual  ConfirmationSource = "manual"
	ConfirmationSourceVerify  ConfirmationSource = "verify"
	ConfirmationSourceWebhook ConfirmationSource = "webhook"
	ConfirmationSourceStaff   ConfirmationSource = "staff"
	// ConfirmationSourceInitialize marks payments failed because the gateway
	// refused to open a checkout
	ConfirmationSourceInitialize ConfirmationSource = "initialize"
)

// GatewayOutcome is the result of a gateway charge as seen by this system
type GatewayOutcome string

const (
	GatewayOutcomeSuccess GatewayOutcome = "success"
	GatewayOutcomeFailure GatewayOutcome = "failure"
)

// IsValid checks if the outcome is success or failure
func (o GatewayOutcome) IsValid() bool {
	return o == GatewayOutcomeSuccess || o == GatewayOutcomeFailure
}

// Payment is the aggregate root for a transfer of funds against one invoice.
// Only completed payments count toward the invoice's amount paid.
type Payment struct {
	shared.BaseAggregateRoot
	ReceiptNumber      string             `json:"receipt_number"`
	InvoiceID          uuid.UUID          `json:"invoice_id"`
	Amount             decimal.Decimal    `json:"amount"`
	Method             PaymentMethod      `json:"method"`
	Status             PaymentStatus      `json:"status"`
	GatewayReference   string             `json:"gateway_reference,omitempty"`
	AccessCode         string             `json:"access_code,omitempty"`
	AuthorizationCode  string             `json:"authorization_code,omitempty"`
	ConfirmationSource ConfirmationSource `json:"confirmation_source,omitempty"`
	PaymentDate        time.Time          `json:"payment_date"`
	Reference          string             `json:"reference,omitempty"`
	Remarks            string             `json:"remarks,omitempty"`
	ReceivedBy         string             `json:"received_by,omitempty"`
	FailureReason      string             `json:"failure_reason,omitempty"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	FailedAt           *time.Time         `json:"failed_at,omitempty"`
}

// ManualPaymentInput holds the details of a payment recorded by staff
type ManualPaymentInput struct {
	ReceiptNumber string
	InvoiceID     uuid.UUID
	Amount        decimal.Decimal
	Method        PaymentMethod
	PaymentDate   time.Time
	Reference     string
	Remarks       string
	ReceivedBy    string
}

// NewManualPayment creates a payment that is completed on entry. Manual
// payments are trusted at the time they are recorded.
func NewManualPayment(in ManualPaymentInput) (*Payment, error) {
	if err := validatePaymentBasics(in.ReceiptNumber, in.InvoiceID, in.Amount); err != nil {
		return nil, err
	}
	if !in.Method.IsManual() {
		return nil, shared.NewDomainError(shared.CodeValidation,
			fmt.Sprintf("Payment method %q cannot be recorded manually", in.Method))
	}
	if len(in.Reference) > 100 {
		return nil, shared.NewDomainError(shared.CodeValidation, "Reference cannot exceed 100 characters")
	}
	paymentDate := in.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = time.Now().UTC()
	}

	now := time.Now().UTC()
	p := &Payment{
		BaseAggregateRoot:  shared.NewBaseAggregateRoot(),
		ReceiptNumber:      in.ReceiptNumber,
		InvoiceID:          in.InvoiceID,
		Amount:             in.Amount,
		Method:             in.Method,
		Status:             PaymentStatusCompleted,
		ConfirmationSource: ConfirmationSourceManual,
		PaymentDate:        paymentDate,
		Reference:          in.Reference,
		Remarks:            in.Remarks,
		ReceivedBy:         in.ReceivedBy,
		CompletedAt:        &now,
	}
	p.AddDomainEvent(NewPaymentCompletedEvent(p))
	return p, nil
}

// NewGatewayPayment creates a pending gateway payment. The gateway reference
// doubles as the receipt number.
func NewGatewayPayment(gatewayReference string, invoiceID uuid.UUID, amount decimal.Decimal) (*Payment, error) {
	if err := validatePaymentBasics(gatewayReference, invoiceID, amount); err != nil {
		return nil, err
	}

	p := &Payment{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		ReceiptNumber:     gatewayReference,
		InvoiceID:         invoiceID,
		Amount:            amount,
		Method:            PaymentMethodGateway,
		Status:            PaymentStatusPending,
		GatewayReference:  gatewayReference,
		PaymentDate:       time.Now().UTC(),
	}
	p.AddDomainEvent(NewPaymentInitializedEvent(p))
	return p, nil
}

func validatePaymentBasics(receipt string, invoiceID uuid.UUID, amount decimal.Decimal) error {
	if receipt == "" {
		return shared.NewDomainError(shared.CodeValidation, "Receipt number cannot be empty")
	}
	if len(receipt) > 50 {
		return shared.NewDomainError(shared.CodeValidation, "Receipt number cannot exceed 50 characters")
	}
	if invoiceID == uuid.Nil {
		return shared.NewDomainError(shared.CodeValidation, "Invoice ID cannot be empty")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError(shared.CodeInvalidAmount, "Payment amount must be positive")
	}
	return nil
}

// IsGateway returns true if the payment goes through the payment gateway
func (p *Payment) IsGateway() bool {
	return p.Method == PaymentMethodGateway
}

// IsTerminal returns true if the payment is completed or failed
func (p *Payment) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// HasOpenCheckout returns true for a pending gateway payment the payer may
// still complete at the gateway
func (p *Payment) HasOpenCheckout() bool {
	return p.IsGateway() && p.Status == PaymentStatusPending && p.AccessCode != ""
}

// CountsTowardBalance returns true if the payment contributes to amount paid
func (p *Payment) CountsTowardBalance() bool {
	return p.Status == PaymentStatusCompleted
}

// AttachAccessCode stores the gateway access code returned by initialization
func (p *Payment) AttachAccessCode(accessCode string) error {
	if !p.IsGateway() || p.Status != PaymentStatusPending {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("Cannot attach access code to %s payment in %s status", p.Method, p.Status))
	}
	p.AccessCode = accessCode
	p.Touch()
	return nil
}

// Complete moves a pending payment to completed. Calling it on a terminal
// payment is an error; idempotent confirmation goes through Confirm.
func (p *Payment) Complete(source ConfirmationSource, authorizationCode string) error {
	if p.IsTerminal() {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("Payment %s is already %s", p.ReceiptNumber, p.Status))
	}
	now := time.Now().UTC()
	p.Status = PaymentStatusCompleted
	p.ConfirmationSource = source
	p.AuthorizationCode = authorizationCode
	p.CompletedAt = &now
	p.Touch()

	p.AddDomainEvent(NewPaymentCompletedEvent(p))
	return nil
}

// Fail moves a pending payment to failed
func (p *Payment) Fail(source ConfirmationSource, reason string) error {
	if p.IsTerminal() {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("Payment %s is already %s", p.ReceiptNumber, p.Status))
	}
	if len(reason) > 500 {
		reason = reason[:500]
	}
	now := time.Now().UTC()
	p.Status = PaymentStatusFailed
	p.ConfirmationSource = source
	p.FailureReason = reason
	p.FailedAt = &now
	p.Touch()

	p.AddDomainEvent(NewPaymentFailedEvent(p))
	return nil
}

// Confirm applies a gateway outcome exactly once. It returns false without
// changing anything if the payment is already terminal.
func (p *Payment) Confirm(outcome GatewayOutcome, source ConfirmationSource, authorizationCode string) (bool, error) {
	if !outcome.IsValid() {
		return false, shared.NewDomainError(shared.CodeValidation, fmt.Sprintf("Unknown gateway outcome %q", outcome))
	}
	if p.IsTerminal() {
		return false, nil
	}
	if outcome == GatewayOutcomeSuccess {
		return true, p.Complete(source, authorizationCode)
	}
	return true, p.Fail(source, "gateway reported failure")
}
