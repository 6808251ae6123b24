package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
)

// ============================================================================
// Invoice DTOs
// ============================================================================

// InvoiceItemRequest is one fee line on a new invoice
type InvoiceItemRequest struct {
	FeeCategoryID uuid.UUID       `json:"fee_category_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description" binding:"max=255"`
}

// CreateInvoiceRequest represents a request to issue an invoice
type CreateInvoiceRequest struct {
	StudentID uuid.UUID            `json:"student_id" binding:"required"`
	SessionID uuid.UUID            `json:"session_id" binding:"required"`
	TermID    uuid.UUID            `json:"term_id" binding:"required"`
	Items     []InvoiceItemRequest `json:"items" binding:"required,min=1,dive"`
	DueDate   *time.Time           `json:"due_date"`
}

// CreateInvoiceFromFeeStructureRequest issues an invoice from the fee
// structure configured for a class level and term
type CreateInvoiceFromFeeStructureRequest struct {
	StudentID  uuid.UUID  `json:"student_id" binding:"required"`
	ClassLevel string     `json:"class_level" binding:"required,max=50"`
	SessionID  uuid.UUID  `json:"session_id" binding:"required"`
	TermID     uuid.UUID  `json:"term_id" binding:"required"`
	DueDate    *time.Time `json:"due_date"`
}

// CancelInvoiceRequest represents a request to cancel an invoice
type CancelInvoiceRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// InvoiceListFilter represents filter options for invoice list
type InvoiceListFilter struct {
	Search          string     `form:"search"`
	Status          string     `form:"status" binding:"omitempty,oneof=pending partial paid cancelled"`
	StudentID       *uuid.UUID `form:"student_id"`
	SessionID       *uuid.UUID `form:"session_id"`
	TermID          *uuid.UUID `form:"term_id"`
	OnlyOutstanding bool       `form:"only_outstanding"`
	Page            int        `form:"page" binding:"omitempty,min=1"`
	PageSize        int        `form:"page_size" binding:"omitempty,min=1,max=100"`
	OrderBy         string     `form:"order_by" binding:"omitempty,oneof=created_at balance total_amount invoice_number"`
	OrderDir        string     `form:"order_dir" binding:"omitempty,oneof=asc desc"`
}

// InvoiceItemResponse represents an invoice line in API responses
type InvoiceItemResponse struct {
	ID            uuid.UUID       `json:"id"`
	FeeCategoryID uuid.UUID       `json:"fee_category_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

// InvoiceResponse represents an invoice with its items
type InvoiceResponse struct {
	ID            uuid.UUID             `json:"id"`
	InvoiceNumber string                `json:"invoice_number"`
	StudentID     uuid.UUID             `json:"student_id"`
	SessionID     uuid.UUID             `json:"session_id"`
	TermID        uuid.UUID             `json:"term_id"`
	TotalAmount   decimal.Decimal       `json:"total_amount"`
	AmountPaid    decimal.Decimal       `json:"amount_paid"`
	Balance       decimal.Decimal       `json:"balance"`
	Status        string                `json:"status"`
	DueDate       *time.Time            `json:"due_date,omitempty"`
	Items         []InvoiceItemResponse `json:"items"`
	CancelledAt   *time.Time            `json:"cancelled_at,omitempty"`
	CancelReason  string                `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	Version       int                   `json:"version"`
}

// InvoiceListResponse represents a list item for invoices
type InvoiceListResponse struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	StudentID     uuid.UUID       `json:"student_id"`
	TermID        uuid.UUID       `json:"term_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Balance       decimal.Decimal `json:"balance"`
	Status        string          `json:"status"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ToInvoiceResponse converts a domain Invoice to InvoiceResponse
func ToInvoiceResponse(inv *billing.Invoice) *InvoiceResponse {
	items := make([]InvoiceItemResponse, 0, len(inv.Items))
	for _, item := range inv.Items {
		items = append(items, InvoiceItemResponse{
			ID:            item.ID,
			FeeCategoryID: item.FeeCategoryID,
			Amount:        item.Amount,
			Description:   item.Description,
		})
	}
	return &InvoiceResponse{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		StudentID:     inv.StudentID,
		SessionID:     inv.SessionID,
		TermID:        inv.TermID,
		TotalAmount:   inv.TotalAmount,
		AmountPaid:    inv.AmountPaid,
		Balance:       inv.Balance,
		Status:        string(inv.Status),
		DueDate:       inv.DueDate,
		Items:         items,
		CancelledAt:   inv.CancelledAt,
		CancelReason:  inv.CancelReason,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
		Version:       inv.Version,
	}
}

// ToInvoiceListResponses converts domain invoices to list items
func ToInvoiceListResponses(invoices []billing.Invoice) []InvoiceListResponse {
	result := make([]InvoiceListResponse, 0, len(invoices))
	for i := range invoices {
		inv := &invoices[i]
		result = append(result, InvoiceListResponse{
			ID:            inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			StudentID:     inv.StudentID,
			TermID:        inv.TermID,
			TotalAmount:   inv.TotalAmount,
			AmountPaid:    inv.AmountPaid,
			Balance:       inv.Balance,
			Status:        string(inv.Status),
			DueDate:       inv.DueDate,
			CreatedAt:     inv.CreatedAt,
		})
	}
	return result
}

// ============================================================================
// Payment DTOs
// ============================================================================

// RecordPaymentRequest represents a manual payment taken by staff
type RecordPaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method" binding:"required,oneof=cash bank_transfer card cheque"`
	PaymentDate *time.Time      `json:"payment_date"`
	Reference   string          `json:"reference" binding:"max=100"`
	Remarks     string          `json:"remarks" binding:"max=500"`
	ReceivedBy  string          `json:"received_by" binding:"max=100"`
}

// MarkPaymentFailedRequest represents a staff request to abandon a pending
// gateway payment
type MarkPaymentFailedRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// PaymentResponse represents a payment in API responses
type PaymentResponse struct {
	ID                 uuid.UUID       `json:"id"`
	ReceiptNumber      string          `json:"receipt_number"`
	InvoiceID          uuid.UUID       `json:"invoice_id"`
	Amount             decimal.Decimal `json:"amount"`
	Method             string          `json:"method"`
	Status             string          `json:"status"`
	GatewayReference   string          `json:"gateway_reference,omitempty"`
	AuthorizationCode  string          `json:"authorization_code,omitempty"`
	ConfirmationSource string          `json:"confirmation_source,omitempty"`
	PaymentDate        time.Time       `json:"payment_date"`
	Reference          string          `json:"reference,omitempty"`
	Remarks            string          `json:"remarks,omitempty"`
	ReceivedBy         string          `json:"received_by,omitempty"`
	FailureReason      string          `json:"failure_reason,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	FailedAt           *time.Time      `json:"failed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	Version            int             `json:"version"`
}

// ToPaymentResponse converts a domain Payment to PaymentResponse
func ToPaymentResponse(p *billing.Payment) *PaymentResponse {
	return &PaymentResponse{
		ID:                 p.ID,
		ReceiptNumber:      p.ReceiptNumber,
		InvoiceID:          p.InvoiceID,
		Amount:             p.Amount,
		Method:             string(p.Method),
		Status:             string(p.Status),
		GatewayReference:   p.GatewayReference,
		AuthorizationCode:  p.AuthorizationCode,
		ConfirmationSource: string(p.ConfirmationSource),
		PaymentDate:        p.PaymentDate,
		Reference:          p.Reference,
		Remarks:            p.Remarks,
		ReceivedBy:         p.ReceivedBy,
		FailureReason:      p.FailureReason,
		CompletedAt:        p.CompletedAt,
		FailedAt:           p.FailedAt,
		CreatedAt:          p.CreatedAt,
		Version:            p.Version,
	}
}

// ToPaymentResponses converts a slice of domain payments
func ToPaymentResponses(payments []billing.Payment) []PaymentResponse {
	result := make([]PaymentResponse, 0, len(payments))
	for i := range payments {
		result = append(result, *ToPaymentResponse(&payments[i]))
	}
	return result
}

// ConfirmationResult is returned by payment state transitions. When the
// payment was already terminal nothing was changed and AlreadyTerminal is set.
type ConfirmationResult struct {
	Payment         *PaymentResponse `json:"payment"`
	AlreadyTerminal bool             `json:"already_terminal"`
}

// ============================================================================
// Gateway DTOs
// ============================================================================

// CheckoutResponse is what the payer's browser needs to open the gateway
// checkout
type CheckoutResponse struct {
	PaymentID        uuid.UUID       `json:"payment_id"`
	Reference        string          `json:"reference"`
	AccessCode       string          `json:"access_code"`
	AuthorizationURL string          `json:"authorization_url"`
	Amount           decimal.Decimal `json:"amount"`
}

// VerifyOutcome is the result of a verification as seen by the caller
type VerifyOutcome string

const (
	VerifyOutcomeCompleted VerifyOutcome = "completed"
	VerifyOutcomeFailed    VerifyOutcome = "failed"
	VerifyOutcomePending   VerifyOutcome = "pending"
)

// VerifyResult is returned by gateway verification
type VerifyResult struct {
	Reference       string           `json:"reference"`
	Outcome         VerifyOutcome    `json:"outcome"`
	GatewayStatus   string           `json:"gateway_status,omitempty"`
	AlreadyTerminal bool             `json:"already_terminal"`
	Payment         *PaymentResponse `json:"payment"`
}

// WebhookOutcome describes what happened to a webhook delivery
type WebhookOutcome string

const (
	WebhookOutcomeProcessed  WebhookOutcome = "PROCESSED"
	WebhookOutcomeDuplicate  WebhookOutcome = "DUPLICATE"
	WebhookOutcomeIgnored    WebhookOutcome = "IGNORED"
	WebhookOutcomeParseError WebhookOutcome = "PARSE_ERROR"
)

// WebhookAck acknowledges a webhook delivery
type WebhookAck struct {
	Outcome   WebhookOutcome `json:"outcome"`
	Event     string         `json:"event,omitempty"`
	Reference string         `json:"reference,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// ============================================================================
// Fee catalog and expense DTOs
// ============================================================================

// CreateFeeCategoryRequest represents a request to create a fee category
type CreateFeeCategoryRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100"`
	Description string `json:"description" binding:"max=500"`
}

// FeeCategoryResponse represents a fee category in API responses
type FeeCategoryResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToFeeCategoryResponse converts a domain FeeCategory
func ToFeeCategoryResponse(c *billing.FeeCategory) FeeCategoryResponse {
	return FeeCategoryResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		IsActive:    c.IsActive,
		CreatedAt:   c.CreatedAt,
	}
}

// CreateFeeStructureRequest represents a request to price a fee category for
// a class level and term
type CreateFeeStructureRequest struct {
	FeeCategoryID uuid.UUID       `json:"fee_category_id" binding:"required"`
	ClassLevel    string          `json:"class_level" binding:"required,max=50"`
	SessionID     uuid.UUID       `json:"session_id" binding:"required"`
	TermID        uuid.UUID       `json:"term_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description" binding:"max=255"`
}

// FeeStructureListFilter represents filter options for fee structures
type FeeStructureListFilter struct {
	ClassLevel string     `form:"class_level"`
	SessionID  *uuid.UUID `form:"session_id"`
	TermID     *uuid.UUID `form:"term_id"`
}

// FeeStructureResponse represents a fee structure row in API responses
type FeeStructureResponse struct {
	ID            uuid.UUID       `json:"id"`
	FeeCategoryID uuid.UUID       `json:"fee_category_id"`
	ClassLevel    string          `json:"class_level"`
	SessionID     uuid.UUID       `json:"session_id"`
	TermID        uuid.UUID       `json:"term_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

// ToFeeStructureResponse converts a domain FeeStructure
func ToFeeStructureResponse(f *billing.FeeStructure) FeeStructureResponse {
	return FeeStructureResponse{
		ID:            f.ID,
		FeeCategoryID: f.FeeCategoryID,
		ClassLevel:    f.ClassLevel,
		SessionID:     f.SessionID,
		TermID:        f.TermID,
		Amount:        f.Amount,
		Description:   f.Description,
	}
}

// RecordExpenseRequest represents a request to record an expense
type RecordExpenseRequest struct {
	Title       string          `json:"title" binding:"required,min=1,max=200"`
	Category    string          `json:"category" binding:"required,oneof=salary utilities supplies maintenance other"`
	Amount      decimal.Decimal `json:"amount"`
	ExpenseDate *time.Time      `json:"expense_date"`
	Description string          `json:"description" binding:"max=1000"`
	RecordedBy  string          `json:"recorded_by" binding:"max=100"`
}

// ExpenseResponse represents an expense in API responses
type ExpenseResponse struct {
	ID          uuid.UUID       `json:"id"`
	Title       string          `json:"title"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	ExpenseDate time.Time       `json:"expense_date"`
	Description string          `json:"description,omitempty"`
	RecordedBy  string          `json:"recorded_by,omitempty"`
}

// ToExpenseResponse converts a domain Expense
func ToExpenseResponse(e *billing.Expense) ExpenseResponse {
	return ExpenseResponse{
		ID:          e.ID,
		Title:       e.Title,
		Category:    string(e.Category),
		Amount:      e.Amount,
		ExpenseDate: e.ExpenseDate,
		Description: e.Description,
		RecordedBy:  e.RecordedBy,
	}
}

// DateRangeFilter is an optional reporting window
type DateRangeFilter struct {
	From *time.Time `form:"from" time_format:"2006-01-02"`
	To   *time.Time `form:"to" time_format:"2006-01-02"`
}

// toDomain converts the filter, extending To to the end of its day
func (f DateRangeFilter) toDomain() billing.DateRange {
	r := billing.DateRange{From: f.From}
	if f.To != nil {
		end := f.To.Add(24*time.Hour - time.Nanosecond)
		r.To = &end
	}
	return r
}
