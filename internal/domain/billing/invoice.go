package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"   // Nothing paid yet
	InvoiceStatusPartial   InvoiceStatus = "partial"   // 0 < paid < total
	InvoiceStatusPaid      InvoiceStatus = "paid"      // Balance <= 0
	InvoiceStatusCancelled InvoiceStatus = "cancelled" // Terminal override
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// AcceptsPayments returns true if new payments may be recorded in this status.
// Paid invoices still accept payments because overpayment is allowed.
func (s InvoiceStatus) AcceptsPayments() bool {
	return s != InvoiceStatusCancelled
}

// DeriveInvoiceStatus computes the status implied by a total and the sum of
// completed payments. It never returns InvoiceStatusCancelled.
func DeriveInvoiceStatus(total, paid decimal.Decimal) InvoiceStatus {
	balance := total.Sub(paid)
	switch {
	case balance.LessThanOrEqual(decimal.Zero):
		return InvoiceStatusPaid
	case paid.GreaterThan(decimal.Zero):
		return InvoiceStatusPartial
	default:
		return InvoiceStatusPending
	}
}

// InvoiceItem is one fee charge within an invoice
type InvoiceItem struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	FeeCategoryID uuid.UUID       `json:"fee_category_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
}

// NewInvoiceItem is the input for one line of a new invoice
type NewInvoiceItem struct {
	FeeCategoryID uuid.UUID
	Amount        decimal.Decimal
	Description   string
}

// Validate checks the line item input
func (i NewInvoiceItem) Validate() error {
	if i.FeeCategoryID == uuid.Nil {
		return shared.NewDomainError(shared.CodeValidation, "Fee category is required for every invoice item")
	}
	if i.Amount.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError(shared.CodeInvalidAmount, "Invoice item amount must be positive")
	}
	if len(i.Description) > 255 {
		return shared.NewDomainError(shared.CodeValidation, "Invoice item description cannot exceed 255 characters")
	}
	return nil
}

// Invoice is the aggregate root for a student's bill for one session and term.
// AmountPaid, Balance and Status are derived; they change only through
// ApplyRecompute and Cancel.
type Invoice struct {
	shared.BaseAggregateRoot
	InvoiceNumber string          `json:"invoice_number"`
	StudentID     uuid.UUID       `json:"student_id"`
	SessionID     uuid.UUID       `json:"session_id"`
	TermID        uuid.UUID       `json:"term_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Balance       decimal.Decimal `json:"balance"`
	Status        InvoiceStatus   `json:"status"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	Items         []InvoiceItem   `json:"items"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
}

// NewInvoice creates a pending invoice from a non-empty set of charges. The
// total is the sum of the item amounts.
func NewInvoice(
	invoiceNumber string,
	studentID, sessionID, termID uuid.UUID,
	items []NewInvoiceItem,
	dueDate *time.Time,
) (*Invoice, error) {
	if invoiceNumber == "" {
		return nil, shared.NewDomainError(shared.CodeValidation, "Invoice number cannot be empty")
	}
	if len(invoiceNumber) > 50 {
		return nil, shared.NewDomainError(shared.CodeValidation, "Invoice number cannot exceed 50 characters")
	}
	if studentID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeValidation, "Student ID cannot be empty")
	}
	if sessionID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeValidation, "Academic session ID cannot be empty")
	}
	if termID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeValidation, "Term ID cannot be empty")
	}
	if len(items) == 0 {
		return nil, shared.NewDomainError(shared.CodeValidation, "Invoice must have at least one item")
	}

	inv := &Invoice{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		InvoiceNumber:     invoiceNumber,
		StudentID:         studentID,
		SessionID:         sessionID,
		TermID:            termID,
		AmountPaid:        decimal.Zero,
		Status:            InvoiceStatusPending,
		DueDate:           dueDate,
		Items:             make([]InvoiceItem, 0, len(items)),
	}

	total := decimal.Zero
	for idx, in := range items {
		if err := in.Validate(); err != nil {
			return nil, shared.NewDomainError(shared.ErrorCode(err), fmt.Sprintf("item %d: %s", idx+1, err.Error()))
		}
		inv.Items = append(inv.Items, InvoiceItem{
			ID:            uuid.New(),
			InvoiceID:     inv.ID,
			FeeCategoryID: in.FeeCategoryID,
			Amount:        in.Amount,
			Description:   in.Description,
		})
		total = total.Add(in.Amount)
	}
	inv.TotalAmount = total
	inv.Balance = total

	inv.AddDomainEvent(NewInvoiceCreatedEvent(inv))

	return inv, nil
}

// ItemsTotal returns the sum of the item amounts. After creation this is
// advisory only; TotalAmount is the billing figure.
func (inv *Invoice) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range inv.Items {
		sum = sum.Add(item.Amount)
	}
	return sum
}

// ItemsMatchTotal reports whether the items still add up to TotalAmount
func (inv *Invoice) ItemsMatchTotal() bool {
	return inv.ItemsTotal().Equal(inv.TotalAmount)
}

// IsCancelled returns true if the invoice has been cancelled
func (inv *Invoice) IsCancelled() bool {
	return inv.Status == InvoiceStatusCancelled
}

// HasOutstandingBalance returns true if something is still owed
func (inv *Invoice) HasOutstandingBalance() bool {
	return inv.Balance.GreaterThan(decimal.Zero)
}

// ApplyRecompute sets AmountPaid to the given sum of completed payments and
// re-derives Balance and Status. A cancelled invoice keeps its status. It
// reports whether any field changed, so repeated calls with the same sum are
// no-ops.
func (inv *Invoice) ApplyRecompute(completedSum decimal.Decimal) bool {
	newStatus := inv.Status
	if !inv.IsCancelled() {
		newStatus = DeriveInvoiceStatus(inv.TotalAmount, completedSum)
	}
	newBalance := inv.TotalAmount.Sub(completedSum)

	if inv.AmountPaid.Equal(completedSum) && inv.Balance.Equal(newBalance) && inv.Status == newStatus {
		return false
	}

	previous := inv.Status
	inv.AmountPaid = completedSum
	inv.Balance = newBalance
	inv.Status = newStatus
	inv.Touch()

	if newStatus == InvoiceStatusPaid && previous != InvoiceStatusPaid {
		inv.AddDomainEvent(NewInvoicePaidEvent(inv))
	} else {
		inv.AddDomainEvent(NewInvoiceBalanceChangedEvent(inv, previous))
	}
	return true
}

// Cancel marks the invoice as cancelled. Only invoices with nothing paid can
// be cancelled.
func (inv *Invoice) Cancel(reason string) error {
	if inv.IsCancelled() {
		return shared.NewDomainError(shared.CodeInvalidState, "Invoice is already cancelled")
	}
	if !inv.AmountPaid.IsZero() {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("Cannot cancel invoice %s: %s has already been paid", inv.InvoiceNumber, inv.AmountPaid.StringFixed(2)))
	}
	if len(reason) > 500 {
		return shared.NewDomainError(shared.CodeValidation, "Cancel reason cannot exceed 500 characters")
	}

	now := time.Now().UTC()
	inv.Status = InvoiceStatusCancelled
	inv.CancelledAt = &now
	inv.CancelReason = reason
	inv.Touch()

	inv.AddDomainEvent(NewInvoiceCancelledEvent(inv))
	return nil
}
