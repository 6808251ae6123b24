package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// InvoiceFilter defines filtering options for invoice queries
type InvoiceFilter struct {
	shared.Filter
	StudentID *uuid.UUID
	SessionID *uuid.UUID
	TermID    *uuid.UUID
	Status    *InvoiceStatus
	// OnlyOutstanding limits results to non-cancelled invoices with a
	// positive balance
	OnlyOutstanding bool
}

// LedgerStore persists invoices and payments.
//
// Lookups return shared.ErrNotFound when nothing matches. SaveInvoice and
// SavePayment insert new aggregates; UpdateInvoice and UpdatePayment write
// existing ones with an optimistic version check and bump Version on success,
// returning a CONCURRENT_MODIFICATION error when the stored version moved.
type LedgerStore interface {
	// Invoices
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (*Invoice, error)
	// SaveInvoice inserts the invoice and its items atomically
	SaveInvoice(ctx context.Context, invoice *Invoice) error
	UpdateInvoice(ctx context.Context, invoice *Invoice) error
	InvoiceNumberExists(ctx context.Context, invoiceNumber string) (bool, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int64, error)

	// Payments
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetPaymentByGatewayReference(ctx context.Context, reference string) (*Payment, error)
	SavePayment(ctx context.Context, payment *Payment) error
	UpdatePayment(ctx context.Context, payment *Payment) error
	ReceiptNumberExists(ctx context.Context, receiptNumber string) (bool, error)
	ListPaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error)
	// SumCompletedPayments returns the sum of completed payment amounts for
	// the invoice, read inside the current transaction when there is one
	SumCompletedPayments(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)

	// WithinInvoice runs fn in a transaction holding the invoice's write
	// lock. All writes to one invoice and its payments go through here, so
	// writers to the same invoice are serialized. The store passed to fn is
	// bound to the transaction.
	WithinInvoice(ctx context.Context, invoiceID uuid.UUID, fn func(ctx context.Context, tx LedgerStore) error) error
}
