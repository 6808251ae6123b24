// Package memory provides in-process implementations of the billing
// persistence ports. They back the application tests and single-node
// development runs without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ledgerData is the state shared by a LedgerStore and its transaction views
type ledgerData struct {
	mu                sync.RWMutex
	invoices          map[uuid.UUID]*billing.Invoice
	invoiceByNumber   map[string]uuid.UUID
	payments          map[uuid.UUID]*billing.Payment
	paymentByRef      map[string]uuid.UUID
	receiptNumbers    map[string]uuid.UUID
	invoiceLocks      sync.Map // uuid.UUID -> *sync.Mutex
	recomputeCounters map[uuid.UUID]int
}

// LedgerStore is an in-memory billing.LedgerStore. Aggregates are copied on
// the way in and out, so callers never share state with the store.
type LedgerStore struct {
	data *ledgerData
	// lockedInvoice is set on the view handed to WithinInvoice callbacks
	lockedInvoice uuid.UUID
}

// NewLedgerStore creates an empty in-memory ledger
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		data: &ledgerData{
			invoices:          make(map[uuid.UUID]*billing.Invoice),
			invoiceByNumber:   make(map[string]uuid.UUID),
			payments:          make(map[uuid.UUID]*billing.Payment),
			paymentByRef:      make(map[string]uuid.UUID),
			receiptNumbers:    make(map[string]uuid.UUID),
			recomputeCounters: make(map[uuid.UUID]int),
		},
	}
}

func cloneInvoice(inv *billing.Invoice) *billing.Invoice {
	c := *inv
	c.ClearDomainEvents()
	c.Items = append([]billing.InvoiceItem(nil), inv.Items...)
	return &c
}

func clonePayment(p *billing.Payment) *billing.Payment {
	c := *p
	c.ClearDomainEvents()
	return &c
}

func conflict(kind string) error {
	return shared.NewDomainError(shared.CodeConcurrentModification, "The "+kind+" has been modified by another process")
}

// GetInvoice returns the invoice with the given ID
func (s *LedgerStore) GetInvoice(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	inv, ok := s.data.invoices[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

// GetInvoiceByNumber returns the invoice with the given number
func (s *LedgerStore) GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (*billing.Invoice, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	id, ok := s.data.invoiceByNumber[invoiceNumber]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneInvoice(s.data.invoices[id]), nil
}

// SaveInvoice inserts a new invoice with its items
func (s *LedgerStore) SaveInvoice(ctx context.Context, invoice *billing.Invoice) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	if _, exists := s.data.invoices[invoice.ID]; exists {
		return shared.NewDomainError(shared.CodeAlreadyExists, "Invoice already exists")
	}
	if _, exists := s.data.invoiceByNumber[invoice.InvoiceNumber]; exists {
		return shared.NewDomainError(shared.CodeAlreadyExists, "Invoice number already exists")
	}
	s.data.invoices[invoice.ID] = cloneInvoice(invoice)
	s.data.invoiceByNumber[invoice.InvoiceNumber] = invoice.ID
	return nil
}

// UpdateInvoice writes an existing invoice if its version is current
func (s *LedgerStore) UpdateInvoice(ctx context.Context, invoice *billing.Invoice) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	stored, ok := s.data.invoices[invoice.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != invoice.Version {
		return conflict("invoice")
	}
	invoice.IncrementVersion()
	s.data.invoices[invoice.ID] = cloneInvoice(invoice)
	return nil
}

// InvoiceNumberExists reports whether an invoice number is taken
func (s *LedgerStore) InvoiceNumberExists(ctx context.Context, invoiceNumber string) (bool, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	_, ok := s.data.invoiceByNumber[invoiceNumber]
	return ok, nil
}

// ListInvoices returns a page of invoices and the total match count
func (s *LedgerStore) ListInvoices(ctx context.Context, filter billing.InvoiceFilter) ([]billing.Invoice, int64, error) {
	filter.Normalize()
	s.data.mu.RLock()
	matched := make([]billing.Invoice, 0)
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	for _, inv := range s.data.invoices {
		if filter.StudentID != nil && inv.StudentID != *filter.StudentID {
			continue
		}
		if filter.SessionID != nil && inv.SessionID != *filter.SessionID {
			continue
		}
		if filter.TermID != nil && inv.TermID != *filter.TermID {
			continue
		}
		if filter.Status != nil && inv.Status != *filter.Status {
			continue
		}
		if filter.OnlyOutstanding && (inv.IsCancelled() || !inv.HasOutstandingBalance()) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(inv.InvoiceNumber), search) {
			continue
		}
		matched = append(matched, *cloneInvoice(inv))
	}
	s.data.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if filter.OrderBy == "balance" {
			if filter.OrderDir == "asc" {
				return matched[i].Balance.LessThan(matched[j].Balance)
			}
			return matched[i].Balance.GreaterThan(matched[j].Balance)
		}
		if filter.OrderDir == "asc" {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := filter.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// GetPayment returns the payment with the given ID
func (s *LedgerStore) GetPayment(ctx context.Context, id uuid.UUID) (*billing.Payment, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	p, ok := s.data.payments[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return clonePayment(p), nil
}

// GetPaymentByGatewayReference returns the payment with the given gateway reference
func (s *LedgerStore) GetPaymentByGatewayReference(ctx context.Context, reference string) (*billing.Payment, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	id, ok := s.data.paymentByRef[reference]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return clonePayment(s.data.payments[id]), nil
}

// SavePayment inserts a new payment
func (s *LedgerStore) SavePayment(ctx context.Context, payment *billing.Payment) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	if _, exists := s.data.invoices[payment.InvoiceID]; !exists {
		return shared.NewDomainError(shared.CodeNotFound, "Invoice not found for payment")
	}
	if _, exists := s.data.payments[payment.ID]; exists {
		return shared.NewDomainError(shared.CodeAlreadyExists, "Payment already exists")
	}
	if _, exists := s.data.receiptNumbers[payment.ReceiptNumber]; exists {
		return shared.NewDomainError(shared.CodeAlreadyExists, "Receipt number already exists")
	}
	if payment.GatewayReference != "" {
		if _, exists := s.data.paymentByRef[payment.GatewayReference]; exists {
			return shared.NewDomainError(shared.CodeAlreadyExists, "Gateway reference already exists")
		}
		s.data.paymentByRef[payment.GatewayReference] = payment.ID
	}
	s.data.payments[payment.ID] = clonePayment(payment)
	s.data.receiptNumbers[payment.ReceiptNumber] = payment.ID
	return nil
}

// UpdatePayment writes an existing payment if its version is current
func (s *LedgerStore) UpdatePayment(ctx context.Context, payment *billing.Payment) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	stored, ok := s.data.payments[payment.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != payment.Version {
		return conflict("payment")
	}
	payment.IncrementVersion()
	s.data.payments[payment.ID] = clonePayment(payment)
	return nil
}

// ReceiptNumberExists reports whether a receipt number is taken
func (s *LedgerStore) ReceiptNumberExists(ctx context.Context, receiptNumber string) (bool, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	_, ok := s.data.receiptNumbers[receiptNumber]
	return ok, nil
}

// ListPaymentsByInvoice returns the invoice's payments, oldest first
func (s *LedgerStore) ListPaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]billing.Payment, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	out := make([]billing.Payment, 0)
	for _, p := range s.data.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, *clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SumCompletedPayments sums completed payment amounts for an invoice
func (s *LedgerStore) SumCompletedPayments(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	s.data.recomputeCounters[invoiceID]++
	sum := decimal.Zero
	for _, p := range s.data.payments {
		if p.InvoiceID == invoiceID && p.CountsTowardBalance() {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

// SumCalls returns how many times SumCompletedPayments ran for an invoice.
// Tests use it to count recomputes.
func (s *LedgerStore) SumCalls(invoiceID uuid.UUID) int {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	return s.data.recomputeCounters[invoiceID]
}

func (s *LedgerStore) invoiceLock(id uuid.UUID) *sync.Mutex {
	l, _ := s.data.invoiceLocks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// WithinInvoice serializes fn against other writers of the same invoice. If
// fn returns an error the invoice and its payments are restored to their
// state before fn ran.
func (s *LedgerStore) WithinInvoice(ctx context.Context, invoiceID uuid.UUID, fn func(ctx context.Context, tx billing.LedgerStore) error) error {
	if s.lockedInvoice == invoiceID {
		return fn(ctx, s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.invoiceLock(invoiceID)
	lock.Lock()
	defer lock.Unlock()

	snap := s.snapshot(invoiceID)
	tx := &LedgerStore{data: s.data, lockedInvoice: invoiceID}
	if err := fn(ctx, tx); err != nil {
		s.restore(invoiceID, snap)
		return err
	}
	return nil
}

type invoiceSnapshot struct {
	invoice  *billing.Invoice
	payments map[uuid.UUID]*billing.Payment
}

func (s *LedgerStore) snapshot(invoiceID uuid.UUID) invoiceSnapshot {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	snap := invoiceSnapshot{payments: make(map[uuid.UUID]*billing.Payment)}
	if inv, ok := s.data.invoices[invoiceID]; ok {
		snap.invoice = cloneInvoice(inv)
	}
	for id, p := range s.data.payments {
		if p.InvoiceID == invoiceID {
			snap.payments[id] = clonePayment(p)
		}
	}
	return snap
}

func (s *LedgerStore) restore(invoiceID uuid.UUID, snap invoiceSnapshot) {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	if current, ok := s.data.invoices[invoiceID]; ok && snap.invoice == nil {
		delete(s.data.invoices, invoiceID)
		delete(s.data.invoiceByNumber, current.InvoiceNumber)
	} else if snap.invoice != nil {
		s.data.invoices[invoiceID] = snap.invoice
		s.data.invoiceByNumber[snap.invoice.InvoiceNumber] = invoiceID
	}

	for id, p := range s.data.payments {
		if p.InvoiceID != invoiceID {
			continue
		}
		if _, existed := snap.payments[id]; !existed {
			delete(s.data.payments, id)
			delete(s.data.receiptNumbers, p.ReceiptNumber)
			if p.GatewayReference != "" {
				delete(s.data.paymentByRef, p.GatewayReference)
			}
		}
	}
	for id, p := range snap.payments {
		s.data.payments[id] = p
	}
}

// Totals computes finance aggregates over the in-memory ledger
func (s *LedgerStore) Totals(ctx context.Context, r billing.DateRange) (*billing.LedgerTotals, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	totals := &billing.LedgerTotals{
		TotalInvoiced:  decimal.Zero,
		TotalCollected: decimal.Zero,
		TotalPending:   decimal.Zero,
		CountByStatus:  make(map[billing.InvoiceStatus]int64),
	}
	for _, inv := range s.data.invoices {
		if !inRange(r, inv.CreatedAt) {
			continue
		}
		totals.CountByStatus[inv.Status]++
		if inv.IsCancelled() {
			continue
		}
		totals.TotalInvoiced = totals.TotalInvoiced.Add(inv.TotalAmount)
		if inv.Status == billing.InvoiceStatusPending || inv.Status == billing.InvoiceStatusPartial {
			totals.TotalPending = totals.TotalPending.Add(inv.Balance)
		}
	}
	for _, p := range s.data.payments {
		if p.CountsTowardBalance() && inRange(r, p.PaymentDate) {
			totals.TotalCollected = totals.TotalCollected.Add(p.Amount)
		}
	}
	return totals, nil
}

var (
	_ billing.LedgerStore  = (*LedgerStore)(nil)
	_ billing.LedgerReader = (*LedgerStore)(nil)
)
