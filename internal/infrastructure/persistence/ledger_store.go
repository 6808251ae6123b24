package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/schoolerp/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedgerStore implements billing.LedgerStore using GORM.
//
// WithinInvoice opens a transaction and takes a row lock on the invoice
// (SELECT ... FOR UPDATE on PostgreSQL), so writers of one invoice queue
// behind each other while other invoices proceed in parallel.
type GormLedgerStore struct {
	db *gorm.DB
	// lockedInvoice is set on stores bound to a WithinInvoice transaction
	lockedInvoice uuid.UUID
}

// NewGormLedgerStore creates a new GormLedgerStore
func NewGormLedgerStore(db *gorm.DB) *GormLedgerStore {
	return &GormLedgerStore{db: db}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// drivers without error translation
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

func concurrentModification(kind string) error {
	return shared.NewDomainError(shared.CodeConcurrentModification, "The "+kind+" has been modified by another process")
}

// GetInvoice returns the invoice with its items
func (s *GormLedgerStore) GetInvoice(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	var model models.InvoiceModel
	if err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// GetInvoiceByNumber returns the invoice with the given number
func (s *GormLedgerStore) GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (*billing.Invoice, error) {
	var model models.InvoiceModel
	if err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		First(&model, "invoice_number = ?", invoiceNumber).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// SaveInvoice inserts the invoice and its items in one transaction
func (s *GormLedgerStore) SaveInvoice(ctx context.Context, invoice *billing.Invoice) error {
	model := models.InvoiceModelFromDomain(invoice)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return shared.NewDomainError(shared.CodeAlreadyExists, "Invoice number already exists")
		}
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

// UpdateInvoice writes the invoice header if its version is current. Items
// are not rewritten; they are fixed at creation.
func (s *GormLedgerStore) UpdateInvoice(ctx context.Context, invoice *billing.Invoice) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("id = ? AND version = ?", invoice.ID, invoice.Version).
		Updates(map[string]interface{}{
			"amount_paid":   invoice.AmountPaid,
			"balance":       invoice.Balance,
			"status":        invoice.Status,
			"due_date":      invoice.DueDate,
			"cancelled_at":  invoice.CancelledAt,
			"cancel_reason": invoice.CancelReason,
			"version":       invoice.Version + 1,
			"updated_at":    now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update invoice: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.missingOrConflict(ctx, &models.InvoiceModel{}, invoice.ID, "invoice")
	}
	invoice.Version++
	invoice.UpdatedAt = now
	return nil
}

func (s *GormLedgerStore) missingOrConflict(ctx context.Context, model interface{}, id uuid.UUID, kind string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return shared.ErrNotFound
	}
	return concurrentModification(kind)
}

// InvoiceNumberExists reports whether an invoice number is taken
func (s *GormLedgerStore) InvoiceNumberExists(ctx context.Context, invoiceNumber string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Where("invoice_number = ?", invoiceNumber).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListInvoices returns a page of invoices without items and the total match count
func (s *GormLedgerStore) ListInvoices(ctx context.Context, filter billing.InvoiceFilter) ([]billing.Invoice, int64, error) {
	filter.Normalize()
	query := s.db.WithContext(ctx).Model(&models.InvoiceModel{})

	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}
	if filter.SessionID != nil {
		query = query.Where("session_id = ?", *filter.SessionID)
	}
	if filter.TermID != nil {
		query = query.Where("term_id = ?", *filter.TermID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.OnlyOutstanding {
		query = query.Where("status <> ? AND balance > 0", billing.InvoiceStatusCancelled)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("LOWER(invoice_number) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sortField := ValidateSortField(filter.OrderBy, InvoiceSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir)

	var rows []models.InvoiceModel
	if err := query.
		Order(fmt.Sprintf("%s %s", sortField, sortOrder)).
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	invoices := make([]billing.Invoice, len(rows))
	for i := range rows {
		invoices[i] = *rows[i].ToDomain()
	}
	return invoices, total, nil
}

// GetPayment returns the payment with the given ID
func (s *GormLedgerStore) GetPayment(ctx context.Context, id uuid.UUID) (*billing.Payment, error) {
	return s.findPayment(ctx, "id = ?", id)
}

// GetPaymentByGatewayReference returns the payment with the given gateway reference
func (s *GormLedgerStore) GetPaymentByGatewayReference(ctx context.Context, reference string) (*billing.Payment, error) {
	return s.findPayment(ctx, "gateway_reference = ?", reference)
}

func (s *GormLedgerStore) findPayment(ctx context.Context, cond string, arg interface{}) (*billing.Payment, error) {
	var model models.PaymentModel
	if err := s.db.WithContext(ctx).First(&model, cond, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// SavePayment inserts a new payment against an existing invoice
func (s *GormLedgerStore) SavePayment(ctx context.Context, payment *billing.Payment) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Where("id = ?", payment.InvoiceID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return shared.NewDomainError(shared.CodeNotFound, "Invoice not found for payment")
	}

	if err := s.db.WithContext(ctx).Create(models.PaymentModelFromDomain(payment)).Error; err != nil {
		if isDuplicateKey(err) {
			return shared.NewDomainError(shared.CodeAlreadyExists, "Receipt number or gateway reference already exists")
		}
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

// UpdatePayment writes the payment if its version is current
func (s *GormLedgerStore) UpdatePayment(ctx context.Context, payment *billing.Payment) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.PaymentModel{}).
		Where("id = ? AND version = ?", payment.ID, payment.Version).
		Updates(map[string]interface{}{
			"status":              payment.Status,
			"access_code":         payment.AccessCode,
			"authorization_code":  payment.AuthorizationCode,
			"confirmation_source": payment.ConfirmationSource,
			"failure_reason":      payment.FailureReason,
			"completed_at":        payment.CompletedAt,
			"failed_at":           payment.FailedAt,
			"version":             payment.Version + 1,
			"updated_at":          now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update payment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.missingOrConflict(ctx, &models.PaymentModel{}, payment.ID, "payment")
	}
	payment.Version++
	payment.UpdatedAt = now
	return nil
}

// ReceiptNumberExists reports whether a receipt number is taken
func (s *GormLedgerStore) ReceiptNumberExists(ctx context.Context, receiptNumber string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.PaymentModel{}).
		Where("receipt_number = ?", receiptNumber).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListPaymentsByInvoice returns the invoice's payments, oldest first
func (s *GormLedgerStore) ListPaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]billing.Payment, error) {
	var rows []models.PaymentModel
	if err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	payments := make([]billing.Payment, len(rows))
	for i := range rows {
		payments[i] = *rows[i].ToDomain()
	}
	return payments, nil
}

// SumCompletedPayments sums completed payment amounts for an invoice
func (s *GormLedgerStore) SumCompletedPayments(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	if err := s.db.WithContext(ctx).Model(&models.PaymentModel{}).
		Select("SUM(amount)").
		Where("invoice_id = ? AND status = ?", invoiceID, billing.PaymentStatusCompleted).
		Row().Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum payments: %w", err)
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

// WithinInvoice runs fn in a transaction holding a row lock on the invoice.
// Calls nested inside an existing WithinInvoice for the same invoice reuse
// the outer transaction.
func (s *GormLedgerStore) WithinInvoice(ctx context.Context, invoiceID uuid.UUID, fn func(ctx context.Context, tx billing.LedgerStore) error) error {
	if s.lockedInvoice == invoiceID {
		return fn(ctx, s)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.InvoiceModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&locked, "id = ?", invoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.ErrNotFound
			}
			return fmt.Errorf("failed to lock invoice: %w", err)
		}
		return fn(ctx, &GormLedgerStore{db: tx, lockedInvoice: invoiceID})
	})
}

// Totals computes finance aggregates for the date range. Invoices are
// bucketed by creation time and payments by payment date.
func (s *GormLedgerStore) Totals(ctx context.Context, r billing.DateRange) (*billing.LedgerTotals, error) {
	db := s.db.WithContext(ctx)
	totals := &billing.LedgerTotals{
		TotalInvoiced:  decimal.Zero,
		TotalCollected: decimal.Zero,
		TotalPending:   decimal.Zero,
		CountByStatus:  make(map[billing.InvoiceStatus]int64),
	}

	var byStatus []struct {
		Status  billing.InvoiceStatus
		Count   int64
		Total   decimal.NullDecimal
		Balance decimal.NullDecimal
	}
	if err := withinRange(db.Model(&models.InvoiceModel{}), "created_at", r).
		Select("status, COUNT(*) AS count, SUM(total_amount) AS total, SUM(balance) AS balance").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate invoices: %w", err)
	}
	for _, row := range byStatus {
		totals.CountByStatus[row.Status] = row.Count
		if row.Status == billing.InvoiceStatusCancelled {
			continue
		}
		totals.TotalInvoiced = totals.TotalInvoiced.Add(row.Total.Decimal)
		if row.Status == billing.InvoiceStatusPending || row.Status == billing.InvoiceStatusPartial {
			totals.TotalPending = totals.TotalPending.Add(row.Balance.Decimal)
		}
	}

	var collected decimal.NullDecimal
	if err := withinRange(db.Model(&models.PaymentModel{}), "payment_date", r).
		Select("SUM(amount)").
		Where("status = ?", billing.PaymentStatusCompleted).
		Row().Scan(&collected); err != nil {
		return nil, fmt.Errorf("failed to aggregate payments: %w", err)
	}
	totals.TotalCollected = collected.Decimal
	return totals, nil
}

func withinRange(query *gorm.DB, column string, r billing.DateRange) *gorm.DB {
	if r.From != nil {
		query = query.Where(column+" >= ?", *r.From)
	}
	if r.To != nil {
		query = query.Where(column+" <= ?", *r.To)
	}
	return query
}

// Ensure GormLedgerStore implements the billing ports
var (
	_ billing.LedgerStore  = (*GormLedgerStore)(nil)
	_ billing.LedgerReader = (*GormLedgerStore)(nil)
)
