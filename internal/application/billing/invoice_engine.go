package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// InvoiceEngine issues invoices and keeps their balance and status in step
// with completed payments
type InvoiceEngine struct {
	store          billing.LedgerStore
	calendar       billing.AcademicCalendar
	feeCatalog     billing.FeeCatalogRepository
	references     billing.ReferenceGenerator
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
}

// InvoiceEngineConfig holds dependencies for the invoice engine
type InvoiceEngineConfig struct {
	Store          billing.LedgerStore
	Calendar       billing.AcademicCalendar
	FeeCatalog     billing.FeeCatalogRepository
	References     billing.ReferenceGenerator
	EventPublisher shared.EventPublisher
	Logger         *zap.Logger
}

// NewInvoiceEngine creates a new InvoiceEngine
func NewInvoiceEngine(cfg InvoiceEngineConfig) *InvoiceEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	refs := cfg.References
	if refs == nil {
		refs = billing.NewRandomReferenceGenerator()
	}
	return &InvoiceEngine{
		store:          cfg.Store,
		calendar:       cfg.Calendar,
		feeCatalog:     cfg.FeeCatalog,
		references:     refs,
		eventPublisher: cfg.EventPublisher,
		logger:         logger,
	}
}

// CreateInvoice issues a new invoice for a student and term
func (e *InvoiceEngine) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResponse, error) {
	items := make([]billing.NewInvoiceItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, billing.NewInvoiceItem{
			FeeCategoryID: item.FeeCategoryID,
			Amount:        item.Amount,
			Description:   item.Description,
		})
	}
	inv, err := e.createInvoice(ctx, req.StudentID, req.SessionID, req.TermID, items, req.DueDate)
	if err != nil {
		return nil, err
	}
	return ToInvoiceResponse(inv), nil
}

// CreateInvoiceFromFeeStructure issues an invoice carrying one item per fee
// structure row configured for the class level and term. Rows whose category
// has been deactivated are skipped.
func (e *InvoiceEngine) CreateInvoiceFromFeeStructure(ctx context.Context, req CreateInvoiceFromFeeStructureRequest) (*InvoiceResponse, error) {
	if e.feeCatalog == nil {
		return nil, shared.NewDomainError(shared.CodeInvalidState, "Fee catalog is not configured")
	}
	sessionID, termID := req.SessionID, req.TermID
	structures, err := e.feeCatalog.ListStructures(ctx, billing.FeeStructureFilter{
		ClassLevel: req.ClassLevel,
		SessionID:  &sessionID,
		TermID:     &termID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list fee structures: %w", err)
	}

	categories := make(map[uuid.UUID]*billing.FeeCategory)
	items := make([]billing.NewInvoiceItem, 0, len(structures))
	for i := range structures {
		fs := &structures[i]
		cat, ok := categories[fs.FeeCategoryID]
		if !ok {
			cat, err = e.feeCatalog.GetCategory(ctx, fs.FeeCategoryID)
			if err != nil {
				return nil, fmt.Errorf("failed to load fee category %s: %w", fs.FeeCategoryID, err)
			}
			categories[fs.FeeCategoryID] = cat
		}
		if !cat.IsActive {
			continue
		}
		items = append(items, fs.AsInvoiceItem(cat.Name))
	}
	if len(items) == 0 {
		return nil, shared.NewDomainError(shared.CodeValidation,
			fmt.Sprintf("No active fee structure configured for class level %s in this term", req.ClassLevel))
	}

	inv, err := e.createInvoice(ctx, req.StudentID, req.SessionID, req.TermID, items, req.DueDate)
	if err != nil {
		return nil, err
	}
	return ToInvoiceResponse(inv), nil
}

func (e *InvoiceEngine) createInvoice(
	ctx context.Context,
	studentID, sessionID, termID uuid.UUID,
	items []billing.NewInvoiceItem,
	dueDate *time.Time,
) (*billing.Invoice, error) {
	if e.calendar != nil {
		if err := e.calendar.ValidateTerm(ctx, sessionID, termID); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		number, err := allocateReference(ctx, e.references.InvoiceNumber, e.store.InvoiceNumberExists)
		if err != nil {
			return nil, err
		}
		inv, err := billing.NewInvoice(number, studentID, sessionID, termID, items, dueDate)
		if err != nil {
			return nil, err
		}
		if err := e.store.SaveInvoice(ctx, inv); err != nil {
			// another writer took the number between the check and the insert
			if shared.ErrorCode(err) == shared.CodeAlreadyExists {
				continue
			}
			return nil, err
		}

		e.logger.Info("Invoice created",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.String("student_id", studentID.String()),
			zap.String("total_amount", inv.TotalAmount.String()),
			zap.Int("item_count", len(inv.Items)))

		publishEvents(ctx, e.eventPublisher, e.logger, inv)
		return inv, nil
	}
	return nil, errReferencesExhausted
}

// Recompute re-derives amount paid, balance and status from completed
// payments. Calling it repeatedly without new payments changes nothing.
func (e *InvoiceEngine) Recompute(ctx context.Context, invoiceID uuid.UUID) (*InvoiceResponse, error) {
	var inv *billing.Invoice
	err := e.store.WithinInvoice(ctx, invoiceID, func(ctx context.Context, tx billing.LedgerStore) error {
		var err error
		inv, err = recomputeInvoice(ctx, tx, invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	// advisory only; the total is authoritative
	if !inv.ItemsMatchTotal() {
		e.logger.Warn("Invoice items no longer add up to total",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("total_amount", inv.TotalAmount.String()),
			zap.String("items_total", inv.ItemsTotal().String()))
	}

	publishEvents(ctx, e.eventPublisher, e.logger, inv)
	return ToInvoiceResponse(inv), nil
}

// Cancel cancels an invoice nothing has been paid against
func (e *InvoiceEngine) Cancel(ctx context.Context, invoiceID uuid.UUID, req CancelInvoiceRequest) (*InvoiceResponse, error) {
	var inv *billing.Invoice
	err := e.store.WithinInvoice(ctx, invoiceID, func(ctx context.Context, tx billing.LedgerStore) error {
		var err error
		// amount paid must reflect every completed payment before the check
		inv, err = recomputeInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if err := inv.Cancel(req.Reason); err != nil {
			return err
		}
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Invoice cancelled",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("reason", req.Reason))

	publishEvents(ctx, e.eventPublisher, e.logger, inv)
	return ToInvoiceResponse(inv), nil
}

// GetInvoice returns an invoice with its items
func (e *InvoiceEngine) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*InvoiceResponse, error) {
	inv, err := e.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return ToInvoiceResponse(inv), nil
}

// ListInvoices returns a page of invoices and the total match count
func (e *InvoiceEngine) ListInvoices(ctx context.Context, filter InvoiceListFilter) ([]InvoiceListResponse, int64, error) {
	domainFilter := billing.InvoiceFilter{
		Filter: shared.Filter{
			Page:     filter.Page,
			PageSize: filter.PageSize,
			OrderBy:  filter.OrderBy,
			OrderDir: filter.OrderDir,
			Search:   filter.Search,
		},
		StudentID:       filter.StudentID,
		SessionID:       filter.SessionID,
		TermID:          filter.TermID,
		OnlyOutstanding: filter.OnlyOutstanding,
	}
	if filter.Status != "" {
		status := billing.InvoiceStatus(filter.Status)
		if !status.IsValid() {
			return nil, 0, shared.NewDomainError(shared.CodeValidation, "Unknown invoice status "+filter.Status)
		}
		domainFilter.Status = &status
	}
	domainFilter.Filter.Normalize()

	invoices, total, err := e.store.ListInvoices(ctx, domainFilter)
	if err != nil {
		return nil, 0, err
	}
	return ToInvoiceListResponses(invoices), total, nil
}
