package billing

import (
	"context"
	"fmt"

	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"go.uber.org/zap"
)

const defaultPendingBalancesLimit = 20

// ReportService serves the finance dashboard read views
type ReportService struct {
	ledger   billing.LedgerReader
	store    billing.LedgerStore
	expenses billing.ExpenseRepository
	logger   *zap.Logger
}

// NewReportService creates a new ReportService
func NewReportService(
	ledger billing.LedgerReader,
	store billing.LedgerStore,
	expenses billing.ExpenseRepository,
	logger *zap.Logger,
) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		ledger:   ledger,
		store:    store,
		expenses: expenses,
		logger:   logger,
	}
}

// FinanceSummary totals invoicing, collections and expenses over an
// optional window. Net income is collections minus expenses.
func (s *ReportService) FinanceSummary(ctx context.Context, filter DateRangeFilter) (*billing.FinanceSummary, error) {
	r := filter.toDomain()
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return nil, shared.NewDomainError(shared.CodeValidation, "Report end date is before start date")
	}

	totals, err := s.ledger.Totals(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to compute ledger totals: %w", err)
	}
	spent, err := s.expenses.Sum(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to sum expenses: %w", err)
	}

	counts := make(map[billing.InvoiceStatus]int64, 4)
	for _, status := range []billing.InvoiceStatus{
		billing.InvoiceStatusPending,
		billing.InvoiceStatusPartial,
		billing.InvoiceStatusPaid,
		billing.InvoiceStatusCancelled,
	} {
		counts[status] = totals.CountByStatus[status]
	}

	return &billing.FinanceSummary{
		TotalInvoiced:  totals.TotalInvoiced,
		TotalCollected: totals.TotalCollected,
		TotalPending:   totals.TotalPending,
		TotalExpenses:  spent,
		NetIncome:      totals.TotalCollected.Sub(spent),
		InvoiceCounts:  counts,
	}, nil
}

// PendingBalances lists invoices still owing money, largest balance first
func (s *ReportService) PendingBalances(ctx context.Context, limit int) ([]InvoiceListResponse, error) {
	if limit <= 0 {
		limit = defaultPendingBalancesLimit
	}
	filter := billing.InvoiceFilter{
		Filter: shared.Filter{
			Page:     1,
			PageSize: limit,
			OrderBy:  "balance",
			OrderDir: "desc",
		},
		OnlyOutstanding: true,
	}
	filter.Filter.Normalize()

	invoices, _, err := s.store.ListInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}
	return ToInvoiceListResponses(invoices), nil
}
