package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportService_FinanceSummary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	paid := h.issueInvoice(t, uuid.New())
	partial := h.issueInvoice(t, uuid.New())
	h.issueInvoice(t, uuid.New())
	cancelled := h.issueInvoice(t, uuid.New())

	_, err := h.recorder.RecordManualPayment(ctx, paid.ID, RecordPaymentRequest{Amount: dec("550"), Method: "cash"})
	require.NoError(t, err)
	_, err = h.recorder.RecordManualPayment(ctx, partial.ID, RecordPaymentRequest{Amount: dec("150"), Method: "card"})
	require.NoError(t, err)
	_, err = h.engine.Cancel(ctx, cancelled.ID, CancelInvoiceRequest{})
	require.NoError(t, err)

	_, err = h.fees.RecordExpense(ctx, RecordExpenseRequest{Title: "Diesel", Category: "utilities", Amount: dec("100")})
	require.NoError(t, err)

	summary, err := h.reports.FinanceSummary(ctx, DateRangeFilter{})
	require.NoError(t, err)

	assert.True(t, dec("1650").Equal(summary.TotalInvoiced), summary.TotalInvoiced.String())
	assert.True(t, dec("700").Equal(summary.TotalCollected), summary.TotalCollected.String())
	assert.True(t, dec("950").Equal(summary.TotalPending), summary.TotalPending.String())
	assert.True(t, dec("100").Equal(summary.TotalExpenses))
	assert.True(t, dec("600").Equal(summary.NetIncome))
	assert.Equal(t, int64(1), summary.InvoiceCounts[billing.InvoiceStatusPaid])
	assert.Equal(t, int64(1), summary.InvoiceCounts[billing.InvoiceStatusPartial])
	assert.Equal(t, int64(1), summary.InvoiceCounts[billing.InvoiceStatusPending])
	assert.Equal(t, int64(1), summary.InvoiceCounts[billing.InvoiceStatusCancelled])
}

func TestReportService_FinanceSummary_RejectsInvertedRange(t *testing.T) {
	h := newHarness(t)
	from := time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	_, err := h.reports.FinanceSummary(context.Background(), DateRangeFilter{From: &from, To: &to})
	require.Error(t, err)
	assert.Equal(t, shared.CodeValidation, shared.ErrorCode(err))
}

func TestReportService_PendingBalances(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	small := h.issueInvoice(t, uuid.New())
	large := h.issueInvoice(t, uuid.New())
	settled := h.issueInvoice(t, uuid.New())

	_, err := h.recorder.RecordManualPayment(ctx, small.ID, RecordPaymentRequest{Amount: dec("500"), Method: "cash"})
	require.NoError(t, err)
	_, err = h.recorder.RecordManualPayment(ctx, settled.ID, RecordPaymentRequest{Amount: dec("550"), Method: "cash"})
	require.NoError(t, err)

	rows, err := h.reports.PendingBalances(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, large.ID, rows[0].ID)
	assert.Equal(t, small.ID, rows[1].ID)

	rows, err = h.reports.PendingBalances(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFeeCatalogService(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	cat, err := h.fees.CreateFeeCategory(ctx, CreateFeeCategoryRequest{Name: " Tuition "})
	require.NoError(t, err)
	assert.Equal(t, "Tuition", cat.Name)
	assert.True(t, cat.IsActive)

	_, err = h.fees.CreateFeeCategory(ctx, CreateFeeCategoryRequest{Name: "Tuition"})
	require.Error(t, err)
	assert.Equal(t, shared.CodeAlreadyExists, shared.ErrorCode(err))

	req := CreateFeeStructureRequest{
		FeeCategoryID: cat.ID, ClassLevel: "JSS1", SessionID: uuid.New(), TermID: uuid.New(), Amount: dec("25000"),
	}
	_, err = h.fees.CreateFeeStructure(ctx, req)
	require.NoError(t, err)
	_, err = h.fees.CreateFeeStructure(ctx, req)
	require.Error(t, err)
	assert.Equal(t, shared.CodeAlreadyExists, shared.ErrorCode(err))

	req.FeeCategoryID = uuid.New()
	_, err = h.fees.CreateFeeStructure(ctx, req)
	require.Error(t, err)
	assert.Equal(t, shared.CodeValidation, shared.ErrorCode(err))

	rows, err := h.fees.ListFeeStructures(ctx, FeeStructureListFilter{ClassLevel: "JSS1"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	categories, err := h.fees.ListFeeCategories(ctx, true)
	require.NoError(t, err)
	assert.Len(t, categories, 1)

	day := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	_, err = h.fees.RecordExpense(ctx, RecordExpenseRequest{Title: "Chalk", Category: "supplies", Amount: dec("40"), ExpenseDate: &day})
	require.NoError(t, err)
	_, err = h.fees.RecordExpense(ctx, RecordExpenseRequest{Title: "Chalk", Category: "fuel", Amount: dec("40")})
	require.Error(t, err)

	from := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	to := from
	expenses, err := h.fees.ListExpenses(ctx, DateRangeFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, expenses, 1, "the end date covers the whole day")
}
