package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// LedgerTotals are raw aggregates over the ledger for a date range
type LedgerTotals struct {
	TotalInvoiced  decimal.Decimal
	TotalCollected decimal.Decimal
	TotalPending   decimal.Decimal
	CountByStatus  map[InvoiceStatus]int64
}

// FinanceSummary is the finance dashboard view
type FinanceSummary struct {
	TotalInvoiced  decimal.Decimal         `json:"total_invoiced"`
	TotalCollected decimal.Decimal         `json:"total_collected"`
	TotalPending   decimal.Decimal         `json:"total_pending"`
	TotalExpenses  decimal.Decimal         `json:"total_expenses"`
	NetIncome      decimal.Decimal         `json:"net_income"`
	InvoiceCounts  map[InvoiceStatus]int64 `json:"invoice_counts"`
}

// LedgerReader computes read-only aggregates over invoices and payments.
// TotalInvoiced excludes cancelled invoices, TotalCollected sums completed
// payments by payment date, and TotalPending sums the balance of pending and
// partial invoices.
type LedgerReader interface {
	Totals(ctx context.Context, r DateRange) (*LedgerTotals, error)
}
