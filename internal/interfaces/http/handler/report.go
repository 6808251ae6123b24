package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	billingapp "github.com/schoolerp/backend/internal/application/billing"
)

// ReportHandler handles finance reports
type ReportHandler struct {
	BaseHandler
	reports *billingapp.ReportService
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(reports *billingapp.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// FinanceSummary returns collected, pending, expense and net totals
//
//	GET /reports/finance-summary?from=2025-01-01&to=2025-03-31
func (h *ReportHandler) FinanceSummary(c *gin.Context) {
	var filter billingapp.DateRangeFilter
	if !h.bindQuery(c, &filter) {
		return
	}
	summary, err := h.reports.FinanceSummary(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

// PendingBalances lists invoices with the largest outstanding balances
//
//	GET /reports/pending-balances?limit=20
func (h *ReportHandler) PendingBalances(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	invoices, err := h.reports.PendingBalances(c.Request.Context(), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, invoices)
}
