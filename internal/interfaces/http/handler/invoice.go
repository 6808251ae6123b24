package handler

import (
	"github.com/gin-gonic/gin"
	billingapp "github.com/schoolerp/backend/internal/application/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
)

// InvoiceHandler handles invoice endpoints
type InvoiceHandler struct {
	BaseHandler
	engine *billingapp.InvoiceEngine
}

// NewInvoiceHandler creates a new InvoiceHandler
func NewInvoiceHandler(engine *billingapp.InvoiceEngine) *InvoiceHandler {
	return &InvoiceHandler{engine: engine}
}

// Create issues an invoice from explicit fee lines
//
//	POST /invoices
func (h *InvoiceHandler) Create(c *gin.Context) {
	var req billingapp.CreateInvoiceRequest
	if !h.bindJSON(c, &req) {
		return
	}
	inv, err := h.engine.CreateInvoice(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, inv)
}

// CreateFromFeeStructure issues an invoice priced from the fee structure of
// a class level and term
//
//	POST /invoices/from-fee-structure
func (h *InvoiceHandler) CreateFromFeeStructure(c *gin.Context) {
	var req billingapp.CreateInvoiceFromFeeStructureRequest
	if !h.bindJSON(c, &req) {
		return
	}
	inv, err := h.engine.CreateInvoiceFromFeeStructure(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, inv)
}

// List returns a page of invoices
//
//	GET /invoices?status=&student_id=&search=&page=&page_size=
func (h *InvoiceHandler) List(c *gin.Context) {
	var filter billingapp.InvoiceListFilter
	if !h.bindQuery(c, &filter) {
		return
	}
	invoices, total, err := h.engine.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	page := shared.Filter{Page: filter.Page, PageSize: filter.PageSize}
	page.Normalize()
	h.SuccessWithMeta(c, invoices, total, page.Page, page.PageSize)
}

// Get returns one invoice with its items
//
//	GET /invoices/:id
func (h *InvoiceHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	inv, err := h.engine.GetInvoice(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// Recompute re-derives paid amount, balance and status from the ledger
//
//	POST /invoices/:id/recompute
func (h *InvoiceHandler) Recompute(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	inv, err := h.engine.Recompute(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// Cancel cancels an invoice that has no completed payments. The body is
// optional.
//
//	POST /invoices/:id/cancel
func (h *InvoiceHandler) Cancel(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req billingapp.CancelInvoiceRequest
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return
	}
	inv, err := h.engine.Cancel(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}
