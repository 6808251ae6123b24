package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	billingapp "github.com/schoolerp/backend/internal/application/billing"
)

// CatalogHandler handles fee categories, fee structures and expenses
type CatalogHandler struct {
	BaseHandler
	service *billingapp.FeeCatalogService
}

// NewCatalogHandler creates a new CatalogHandler
func NewCatalogHandler(service *billingapp.FeeCatalogService) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// ListFeeCategories returns fee categories, optionally only active ones
//
//	GET /fee-categories?active_only=true
func (h *CatalogHandler) ListFeeCategories(c *gin.Context) {
	activeOnly, err := strconv.ParseBool(c.DefaultQuery("active_only", "false"))
	if err != nil {
		h.BadRequest(c, "active_only must be a boolean")
		return
	}
	categories, err := h.service.ListFeeCategories(c.Request.Context(), activeOnly)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, categories)
}

// CreateFeeCategory creates a fee category
//
//	POST /fee-categories
func (h *CatalogHandler) CreateFeeCategory(c *gin.Context) {
	var req billingapp.CreateFeeCategoryRequest
	if !h.bindJSON(c, &req) {
		return
	}
	category, err := h.service.CreateFeeCategory(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, category)
}

// ListFeeStructures returns fee structure rows
//
//	GET /fee-structures?class_level=&session_id=&term_id=
func (h *CatalogHandler) ListFeeStructures(c *gin.Context) {
	var filter billingapp.FeeStructureListFilter
	if !h.bindQuery(c, &filter) {
		return
	}
	structures, err := h.service.ListFeeStructures(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, structures)
}

// CreateFeeStructure prices a fee category for a class level and term
//
//	POST /fee-structures
func (h *CatalogHandler) CreateFeeStructure(c *gin.Context) {
	var req billingapp.CreateFeeStructureRequest
	if !h.bindJSON(c, &req) {
		return
	}
	structure, err := h.service.CreateFeeStructure(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, structure)
}

// ListExpenses returns expenses within an optional date range
//
//	GET /expenses?from=2025-01-01&to=2025-03-31
func (h *CatalogHandler) ListExpenses(c *gin.Context) {
	var filter billingapp.DateRangeFilter
	if !h.bindQuery(c, &filter) {
		return
	}
	expenses, err := h.service.ListExpenses(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, expenses)
}

// RecordExpense records an expense. recorded_by falls back to the X-Actor
// header.
//
//	POST /expenses
func (h *CatalogHandler) RecordExpense(c *gin.Context) {
	var req billingapp.RecordExpenseRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.RecordedBy == "" {
		req.RecordedBy = actor(c)
	}
	expense, err := h.service.RecordExpense(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, expense)
}
