package handler

import (
	"github.com/gin-gonic/gin"
	billingapp "github.com/schoolerp/backend/internal/application/billing"
)

// PaymentHandler handles payment endpoints, both staff-recorded and
// gateway-backed
type PaymentHandler struct {
	BaseHandler
	recorder       *billingapp.PaymentRecorder
	reconciliation *billingapp.ReconciliationService
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(recorder *billingapp.PaymentRecorder, reconciliation *billingapp.ReconciliationService) *PaymentHandler {
	return &PaymentHandler{recorder: recorder, reconciliation: reconciliation}
}

// ListForInvoice returns every payment made against an invoice
//
//	GET /invoices/:id/payments
func (h *PaymentHandler) ListForInvoice(c *gin.Context) {
	invoiceID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	payments, err := h.recorder.ListPayments(c.Request.Context(), invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, payments)
}

// Record records a manual payment against an invoice. received_by falls
// back to the X-Actor header.
//
//	POST /invoices/:id/payments
func (h *PaymentHandler) Record(c *gin.Context) {
	invoiceID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req billingapp.RecordPaymentRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.ReceivedBy == "" {
		req.ReceivedBy = actor(c)
	}
	payment, err := h.recorder.RecordManualPayment(c.Request.Context(), invoiceID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, payment)
}

// InitializeGateway creates a pending gateway payment for the outstanding
// balance and opens the gateway checkout for it
//
//	POST /invoices/:id/gateway-payments
func (h *PaymentHandler) InitializeGateway(c *gin.Context) {
	invoiceID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	payment, err := h.recorder.InitializeGatewayPayment(ctx, invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	checkout, err := h.reconciliation.Initialize(ctx, payment.ID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, checkout)
}

// Get returns one payment
//
//	GET /payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	payment, err := h.recorder.GetPayment(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, payment)
}

// MarkFailed abandons a pending gateway payment
//
//	POST /payments/:id/mark-failed
func (h *PaymentHandler) MarkFailed(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req billingapp.MarkPaymentFailedRequest
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.recorder.MarkPaymentFailed(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Verify asks the gateway for the status of a charge and applies it. This
// is the endpoint the checkout callback lands on.
//
//	GET /payments/gateway/verify?reference=
func (h *PaymentHandler) Verify(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		h.BadRequest(c, "reference is required")
		return
	}
	result, err := h.reconciliation.Verify(c.Request.Context(), reference)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}
