package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingapp "github.com/schoolerp/backend/internal/application/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/schoolerp/backend/internal/infrastructure/logger"
	"github.com/schoolerp/backend/internal/infrastructure/payment"
	"go.uber.org/zap"
)

// WebhookRecorder counts webhook deliveries by outcome
type WebhookRecorder interface {
	RecordWebhook(ctx context.Context, gateway, outcome string)
}

const webhookOutcomeRejected = "rejected"

// WebhookHandler receives gateway webhooks. It is mounted without the
// X-Actor convention since the gateway is the caller.
type WebhookHandler struct {
	BaseHandler
	reconciliation *billingapp.ReconciliationService
	metrics        WebhookRecorder
}

// NewWebhookHandler creates a new WebhookHandler. metrics may be nil.
func NewWebhookHandler(reconciliation *billingapp.ReconciliationService, metrics WebhookRecorder) *WebhookHandler {
	return &WebhookHandler{reconciliation: reconciliation, metrics: metrics}
}

// Paystack handles Paystack event deliveries. The raw body is handed over
// untouched because the signature covers the exact bytes sent.
//
//	POST /webhooks/paystack
func (h *WebhookHandler) Paystack(c *gin.Context) {
	ctx := c.Request.Context()
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.BadRequest(c, "Unable to read request body")
		return
	}

	ack, err := h.reconciliation.HandleWebhook(ctx, payload, c.GetHeader(payment.PaystackSignatureHeader))
	if err != nil {
		if errors.Is(err, shared.ErrSignatureMismatch) {
			h.record(ctx, webhookOutcomeRejected)
		}
		h.HandleError(c, err)
		return
	}
	h.record(ctx, strings.ToLower(string(ack.Outcome)))

	if ack.Outcome == billingapp.WebhookOutcomeParseError {
		logger.GetGinLogger(c).Warn("Unparseable webhook body", zap.String("message", ack.Message))
		h.Error(c, http.StatusBadRequest, string(ack.Outcome), ack.Message)
		return
	}
	h.Success(c, ack)
}

func (h *WebhookHandler) record(ctx context.Context, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordWebhook(ctx, "paystack", outcome)
	}
}
