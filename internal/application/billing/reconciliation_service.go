package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/schoolerp/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// GatewaySettings are the checkout parameters sent with every charge
type GatewaySettings struct {
	CallbackURL         string
	Currency            string
	FallbackEmailDomain string
	// WebhookDedupTTL is how long a processed webhook key is remembered
	WebhookDedupTTL time.Duration
}

// ReconciliationService brings pending gateway payments to a terminal state
// from three directions: checkout initialization, browser-return
// verification and signed webhooks
type ReconciliationService struct {
	gateway     billing.PaymentGateway
	store       billing.LedgerStore
	recorder    *PaymentRecorder
	students    billing.StudentDirectory
	idempotency shared.IdempotencyStore
	archive     billing.WebhookArchive
	settings    GatewaySettings
	logger      *zap.Logger
}

// ReconciliationServiceConfig holds dependencies for the reconciliation
// service. Idempotency and Archive are optional.
type ReconciliationServiceConfig struct {
	Gateway     billing.PaymentGateway
	Store       billing.LedgerStore
	Recorder    *PaymentRecorder
	Students    billing.StudentDirectory
	Idempotency shared.IdempotencyStore
	Archive     billing.WebhookArchive
	Settings    GatewaySettings
	Logger      *zap.Logger
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(cfg ReconciliationServiceConfig) *ReconciliationService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := cfg.Settings
	if settings.FallbackEmailDomain == "" {
		settings.FallbackEmailDomain = "school.edu"
	}
	if settings.WebhookDedupTTL <= 0 {
		settings.WebhookDedupTTL = shared.DefaultIdempotencyConfig().TTL
	}
	return &ReconciliationService{
		gateway:     cfg.Gateway,
		store:       cfg.Store,
		recorder:    cfg.Recorder,
		students:    cfg.Students,
		idempotency: cfg.Idempotency,
		archive:     cfg.Archive,
		settings:    settings,
		logger:      logger,
	}
}

func gatewayError(err error) error {
	return fmt.Errorf("%w: %w", shared.ErrGatewayFailure, err)
}

// Initialize opens a gateway checkout for a pending gateway payment. If the
// gateway refuses or cannot be reached the payment is marked failed and the
// error surfaced; there is no automatic retry.
func (s *ReconciliationService) Initialize(ctx context.Context, paymentID uuid.UUID) (*CheckoutResponse, error) {
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsGateway() {
		return nil, shared.NewDomainError(shared.CodeInvalidState, "Only gateway payments can be initialized")
	}
	if payment.IsTerminal() {
		return nil, shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("Payment is already %s", payment.Status))
	}
	if payment.AccessCode != "" {
		return nil, shared.NewDomainError(shared.CodeInvalidState, "Payment checkout was already initialized")
	}

	invoice, err := s.store.GetInvoice(ctx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	student, err := s.students.GetStudent(ctx, invoice.StudentID)
	if err != nil {
		s.logger.Error("Payer lookup failed, abandoning checkout",
			zap.String("payment_id", payment.ID.String()),
			zap.String("student_id", invoice.StudentID.String()),
			zap.Error(err))
		s.abandonCheckout(ctx, payment.ID, "payer lookup failed: "+err.Error())
		return nil, fmt.Errorf("failed to load student %s: %w", invoice.StudentID, err)
	}

	req := &billing.ChargeRequest{
		Email:       student.PayerEmail(s.settings.FallbackEmailDomain),
		AmountMinor: billing.ToMinorUnits(payment.Amount),
		Currency:    s.settings.Currency,
		Reference:   payment.GatewayReference,
		CallbackURL: s.settings.CallbackURL,
		Metadata: map[string]string{
			"invoice_id": invoice.ID.String(),
			"student_id": student.ID.String(),
			"payment_id": payment.ID.String(),
		},
	}

	// the gateway call runs outside the invoice lock
	session, err := s.gateway.InitializeCharge(ctx, req)
	if err != nil {
		s.logger.Error("Gateway charge initialization failed",
			zap.String("payment_id", payment.ID.String()),
			zap.String("gateway_reference", payment.GatewayReference),
			zap.String("gateway", s.gateway.Name()),
			zap.Error(err))

		s.abandonCheckout(ctx, payment.ID, err.Error())
		return nil, gatewayError(err)
	}

	err = s.store.WithinInvoice(ctx, payment.InvoiceID, func(ctx context.Context, tx billing.LedgerStore) error {
		p, err := tx.GetPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		// a webhook may already have settled the charge
		if p.IsTerminal() {
			return nil
		}
		if err := p.AttachAccessCode(session.AccessCode); err != nil {
			return err
		}
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Gateway checkout initialized",
		zap.String("payment_id", payment.ID.String()),
		zap.String("gateway_reference", payment.GatewayReference),
		zap.Int64("amount_minor", req.AmountMinor))

	return &CheckoutResponse{
		PaymentID:        payment.ID,
		Reference:        payment.GatewayReference,
		AccessCode:       session.AccessCode,
		AuthorizationURL: session.AuthorizationURL,
		Amount:           payment.Amount,
	}, nil
}

// abandonCheckout fails a payment whose checkout could not be opened so a
// new one can be started for the invoice
func (s *ReconciliationService) abandonCheckout(ctx context.Context, paymentID uuid.UUID, reason string) {
	if _, _, err := s.recorder.failPayment(ctx, paymentID, billing.ConfirmationSourceInitialize, reason); err != nil {
		s.logger.Error("Failed to mark payment failed after initialization error",
			zap.String("payment_id", paymentID.String()),
			zap.Error(err))
	}
}

// Verify asks the gateway for the state of a charge and applies a terminal
// outcome. A successful charge whose amount differs from the payment is
// treated as a failure. Payments already terminal are returned without
// calling the gateway.
func (s *ReconciliationService) Verify(ctx context.Context, reference string) (result *VerifyResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "billing.verify",
		attribute.String("gateway", s.gateway.Name()),
		attribute.String("payment.reference", reference))
	defer func() {
		if result != nil {
			span.SetAttributes(attribute.String("verify.outcome", string(result.Outcome)))
		}
		telemetry.EndSpan(span, err)
	}()
	return s.verify(ctx, reference)
}

func (s *ReconciliationService) verify(ctx context.Context, reference string) (*VerifyResult, error) {
	if reference == "" {
		return nil, shared.NewDomainError(shared.CodeValidation, "Payment reference is required")
	}
	payment, err := s.store.GetPaymentByGatewayReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if payment.IsTerminal() {
		return &VerifyResult{
			Reference:       reference,
			Outcome:         verifyOutcomeOf(payment),
			AlreadyTerminal: true,
			Payment:         ToPaymentResponse(payment),
		}, nil
	}

	verification, err := s.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		s.logger.Error("Gateway verification failed",
			zap.String("gateway_reference", reference),
			zap.Error(err))
		return nil, gatewayError(err)
	}

	outcome, final := verification.Status.Outcome()
	if !final {
		s.logger.Info("Gateway charge still in flight",
			zap.String("gateway_reference", reference),
			zap.String("gateway_status", string(verification.Status)))
		return &VerifyResult{
			Reference:     reference,
			Outcome:       VerifyOutcomePending,
			GatewayStatus: string(verification.Status),
			Payment:       ToPaymentResponse(payment),
		}, nil
	}

	var (
		settled         *billing.Payment
		alreadyTerminal bool
	)
	expected := billing.ToMinorUnits(payment.Amount)
	switch {
	case outcome == billing.GatewayOutcomeSuccess && verification.AmountMinor != expected:
		s.logger.Warn("Gateway amount does not match payment",
			zap.String("gateway_reference", reference),
			zap.Int64("expected_minor", expected),
			zap.Int64("gateway_minor", verification.AmountMinor))
		settled, alreadyTerminal, err = s.recorder.failPayment(ctx, payment.ID, billing.ConfirmationSourceVerify,
			amountMismatchReason(expected, verification.AmountMinor))
	case outcome == billing.GatewayOutcomeSuccess:
		settled, alreadyTerminal, err = s.recorder.transition(ctx, payment.ID, func(p *billing.Payment) error {
			return p.Complete(billing.ConfirmationSourceVerify, verification.AuthorizationCode)
		})
	default:
		reason := "gateway reported " + string(verification.Status)
		if verification.GatewayResponse != "" {
			reason += ": " + verification.GatewayResponse
		}
		settled, alreadyTerminal, err = s.recorder.failPayment(ctx, payment.ID, billing.ConfirmationSourceVerify, reason)
	}
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		Reference:       reference,
		Outcome:         verifyOutcomeOf(settled),
		GatewayStatus:   string(verification.Status),
		AlreadyTerminal: alreadyTerminal,
		Payment:         ToPaymentResponse(settled),
	}, nil
}

func verifyOutcomeOf(p *billing.Payment) VerifyOutcome {
	switch p.Status {
	case billing.PaymentStatusCompleted:
		return VerifyOutcomeCompleted
	case billing.PaymentStatusFailed:
		return VerifyOutcomeFailed
	default:
		return VerifyOutcomePending
	}
}

// HandleWebhook processes a gateway notification. The signature is checked
// over the raw body before anything is parsed; a mismatch returns
// SIGNATURE_MISMATCH and changes nothing. Unknown references and event types
// are acknowledged without effect. No outbound calls are made.
func (s *ReconciliationService) HandleWebhook(ctx context.Context, payload []byte, signature string) (ack *WebhookAck, err error) {
	ctx, span := telemetry.StartSpan(ctx, "billing.webhook",
		attribute.String("gateway", s.gateway.Name()))
	defer func() {
		if ack != nil {
			span.SetAttributes(
				attribute.String("webhook.event", ack.Event),
				attribute.String("webhook.outcome", string(ack.Outcome)))
		}
		telemetry.EndSpan(span, err)
	}()
	return s.handleWebhook(ctx, payload, signature)
}

func (s *ReconciliationService) handleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookAck, error) {
	if err := s.gateway.VerifySignature(payload, signature); err != nil {
		s.logger.Warn("Webhook signature rejected",
			zap.String("gateway", s.gateway.Name()),
			zap.Int("payload_bytes", len(payload)),
			zap.Error(err))
		return nil, shared.ErrSignatureMismatch
	}

	event, err := s.gateway.ParseWebhookEvent(payload)
	if err != nil {
		s.logger.Warn("Webhook payload could not be parsed", zap.Error(err))
		return &WebhookAck{Outcome: WebhookOutcomeParseError, Message: err.Error()}, nil
	}

	ack := &WebhookAck{Event: event.Event, Reference: event.Reference}
	if !event.IsChargeSuccess() {
		s.archiveWebhook(ctx, event, payload)
		s.logger.Debug("Unhandled webhook event",
			zap.String("event", event.Event),
			zap.String("gateway_reference", event.Reference))
		ack.Outcome = WebhookOutcomeIgnored
		ack.Message = "event type not handled"
		return ack, nil
	}

	dedupKey := fmt.Sprintf("%s:%s:%s", s.gateway.Name(), event.Event, event.Reference)
	if s.idempotency != nil {
		fresh, err := s.idempotency.MarkProcessed(ctx, dedupKey, s.settings.WebhookDedupTTL)
		if err != nil {
			// fall through: the ledger transition is idempotent on its own
			s.logger.Warn("Webhook idempotency check failed", zap.String("key", dedupKey), zap.Error(err))
		} else if !fresh {
			s.logger.Info("Duplicate webhook delivery", zap.String("key", dedupKey))
			ack.Outcome = WebhookOutcomeDuplicate
			return ack, nil
		}
	}
	s.archiveWebhook(ctx, event, payload)

	outcome, err := s.applyChargeSuccess(ctx, event)
	if err != nil {
		if s.idempotency != nil {
			if relErr := s.idempotency.Release(ctx, dedupKey); relErr != nil {
				s.logger.Error("Failed to release webhook idempotency key",
					zap.String("key", dedupKey), zap.Error(relErr))
			}
		}
		s.logger.Error("Failed to apply webhook",
			zap.String("gateway_reference", event.Reference),
			zap.Error(err))
		return nil, err
	}
	ack.Outcome = outcome
	return ack, nil
}

func (s *ReconciliationService) applyChargeSuccess(ctx context.Context, event *billing.WebhookEvent) (WebhookOutcome, error) {
	payment, err := s.store.GetPaymentByGatewayReference(ctx, event.Reference)
	if err != nil {
		if isNotFound(err) {
			s.logger.Warn("Webhook for unknown payment reference",
				zap.String("gateway_reference", event.Reference))
			return WebhookOutcomeIgnored, nil
		}
		return "", err
	}

	// same amount rule as verify
	if expected := billing.ToMinorUnits(payment.Amount); event.AmountMinor != expected {
		s.logger.Warn("Webhook amount does not match payment",
			zap.String("gateway_reference", event.Reference),
			zap.Int64("expected_minor", expected),
			zap.Int64("gateway_minor", event.AmountMinor))
		_, alreadyTerminal, err := s.recorder.failPayment(ctx, payment.ID, billing.ConfirmationSourceWebhook,
			amountMismatchReason(expected, event.AmountMinor))
		if err != nil {
			return "", err
		}
		if alreadyTerminal {
			return WebhookOutcomeDuplicate, nil
		}
		return WebhookOutcomeProcessed, nil
	}

	result, err := s.recorder.ConfirmGatewayPayment(ctx, payment.ID,
		billing.GatewayOutcomeSuccess, billing.ConfirmationSourceWebhook, event.AuthorizationCode)
	if err != nil {
		return "", err
	}
	if result.AlreadyTerminal {
		return WebhookOutcomeDuplicate, nil
	}
	return WebhookOutcomeProcessed, nil
}

func amountMismatchReason(expected, reported int64) string {
	return fmt.Sprintf("amount mismatch: expected %d, gateway reported %d", expected, reported)
}

func (s *ReconciliationService) archiveWebhook(ctx context.Context, event *billing.WebhookEvent, payload []byte) {
	if s.archive == nil {
		return
	}
	err := s.archive.Archive(ctx, &billing.ArchivedWebhook{
		Gateway:    s.gateway.Name(),
		Event:      event.Event,
		Reference:  event.Reference,
		ReceivedAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Failed to archive webhook",
			zap.String("gateway_reference", event.Reference),
			zap.Error(err))
	}
}
