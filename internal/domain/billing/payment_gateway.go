package billing

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Payment Gateway Errors
// ---------------------------------------------------------------------------

var (
	// Charge request errors
	ErrChargeInvalidEmail     = errors.New("charge: invalid payer email")
	ErrChargeInvalidAmount    = errors.New("charge: amount must be positive")
	ErrChargeInvalidReference = errors.New("charge: reference is required")

	// Gateway errors
	ErrGatewayNotConfigured    = errors.New("payment: gateway not configured")
	ErrGatewayUnavailable      = errors.New("payment: gateway temporarily unavailable")
	ErrGatewayRequestFailed    = errors.New("payment: gateway request failed")
	ErrGatewayInvalidResponse  = errors.New("payment: invalid gateway response")
	ErrGatewayInvalidSignature = errors.New("payment: invalid webhook signature")
	ErrGatewayMalformedPayload = errors.New("payment: malformed webhook payload")
)

// IsGatewayCommunicationError reports whether err came from talking to the
// gateway (timeout, non-2xx, undecodable body)
func IsGatewayCommunicationError(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) ||
		errors.Is(err, ErrGatewayRequestFailed) ||
		errors.Is(err, ErrGatewayInvalidResponse) ||
		errors.Is(err, ErrGatewayNotConfigured)
}

// ---------------------------------------------------------------------------
// Gateway charge status
// ---------------------------------------------------------------------------

// GatewayChargeStatus is the transaction status reported by the gateway
type GatewayChargeStatus string

const (
	GatewayChargeStatusSuccess    GatewayChargeStatus = "success"
	GatewayChargeStatusFailed     GatewayChargeStatus = "failed"
	GatewayChargeStatusAbandoned  GatewayChargeStatus = "abandoned"
	GatewayChargeStatusReversed   GatewayChargeStatus = "reversed"
	GatewayChargeStatusPending    GatewayChargeStatus = "pending"
	GatewayChargeStatusOngoing    GatewayChargeStatus = "ongoing"
	GatewayChargeStatusProcessing GatewayChargeStatus = "processing"
	GatewayChargeStatusQueued     GatewayChargeStatus = "queued"
)

// Outcome maps the gateway status to a terminal outcome. The second return is
// false while the charge is still in flight and the payment should stay
// pending.
func (s GatewayChargeStatus) Outcome() (GatewayOutcome, bool) {
	switch GatewayChargeStatus(strings.ToLower(string(s))) {
	case GatewayChargeStatusSuccess:
		return GatewayOutcomeSuccess, true
	case GatewayChargeStatusFailed, GatewayChargeStatusAbandoned, GatewayChargeStatusReversed:
		return GatewayOutcomeFailure, true
	default:
		return "", false
	}
}

// ---------------------------------------------------------------------------
// Request / response types
// ---------------------------------------------------------------------------

// ChargeRequest asks the gateway to open a checkout for one payment
type ChargeRequest struct {
	// Email of the payer, required by the gateway
	Email string
	// AmountMinor is the amount in minor currency units (kobo)
	AmountMinor int64
	// Currency code, e.g. NGN. Empty uses the gateway account default
	Currency string
	// Reference is our unique gateway reference for the charge
	Reference string
	// CallbackURL is where the payer's browser is sent after checkout
	CallbackURL string
	// Metadata is echoed back by the gateway on verify and webhook
	Metadata map[string]string
}

// Validate validates the charge request
func (r *ChargeRequest) Validate() error {
	if r.Email == "" || !strings.Contains(r.Email, "@") {
		return ErrChargeInvalidEmail
	}
	if r.AmountMinor <= 0 {
		return ErrChargeInvalidAmount
	}
	if r.Reference == "" {
		return ErrChargeInvalidReference
	}
	return nil
}

// ChargeSession is the gateway's answer to a successful initialization
type ChargeSession struct {
	Reference        string
	AccessCode       string
	AuthorizationURL string
}

// ChargeVerification is the gateway's view of a charge
type ChargeVerification struct {
	Reference         string
	Status            GatewayChargeStatus
	AmountMinor       int64
	Currency          string
	AuthorizationCode string
	GatewayResponse   string
	PaidAt            *time.Time
}

// WebhookEventChargeSuccess is the event name of a successful charge
const WebhookEventChargeSuccess = "charge.success"

// WebhookEvent is a verified, parsed asynchronous gateway notification
type WebhookEvent struct {
	Event             string
	Reference         string
	Status            GatewayChargeStatus
	AmountMinor       int64
	AuthorizationCode string
}

// IsChargeSuccess returns true for charge.success events
func (e *WebhookEvent) IsChargeSuccess() bool {
	return e.Event == WebhookEventChargeSuccess
}

// ---------------------------------------------------------------------------
// Port
// ---------------------------------------------------------------------------

// PaymentGateway is the outbound port to a card/transfer processor
type PaymentGateway interface {
	// Name identifies the gateway in logs and archives
	Name() string

	// InitializeCharge opens a checkout for the payer. Blocking, bounded by
	// the adapter's timeout
	InitializeCharge(ctx context.Context, req *ChargeRequest) (*ChargeSession, error)

	// VerifyCharge asks the gateway for the current state of a charge
	VerifyCharge(ctx context.Context, reference string) (*ChargeVerification, error)

	// VerifySignature checks a webhook signature over the raw body without
	// parsing it. Returns ErrGatewayInvalidSignature on mismatch
	VerifySignature(payload []byte, signature string) error

	// ParseWebhookEvent decodes a webhook body that already passed
	// VerifySignature. Returns ErrGatewayMalformedPayload on bad input
	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)
}

// ArchivedWebhook is a verified webhook body kept for audit
type ArchivedWebhook struct {
	Gateway    string
	Event      string
	Reference  string
	ReceivedAt time.Time
	Payload    []byte
}

// WebhookArchive stores verified webhook bodies. Archiving is best effort
// and never blocks ledger updates.
type WebhookArchive interface {
	Archive(ctx context.Context, webhook *ArchivedWebhook) error
}
