package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/schoolerp/backend/internal/domain/billing"
)

const (
	paystackInitializePath = "/transaction/initialize"
	paystackVerifyPath     = "/transaction/verify/%s"

	// PaystackSignatureHeader carries the webhook HMAC
	PaystackSignatureHeader = "x-paystack-signature"

	// cap on response bodies read from the API
	paystackMaxResponseBytes = 1 << 20
)

// PaystackAdapter implements billing.PaymentGateway for Paystack
type PaystackAdapter struct {
	config     *PaystackConfig
	httpClient *http.Client
}

// NewPaystackAdapter creates a new Paystack adapter
func NewPaystackAdapter(config *PaystackConfig) (*PaystackAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &PaystackAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.timeout(),
		},
	}, nil
}

// Name returns the gateway name
func (a *PaystackAdapter) Name() string {
	return "paystack"
}

// InitializeCharge opens a checkout for the payer
func (a *PaystackAdapter) InitializeCharge(ctx context.Context, req *billing.ChargeRequest) (*billing.ChargeSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = a.config.Currency
	}
	body, err := json.Marshal(paystackInitializeRequest{
		Email:       req.Email,
		Amount:      req.AmountMinor,
		Currency:    currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("paystack: failed to marshal request: %w", err)
	}

	respBody, err := a.doRequest(ctx, http.MethodPost, paystackInitializePath, body)
	if err != nil {
		return nil, err
	}

	var resp paystackEnvelope[paystackInitializeData]
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrGatewayInvalidResponse, err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("%w: %s", billing.ErrGatewayRequestFailed, resp.Message)
	}
	if resp.Data.AccessCode == "" || resp.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: missing access code or authorization url", billing.ErrGatewayInvalidResponse)
	}

	reference := resp.Data.Reference
	if reference == "" {
		reference = req.Reference
	}
	return &billing.ChargeSession{
		Reference:        reference,
		AccessCode:       resp.Data.AccessCode,
		AuthorizationURL: resp.Data.AuthorizationURL,
	}, nil
}

// VerifyCharge asks Paystack for the state of a transaction. A response with
// status=false is reported as a failed charge, matching how Paystack answers
// for references it never completed.
func (a *PaystackAdapter) VerifyCharge(ctx context.Context, reference string) (*billing.ChargeVerification, error) {
	if reference == "" {
		return nil, billing.ErrChargeInvalidReference
	}

	respBody, err := a.doRequest(ctx, http.MethodGet, fmt.Sprintf(paystackVerifyPath, url.PathEscape(reference)), nil)
	if err != nil {
		return nil, err
	}

	var resp paystackEnvelope[paystackTransaction]
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrGatewayInvalidResponse, err)
	}

	if !resp.Status {
		return &billing.ChargeVerification{
			Reference:       reference,
			Status:          billing.GatewayChargeStatusFailed,
			GatewayResponse: resp.Message,
		}, nil
	}
	return toChargeVerification(reference, &resp.Data), nil
}

func toChargeVerification(reference string, tx *paystackTransaction) *billing.ChargeVerification {
	v := &billing.ChargeVerification{
		Reference:       reference,
		Status:          billing.GatewayChargeStatus(strings.ToLower(tx.Status)),
		AmountMinor:     tx.Amount,
		Currency:        tx.Currency,
		GatewayResponse: tx.GatewayResponse,
	}
	if tx.Reference != "" {
		v.Reference = tx.Reference
	}
	if tx.Authorization != nil {
		v.AuthorizationCode = tx.Authorization.AuthorizationCode
	}
	if tx.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, tx.PaidAt); err == nil {
			v.PaidAt = &t
		}
	}
	return v
}

// VerifySignature checks the HMAC-SHA512 of the raw body, keyed with the
// secret key, against the hex signature header. The comparison is constant
// time and nothing is parsed.
func (a *PaystackAdapter) VerifySignature(payload []byte, signature string) error {
	if signature == "" {
		return billing.ErrGatewayInvalidSignature
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return billing.ErrGatewayInvalidSignature
	}
	if !hmac.Equal(given, a.sign(payload)) {
		return billing.ErrGatewayInvalidSignature
	}
	return nil
}

// Sign returns the hex signature Paystack would send for payload. Used by
// tests and local tooling that replays webhooks.
func (a *PaystackAdapter) Sign(payload []byte) string {
	return hex.EncodeToString(a.sign(payload))
}

func (a *PaystackAdapter) sign(payload []byte) []byte {
	mac := hmac.New(sha512.New, []byte(a.config.SecretKey))
	mac.Write(payload)
	return mac.Sum(nil)
}

// ParseWebhookEvent decodes a verified webhook body
func (a *PaystackAdapter) ParseWebhookEvent(payload []byte) (*billing.WebhookEvent, error) {
	var hook paystackWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrGatewayMalformedPayload, err)
	}
	if hook.Event == "" {
		return nil, fmt.Errorf("%w: missing event", billing.ErrGatewayMalformedPayload)
	}
	if strings.HasPrefix(hook.Event, "charge.") && hook.Data.Reference == "" {
		return nil, fmt.Errorf("%w: missing data.reference", billing.ErrGatewayMalformedPayload)
	}

	event := &billing.WebhookEvent{
		Event:       hook.Event,
		Reference:   hook.Data.Reference,
		Status:      billing.GatewayChargeStatus(strings.ToLower(hook.Data.Status)),
		AmountMinor: hook.Data.Amount,
	}
	if hook.Data.Authorization != nil {
		event.AuthorizationCode = hook.Data.Authorization.AuthorizationCode
	}
	return event, nil
}

// doRequest makes an authenticated call and returns the body of a 2xx
// response
func (a *PaystackAdapter) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.baseURL()+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("paystack: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.config.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, paystackMaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", billing.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		var errResp paystackEnvelope[json.RawMessage]
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return nil, fmt.Errorf("%w: HTTP %d - %s", billing.ErrGatewayRequestFailed, resp.StatusCode, errResp.Message)
		}
		return nil, fmt.Errorf("%w: HTTP %d", billing.ErrGatewayRequestFailed, resp.StatusCode)
	}

	return respBody, nil
}

// Ensure PaystackAdapter implements billing.PaymentGateway
var _ billing.PaymentGateway = (*PaystackAdapter)(nil)
