package payment

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

const (
	paystackDefaultBaseURL = "https://api.paystack.co"
	paystackDefaultTimeout = 30 * time.Second
)

// PaystackConfig contains configuration for the Paystack API
type PaystackConfig struct {
	// SecretKey authenticates API calls and signs webhooks (sk_live_... / sk_test_...)
	SecretKey string
	// BaseURL of the API. Defaults to https://api.paystack.co
	BaseURL string
	// Timeout bounds every outbound call. Defaults to 30s
	Timeout time.Duration
	// Currency is sent with each charge when set, e.g. NGN
	Currency string
}

// Errors for configuration validation
var (
	ErrPaystackMissingSecretKey = errors.New("paystack: missing secret key")
	ErrPaystackInvalidBaseURL   = errors.New("paystack: base URL must be an absolute http(s) URL")
	ErrPaystackInvalidTimeout   = errors.New("paystack: timeout must not be negative")
)

// Validate validates the configuration
func (c *PaystackConfig) Validate() error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return ErrPaystackMissingSecretKey
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrPaystackInvalidBaseURL
		}
	}
	if c.Timeout < 0 {
		return ErrPaystackInvalidTimeout
	}
	return nil
}

// IsTestMode reports whether the key belongs to a test integration
func (c *PaystackConfig) IsTestMode() bool {
	return strings.HasPrefix(c.SecretKey, "sk_test_")
}

func (c *PaystackConfig) baseURL() string {
	if c.BaseURL == "" {
		return paystackDefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *PaystackConfig) timeout() time.Duration {
	if c.Timeout == 0 {
		return paystackDefaultTimeout
	}
	return c.Timeout
}
