package billing

import (
	"strings"

	"github.com/google/uuid"
)

// Reference prefixes make the kind of a reference visible at a glance.
const (
	InvoiceNumberPrefix    = "INV"
	ReceiptNumberPrefix    = "RCP"
	GatewayReferencePrefix = "PAY"
)

const (
	invoiceSuffixLength = 8
	receiptSuffixLength = 8
	gatewaySuffixLength = 12
)

// ReferenceGenerator produces human-readable unique references. Uniqueness
// is probabilistic; callers must still check the ledger and retry on
// collision.
type ReferenceGenerator interface {
	InvoiceNumber() string
	ReceiptNumber() string
	GatewayReference() string
}

// RandomReferenceGenerator derives reference suffixes from random UUIDs.
type RandomReferenceGenerator struct{}

// NewRandomReferenceGenerator creates a RandomReferenceGenerator
func NewRandomReferenceGenerator() *RandomReferenceGenerator {
	return &RandomReferenceGenerator{}
}

// InvoiceNumber returns INV followed by 8 uppercase hex characters
func (RandomReferenceGenerator) InvoiceNumber() string {
	return InvoiceNumberPrefix + randomHex(invoiceSuffixLength)
}

// ReceiptNumber returns RCP followed by 8 uppercase hex characters
func (RandomReferenceGenerator) ReceiptNumber() string {
	return ReceiptNumberPrefix + randomHex(receiptSuffixLength)
}

// GatewayReference returns PAY followed by 12 uppercase hex characters
func (RandomReferenceGenerator) GatewayReference() string {
	return GatewayReferencePrefix + randomHex(gatewaySuffixLength)
}

func randomHex(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(hex[:n])
}

var _ ReferenceGenerator = (*RandomReferenceGenerator)(nil)
