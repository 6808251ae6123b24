package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when BillingMetrics is built without a meter.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// BillingMetrics turns billing domain events into counters. It subscribes to
// the event bus and is also fed webhook outcomes by the HTTP layer.
type BillingMetrics struct {
	paymentsCompleted metric.Int64Counter
	amountCollected   metric.Float64Counter
	paymentsFailed    metric.Int64Counter
	invoicesCreated   metric.Int64Counter
	invoicesPaid      metric.Int64Counter
	invoicesCancelled metric.Int64Counter
	webhooks          metric.Int64Counter
}

// NewBillingMetrics registers the billing instruments on meter.
func NewBillingMetrics(meter metric.Meter) (*BillingMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	bm := &BillingMetrics{}
	var errs []error
	counter := func(dst *metric.Int64Counter, name, desc, unit string) {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			errs = append(errs, fmt.Errorf("counter %s: %w", name, err))
		}
		*dst = c
	}

	counter(&bm.paymentsCompleted, "school_payments_completed_total", "Payments that started counting toward an invoice", "{payments}")
	counter(&bm.paymentsFailed, "school_payments_failed_total", "Gateway payments that ended failed", "{payments}")
	counter(&bm.invoicesCreated, "school_invoices_created_total", "Invoices issued", "{invoices}")
	counter(&bm.invoicesPaid, "school_invoices_paid_total", "Invoices settled in full", "{invoices}")
	counter(&bm.invoicesCancelled, "school_invoices_cancelled_total", "Invoices cancelled", "{invoices}")
	counter(&bm.webhooks, "school_gateway_webhooks_total", "Gateway webhook deliveries by outcome", "{deliveries}")

	amount, err := meter.Float64Counter("school_payments_amount_total",
		metric.WithDescription("Sum of completed payment amounts in major currency units"),
		metric.WithUnit("{currency}"))
	if err != nil {
		errs = append(errs, fmt.Errorf("counter school_payments_amount_total: %w", err))
	}
	bm.amountCollected = amount

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return bm, nil
}

// EventTypes implements shared.EventHandler.
func (m *BillingMetrics) EventTypes() []string {
	return []string{
		billing.EventTypePaymentCompleted,
		billing.EventTypePaymentFailed,
		billing.EventTypeInvoiceCreated,
		billing.EventTypeInvoicePaid,
		billing.EventTypeInvoiceCancelled,
	}
}

// Handle implements shared.EventHandler.
func (m *BillingMetrics) Handle(ctx context.Context, evt shared.DomainEvent) error {
	switch e := evt.(type) {
	case *billing.PaymentCompletedEvent:
		attrs := metric.WithAttributes(
			attribute.String("method", string(e.Method)),
			attribute.String("source", string(e.Source)),
		)
		m.paymentsCompleted.Add(ctx, 1, attrs)
		m.amountCollected.Add(ctx, e.Amount.InexactFloat64(), attrs)
	case *billing.PaymentFailedEvent:
		m.paymentsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(e.Source))))
	case *billing.InvoiceCreatedEvent:
		m.invoicesCreated.Add(ctx, 1)
	case *billing.InvoicePaidEvent:
		m.invoicesPaid.Add(ctx, 1)
	case *billing.InvoiceCancelledEvent:
		m.invoicesCancelled.Add(ctx, 1)
	}
	return nil
}

// RecordWebhook counts one webhook delivery.
func (m *BillingMetrics) RecordWebhook(ctx context.Context, gateway, outcome string) {
	m.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gateway", gateway),
		attribute.String("outcome", outcome),
	))
}
