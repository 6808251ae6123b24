package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// maxReferenceAttempts bounds how many random references are drawn before
// giving up on a collision streak
const maxReferenceAttempts = 5

var errReferencesExhausted = shared.NewDomainError(shared.CodeAlreadyExists,
	"Could not allocate a unique reference, please retry")

// allocateReference draws references from next until exists reports a free
// one
func allocateReference(ctx context.Context, next func() string, exists func(context.Context, string) (bool, error)) (string, error) {
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		ref := next()
		taken, err := exists(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("failed to check reference %s: %w", ref, err)
		}
		if !taken {
			return ref, nil
		}
	}
	return "", errReferencesExhausted
}

// recomputeInvoice re-derives amount paid from completed payments and writes
// the invoice only when something changed. Must run inside WithinInvoice.
func recomputeInvoice(ctx context.Context, tx billing.LedgerStore, invoiceID uuid.UUID) (*billing.Invoice, error) {
	inv, err := tx.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	sum, err := tx.SumCompletedPayments(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum payments: %w", err)
	}
	if inv.ApplyRecompute(sum) {
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// publishEvents drains and publishes events once the ledger transaction has
// committed. Publish failures are logged; the ledger is already consistent.
func publishEvents(ctx context.Context, publisher shared.EventPublisher, logger *zap.Logger, sources ...shared.AggregateRoot) {
	var events []shared.DomainEvent
	for _, src := range sources {
		if src == nil {
			continue
		}
		events = append(events, src.GetDomainEvents()...)
		src.ClearDomainEvents()
	}
	if publisher == nil || len(events) == 0 {
		return
	}
	if err := publisher.Publish(ctx, events...); err != nil {
		logger.Error("Failed to publish billing events",
			zap.Int("event_count", len(events)),
			zap.Error(err))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
