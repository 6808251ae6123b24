package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingHandler struct {
	types []string
	mu    sync.Mutex
	seen  []shared.DomainEvent
	err   error
	panic bool
}

func (h *recordingHandler) EventTypes() []string { return h.types }

func (h *recordingHandler) Handle(_ context.Context, e shared.DomainEvent) error {
	if h.panic {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, e)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func newEvent(eventType string) shared.DomainEvent {
	base := shared.NewBaseDomainEvent(eventType, "Payment", uuid.New())
	return &base
}

func TestInMemoryEventBus_SynchronousDelivery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	bus := NewInMemoryEventBus(BusConfig{Logger: zap.New(core)})
	ctx := context.Background()

	completed := &recordingHandler{types: []string{billing.EventTypePaymentCompleted}}
	everything := &recordingHandler{}
	failing := &recordingHandler{types: []string{billing.EventTypePaymentCompleted}, err: errors.New("smtp down")}
	panicking := &recordingHandler{types: []string{billing.EventTypePaymentCompleted}, panic: true}

	bus.Subscribe(completed)
	bus.Subscribe(everything)
	bus.Subscribe(failing)
	bus.Subscribe(panicking)

	require.NoError(t, bus.Publish(ctx,
		newEvent(billing.EventTypePaymentCompleted),
		newEvent(billing.EventTypeInvoicePaid)))

	assert.Equal(t, 1, completed.count())
	assert.Equal(t, 2, everything.count())
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, logs.FilterMessage("Event handler failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("Event handler panicked").Len())

	bus.Unsubscribe(completed)
	require.NoError(t, bus.Publish(ctx, newEvent(billing.EventTypePaymentCompleted)))
	assert.Equal(t, 1, completed.count())
	assert.Equal(t, 3, everything.count())
}

func TestInMemoryEventBus_Workers(t *testing.T) {
	bus := NewInMemoryEventBus(BusConfig{Workers: 3, QueueSize: 4})
	h := &recordingHandler{types: []string{billing.EventTypePaymentCompleted}}
	bus.Subscribe(h)

	require.NoError(t, bus.Start(context.Background()))

	// the request context is cancelled as soon as the handler returns
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(ctx, newEvent(billing.EventTypePaymentCompleted)))
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, bus.Stop(stopCtx))
	assert.Equal(t, 20, h.count())

	// after Stop deliveries run inline again
	require.NoError(t, bus.Publish(context.Background(), newEvent(billing.EventTypePaymentCompleted)))
	assert.Equal(t, 21, h.count())
	require.NoError(t, bus.Stop(stopCtx))
}

func TestInMemoryEventBus_StartWithoutWorkersIsSynchronous(t *testing.T) {
	bus := NewInMemoryEventBus(BusConfig{})
	h := &recordingHandler{}
	bus.Subscribe(h)
	require.NoError(t, bus.Start(context.Background()))
	require.NoError(t, bus.Publish(context.Background(), newEvent("Anything")))
	assert.Equal(t, 1, h.count())
}
