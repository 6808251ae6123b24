package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/schoolerp/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// BusConfig configures an InMemoryEventBus
type BusConfig struct {
	// Workers is the number of goroutines delivering events once the bus is
	// started. Zero means deliveries always run inline in Publish.
	Workers int
	// QueueSize bounds pending deliveries; a full queue falls back to
	// delivering inline
	QueueSize int
	Logger    *zap.Logger
}

type delivery struct {
	ctx     context.Context
	handler shared.EventHandler
	event   shared.DomainEvent
}

// InMemoryEventBus delivers domain events to subscribed handlers. Before Start
// (or with no workers) delivery is synchronous. Handler errors and panics are
// logged and never reach the publisher, since publishing happens after the
// ledger transaction has committed.
type InMemoryEventBus struct {
	registry *HandlerRegistry
	logger   *zap.Logger
	workers  int

	mu      sync.RWMutex
	queue   chan delivery
	running bool
	wg      sync.WaitGroup
}

// NewInMemoryEventBus creates a bus
func NewInMemoryEventBus(cfg BusConfig) *InMemoryEventBus {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	return &InMemoryEventBus{
		registry: NewHandlerRegistry(),
		logger:   logger,
		workers:  cfg.Workers,
		queue:    make(chan delivery, size),
	}
}

// Publish hands each event to every handler registered for its type
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, evt := range events {
		for _, h := range b.registry.HandlersFor(evt.EventType()) {
			d := delivery{ctx: context.WithoutCancel(ctx), handler: h, event: evt}
			if !b.running {
				b.deliver(d)
				continue
			}
			select {
			case b.queue <- d:
			default:
				b.logger.Warn("Event queue full, delivering inline",
					zap.String("event_type", evt.EventType()))
				b.deliver(d)
			}
		}
	}
	return nil
}

// Subscribe registers handler. Without explicit types the handler's own
// EventTypes are used.
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.registry.Register(handler, eventTypes...)
	b.logger.Debug("Event handler subscribed", zap.Strings("event_types", eventTypes))
}

// Unsubscribe removes handler
func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.registry.Unregister(handler)
}

// Start launches the delivery workers
func (b *InMemoryEventBus) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running || b.workers <= 0 {
		return nil
	}
	b.running = true
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.work()
	}
	b.logger.Info("Event bus started", zap.Int("workers", b.workers))
	return nil
}

// Stop waits for queued deliveries to finish or ctx to expire. Events
// published after Stop are delivered inline.
func (b *InMemoryEventBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.queue)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("Event bus stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus stop: %w", ctx.Err())
	}
}

func (b *InMemoryEventBus) work() {
	defer b.wg.Done()
	for d := range b.queue {
		b.deliver(d)
	}
}

func (b *InMemoryEventBus) deliver(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("event_type", d.event.EventType()),
				zap.String("event_id", d.event.EventID().String()),
				zap.Any("panic", r))
		}
	}()
	if err := d.handler.Handle(d.ctx, d.event); err != nil {
		b.logger.Error("Event handler failed",
			zap.String("event_type", d.event.EventType()),
			zap.String("event_id", d.event.EventID().String()),
			zap.Error(err))
	}
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
