package shared

import "context"

// EventHandler reacts to events raised by ledger changes, e.g. sending a
// receipt once a payment completes. Handlers run after the ledger
// transaction has committed, so an error here never rolls back money.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	// EventTypes lists the event types to deliver. Empty means all.
	EventTypes() []string
}

// EventPublisher hands committed domain events to subscribers
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventSubscriber manages handler registration. Subscribe with no explicit
// types falls back to the handler's EventTypes.
type EventSubscriber interface {
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
}

// EventBus is an EventPublisher and EventSubscriber with a lifecycle.
// Stop drains queued events before returning.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
