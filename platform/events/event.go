// Package events is the in-process publish/subscribe layer that lets the
// status manager, trackers, sequences and automation react to each other
// without importing one another.
package events

import (
	"context"
	"time"
)

// Event is anything published on the bus. EventName is the routing key.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent carries the timestamp shared by every domain event. Embed it.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseEvent stamps an event with t, normally the injected clock's now.
func NewBaseEvent(t time.Time) BaseEvent {
	return BaseEvent{Timestamp: t}
}

// Handler reacts to one published event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error { return f(ctx, event) }

// Publisher is the side of the bus a producing service needs.
type Publisher interface {
	// Publish fans out to subscribers without waiting.
	Publish(ctx context.Context, event Event)
	// PublishSync runs subscribers inline and reports their joined errors.
	PublishSync(ctx context.Context, event Event) error
}

// Bus routes events by name to every handler subscribed under that name.
type Bus interface {
	Publisher
	Subscribe(eventName string, handler Handler)
}
