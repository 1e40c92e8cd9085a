package events

import (
	"time"

	"github.com/blockberries/promiseberry/config"
	"github.com/blockberries/promiseberry/types"
)

// Event types published by the engine.
const (
	// TypePromiseCreated is published when a promise is minted.
	TypePromiseCreated = "promise.created"

	// TypePromiseResolved is published when a promise settles resolved.
	TypePromiseResolved = "promise.resolved"

	// TypePromiseRejected is published when a promise settles rejected.
	TypePromiseRejected = "promise.rejected"

	// TypePromiseDispatched is published after a promise's callbacks ran.
	TypePromiseDispatched = "promise.dispatched"

	// TypeCallbackFailed is published when a continuation invocation fails.
	TypeCallbackFailed = "callback.failed"

	// TypeResolverTransferred is published when resolver rights move to
	// another origin.
	TypeResolverTransferred = "resolver.transferred"

	// TypeHandleRegistered is published when a destination-side handle is
	// accepted from the trusted peer.
	TypeHandleRegistered = "handle.registered"
)

// Event is a notification about promise lifecycle activity.
type Event struct {
	// Type is one of the Type* constants.
	Type string

	// Promise is the promise the event concerns.
	Promise types.PromiseID

	// Origin is the origin the event was emitted on.
	Origin types.Origin

	// Attributes carries event-specific key/value details.
	Attributes map[string]string

	// Time is when the event was published.
	Time time.Time
}

// NewEvent creates an event of the given type for a promise.
func NewEvent(eventType string, promise types.PromiseID, origin types.Origin) Event {
	return Event{
		Type:    eventType,
		Promise: promise,
		Origin:  origin,
		Time:    time.Now(),
	}
}

// WithAttribute adds a key/value attribute and returns the event.
func (e Event) WithAttribute(key, value string) Event {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// Query selects events a subscriber is interested in.
type Query interface {
	// Matches reports whether the event satisfies the query.
	Matches(e Event) bool

	// String returns a stable representation used for subscription keys.
	String() string
}

// QueryAll matches every event.
type QueryAll struct{}

// Matches implements Query.
func (QueryAll) Matches(Event) bool { return true }

// String implements Query.
func (QueryAll) String() string { return "all" }

// QueryType matches events of a single type.
type QueryType struct {
	EventType string
}

// Matches implements Query.
func (q QueryType) Matches(e Event) bool { return e.Type == q.EventType }

// String implements Query.
func (q QueryType) String() string { return "type=" + q.EventType }

// QueryPromise matches events about a single promise.
type QueryPromise struct {
	ID types.PromiseID
}

// Matches implements Query.
func (q QueryPromise) Matches(e Event) bool { return e.Promise == q.ID }

// String implements Query.
func (q QueryPromise) String() string { return "promise=" + q.ID.String() }

// BusConfig configures the in-memory bus.
type BusConfig struct {
	// BufferSize is the per-subscriber channel buffer size.
	BufferSize int

	// PublishTimeout bounds waiting on slow subscribers in
	// PublishWithTimeout.
	PublishTimeout time.Duration

	// MaxSubscribers caps the total number of subscriptions. Zero means
	// unlimited.
	MaxSubscribers int
}

// DefaultBusConfig returns the default bus configuration.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		BufferSize:     100,
		PublishTimeout: 100 * time.Millisecond,
	}
}

// BusConfigFromConfig builds a BusConfig from node configuration.
func BusConfigFromConfig(cfg *config.EventsConfig) BusConfig {
	return BusConfig{
		BufferSize:     cfg.BufferSize,
		PublishTimeout: cfg.PublishTimeout.Duration(),
	}
}
