// Package transport defines how engines on different origins exchange
// instructions and how relayed settlement events are validated. The engine
// consumes these interfaces; delivery, ordering and retry policy live in
// the implementation.
package transport

import (
	"errors"

	"github.com/google/uuid"

	"github.com/blockberries/promiseberry/types"
)

// Common transport errors.
var (
	ErrUnknownDestination = errors.New("no endpoint for destination origin")
	ErrNoHandler          = errors.New("no inbound handler registered")
	ErrEventNotRecorded   = errors.New("event not present in origin log")
	ErrPayloadMismatch    = errors.New("payload hash does not match recorded event")
)

// MessageID identifies an outbound message for tracing.
type MessageID = uuid.UUID

// Handler consumes an inbound message. The sender principal is
// authenticated by the transport layer before the handler runs; the claimed
// origin is the origin the sending endpoint is bound to.
type Handler func(sender types.Principal, from types.Origin, payload []byte) error

// Transport is one origin's sending side. Delivery is at-least-once:
// receivers must tolerate duplicates.
type Transport interface {
	// Send delivers a payload to the engine at dest addressed to target.
	Send(dest types.Origin, target types.Principal, payload []byte) (MessageID, error)

	// SetHandler registers the inbound handler for this endpoint.
	SetHandler(h Handler)

	// NextNonce returns the next per-destination monotonic nonce. Used in
	// identifier derivation so both sides compute the same promise id.
	NextNonce(dest types.Origin) uint64
}

// Oracle validates that a claimed settlement event was really emitted on
// its origin. A failed validation must leave the receiving engine's state
// untouched.
type Oracle interface {
	Validate(origin types.Origin, eventID [types.IDSize]byte, payloadHash [types.IDSize]byte) error
}

// Recorder appends settlement events to the origin log as they are
// emitted, so a paired Oracle on the receiving side can validate them.
type Recorder interface {
	Record(origin types.Origin, eventID [types.IDSize]byte, payloadHash [types.IDSize]byte) error
}

// RelayedEvent is a settlement event carried across origins. Payload is an
// encoded Settlement envelope; EventID binds it to the origin log entry.
type RelayedEvent struct {
	Origin  types.Origin
	EventID [types.IDSize]byte
	Payload []byte
}
