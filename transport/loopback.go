package transport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/blockberries/promiseberry/types"
)

// Network is an in-memory transport connecting multiple origins in one
// process. Delivery is synchronous, which makes duplicate and out-of-order
// delivery easy to exercise in tests by calling Send twice.
type Network struct {
	endpoints map[types.Origin]*Endpoint
	log       *EventLog
	mu        sync.RWMutex
}

// NewNetwork creates an empty loopback network with a shared event log.
func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[types.Origin]*Endpoint),
		log:       NewEventLog(),
	}
}

// EventLog returns the network's shared event log. It serves as the
// Recorder for every joined origin and as the Oracle for every receiver.
func (n *Network) EventLog() *EventLog {
	return n.log
}

// Join binds an endpoint for origin acting as principal. Joining the same
// origin twice replaces the previous endpoint.
func (n *Network) Join(origin types.Origin, principal types.Principal) *Endpoint {
	ep := &Endpoint{
		network:   n,
		origin:    origin,
		principal: principal,
		nonces:    make(map[types.Origin]uint64),
	}

	n.mu.Lock()
	n.endpoints[origin] = ep
	n.mu.Unlock()

	return ep
}

func (n *Network) deliver(from *Endpoint, dest types.Origin, payload []byte) error {
	n.mu.RLock()
	ep, ok := n.endpoints[dest]
	n.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDestination, dest)
	}

	ep.mu.Lock()
	h := ep.handler
	ep.mu.Unlock()

	if h == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, dest)
	}
	return h(from.principal, from.origin, payload)
}

// Endpoint is one origin's attachment to a loopback network.
type Endpoint struct {
	network   *Network
	origin    types.Origin
	principal types.Principal
	handler   Handler
	nonces    map[types.Origin]uint64
	mu        sync.Mutex
}

// Origin returns the origin this endpoint is bound to.
func (e *Endpoint) Origin() types.Origin {
	return e.origin
}

// Principal returns the principal this endpoint sends as.
func (e *Endpoint) Principal() types.Principal {
	return e.principal
}

// Send implements Transport. Delivery is synchronous; the returned error is
// the receiving handler's error.
func (e *Endpoint) Send(dest types.Origin, target types.Principal, payload []byte) (MessageID, error) {
	id := uuid.New()
	if err := e.network.deliver(e, dest, payload); err != nil {
		return id, err
	}
	return id, nil
}

// SetHandler implements Transport.
func (e *Endpoint) SetHandler(h Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// NextNonce implements Transport.
func (e *Endpoint) NextNonce(dest types.Origin) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nonces[dest]++
	return e.nonces[dest]
}

// Ensure Endpoint implements Transport.
var _ Transport = (*Endpoint)(nil)

// EventLog is an in-memory append-only record of settlement events keyed by
// origin and event identifier. It implements both Recorder and Oracle.
type EventLog struct {
	entries map[types.Origin]map[[types.IDSize]byte][types.IDSize]byte
	mu      sync.RWMutex
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{
		entries: make(map[types.Origin]map[[types.IDSize]byte][types.IDSize]byte),
	}
}

// Record implements Recorder.
func (l *EventLog) Record(origin types.Origin, eventID [types.IDSize]byte, payloadHash [types.IDSize]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	byOrigin, ok := l.entries[origin]
	if !ok {
		byOrigin = make(map[[types.IDSize]byte][types.IDSize]byte)
		l.entries[origin] = byOrigin
	}
	byOrigin[eventID] = payloadHash
	return nil
}

// Validate implements Oracle.
func (l *EventLog) Validate(origin types.Origin, eventID [types.IDSize]byte, payloadHash [types.IDSize]byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byOrigin, ok := l.entries[origin]
	if !ok {
		return fmt.Errorf("%w: origin %s", ErrEventNotRecorded, origin)
	}
	recorded, ok := byOrigin[eventID]
	if !ok {
		return ErrEventNotRecorded
	}
	if recorded != payloadHash {
		return ErrPayloadMismatch
	}
	return nil
}

// Ensure EventLog implements both sides.
var (
	_ Recorder = (*EventLog)(nil)
	_ Oracle   = (*EventLog)(nil)
)
