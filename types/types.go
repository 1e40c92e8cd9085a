// Package types provides common types used throughout promiseberry.
package types

import (
	"encoding/hex"
	"fmt"
)

// Origin is the logical execution domain (chain) where a promise or
// message originates.
type Origin string

// Principal identifies a caller that may hold resolver rights or register
// continuations. The encoding is opaque to the engine; by convention it is
// a hex address or a module name.
type Principal string

// IDSize is the size of a promise identifier in bytes.
const IDSize = 32

// PromiseID is the globally unique identifier of a promise. It is
// content-derived so that both sides of a cross-chain call compute the
// same value before any message is relayed.
type PromiseID [IDSize]byte

// ZeroPromiseID is the all-zero identifier. It is never minted.
var ZeroPromiseID PromiseID

// IsZero returns true if the identifier is the all-zero value.
func (id PromiseID) IsZero() bool {
	return id == ZeroPromiseID
}

// Bytes returns the identifier as a byte slice.
func (id PromiseID) Bytes() []byte {
	b := make([]byte, IDSize)
	copy(b, id[:])
	return b
}

// String returns the hex encoding of the identifier.
func (id PromiseID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters of the identifier, for logging.
func (id PromiseID) Short() string {
	return hex.EncodeToString(id[:4])
}

// ParsePromiseID parses a hex-encoded promise identifier.
func ParsePromiseID(s string) (PromiseID, error) {
	var id PromiseID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parsing promise id: %w", err)
	}
	if len(b) != IDSize {
		return id, fmt.Errorf("parsing promise id: %w (got %d bytes)", ErrInvalidID, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// PromiseIDFromBytes converts a byte slice to a PromiseID.
func PromiseIDFromBytes(b []byte) (PromiseID, error) {
	var id PromiseID
	if len(b) != IDSize {
		return id, fmt.Errorf("promise id from bytes: %w (got %d bytes)", ErrInvalidID, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Status is the lifecycle state of a promise. Transitions are monotonic:
// Pending moves to Resolved or Rejected exactly once and never regresses.
type Status int

// Promise status constants.
const (
	// StatusPending indicates the promise has not yet settled.
	StatusPending Status = iota

	// StatusResolved indicates the promise settled successfully.
	StatusResolved

	// StatusRejected indicates the promise settled with a failure reason.
	StatusRejected
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusResolved:
		return "resolved"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Settled returns true if the status is terminal.
func (s Status) Settled() bool {
	return s == StatusResolved || s == StatusRejected
}
