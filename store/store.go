// Package store provides keyed persistence for promise state. All
// resumption state is durable: a blocked promise chain survives a restart
// and resumes when the next relayed event arrives.
package store

import (
	"github.com/blockberries/promiseberry/types"
)

// Store persists promise records, callback lists, handles and tombstones.
// It enforces no lifecycle rules; the engine owns all mutation invariants
// and serializes access.
type Store interface {
	// PutPromise writes a promise record, overwriting any existing record
	// with the same identifier.
	PutPromise(p *types.Promise) error

	// GetPromise loads a promise record. Returns types.ErrUnknownPromise
	// if no record exists.
	GetPromise(id types.PromiseID) (*types.Promise, error)

	// HasPromise reports whether a record exists for the identifier.
	HasPromise(id types.PromiseID) (bool, error)

	// DeletePromise removes a promise record. Deleting a missing record is
	// not an error.
	DeletePromise(id types.PromiseID) error

	// SetCallbacks replaces the registered callback list for a promise.
	SetCallbacks(id types.PromiseID, cbs []types.Callback) error

	// Callbacks returns the registered callback list in registration
	// order. A promise with no callbacks yields an empty list.
	Callbacks(id types.PromiseID) ([]types.Callback, error)

	// ClearCallbacks removes the callback list for a promise.
	ClearCallbacks(id types.PromiseID) error

	// SetHandles replaces the handle list for an owner promise.
	SetHandles(owner types.PromiseID, hs []types.Handle) error

	// Handles returns the handle list for an owner promise in
	// registration order.
	Handles(owner types.PromiseID) ([]types.Handle, error)

	// ClearHandles removes the handle list for an owner promise.
	ClearHandles(owner types.PromiseID) error

	// PutTombstone records that a promise was settled and dispatched (or
	// moved), for idempotent replay detection.
	PutTombstone(id types.PromiseID, reason string) error

	// Tombstone returns the tombstone reason for a promise and whether one
	// exists.
	Tombstone(id types.PromiseID) (string, bool, error)

	// NextNonce returns the next value of the persisted monotonic nonce
	// counter used in identifier derivation.
	NextNonce() (uint64, error)

	// Close releases underlying resources.
	Close() error
}

// Tombstone reasons.
const (
	// TombstoneDispatched marks a settled promise whose callbacks have
	// run. Repeat dispatch is a no-op.
	TombstoneDispatched = "dispatched"

	// TombstoneMoved marks a promise whose resolver rights were
	// transferred to another origin.
	TombstoneMoved = "moved"
)

// clonePromise copies a record so stored state never aliases caller
// mutations.
func clonePromise(p *types.Promise) *types.Promise {
	cp := *p
	cp.Value = cloneBytes(p.Value)
	cp.CallValue = cloneBytes(p.CallValue)
	cp.RejectionReason = cloneBytes(p.RejectionReason)
	cp.Children = append([]types.PromiseID(nil), p.Children...)
	if p.ChildValues != nil {
		cp.ChildValues = make([][]byte, len(p.ChildValues))
		for i, v := range p.ChildValues {
			cp.ChildValues[i] = cloneBytes(v)
		}
	}
	return &cp
}

func cloneCallbacks(cbs []types.Callback) []types.Callback {
	out := make([]types.Callback, len(cbs))
	for i, cb := range cbs {
		out[i] = cb
		out[i].Context = cloneBytes(cb.Context)
	}
	return out
}

func cloneHandles(hs []types.Handle) []types.Handle {
	out := make([]types.Handle, len(hs))
	for i, h := range hs {
		out[i] = h
		out[i].Context = cloneBytes(h.Context)
		out[i].ReturnData = cloneBytes(h.ReturnData)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
