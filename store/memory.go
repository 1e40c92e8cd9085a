package store

import (
	"sync"

	"github.com/blockberries/promiseberry/types"
)

// MemoryStore implements Store with in-memory maps. Primarily used for
// testing and single-process simulations; nothing survives a restart.
type MemoryStore struct {
	promises   map[types.PromiseID]*types.Promise
	callbacks  map[types.PromiseID][]types.Callback
	handles    map[types.PromiseID][]types.Handle
	tombstones map[types.PromiseID]string
	nonce      uint64
	closed     bool
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		promises:   make(map[types.PromiseID]*types.Promise),
		callbacks:  make(map[types.PromiseID][]types.Callback),
		handles:    make(map[types.PromiseID][]types.Handle),
		tombstones: make(map[types.PromiseID]string),
	}
}

// PutPromise writes a promise record.
func (m *MemoryStore) PutPromise(p *types.Promise) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrStoreClosed
	}
	m.promises[p.ID] = clonePromise(p)
	return nil
}

// GetPromise loads a promise record.
func (m *MemoryStore) GetPromise(id types.PromiseID) (*types.Promise, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, types.ErrStoreClosed
	}
	p, ok := m.promises[id]
	if !ok {
		return nil, types.WrapPromiseError(types.ErrUnknownPromise, id)
	}
	return clonePromise(p), nil
}

// HasPromise reports whether a record exists.
func (m *MemoryStore) HasPromise(id types.PromiseID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, types.ErrStoreClosed
	}
	_, ok := m.promises[id]
	return ok, nil
}

// DeletePromise removes a promise record.
func (m *MemoryStore) DeletePromise(id types.PromiseID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrStoreClosed
	}
	delete(m.promises, id)
	return nil
}

// SetCallbacks replaces the callback list for a promise.
func (m *MemoryStore) SetCallbacks(id types.PromiseID, cbs []types.Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrStoreClosed
	}
	m.callbacks[id] = cloneCallbacks(cbs)
	return nil
}

// Callbacks returns the callback list in registration order.
func (m *MemoryStore) Callbacks(id types.PromiseID) ([]types.Callback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, types.ErrStoreClosed
	}
	return cloneCallbacks(m.callbacks[id]), nil
}

// ClearCallbacks removes the callback list for a promise.
func (m *MemoryStore) ClearCallbacks(id types.PromiseID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrStoreClosed
	}
	delete(m.callbacks, id)
	return nil
}

// SetHandles replaces the handle list for an owner promise.
func (m *MemoryStore) SetHandles(owner types.PromiseID, hs []types.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrStoreClosed
	}
	m.handles[owner] = cloneHandles(hs)
	return nil
}

// Handles returns the handle list for an owner promise.
func (m *MemoryStore) Handles(owner types.PromiseID) ([]types.Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, types.ErrStoreClosed
	}
	return cloneHandles(m.handles[owner]), nil
}

// ClearHandles removes the handle list for an owner promise.
func (m *MemoryStore) ClearHandles(owner types.PromiseID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrStoreClosed
	}
	delete(m.handles, owner)
	return nil
}

// PutTombstone records a tombstone for a promise.
func (m *MemoryStore) PutTombstone(id types.PromiseID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrStoreClosed
	}
	m.tombstones[id] = reason
	return nil
}

// Tombstone returns the tombstone reason for a promise, if any.
func (m *MemoryStore) Tombstone(id types.PromiseID) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, types.ErrStoreClosed
	}
	reason, ok := m.tombstones[id]
	return reason, ok, nil
}

// NextNonce returns the next monotonic nonce value.
func (m *MemoryStore) NextNonce() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, types.ErrStoreClosed
	}
	m.nonce++
	return m.nonce, nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
