package store

import (
	"fmt"
	"sync"

	"github.com/blockberries/promiseberry/config"
)

// Backend identifies a store implementation.
type Backend string

// Built-in store backends.
const (
	// BackendMemory is the in-memory store, for tests and simulations.
	BackendMemory Backend = "memory"

	// BackendLevelDB is the LevelDB-backed durable store.
	BackendLevelDB Backend = "leveldb"

	// BackendBadgerDB is the BadgerDB-backed durable store.
	BackendBadgerDB Backend = "badgerdb"
)

// Constructor creates a store from configuration.
type Constructor func(cfg *config.StoreConfig) (Store, error)

// Factory creates store instances from configuration. It maintains a
// registry of constructors that can be extended with custom backends.
type Factory struct {
	registry map[Backend]Constructor
	mu       sync.RWMutex
}

// NewFactory creates a new store factory with built-in backends registered.
func NewFactory() *Factory {
	f := &Factory{
		registry: make(map[Backend]Constructor),
	}

	f.Register(BackendMemory, func(cfg *config.StoreConfig) (Store, error) {
		return NewMemoryStore(), nil
	})
	f.Register(BackendLevelDB, func(cfg *config.StoreConfig) (Store, error) {
		return NewLevelDBStore(cfg.Path)
	})
	f.Register(BackendBadgerDB, func(cfg *config.StoreConfig) (Store, error) {
		return NewBadgerStore(cfg.Path)
	})

	return f
}

// Register adds a store constructor to the factory. If a constructor with
// the same backend already exists, it is replaced. This allows custom
// implementations to override built-in ones.
func (f *Factory) Register(backend Backend, constructor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry[backend] = constructor
}

// Create builds a store for the configured backend.
func (f *Factory) Create(cfg *config.StoreConfig) (Store, error) {
	f.mu.RLock()
	constructor, ok := f.registry[Backend(cfg.Backend)]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	return constructor(cfg)
}

// Backends returns the registered backend names.
func (f *Factory) Backends() []Backend {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Backend, 0, len(f.registry))
	for b := range f.registry {
		out = append(out, b)
	}
	return out
}
