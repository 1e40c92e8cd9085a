package store

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/blockberries/promiseberry/types"
)

// BadgerStore implements Store using BadgerDB. BadgerDB is optimized for
// SSDs and offers better write performance than LevelDB for certain
// workloads.
type BadgerStore struct {
	db    *badger.DB
	path  string
	nonce uint64
	mu    sync.Mutex
}

// BadgerOptions contains configuration options for BadgerDB.
type BadgerOptions struct {
	// SyncWrites ensures durability by syncing writes to disk.
	// Default: true
	SyncWrites bool

	// Compression enables Snappy compression for values.
	// Default: true
	Compression bool

	// MemTableSize is the size of the memtable.
	// Default: 64MB
	MemTableSize int64

	// Logger is an optional logger for BadgerDB.
	// If nil, logging is disabled.
	Logger badger.Logger
}

// DefaultBadgerOptions returns sensible default options.
func DefaultBadgerOptions() *BadgerOptions {
	return &BadgerOptions{
		SyncWrites:   true,
		Compression:  true,
		MemTableSize: 64 << 20, // 64MB
	}
}

// NewBadgerStore creates a new BadgerDB-backed store at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(path, DefaultBadgerOptions())
}

// NewBadgerStoreWithOptions creates a new BadgerDB-backed store with
// custom options.
func NewBadgerStoreWithOptions(path string, opts *BadgerOptions) (*BadgerStore, error) {
	if opts == nil {
		opts = DefaultBadgerOptions()
	}

	badgerOpts := badger.DefaultOptions(path)
	badgerOpts = badgerOpts.WithSyncWrites(opts.SyncWrites)
	badgerOpts = badgerOpts.WithMemTableSize(opts.MemTableSize)

	if opts.Compression {
		badgerOpts = badgerOpts.WithCompression(options.Snappy)
	} else {
		badgerOpts = badgerOpts.WithCompression(options.None)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badgerdb: %w", err)
	}

	s := &BadgerStore{
		db:   db,
		path: path,
	}

	if err := s.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading metadata: %w", err)
	}

	return s, nil
}

// loadMetadata loads the persisted nonce counter.
func (s *BadgerStore) loadMetadata() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyMetaNonce)
		if err == nil {
			return item.Value(func(val []byte) error {
				s.nonce = decodeUint64(val)
				return nil
			})
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
}

func (s *BadgerStore) put(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *BadgerStore) get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *BadgerStore) delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// PutPromise writes a promise record.
func (s *BadgerStore) PutPromise(p *types.Promise) error {
	data, err := cramberry.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling promise: %w", err)
	}
	if err := s.put(makeKey(prefixPromise, p.ID), data); err != nil {
		return fmt.Errorf("writing promise: %w", err)
	}
	return nil
}

// GetPromise loads a promise record.
func (s *BadgerStore) GetPromise(id types.PromiseID) (*types.Promise, error) {
	data, ok, err := s.get(makeKey(prefixPromise, id))
	if err != nil {
		return nil, fmt.Errorf("getting promise: %w", err)
	}
	if !ok {
		return nil, types.WrapPromiseError(types.ErrUnknownPromise, id)
	}

	var p types.Promise
	if err := cramberry.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling promise: %w", err)
	}
	return &p, nil
}

// HasPromise reports whether a record exists.
func (s *BadgerStore) HasPromise(id types.PromiseID) (bool, error) {
	_, ok, err := s.get(makeKey(prefixPromise, id))
	if err != nil {
		return false, fmt.Errorf("checking promise existence: %w", err)
	}
	return ok, nil
}

// DeletePromise removes a promise record.
func (s *BadgerStore) DeletePromise(id types.PromiseID) error {
	if err := s.delete(makeKey(prefixPromise, id)); err != nil {
		return fmt.Errorf("deleting promise: %w", err)
	}
	return nil
}

// SetCallbacks replaces the callback list for a promise.
func (s *BadgerStore) SetCallbacks(id types.PromiseID, cbs []types.Callback) error {
	data, err := cramberry.Marshal(&callbackList{Callbacks: cbs})
	if err != nil {
		return fmt.Errorf("marshaling callbacks: %w", err)
	}
	if err := s.put(makeKey(prefixCallbacks, id), data); err != nil {
		return fmt.Errorf("writing callbacks: %w", err)
	}
	return nil
}

// Callbacks returns the callback list in registration order.
func (s *BadgerStore) Callbacks(id types.PromiseID) ([]types.Callback, error) {
	data, ok, err := s.get(makeKey(prefixCallbacks, id))
	if err != nil {
		return nil, fmt.Errorf("getting callbacks: %w", err)
	}
	if !ok {
		return []types.Callback{}, nil
	}

	var list callbackList
	if err := cramberry.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unmarshaling callbacks: %w", err)
	}
	return list.Callbacks, nil
}

// ClearCallbacks removes the callback list for a promise.
func (s *BadgerStore) ClearCallbacks(id types.PromiseID) error {
	if err := s.delete(makeKey(prefixCallbacks, id)); err != nil {
		return fmt.Errorf("clearing callbacks: %w", err)
	}
	return nil
}

// SetHandles replaces the handle list for an owner promise.
func (s *BadgerStore) SetHandles(owner types.PromiseID, hs []types.Handle) error {
	data, err := cramberry.Marshal(&handleList{Handles: hs})
	if err != nil {
		return fmt.Errorf("marshaling handles: %w", err)
	}
	if err := s.put(makeKey(prefixHandles, owner), data); err != nil {
		return fmt.Errorf("writing handles: %w", err)
	}
	return nil
}

// Handles returns the handle list for an owner promise.
func (s *BadgerStore) Handles(owner types.PromiseID) ([]types.Handle, error) {
	data, ok, err := s.get(makeKey(prefixHandles, owner))
	if err != nil {
		return nil, fmt.Errorf("getting handles: %w", err)
	}
	if !ok {
		return []types.Handle{}, nil
	}

	var list handleList
	if err := cramberry.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unmarshaling handles: %w", err)
	}
	return list.Handles, nil
}

// ClearHandles removes the handle list for an owner promise.
func (s *BadgerStore) ClearHandles(owner types.PromiseID) error {
	if err := s.delete(makeKey(prefixHandles, owner)); err != nil {
		return fmt.Errorf("clearing handles: %w", err)
	}
	return nil
}

// PutTombstone records a tombstone for a promise.
func (s *BadgerStore) PutTombstone(id types.PromiseID, reason string) error {
	if err := s.put(makeKey(prefixTombstone, id), []byte(reason)); err != nil {
		return fmt.Errorf("writing tombstone: %w", err)
	}
	return nil
}

// Tombstone returns the tombstone reason for a promise, if any.
func (s *BadgerStore) Tombstone(id types.PromiseID) (string, bool, error) {
	data, ok, err := s.get(makeKey(prefixTombstone, id))
	if err != nil {
		return "", false, fmt.Errorf("getting tombstone: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return string(data), true, nil
}

// NextNonce returns the next monotonic nonce value and persists it.
func (s *BadgerStore) NextNonce() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.nonce + 1
	if err := s.put(keyMetaNonce, encodeUint64(next)); err != nil {
		return 0, fmt.Errorf("persisting nonce: %w", err)
	}
	s.nonce = next
	return next, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Ensure BadgerStore implements Store.
var _ Store = (*BadgerStore)(nil)
