package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/blockberries/promiseberry/types"
)

// Key prefixes for LevelDB storage.
var (
	prefixPromise   = []byte("P:") // P:<id> -> promise record
	prefixCallbacks = []byte("C:") // C:<id> -> callback list
	prefixHandles   = []byte("H:") // H:<owner> -> handle list
	prefixTombstone = []byte("T:") // T:<id> -> tombstone reason
	keyMetaNonce    = []byte("M:nonce")
)

// LevelDBStore implements Store using LevelDB.
type LevelDBStore struct {
	db    *leveldb.DB
	path  string
	nonce uint64
	mu    sync.Mutex
}

// callbackList wraps a callback slice for serialization.
type callbackList struct {
	Callbacks []types.Callback
}

// handleList wraps a handle slice for serialization.
type handleList struct {
	Handles []types.Handle
}

// NewLevelDBStore creates a new LevelDB-backed store at path.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		NoSync: false, // Ensure durability
	})
	if err != nil {
		return nil, fmt.Errorf("opening leveldb: %w", err)
	}

	s := &LevelDBStore{
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
func (s *LevelDBStore) loadMetadata() error {
	data, err := s.db.Get(keyMetaNonce, nil)
	if err == nil {
		s.nonce = decodeUint64(data)
	} else if err != leveldb.ErrNotFound {
		return err
	}
	return nil
}

// PutPromise writes a promise record.
func (s *LevelDBStore) PutPromise(p *types.Promise) error {
	data, err := cramberry.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling promise: %w", err)
	}
	if err := s.db.Put(makeKey(prefixPromise, p.ID), data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("writing promise: %w", err)
	}
	return nil
}

// GetPromise loads a promise record.
func (s *LevelDBStore) GetPromise(id types.PromiseID) (*types.Promise, error) {
	data, err := s.db.Get(makeKey(prefixPromise, id), nil)
	if err == leveldb.ErrNotFound {
		return nil, types.WrapPromiseError(types.ErrUnknownPromise, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting promise: %w", err)
	}

	var p types.Promise
	if err := cramberry.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling promise: %w", err)
	}
	return &p, nil
}

// HasPromise reports whether a record exists.
func (s *LevelDBStore) HasPromise(id types.PromiseID) (bool, error) {
	exists, err := s.db.Has(makeKey(prefixPromise, id), nil)
	if err != nil {
		return false, fmt.Errorf("checking promise existence: %w", err)
	}
	return exists, nil
}

// DeletePromise removes a promise record.
func (s *LevelDBStore) DeletePromise(id types.PromiseID) error {
	if err := s.db.Delete(makeKey(prefixPromise, id), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("deleting promise: %w", err)
	}
	return nil
}

// SetCallbacks replaces the callback list for a promise.
func (s *LevelDBStore) SetCallbacks(id types.PromiseID, cbs []types.Callback) error {
	data, err := cramberry.Marshal(&callbackList{Callbacks: cbs})
	if err != nil {
		return fmt.Errorf("marshaling callbacks: %w", err)
	}
	if err := s.db.Put(makeKey(prefixCallbacks, id), data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("writing callbacks: %w", err)
	}
	return nil
}

// Callbacks returns the callback list in registration order.
func (s *LevelDBStore) Callbacks(id types.PromiseID) ([]types.Callback, error) {
	data, err := s.db.Get(makeKey(prefixCallbacks, id), nil)
	if err == leveldb.ErrNotFound {
		return []types.Callback{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting callbacks: %w", err)
	}

	var list callbackList
	if err := cramberry.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unmarshaling callbacks: %w", err)
	}
	return list.Callbacks, nil
}

// ClearCallbacks removes the callback list for a promise.
func (s *LevelDBStore) ClearCallbacks(id types.PromiseID) error {
	if err := s.db.Delete(makeKey(prefixCallbacks, id), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("clearing callbacks: %w", err)
	}
	return nil
}

// SetHandles replaces the handle list for an owner promise.
func (s *LevelDBStore) SetHandles(owner types.PromiseID, hs []types.Handle) error {
	data, err := cramberry.Marshal(&handleList{Handles: hs})
	if err != nil {
		return fmt.Errorf("marshaling handles: %w", err)
	}
	if err := s.db.Put(makeKey(prefixHandles, owner), data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("writing handles: %w", err)
	}
	return nil
}

// Handles returns the handle list for an owner promise.
func (s *LevelDBStore) Handles(owner types.PromiseID) ([]types.Handle, error) {
	data, err := s.db.Get(makeKey(prefixHandles, owner), nil)
	if err == leveldb.ErrNotFound {
		return []types.Handle{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting handles: %w", err)
	}

	var list handleList
	if err := cramberry.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unmarshaling handles: %w", err)
	}
	return list.Handles, nil
}

// ClearHandles removes the handle list for an owner promise.
func (s *LevelDBStore) ClearHandles(owner types.PromiseID) error {
	if err := s.db.Delete(makeKey(prefixHandles, owner), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("clearing handles: %w", err)
	}
	return nil
}

// PutTombstone records a tombstone for a promise.
func (s *LevelDBStore) PutTombstone(id types.PromiseID, reason string) error {
	if err := s.db.Put(makeKey(prefixTombstone, id), []byte(reason), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("writing tombstone: %w", err)
	}
	return nil
}

// Tombstone returns the tombstone reason for a promise, if any.
func (s *LevelDBStore) Tombstone(id types.PromiseID) (string, bool, error) {
	data, err := s.db.Get(makeKey(prefixTombstone, id), nil)
	if err == leveldb.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting tombstone: %w", err)
	}
	return string(data), true, nil
}

// NextNonce returns the next monotonic nonce value and persists it.
func (s *LevelDBStore) NextNonce() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.nonce + 1
	if err := s.db.Put(keyMetaNonce, encodeUint64(next), &opt.WriteOptions{Sync: true}); err != nil {
		return 0, fmt.Errorf("persisting nonce: %w", err)
	}
	s.nonce = next
	return next, nil
}

// Close closes the database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// Ensure LevelDBStore implements Store.
var _ Store = (*LevelDBStore)(nil)

// Key encoding helpers

func makeKey(prefix []byte, id types.PromiseID) []byte {
	key := make([]byte, len(prefix)+types.IDSize)
	copy(key, prefix)
	copy(key[len(prefix):], id[:])
	return key
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(data []byte) uint64 {
	if len(data) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}
