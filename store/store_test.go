package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/promiseberry/config"
	"github.com/blockberries/promiseberry/types"
)

// testStores builds one store per backend that can run without external
// services. Durable backends use a per-test temporary directory.
func testStores(t *testing.T) map[string]Store {
	t.Helper()

	ldb, err := NewLevelDBStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })

	mem := NewMemoryStore()
	t.Cleanup(func() { mem.Close() })

	return map[string]Store{
		"memory":  mem,
		"leveldb": ldb,
	}
}

func testPromise(nonce uint64) *types.Promise {
	id := types.DerivePromiseID("chain-a", nonce, "0xtarget", "call", nil)
	return &types.Promise{
		ID:             id,
		Status:         types.StatusPending,
		Resolver:       "0xresolver",
		ResolverOrigin: "chain-a",
		Nonce:          nonce,
	}
}

func TestStore_PromiseRoundTrip(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			p := testPromise(1)

			_, err := s.GetPromise(p.ID)
			assert.ErrorIs(t, err, types.ErrUnknownPromise)

			require.NoError(t, s.PutPromise(p))

			got, err := s.GetPromise(p.ID)
			require.NoError(t, err)
			assert.Equal(t, p.ID, got.ID)
			assert.Equal(t, types.StatusPending, got.Status)
			assert.Equal(t, types.Principal("0xresolver"), got.Resolver)

			ok, err := s.HasPromise(p.ID)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStore_PromiseUpdate(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			p := testPromise(2)
			require.NoError(t, s.PutPromise(p))

			p.Status = types.StatusResolved
			p.Value = []byte("done")
			p.UnresolvedChildren = 3
			require.NoError(t, s.PutPromise(p))

			got, err := s.GetPromise(p.ID)
			require.NoError(t, err)
			assert.Equal(t, types.StatusResolved, got.Status)
			assert.Equal(t, []byte("done"), got.Value)
			assert.Equal(t, 3, got.UnresolvedChildren)
		})
	}
}

func TestStore_DeletePromise(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			p := testPromise(3)
			require.NoError(t, s.PutPromise(p))
			require.NoError(t, s.DeletePromise(p.ID))

			ok, err := s.HasPromise(p.ID)
			require.NoError(t, err)
			assert.False(t, ok)

			// Deleting again is not an error.
			require.NoError(t, s.DeletePromise(p.ID))
		})
	}
}

func TestStore_Callbacks(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			p := testPromise(4)

			cbs, err := s.Callbacks(p.ID)
			require.NoError(t, err)
			assert.Empty(t, cbs)

			list := []types.Callback{
				{SuccessKey: "first", ChainedID: types.DeriveChainedID(p.ID, 0), HasChained: true},
				{SuccessKey: "second", ErrorKey: "onError", Context: []byte("ctx")},
			}
			require.NoError(t, s.SetCallbacks(p.ID, list))

			cbs, err = s.Callbacks(p.ID)
			require.NoError(t, err)
			require.Len(t, cbs, 2)
			assert.Equal(t, "first", cbs[0].SuccessKey)
			assert.Equal(t, "second", cbs[1].SuccessKey)
			assert.Equal(t, []byte("ctx"), cbs[1].Context)

			require.NoError(t, s.ClearCallbacks(p.ID))
			cbs, err = s.Callbacks(p.ID)
			require.NoError(t, err)
			assert.Empty(t, cbs)
		})
	}
}

func TestStore_Handles(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			p := testPromise(5)

			hs := []types.Handle{
				{Owner: p.ID, DestinationOrigin: "chain-b", Action: "mint", Context: []byte("h")},
			}
			require.NoError(t, s.SetHandles(p.ID, hs))

			got, err := s.Handles(p.ID)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "mint", got[0].Action)
			assert.False(t, got[0].Completed)

			got[0].Completed = true
			got[0].ReturnData = []byte("minted")
			require.NoError(t, s.SetHandles(p.ID, got))

			got, err = s.Handles(p.ID)
			require.NoError(t, err)
			assert.True(t, got[0].Completed)
			assert.Equal(t, []byte("minted"), got[0].ReturnData)

			require.NoError(t, s.ClearHandles(p.ID))
			got, err = s.Handles(p.ID)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStore_Tombstones(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			p := testPromise(6)

			_, ok, err := s.Tombstone(p.ID)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.PutTombstone(p.ID, TombstoneDispatched))

			reason, ok, err := s.Tombstone(p.ID)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, TombstoneDispatched, reason)
		})
	}
}

func TestStore_NextNonce(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			a, err := s.NextNonce()
			require.NoError(t, err)
			b, err := s.NextNonce()
			require.NoError(t, err)
			assert.Greater(t, b, a)
		})
	}
}

func TestLevelDBStore_NoncePersists(t *testing.T) {
	dir := t.TempDir()

	s, err := NewLevelDBStore(dir)
	require.NoError(t, err)

	var last uint64
	for i := 0; i < 5; i++ {
		last, err = s.NextNonce()
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	reopened, err := NewLevelDBStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	next, err := reopened.NextNonce()
	require.NoError(t, err)
	assert.Equal(t, last+1, next)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	err := s.PutPromise(testPromise(7))
	assert.ErrorIs(t, err, types.ErrStoreClosed)

	_, err = s.NextNonce()
	assert.ErrorIs(t, err, types.ErrStoreClosed)
}

func TestFactory_Create(t *testing.T) {
	f := NewFactory()

	s, err := f.Create(&config.StoreConfig{Backend: "memory"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = f.Create(&config.StoreConfig{Backend: "leveldb", Path: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = f.Create(&config.StoreConfig{Backend: "bogus"})
	assert.Error(t, err)
}
