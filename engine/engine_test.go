package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/promiseberry/registry"
	"github.com/blockberries/promiseberry/store"
	"github.com/blockberries/promiseberry/types"
)

const (
	testResolver = types.Principal("0xresolver")
	testOther    = types.Principal("0xsomeoneelse")
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	e, err := New(Config{
		Origin:             "chain-a",
		Principal:          "engine-a",
		MaxNestingDepth:    10,
		TombstoneCacheSize: 64,
	}, store.NewMemoryStore(), registry.NewRegistry())
	require.NoError(t, err)
	return e
}

func TestNewValidation(t *testing.T) {
	st := store.NewMemoryStore()
	reg := registry.NewRegistry()

	_, err := New(Config{Principal: "p", MaxNestingDepth: 1, TombstoneCacheSize: 1}, st, reg)
	assert.Error(t, err)

	_, err = New(Config{Origin: "o", MaxNestingDepth: 1, TombstoneCacheSize: 1}, st, reg)
	assert.Error(t, err)

	_, err = New(Config{Origin: "o", Principal: "p", TombstoneCacheSize: 1}, st, reg)
	assert.Error(t, err)

	_, err = New(Config{Origin: "o", Principal: "p", MaxNestingDepth: 1}, st, reg)
	assert.Error(t, err)
}

func TestCreateAndStatus(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.Create(testResolver)
	require.NoError(t, err)
	assert.False(t, id.IsZero())

	status, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, status)

	_, err = e.Value(id)
	assert.ErrorIs(t, err, types.ErrStillPending)
}

func TestCreateDistinctIdentifiers(t *testing.T) {
	e := newTestEngine(t)

	a, err := e.Create(testResolver)
	require.NoError(t, err)
	b, err := e.Create(testResolver)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestResolve(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.Resolve(id, testResolver, []byte("result")))

	status, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, status)

	value, err := e.Value(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), value)
}

func TestReject(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.Reject(id, testResolver, []byte("boom")))

	status, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, status)

	value, err := e.Value(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("boom"), value)
}

func TestSettlementIsExactlyOnce(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.Create(testResolver)
	require.NoError(t, err)
	require.NoError(t, e.Resolve(id, testResolver, []byte("first")))

	assert.ErrorIs(t, e.Resolve(id, testResolver, []byte("second")), types.ErrAlreadySettled)
	assert.ErrorIs(t, e.Reject(id, testResolver, []byte("late")), types.ErrAlreadySettled)

	// The first value survives.
	value, err := e.Value(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), value)
}

func TestUnauthorizedSettlementLeavesStateUntouched(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.Create(testResolver)
	require.NoError(t, err)

	assert.ErrorIs(t, e.Resolve(id, testOther, []byte("stolen")), types.ErrNotAuthorized)
	assert.ErrorIs(t, e.Reject(id, testOther, []byte("stolen")), types.ErrNotAuthorized)

	status, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, status)
}

func TestUnknownPromise(t *testing.T) {
	e := newTestEngine(t)

	var bogus types.PromiseID
	bogus[0] = 0xff

	_, err := e.Status(bogus)
	assert.ErrorIs(t, err, types.ErrUnknownPromise)
	assert.ErrorIs(t, e.Resolve(bogus, testResolver, nil), types.ErrUnknownPromise)
}

func TestThenAllocatesDeterministicChainedID(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.Create(testResolver)
	require.NoError(t, err)

	chained, err := e.Then(id, "on-success", "", nil)
	require.NoError(t, err)
	assert.Equal(t, types.DeriveChainedID(id, 0), chained)

	chained2, err := e.Then(id, "on-success", "", nil)
	require.NoError(t, err)
	assert.Equal(t, types.DeriveChainedID(id, 1), chained2)

	// Chained promises exist and are pending before the parent settles.
	status, err := e.Status(chained)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, status)
}

func TestThenOnUnknownPromise(t *testing.T) {
	e := newTestEngine(t)

	var bogus types.PromiseID
	bogus[0] = 0x01
	_, err := e.Then(bogus, "k", "", nil)
	assert.ErrorIs(t, err, types.ErrUnknownPromise)
}

func TestAllResolvesInMemberOrder(t *testing.T) {
	e := newTestEngine(t)

	a, err := e.Create(testResolver)
	require.NoError(t, err)
	b, err := e.Create(testResolver)
	require.NoError(t, err)
	c, err := e.Create(testResolver)
	require.NoError(t, err)

	agg, err := e.All([]types.PromiseID{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, types.DeriveAggregateID([]types.PromiseID{a, b, c}), agg)

	// Settle out of member order.
	require.NoError(t, e.Resolve(c, testResolver, []byte("vc")))
	require.NoError(t, e.Resolve(a, testResolver, []byte("va")))

	status, err := e.Status(agg)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, status)

	require.NoError(t, e.Resolve(b, testResolver, []byte("vb")))

	value, err := e.Value(agg)
	require.NoError(t, err)
	values, err := types.DecodeValueList(value)
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, []byte("va"), values[0])
	assert.Equal(t, []byte("vb"), values[1])
	assert.Equal(t, []byte("vc"), values[2])
}

func TestAllFirstFailureWins(t *testing.T) {
	e := newTestEngine(t)

	a, err := e.Create(testResolver)
	require.NoError(t, err)
	b, err := e.Create(testResolver)
	require.NoError(t, err)

	agg, err := e.All([]types.PromiseID{a, b})
	require.NoError(t, err)

	require.NoError(t, e.Reject(a, testResolver, []byte("first failure")))

	// The aggregate rejects without waiting for the other member.
	status, err := e.Status(agg)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, status)

	value, err := e.Value(agg)
	require.NoError(t, err)
	assert.Equal(t, []byte("first failure"), value)

	// Later member settlement does not disturb the aggregate.
	require.NoError(t, e.Resolve(b, testResolver, []byte("late")))
	value, err = e.Value(agg)
	require.NoError(t, err)
	assert.Equal(t, []byte("first failure"), value)
}

func TestAllOverSettledMembers(t *testing.T) {
	e := newTestEngine(t)

	a, err := e.Create(testResolver)
	require.NoError(t, err)
	b, err := e.Create(testResolver)
	require.NoError(t, err)
	require.NoError(t, e.Resolve(a, testResolver, []byte("va")))
	require.NoError(t, e.Resolve(b, testResolver, []byte("vb")))

	agg, err := e.All([]types.PromiseID{a, b})
	require.NoError(t, err)

	value, err := e.Value(agg)
	require.NoError(t, err)
	values, err := types.DecodeValueList(value)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("va"), []byte("vb")}, values)
}

func TestAllIsIdempotent(t *testing.T) {
	e := newTestEngine(t)

	a, err := e.Create(testResolver)
	require.NoError(t, err)
	b, err := e.Create(testResolver)
	require.NoError(t, err)

	agg1, err := e.All([]types.PromiseID{a, b})
	require.NoError(t, err)
	agg2, err := e.All([]types.PromiseID{a, b})
	require.NoError(t, err)
	assert.Equal(t, agg1, agg2)
}

func TestCompleteCallTerminal(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.CompleteCall(id, testResolver, types.Terminal([]byte("done"))))

	value, err := e.Value(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), value)
}

func TestCompleteCallAuthorization(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.Create(testResolver)
	require.NoError(t, err)

	err = e.CompleteCall(id, testOther, types.Terminal(nil))
	assert.ErrorIs(t, err, types.ErrNotAuthorized)
}

func TestMaterializePromiseIsIdempotent(t *testing.T) {
	e := newTestEngine(t)

	var id types.PromiseID
	id[0] = 0x42

	require.NoError(t, e.MaterializePromise(id, testResolver, 7))

	p, err := e.Get(id)
	require.NoError(t, err)
	assert.Equal(t, testResolver, p.Resolver)
	assert.Equal(t, uint64(7), p.Nonce)

	// Duplicate delivery: no error, no change.
	require.NoError(t, e.MaterializePromise(id, testOther, 9))
	p, err = e.Get(id)
	require.NoError(t, err)
	assert.Equal(t, testResolver, p.Resolver)
}
