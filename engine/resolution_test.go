package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/promiseberry/registry"
	"github.com/blockberries/promiseberry/store"
	"github.com/blockberries/promiseberry/types"
)

func TestNestedFlattening(t *testing.T) {
	e := newTestEngine(t)

	outer, err := e.Create(testResolver)
	require.NoError(t, err)
	inner, err := e.Create(testResolver)
	require.NoError(t, err)

	// The outer call returns a reference, not a value.
	require.NoError(t, e.CompleteCall(outer, testResolver, types.Nested(inner)))

	status, err := e.Status(outer)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, status)

	p, err := e.Get(outer)
	require.NoError(t, err)
	assert.True(t, p.HasNested)
	assert.Equal(t, inner, p.NestedTarget)

	// Settling the inner target supplies the outer value.
	require.NoError(t, e.Resolve(inner, testResolver, []byte("inner value")))

	value, err := e.Value(outer)
	require.NoError(t, err)
	assert.Equal(t, []byte("inner value"), value)
}

func TestNestedTargetAlreadySettled(t *testing.T) {
	e := newTestEngine(t)

	outer, err := e.Create(testResolver)
	require.NoError(t, err)
	inner, err := e.Create(testResolver)
	require.NoError(t, err)
	require.NoError(t, e.Resolve(inner, testResolver, []byte("early")))

	require.NoError(t, e.CompleteCall(outer, testResolver, types.Nested(inner)))

	// Flattened immediately.
	value, err := e.Value(outer)
	require.NoError(t, err)
	assert.Equal(t, []byte("early"), value)
}

func TestNestedChainFlattensTransitively(t *testing.T) {
	e := newTestEngine(t)

	p1, err := e.Create(testResolver)
	require.NoError(t, err)
	p2, err := e.Create(testResolver)
	require.NoError(t, err)
	p3, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.CompleteCall(p1, testResolver, types.Nested(p2)))
	require.NoError(t, e.CompleteCall(p2, testResolver, types.Nested(p3)))

	require.NoError(t, e.Resolve(p3, testResolver, []byte("final")))

	for _, id := range []types.PromiseID{p1, p2, p3} {
		value, err := e.Value(id)
		require.NoError(t, err)
		assert.Equal(t, []byte("final"), value)
	}
}

func TestNestedRejectionPropagates(t *testing.T) {
	e := newTestEngine(t)

	outer, err := e.Create(testResolver)
	require.NoError(t, err)
	inner, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.CompleteCall(outer, testResolver, types.Nested(inner)))
	require.NoError(t, e.Reject(inner, testResolver, []byte("inner failed")))

	status, err := e.Status(outer)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, status)

	value, err := e.Value(outer)
	require.NoError(t, err)
	assert.Equal(t, []byte("inner failed"), value)
}

func TestNestedDepthBound(t *testing.T) {
	e, err := New(Config{
		Origin:             "chain-a",
		Principal:          "engine-a",
		MaxNestingDepth:    2,
		TombstoneCacheSize: 64,
	}, store.NewMemoryStore(), registry.NewRegistry())
	require.NoError(t, err)

	ids := make([]types.PromiseID, 4)
	for i := range ids {
		ids[i], err = e.Create(testResolver)
		require.NoError(t, err)
	}

	require.NoError(t, e.CompleteCall(ids[0], testResolver, types.Nested(ids[1])))
	require.NoError(t, e.CompleteCall(ids[1], testResolver, types.Nested(ids[2])))

	// The third link exceeds the bound: the chain is force-rejected
	// instead of being left permanently blocked.
	require.NoError(t, e.CompleteCall(ids[2], testResolver, types.Nested(ids[3])))

	for _, id := range ids[:3] {
		status, serr := e.Status(id)
		require.NoError(t, serr)
		assert.Equal(t, types.StatusRejected, status)

		value, verr := e.Value(id)
		require.NoError(t, verr)
		assert.Equal(t, []byte(types.ErrMaxDepthExceeded.Error()), value)
	}

	// The innermost target itself stays pending.
	status, err := e.Status(ids[3])
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, status)
}

func TestNestedDepthBoundInnermostFirst(t *testing.T) {
	e, err := New(Config{
		Origin:             "chain-a",
		Principal:          "engine-a",
		MaxNestingDepth:    2,
		TombstoneCacheSize: 64,
	}, store.NewMemoryStore(), registry.NewRegistry())
	require.NoError(t, err)

	ids := make([]types.PromiseID, 4)
	for i := range ids {
		ids[i], err = e.Create(testResolver)
		require.NoError(t, err)
	}

	// Linking innermost-first keeps every individual link shallow; the
	// bound applies to the whole chain, not the link.
	require.NoError(t, e.CompleteCall(ids[2], testResolver, types.Nested(ids[3])))
	require.NoError(t, e.CompleteCall(ids[1], testResolver, types.Nested(ids[2])))
	require.NoError(t, e.CompleteCall(ids[0], testResolver, types.Nested(ids[1])))

	status, err := e.Status(ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, status)

	value, err := e.Value(ids[0])
	require.NoError(t, err)
	assert.Equal(t, []byte(types.ErrMaxDepthExceeded.Error()), value)

	// The accepted part of the chain still flattens normally.
	require.NoError(t, e.Resolve(ids[3], testResolver, []byte("leaf")))
	for _, id := range ids[1:3] {
		value, verr := e.Value(id)
		require.NoError(t, verr)
		assert.Equal(t, []byte("leaf"), value)
	}
}

func TestNestedCycleRejected(t *testing.T) {
	e := newTestEngine(t)

	a, err := e.Create(testResolver)
	require.NoError(t, err)
	b, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.CompleteCall(a, testResolver, types.Nested(b)))

	// Closing the loop would block both promises forever.
	require.NoError(t, e.CompleteCall(b, testResolver, types.Nested(a)))

	for _, id := range []types.PromiseID{a, b} {
		status, serr := e.Status(id)
		require.NoError(t, serr)
		assert.Equal(t, types.StatusRejected, status)
	}
}

func TestNestedSelfReferenceRejected(t *testing.T) {
	e := newTestEngine(t)

	a, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.CompleteCall(a, testResolver, types.Nested(a)))

	status, err := e.Status(a)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, status)

	value, err := e.Value(a)
	require.NoError(t, err)
	assert.Equal(t, []byte(types.ErrMaxDepthExceeded.Error()), value)
}

func TestCompleteCallTwice(t *testing.T) {
	e := newTestEngine(t)

	outer, err := e.Create(testResolver)
	require.NoError(t, err)
	inner, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.CompleteCall(outer, testResolver, types.Nested(inner)))

	// A second completion of the same call is refused while the chain is
	// still blocked.
	err = e.CompleteCall(outer, testResolver, types.Terminal([]byte("again")))
	assert.ErrorIs(t, err, types.ErrAlreadySettled)
}

func TestExecutionContextSingleSlot(t *testing.T) {
	e := newTestEngine(t)

	a, err := e.Create(testResolver)
	require.NoError(t, err)
	b, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.beginContext(a))

	// A second entry fails fast rather than queueing.
	assert.ErrorIs(t, e.beginContext(b), types.ErrContextBusy)

	// Releasing by a non-holder is a no-op.
	e.endContext(b)
	assert.ErrorIs(t, e.beginContext(b), types.ErrContextBusy)

	e.endContext(a)
	require.NoError(t, e.beginContext(b))
	e.endContext(b)
}

func TestCreateInsideContextAttachesChild(t *testing.T) {
	e := newTestEngine(t)

	parent, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.beginContext(parent))
	child, err := e.Create(testResolver)
	require.NoError(t, err)
	e.endContext(parent)

	pp, err := e.Get(parent)
	require.NoError(t, err)
	require.Len(t, pp.Children, 1)
	assert.Equal(t, child, pp.Children[0])
	assert.Equal(t, 1, pp.UnresolvedChildren)

	cp, err := e.Get(child)
	require.NoError(t, err)
	assert.True(t, cp.HasParent)
	assert.Equal(t, parent, cp.Parent)
}

func TestParentDefersUntilChildrenSettle(t *testing.T) {
	e := newTestEngine(t)

	parent, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.beginContext(parent))
	c1, err := e.Create(testResolver)
	require.NoError(t, err)
	c2, err := e.Create(testResolver)
	require.NoError(t, err)
	e.endContext(parent)

	// The parent's own value is captured but settlement defers.
	require.NoError(t, e.Resolve(parent, testResolver, []byte("parent value")))

	status, err := e.Status(parent)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, status)

	require.NoError(t, e.Resolve(c1, testResolver, []byte("v1")))

	status, err = e.Status(parent)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, status)

	require.NoError(t, e.Resolve(c2, testResolver, []byte("v2")))

	value, err := e.Value(parent)
	require.NoError(t, err)
	assert.Equal(t, []byte("parent value"), value)
}

func TestChildRejectionRejectsParent(t *testing.T) {
	e := newTestEngine(t)

	parent, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.beginContext(parent))
	c1, err := e.Create(testResolver)
	require.NoError(t, err)
	c2, err := e.Create(testResolver)
	require.NoError(t, err)
	e.endContext(parent)

	require.NoError(t, e.Resolve(parent, testResolver, []byte("parent value")))
	require.NoError(t, e.Resolve(c1, testResolver, []byte("ok")))
	require.NoError(t, e.Reject(c2, testResolver, []byte("child failed")))

	status, err := e.Status(parent)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, status)

	value, err := e.Value(parent)
	require.NoError(t, err)
	assert.Equal(t, []byte("child failed"), value)
}

func TestParentRejectionDefersOnChildren(t *testing.T) {
	e := newTestEngine(t)

	parent, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.beginContext(parent))
	child, err := e.Create(testResolver)
	require.NoError(t, err)
	e.endContext(parent)

	// The reason is captured but the terminal transition waits for the
	// outstanding child.
	require.NoError(t, e.Reject(parent, testResolver, []byte("abort")))

	status, err := e.Status(parent)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, status)

	// The captured outcome is still exactly-once.
	assert.ErrorIs(t, e.Resolve(parent, testResolver, []byte("flip")), types.ErrAlreadySettled)

	require.NoError(t, e.Resolve(child, testResolver, []byte("late")))

	status, err = e.Status(parent)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, status)

	value, err := e.Value(parent)
	require.NoError(t, err)
	assert.Equal(t, []byte("abort"), value)
}

func TestDeferredRejectionKeepsOwnReason(t *testing.T) {
	e := newTestEngine(t)

	parent, err := e.Create(testResolver)
	require.NoError(t, err)

	require.NoError(t, e.beginContext(parent))
	child, err := e.Create(testResolver)
	require.NoError(t, err)
	e.endContext(parent)

	require.NoError(t, e.Reject(parent, testResolver, []byte("abort")))
	require.NoError(t, e.Reject(child, testResolver, []byte("child failed")))

	status, err := e.Status(parent)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, status)

	// The parent's own captured rejection outranks the member's.
	value, err := e.Value(parent)
	require.NoError(t, err)
	assert.Equal(t, []byte("abort"), value)
}
