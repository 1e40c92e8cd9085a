package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivePromiseID_Deterministic(t *testing.T) {
	a := DerivePromiseID("chain-a", 7, "0xabc", "transfer", []byte("salt"))
	b := DerivePromiseID("chain-a", 7, "0xabc", "transfer", []byte("salt"))
	assert.Equal(t, a, b)
	assert.False(t, a.IsZero())
}

func TestDerivePromiseID_InputSensitivity(t *testing.T) {
	base := DerivePromiseID("chain-a", 7, "0xabc", "transfer", []byte("salt"))

	variants := []PromiseID{
		DerivePromiseID("chain-b", 7, "0xabc", "transfer", []byte("salt")),
		DerivePromiseID("chain-a", 8, "0xabc", "transfer", []byte("salt")),
		DerivePromiseID("chain-a", 7, "0xabd", "transfer", []byte("salt")),
		DerivePromiseID("chain-a", 7, "0xabc", "transfer2", []byte("salt")),
		DerivePromiseID("chain-a", 7, "0xabc", "transfer", []byte("salt2")),
	}
	for i, v := range variants {
		assert.NotEqual(t, base, v, "variant %d should differ", i)
	}
}

func TestDerivePromiseID_NoFieldReassociation(t *testing.T) {
	// Length prefixing must keep adjacent variable-length fields apart.
	a := DerivePromiseID("chain", 1, "ab", "c", nil)
	b := DerivePromiseID("chain", 1, "a", "bc", nil)
	assert.NotEqual(t, a, b)
}

func TestDeriveChainedID(t *testing.T) {
	parent := DerivePromiseID("chain-a", 1, "0xabc", "call", nil)

	c0 := DeriveChainedID(parent, 0)
	c1 := DeriveChainedID(parent, 1)
	assert.NotEqual(t, c0, c1)
	assert.NotEqual(t, parent, c0)

	// Recomputable without coordination.
	assert.Equal(t, c0, DeriveChainedID(parent, 0))
}

func TestDeriveAggregateID(t *testing.T) {
	p1 := DerivePromiseID("chain-a", 1, "t", "s", nil)
	p2 := DerivePromiseID("chain-a", 2, "t", "s", nil)

	agg := DeriveAggregateID([]PromiseID{p1, p2})
	assert.Equal(t, agg, DeriveAggregateID([]PromiseID{p1, p2}))

	// Member order matters.
	assert.NotEqual(t, agg, DeriveAggregateID([]PromiseID{p2, p1}))
}

func TestDeriveEventID(t *testing.T) {
	p := DerivePromiseID("chain-a", 1, "t", "s", nil)

	ev := DeriveEventID("chain-a", p, StatusResolved, []byte("v"))
	assert.Equal(t, ev, DeriveEventID("chain-a", p, StatusResolved, []byte("v")))
	assert.NotEqual(t, ev, DeriveEventID("chain-a", p, StatusRejected, []byte("v")))
	assert.NotEqual(t, ev, DeriveEventID("chain-a", p, StatusResolved, []byte("w")))
}

func TestParsePromiseID_RoundTrip(t *testing.T) {
	id := DerivePromiseID("chain-a", 42, "0xabc", "sel", []byte("x"))

	parsed, err := ParsePromiseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	fromBytes, err := PromiseIDFromBytes(id.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, fromBytes)
}

func TestParsePromiseID_Invalid(t *testing.T) {
	_, err := ParsePromiseID("zz")
	assert.Error(t, err)

	_, err = ParsePromiseID("abcd")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = PromiseIDFromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidID)
}
