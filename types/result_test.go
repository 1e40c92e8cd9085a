package types

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_TerminalRoundTrip(t *testing.T) {
	r := Terminal([]byte("payload"))
	assert.False(t, r.IsNested())

	decoded, err := DecodeResult(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, ResultTerminal, decoded.Kind)
	assert.Equal(t, []byte("payload"), decoded.Value)
}

func TestResult_NestedRoundTrip(t *testing.T) {
	ref := DerivePromiseID("chain", 1, "t", "s", nil)
	r := Nested(ref)
	assert.True(t, r.IsNested())

	decoded, err := DecodeResult(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, ResultNested, decoded.Kind)
	assert.Equal(t, ref, decoded.Ref)
}

func TestDecodeResult_Empty(t *testing.T) {
	r, err := DecodeResult(nil)
	require.NoError(t, err)
	assert.Equal(t, ResultTerminal, r.Kind)
	assert.Empty(t, r.Value)
}

func TestDecodeResult_Invalid(t *testing.T) {
	// Unknown tag.
	_, err := DecodeResult([]byte{0x7f, 1, 2})
	assert.ErrorIs(t, err, ErrInvalidResult)

	// Truncated nested reference: never falls back to shape guessing.
	_, err = DecodeResult([]byte{byte(ResultNested), 1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestResult_TerminalSameSizeAsRef(t *testing.T) {
	// A 32-byte terminal value is not mistaken for a nested reference.
	value := make([]byte, IDSize)
	for i := range value {
		value[i] = byte(i)
	}
	decoded, err := DecodeResult(Terminal(value).Encode())
	require.NoError(t, err)
	assert.Equal(t, ResultTerminal, decoded.Kind)
	assert.Equal(t, value, decoded.Value)
}

func TestValueList_RoundTrip(t *testing.T) {
	values := [][]byte{[]byte("a"), nil, []byte("longer value")}

	decoded, err := DecodeValueList(EncodeValueList(values))
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Equal(t, []byte("a"), decoded[0])
	assert.Empty(t, decoded[1])
	assert.Equal(t, []byte("longer value"), decoded[2])
}

func TestValueList_Invalid(t *testing.T) {
	_, err := DecodeValueList([]byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidResult)

	// Truncated entry.
	b := EncodeValueList([][]byte{[]byte("abc")})
	_, err = DecodeValueList(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestValueList_HostileCount(t *testing.T) {
	// A huge count header over an empty body must fail fast, without the
	// decoder allocating for the claimed count.
	b := binary.BigEndian.AppendUint64(nil, 1<<60)
	_, err := DecodeValueList(b)
	assert.ErrorIs(t, err, ErrInvalidResult)
}
