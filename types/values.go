package types

import (
	"encoding/binary"
	"fmt"
)

// EncodeValueList serializes an ordered list of opaque payloads. Aggregate
// promises settle with this encoding so callers recover member results in
// member-index order regardless of settlement arrival order.
func EncodeValueList(values [][]byte) []byte {
	size := 8
	for _, v := range values {
		size += 8 + len(v)
	}
	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint64(out, uint64(len(values)))
	for _, v := range values {
		out = binary.BigEndian.AppendUint64(out, uint64(len(v)))
		out = append(out, v...)
	}
	return out
}

// DecodeValueList parses a payload produced by EncodeValueList.
func DecodeValueList(b []byte) ([][]byte, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("decoding value list: %w", ErrInvalidResult)
	}
	count := binary.BigEndian.Uint64(b[:8])
	b = b[8:]
	// Each entry carries at least an 8-byte length prefix, so the
	// remaining bytes bound any honest count.
	values := make([][]byte, 0, min(count, uint64(len(b))/8))
	for i := uint64(0); i < count; i++ {
		if len(b) < 8 {
			return nil, fmt.Errorf("decoding value list entry %d: %w", i, ErrInvalidResult)
		}
		n := binary.BigEndian.Uint64(b[:8])
		b = b[8:]
		if uint64(len(b)) < n {
			return nil, fmt.Errorf("decoding value list entry %d: %w", i, ErrInvalidResult)
		}
		v := make([]byte, n)
		copy(v, b[:n])
		values = append(values, v)
		b = b[n:]
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("decoding value list: %w: trailing bytes", ErrInvalidResult)
	}
	return values, nil
}
