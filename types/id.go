package types

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
)

// Domain separation tags for identifier derivation. Each derivation mixes
// its tag first so identifiers from different derivations can never collide
// even on identical inputs.
const (
	domainPromise   = "promiseberry/promise/v1"
	domainChained   = "promiseberry/chained/v1"
	domainAggregate = "promiseberry/aggregate/v1"
	domainEvent     = "promiseberry/event/v1"
)

// DerivePromiseID derives the identifier for a promise minted on origin
// with the given transport nonce, target, selector and salt. The inputs are
// fully determined by information available to the initiator, so both the
// originating and executing sides compute the same identifier before any
// message is relayed.
func DerivePromiseID(origin Origin, nonce uint64, target Principal, selector string, salt []byte) PromiseID {
	h := sha256.New()
	h.Write([]byte(domainPromise))
	writeLenPrefixed(h, []byte(origin))
	writeUint64(h, nonce)
	writeLenPrefixed(h, []byte(target))
	writeLenPrefixed(h, []byte(selector))
	writeLenPrefixed(h, salt)
	return sumID(h)
}

// DeriveChainedID derives the identifier of the chained promise allocated
// by the index-th callback registration against parent. The registering
// side can hand the identifier out before the parent ever settles.
func DeriveChainedID(parent PromiseID, index uint64) PromiseID {
	h := sha256.New()
	h.Write([]byte(domainChained))
	h.Write(parent[:])
	writeUint64(h, index)
	return sumID(h)
}

// DeriveAggregateID derives the identifier of the fan-in aggregate over the
// given member promises, in member order.
func DeriveAggregateID(members []PromiseID) PromiseID {
	h := sha256.New()
	h.Write([]byte(domainAggregate))
	writeUint64(h, uint64(len(members)))
	for _, m := range members {
		h.Write(m[:])
	}
	return sumID(h)
}

// DeriveEventID derives the identifier of the settlement event emitted when
// a promise settles on origin. The event-log oracle validates relayed
// settlements against this identifier.
func DeriveEventID(origin Origin, promise PromiseID, status Status, value []byte) [IDSize]byte {
	h := sha256.New()
	h.Write([]byte(domainEvent))
	writeLenPrefixed(h, []byte(origin))
	h.Write(promise[:])
	writeUint64(h, uint64(status)) //nolint:gosec // status values are small non-negative constants
	writeLenPrefixed(h, value)
	return sumID(h)
}

// HashPayload computes the SHA-256 hash of an opaque payload. Used by the
// dispatcher to bind relayed payloads to validated events.
func HashPayload(payload []byte) [IDSize]byte {
	return sha256.Sum256(payload)
}

func sumID(h hash.Hash) PromiseID {
	var id PromiseID
	h.Sum(id[:0])
	return id
}

func writeUint64(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

// writeLenPrefixed writes a length-prefixed field so adjacent variable
// length inputs cannot be reassociated into a colliding tuple.
func writeLenPrefixed(h hash.Hash, b []byte) {
	writeUint64(h, uint64(len(b)))
	h.Write(b)
}
