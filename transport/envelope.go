package transport

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/promiseberry/types"
)

// Envelope kinds.
const (
	// KindSettlement carries a relayed settlement event.
	KindSettlement uint8 = 0x01

	// KindTransfer carries a resolver rights move.
	KindTransfer uint8 = 0x02

	// KindHandle carries a destination-side handle registration.
	KindHandle uint8 = 0x03
)

// Envelope is the outer wire frame: a kind tag and the marshaled body.
type Envelope struct {
	Kind uint8
	Body []byte
}

// Settlement is the wire form of a terminal settlement relayed to the
// promise's home origin.
type Settlement struct {
	Promise types.PromiseID
	Status  uint8
	Value   []byte
	EventID [types.IDSize]byte
}

// Transfer is the wire form of a resolver rights move. The receiving
// engine materializes the promise under the new resolver if the identifier
// is unknown; a duplicate delivery is a no-op.
type Transfer struct {
	Promise     types.PromiseID
	NewResolver string
	Nonce       uint64
}

// HandleRegistration is the wire form of a destination-side continuation
// registration against a promise landing on the receiving origin.
type HandleRegistration struct {
	Promise types.PromiseID
	Action  string
	Context []byte
}

// EncodeSettlement marshals a settlement into an envelope payload.
func EncodeSettlement(s *Settlement) ([]byte, error) {
	return encodeEnvelope(KindSettlement, s)
}

// EncodeTransfer marshals a transfer into an envelope payload.
func EncodeTransfer(t *Transfer) ([]byte, error) {
	return encodeEnvelope(KindTransfer, t)
}

// EncodeHandleRegistration marshals a handle registration into an envelope
// payload.
func EncodeHandleRegistration(h *HandleRegistration) ([]byte, error) {
	return encodeEnvelope(KindHandle, h)
}

func encodeEnvelope(kind uint8, body any) ([]byte, error) {
	data, err := cramberry.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope body: %w", err)
	}
	env := &Envelope{Kind: kind, Body: data}
	payload, err := cramberry.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	return payload, nil
}

// DecodeEnvelope parses the outer wire frame.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := cramberry.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	switch env.Kind {
	case KindSettlement, KindTransfer, KindHandle:
		return &env, nil
	default:
		return nil, fmt.Errorf("unknown envelope kind 0x%02x", env.Kind)
	}
}

// DecodeSettlement parses a settlement envelope body.
func DecodeSettlement(body []byte) (*Settlement, error) {
	var s Settlement
	if err := cramberry.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("unmarshaling settlement: %w", err)
	}
	return &s, nil
}

// DecodeTransfer parses a transfer envelope body.
func DecodeTransfer(body []byte) (*Transfer, error) {
	var t Transfer
	if err := cramberry.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("unmarshaling transfer: %w", err)
	}
	return &t, nil
}

// DecodeHandleRegistration parses a handle registration envelope body.
func DecodeHandleRegistration(body []byte) (*HandleRegistration, error) {
	var h HandleRegistration
	if err := cramberry.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("unmarshaling handle registration: %w", err)
	}
	return &h, nil
}
