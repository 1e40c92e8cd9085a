package types

import "fmt"

// ResultKind discriminates the two shapes a continuation's return payload
// can take. The tag is explicit on the wire: a genuine terminal value is
// never confused with a nested promise reference by shape alone.
type ResultKind byte

// Result kind constants.
const (
	// ResultTerminal marks a final value.
	ResultTerminal ResultKind = 0x01

	// ResultNested marks a reference to a further pending promise whose
	// eventual settlement supplies the final value.
	ResultNested ResultKind = 0x02
)

// Result is the tagged return payload of a call or continuation: either a
// terminal value or a reference to another promise.
type Result struct {
	Kind  ResultKind
	Value []byte
	Ref   PromiseID
}

// Terminal builds a terminal result carrying value.
func Terminal(value []byte) Result {
	return Result{Kind: ResultTerminal, Value: value}
}

// Nested builds a nested result referencing ref.
func Nested(ref PromiseID) Result {
	return Result{Kind: ResultNested, Ref: ref}
}

// IsNested returns true if the result references a further promise.
func (r Result) IsNested() bool {
	return r.Kind == ResultNested
}

// Encode serializes the result as a one-byte tag followed by the payload.
func (r Result) Encode() []byte {
	switch r.Kind {
	case ResultNested:
		b := make([]byte, 1+IDSize)
		b[0] = byte(ResultNested)
		copy(b[1:], r.Ref[:])
		return b
	default:
		b := make([]byte, 1+len(r.Value))
		b[0] = byte(ResultTerminal)
		copy(b[1:], r.Value)
		return b
	}
}

// DecodeResult parses a tagged result payload. An empty payload decodes as
// a terminal result with no value, so continuations that return nothing
// settle their chained promise with an empty value.
func DecodeResult(b []byte) (Result, error) {
	if len(b) == 0 {
		return Terminal(nil), nil
	}
	switch ResultKind(b[0]) {
	case ResultTerminal:
		value := make([]byte, len(b)-1)
		copy(value, b[1:])
		return Terminal(value), nil
	case ResultNested:
		if len(b) != 1+IDSize {
			return Result{}, fmt.Errorf("%w: nested ref is %d bytes", ErrInvalidResult, len(b)-1)
		}
		ref, err := PromiseIDFromBytes(b[1:])
		if err != nil {
			return Result{}, err
		}
		return Nested(ref), nil
	default:
		return Result{}, fmt.Errorf("%w: unknown tag 0x%02x", ErrInvalidResult, b[0])
	}
}
