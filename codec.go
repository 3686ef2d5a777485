package slotcache

import "encoding/json"

// Codec translates payload values to and from their stored byte form.
// Implementations must round-trip the payload's zero and nil forms: a nil
// pointer written through Encode must decode back to a nil pointer.
type Codec[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec is the default Codec. It persists values as JSON, which
// round-trips nil-capable payloads as an explicit null.
type JSONCodec[T any] struct{}

// Encode marshals value to JSON.
func (JSONCodec[T]) Encode(value T) ([]byte, error) {
	return json.Marshal(value)
}

// Decode unmarshals data into a fresh T.
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var value T
	err := json.Unmarshal(data, &value)
	return value, err
}

var _ Codec[int] = JSONCodec[int]{}
