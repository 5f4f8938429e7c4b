package storage

import (
	"encoding"
	"encoding/json"
)

// Binary adapts an item type implementing the standard library's
// encoding.BinaryMarshaler / encoding.BinaryUnmarshaler pair. Values encode
// through MarshalBinary; decoding goes through a pointer receiver so the
// item type keeps value semantics in the Store API.
func Binary[T encoding.BinaryMarshaler, PT interface {
	*T
	encoding.BinaryUnmarshaler
}]() Codec[T] {
	return binaryCodec[T, PT]{}
}

type binaryCodec[T encoding.BinaryMarshaler, PT interface {
	*T
	encoding.BinaryUnmarshaler
}] struct{}

func (binaryCodec[T, PT]) Encode(item T) ([]byte, error) {
	return item.MarshalBinary()
}

func (binaryCodec[T, PT]) Decode(data []byte) (T, error) {
	var item T
	if err := PT(&item).UnmarshalBinary(data); err != nil {
		var zero T
		return zero, &DecodeError{Err: err}
	}
	return item, nil
}

// JSON is a convenience codec for item types without a native byte form.
func JSON[T any]() Codec[T] {
	return jsonCodec[T]{}
}

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(item T) ([]byte, error) {
	return json.Marshal(item)
}

func (jsonCodec[T]) Decode(data []byte) (T, error) {
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		var zero T
		return zero, &DecodeError{Err: err}
	}
	return item, nil
}
