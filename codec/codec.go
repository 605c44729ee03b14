// Package codec serializes cache values to bytes and back.
//
// Unlike a typed codec, a megacache Codec handles every value the cache stores:
// user values, memoized call results, the key registry and the statistics
// record. Unmarshal therefore always receives a pointer destination.
package codec

import "fmt"

// Codec encodes values to []byte for storage and decodes them into v (a pointer).
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}

// ByName resolves a codec from its configuration name. Empty selects Msgpack.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return Msgpack{}, nil
	case "json":
		return JSON{}, nil
	case "cbor":
		return NewCBOR(false)
	case "cbor-det":
		return NewCBOR(true)
	case "protobuf":
		return Protobuf{}, nil
	case "raw":
		return Raw{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
