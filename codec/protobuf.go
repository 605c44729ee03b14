package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

var ErrNotProto = errors.New("codec: value is not a proto.Message")

// Protobuf stores proto.Message values. Unmarshal needs a non-nil message
// (e.g. &mypb.User{}) as destination.
type Protobuf struct{}

func (Protobuf) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, ErrNotProto
	}
	return proto.Marshal(m)
}

func (Protobuf) Unmarshal(b []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return ErrNotProto
	}
	return proto.Unmarshal(b, m)
}
