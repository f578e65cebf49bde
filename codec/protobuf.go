package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

// Protobuf stores generated message types. Encoding is deterministic, so equal
// messages produce equal durable bytes.
type Protobuf[T proto.Message] struct {
	ctor func() T
	mo   proto.MarshalOptions
	uo   proto.UnmarshalOptions
}

// NewProtobuf takes a constructor for a fresh message,
// e.g. func() *pb.Draft { return &pb.Draft{} }.
func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{
		ctor: ctor,
		mo:   proto.MarshalOptions{Deterministic: true},
		uo:   proto.UnmarshalOptions{DiscardUnknown: false},
	}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return c.mo.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.ctor == nil {
		var zero T
		return zero, errors.New("codec: protobuf codec built without NewProtobuf")
	}
	m := c.ctor()
	err := c.uo.Unmarshal(b, m)
	return m, err
}
