// Package protobuf is the protobuf Serializer, for games that prefer a
// compact, schema'd wire payload inside Packet.Payload over JSON. Grounded
// on the teacher's protobuf serializer wrapping golang/protobuf's proto.Message.
package protobuf

import (
	"github.com/golang/protobuf/proto"

	"github.com/ulala-x/playhouse-go/pkg/errors"
)

// Serializer implements serialize.Serializer for proto.Message values only;
// Marshal/Unmarshal return ErrInternal for any other type, since protobuf
// has no concept of marshaling an arbitrary Go struct.
type Serializer struct{}

// New builds a protobuf Serializer.
func New() *Serializer { return &Serializer{} }

func (Serializer) Marshal(v interface{}) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, errors.ErrInternal.WithMetadata(map[string]string{"reason": "value is not a proto.Message"})
	}
	return proto.Marshal(msg)
}

func (Serializer) Unmarshal(data []byte, v interface{}) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return errors.ErrInternal.WithMetadata(map[string]string{"reason": "value is not a proto.Message"})
	}
	return proto.Unmarshal(data, msg)
}
