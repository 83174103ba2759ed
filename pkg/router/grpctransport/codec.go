package grpctransport

import (
	"google.golang.org/grpc/encoding"

	"github.com/ulala-x/playhouse-go/pkg/errors"
)

// codecName is registered as a gRPC content-subtype so Envelope bytes travel
// unmarshalled by protobuf, the way mwitkow/grpc-proxy-style passthrough
// proxies move opaque payloads through google.golang.org/grpc without
// protoc-generated messages.
const codecName = "playhouseraw"

// rawMessage is the only message type this service ever exchanges: an
// already-encoded router.Envelope.
type rawMessage []byte

type rawCodec struct{}

func (rawCodec) Name() string { return codecName }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *rawMessage:
		return []byte(*m), nil
	case rawMessage:
		return []byte(m), nil
	default:
		return nil, errors.ErrInternal.WithMetadata(map[string]string{"reason": "grpctransport: non-raw message in Marshal"})
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return errors.ErrInternal.WithMetadata(map[string]string{"reason": "grpctransport: non-raw message in Unmarshal"})
	}
	*m = append((*m)[:0], data...)
	return nil
}

func init() {
	encoding.RegisterCodec(rawCodec{})
}
