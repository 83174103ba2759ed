// Package router implements C7: the inter-server routing fabric that lets
// stages issue non-blocking calls to peer stages and API services (spec
// §4.7/§6.2). RouteHeader uses a hand-rolled binary layout in the same style
// as pkg/codec rather than a protoc-generated message — §6.2 explicitly
// allows "any stable binary encoding that preserves field identity", and a
// hand-rolled format avoids hand-faking protoc output for a message this
// module defines itself.
package router

import (
	"encoding/binary"

	"github.com/ulala-x/playhouse-go/pkg/errors"
)

// RouteHeader is the inter-server envelope header of spec §3/§6.2.
type RouteHeader struct {
	MsgSeq      uint16
	ServiceType uint16
	MsgID       string
	FromNID     string
	StageID     int64
	AccountID   string
	IsReply     bool
	ErrorCode   uint16
}

// Envelope is a RouteHeader plus its opaque payload.
type Envelope struct {
	Header  RouteHeader
	Payload []byte
}

func putString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	buf = append(buf, s...)
	return buf
}

func getString(buf []byte) (string, []byte, error) {
	if len(buf) < 1 {
		return "", nil, errors.ErrInternal.WithMetadata(map[string]string{"reason": "truncated envelope string length"})
	}
	n := int(buf[0])
	buf = buf[1:]
	if len(buf) < n {
		return "", nil, errors.ErrInternal.WithMetadata(map[string]string{"reason": "truncated envelope string body"})
	}
	return string(buf[:n]), buf[n:], nil
}

// EncodeEnvelope serializes an Envelope to bytes for handoff to a transport.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	if len(e.Header.MsgID) > 255 || len(e.Header.FromNID) > 255 || len(e.Header.AccountID) > 255 {
		return nil, errors.ErrInternal.WithMetadata(map[string]string{"reason": "envelope string field too long"})
	}

	buf := make([]byte, 0, 32+len(e.Header.MsgID)+len(e.Header.FromNID)+len(e.Header.AccountID)+len(e.Payload))
	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], e.Header.MsgSeq)
	buf = append(buf, tmp2[:]...)
	binary.LittleEndian.PutUint16(tmp2[:], e.Header.ServiceType)
	buf = append(buf, tmp2[:]...)

	buf = putString(buf, e.Header.MsgID)
	buf = putString(buf, e.Header.FromNID)

	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], uint64(e.Header.StageID))
	buf = append(buf, tmp8[:]...)

	buf = putString(buf, e.Header.AccountID)

	var b byte
	if e.Header.IsReply {
		b = 1
	}
	buf = append(buf, b)

	binary.LittleEndian.PutUint16(tmp2[:], e.Header.ErrorCode)
	buf = append(buf, tmp2[:]...)

	buf = append(buf, e.Payload...)
	return buf, nil
}

// DecodeEnvelope parses bytes produced by EncodeEnvelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) < 4 {
		return nil, errors.ErrInternal.WithMetadata(map[string]string{"reason": "truncated envelope"})
	}
	h := RouteHeader{}
	h.MsgSeq = binary.LittleEndian.Uint16(data[0:2])
	h.ServiceType = binary.LittleEndian.Uint16(data[2:4])
	rest := data[4:]

	var err error
	h.MsgID, rest, err = getString(rest)
	if err != nil {
		return nil, err
	}
	h.FromNID, rest, err = getString(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 8 {
		return nil, errors.ErrInternal.WithMetadata(map[string]string{"reason": "truncated envelope stageId"})
	}
	h.StageID = int64(binary.LittleEndian.Uint64(rest[0:8]))
	rest = rest[8:]

	h.AccountID, rest, err = getString(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 3 {
		return nil, errors.ErrInternal.WithMetadata(map[string]string{"reason": "truncated envelope tail"})
	}
	h.IsReply = rest[0] == 1
	h.ErrorCode = binary.LittleEndian.Uint16(rest[1:3])
	payload := rest[3:]

	return &Envelope{Header: h, Payload: payload}, nil
}
