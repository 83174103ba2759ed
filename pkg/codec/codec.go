// Package codec implements C1: turning a continuous byte stream into Frame
// values and back, per spec §4.1 and the bit-exact layout of §6.1.
//
// The outer 4-byte length prefix is always big-endian; msgSeq, stageId and
// (when present) errorCode are little-endian. Implementations must not swap
// these — it is the one place the wire format deliberately mixes endianness,
// preserved for compatibility with the reference implementation's
// inter-server envelope.
package codec

import (
	"encoding/binary"

	"github.com/ulala-x/playhouse-go/pkg/buffer"
	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/frame"
)

const (
	defaultRingCapacity = 64 * 1024
)

type decodeState int

const (
	awaitingLength decodeState = iota
	awaitingBody
)

// Decoder turns inbound bytes into Frame values. Single-consumer: callers
// must not call Feed concurrently.
type Decoder struct {
	ring            *buffer.Ring
	maxMessageSize  int
	maxBodySize     int
	expectErrorCode bool // true when decoding server->client frames (connector side)

	state   decodeState
	bodyLen int
}

// NewDecoder builds a Decoder. maxMessageSize bounds the whole frame
// (length prefix + header + payload, §6.1 MaxMessageSize); maxBodySize
// bounds the payload alone (§6.1 MaxBodySize) and is always <=
// maxMessageSize. maxBodySize <= 0 falls back to frame.DefaultMaxBodySize.
// expectErrorCode selects the server->client header layout (used by the
// connector); false selects client->server (used by the server).
func NewDecoder(maxMessageSize, maxBodySize int, expectErrorCode bool) *Decoder {
	if maxBodySize <= 0 {
		maxBodySize = frame.DefaultMaxBodySize
	}
	return &Decoder{
		ring:            buffer.NewRing(nil, defaultRingCapacity),
		maxMessageSize:  maxMessageSize,
		maxBodySize:     maxBodySize,
		expectErrorCode: expectErrorCode,
	}
}

// Close releases the decoder's ring buffer.
func (d *Decoder) Close() { d.ring.Close() }

// Feed appends newly-read bytes and returns every frame that can be fully
// decoded from the accumulated stream so far. On a validation failure it
// returns the frames decoded up to that point plus a FrameFormatError; the
// caller must close the session without feeding further bytes.
func (d *Decoder) Feed(p []byte) ([]*frame.Frame, error) {
	if !d.ring.Write(p, d.maxMessageSize) {
		return nil, errors.ErrFrameFormat.WithMetadata(map[string]string{"reason": "buffer overflow"})
	}

	var out []*frame.Frame
	for {
		switch d.state {
		case awaitingLength:
			if d.ring.Len() < frame.LengthPrefixSize {
				return out, nil
			}
			var lenBuf [frame.LengthPrefixSize]byte
			d.ring.PeekBytes(0, lenBuf[:])
			bodyLen := int(binary.BigEndian.Uint32(lenBuf[:]))
			if bodyLen <= 0 || bodyLen+frame.LengthPrefixSize > d.maxMessageSize {
				return out, errors.ErrFrameFormat.WithMetadata(map[string]string{"reason": "length out of range"})
			}
			d.ring.Advance(frame.LengthPrefixSize)
			d.bodyLen = bodyLen
			d.state = awaitingBody
		case awaitingBody:
			if d.ring.Len() < d.bodyLen {
				return out, nil
			}
			body := make([]byte, d.bodyLen)
			d.ring.PeekBytes(0, body)
			d.ring.Advance(d.bodyLen)
			d.state = awaitingLength

			f, err := decodeBody(body, d.expectErrorCode, d.maxBodySize)
			if err != nil {
				return out, err
			}
			out = append(out, f)
		}
	}
}

func decodeBody(body []byte, expectErrorCode bool, maxBodySize int) (*frame.Frame, error) {
	if len(body) < 1 {
		return nil, errors.ErrFrameFormat.WithMetadata(map[string]string{"reason": "empty body"})
	}
	msgIDLen := int(body[0])
	if msgIDLen <= 0 || msgIDLen > 255 {
		return nil, errors.ErrFrameFormat.WithMetadata(map[string]string{"reason": "bad msgIdLen"})
	}

	fixedAfterID := 2 + 8 // msgSeq + stageId
	if expectErrorCode {
		fixedAfterID += 2
	}
	need := 1 + msgIDLen + fixedAfterID
	if len(body) < need {
		return nil, errors.ErrFrameFormat.WithMetadata(map[string]string{"reason": "short body"})
	}

	off := 1
	msgID := string(body[off : off+msgIDLen])
	off += msgIDLen

	msgSeq := binary.LittleEndian.Uint16(body[off : off+2])
	off += 2

	stageID := int64(binary.LittleEndian.Uint64(body[off : off+8]))
	off += 8

	var errCode uint16
	if expectErrorCode {
		errCode = binary.LittleEndian.Uint16(body[off : off+2])
		off += 2
	}

	payload := body[off:]
	if len(payload) > maxBodySize {
		return nil, errors.ErrFrameFormat.WithMetadata(map[string]string{"reason": "payload too large"})
	}

	return &frame.Frame{
		MsgID:      msgID,
		MsgSeq:     msgSeq,
		StageID:    stageID,
		ErrorCode:  errCode,
		Payload:    payload,
		FromServer: expectErrorCode,
	}, nil
}

// Encode serializes f into a ready-to-write wire frame. The caller owns
// f.Payload; Encode copies it into the returned buffer.
func Encode(f *frame.Frame) ([]byte, error) {
	if len(f.MsgID) == 0 || len(f.MsgID) > 255 {
		return nil, errors.ErrFrameFormat.WithMetadata(map[string]string{"reason": "bad msgIdLen"})
	}

	bodyLen := 1 + len(f.MsgID) + 2 + 8 + len(f.Payload)
	if f.FromServer {
		bodyLen += 2
	}

	buf := make([]byte, frame.LengthPrefixSize+bodyLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(bodyLen))

	off := 4
	buf[off] = byte(len(f.MsgID))
	off++
	copy(buf[off:], f.MsgID)
	off += len(f.MsgID)

	binary.LittleEndian.PutUint16(buf[off:off+2], f.MsgSeq)
	off += 2

	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(f.StageID))
	off += 8

	if f.FromServer {
		binary.LittleEndian.PutUint16(buf[off:off+2], f.ErrorCode)
		off += 2
	}

	copy(buf[off:], f.Payload)
	return buf, nil
}

// Heartbeat builds the reserved zero-payload heartbeat frame for the given
// direction.
func Heartbeat(fromServer bool) *frame.Frame {
	return &frame.Frame{MsgID: frame.HeartbeatMsgID, MsgSeq: 0, StageID: 0, FromServer: fromServer}
}
