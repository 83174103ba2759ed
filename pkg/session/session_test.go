package session

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/pkg/codec"
	"github.com/ulala-x/playhouse-go/pkg/frame"
)

// pipeConn is a minimal in-memory Conn for tests: reads come from `in`,
// writes go to `out`.
type pipeConn struct {
	mu     sync.Mutex
	in     *io.PipeReader
	inW    *io.PipeWriter
	out    bytes.Buffer
	closed bool
}

func newPipeConn() *pipeConn {
	r, w := io.Pipe()
	return &pipeConn{in: r, inW: w}
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}
func (c *pipeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.inW.Close()
}
func (c *pipeConn) RemoteAddr() net.Addr { return &net.TCPAddr{} }

func (c *pipeConn) feed(t *testing.T, f *frame.Frame) {
	wire, err := codec.Encode(f)
	require.NoError(t, err)
	_, err = c.inW.Write(wire)
	require.NoError(t, err)
}

func (c *pipeConn) writtenFrames(t *testing.T) []*frame.Frame {
	c.mu.Lock()
	data := append([]byte(nil), c.out.Bytes()...)
	c.mu.Unlock()
	d := codec.NewDecoder(frame.DefaultMaxMessageSize, frame.DefaultMaxBodySize, true)
	fs, err := d.Feed(data)
	require.NoError(t, err)
	return fs
}

func TestAuthGateRejectsNonAuthFrame(t *testing.T) {
	conn := newPipeConn()
	var disconnected bool
	s := New(conn, Config{MaxMessageSize: frame.DefaultMaxMessageSize, AuthenticateMsgID: "Auth"}, func(s *Session, reason error) {
		disconnected = true
	}, nil)

	var handled []*frame.Frame
	go s.Serve(func(s *Session, f *frame.Frame) {
		handled = append(handled, f)
	})

	conn.feed(t, &frame.Frame{MsgID: "Echo", Payload: []byte("x")})
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, handled, "no OnDispatch for a session that never authenticated")
	assert.True(t, disconnected)
	assert.Equal(t, StateClosed, s.State())
}

func TestAuthFlowTransitionsToAuthenticated(t *testing.T) {
	conn := newPipeConn()
	s := New(conn, Config{MaxMessageSize: frame.DefaultMaxMessageSize, AuthenticateMsgID: "Auth"}, nil, nil)

	done := make(chan struct{})
	go s.Serve(func(sess *Session, f *frame.Frame) {
		if f.MsgID == "Auth" {
			require.NoError(t, sess.SetAuthenticated("acc-1"))
			close(done)
		}
	})

	conn.feed(t, &frame.Frame{MsgID: "Auth"})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("auth never completed")
	}
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, "acc-1", s.AccountID())
}

func TestHeartbeatIsAnsweredAndNotForwarded(t *testing.T) {
	conn := newPipeConn()
	s := New(conn, Config{MaxMessageSize: frame.DefaultMaxMessageSize, AuthenticateMsgID: "Auth"}, nil, nil)

	var forwarded bool
	go s.Serve(func(sess *Session, f *frame.Frame) { forwarded = true })

	conn.feed(t, codec.Heartbeat(false))
	time.Sleep(50 * time.Millisecond)

	assert.False(t, forwarded)
	frames := conn.writtenFrames(t)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].IsHeartbeat())
}

func TestHeartbeatTimeoutClosesSession(t *testing.T) {
	conn := newPipeConn()
	var reason error
	s := New(conn, Config{
		MaxMessageSize:    frame.DefaultMaxMessageSize,
		AuthenticateMsgID: "Auth",
		HeartbeatTimeout:  60 * time.Millisecond,
	}, func(s *Session, r error) { reason = r }, nil)

	go s.Serve(func(sess *Session, f *frame.Frame) {})

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, StateClosed, s.State())
	require.Error(t, reason)
}
