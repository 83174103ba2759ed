package connector

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/pkg/codec"
	"github.com/ulala-x/playhouse-go/pkg/frame"
)

// echoServer accepts exactly one connection and echoes every non-heartbeat
// frame back with the same msgId/payload and errorCode=0, answering
// heartbeats itself.
func echoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		dec := codec.NewDecoder(frame.DefaultMaxMessageSize, frame.DefaultMaxBodySize, false)
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				frames, _ := dec.Feed(buf[:n])
				for _, f := range frames {
					if f.IsHeartbeat() {
						hb := codec.Heartbeat(true)
						wire, _ := codec.Encode(hb)
						conn.Write(wire)
						continue
					}
					resp := &frame.Frame{MsgID: f.MsgID, MsgSeq: f.MsgSeq, StageID: f.StageID, Payload: f.Payload, FromServer: true}
					wire, _ := codec.Encode(resp)
					conn.Write(wire)
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func TestConnectorRequestRoundTrip(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()

	c := New(addr, Config{RequestTimeout: time.Second})
	require.NoError(t, c.Connect())
	defer c.Close()

	done := make(chan struct{})
	var gotPkt *frame.Packet
	var gotErr error
	err := c.Request(1, "Echo", []byte("hi"), time.Second, func(pkt *frame.Packet, err error) {
		gotPkt, gotErr = pkt, err
		close(done)
	})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		c.MainThreadAction()
		select {
		case <-done:
			goto done
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for response")
		}
	}
done:
	require.NoError(t, gotErr)
	require.NotNil(t, gotPkt)
	assert.Equal(t, []byte("hi"), gotPkt.Payload)
}

func TestConnectorSendIsFireAndForget(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()

	c := New(addr, Config{RequestTimeout: time.Second})
	require.NoError(t, c.Connect())
	defer c.Close()

	require.NoError(t, c.Send(1, "Ping", nil))
}

func TestConnectorRequestAsync(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()

	c := New(addr, Config{RequestTimeout: time.Second})
	require.NoError(t, c.Connect())
	defer c.Close()

	resCh := c.RequestAsync(1, "Echo", []byte("async"), time.Second)

	deadline := time.After(2 * time.Second)
	for {
		c.MainThreadAction()
		select {
		case res := <-resCh:
			require.NoError(t, res.Err)
			assert.Equal(t, []byte("async"), res.Packet.Payload)
			return
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for async result")
		}
	}
}

func TestDispatchQueueShedsOldestOnOverflow(t *testing.T) {
	q := newActionQueue(10)
	fired := make([]int, 0, 10)
	for i := 0; i < 15; i++ {
		i := i
		q.push(func() { fired = append(fired, i) })
	}
	assert.Equal(t, 10, q.len())
	for _, a := range q.drainAll() {
		a()
	}
	// the 5 oldest (0..4) should have been shed, leaving 5..14
	require.Len(t, fired, 10)
	assert.Equal(t, 5, fired[0])
	assert.Equal(t, 14, fired[len(fired)-1])
}
