package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/metrics"
)

// loopbackTransport wires two Routers directly together in-process, standing
// in for a real natstransport/grpctransport in tests.
type loopbackTransport struct {
	mu    sync.Mutex
	peers map[string]*Router
	fail  map[string]bool
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{peers: make(map[string]*Router), fail: make(map[string]bool)}
}

func (lt *loopbackTransport) register(nid string, r *Router) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.peers[nid] = r
}

func (lt *loopbackTransport) Deliver(nid string, envelope []byte) error {
	lt.mu.Lock()
	fail := lt.fail[nid]
	dst := lt.peers[nid]
	lt.mu.Unlock()
	if fail {
		return errors.ErrConnectionFailed
	}
	if dst == nil {
		return errors.ErrInternal
	}
	dst.HandleInbound(envelope)
	return nil
}

func (lt *loopbackTransport) Close() error { return nil }

type staticResolver struct {
	known map[string]string
}

func (r *staticResolver) Resolve(nid string) (string, bool) {
	ep, ok := r.known[nid]
	return ep, ok
}

func TestSendAndReceiveOneWay(t *testing.T) {
	lt := newLoopbackTransport()
	resolver := &staticResolver{known: map[string]string{"game:1": "x", "game:2": "y"}}

	var received *Envelope
	var wg sync.WaitGroup
	wg.Add(1)
	r2 := New("game:2", lt, resolver, func(env *Envelope) {
		received = env
		wg.Done()
	}, metrics.Nop)
	r1 := New("game:1", lt, resolver, nil, metrics.Nop)
	lt.register("game:1", r1)
	lt.register("game:2", r2)

	require.NoError(t, r1.Send("game:2", 7, "Ping", []byte("hi")))
	wg.Wait()

	require.NotNil(t, received)
	assert.Equal(t, "Ping", received.Header.MsgID)
	assert.Equal(t, int64(7), received.Header.StageID)
	assert.Equal(t, "game:1", received.Header.FromNID)
	assert.Equal(t, []byte("hi"), received.Payload)
}

func TestRequestReplyRoundTrip(t *testing.T) {
	lt := newLoopbackTransport()
	resolver := &staticResolver{known: map[string]string{"game:1": "x", "game:2": "y"}}

	r1 := New("game:1", lt, resolver, nil, metrics.Nop)
	r2 := New("game:2", lt, resolver, func(env *Envelope) {
		_ = r2handler(lt, env)
	}, metrics.Nop)
	lt.register("game:1", r1)
	lt.register("game:2", r2)

	resp, err := r1.Request("game:2", 3, "Echo", []byte("hello"), time.Second)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, []byte("hello echoed"), resp.Payload)
}

// r2handler replies to any inbound request by echoing the payload with a
// suffix, simulating a peer Stage answering via Router.Reply.
func r2handler(lt *loopbackTransport, env *Envelope) error {
	lt.mu.Lock()
	r2 := lt.peers["game:2"]
	lt.mu.Unlock()
	return r2.Reply(env.Header.FromNID, env.Header.MsgSeq, env.Header.StageID, env.Header.MsgID, 0, append(append([]byte{}, env.Payload...), []byte(" echoed")...))
}

func TestRequestTimesOutWhenPeerNeverReplies(t *testing.T) {
	lt := newLoopbackTransport()
	resolver := &staticResolver{known: map[string]string{"game:1": "x", "game:2": "y"}}

	r1 := New("game:1", lt, resolver, nil, metrics.Nop)
	r2 := New("game:2", lt, resolver, func(env *Envelope) {}, metrics.Nop) // silently drops
	lt.register("game:1", r1)
	lt.register("game:2", r2)

	_, err := r1.Request("game:2", 3, "Echo", []byte("hello"), 30*time.Millisecond)
	require.Error(t, err)
	assert.True(t, isRouterErr(err, errors.ErrRequestTimeout))
}

func TestSendToUnreachableNIDFailsImmediately(t *testing.T) {
	lt := newLoopbackTransport()
	resolver := &staticResolver{known: map[string]string{"game:1": "x"}}
	r1 := New("game:1", lt, resolver, nil, metrics.Nop)
	lt.register("game:1", r1)

	err := r1.Send("game:ghost", 1, "Ping", nil)
	require.Error(t, err)
}

func TestBackpressureWhenPeerQueueFull(t *testing.T) {
	lt := newLoopbackTransport()
	resolver := &staticResolver{known: map[string]string{"game:1": "x", "game:2": "y"}}
	lt.fail["game:2"] = true
	r1 := New("game:1", lt, resolver, nil, metrics.Nop)
	lt.register("game:1", r1)

	// Install game:2's peer queue by hand, without the drain goroutine
	// queueFor would start, so nothing empties the channel while it is filled.
	q := &peerQueue{ch: make(chan []byte, defaultPeerQueueCapacity), done: make(chan struct{})}
	r1.mu.Lock()
	r1.peers["game:2"] = q
	r1.mu.Unlock()
	for i := 0; i < defaultPeerQueueCapacity; i++ {
		select {
		case q.ch <- []byte("x"):
		default:
			t.Fatalf("queue filled early at %d", i)
		}
	}

	err := r1.Send("game:2", 1, "Ping", nil)
	require.Error(t, err)
	assert.True(t, isRouterErr(err, errors.ErrBackpressure))
}

func isRouterErr(err error, target *errors.Error) bool {
	type isser interface{ Is(error) bool }
	if e, ok := err.(isser); ok {
		return e.Is(target)
	}
	return false
}
