// Package connector implements C9: the client-side counterpart to C1/C2/C3,
// adapted from the teacher's agent/networkentity split to a single-threaded,
// MainThreadAction-driven client API (spec §4.9).
package connector

import (
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/ulala-x/playhouse-go/pkg/codec"
	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/frame"
	"github.com/ulala-x/playhouse-go/pkg/logger"
	"github.com/ulala-x/playhouse-go/pkg/metrics"
	"github.com/ulala-x/playhouse-go/pkg/tracker"
)

// State is the connector's connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Backoff parameterizes reconnect delay growth.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

func (b Backoff) next(attempt int) time.Duration {
	if b.Initial <= 0 {
		b.Initial = 200 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 10 * time.Second
	}
	if b.Factor <= 1 {
		b.Factor = 2
	}
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Factor)
		if d > b.Max {
			return b.Max
		}
	}
	// jitter +-20% so many clients reconnecting at once don't thunder the server.
	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(d))
	return d + jitter
}

// Config mirrors the server-side knobs of spec §6.3 from the client's view.
type Config struct {
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	AuthenticateMsgID string
	AutoReconnect     bool
	Backoff           Backoff
	DispatchQueueCap  int
}

// PushHandler receives server-pushed frames (msgSeq == 0, not a reply).
type PushHandler func(f *frame.Frame)

// Connector is the client counterpart to session.Session.
type Connector struct {
	addr string
	cfg  Config

	conn    net.Conn
	decoder *codec.Decoder

	state     int32 // atomic State
	stopCh    chan struct{}
	sendCh    chan []byte
	queue     *actionQueue
	tracker   *tracker.Tracker
	reconnect int32 // attempt counter

	onPush       PushHandler
	onConnect    func()
	onDisconnect func(err error)
	onError      func(err error)

	lastHeartbeatSentAt int64
	lastInboundAt       int64
}

// New builds a disconnected Connector for the given address.
func New(addr string, cfg Config) *Connector {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Connector{
		addr:    addr,
		cfg:     cfg,
		queue:   newActionQueue(cfg.DispatchQueueCap),
		tracker: tracker.New(metrics.Nop),
	}
}

// OnPush registers the handler for server pushes.
func (c *Connector) OnPush(h PushHandler) { c.onPush = h }

// OnConnect registers the handler fired (via the action queue) after a
// successful connect.
func (c *Connector) OnConnect(h func()) { c.onConnect = h }

// OnDisconnect registers the handler fired (via the action queue) when the
// connection drops.
func (c *Connector) OnDisconnect(h func(err error)) { c.onDisconnect = h }

// OnError registers the handler fired (via the action queue) for
// asynchronous transport errors.
func (c *Connector) OnError(h func(err error)) { c.onError = h }

// State returns the current connection lifecycle state.
func (c *Connector) State() State { return State(atomic.LoadInt32(&c.state)) }

// Connect dials addr and starts the connector's goroutines. It returns once
// the TCP connection is established; authentication is an application-level
// Request the caller issues afterward.
func (c *Connector) Connect() error {
	atomic.StoreInt32(&c.state, int32(StateConnecting))
	conn, err := net.DialTimeout("tcp", c.addr, 10*time.Second)
	if err != nil {
		atomic.StoreInt32(&c.state, int32(StateDisconnected))
		return errors.Wrap(errors.ErrConnectionFailed, err)
	}

	c.conn = conn
	c.decoder = codec.NewDecoder(frame.DefaultMaxMessageSize, frame.DefaultMaxBodySize, true)
	c.stopCh = make(chan struct{})
	c.sendCh = make(chan []byte, 1024)
	atomic.StoreInt32(&c.state, int32(StateConnected))
	atomic.StoreInt64(&c.lastInboundAt, time.Now().UnixNano())

	go c.readLoop()
	go c.writeLoop()
	go c.heartbeatLoop()

	if c.onConnect != nil {
		c.queue.push(c.onConnect)
	}
	return nil
}

func (c *Connector) readLoop() {
	buf := make([]byte, 16*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			atomic.StoreInt64(&c.lastInboundAt, time.Now().UnixNano())
			frames, ferr := c.decoder.Feed(buf[:n])
			for _, f := range frames {
				c.handleInbound(f)
			}
			if ferr != nil {
				c.fail(ferr)
				return
			}
		}
		if err != nil {
			c.fail(errors.ErrConnectionClosed)
			return
		}
		select {
		case <-c.stopCh:
			return
		default:
		}
	}
}

func (c *Connector) handleInbound(f *frame.Frame) {
	if f.IsHeartbeat() {
		return
	}
	if f.IsRequest() {
		pkt := frame.NewPacket(f.MsgID, f.Payload, f.ErrorCode, nil)
		var err error
		if f.ErrorCode != 0 {
			err = errors.New("ServerError", "server replied with a non-zero error code", map[string]string{"code": itoa(f.ErrorCode)})
		}
		if !c.tracker.Complete(f.MsgSeq, completion{pkt: pkt, err: err}) {
			return
		}
		return
	}
	if c.onPush != nil {
		pushed := f
		c.queue.push(func() { c.onPush(pushed) })
	}
}

func (c *Connector) writeLoop() {
	for {
		select {
		case data := <-c.sendCh:
			if _, err := c.conn.Write(data); err != nil {
				c.fail(errors.ErrConnectionFailed)
				return
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *Connector) heartbeatLoop() {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if c.cfg.HeartbeatTimeout > 0 {
				last := time.Unix(0, atomic.LoadInt64(&c.lastInboundAt))
				if time.Since(last) > c.cfg.HeartbeatTimeout {
					c.fail(errors.ErrHeartbeatTimeout)
					return
				}
			}
			hb := codec.Heartbeat(false)
			wire, _ := codec.Encode(hb)
			select {
			case c.sendCh <- wire:
			case <-c.stopCh:
				return
			}
		}
	}
}

func (c *Connector) fail(reason error) {
	atomic.StoreInt32(&c.state, int32(StateDisconnected))
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.tracker.CancelAll(reason)
	if c.onDisconnect != nil {
		c.queue.push(func() { c.onDisconnect(reason) })
	}
	if c.cfg.AutoReconnect {
		go c.reconnectLoop(reason)
	}
}

func (c *Connector) reconnectLoop(reason error) {
	attempt := int(atomic.AddInt32(&c.reconnect, 1)) - 1
	delay := c.cfg.Backoff.next(attempt)
	logger.Log.Infof("connector: reconnecting to %s in %s (attempt %d) after %v", c.addr, delay, attempt+1, reason)
	time.Sleep(delay)
	if err := c.Connect(); err != nil {
		if c.onError != nil {
			c.queue.push(func() { c.onError(err) })
		}
		return
	}
	atomic.StoreInt32(&c.reconnect, 0)
}

// MainThreadAction drains and runs every queued action. Call it periodically
// from whatever thread owns callbacks (once per game-loop frame, or off a
// timer).
func (c *Connector) MainThreadAction() {
	for _, a := range c.queue.drainAll() {
		a()
	}
}

// QueueDepth reports how many actions are waiting to be drained, for
// diagnosing a stalled main thread.
func (c *Connector) QueueDepth() int { return c.queue.len() }

// Send issues a fire-and-forget message (spec §4.9 "Send").
func (c *Connector) Send(stageID int64, msgID string, payload []byte) error {
	f := &frame.Frame{MsgID: msgID, StageID: stageID, Payload: payload}
	return c.enqueue(f)
}

type completion struct {
	pkt *frame.Packet
	err error
}

// Request issues a correlated request; cb is invoked on the main thread
// (spec §4.9 "Request").
func (c *Connector) Request(stageID int64, msgID string, payload []byte, timeout time.Duration, cb func(pkt *frame.Packet, err error)) error {
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	seq := c.tracker.NextSeq()
	if err := c.tracker.Track(seq, timeout, func(resp interface{}, err error) {
		if err != nil {
			c.queue.push(func() { cb(nil, err) })
			return
		}
		res := resp.(completion)
		c.queue.push(func() { cb(res.pkt, res.err) })
	}); err != nil {
		return err
	}
	f := &frame.Frame{MsgID: msgID, MsgSeq: seq, StageID: stageID, Payload: payload}
	if err := c.enqueue(f); err != nil {
		c.tracker.Fail(seq, err)
		return err
	}
	return nil
}

// Result is delivered by RequestAsync.
type Result struct {
	Packet *frame.Packet
	Err    error
}

// RequestAsync issues a correlated request and returns a channel that
// receives the result once MainThreadAction has drained it (spec §4.9
// "RequestAsync"): like Request, completion still flows through the
// main-thread action queue, this just packages it as an awaitable.
func (c *Connector) RequestAsync(stageID int64, msgID string, payload []byte, timeout time.Duration) <-chan Result {
	out := make(chan Result, 1)
	err := c.Request(stageID, msgID, payload, timeout, func(pkt *frame.Packet, err error) {
		out <- Result{Packet: pkt, Err: err}
	})
	if err != nil {
		out <- Result{Err: err}
	}
	return out
}

func (c *Connector) enqueue(f *frame.Frame) error {
	if c.State() == StateDisconnected {
		return errors.ErrConnectionClosed
	}
	wire, err := codec.Encode(f)
	if err != nil {
		return err
	}
	select {
	case c.sendCh <- wire:
		return nil
	case <-c.stopCh:
		return errors.ErrConnectionClosed
	}
}

// Close disconnects the connector and stops all of its goroutines.
func (c *Connector) Close() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	atomic.StoreInt32(&c.state, int32(StateDisconnected))
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
