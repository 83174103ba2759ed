// Package session implements C2: one client connection's state machine,
// heartbeat handling and the FIFO send path, adapted from the teacher's
// agentImpl (chSend/chOrder/chStopHeartbeat goroutines) to the state machine
// of spec §4.2.
package session

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ulala-x/playhouse-go/pkg/codec"
	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/frame"
	"github.com/ulala-x/playhouse-go/pkg/logger"
	"github.com/ulala-x/playhouse-go/pkg/metrics"
)

// ID is a server-unique session identifier.
type ID int64

// State is the session lifecycle state of spec §4.2.
type State int32

const (
	StateConnected State = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the minimal transport contract both the TCP and WebSocket
// acceptors satisfy.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() net.Addr
}

// Config mirrors the relevant subset of §6.3 for one session.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxMessageSize    int
	MaxBodySize       int
	AuthenticateMsgID string
	SendQueueCapacity int
}

// FrameHandler is invoked for every inbound frame that passed the auth gate
// (or is itself the authentication attempt). It never sees heartbeat frames.
type FrameHandler func(s *Session, f *frame.Frame)

// DisconnectHandler is invoked exactly once when a session transitions to
// closed.
type DisconnectHandler func(s *Session, reason error)

var sessionSeq int64

func nextSessionID() ID {
	return ID(atomic.AddInt64(&sessionSeq, 1))
}

type pendingPush struct {
	seq uint16
	f   *frame.Frame
}

// Session owns one client connection and enforces the §4.2 state machine.
type Session struct {
	id         ID
	traceID    string
	conn       Conn
	cfg        Config
	decoder    *codec.Decoder

	state          int32 // atomic State
	accountID      atomic.Value // string
	currentStageID int64        // atomic
	lastInboundAt  int64        // atomic unix nano
	lastHeartbeat  int64        // atomic unix nano

	sendCh chan []byte
	stopCh chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu          sync.Mutex
	pushDelay   map[uint16][]pendingPush
	curRespSeq  uint16

	onDisconnect DisconnectHandler
	reporter     metrics.Reporter
}

// New constructs a Session bound to conn. Call Serve to start its
// goroutines. reporter may be nil, in which case metrics.Nop is used.
func New(conn Conn, cfg Config, onDisconnect DisconnectHandler, reporter metrics.Reporter) *Session {
	if cfg.SendQueueCapacity <= 0 {
		cfg.SendQueueCapacity = 4096
	}
	if reporter == nil {
		reporter = metrics.Nop
	}
	s := &Session{
		id:           nextSessionID(),
		traceID:      uuid.NewString(),
		conn:         conn,
		cfg:          cfg,
		decoder:      codec.NewDecoder(cfg.MaxMessageSize, cfg.MaxBodySize, false),
		sendCh:       make(chan []byte, cfg.SendQueueCapacity),
		stopCh:       make(chan struct{}),
		pushDelay:    make(map[uint16][]pendingPush),
		onDisconnect: onDisconnect,
		reporter:     reporter,
	}
	s.accountID.Store("")
	atomic.StoreInt64(&s.lastInboundAt, time.Now().UnixNano())
	return s
}

// ID returns the server-unique session id.
func (s *Session) ID() ID { return s.id }

// TraceID returns a per-session correlation id for logging/tracing.
func (s *Session) TraceID() string { return s.traceID }

// RemoteAddr returns the underlying connection's remote address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// AccountID returns the bound account id, or "" before authentication.
func (s *Session) AccountID() string { return s.accountID.Load().(string) }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(atomic.LoadInt32(&s.state)) }

// CurrentStageID returns the stage this session is currently attached to.
func (s *Session) CurrentStageID() int64 { return atomic.LoadInt64(&s.currentStageID) }

// SetCurrentStageID records which stage this session is attached to.
func (s *Session) SetCurrentStageID(id int64) { atomic.StoreInt64(&s.currentStageID, id) }

// SetAuthenticated performs the one-way authenticating->authenticated
// transition. Returns an error if the session isn't in authenticating state.
func (s *Session) SetAuthenticated(accountID string) error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(StateAuthenticating), int32(StateAuthenticated)) {
		return errors.ErrInternal.WithMetadata(map[string]string{"reason": "SetAuthenticated from non-authenticating state"})
	}
	s.accountID.Store(accountID)
	return nil
}

// FailAuthentication closes the session after a failed auth attempt.
func (s *Session) FailAuthentication() {
	s.Close(errors.ErrAuthenticationFailed)
}

// Serve runs the session's goroutines (write, heartbeat monitor, read loop)
// and blocks until the session closes.
func (s *Session) Serve(h FrameHandler) {
	go s.writeLoop()
	go s.heartbeatMonitor()
	s.readLoop(h)
	<-s.stopCh
}

func (s *Session) readLoop(h FrameHandler) {
	buf := make([]byte, 16*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			atomic.StoreInt64(&s.lastInboundAt, time.Now().UnixNano())
			frames, ferr := s.decoder.Feed(buf[:n])
			for _, f := range frames {
				s.handleInbound(f, h)
			}
			if ferr != nil {
				s.Close(ferr)
				return
			}
		}
		if err != nil {
			s.Close(errors.ErrConnectionClosed)
			return
		}
		select {
		case <-s.stopCh:
			return
		default:
		}
	}
}

func (s *Session) handleInbound(f *frame.Frame, h FrameHandler) {
	if f.IsHeartbeat() {
		s.replyHeartbeat()
		return
	}

	state := s.State()
	if state == StateConnected {
		if f.MsgID != s.cfg.AuthenticateMsgID {
			logger.Log.Debugf("session %d: unauthenticated frame %q before auth, closing", s.id, f.MsgID)
			s.Close(errors.ErrConnectionClosed)
			return
		}
		atomic.CompareAndSwapInt32(&s.state, int32(StateConnected), int32(StateAuthenticating))
		h(s, f)
		return
	}
	if state == StateAuthenticating || state == StateAuthenticated {
		h(s, f)
		return
	}
	// disconnecting/closed: drop silently
}

func (s *Session) replyHeartbeat() {
	hb := codec.Heartbeat(true)
	wire, err := codec.Encode(hb)
	if err != nil {
		return
	}
	select {
	case s.sendCh <- wire:
	case <-s.stopCh:
	}
}

func (s *Session) heartbeatMonitor() {
	if s.cfg.HeartbeatInterval <= 0 && s.cfg.HeartbeatTimeout <= 0 {
		return
	}
	resolution := 200 * time.Millisecond
	if s.cfg.HeartbeatTimeout > 0 && s.cfg.HeartbeatTimeout/4 < resolution {
		resolution = s.cfg.HeartbeatTimeout / 4
	}
	if resolution <= 0 {
		resolution = 50 * time.Millisecond
	}
	ticker := time.NewTicker(resolution)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			if s.cfg.HeartbeatTimeout > 0 {
				last := time.Unix(0, atomic.LoadInt64(&s.lastInboundAt))
				if now.Sub(last) > s.cfg.HeartbeatTimeout {
					s.reporter.ReportCounter(metrics.HeartbeatTimeoutTotal, nil, 1)
					s.Close(errors.ErrHeartbeatTimeout)
					return
				}
			}
			if s.cfg.HeartbeatInterval > 0 {
				last := time.Unix(0, atomic.LoadInt64(&s.lastHeartbeat))
				if now.Sub(last) > s.cfg.HeartbeatInterval {
					atomic.StoreInt64(&s.lastHeartbeat, now.UnixNano())
					hb := codec.Heartbeat(true)
					wire, _ := codec.Encode(hb)
					select {
					case s.sendCh <- wire:
					case <-s.stopCh:
						return
					default:
					}
				}
			}
		}
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.sendCh:
			if _, err := s.conn.Write(data); err != nil {
				s.Close(errors.ErrConnectionFailed)
				return
			}
		case <-s.stopCh:
			return
		}
	}
}

// SendResponse writes a reply frame and flushes any pushes that had been
// held back pending this seq's response (teacher-derived ordered delivery;
// see SPEC_FULL.md §9 "Ordered push-vs-response delivery").
func (s *Session) SendResponse(f *frame.Frame) error {
	if err := s.enqueue(f); err != nil {
		return err
	}
	s.flushDelayed(f.MsgSeq)
	return nil
}

// SendPush writes a server-initiated push. If relationSeq > 0, the push is
// held until that seq's response has been sent, preserving the invariant
// that a push triggered while handling request N is observed no earlier
// than N's own reply.
func (s *Session) SendPush(f *frame.Frame, relationSeq uint16) error {
	if relationSeq == 0 {
		return s.enqueue(f)
	}
	s.mu.Lock()
	if relationSeq <= s.curRespSeq {
		s.mu.Unlock()
		return s.enqueue(f)
	}
	s.pushDelay[relationSeq] = append(s.pushDelay[relationSeq], pendingPush{seq: relationSeq, f: f})
	s.mu.Unlock()
	return nil
}

func (s *Session) flushDelayed(respSeq uint16) {
	s.mu.Lock()
	s.curRespSeq = respSeq
	queued, ok := s.pushDelay[respSeq]
	if ok {
		delete(s.pushDelay, respSeq)
	}
	// also release any delayed entries keyed at or below respSeq (older, stale keys)
	var stale []uint16
	for k := range s.pushDelay {
		if k <= respSeq {
			stale = append(stale, k)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	var more []pendingPush
	for _, k := range stale {
		more = append(more, s.pushDelay[k]...)
		delete(s.pushDelay, k)
	}
	s.mu.Unlock()

	for _, p := range queued {
		s.enqueue(p.f)
	}
	for _, p := range more {
		s.enqueue(p.f)
	}
}

func (s *Session) enqueue(f *frame.Frame) error {
	if s.State() == StateClosed {
		return errors.ErrConnectionClosed
	}
	wire, err := codec.Encode(f)
	if err != nil {
		return err
	}
	if len(s.sendCh) == cap(s.sendCh) {
		logger.Log.Warnf("session %d: send queue full, closing as busy", s.id)
		s.Close(errors.ErrBackpressure)
		return errors.ErrBackpressure
	}
	select {
	case s.sendCh <- wire:
		return nil
	case <-s.stopCh:
		return errors.ErrConnectionClosed
	}
}

// Kick sends a reserved kick control frame then closes the session
// (supplemented from the teacher's agent.Kick contract).
func (s *Session) Kick() error {
	f := &frame.Frame{MsgID: frame.KickMsgID, FromServer: true}
	_ = s.enqueue(f)
	s.Close(errors.ErrConnectionClosed)
	return nil
}

// Disconnect transitions the session to disconnecting/closed from local
// application code (as opposed to a transport-level failure).
func (s *Session) Disconnect() { s.Close(errors.ErrConnectionClosed) }

// Close performs the disconnecting->closed transition, draining outbound for
// up to 200ms per spec §4.2, then releasing resources. Idempotent.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.state, int32(StateDisconnecting))
		s.closeErr = reason
		s.drainBeforeClose()
		atomic.StoreInt32(&s.state, int32(StateClosed))
		close(s.stopCh)
		s.decoder.Close()
		_ = s.conn.Close()
		if s.onDisconnect != nil {
			s.onDisconnect(s, reason)
		}
	})
}

func (s *Session) drainBeforeClose() {
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case data := <-s.sendCh:
			_, _ = s.conn.Write(data)
		case <-deadline:
			return
		default:
			if len(s.sendCh) == 0 {
				return
			}
		}
	}
}
