// Package dispatch implements C8: the thin layer that knows how to route a
// client frame, a peer envelope, or an outbound call from user code to the
// right Stage, session or remote NID (spec §4.8). It is the concrete
// implementation of stage.Outbound, and the FrameHandler/DisconnectHandler
// bound to every session.
package dispatch

import (
	"sync"
	"time"

	"github.com/ulala-x/playhouse-go/pkg/actor"
	"github.com/ulala-x/playhouse-go/pkg/apicontroller"
	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/frame"
	"github.com/ulala-x/playhouse-go/pkg/logger"
	"github.com/ulala-x/playhouse-go/pkg/metrics"
	"github.com/ulala-x/playhouse-go/pkg/router"
	"github.com/ulala-x/playhouse-go/pkg/session"
	"github.com/ulala-x/playhouse-go/pkg/stage"
	"github.com/ulala-x/playhouse-go/pkg/tracker"
)

// StageFactory builds the game-specific stage.User for a freshly created
// Stage of the given stageType.
type StageFactory func(stageType string) stage.User

// ActorFactory builds the game-specific actor.User for a session attempting
// to join a stage of the given stageType.
type ActorFactory func(stageType string) actor.User

// Locator resolves addressing questions the core spec leaves to an external
// system controller (spec §6.4): which NID owns a non-local stageId, and
// which NID currently answers for a named API service type.
type Locator interface {
	LocateStage(stageID int64) (nid string, ok bool)
	LocateService(serviceType string) (nid string, ok bool)
}

// Config mirrors the subset of spec §6.3 the dispatcher consults directly.
type Config struct {
	SelfNID            string
	DefaultStageType   string
	StageDispatchBurst int
	AuthenticateMsgID  string
	RequestTimeout     time.Duration

	// AuthPayloadValidator, if set, runs before OnAuthenticate/OnJoinStage
	// (e.g. unmarshal the auth payload into a validate-tagged struct and
	// call validate.Struct on it). A non-nil error fails authentication the
	// same as OnAuthenticate returning false.
	AuthPayloadValidator func(payload []byte) error
}

type localResult struct {
	resp *frame.Packet
	err  error
}

// Dispatch binds sessions, the stage directory and the inter-server router
// together and is the stage.Outbound every Stage is constructed with.
type Dispatch struct {
	cfg      Config
	dir      *stage.Directory
	router   *router.Router
	locator  Locator
	stageFac StageFactory
	actorFac ActorFactory
	api      *apicontroller.Controller

	// localTracker correlates stage-to-stage and stage-to-API requests that
	// resolve to this same process, looping back without touching the
	// router's network path.
	localTracker *tracker.Tracker

	reporter metrics.Reporter

	mu       sync.RWMutex
	sessions map[session.ID]*session.Session
}

// New builds a Dispatch. router may be nil for a single-process deployment
// that never talks to peers (SendToStage/RequestToStage for non-local stages
// then fail with ErrStageNotFound, and SendToAPI/RequestToAPI/ReplyServer
// with ErrInternal). reporter may be nil, in which case
// metrics.Nop is used.
func New(cfg Config, dir *stage.Directory, rtr *router.Router, locator Locator, stageFac StageFactory, actorFac ActorFactory, reporter metrics.Reporter) *Dispatch {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if reporter == nil {
		reporter = metrics.Nop
	}
	return &Dispatch{
		cfg:          cfg,
		dir:          dir,
		router:       rtr,
		locator:      locator,
		stageFac:     stageFac,
		actorFac:     actorFac,
		localTracker: tracker.New(reporter),
		reporter:     reporter,
		sessions:     make(map[session.ID]*session.Session),
	}
}

// BindAPIController registers the apicontroller.Controller that answers
// envelopes addressed with stageId=0 (spec §9's "service-type" addressing
// rather than a specific Stage). Optional: with none bound, such envelopes
// are rejected with ErrInternal.
func (d *Dispatch) BindAPIController(api *apicontroller.Controller) { d.api = api }

// RegisterSession makes s reachable by ReplyClient/SendPush. Callers should
// register a session as soon as it's constructed, before calling Serve.
func (d *Dispatch) RegisterSession(s *session.Session) {
	d.mu.Lock()
	d.sessions[s.ID()] = s
	d.mu.Unlock()
}

// UnregisterSession removes a session from the reachable set.
func (d *Dispatch) UnregisterSession(id session.ID) {
	d.mu.Lock()
	delete(d.sessions, id)
	d.mu.Unlock()
}

func (d *Dispatch) sessionByID(id session.ID) (*session.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	return s, ok
}

// HandleClientFrame is the session.FrameHandler for every authenticated (or
// authenticating) inbound client frame (spec §4.8 item 1).
func (d *Dispatch) HandleClientFrame(s *session.Session, f *frame.Frame) {
	pkt := frame.NewPacket(f.MsgID, f.Payload, 0, nil)

	if s.State() == session.StateAuthenticating && f.MsgID == d.cfg.AuthenticateMsgID {
		d.handleAuth(s, f, pkt)
		return
	}

	stageID := f.StageID
	st, ok := d.dir.Get(stageID)
	if !ok {
		if f.MsgSeq != 0 {
			_ = d.ReplyClient(s.ID(), f.MsgID, f.MsgSeq, stageID, errors.WireCode(errors.ErrStageNotFound), nil)
		}
		return
	}
	st.Dispatch(&stage.ClientMessage{AccountID: s.AccountID(), SessionID: s.ID(), MsgSeq: f.MsgSeq, Packet: pkt})
}

func (d *Dispatch) handleAuth(s *session.Session, f *frame.Frame, pkt *frame.Packet) {
	if d.cfg.AuthPayloadValidator != nil {
		if err := d.cfg.AuthPayloadValidator(f.Payload); err != nil {
			logger.Log.Debugf("dispatch: auth payload failed validation for session %d: %v", s.ID(), err)
			s.FailAuthentication()
			return
		}
	}

	stageID := f.StageID
	stageType := d.cfg.DefaultStageType

	st, isNew, err := d.dir.GetOrCreate(stageID, stageType, func() *stage.Stage {
		user := d.stageFac(stageType)
		return stage.New(stageID, stageType, user, d, d.cfg.StageDispatchBurst, d.dir, d.reporter)
	})
	if err != nil {
		logger.Log.Warnf("dispatch: auth for session %d failed at stage resolution: %v", s.ID(), err)
		s.FailAuthentication()
		return
	}
	if isNew {
		if res := st.CreateStage(nil); !res.OK {
			logger.Log.Warnf("dispatch: implicit CreateStage failed for session %d: %v", s.ID(), res.Err)
			s.FailAuthentication()
			return
		}
	}

	actorUser := d.actorFac(stageType)
	res := st.JoinStage(actorUser, s.ID(), pkt)
	if !res.OK {
		logger.Log.Debugf("dispatch: JoinStage rejected session %d: %v", s.ID(), res.Err)
		s.FailAuthentication()
		return
	}

	if err := s.SetAuthenticated(res.Actor.AccountID()); err != nil {
		s.FailAuthentication()
		return
	}
	s.SetCurrentStageID(stageID)

	_ = d.ReplyClient(s.ID(), f.MsgID, f.MsgSeq, stageID, 0, nil)
}

// OnSessionDisconnect is the session.DisconnectHandler: it unregisters the
// session and notifies its stage that the connection was lost (not a
// deliberate leave — the Actor stays attached per spec §4.4 DisconnectNotice).
func (d *Dispatch) OnSessionDisconnect(s *session.Session, reason error) {
	d.UnregisterSession(s.ID())
	accountID := s.AccountID()
	if accountID == "" {
		return
	}
	if st, ok := d.dir.Get(s.CurrentStageID()); ok {
		st.DisconnectNotice(accountID)
	}
}

// HandleServerEnvelope is the router.InboundHandler for non-reply envelopes
// arriving from a peer (spec §4.8 item 2). An envelope with StageID=0
// addresses the API controller rather than a Stage (spec §9's
// serviceType-keyed addressing for SendToApi/RequestToApi).
func (d *Dispatch) HandleServerEnvelope(env *router.Envelope) {
	if env.Header.StageID == 0 {
		d.handleAPIEnvelope(env)
		return
	}

	st, ok := d.dir.Get(env.Header.StageID)
	if !ok {
		var err error
		st, _, err = d.dir.GetOrCreate(env.Header.StageID, d.cfg.DefaultStageType, func() *stage.Stage {
			user := d.stageFac(d.cfg.DefaultStageType)
			return stage.New(env.Header.StageID, d.cfg.DefaultStageType, user, d, d.cfg.StageDispatchBurst, d.dir, d.reporter)
		})
		if err != nil {
			d.replyEnvelopeError(env, errors.ErrStageNotFound)
			return
		}
		if res := st.GetOrCreateStage(nil); !res.OK {
			d.replyEnvelopeError(env, res.Err)
			return
		}
	}

	pkt := frame.NewPacket(env.Header.MsgID, env.Payload, env.Header.ErrorCode, nil)
	st.DispatchServer(&stage.ServerMessage{FromNID: env.Header.FromNID, MsgSeq: env.Header.MsgSeq, Packet: pkt})
}

func (d *Dispatch) handleAPIEnvelope(env *router.Envelope) {
	if d.api == nil {
		d.replyEnvelopeError(env, errors.ErrInternal.WithMetadata(map[string]string{"reason": "no api controller bound"}))
		return
	}
	req := frame.NewPacket(env.Header.MsgID, env.Payload, env.Header.ErrorCode, nil)
	reply, err := d.api.Dispatch(req)
	if env.Header.MsgSeq == 0 || d.router == nil {
		return
	}
	if err != nil {
		d.replyEnvelopeError(env, err)
		return
	}
	payload := []byte(nil)
	if reply != nil {
		payload = reply.Payload
	}
	_ = d.router.Reply(env.Header.FromNID, env.Header.MsgSeq, 0, env.Header.MsgID, 0, payload)
}

func (d *Dispatch) replyEnvelopeError(env *router.Envelope, err error) {
	if env.Header.MsgSeq == 0 || d.router == nil {
		return
	}
	_ = d.router.Reply(env.Header.FromNID, env.Header.MsgSeq, env.Header.StageID, env.Header.MsgID, errors.WireCode(err), nil)
}

// --- stage.Outbound ---

// SendToStage fires a one-way message at stageID, locally if owned by this
// process, over the router otherwise.
func (d *Dispatch) SendToStage(stageID int64, msgID string, payload []byte) error {
	if st, ok := d.dir.Get(stageID); ok {
		pkt := frame.NewPacket(msgID, payload, 0, nil)
		st.DispatchServer(&stage.ServerMessage{FromNID: d.cfg.SelfNID, Packet: pkt})
		return nil
	}
	if d.router == nil || d.locator == nil {
		return errors.ErrStageNotFound
	}
	nid, ok := d.locator.LocateStage(stageID)
	if !ok {
		return errors.ErrStageNotFound
	}
	return d.router.Send(nid, stageID, msgID, payload)
}

// RequestToStage issues a correlated request at stageID and blocks for the
// reply, locally or over the router depending on ownership.
func (d *Dispatch) RequestToStage(stageID int64, msgID string, payload []byte, timeout time.Duration) (*frame.Packet, error) {
	if timeout <= 0 {
		timeout = d.cfg.RequestTimeout
	}
	if st, ok := d.dir.Get(stageID); ok {
		return d.requestLocalStage(st, msgID, payload, timeout)
	}
	if d.router == nil || d.locator == nil {
		return nil, errors.ErrStageNotFound
	}
	nid, ok := d.locator.LocateStage(stageID)
	if !ok {
		return nil, errors.ErrStageNotFound
	}
	return d.router.Request(nid, stageID, msgID, payload, timeout)
}

func (d *Dispatch) requestLocalStage(st *stage.Stage, msgID string, payload []byte, timeout time.Duration) (*frame.Packet, error) {
	seq := d.localTracker.NextSeq()
	resultCh := make(chan localResult, 1)
	if err := d.localTracker.Track(seq, timeout, func(resp interface{}, err error) {
		if err != nil {
			resultCh <- localResult{err: err}
			return
		}
		resultCh <- localResult{resp: resp.(*frame.Packet)}
	}); err != nil {
		return nil, err
	}

	pkt := frame.NewPacket(msgID, payload, 0, nil)
	st.DispatchServer(&stage.ServerMessage{FromNID: d.cfg.SelfNID, MsgSeq: seq, Packet: pkt})

	res := <-resultCh
	return res.resp, res.err
}

// SendToAPI fires a one-way message at whichever NID currently answers for
// serviceType.
func (d *Dispatch) SendToAPI(serviceType, msgID string, payload []byte) error {
	if d.router == nil || d.locator == nil {
		return errors.ErrInternal.WithMetadata(map[string]string{"reason": "no router configured for SendToAPI"})
	}
	nid, ok := d.locator.LocateService(serviceType)
	if !ok {
		return errors.ErrInternal.WithMetadata(map[string]string{"reason": "unresolvable serviceType", "serviceType": serviceType})
	}
	return d.router.SendToAPI(nid, 0, msgID, payload)
}

// RequestToAPI issues a correlated request at whichever NID currently
// answers for serviceType.
func (d *Dispatch) RequestToAPI(serviceType, msgID string, payload []byte, timeout time.Duration) (*frame.Packet, error) {
	if timeout <= 0 {
		timeout = d.cfg.RequestTimeout
	}
	if d.router == nil || d.locator == nil {
		return nil, errors.ErrInternal.WithMetadata(map[string]string{"reason": "no router configured for RequestToAPI"})
	}
	nid, ok := d.locator.LocateService(serviceType)
	if !ok {
		return nil, errors.ErrInternal.WithMetadata(map[string]string{"reason": "unresolvable serviceType", "serviceType": serviceType})
	}
	return d.router.RequestToAPI(nid, 0, msgID, payload, timeout)
}

// ReplyClient answers a client request by sessionID.
func (d *Dispatch) ReplyClient(sessionID session.ID, msgID string, seq uint16, stageID int64, errCode uint16, payload []byte) error {
	s, ok := d.sessionByID(sessionID)
	if !ok {
		return errors.ErrConnectionClosed
	}
	f := &frame.Frame{MsgID: msgID, MsgSeq: seq, StageID: stageID, ErrorCode: errCode, Payload: payload, FromServer: true}
	return s.SendResponse(f)
}

// ReplyServer answers a server-originated request: looped back locally if
// fromNID addresses this same process, forwarded over the router otherwise.
func (d *Dispatch) ReplyServer(fromNID, msgID string, seq uint16, errCode uint16, payload []byte) error {
	if fromNID == "" || fromNID == d.cfg.SelfNID {
		pkt := frame.NewPacket(msgID, payload, errCode, nil)
		d.localTracker.Complete(seq, pkt)
		return nil
	}
	if d.router == nil {
		return errors.ErrInternal.WithMetadata(map[string]string{"reason": "no router configured for ReplyServer"})
	}
	return d.router.Reply(fromNID, seq, 0, msgID, errCode, payload)
}
