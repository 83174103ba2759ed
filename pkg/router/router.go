package router

import (
	"context"
	"sync"
	"time"

	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/frame"
	"github.com/ulala-x/playhouse-go/pkg/logger"
	"github.com/ulala-x/playhouse-go/pkg/metrics"
	"github.com/ulala-x/playhouse-go/pkg/tracker"
	"github.com/ulala-x/playhouse-go/pkg/tracing"
)

const defaultPeerQueueCapacity = 65536

// Transport is the "any reliable, ordered, message-preserving transport"
// seam of spec §4.7; natstransport and grpctransport are the two concrete
// implementations shipped with this module.
type Transport interface {
	// Deliver hands one already-encoded envelope to the peer identified by
	// nid. Must preserve at-most-once delivery and in-order-per-(peer,
	// source-sender) per spec §4.7.
	Deliver(nid string, envelope []byte) error
	Close() error
}

// Resolver answers "does this NID exist right now" (spec §3 "Server
// directory entry"), backing immediate Backpressure/unreachable errors.
type Resolver interface {
	Resolve(nid string) (endpoint string, ok bool)
}

// InboundHandler processes a non-reply envelope arriving from a peer —
// C8's job of routing it to a Stage or an API controller.
type InboundHandler func(env *Envelope)

// Router implements C7 for one local server process.
type Router struct {
	selfNID  string
	transport Transport
	resolver Resolver
	tracker  *tracker.Tracker
	inbound  InboundHandler
	reporter metrics.Reporter

	mu    sync.Mutex
	peers map[string]*peerQueue
}

type peerQueue struct {
	ch   chan []byte
	once sync.Once
	done chan struct{}
}

// New builds a Router. inbound is invoked for every non-reply envelope this
// process receives. reporter may be nil, in which case metrics.Nop is used.
func New(selfNID string, transport Transport, resolver Resolver, inbound InboundHandler, reporter metrics.Reporter) *Router {
	if reporter == nil {
		reporter = metrics.Nop
	}
	return &Router{
		selfNID:   selfNID,
		transport: transport,
		resolver:  resolver,
		tracker:   tracker.New(reporter),
		inbound:   inbound,
		reporter:  reporter,
		peers:     make(map[string]*peerQueue),
	}
}

func (r *Router) queueFor(nid string) *peerQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.peers[nid]
	if ok {
		return q
	}
	q = &peerQueue{ch: make(chan []byte, defaultPeerQueueCapacity), done: make(chan struct{})}
	r.peers[nid] = q
	go r.drainPeer(nid, q)
	return q
}

func (r *Router) drainPeer(nid string, q *peerQueue) {
	for {
		select {
		case env := <-q.ch:
			if err := r.transport.Deliver(nid, env); err != nil {
				logger.Log.Warnf("router: delivery to %s failed: %v", nid, err)
			}
		case <-q.done:
			return
		}
	}
}

// PeerQueueDepth reports the current backlog for nid, for metrics.
func (r *Router) PeerQueueDepth(nid string) int {
	r.mu.Lock()
	q, ok := r.peers[nid]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return len(q.ch)
}

func (r *Router) enqueueToPeer(nid string, env *Envelope) error {
	if _, ok := r.resolver.Resolve(nid); !ok {
		return errors.ErrInternal.WithMetadata(map[string]string{"reason": "unreachable NID", "nid": nid})
	}
	wire, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	q := r.queueFor(nid)
	select {
	case q.ch <- wire:
		r.reporter.ReportGauge(metrics.RouterPeerQueueDepth, map[string]string{"nid": nid}, float64(len(q.ch)))
		return nil
	default:
		r.reporter.ReportCounter(metrics.RouterBackpressureRejected, map[string]string{"nid": nid}, 1)
		return errors.ErrBackpressure.WithMetadata(map[string]string{"nid": nid})
	}
}

// Send issues a fire-and-forget envelope (msgSeq=0) to a peer Stage.
func (r *Router) Send(toNID string, stageID int64, msgID string, payload []byte) error {
	env := &Envelope{Header: RouteHeader{
		MsgSeq:  0,
		MsgID:   msgID,
		FromNID: r.selfNID,
		StageID: stageID,
	}, Payload: payload}
	return r.enqueueToPeer(toNID, env)
}

// Request issues a correlated request to a peer Stage and blocks until the
// reply arrives or timeout elapses.
func (r *Router) Request(toNID string, stageID int64, msgID string, payload []byte, timeout time.Duration) (*frame.Packet, error) {
	seq := r.tracker.NextSeq()
	span, _ := tracing.StartSpan(context.Background(), "router.request", stageID, msgID, seq)
	var reqErr error
	defer func() { tracing.FinishSpan(span, reqErr) }()

	resultCh := make(chan result, 1)
	if err := r.tracker.Track(seq, timeout, func(resp interface{}, err error) {
		resultCh <- result{resp: resp, err: err}
	}); err != nil {
		reqErr = err
		return nil, err
	}

	env := &Envelope{Header: RouteHeader{
		MsgSeq:  seq,
		MsgID:   msgID,
		FromNID: r.selfNID,
		StageID: stageID,
	}, Payload: payload}

	if err := r.enqueueToPeer(toNID, env); err != nil {
		r.tracker.Fail(seq, err)
		<-resultCh
		reqErr = err
		return nil, err
	}

	res := <-resultCh
	if res.err != nil {
		reqErr = res.err
		return nil, res.err
	}
	return res.resp.(*frame.Packet), nil
}

// SendToAPI and RequestToAPI address a stateless service type rather than a
// specific stage (stageId=0). The peer is chosen by toNID; serviceType is only
// copied into the header.
func (r *Router) SendToAPI(toNID string, serviceType uint16, msgID string, payload []byte) error {
	env := &Envelope{Header: RouteHeader{MsgID: msgID, FromNID: r.selfNID, ServiceType: serviceType}, Payload: payload}
	return r.enqueueToPeer(toNID, env)
}

func (r *Router) RequestToAPI(toNID string, serviceType uint16, msgID string, payload []byte, timeout time.Duration) (*frame.Packet, error) {
	seq := r.tracker.NextSeq()
	span, _ := tracing.StartSpan(context.Background(), "router.requestToAPI", 0, msgID, seq)
	var reqErr error
	defer func() { tracing.FinishSpan(span, reqErr) }()

	resultCh := make(chan result, 1)
	if err := r.tracker.Track(seq, timeout, func(resp interface{}, err error) {
		resultCh <- result{resp: resp, err: err}
	}); err != nil {
		reqErr = err
		return nil, err
	}
	env := &Envelope{Header: RouteHeader{MsgSeq: seq, MsgID: msgID, FromNID: r.selfNID, ServiceType: serviceType}, Payload: payload}
	if err := r.enqueueToPeer(toNID, env); err != nil {
		r.tracker.Fail(seq, err)
		<-resultCh
		reqErr = err
		return nil, err
	}
	res := <-resultCh
	if res.err != nil {
		reqErr = res.err
		return nil, res.err
	}
	return res.resp.(*frame.Packet), nil
}

// Reply sends a correlated reply back to toNID for the given seq.
func (r *Router) Reply(toNID string, seq uint16, stageID int64, msgID string, errorCode uint16, payload []byte) error {
	env := &Envelope{Header: RouteHeader{
		MsgSeq:    seq,
		MsgID:     msgID,
		FromNID:   r.selfNID,
		StageID:   stageID,
		IsReply:   true,
		ErrorCode: errorCode,
	}, Payload: payload}
	return r.enqueueToPeer(toNID, env)
}

// HandleInbound is called by a Transport implementation when a new envelope
// arrives. Replies feed the request tracker; everything else goes to the
// registered InboundHandler (C8).
func (r *Router) HandleInbound(wire []byte) {
	env, err := DecodeEnvelope(wire)
	if err != nil {
		logger.Log.Warnf("router: dropping malformed envelope: %v", err)
		return
	}
	if env.Header.IsReply {
		pkt := frame.NewPacket(env.Header.MsgID, env.Payload, env.Header.ErrorCode, nil)
		r.tracker.Complete(env.Header.MsgSeq, pkt)
		return
	}
	if r.inbound != nil {
		r.inbound(env)
	}
}

// Close tears down every peer queue and closes the underlying transport.
func (r *Router) Close() error {
	r.mu.Lock()
	for _, q := range r.peers {
		q.once.Do(func() { close(q.done) })
	}
	r.mu.Unlock()
	r.tracker.CancelAll(errors.ErrConnectionClosed)
	return r.transport.Close()
}

type result struct {
	resp interface{}
	err  error
}
