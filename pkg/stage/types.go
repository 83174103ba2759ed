// Package stage implements C4 (the per-stage serialized event loop) and C6
// (the actor/stage directory), the heart of the core per spec §4.4 and §4.6.
package stage

import (
	"time"

	"github.com/ulala-x/playhouse-go/pkg/actor"
	"github.com/ulala-x/playhouse-go/pkg/frame"
	"github.com/ulala-x/playhouse-go/pkg/session"
)

// User is the collaborator interface a game implements for its Stage type
// (spec §6.4 "User Stage type"). Go has no method overloading, so the two
// OnDispatch forms of the spec become OnDispatch (client-originated) and
// OnDispatchServer (peer-originated).
type User interface {
	OnCreate(payload *frame.Packet) (ok bool, reply *frame.Packet)
	OnPostCreate()
	OnDestroy()
	OnJoinStage(a *actor.Actor) bool
	OnPostJoinStage(a *actor.Actor)
	OnConnectionChanged(a *actor.Actor, connected bool)
	OnDispatch(a *actor.Actor, packet *frame.Packet)
	OnDispatchServer(packet *frame.Packet)
}

// Outbound is the capability Stage/Actor callbacks use to reach the outside
// world: replying to the originating client or peer, or issuing new calls to
// other stages/API services. Implemented by the dispatch/router layer (C7/
// C8) and injected at construction so this package never imports them.
type Outbound interface {
	SendToStage(stageID int64, msgID string, payload []byte) error
	RequestToStage(stageID int64, msgID string, payload []byte, timeout time.Duration) (*frame.Packet, error)
	SendToAPI(serviceType, msgID string, payload []byte) error
	RequestToAPI(serviceType, msgID string, payload []byte, timeout time.Duration) (*frame.Packet, error)
	ReplyClient(sessionID session.ID, msgID string, seq uint16, stageID int64, errCode uint16, payload []byte) error
	ReplyServer(fromNID string, msgID string, seq uint16, errCode uint16, payload []byte) error
}

// ClientMessage addresses {stageId, accountId}: spec §4.4 "User client
// message".
type ClientMessage struct {
	AccountID string
	SessionID session.ID
	MsgSeq    uint16
	Packet    *frame.Packet
}

// ServerMessage addresses {stageId} only, from a peer: spec §4.4 "User
// server message".
type ServerMessage struct {
	FromNID string
	MsgSeq  uint16
	Packet  *frame.Packet
}

type itemKind int

const (
	kindCreateStage itemKind = iota
	kindGetOrCreateStage
	kindJoinStage
	kindLeaveStage
	kindDisconnectNotice
	kindReconnect
	kindDestroyStage
	kindClientMessage
	kindServerMessage
	kindTimerCallback
	kindTick
	kindAsyncResult
)

type joinRequest struct {
	user      actor.User
	sessionID session.ID
	authPkt   *frame.Packet
}

type reconnectRequest struct {
	accountID string
	sessionID session.ID
}

// CommandResult is returned from every system command (spec §4.4).
type CommandResult struct {
	OK        bool
	IsCreated bool
	Reply     *frame.Packet
	Actor     *actor.Actor
	Err       error
}

type queueItem struct {
	kind itemKind

	createPayload *frame.Packet
	join          *joinRequest
	leaveAccount  string
	reconnect     *reconnectRequest

	clientMsg *ClientMessage
	serverMsg *ServerMessage

	timerFn func()

	tickDelta, tickTotal time.Duration

	asyncFn func()

	resultCh chan CommandResult
}
