package stage

import (
	"context"
	"time"

	"github.com/ulala-x/playhouse-go/pkg/actor"
	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/frame"
	"github.com/ulala-x/playhouse-go/pkg/session"
	"github.com/ulala-x/playhouse-go/pkg/tracing"
)

const commandTimeout = 5 * time.Second

func (s *Stage) submit(item queueItem) CommandResult {
	item.resultCh = make(chan CommandResult, 1)
	s.enqueueItem(item)
	select {
	case r := <-item.resultCh:
		return r
	case <-time.After(commandTimeout):
		return CommandResult{Err: errors.ErrInternal.WithMetadata(map[string]string{"reason": "system command stalled"})}
	}
}

// CreateStage: spec §4.4 "CreateStage". Strict create: fails if already
// created.
func (s *Stage) CreateStage(payload *frame.Packet) CommandResult {
	return s.submit(queueItem{kind: kindCreateStage, createPayload: payload})
}

// GetOrCreateStage: like CreateStage but returns isCreated=false and current
// state when already created.
func (s *Stage) GetOrCreateStage(payload *frame.Packet) CommandResult {
	return s.submit(queueItem{kind: kindGetOrCreateStage, createPayload: payload})
}

func (s *Stage) handleCreateStage(item queueItem, getOrCreate bool) {
	if s.created {
		if getOrCreate {
			item.resultCh <- CommandResult{OK: true, IsCreated: false}
			return
		}
		item.resultCh <- CommandResult{OK: false, Err: errors.ErrStageAlreadyExists}
		return
	}

	ok, reply := s.user.OnCreate(item.createPayload)
	if !ok {
		item.resultCh <- CommandResult{OK: false, Err: errors.ErrInternal.WithMetadata(map[string]string{"reason": "StageCreationFailed"})}
		return
	}
	s.created = true
	s.user.OnPostCreate()
	item.resultCh <- CommandResult{OK: true, IsCreated: true, Reply: reply}
}

// JoinStage: construct an Actor bound to the session, authenticate, attach.
func (s *Stage) JoinStage(user actor.User, sessionID session.ID, authPacket *frame.Packet) CommandResult {
	return s.submit(queueItem{kind: kindJoinStage, join: &joinRequest{user: user, sessionID: sessionID, authPkt: authPacket}})
}

func (s *Stage) handleJoinStage(item queueItem) {
	jr := item.join
	a := actor.New(jr.user, s.ID, jr.sessionID)

	a.User.OnCreate()
	ok := a.User.OnAuthenticate(jr.authPkt)
	if !ok {
		a.User.OnDestroy()
		item.resultCh <- CommandResult{OK: false, Err: errors.ErrAuthenticationFailed}
		return
	}
	if a.AccountID() == "" {
		a.User.OnDestroy()
		item.resultCh <- CommandResult{OK: false, Err: errors.ErrAccountIdNotSet}
		return
	}

	a.User.OnPostAuthenticate()

	if !s.user.OnJoinStage(a) {
		a.User.OnDestroy()
		item.resultCh <- CommandResult{OK: false, Err: errors.ErrJoinStageFailed}
		return
	}

	s.actors[a.AccountID()] = a
	s.user.OnPostJoinStage(a)
	item.resultCh <- CommandResult{OK: true, Actor: a}
}

// LeaveStage: locate Actor by accountId, remove, OnDestroy.
func (s *Stage) LeaveStage(accountID string) CommandResult {
	return s.submit(queueItem{kind: kindLeaveStage, leaveAccount: accountID})
}

func (s *Stage) handleLeaveStage(item queueItem) {
	a, ok := s.actors[item.leaveAccount]
	if !ok {
		item.resultCh <- CommandResult{OK: false, Err: errors.ErrActorNotFound}
		return
	}
	delete(s.actors, item.leaveAccount)
	a.User.OnDestroy()
	item.resultCh <- CommandResult{OK: true}
}

// DisconnectNotice: invoke OnConnectionChanged(actor, false); the Actor is
// NOT removed — policy for timeout/cleanup is the Stage implementation's.
func (s *Stage) DisconnectNotice(accountID string) CommandResult {
	return s.submit(queueItem{kind: kindDisconnectNotice, leaveAccount: accountID})
}

func (s *Stage) handleDisconnectNotice(item queueItem) {
	a, ok := s.actors[item.leaveAccount]
	if !ok {
		item.resultCh <- CommandResult{OK: false, Err: errors.ErrActorNotFound}
		return
	}
	a.SetConnected(false, a.SessionID)
	s.user.OnConnectionChanged(a, false)
	item.resultCh <- CommandResult{OK: true}
}

// Reconnect: update the Actor's bound session identity, OnConnectionChanged(true).
func (s *Stage) Reconnect(accountID string, sessionID session.ID) CommandResult {
	return s.submit(queueItem{kind: kindReconnect, reconnect: &reconnectRequest{accountID: accountID, sessionID: sessionID}})
}

func (s *Stage) handleReconnect(item queueItem) {
	rr := item.reconnect
	a, ok := s.actors[rr.accountID]
	if !ok {
		item.resultCh <- CommandResult{OK: false, Err: errors.ErrActorNotFound}
		return
	}
	a.SetConnected(true, rr.sessionID)
	s.user.OnConnectionChanged(a, true)
	item.resultCh <- CommandResult{OK: true}
}

// DestroyStage: cancel all timers, stop game loop, destroy every Actor, mark
// created=false, and remove the stage from its directory.
func (s *Stage) DestroyStage() CommandResult {
	return s.submit(queueItem{kind: kindDestroyStage})
}

func (s *Stage) handleDestroyStage(item queueItem) {
	s.scheduler.CancelAll()
	for accountID, a := range s.actors {
		a.User.OnDestroy()
		delete(s.actors, accountID)
	}
	s.created = false
	s.user.OnDestroy()
	if s.dir != nil {
		s.dir.remove(s.ID)
	}
	item.resultCh <- CommandResult{OK: true}
}

// --- user messages ---

// Dispatch enqueues a client-originated message (spec §4.4 item 2).
func (s *Stage) Dispatch(msg *ClientMessage) {
	s.enqueueItem(queueItem{kind: kindClientMessage, clientMsg: msg})
}

// DispatchServer enqueues a peer-originated message (spec §4.4 item 3).
func (s *Stage) DispatchServer(msg *ServerMessage) {
	s.enqueueItem(queueItem{kind: kindServerMessage, serverMsg: msg})
}

func (s *Stage) handleClientMessage(item queueItem) {
	msg := item.clientMsg
	span, _ := tracing.StartSpan(context.Background(), "stage.dispatch", s.ID, msg.Packet.MsgID, msg.MsgSeq)
	var dispatchErr error
	defer func() { tracing.FinishSpan(span, dispatchErr) }()

	a, ok := s.actors[msg.AccountID]
	if !ok {
		dispatchErr = errors.ErrActorNotFound
		if msg.MsgSeq != 0 {
			_ = s.outbound.ReplyClient(msg.SessionID, msg.Packet.MsgID, msg.MsgSeq, s.ID, errors.WireCode(errors.ErrActorNotFound), nil)
		}
		return
	}

	s.curClientMsg = msg
	defer func() { s.curClientMsg = nil }()
	s.user.OnDispatch(a, msg.Packet)
}

func (s *Stage) handleServerMessage(item queueItem) {
	msg := item.serverMsg
	span, _ := tracing.StartSpan(context.Background(), "stage.dispatchServer", s.ID, msg.Packet.MsgID, msg.MsgSeq)
	defer tracing.FinishSpan(span, nil)

	s.curServerMsg = msg
	defer func() { s.curServerMsg = nil }()
	s.user.OnDispatchServer(msg.Packet)
}

// Reply answers the request currently being dispatched (client or server
// origin), per the current-request header of spec §4.4. It is a programming
// error to call Reply outside of OnDispatch/OnDispatchServer; in that case it
// returns ErrInternal.
func (s *Stage) Reply(payload []byte) error {
	return s.replyWithCode(payload, 0)
}

// ReplyError answers the current request with a typed error.
func (s *Stage) ReplyError(err error) error {
	return s.replyWithCode(nil, errors.WireCode(err))
}

func (s *Stage) replyWithCode(payload []byte, code uint16) error {
	if s.curClientMsg != nil {
		m := s.curClientMsg
		if m.MsgSeq == 0 {
			return nil // one-way message, nothing to reply to
		}
		return s.outbound.ReplyClient(m.SessionID, m.Packet.MsgID, m.MsgSeq, s.ID, code, payload)
	}
	if s.curServerMsg != nil {
		m := s.curServerMsg
		if m.MsgSeq == 0 {
			return nil
		}
		return s.outbound.ReplyServer(m.FromNID, m.Packet.MsgID, m.MsgSeq, code, payload)
	}
	return errors.ErrInternal.WithMetadata(map[string]string{"reason": "Reply called outside dispatch"})
}
