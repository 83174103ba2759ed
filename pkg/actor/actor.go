// Package actor defines the server-side per-user endpoint inside one Stage
// (spec §3 "Actor", §6.4 "User Actor type").
package actor

import (
	"github.com/ulala-x/playhouse-go/pkg/frame"
	"github.com/ulala-x/playhouse-go/pkg/session"
)

// User is the collaborator interface a game implements for its Actor type.
// OnAuthenticate must publish a non-empty account id (readable afterwards
// via AccountID) before returning true; if it returns true but AccountID()
// is still empty, the Stage treats this as a contract violation
// (AccountIdNotSet, spec §4.4).
type User interface {
	OnCreate()
	OnAuthenticate(packet *frame.Packet) bool
	OnPostAuthenticate()
	OnDestroy()
	AccountID() string
}

// Actor is the core-owned wrapper around one user Actor. SessionID is a weak
// reference: it identifies the bound session only if that session is still
// alive, resolved through the directory at use time (spec §9 arena+weak
// reference pattern).
type Actor struct {
	User      User
	StageID   int64
	SessionID session.ID

	connected bool
}

// New wraps a user-supplied Actor implementation.
func New(user User, stageID int64, sessionID session.ID) *Actor {
	return &Actor{User: user, StageID: stageID, SessionID: sessionID, connected: true}
}

// AccountID reads through to the user Actor's published account id.
func (a *Actor) AccountID() string { return a.User.AccountID() }

// Connected reports whether the bound session is currently live (per the
// last DisconnectNotice/Reconnect system command observed, spec §4.4).
func (a *Actor) Connected() bool { return a.connected }

// SetConnected updates connectivity bookkeeping; used by DisconnectNotice and
// Reconnect system commands.
func (a *Actor) SetConnected(connected bool, sid session.ID) {
	a.connected = connected
	if connected {
		a.SessionID = sid
	}
}
