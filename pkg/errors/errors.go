// Package errors implements the typed error taxonomy of §7: each kind carries
// a stable code used both for Go-level errors.Is matching and for mapping
// onto the wire errorCode field.
package errors

import (
	"errors"
	"fmt"
)

// Error is the core's typed application error. Code is stable and safe to
// compare; Metadata carries optional structured context for logging.
type Error struct {
	Code     string
	Message  string
	Metadata map[string]string
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is/As see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// Is compares by Code only, so a freshly constructed sentinel with no cause
// still matches a wrapped instance raised deep in a call stack.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// New constructs a new *Error. metadata is optional and merged in order.
func New(code, message string, metadata ...map[string]string) *Error {
	md := map[string]string{}
	for _, m := range metadata {
		for k, v := range m {
			md[k] = v
		}
	}
	return &Error{Code: code, Message: message, Metadata: md}
}

// Wrap attaches a cause to an existing sentinel without mutating it.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Code: sentinel.Code, Message: sentinel.Message, Metadata: sentinel.Metadata, cause: cause}
}

// WithMetadata returns a copy of e with additional metadata merged in.
func (e *Error) WithMetadata(kv map[string]string) *Error {
	md := make(map[string]string, len(e.Metadata)+len(kv))
	for k, v := range e.Metadata {
		md[k] = v
	}
	for k, v := range kv {
		md[k] = v
	}
	return &Error{Code: e.Code, Message: e.Message, Metadata: md, cause: e.cause}
}

// Taxonomy of §7. errorCodes below maps each to the 2-byte wire errorCode.
var (
	ErrFrameFormat          = New("FrameFormatError", "frame failed decoder validation")
	ErrConnectionFailed     = New("ConnectionFailed", "transport-level failure")
	ErrConnectionClosed     = New("ConnectionClosed", "connection closed")
	ErrHeartbeatTimeout     = New("HeartbeatTimeout", "heartbeat silence exceeded timeout")
	ErrRequestTimeout       = New("RequestTimeout", "deadline elapsed before reply")
	ErrBackpressure         = New("Backpressure", "outbound peer queue full")
	ErrStageAlreadyExists   = New("StageAlreadyExists", "stage already exists")
	ErrStageNotFound        = New("StageNotFound", "stage not found")
	ErrAuthenticationFailed = New("AuthenticationFailed", "OnAuthenticate rejected the request")
	ErrAccountIdNotSet      = New("AccountIdNotSet", "OnAuthenticate returned true but left accountId empty")
	ErrJoinStageFailed      = New("JoinStageFailed", "OnJoinStage rejected the actor")
	ErrActorNotFound        = New("ActorNotFound", "actor not found in stage")
	ErrUncheckedContents    = New("UncheckedContentsError", "user callback panicked")
	ErrInternal             = New("InternalError", "internal framework invariant violated")
)

// errorCodes maps a taxonomy sentinel to its 2-byte wire code. 0 is reserved
// for "no error".
var errorCodes = map[string]uint16{
	ErrFrameFormat.Code:          1,
	ErrConnectionFailed.Code:     2,
	ErrConnectionClosed.Code:     3,
	ErrHeartbeatTimeout.Code:     4,
	ErrRequestTimeout.Code:       5,
	ErrBackpressure.Code:         6,
	ErrStageAlreadyExists.Code:   7,
	ErrStageNotFound.Code:        8,
	ErrAuthenticationFailed.Code: 9,
	ErrAccountIdNotSet.Code:      10,
	ErrJoinStageFailed.Code:      11,
	ErrActorNotFound.Code:        12,
	ErrUncheckedContents.Code:    13,
	ErrInternal.Code:             14,
}

// WireCode returns the wire errorCode for err, or 14 (InternalError) for any
// error outside the known taxonomy.
func WireCode(err error) uint16 {
	var e *Error
	if errors.As(err, &e) {
		if code, ok := errorCodes[e.Code]; ok {
			return code
		}
	}
	return errorCodes[ErrInternal.Code]
}
