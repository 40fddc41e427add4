package app

import (
	"errors"

	"ecoroster/console/internal/session"
	"ecoroster/console/internal/transition"
)

type Level string

const (
	// LevelNone means there is nothing to show, e.g. the operator declined the prompt.
	LevelNone    Level = ""
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Operator-facing notice texts.
const (
	MsgApproved       = "Request approved successfully!"
	MsgApproveFailed  = "Failed to approve request."
	MsgRemoved        = "User deleted successfully!"
	MsgRemoveFailed   = "Failed to delete user."
	MsgNotPermitted   = "You are not allowed to do that."
	MsgLoginRequired  = session.ReasonLoginRequired
	detailNotFound    = "it no longer exists"
	detailInvalid     = "the record is incomplete"
	detailUnavailable = "the store is unavailable"
)

// Notice is the outcome of an operator action, ready to display. Err keeps the cause for logs and
// exit codes; it is never shown raw.
type Notice struct {
	Level   Level
	Message string
	Detail  string
	Err     error
}

func (n Notice) Failed() bool { return n.Level == LevelError }

func success(message string) Notice {
	return Notice{Level: LevelSuccess, Message: message}
}

// failure turns any transition error into a notice.
func failure(message string, err error) Notice {
	n := Notice{Level: LevelError, Message: message, Err: err}
	switch {
	case errors.Is(err, session.ErrAuthorizationAbsent):
		n.Message = MsgLoginRequired
	case errors.Is(err, errNotPermitted):
		n.Message = MsgNotPermitted
	case transition.IsKind(err, transition.KindNotFound):
		n.Detail = detailNotFound
	case transition.IsKind(err, transition.KindInvalid):
		n.Detail = detailInvalid
	case transition.IsKind(err, transition.KindReadFailure), transition.IsKind(err, transition.KindCommitFailure):
		n.Detail = detailUnavailable
	}
	return n
}

var errNotPermitted = errors.New("action not permitted")
