package transition

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindInvalid       Kind = "invalid"
	KindReadFailure   Kind = "read_failure"
	KindCommitFailure Kind = "commit_failure"
)

// Error is a failed transition. Nothing was written when it is returned.
type Error struct {
	Kind    Kind
	Op      string
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same Kind, so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// IsKind reports whether err is a transition error of the given kind.
func IsKind(err error, kind Kind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == kind
}

func transitionError(kind Kind, op, id, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
