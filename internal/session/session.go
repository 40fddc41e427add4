// Package session tracks which operator is signed in to the console and keeps non-admins out.
package session

import (
	"context"
	"errors"

	"ecoroster/console/internal/auth"
)

// Redirect reasons shown to the operator.
const (
	ReasonLoginRequired = "Please login to access the roster."
	ReasonNotAdmin      = "Only admin accounts are allowed."
)

var (
	// ErrAuthorizationAbsent is returned when no admin identity is signed in.
	ErrAuthorizationAbsent = errors.New("authorization absent")
	ErrInvalidEmail        = errors.New("invalid email address")
	ErrNotAdmin            = errors.New(ReasonNotAdmin)
)

// Provider reports the signed-in identity. A nil identity with a nil error means nobody is signed in.
type Provider interface {
	CurrentIdentity(ctx context.Context) (*auth.Identity, error)
	// OnIdentityChange calls fn with the new identity after every sign-in or sign-out until the
	// returned unsubscribe func is called or ctx ends.
	OnIdentityChange(ctx context.Context, fn func(*auth.Identity)) (func(), error)
}
