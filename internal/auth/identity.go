package auth

import (
	"context"
	"regexp"
	"strings"
)

// Identity is the operator a session belongs to.
type Identity struct {
	Subject     string `json:"sub"`
	Email       string `json:"email"`
	DisplayName string `json:"name,omitempty"`
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether value looks like an email address.
func ValidEmail(value string) bool {
	return emailPattern.MatchString(value)
}

// IsAdmin reports whether id is present and its email belongs to adminDomain or one of its
// subdomains. The comparison ignores case; "x@evilexample.com" does not match "example.com".
func IsAdmin(id *Identity, adminDomain string) bool {
	if id == nil {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(adminDomain))
	if domain == "" {
		return false
	}
	at := strings.LastIndex(id.Email, "@")
	if at < 0 {
		return false
	}
	host := strings.ToLower(strings.TrimSpace(id.Email[at+1:]))
	return host == domain || strings.HasSuffix(host, "."+domain)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
