package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ecoroster/console/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin    = &auth.Identity{Subject: "a1", Email: "ops@youradmin.com"}
	outsider = &auth.Identity{Subject: "o1", Email: "someone@gmail.com"}
)

type redirects struct {
	mu      sync.Mutex
	reasons []string
}

func (r *redirects) record(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *redirects) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

func TestGuardAllowsAdmin(t *testing.T) {
	p := NewMemoryProvider(admin)
	r := &redirects{}

	a := NewGuard(p, "youradmin.com", r.record).Activate(context.Background())
	defer a.Release()

	assert.True(t, a.Authorized())
	assert.NoError(t, a.Check())
	assert.Equal(t, admin, a.Identity())
	assert.Empty(t, r.all())
}

func TestGuardRedirectsAbsentIdentity(t *testing.T) {
	p := NewMemoryProvider(nil)
	r := &redirects{}

	a := NewGuard(p, "youradmin.com", r.record).Activate(context.Background())
	defer a.Release()

	assert.False(t, a.Authorized())
	assert.ErrorIs(t, a.Check(), ErrAuthorizationAbsent)
	assert.Equal(t, []string{ReasonLoginRequired}, r.all())
}

func TestGuardRedirectsNonAdmin(t *testing.T) {
	p := NewMemoryProvider(outsider)
	r := &redirects{}

	a := NewGuard(p, "youradmin.com", r.record).Activate(context.Background())
	defer a.Release()

	assert.False(t, a.Authorized())
	assert.Equal(t, []string{ReasonNotAdmin}, r.all())
}

func TestGuardTreatsProviderErrorAsAbsent(t *testing.T) {
	p := NewMemoryProvider(admin)
	p.Fail(errors.New("token refresh failed"))
	r := &redirects{}

	a := NewGuard(p, "youradmin.com", r.record).Activate(context.Background())
	defer a.Release()

	assert.False(t, a.Authorized())
	assert.Equal(t, []string{ReasonLoginRequired}, r.all())
}

func TestGuardReactsToLaterChanges(t *testing.T) {
	p := NewMemoryProvider(admin)
	r := &redirects{}

	a := NewGuard(p, "youradmin.com", r.record).Activate(context.Background())
	defer a.Release()
	require.True(t, a.Authorized())

	p.Set(nil)
	assert.False(t, a.Authorized())
	assert.Equal(t, []string{ReasonLoginRequired}, r.all())

	p.Set(outsider)
	assert.Equal(t, []string{ReasonLoginRequired, ReasonNotAdmin}, r.all())

	p.Set(admin)
	assert.True(t, a.Authorized())
	assert.Len(t, r.all(), 2)
}

func TestGuardReleaseStopsWatching(t *testing.T) {
	p := NewMemoryProvider(admin)
	r := &redirects{}

	a := NewGuard(p, "youradmin.com", r.record).Activate(context.Background())
	require.Equal(t, 1, p.Subscribers())

	a.Release()
	a.Release()
	assert.Equal(t, 0, p.Subscribers())

	p.Set(nil)
	assert.Empty(t, r.all())
	assert.False(t, a.Authorized())
}

func TestGuardNilRedirect(t *testing.T) {
	a := NewGuard(NewMemoryProvider(nil), "youradmin.com", nil).Activate(context.Background())
	defer a.Release()
	assert.False(t, a.Authorized())
}

// lookupRaceProvider delivers a change event while CurrentIdentity is running and then returns the
// identity it held before that change.
type lookupRaceProvider struct {
	before *auth.Identity
	after  *auth.Identity
	fn     func(*auth.Identity)
}

func (p *lookupRaceProvider) CurrentIdentity(context.Context) (*auth.Identity, error) {
	p.fn(p.after)
	return p.before, nil
}

func (p *lookupRaceProvider) OnIdentityChange(_ context.Context, fn func(*auth.Identity)) (func(), error) {
	p.fn = fn
	return func() {}, nil
}

func TestGuardKeepsChangeDeliveredDuringLookup(t *testing.T) {
	tests := []struct {
		name       string
		before     *auth.Identity
		after      *auth.Identity
		authorized bool
		reasons    []string
	}{
		{name: "sign-out wins over stale admin", before: admin, after: nil, reasons: []string{ReasonLoginRequired}},
		{name: "sign-in wins over stale absence", before: nil, after: admin, authorized: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &lookupRaceProvider{before: tt.before, after: tt.after}
			r := &redirects{}

			a := NewGuard(p, "youradmin.com", r.record).Activate(context.Background())
			defer a.Release()

			assert.Equal(t, tt.authorized, a.Authorized())
			assert.Equal(t, tt.after, a.Identity())
			if tt.authorized {
				assert.NoError(t, a.Check())
			} else {
				assert.ErrorIs(t, a.Check(), ErrAuthorizationAbsent)
			}
			assert.Equal(t, tt.reasons, r.all())
		})
	}
}
