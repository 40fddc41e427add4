package session

import (
	"context"
	"log/slog"
	"sync"

	"ecoroster/console/internal/auth"
)

// Guard keeps an admin-only surface closed to everyone else. It checks the current identity when
// activated and again on every identity change, calling redirect whenever the check fails.
type Guard struct {
	provider    Provider
	adminDomain string
	redirect    func(reason string)
	logger      *slog.Logger
}

func NewGuard(provider Provider, adminDomain string, redirect func(reason string)) *Guard {
	if redirect == nil {
		redirect = func(string) {}
	}
	return &Guard{
		provider:    provider,
		adminDomain: adminDomain,
		redirect:    redirect,
		logger:      slog.Default().With("component", "guard"),
	}
}

// Activation is one guarded visit. Release it when the surface closes.
type Activation struct {
	guard *Guard

	mu         sync.Mutex
	released   bool
	authorized bool
	identity   *auth.Identity
	// changes counts identity change events seen since subscribing.
	changes uint64

	unsubscribe func()
	once        sync.Once
}

// Activate subscribes to identity changes, then evaluates the current identity. A change event
// that arrives while the initial lookup is in flight is newer than the lookup, so the lookup result
// is dropped in that case.
func (g *Guard) Activate(ctx context.Context) *Activation {
	a := &Activation{guard: g}

	unsubscribe, err := g.provider.OnIdentityChange(ctx, a.changed)
	if err != nil {
		g.logger.Error("watching identity changes", "error", err)
	} else {
		a.unsubscribe = unsubscribe
	}

	seen := a.changeCount()
	id, err := g.provider.CurrentIdentity(ctx)
	if err != nil {
		g.logger.Warn("identity lookup failed, treating as signed out", "error", err)
		id = nil
	}
	a.evaluate(id, func() bool { return a.changes == seen })
	return a
}

func (a *Activation) changeCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.changes
}

func (a *Activation) changed(id *auth.Identity) {
	a.evaluate(id, func() bool {
		a.changes++
		return true
	})
}

// evaluate applies id when apply, called under a.mu, agrees.
func (a *Activation) evaluate(id *auth.Identity, apply func() bool) {
	a.mu.Lock()
	if a.released || !apply() {
		a.mu.Unlock()
		return
	}
	ok := auth.IsAdmin(id, a.guard.adminDomain)
	a.authorized = ok
	a.identity = id
	a.mu.Unlock()

	if ok {
		return
	}
	reason := ReasonLoginRequired
	if id != nil {
		reason = ReasonNotAdmin
	}
	a.guard.logger.Info("redirecting operator", "reason", reason)
	a.guard.redirect(reason)
}

// Authorized reports the result of the latest evaluation.
func (a *Activation) Authorized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authorized
}

// Identity returns the identity of the latest evaluation, or nil.
func (a *Activation) Identity() *auth.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// Check returns ErrAuthorizationAbsent unless an admin is signed in.
func (a *Activation) Check() error {
	if !a.Authorized() {
		return ErrAuthorizationAbsent
	}
	return nil
}

// Release stops watching identity changes. It is safe to call more than once.
func (a *Activation) Release() {
	a.once.Do(func() {
		a.mu.Lock()
		a.released = true
		a.authorized = false
		a.mu.Unlock()
		if a.unsubscribe != nil {
			a.unsubscribe()
		}
	})
}
