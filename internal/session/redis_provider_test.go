package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"ecoroster/console/internal/auth"
	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisProvider, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	p, err := NewRedisProvider("redis://"+s.Addr(), "desk-1", "youradmin.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to create redis provider: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, s
}

func TestNewRedisProvider(t *testing.T) {
	p, _ := setupTestRedis(t)

	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestLoginAndCurrentIdentity(t *testing.T) {
	p, s := setupTestRedis(t)
	ctx := context.Background()

	id, err := p.CurrentIdentity(ctx)
	if err != nil || id != nil {
		t.Fatalf("expected empty session, got %+v, %v", id, err)
	}

	signed, err := p.Login(ctx, "ops@youradmin.com", "Ops")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	id, err = p.CurrentIdentity(ctx)
	if err != nil {
		t.Fatalf("CurrentIdentity failed: %v", err)
	}
	if id == nil || id.Email != "ops@youradmin.com" || id.Subject != signed.Subject {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if ttl := s.TTL("session:desk-1"); ttl != time.Hour {
		t.Errorf("expected session TTL 1h, got %v", ttl)
	}
}

func TestLoginRejectsInvalidEmail(t *testing.T) {
	p, s := setupTestRedis(t)

	_, err := p.Login(context.Background(), "not an email", "")
	if err != ErrInvalidEmail {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if s.Exists("session:desk-1") {
		t.Error("session should not be written for an invalid email")
	}
}

func TestLoginRejectsNonAdmin(t *testing.T) {
	p, s := setupTestRedis(t)

	_, err := p.Login(context.Background(), "user@gmail.com", "")
	if err != ErrNotAdmin {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err.Error() != "Only admin accounts are allowed." {
		t.Errorf("unexpected message %q", err.Error())
	}
	if s.Exists("session:desk-1") {
		t.Error("session should not be written for a non-admin")
	}
}

func TestSessionExpires(t *testing.T) {
	p, s := setupTestRedis(t)
	ctx := context.Background()

	if _, err := p.Login(ctx, "ops@youradmin.com", ""); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	s.FastForward(2 * time.Hour)

	id, err := p.CurrentIdentity(ctx)
	if err != nil {
		t.Fatalf("CurrentIdentity failed: %v", err)
	}
	if id != nil {
		t.Fatalf("expected expired session, got %+v", id)
	}
}

func TestLogout(t *testing.T) {
	p, _ := setupTestRedis(t)
	ctx := context.Background()

	// Logging out of an empty session should not error
	if err := p.Logout(ctx); err != nil {
		t.Fatalf("Logout on empty session failed: %v", err)
	}

	if _, err := p.Login(ctx, "ops@youradmin.com", ""); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := p.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	id, err := p.CurrentIdentity(ctx)
	if err != nil || id != nil {
		t.Fatalf("expected empty session after logout, got %+v, %v", id, err)
	}
}

func TestOnIdentityChange(t *testing.T) {
	p, _ := setupTestRedis(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen []*auth.Identity
	)
	unsubscribe, err := p.OnIdentityChange(ctx, func(id *auth.Identity) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, id)
	})
	if err != nil {
		t.Fatalf("OnIdentityChange failed: %v", err)
	}
	defer unsubscribe()

	if _, err := p.Login(ctx, "ops@youradmin.com", ""); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := p.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 identity changes, got %d", len(seen))
	}
	if seen[0] == nil || seen[0].Email != "ops@youradmin.com" {
		t.Errorf("expected sign-in first, got %+v", seen[0])
	}
	if seen[1] != nil {
		t.Errorf("expected sign-out second, got %+v", seen[1])
	}
}

func TestGuardOverRedisProvider(t *testing.T) {
	p, _ := setupTestRedis(t)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		reasons []string
	)
	if _, err := p.Login(ctx, "ops@youradmin.com", ""); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	a := NewGuard(p, "youradmin.com", func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, reason)
	}).Activate(ctx)
	defer a.Release()

	if !a.Authorized() {
		t.Fatal("expected signed-in admin to be authorized")
	}

	if err := p.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.Authorized() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if a.Authorized() {
		t.Fatal("expected guard to notice sign-out")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 1 || reasons[0] != ReasonLoginRequired {
		t.Fatalf("unexpected redirects: %v", reasons)
	}
}
