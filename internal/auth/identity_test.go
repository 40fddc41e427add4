package auth

import (
	"context"
	"testing"
)

func TestIsAdmin(t *testing.T) {
	cases := []struct {
		name  string
		id    *Identity
		admin bool
	}{
		{name: "absent", id: nil, admin: false},
		{name: "exact domain", id: &Identity{Email: "ops@youradmin.com"}, admin: true},
		{name: "mixed case", id: &Identity{Email: "Ops@YourAdmin.COM"}, admin: true},
		{name: "subdomain", id: &Identity{Email: "ops@staff.youradmin.com"}, admin: true},
		{name: "other domain", id: &Identity{Email: "user@gmail.com"}, admin: false},
		{name: "suffix without boundary", id: &Identity{Email: "x@evilyouradmin.com"}, admin: false},
		{name: "domain in local part", id: &Identity{Email: "youradmin.com@gmail.com"}, admin: false},
		{name: "no at sign", id: &Identity{Email: "youradmin.com"}, admin: false},
		{name: "empty email", id: &Identity{Subject: "u1"}, admin: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAdmin(tc.id, "youradmin.com"); got != tc.admin {
				t.Fatalf("IsAdmin(%+v) = %v, want %v", tc.id, got, tc.admin)
			}
		})
	}
}

func TestIsAdminRequiresDomain(t *testing.T) {
	if IsAdmin(&Identity{Email: "ops@youradmin.com"}, " ") {
		t.Fatal("expected no admin without a configured domain")
	}
}

func TestValidEmail(t *testing.T) {
	valid := []string{"a@b.co", "first.last@sub.example.org"}
	invalid := []string{"", "plain", "a@b", "a b@c.d", "@b.co", "a@@b.co"}

	for _, v := range valid {
		if !ValidEmail(v) {
			t.Errorf("ValidEmail(%q) = false, want true", v)
		}
	}
	for _, v := range invalid {
		if ValidEmail(v) {
			t.Errorf("ValidEmail(%q) = true, want false", v)
		}
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != nil {
		t.Fatal("expected no identity in empty context")
	}
	id := &Identity{Subject: "u1", Email: "ops@youradmin.com"}
	if got := FromContext(WithIdentity(ctx, id)); got != id {
		t.Fatalf("FromContext() = %+v, want %+v", got, id)
	}
}
