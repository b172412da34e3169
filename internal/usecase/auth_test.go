package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/core/port"
	"github.com/mkalens/pipehub-identity/internal/infra/security"
	"github.com/mkalens/pipehub-identity/internal/repository/memory"
)

func seedPassword(t *testing.T, dir *memory.Directory, accountID, password string) {
	t.Helper()
	ctx := context.Background()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	account, err := dir.GetAccount(ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	updated := *account
	updated.PasswordHash = hash
	dir.Seed(func(tx port.DirectoryTx) {
		_ = tx.CreateAccount(ctx, updated)
	})
}

func TestAuthService_LoginLandsOnPersonalWorkspace(t *testing.T) {
	dir := memory.NewDirectory()
	store := newMemSessionStore()
	clock := newFakeClock()
	sessions := NewSessionService(store, nil, nil).WithClock(clock.Now)
	svc := NewAuthService(dir, sessions, nil)
	ctx := context.Background()

	seedIdentity(t, dir, "user-a", "acc-a", "a@example.com", clock.Now().Add(-time.Hour))
	seedOrgTenant(t, dir, "org-1", "acme")
	seedOrgMember(t, dir, "org-1", "user-a", "acc-a", "org1-member", domain.RoleKindMember)
	seedPassword(t, dir, "acc-a", "correct-horse-battery-staple-91")

	session, token, err := svc.Login(ctx, "A@Example.com", "correct-horse-battery-staple-91", nil, nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" {
		t.Fatal("expected a session token")
	}
	if session.CurrentTenantID != "pt-user-a" {
		t.Fatalf("fresh login should land on the personal workspace, got %s", session.CurrentTenantID)
	}
	if len(session.Bindings) != 1 {
		t.Fatalf("a fresh session carries one binding, got %d", len(session.Bindings))
	}
}

func TestAuthService_LoginRejectsBadCredentials(t *testing.T) {
	dir := memory.NewDirectory()
	store := newMemSessionStore()
	clock := newFakeClock()
	sessions := NewSessionService(store, nil, nil).WithClock(clock.Now)
	svc := NewAuthService(dir, sessions, nil)
	ctx := context.Background()

	seedIdentity(t, dir, "user-a", "acc-a", "a@example.com", clock.Now().Add(-time.Hour))
	seedPassword(t, dir, "acc-a", "correct-horse-battery-staple-91")

	// Unknown email and wrong password are indistinguishable to the caller.
	if _, _, err := svc.Login(ctx, "nobody@example.com", "whatever-long-pass", nil, nil); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(ctx, "a@example.com", "wrong-password-entirely", nil, nil); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthService_AuthorizeSwitchConsultsDirectory(t *testing.T) {
	dir := memory.NewDirectory()
	store := newMemSessionStore()
	clock := newFakeClock()
	sessions := NewSessionService(store, nil, nil).WithClock(clock.Now)
	svc := NewAuthService(dir, sessions, nil)
	ctx := context.Background()

	seedIdentity(t, dir, "user-a", "acc-a", "a@example.com", clock.Now().Add(-time.Hour))
	seedOrgTenant(t, dir, "org-1", "acme")
	seedOrgMember(t, dir, "org-1", "user-a", "acc-a", "org1-member", domain.RoleKindMember)

	// Session opened before the org membership was in it.
	session, _, err := sessions.Create(ctx, "user-a", binding("acc-a", "pt-user-a", "owner-user-a"), nil, nil)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	switched, err := svc.AuthorizeSwitch(ctx, session, "acc-a", "org-1")
	if err != nil {
		t.Fatalf("AuthorizeSwitch: %v", err)
	}
	if switched.CurrentTenantID != "org-1" {
		t.Fatalf("current tenant = %s, want org-1", switched.CurrentTenantID)
	}
	if len(switched.Bindings) != 2 {
		t.Fatalf("session should have picked up the org binding, got %d", len(switched.Bindings))
	}

	// A placement the directory does not know about stays forbidden.
	if _, err := svc.AuthorizeSwitch(ctx, switched, "acc-a", "org-void"); !errors.Is(err, ErrBindingNotHeld) {
		t.Fatalf("unknown placement: got %v, want ErrBindingNotHeld", err)
	}
}
