package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/core/port"
	"github.com/mkalens/pipehub-identity/internal/repository"
	"github.com/mkalens/pipehub-identity/internal/repository/memory"
)

// seedIdentity arranges a full identity: user, credential account, personal
// workspace, owner role, and the binding tying them together.
func seedIdentity(t *testing.T, dir *memory.Directory, userID, accountID, email string, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	dir.Seed(func(tx port.DirectoryTx) {
		_ = tx.CreateUser(ctx, domain.User{ID: userID, CreatedAt: createdAt})
		_ = tx.CreateAccount(ctx, domain.Account{
			ID: accountID, UserID: userID, Email: email, PasswordHash: "x", CreatedAt: createdAt,
		})
		_ = tx.CreateTenant(ctx, domain.Tenant{
			ID: "pt-" + userID, Kind: domain.TenantKindPersonal, Name: email, OwnerID: &userID, CreatedAt: createdAt,
		})
		_ = tx.CreateRole(ctx, domain.Role{
			ID: "owner-" + userID, TenantID: "pt-" + userID, Kind: domain.RoleKindOwner, Allowed: []string{"*"}, CreatedAt: createdAt,
		})
		_ = tx.CreateBinding(ctx, domain.AccountTenant{
			ID: "bind-" + accountID, UserID: userID, AccountID: accountID,
			TenantID: "pt-" + userID, RoleID: "owner-" + userID, CreatedAt: createdAt,
		})
	})
}

func TestMergeService_LinkFoldsLaterIdentityIntoEarlier(t *testing.T) {
	dir := memory.NewDirectory()
	store := newMemSessionStore()
	events := &captureEvents{}
	clock := newFakeClock()
	sessions := NewSessionService(store, events, nil).WithClock(clock.Now)
	svc := NewMergeService(dir, sessions, events, nil).WithClock(clock.Now)
	ctx := context.Background()

	base := clock.Now().Add(-48 * time.Hour)
	seedIdentity(t, dir, "user-a", "acc-a", "a@example.com", base)
	seedIdentity(t, dir, "user-b", "acc-b", "b@example.com", base.Add(time.Hour))

	session, _, err := sessions.Create(ctx, "user-a", binding("acc-a", "pt-user-a", "owner-user-a"), nil, nil)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	result, err := svc.Link(ctx, "acc-b", "user-a", session.ID)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if result.CanonicalUserID != "user-a" {
		t.Fatalf("canonical = %s, want user-a", result.CanonicalUserID)
	}
	if result.MergedUserID != "user-b" {
		t.Fatalf("merged = %s, want user-b", result.MergedUserID)
	}
	if result.AccountsMoved != 1 {
		t.Fatalf("accounts moved = %d, want 1", result.AccountsMoved)
	}

	moved, err := dir.GetAccount(ctx, "acc-b")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if moved.UserID != "user-a" {
		t.Fatalf("acc-b owner = %s, want user-a", moved.UserID)
	}

	if _, err := dir.GetUser(ctx, "user-b"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("emptied identity should be soft-deleted, got %v", err)
	}

	all, err := dir.ListBindingsByUser(ctx, "user-a")
	if err != nil {
		t.Fatalf("ListBindingsByUser: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("canonical bindings = %d, want 2", len(all))
	}

	// Initiating session holds the union and lands on the linked account's
	// personal-workspace binding.
	got, _ := store.Get(ctx, session.ID)
	if len(got.Bindings) != 2 {
		t.Fatalf("session bindings = %d, want 2", len(got.Bindings))
	}
	want := binding("acc-b", "pt-user-b", "owner-user-b")
	if got.Current() != want {
		t.Fatalf("session current = %+v, want %+v", got.Current(), want)
	}

	if len(events.merged) != 1 {
		t.Fatalf("merged events = %d, want 1", len(events.merged))
	}
	if !events.merged[0].MergedUserRemoved {
		t.Fatal("event should record the merged identity's removal")
	}
}

func TestMergeService_EarlierIdentityWinsRegardlessOfDirection(t *testing.T) {
	dir := memory.NewDirectory()
	store := newMemSessionStore()
	clock := newFakeClock()
	sessions := NewSessionService(store, nil, nil).WithClock(clock.Now)
	svc := NewMergeService(dir, sessions, nil, nil).WithClock(clock.Now)
	ctx := context.Background()

	base := clock.Now().Add(-48 * time.Hour)
	seedIdentity(t, dir, "user-old", "acc-old", "old@example.com", base)
	seedIdentity(t, dir, "user-new", "acc-new", "new@example.com", base.Add(time.Hour))

	// The caller is the LATER identity linking the EARLIER identity's account.
	result, err := svc.Link(ctx, "acc-old", "user-new", "")
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if result.CanonicalUserID != "user-old" {
		t.Fatalf("canonical = %s, want user-old", result.CanonicalUserID)
	}
	if result.MergedUserID != "user-new" {
		t.Fatalf("merged = %s, want user-new", result.MergedUserID)
	}

	acc, _ := dir.GetAccount(ctx, "acc-new")
	if acc.UserID != "user-old" {
		t.Fatalf("acc-new owner = %s, want user-old", acc.UserID)
	}
}

func TestMergeService_CallerOnLaterIdentityKeepsItsSession(t *testing.T) {
	dir := memory.NewDirectory()
	store := newMemSessionStore()
	clock := newFakeClock()
	sessions := NewSessionService(store, nil, nil).WithClock(clock.Now)
	svc := NewMergeService(dir, sessions, nil, nil).WithClock(clock.Now)
	ctx := context.Background()

	base := clock.Now().Add(-48 * time.Hour)
	seedIdentity(t, dir, "user-old", "acc-old", "old@example.com", base)
	seedIdentity(t, dir, "user-new", "acc-new", "new@example.com", base.Add(time.Hour))

	// The caller signed in as the LATER identity and links the earlier one, so
	// the initiating session starts out indexed under the identity that gets
	// folded away.
	session, _, err := sessions.Create(ctx, "user-new", binding("acc-new", "pt-user-new", "owner-user-new"), nil, nil)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	result, err := svc.Link(ctx, "acc-old", "user-new", session.ID)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if result.CanonicalUserID != "user-old" {
		t.Fatalf("canonical = %s, want user-old", result.CanonicalUserID)
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if got.UserID != "user-old" {
		t.Fatalf("session user = %s, want the canonical user-old", got.UserID)
	}
	if len(got.Bindings) != 2 {
		t.Fatalf("session bindings = %d, want union of 2", len(got.Bindings))
	}
	want := binding("acc-old", "pt-user-old", "owner-user-old")
	if got.Current() != want {
		t.Fatalf("session current = %+v, want primary %+v", got.Current(), want)
	}

	// The index entry moved with the session.
	if ids, _ := store.IndexedSessionIDs(ctx, "user-new"); len(ids) != 0 {
		t.Fatalf("folded identity still indexes %d sessions", len(ids))
	}
	listed, err := sessions.ListUserSessions(ctx, "user-old")
	if err != nil {
		t.Fatalf("ListUserSessions: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != session.ID {
		t.Fatalf("canonical identity should list the adopted session, got %+v", listed)
	}
}

func TestMergeService_LinkingOwnAccountIsANoOp(t *testing.T) {
	dir := memory.NewDirectory()
	store := newMemSessionStore()
	events := &captureEvents{}
	clock := newFakeClock()
	sessions := NewSessionService(store, nil, nil).WithClock(clock.Now)
	svc := NewMergeService(dir, sessions, events, nil).WithClock(clock.Now)
	ctx := context.Background()

	seedIdentity(t, dir, "user-a", "acc-a", "a@example.com", clock.Now().Add(-time.Hour))

	result, err := svc.Link(ctx, "acc-a", "user-a", "")
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if result.AccountsMoved != 0 || result.MergedUserID != "" {
		t.Fatalf("self-link must move nothing, got %+v", result)
	}
	if len(events.merged) != 0 {
		t.Fatalf("self-link must not publish a merge event, got %d", len(events.merged))
	}
}

func TestMergeService_RepeatedLinkIsIdempotent(t *testing.T) {
	dir := memory.NewDirectory()
	store := newMemSessionStore()
	clock := newFakeClock()
	sessions := NewSessionService(store, nil, nil).WithClock(clock.Now)
	svc := NewMergeService(dir, sessions, nil, nil).WithClock(clock.Now)
	ctx := context.Background()

	base := clock.Now().Add(-48 * time.Hour)
	seedIdentity(t, dir, "user-a", "acc-a", "a@example.com", base)
	seedIdentity(t, dir, "user-b", "acc-b", "b@example.com", base.Add(time.Hour))

	if _, err := svc.Link(ctx, "acc-b", "user-a", ""); err != nil {
		t.Fatalf("first Link: %v", err)
	}
	second, err := svc.Link(ctx, "acc-b", "user-a", "")
	if err != nil {
		t.Fatalf("second Link: %v", err)
	}
	if second.AccountsMoved != 0 || second.MergedUserID != "" {
		t.Fatalf("second link must be a no-op, got %+v", second)
	}

	accounts, _ := dir.ListAccountsByUser(ctx, "user-a")
	if len(accounts) != 2 {
		t.Fatalf("canonical accounts = %d, want 2", len(accounts))
	}
}

func TestMergeService_FailureRollsBackEveryReassignment(t *testing.T) {
	dir := memory.NewDirectory()
	store := newMemSessionStore()
	clock := newFakeClock()
	sessions := NewSessionService(store, nil, nil).WithClock(clock.Now)
	svc := NewMergeService(dir, sessions, nil, nil).WithClock(clock.Now)
	ctx := context.Background()

	base := clock.Now().Add(-48 * time.Hour)
	seedIdentity(t, dir, "user-a", "acc-a", "a@example.com", base)
	seedIdentity(t, dir, "user-b", "acc-b", "b@example.com", base.Add(time.Hour))

	boom := errors.New("storage gone")
	dir.FailNext("SoftDeleteUser", boom)

	if _, err := svc.Link(ctx, "acc-b", "user-a", ""); !errors.Is(err, boom) {
		t.Fatalf("Link: got %v, want injected failure", err)
	}

	// Nothing moved: the account reassignments rolled back with the failure.
	acc, err := dir.GetAccount(ctx, "acc-b")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.UserID != "user-b" {
		t.Fatalf("acc-b owner = %s, want user-b after rollback", acc.UserID)
	}
	if _, err := dir.GetUser(ctx, "user-b"); err != nil {
		t.Fatalf("user-b must survive the rollback, got %v", err)
	}
}
