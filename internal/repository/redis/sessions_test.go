package redis

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/repository"
)

func testSession(id, userID string) domain.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Session{
		ID:               id,
		UserID:           userID,
		CurrentAccountID: "acct-1",
		CurrentTenantID:  "tenant-1",
		CurrentRoleID:    "role-1",
		Bindings: []domain.Binding{
			{AccountID: "acct-1", TenantID: "tenant-1", RoleID: "role-1"},
		},
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(30 * 24 * time.Hour),
	}
}

func TestSessionRepository_SaveAndGet(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewSessionRepository(client, "sess:test")

	session := testSession("session-1", "user-1")
	if err := repo.Save(context.Background(), session, time.Hour); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded, err := repo.Get(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if loaded.UserID != "user-1" {
		t.Fatalf("expected user-1, got %s", loaded.UserID)
	}
	if len(loaded.Bindings) != 1 || loaded.Bindings[0].TenantID != "tenant-1" {
		t.Fatalf("bindings not round-tripped: %+v", loaded.Bindings)
	}
	if !loaded.ExpiresAt.Equal(session.ExpiresAt) {
		t.Fatalf("expected expires_at %v, got %v", session.ExpiresAt, loaded.ExpiresAt)
	}
}

func TestSessionRepository_GetMissing(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewSessionRepository(client, "sess:test")

	if _, err := repo.Get(context.Background(), "absent"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionRepository_RecordExpiry(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewSessionRepository(client, "sess:test")

	if err := repo.Save(context.Background(), testSession("session-2", "user-1"), time.Minute); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	server.FastForward(2 * time.Minute)

	if _, err := repo.Get(context.Background(), "session-2"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}

func TestSessionRepository_IndexLifecycle(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewSessionRepository(client, "sess:test")
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := repo.Index(ctx, "user-9", id); err != nil {
			t.Fatalf("Index returned error: %v", err)
		}
	}

	ids, err := repo.IndexedSessionIDs(ctx, "user-9")
	if err != nil {
		t.Fatalf("IndexedSessionIDs returned error: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 3 || ids[0] != "s1" || ids[2] != "s3" {
		t.Fatalf("unexpected index contents: %v", ids)
	}

	if err := repo.Unindex(ctx, "user-9", "s2"); err != nil {
		t.Fatalf("Unindex returned error: %v", err)
	}

	ids, err = repo.IndexedSessionIDs(ctx, "user-9")
	if err != nil {
		t.Fatalf("IndexedSessionIDs returned error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 indexed ids, got %v", ids)
	}
}

func TestSessionRepository_InvalidInput(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewSessionRepository(client, "sess:test")
	ctx := context.Background()

	if err := repo.Save(ctx, domain.Session{}, time.Minute); err == nil {
		t.Fatalf("expected error for empty session id")
	}
	if err := repo.Save(ctx, testSession("s", "u"), 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	if _, err := repo.Get(ctx, ""); err == nil {
		t.Fatalf("expected error for empty session id")
	}
	if err := repo.Index(ctx, "", "s"); err == nil {
		t.Fatalf("expected error for empty user id")
	}
	if _, err := repo.IndexedSessionIDs(ctx, ""); err == nil {
		t.Fatalf("expected error for empty user id")
	}
}
