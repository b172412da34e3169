package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/core/port"
	"github.com/mkalens/pipehub-identity/internal/repository"
)

const (
	defaultSessionPrefix = "sess"
	// index sets outlive their members slightly so cascade repair can still
	// enumerate sessions that expired moments ago.
	indexTTLSlack = 24 * time.Hour
)

// SessionRepository stores full session records as JSON values with per-record
// TTL, plus one set per user indexing that user's session ids.
type SessionRepository struct {
	client *red.Client
	prefix string
}

// NewSessionRepository constructs a Redis-backed session repository.
func NewSessionRepository(client *red.Client, keyPrefix string) *SessionRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSessionPrefix
	}
	return &SessionRepository{client: client, prefix: prefix}
}

// Save writes the complete record, replacing any previous value.
func (r *SessionRepository) Save(ctx context.Context, session domain.Session, ttl time.Duration) error {
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := r.client.Set(ctx, r.recordKey(session.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}

	return nil
}

// Get fetches a session record by id.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}

	payload, err := r.client.Get(ctx, r.recordKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	return &session, nil
}

// Delete evicts the session record. Deleting a missing record is not an error.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if err := r.client.Del(ctx, r.recordKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// Index records the session id under the owner's set.
func (r *SessionRepository) Index(ctx context.Context, userID, sessionID string) error {
	key, err := r.indexKey(userID)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, sessionID)
	pipe.Expire(ctx, key, indexTTLSlack+30*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis index session: %w", err)
	}
	return nil
}

// Unindex drops the session id from the owner's set.
func (r *SessionRepository) Unindex(ctx context.Context, userID, sessionID string) error {
	key, err := r.indexKey(userID)
	if err != nil {
		return err
	}
	if err := r.client.SRem(ctx, key, sessionID).Err(); err != nil {
		return fmt.Errorf("redis unindex session: %w", err)
	}
	return nil
}

// IndexedSessionIDs enumerates the user's recorded session ids.
func (r *SessionRepository) IndexedSessionIDs(ctx context.Context, userID string) ([]string, error) {
	key, err := r.indexKey(userID)
	if err != nil {
		return nil, err
	}

	ids, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list session ids: %w", err)
	}
	return ids, nil
}

func (r *SessionRepository) recordKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, sessionID)
}

func (r *SessionRepository) indexKey(userID string) (string, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return "", fmt.Errorf("user id is required")
	}
	return fmt.Sprintf("%s:user:%s", r.prefix, trimmed), nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
