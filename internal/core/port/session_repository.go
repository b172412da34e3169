package port

import (
	"context"
	"time"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
)

// SessionRepository persists session records in a volatile store with per-record
// TTL plus a per-user index set for bulk operations. Mutators always write the
// full record so concurrent updates to unrelated fields are not lost piecemeal.
type SessionRepository interface {
	// Save writes the complete session record with the supplied TTL.
	Save(ctx context.Context, session domain.Session, ttl time.Duration) error
	// Get fetches a session by id, returning repository.ErrNotFound when the
	// record is missing or already evicted.
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	// Delete evicts the session record.
	Delete(ctx context.Context, sessionID string) error
	// Index adds the session id to the owner's active-session set.
	Index(ctx context.Context, userID, sessionID string) error
	// Unindex removes the session id from the owner's active-session set.
	Unindex(ctx context.Context, userID, sessionID string) error
	// IndexedSessionIDs lists all session ids recorded for the user. Entries may
	// point at records that have since expired; callers skip those.
	IndexedSessionIDs(ctx context.Context, userID string) ([]string, error)
}
