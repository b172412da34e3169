package domain

import "time"

// UserRegisteredEvent announces a newly created identity.
type UserRegisteredEvent struct {
	EventID      string
	UserID       string
	AccountID    string
	Email        string
	TenantID     string
	RegisteredAt time.Time
	Metadata     map[string]any
}

// IdentitiesMergedEvent announces that a later-created identity was folded into
// the canonical one.
type IdentitiesMergedEvent struct {
	EventID          string
	CanonicalUserID  string
	MergedUserID     string
	LinkedAccountID  string
	AccountsMoved    int
	MergedUserRemoved bool
	MergedAt         time.Time
	Metadata         map[string]any
}

// MembershipRemovedEvent announces an account losing access to a tenant.
type MembershipRemovedEvent struct {
	EventID   string
	UserID    string
	AccountID string
	TenantID  string
	RemovedBy string
	RemovedAt time.Time
	Metadata  map[string]any
}

// AccountDeletedEvent announces a soft-deleted account.
type AccountDeletedEvent struct {
	EventID   string
	UserID    string
	AccountID string
	Email     string
	DeletedAt time.Time
	Metadata  map[string]any
}

// TenantDeletedEvent announces a soft-deleted org tenant and its cascade counts.
type TenantDeletedEvent struct {
	EventID         string
	TenantID        string
	DeletedBy       string
	BindingsRemoved int
	DeletedAt       time.Time
	Metadata        map[string]any
}

// UserDeletedEvent announces a fully soft-deleted identity.
type UserDeletedEvent struct {
	EventID   string
	UserID    string
	DeletedAt time.Time
	Metadata  map[string]any
}

// SessionRevokedEvent announces a revoked session for audit consumers.
type SessionRevokedEvent struct {
	EventID   string
	SessionID string
	UserID    string
	Reason    string
	RevokedAt time.Time
	IPAddress *string
	Metadata  map[string]any
}
