package usecase

import (
	"errors"
	"strings"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
)

var (
	// ErrUnauthenticated indicates a missing, invalid, expired, or revoked session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrBindingNotHeld indicates the session does not hold the requested binding.
	ErrBindingNotHeld = errors.New("binding not held by session")
	// ErrInvalidCredentials indicates a failed email/password check.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoTenantAccess indicates an account without a single usable binding.
	ErrNoTenantAccess = errors.New("account has no tenant access")
	// ErrEmailTaken indicates a registration attempt with an existing email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUserNotFound indicates the referenced identity is missing or deleted.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountNotFound indicates the referenced account is missing or deleted.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTenantNotFound indicates the referenced tenant is missing or deleted.
	ErrTenantNotFound = errors.New("tenant not found")
)

// BlockedError reports a destructive operation aborted by invariant blockers. The
// blocker messages are surfaced to the caller verbatim.
type BlockedError struct {
	Blockers []domain.Blocker
}

// Error joins the blocker messages into one human-readable sentence.
func (e *BlockedError) Error() string {
	if e == nil || len(e.Blockers) == 0 {
		return "operation blocked"
	}
	return "operation blocked: " + strings.Join(domain.BlockerMessages(e.Blockers), "; ")
}

// RemovalDeniedError explains why a member cannot be removed from a tenant.
type RemovalDeniedError struct {
	Reason string
}

// Error implements error for RemovalDeniedError.
func (e *RemovalDeniedError) Error() string {
	if e == nil || e.Reason == "" {
		return "removal denied"
	}
	return "removal denied: " + e.Reason
}
