package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishUserRegistered logs identity.user.registered events.
func (p *StubPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	payload := map[string]any{
		"user_id":       event.UserID,
		"account_id":    event.AccountID,
		"email":         event.Email,
		"tenant_id":     event.TenantID,
		"registered_at": event.RegisteredAt,
		"metadata":      event.Metadata,
	}
	p.logEvent("user.registered", event.UserID, event.RegisteredAt, payload)
	return nil
}

// PublishIdentitiesMerged logs identity.identities.merged events.
func (p *StubPublisher) PublishIdentitiesMerged(_ context.Context, event domain.IdentitiesMergedEvent) error {
	payload := map[string]any{
		"canonical_user_id":   event.CanonicalUserID,
		"merged_user_id":      event.MergedUserID,
		"linked_account_id":   event.LinkedAccountID,
		"accounts_moved":      event.AccountsMoved,
		"merged_user_removed": event.MergedUserRemoved,
		"merged_at":           event.MergedAt,
		"metadata":            event.Metadata,
	}
	p.logEvent("identities.merged", event.CanonicalUserID, event.MergedAt, payload)
	return nil
}

// PublishMembershipRemoved logs identity.membership.removed events.
func (p *StubPublisher) PublishMembershipRemoved(_ context.Context, event domain.MembershipRemovedEvent) error {
	payload := map[string]any{
		"user_id":    event.UserID,
		"account_id": event.AccountID,
		"tenant_id":  event.TenantID,
		"removed_by": event.RemovedBy,
		"removed_at": event.RemovedAt,
		"metadata":   event.Metadata,
	}
	p.logEvent("membership.removed", event.UserID, event.RemovedAt, payload)
	return nil
}

// PublishAccountDeleted logs identity.account.deleted events.
func (p *StubPublisher) PublishAccountDeleted(_ context.Context, event domain.AccountDeletedEvent) error {
	payload := map[string]any{
		"user_id":    event.UserID,
		"account_id": event.AccountID,
		"email":      event.Email,
		"deleted_at": event.DeletedAt,
		"metadata":   event.Metadata,
	}
	p.logEvent("account.deleted", event.UserID, event.DeletedAt, payload)
	return nil
}

// PublishTenantDeleted logs identity.tenant.deleted events.
func (p *StubPublisher) PublishTenantDeleted(_ context.Context, event domain.TenantDeletedEvent) error {
	payload := map[string]any{
		"tenant_id":        event.TenantID,
		"deleted_by":       event.DeletedBy,
		"bindings_removed": event.BindingsRemoved,
		"deleted_at":       event.DeletedAt,
		"metadata":         event.Metadata,
	}
	p.logEvent("tenant.deleted", event.DeletedBy, event.DeletedAt, payload)
	return nil
}

// PublishUserDeleted logs identity.user.deleted events.
func (p *StubPublisher) PublishUserDeleted(_ context.Context, event domain.UserDeletedEvent) error {
	payload := map[string]any{
		"user_id":    event.UserID,
		"deleted_at": event.DeletedAt,
		"metadata":   event.Metadata,
	}
	p.logEvent("user.deleted", event.UserID, event.DeletedAt, payload)
	return nil
}

// PublishSessionRevoked logs identity.session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	payload := map[string]any{
		"session_id": event.SessionID,
		"user_id":    event.UserID,
		"reason":     event.Reason,
		"revoked_at": event.RevokedAt,
		"ip_address": event.IPAddress,
		"metadata":   event.Metadata,
	}
	p.logEvent("session.revoked", event.UserID, event.RevokedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
