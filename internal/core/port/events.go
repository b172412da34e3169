package port

import (
	"context"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
)

// EventPublisher fans identity lifecycle events out to downstream consumers.
// Publishing is best-effort: callers log failures and never roll back the
// primary operation.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error
	PublishIdentitiesMerged(ctx context.Context, event domain.IdentitiesMergedEvent) error
	PublishMembershipRemoved(ctx context.Context, event domain.MembershipRemovedEvent) error
	PublishAccountDeleted(ctx context.Context, event domain.AccountDeletedEvent) error
	PublishTenantDeleted(ctx context.Context, event domain.TenantDeletedEvent) error
	PublishUserDeleted(ctx context.Context, event domain.UserDeletedEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
}
