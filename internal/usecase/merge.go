package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/core/port"
	"github.com/mkalens/pipehub-identity/internal/repository"
)

// MergeService folds two identities into one when a user proves ownership of a
// second credential set. The earlier-created identity is always canonical; the
// later identity's accounts and bindings are reassigned and, once emptied, the
// later identity is soft-deleted. The whole rewrite runs in one transaction,
// making a repeated merge a natural no-op.
type MergeService struct {
	directory port.Directory
	sessions  *SessionService
	events    port.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewMergeService constructs a MergeService.
func NewMergeService(directory port.Directory, sessions *SessionService, events port.EventPublisher, logger *zap.Logger) *MergeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MergeService{
		directory: directory,
		sessions:  sessions,
		events:    events,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *MergeService) WithClock(clock func() time.Time) *MergeService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// MergeResult reports the outcome of a link operation.
type MergeResult struct {
	CanonicalUserID string
	MergedUserID    string
	AccountsMoved   int
	Primary         domain.Binding
}

// Link merges the identity owning linkAccountID with the caller's identity.
// The folded identity's live sessions are re-homed under the canonical user id,
// then every session of the canonical identity receives the unioned bindings.
// The initiating session, when supplied, is re-pointed at the linked account's
// personal-tenant binding, or the first available binding.
func (s *MergeService) Link(ctx context.Context, linkAccountID, currentUserID, initiatingSessionID string) (*MergeResult, error) {
	account, err := s.directory.GetAccount(ctx, linkAccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	current, err := s.directory.GetUser(ctx, currentUserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get current user: %w", err)
	}

	canonical := current
	merged := current
	if account.UserID != current.ID {
		owner, err := s.directory.GetUser(ctx, account.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, fmt.Errorf("get account owner: %w", err)
		}
		canonical, merged = pickCanonical(current, owner)
	}

	result := &MergeResult{CanonicalUserID: canonical.ID}
	mergedRemoved := false

	err = s.directory.InTx(ctx, func(tx port.DirectoryTx) error {
		if merged.ID != canonical.ID {
			accounts, err := tx.ListAccountsByUser(ctx, merged.ID)
			if err != nil {
				return fmt.Errorf("list accounts of merged identity: %w", err)
			}
			for _, acc := range accounts {
				if err := tx.ReassignAccount(ctx, acc.ID, canonical.ID); err != nil {
					return fmt.Errorf("reassign account %s: %w", acc.ID, err)
				}
			}
			result.AccountsMoved = len(accounts)
			result.MergedUserID = merged.ID

			if _, err := tx.ReassignBindingsByUser(ctx, merged.ID, canonical.ID); err != nil {
				return fmt.Errorf("reassign bindings: %w", err)
			}

			remaining, err := tx.ListAccountsByUser(ctx, merged.ID)
			if err != nil {
				return fmt.Errorf("recount merged identity accounts: %w", err)
			}
			if len(remaining) == 0 {
				if err := tx.SoftDeleteUser(ctx, merged.ID, s.now()); err != nil {
					return fmt.Errorf("soft delete merged identity: %w", err)
				}
				mergedRemoved = true
			}
		}

		// The merged identity must end up with at least one usable binding,
		// otherwise the initiating session would be left dangling.
		primary, err := s.choosePrimary(ctx, tx, linkAccountID, canonical.ID)
		if err != nil {
			return err
		}
		result.Primary = primary

		return nil
	})
	if err != nil {
		return nil, err
	}

	// When the caller's identity was the later one, its sessions are still
	// indexed under the folded user id; re-home them first so the sync pass
	// below reaches the initiating session.
	if result.MergedUserID != "" {
		if err := s.sessions.AdoptUserSessions(ctx, result.MergedUserID, canonical.ID); err != nil {
			return nil, fmt.Errorf("adopt merged identity sessions: %w", err)
		}
	}

	bindings, err := s.directory.ListBindingsByUser(ctx, canonical.ID)
	if err != nil {
		return nil, fmt.Errorf("list canonical bindings: %w", err)
	}
	union := make([]domain.Binding, 0, len(bindings))
	for _, b := range bindings {
		union = append(union, b.AsBinding())
	}

	primary := result.Primary
	if err := s.sessions.SyncUserBindings(ctx, canonical.ID, union, &primary, initiatingSessionID); err != nil {
		return nil, fmt.Errorf("sync sessions after merge: %w", err)
	}

	if result.MergedUserID != "" {
		s.publishMerged(ctx, result, linkAccountID, mergedRemoved)
	}

	return result, nil
}

// choosePrimary picks the binding the initiating session should land on: the
// linked account's personal-tenant binding when one exists, else the linked
// account's first binding, else any binding of the canonical identity.
func (s *MergeService) choosePrimary(ctx context.Context, r port.DirectoryReader, linkAccountID, canonicalUserID string) (domain.Binding, error) {
	linked, err := r.ListBindingsByAccount(ctx, linkAccountID)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("list linked account bindings: %w", err)
	}

	for _, b := range linked {
		tenant, err := r.GetTenant(ctx, b.TenantID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return domain.Binding{}, fmt.Errorf("get tenant: %w", err)
		}
		if tenant.IsPersonal() {
			return b.AsBinding(), nil
		}
	}
	if len(linked) > 0 {
		return linked[0].AsBinding(), nil
	}

	all, err := r.ListBindingsByUser(ctx, canonicalUserID)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("list canonical bindings: %w", err)
	}
	if len(all) == 0 {
		return domain.Binding{}, ErrNoTenantAccess
	}
	return all[0].AsBinding(), nil
}

func (s *MergeService) publishMerged(ctx context.Context, result *MergeResult, linkAccountID string, mergedRemoved bool) {
	if s.events == nil {
		return
	}
	event := domain.IdentitiesMergedEvent{
		EventID:           uuid.NewString(),
		CanonicalUserID:   result.CanonicalUserID,
		MergedUserID:      result.MergedUserID,
		LinkedAccountID:   linkAccountID,
		AccountsMoved:     result.AccountsMoved,
		MergedUserRemoved: mergedRemoved,
		MergedAt:          s.now(),
	}
	if err := s.events.PublishIdentitiesMerged(ctx, event); err != nil {
		s.logger.Warn("publish identities merged failed",
			zap.String("canonical_user_id", result.CanonicalUserID), zap.Error(err))
	}
}

// pickCanonical orders two identities: the earlier-created wins, with the id as
// a deterministic tie-break.
func pickCanonical(a, b *domain.User) (canonical, merged *domain.User) {
	if a.CreatedAt.Before(b.CreatedAt) {
		return a, b
	}
	if b.CreatedAt.Before(a.CreatedAt) {
		return b, a
	}
	if a.ID < b.ID {
		return a, b
	}
	return b, a
}
