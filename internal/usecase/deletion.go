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

// DeletionService computes deletion blockers and runs cascading soft-deletes.
// Blocker computations are pure reads, usable for both pre-flight previews and
// the authoritative re-check inside the cascade transaction. Every cascade is
// one atomic transaction followed by fire-and-forget notification and session
// repair.
type DeletionService struct {
	directory port.Directory
	sessions  *SessionService
	events    port.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewDeletionService constructs a DeletionService.
func NewDeletionService(directory port.Directory, sessions *SessionService, events port.EventPublisher, logger *zap.Logger) *DeletionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeletionService{
		directory: directory,
		sessions:  sessions,
		events:    events,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *DeletionService) WithClock(clock func() time.Time) *DeletionService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// PreviewAccountBlockers computes account deletion blockers outside any
// transaction, for confirmation UX. Cascades re-check at execution time.
func (s *DeletionService) PreviewAccountBlockers(ctx context.Context, accountID string, wholeIdentity bool) ([]domain.Blocker, error) {
	return s.AccountDeletionBlockers(ctx, s.directory, accountID, wholeIdentity)
}

// PreviewUserBlockers computes whole-identity deletion blockers outside any
// transaction.
func (s *DeletionService) PreviewUserBlockers(ctx context.Context, userID string) ([]domain.Blocker, error) {
	return s.UserDeletionBlockers(ctx, s.directory, userID)
}

// PreviewTenantBlockers computes tenant deletion blockers outside any
// transaction.
func (s *DeletionService) PreviewTenantBlockers(ctx context.Context, tenantID string) ([]domain.Blocker, error) {
	return s.TenantDeletionBlockers(ctx, s.directory, tenantID)
}

// AccountDeletionBlockers reports what prevents deleting the account. With
// wholeIdentity set the last_account blocker is suppressed, since the whole
// identity is going away anyway.
func (s *DeletionService) AccountDeletionBlockers(ctx context.Context, r port.DirectoryReader, accountID string, wholeIdentity bool) ([]domain.Blocker, error) {
	account, err := r.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	var blockers []domain.Blocker

	if !wholeIdentity {
		accounts, err := r.ListAccountsByUser(ctx, account.UserID)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		if len(accounts) <= 1 {
			blockers = append(blockers, domain.NewLastAccountBlocker(accountID))
		}
	}

	bindings, err := r.ListBindingsByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list account bindings: %w", err)
	}

	roles := newRoleKindCache(r)
	for _, binding := range bindings {
		tenant, err := r.GetTenant(ctx, binding.TenantID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get tenant: %w", err)
		}
		if tenant.IsPersonal() {
			continue
		}

		kind, err := roles.kind(ctx, binding.RoleID)
		if err != nil {
			return nil, err
		}
		if kind != domain.RoleKindOwner {
			continue
		}

		tenantBindings, err := r.ListBindingsByTenant(ctx, tenant.ID)
		if err != nil {
			return nil, fmt.Errorf("list tenant bindings: %w", err)
		}

		otherOwner := false
		otherMember := false
		for _, tb := range tenantBindings {
			if tb.AccountID == accountID {
				continue
			}
			if tb.UserID != account.UserID {
				otherMember = true
			}
			tbKind, err := roles.kind(ctx, tb.RoleID)
			if err != nil {
				return nil, err
			}
			if tbKind == domain.RoleKindOwner {
				otherOwner = true
			}
		}

		// Orphaning other members without an owner is the hard case; a tenant
		// populated only by this identity simply empties out.
		if !otherOwner && otherMember {
			blockers = append(blockers, domain.NewSoleOwnerBlocker(tenant.Name, tenant.ID))
		}
	}

	return blockers, nil
}

// UserDeletionBlockers reports what prevents deleting the whole identity:
// sole_owner blockers for each org tenant whose only owners belong to this
// identity while other identities remain members.
func (s *DeletionService) UserDeletionBlockers(ctx context.Context, r port.DirectoryReader, userID string) ([]domain.Blocker, error) {
	bindings, err := r.ListBindingsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user bindings: %w", err)
	}

	roles := newRoleKindCache(r)
	seen := make(map[string]bool)
	var blockers []domain.Blocker

	for _, binding := range bindings {
		if seen[binding.TenantID] {
			continue
		}
		seen[binding.TenantID] = true

		tenant, err := r.GetTenant(ctx, binding.TenantID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get tenant: %w", err)
		}
		if tenant.IsPersonal() {
			continue
		}

		tenantBindings, err := r.ListBindingsByTenant(ctx, tenant.ID)
		if err != nil {
			return nil, fmt.Errorf("list tenant bindings: %w", err)
		}

		ownedHere := false
		otherOwner := false
		otherMember := false
		for _, tb := range tenantBindings {
			kind, err := roles.kind(ctx, tb.RoleID)
			if err != nil {
				return nil, err
			}
			if tb.UserID == userID {
				if kind == domain.RoleKindOwner {
					ownedHere = true
				}
				continue
			}
			otherMember = true
			if kind == domain.RoleKindOwner {
				otherOwner = true
			}
		}

		if ownedHere && !otherOwner && otherMember {
			blockers = append(blockers, domain.NewSoleOwnerBlocker(tenant.Name, tenant.ID))
		}
	}

	return blockers, nil
}

// TenantDeletionBlockers reports what prevents deleting the tenant: a hard
// personal_tenant block, plus an informational has_members notice for the
// confirmation UX when other identities remain.
func (s *DeletionService) TenantDeletionBlockers(ctx context.Context, r port.DirectoryReader, tenantID string) ([]domain.Blocker, error) {
	tenant, err := r.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}

	var blockers []domain.Blocker
	if tenant.IsPersonal() {
		blockers = append(blockers, domain.NewPersonalTenantBlocker(tenant.ID))
	}

	bindings, err := r.ListBindingsByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant bindings: %w", err)
	}
	members := make(map[string]bool)
	for _, b := range bindings {
		members[b.UserID] = true
	}
	if len(members) > 1 {
		blockers = append(blockers, domain.NewHasMembersBlocker(tenant.ID, len(members)))
	}

	return blockers, nil
}

// CanRemoveFromTenant decides whether the actor may remove the account's
// membership in the tenant. Returns a RemovalDeniedError describing the refusal.
func (s *DeletionService) CanRemoveFromTenant(ctx context.Context, r port.DirectoryReader, actorUserID, accountID, tenantID string) error {
	tenant, err := r.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &RemovalDeniedError{Reason: "workspace not found"}
		}
		return fmt.Errorf("get tenant: %w", err)
	}
	if tenant.IsPersonal() {
		return &RemovalDeniedError{Reason: "members cannot be removed from a personal workspace"}
	}

	bindings, err := r.ListBindingsByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list tenant bindings: %w", err)
	}

	var target *domain.AccountTenant
	for i := range bindings {
		if bindings[i].AccountID == accountID {
			target = &bindings[i]
			break
		}
	}
	if target == nil {
		return &RemovalDeniedError{Reason: "membership not found"}
	}

	if target.UserID == actorUserID {
		roles := newRoleKindCache(r)
		kind, err := roles.kind(ctx, target.RoleID)
		if err != nil {
			return err
		}
		if kind == domain.RoleKindOwner {
			otherOwner := false
			for _, b := range bindings {
				if b.ID == target.ID {
					continue
				}
				bKind, err := roles.kind(ctx, b.RoleID)
				if err != nil {
					return err
				}
				if bKind == domain.RoleKindOwner {
					otherOwner = true
					break
				}
			}
			if !otherOwner {
				return &RemovalDeniedError{Reason: "cannot leave a workspace as its last owner"}
			}
		}
	}

	return nil
}

// RemoveAccountFromTenant soft-deletes one membership, its orphaned role, and
// the user's group memberships in that tenant, then repairs the user's sessions.
func (s *DeletionService) RemoveAccountFromTenant(ctx context.Context, actorUserID, accountID, tenantID string) error {
	var affectedUserID string

	err := s.directory.InTx(ctx, func(tx port.DirectoryTx) error {
		if err := s.CanRemoveFromTenant(ctx, tx, actorUserID, accountID, tenantID); err != nil {
			return err
		}

		bindings, err := tx.ListBindingsByTenant(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("list tenant bindings: %w", err)
		}
		var target *domain.AccountTenant
		for i := range bindings {
			if bindings[i].AccountID == accountID {
				target = &bindings[i]
				break
			}
		}
		if target == nil {
			return &RemovalDeniedError{Reason: "membership not found"}
		}
		affectedUserID = target.UserID

		now := s.now()
		if err := tx.SoftDeleteBinding(ctx, target.ID, now); err != nil {
			return fmt.Errorf("soft delete binding: %w", err)
		}
		if err := s.reapOrphanedRole(ctx, tx, tenantID, target.RoleID, now); err != nil {
			return err
		}
		if err := s.reapGroupMembershipsIfGone(ctx, tx, tenantID, target.UserID, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.repairUserSessions(ctx, affectedUserID, func(b domain.Binding) bool {
		return b.AccountID == accountID && b.TenantID == tenantID
	})

	s.publish(ctx, "membership removed", func() error {
		return s.events.PublishMembershipRemoved(ctx, domain.MembershipRemovedEvent{
			EventID:   uuid.NewString(),
			UserID:    affectedUserID,
			AccountID: accountID,
			TenantID:  tenantID,
			RemovedBy: actorUserID,
			RemovedAt: s.now(),
		})
	})

	return nil
}

// DeleteAccountEntirely soft-deletes the account and every dependent binding,
// orphaned role, and unreachable group membership. Blockers are re-checked
// inside the transaction; any hard blocker aborts with the full message list.
func (s *DeletionService) DeleteAccountEntirely(ctx context.Context, accountID string) error {
	var (
		userID string
		email  string
	)

	err := s.directory.InTx(ctx, func(tx port.DirectoryTx) error {
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("get account: %w", err)
		}
		userID = account.UserID
		email = account.Email

		blockers, err := s.AccountDeletionBlockers(ctx, tx, accountID, false)
		if err != nil {
			return err
		}
		if hard := domain.HardBlockers(blockers); len(hard) > 0 {
			return &BlockedError{Blockers: hard}
		}

		now := s.now()
		bindings, err := tx.ListBindingsByAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("list account bindings: %w", err)
		}
		tenants := make(map[string]bool)
		for _, b := range bindings {
			if err := tx.SoftDeleteBinding(ctx, b.ID, now); err != nil {
				return fmt.Errorf("soft delete binding: %w", err)
			}
			if err := s.reapOrphanedRole(ctx, tx, b.TenantID, b.RoleID, now); err != nil {
				return err
			}
			tenants[b.TenantID] = true
		}

		if err := tx.SoftDeleteAccount(ctx, accountID, now); err != nil {
			return fmt.Errorf("soft delete account: %w", err)
		}

		for tenantID := range tenants {
			if err := s.reapGroupMembershipsIfGone(ctx, tx, tenantID, userID, now); err != nil {
				return err
			}
		}

		// Normally unreachable thanks to the last_account blocker, but an
		// identity with zero live accounts must not linger.
		remaining, err := tx.ListAccountsByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("recount accounts: %w", err)
		}
		if len(remaining) == 0 {
			if err := tx.SoftDeleteUser(ctx, userID, now); err != nil {
				return fmt.Errorf("soft delete user: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.repairUserSessions(ctx, userID, func(b domain.Binding) bool {
		return b.AccountID == accountID
	})

	s.publish(ctx, "account deleted", func() error {
		return s.events.PublishAccountDeleted(ctx, domain.AccountDeletedEvent{
			EventID:   uuid.NewString(),
			UserID:    userID,
			AccountID: accountID,
			Email:     email,
			DeletedAt: s.now(),
		})
	})

	return nil
}

// DeleteTenantEntirely soft-deletes an org tenant with all bindings, roles, and
// group memberships, then repairs every affected user's sessions.
func (s *DeletionService) DeleteTenantEntirely(ctx context.Context, actorUserID, tenantID string) error {
	affected := make(map[string]bool)
	removed := 0

	err := s.directory.InTx(ctx, func(tx port.DirectoryTx) error {
		blockers, err := s.TenantDeletionBlockers(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if hard := domain.HardBlockers(blockers); len(hard) > 0 {
			return &BlockedError{Blockers: hard}
		}

		now := s.now()
		bindings, err := tx.ListBindingsByTenant(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("list tenant bindings: %w", err)
		}
		roleIDs := make(map[string]bool)
		for _, b := range bindings {
			if err := tx.SoftDeleteBinding(ctx, b.ID, now); err != nil {
				return fmt.Errorf("soft delete binding: %w", err)
			}
			affected[b.UserID] = true
			roleIDs[b.RoleID] = true
		}
		removed = len(bindings)

		for roleID := range roleIDs {
			if err := tx.SoftDeleteRole(ctx, roleID, now); err != nil {
				return fmt.Errorf("soft delete role: %w", err)
			}
		}

		memberships, err := tx.ListGroupMemberships(ctx, tenantID, "")
		if err != nil {
			return fmt.Errorf("list group memberships: %w", err)
		}
		for _, m := range memberships {
			if err := tx.SoftDeleteGroupMembership(ctx, m.ID, now); err != nil {
				return fmt.Errorf("soft delete group membership: %w", err)
			}
		}

		if err := tx.SoftDeleteTenant(ctx, tenantID, now); err != nil {
			return fmt.Errorf("soft delete tenant: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for userID := range affected {
		s.repairUserSessions(ctx, userID, func(b domain.Binding) bool {
			return b.TenantID == tenantID
		})
	}

	s.publish(ctx, "tenant deleted", func() error {
		return s.events.PublishTenantDeleted(ctx, domain.TenantDeletedEvent{
			EventID:         uuid.NewString(),
			TenantID:        tenantID,
			DeletedBy:       actorUserID,
			BindingsRemoved: removed,
			DeletedAt:       s.now(),
		})
	})

	return nil
}

// DeleteUserEntirely soft-deletes the identity with all child accounts,
// bindings, roles, group memberships, the personal tenant, and any org tenant
// the identity was the last member of, then revokes every session.
func (s *DeletionService) DeleteUserEntirely(ctx context.Context, userID string) error {
	err := s.directory.InTx(ctx, func(tx port.DirectoryTx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("get user: %w", err)
		}

		blockers, err := s.UserDeletionBlockers(ctx, tx, userID)
		if err != nil {
			return err
		}
		if hard := domain.HardBlockers(blockers); len(hard) > 0 {
			return &BlockedError{Blockers: hard}
		}

		now := s.now()
		bindings, err := tx.ListBindingsByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("list user bindings: %w", err)
		}
		tenants := make(map[string]bool)
		roleRefs := make(map[string]string)
		for _, b := range bindings {
			if err := tx.SoftDeleteBinding(ctx, b.ID, now); err != nil {
				return fmt.Errorf("soft delete binding: %w", err)
			}
			tenants[b.TenantID] = true
			roleRefs[b.RoleID] = b.TenantID
		}
		for roleID, tenantID := range roleRefs {
			if err := s.reapOrphanedRole(ctx, tx, tenantID, roleID, now); err != nil {
				return err
			}
		}

		accounts, err := tx.ListAccountsByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		for _, acc := range accounts {
			if err := tx.SoftDeleteAccount(ctx, acc.ID, now); err != nil {
				return fmt.Errorf("soft delete account: %w", err)
			}
		}

		for tenantID := range tenants {
			tenant, err := tx.GetTenant(ctx, tenantID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				return fmt.Errorf("get tenant: %w", err)
			}

			remaining, err := tx.ListBindingsByTenant(ctx, tenantID)
			if err != nil {
				return fmt.Errorf("list tenant bindings: %w", err)
			}

			// Personal tenants die with their identity; org tenants only when
			// nobody else is left in them.
			if tenant.IsPersonal() || len(remaining) == 0 {
				if err := s.deleteTenantChildren(ctx, tx, tenantID, now); err != nil {
					return err
				}
				if err := tx.SoftDeleteTenant(ctx, tenantID, now); err != nil {
					return fmt.Errorf("soft delete tenant: %w", err)
				}
			}
		}

		memberships, err := tx.ListGroupMemberships(ctx, "", userID)
		if err != nil {
			return fmt.Errorf("list group memberships: %w", err)
		}
		for _, m := range memberships {
			if err := tx.SoftDeleteGroupMembership(ctx, m.ID, now); err != nil {
				return fmt.Errorf("soft delete group membership: %w", err)
			}
		}

		if err := tx.SoftDeleteUser(ctx, userID, now); err != nil {
			return fmt.Errorf("soft delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := s.sessions.InvalidateAll(ctx, userID, "identity_deleted"); err != nil {
		s.logger.Warn("revoke sessions after user deletion failed", zap.String("user_id", userID), zap.Error(err))
	}

	s.publish(ctx, "user deleted", func() error {
		return s.events.PublishUserDeleted(ctx, domain.UserDeletedEvent{
			EventID:   uuid.NewString(),
			UserID:    userID,
			DeletedAt: s.now(),
		})
	})

	return nil
}

// reapOrphanedRole soft-deletes the role once no live binding references it.
func (s *DeletionService) reapOrphanedRole(ctx context.Context, tx port.DirectoryTx, tenantID, roleID string, at time.Time) error {
	bindings, err := tx.ListBindingsByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list tenant bindings: %w", err)
	}
	for _, b := range bindings {
		if b.RoleID == roleID {
			return nil
		}
	}
	if err := tx.SoftDeleteRole(ctx, roleID, at); err != nil {
		return fmt.Errorf("soft delete role: %w", err)
	}
	return nil
}

// reapGroupMembershipsIfGone drops the user's group memberships in the tenant
// once they hold no live binding there through any account.
func (s *DeletionService) reapGroupMembershipsIfGone(ctx context.Context, tx port.DirectoryTx, tenantID, userID string, at time.Time) error {
	bindings, err := tx.ListBindingsByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list tenant bindings: %w", err)
	}
	for _, b := range bindings {
		if b.UserID == userID {
			return nil
		}
	}

	memberships, err := tx.ListGroupMemberships(ctx, tenantID, userID)
	if err != nil {
		return fmt.Errorf("list group memberships: %w", err)
	}
	for _, m := range memberships {
		if err := tx.SoftDeleteGroupMembership(ctx, m.ID, at); err != nil {
			return fmt.Errorf("soft delete group membership: %w", err)
		}
	}
	return nil
}

func (s *DeletionService) deleteTenantChildren(ctx context.Context, tx port.DirectoryTx, tenantID string, at time.Time) error {
	remaining, err := tx.ListBindingsByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list tenant bindings: %w", err)
	}
	roleIDs := make(map[string]bool)
	for _, b := range remaining {
		if err := tx.SoftDeleteBinding(ctx, b.ID, at); err != nil {
			return fmt.Errorf("soft delete binding: %w", err)
		}
		roleIDs[b.RoleID] = true
	}
	for roleID := range roleIDs {
		if err := tx.SoftDeleteRole(ctx, roleID, at); err != nil {
			return fmt.Errorf("soft delete role: %w", err)
		}
	}

	memberships, err := tx.ListGroupMemberships(ctx, tenantID, "")
	if err != nil {
		return fmt.Errorf("list group memberships: %w", err)
	}
	for _, m := range memberships {
		if err := tx.SoftDeleteGroupMembership(ctx, m.ID, at); err != nil {
			return fmt.Errorf("soft delete group membership: %w", err)
		}
	}
	return nil
}

// repairUserSessions runs the post-cascade session fixup. Failures are logged
// and swallowed; the deletion itself has already committed.
func (s *DeletionService) repairUserSessions(ctx context.Context, userID string, dead func(domain.Binding) bool) {
	if userID == "" {
		return
	}

	personalTenantID := ""
	if tenant, err := s.directory.PersonalTenant(ctx, userID); err == nil {
		personalTenantID = tenant.ID
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("resolve personal tenant failed", zap.String("user_id", userID), zap.Error(err))
	}

	if err := s.sessions.RepairAfterDeletion(ctx, userID, dead, personalTenantID); err != nil {
		s.logger.Warn("session repair failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *DeletionService) publish(ctx context.Context, what string, fn func() error) {
	if s.events == nil {
		return
	}
	if err := fn(); err != nil {
		s.logger.Warn("publish "+what+" event failed", zap.Error(err))
	}
}

// roleKindCache memoizes role lookups within one blocker computation.
type roleKindCache struct {
	reader port.DirectoryReader
	kinds  map[string]domain.RoleKind
}

func newRoleKindCache(reader port.DirectoryReader) *roleKindCache {
	return &roleKindCache{reader: reader, kinds: make(map[string]domain.RoleKind)}
}

func (c *roleKindCache) kind(ctx context.Context, roleID string) (domain.RoleKind, error) {
	if kind, ok := c.kinds[roleID]; ok {
		return kind, nil
	}
	role, err := c.reader.GetRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.kinds[roleID] = domain.RoleKindMember
			return domain.RoleKindMember, nil
		}
		return "", fmt.Errorf("get role: %w", err)
	}
	c.kinds[roleID] = role.Kind
	return role.Kind, nil
}
