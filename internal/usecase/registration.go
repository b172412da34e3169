package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/core/port"
	"github.com/mkalens/pipehub-identity/internal/infra/security"
	"github.com/mkalens/pipehub-identity/internal/repository"
)

// RegistrationService creates new identities: one user, one credential account,
// and a personal workspace with an owner-kind role, all in one transaction.
type RegistrationService struct {
	directory port.Directory
	events    port.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// RegistrationResult carries the identifiers of a freshly created identity.
type RegistrationResult struct {
	UserID    string
	AccountID string
	TenantID  string
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(directory port.Directory, events port.EventPublisher, logger *zap.Logger) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		directory: directory,
		events:    events,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *RegistrationService) WithClock(clock func() time.Time) *RegistrationService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Register validates the password, hashes it, and materializes the identity
// graph. The email uniqueness check runs inside the transaction so two
// concurrent registrations cannot both slip past it.
func (s *RegistrationService) Register(ctx context.Context, email, password, workspaceName string) (*RegistrationResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	if err := security.ValidatePassword(password, email); err != nil {
		return nil, err
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	userID := uuid.NewString()
	result := &RegistrationResult{
		UserID:    userID,
		AccountID: uuid.NewString(),
		TenantID:  uuid.NewString(),
	}
	roleID := uuid.NewString()

	if workspaceName == "" {
		workspaceName = email
	}

	err = s.directory.InTx(ctx, func(tx port.DirectoryTx) error {
		if _, err := tx.GetAccountByEmail(ctx, email); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("check email: %w", err)
		}

		if err := tx.CreateUser(ctx, domain.User{ID: userID, CreatedAt: now}); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if err := tx.CreateAccount(ctx, domain.Account{
			ID:           result.AccountID,
			UserID:       userID,
			Email:        email,
			PasswordHash: hash,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		if err := tx.CreateTenant(ctx, domain.Tenant{
			ID:        result.TenantID,
			Kind:      domain.TenantKindPersonal,
			Name:      workspaceName,
			OwnerID:   &userID,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		if err := tx.CreateRole(ctx, domain.Role{
			ID:        roleID,
			TenantID:  result.TenantID,
			Kind:      domain.RoleKindOwner,
			Allowed:   []string{"*"},
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("create role: %w", err)
		}
		if err := tx.CreateBinding(ctx, domain.AccountTenant{
			ID:        uuid.NewString(),
			UserID:    userID,
			AccountID: result.AccountID,
			TenantID:  result.TenantID,
			RoleID:    roleID,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("create binding: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		if err := s.events.PublishUserRegistered(ctx, domain.UserRegisteredEvent{
			EventID:      uuid.NewString(),
			UserID:       userID,
			AccountID:    result.AccountID,
			Email:        email,
			TenantID:     result.TenantID,
			RegisteredAt: now,
		}); err != nil {
			s.logger.Warn("publish user registered event failed", zap.Error(err))
		}
	}

	s.logger.Info("identity registered", zap.String("user_id", userID))
	return result, nil
}
