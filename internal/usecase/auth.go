package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/core/port"
	"github.com/mkalens/pipehub-identity/internal/infra/security"
	"github.com/mkalens/pipehub-identity/internal/repository"
)

// AuthService handles credential verification and the directory-authorized
// binding grants that sessions cannot decide on their own.
type AuthService struct {
	directory port.Directory
	sessions  *SessionService
	logger    *zap.Logger
}

// NewAuthService constructs an AuthService.
func NewAuthService(directory port.Directory, sessions *SessionService, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{directory: directory, sessions: sessions, logger: logger}
}

// Login verifies the credentials and opens a session on the account's personal
// workspace when one exists, else on the account's first binding. Both unknown
// email and wrong password collapse into ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string, ip, userAgent *string) (*domain.Session, string, error) {
	account, err := s.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, "", err
	}

	initial, err := s.initialBinding(ctx, account)
	if err != nil {
		return nil, "", err
	}

	session, token, err := s.sessions.Create(ctx, account.UserID, initial, ip, userAgent)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("login succeeded",
		zap.String("user_id", account.UserID),
		zap.String("session_id", session.ID),
	)
	return session, token, nil
}

// VerifyCredentials resolves an email/password pair to its account. Both
// unknown email and wrong password collapse into ErrInvalidCredentials so the
// caller cannot probe which half was wrong.
func (s *AuthService) VerifyCredentials(ctx context.Context, email, password string) (*domain.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := s.directory.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get account by email: %w", err)
	}

	ok, err := security.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		s.logger.Warn("password verification failed", zap.String("account_id", account.ID), zap.Error(err))
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return account, nil
}

// AccountsForUser lists the live accounts attached to an identity.
func (s *AuthService) AccountsForUser(ctx context.Context, userID string) ([]domain.Account, error) {
	accounts, err := s.directory.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user accounts: %w", err)
	}
	return accounts, nil
}

// AuthorizeSwitch grants the session a binding it does not hold yet, after
// checking the directory that the session's user really has it. This is how a
// session picks up placements created after it was opened, such as an account
// linked mid-session.
func (s *AuthService) AuthorizeSwitch(ctx context.Context, session *domain.Session, accountID, tenantID string) (*domain.Session, error) {
	if session == nil {
		return nil, ErrUnauthenticated
	}

	// Fast path when the session already carries the binding.
	if updated, err := s.sessions.SwitchAccount(ctx, session.ID, accountID, tenantID); err == nil {
		return updated, nil
	} else if !errors.Is(err, ErrBindingNotHeld) {
		return nil, err
	}

	bindings, err := s.directory.ListBindingsByUser(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("list user bindings: %w", err)
	}
	for _, b := range bindings {
		if b.AccountID == accountID && b.TenantID == tenantID {
			return s.sessions.Grant(ctx, session.ID, b.AsBinding())
		}
	}
	return nil, ErrBindingNotHeld
}

// initialBinding prefers the personal-workspace placement so a fresh login
// always lands somewhere the user fully controls.
func (s *AuthService) initialBinding(ctx context.Context, account *domain.Account) (domain.Binding, error) {
	bindings, err := s.directory.ListBindingsByAccount(ctx, account.ID)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("list account bindings: %w", err)
	}
	if len(bindings) == 0 {
		return domain.Binding{}, ErrNoTenantAccess
	}

	if personal, err := s.directory.PersonalTenant(ctx, account.UserID); err == nil {
		for _, b := range bindings {
			if b.TenantID == personal.ID {
				return b.AsBinding(), nil
			}
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return domain.Binding{}, fmt.Errorf("resolve personal tenant: %w", err)
	}

	return bindings[0].AsBinding(), nil
}
