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

const (
	defaultSessionLifetime = 30 * 24 * time.Hour
	defaultRenewalWindow   = 15 * 24 * time.Hour
	defaultAuditRetention  = 24 * time.Hour
	persistTimeout         = 3 * time.Second
)

// SessionService owns session records: creation, validation with sliding renewal,
// binding switches, revocation, and the repair passes run after merges and
// deletion cascades.
type SessionService struct {
	sessions       port.SessionRepository
	events         port.EventPublisher
	logger         *zap.Logger
	now            func() time.Time
	lifetime       time.Duration
	renewalWindow  time.Duration
	auditRetention time.Duration
}

// NewSessionService constructs a SessionService with default lifetimes.
func NewSessionService(sessions port.SessionRepository, events port.EventPublisher, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions:       sessions,
		events:         events,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
		lifetime:       defaultSessionLifetime,
		renewalWindow:  defaultRenewalWindow,
		auditRetention: defaultAuditRetention,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) *SessionService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithLifetimes overrides the session lifetime, renewal window, and revoked-record
// audit retention.
func (s *SessionService) WithLifetimes(lifetime, renewalWindow, auditRetention time.Duration) *SessionService {
	if lifetime > 0 {
		s.lifetime = lifetime
	}
	if renewalWindow > 0 {
		s.renewalWindow = renewalWindow
	}
	if auditRetention > 0 {
		s.auditRetention = auditRetention
	}
	return s
}

// Create issues a new session for the user with one initial binding. It returns
// the session and the opaque client token; only the token's hash is stored.
func (s *SessionService) Create(ctx context.Context, userID string, initial domain.Binding, ip, userAgent *string) (*domain.Session, string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, "", fmt.Errorf("user id is required")
	}
	if initial.AccountID == "" || initial.TenantID == "" || initial.RoleID == "" {
		return nil, "", fmt.Errorf("initial binding is incomplete")
	}

	token, err := security.GenerateSessionToken()
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	session := domain.Session{
		ID:           security.SessionIDFromToken(token),
		UserID:       userID,
		Bindings:     []domain.Binding{initial},
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.lifetime),
	}
	session.SetCurrent(initial)
	session.Touch(now, ip, userAgent)

	if err := s.sessions.Save(ctx, session, s.lifetime); err != nil {
		return nil, "", fmt.Errorf("persist session: %w", err)
	}
	if err := s.sessions.Index(ctx, userID, session.ID); err != nil {
		return nil, "", fmt.Errorf("index session: %w", err)
	}

	return &session, token, nil
}

// Validate resolves a client token to its session. Missing, revoked, and expired
// sessions are all reported as ErrUnauthenticated; expired records are evicted.
// Activity touch and sliding renewal are persisted fire-and-forget so a lost
// write never fails the request.
func (s *SessionService) Validate(ctx context.Context, token string, ip, userAgent *string) (*domain.Session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthenticated
	}

	sessionID := security.SessionIDFromToken(token)
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		// Store unavailable: reject rather than hang or guess.
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	now := s.now()
	if session.RevokedAt != nil {
		return nil, ErrUnauthenticated
	}
	if !session.ExpiresAt.After(now) {
		s.evictExpired(ctx, session)
		return nil, ErrUnauthenticated
	}

	session.Touch(now, ip, userAgent)
	if session.ExpiresAt.Sub(now) < s.renewalWindow {
		session.ExpiresAt = now.Add(s.lifetime)
	}

	s.persistAsync(*session)

	return session, nil
}

// SwitchAccount rewrites the current triple to the held binding for the given
// account and tenant pair.
func (s *SessionService) SwitchAccount(ctx context.Context, sessionID, accountID, tenantID string) (*domain.Session, error) {
	return s.switchTo(ctx, sessionID, func(session *domain.Session) (domain.Binding, bool) {
		return session.HasBinding(accountID, tenantID)
	})
}

// SwitchTenant rewrites the current triple to the session's first binding for the
// given tenant.
func (s *SessionService) SwitchTenant(ctx context.Context, sessionID, tenantID string) (*domain.Session, error) {
	return s.switchTo(ctx, sessionID, func(session *domain.Session) (domain.Binding, bool) {
		return session.FindTenantBinding(tenantID)
	})
}

// Grant adds a binding to the session and makes it current. Callers authorize the
// binding against the directory before invoking this.
func (s *SessionService) Grant(ctx context.Context, sessionID string, binding domain.Binding) (*domain.Session, error) {
	session, err := s.fetchActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session.AddBinding(binding)
	session.SetCurrent(binding)

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Invalidate revokes the session, shrinks its retention to the audit window, and
// removes it from the owner's active index. Idempotent.
func (s *SessionService) Invalidate(ctx context.Context, sessionID, reason string) error {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get session: %w", err)
	}

	now := s.now()
	if !session.Revoke(now) {
		return nil
	}
	session.Bindings = nil

	if err := s.sessions.Save(ctx, *session, s.auditRetention); err != nil {
		return fmt.Errorf("persist revoked session: %w", err)
	}
	if err := s.sessions.Unindex(ctx, session.UserID, session.ID); err != nil {
		s.logger.Warn("unindex revoked session failed", zap.String("session_id", session.ID), zap.Error(err))
	}

	s.publishRevoked(ctx, session, reason)

	return nil
}

// InvalidateAll revokes every session belonging to the user.
func (s *SessionService) InvalidateAll(ctx context.Context, userID, reason string) (int, error) {
	ids, err := s.sessions.IndexedSessionIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list session ids: %w", err)
	}

	revoked := 0
	for _, id := range ids {
		if err := s.Invalidate(ctx, id, reason); err != nil {
			s.logger.Warn("invalidate session failed", zap.String("session_id", id), zap.Error(err))
			continue
		}
		revoked++
	}
	return revoked, nil
}

// ListUserSessions returns all live sessions for the user, silently skipping
// index entries whose records have expired or been revoked since.
func (s *SessionService) ListUserSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	ids, err := s.sessions.IndexedSessionIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}

	now := s.now()
	sessions := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.sessions.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get session: %w", err)
		}
		if !session.IsActive(now) {
			continue
		}
		sessions = append(sessions, *session)
	}

	return sessions, nil
}

// AdoptUserSessions re-homes every live session of fromUserID under toUserID:
// the record's user id is rewritten and its index entry moves with it. Runs
// after a merge so the folded identity's sessions follow their accounts and a
// later SyncUserBindings pass over the canonical identity reaches them.
func (s *SessionService) AdoptUserSessions(ctx context.Context, fromUserID, toUserID string) error {
	if fromUserID == "" || fromUserID == toUserID {
		return nil
	}

	ids, err := s.sessions.IndexedSessionIDs(ctx, fromUserID)
	if err != nil {
		return fmt.Errorf("list session ids: %w", err)
	}

	now := s.now()
	for _, id := range ids {
		session, err := s.sessions.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return fmt.Errorf("get session: %w", err)
		}
		if !session.IsActive(now) {
			continue
		}

		session.UserID = toUserID
		if err := s.save(ctx, session); err != nil {
			return err
		}
		if err := s.sessions.Index(ctx, toUserID, id); err != nil {
			return fmt.Errorf("index adopted session: %w", err)
		}
		if err := s.sessions.Unindex(ctx, fromUserID, id); err != nil {
			s.logger.Warn("unindex adopted session failed", zap.String("session_id", id), zap.Error(err))
		}
	}

	return nil
}

// SyncUserBindings unions the supplied bindings into every live session of the
// user. The initiating session, when named, additionally gets primary as its new
// current triple. Used after identity merges.
func (s *SessionService) SyncUserBindings(ctx context.Context, userID string, bindings []domain.Binding, primary *domain.Binding, initiatingSessionID string) error {
	ids, err := s.sessions.IndexedSessionIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("list session ids: %w", err)
	}

	now := s.now()
	for _, id := range ids {
		session, err := s.sessions.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return fmt.Errorf("get session: %w", err)
		}
		if !session.IsActive(now) {
			continue
		}

		for _, b := range bindings {
			session.AddBinding(b)
		}
		session.UserID = userID
		if primary != nil && session.ID == initiatingSessionID {
			session.SetCurrent(*primary)
		}

		if err := s.save(ctx, session); err != nil {
			return err
		}
	}

	return nil
}

// RepairAfterDeletion strips dead bindings from every live session of the user.
// A session whose current triple died is re-pointed at a surviving binding for
// the user's personal tenant; with no such survivor, or with no bindings left at
// all, the session is revoked.
func (s *SessionService) RepairAfterDeletion(ctx context.Context, userID string, dead func(domain.Binding) bool, personalTenantID string) error {
	ids, err := s.sessions.IndexedSessionIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("list session ids: %w", err)
	}

	now := s.now()
	for _, id := range ids {
		session, err := s.sessions.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return fmt.Errorf("get session: %w", err)
		}
		if !session.IsActive(now) {
			continue
		}

		currentDead := dead(session.Current())
		session.RemoveBindings(dead)

		if len(session.Bindings) == 0 {
			if err := s.Invalidate(ctx, session.ID, "bindings_removed"); err != nil {
				return err
			}
			continue
		}

		if currentDead {
			fallback, ok := session.FindTenantBinding(personalTenantID)
			if !ok {
				if err := s.Invalidate(ctx, session.ID, "current_binding_removed"); err != nil {
					return err
				}
				continue
			}
			session.SetCurrent(fallback)
		}

		if err := s.save(ctx, session); err != nil {
			return err
		}
	}

	return nil
}

func (s *SessionService) switchTo(ctx context.Context, sessionID string, pick func(*domain.Session) (domain.Binding, bool)) (*domain.Session, error) {
	session, err := s.fetchActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	binding, ok := pick(session)
	if !ok {
		return nil, ErrBindingNotHeld
	}
	session.SetCurrent(binding)

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionService) fetchActive(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !session.IsActive(s.now()) {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

func (s *SessionService) save(ctx context.Context, session *domain.Session) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrSessionNotFound
	}
	if err := s.sessions.Save(ctx, *session, ttl); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (s *SessionService) evictExpired(ctx context.Context, session *domain.Session) {
	if err := s.sessions.Delete(ctx, session.ID); err != nil {
		s.logger.Warn("evict expired session failed", zap.String("session_id", session.ID), zap.Error(err))
	}
	if err := s.sessions.Unindex(ctx, session.UserID, session.ID); err != nil {
		s.logger.Warn("unindex expired session failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

// persistAsync writes the touched/renewed record off the request path. Losing
// this write to a concurrent renewal is acceptable; last write wins.
func (s *SessionService) persistAsync(session domain.Session) {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.sessions.Save(ctx, session, ttl); err != nil {
			s.logger.Warn("session renewal write failed", zap.String("session_id", session.ID), zap.Error(err))
		}
	}()
}

func (s *SessionService) publishRevoked(ctx context.Context, session *domain.Session, reason string) {
	if s.events == nil {
		return
	}
	event := domain.SessionRevokedEvent{
		EventID:   uuid.NewString(),
		SessionID: session.ID,
		UserID:    session.UserID,
		Reason:    reason,
		RevokedAt: s.now(),
		IPAddress: session.IPAddress,
	}
	if err := s.events.PublishSessionRevoked(ctx, event); err != nil {
		s.logger.Warn("publish session revoked failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}
