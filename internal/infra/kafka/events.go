package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/core/port"
	"github.com/mkalens/pipehub-identity/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishUserRegistered publishes identity.user.registered events.
func (p *EventPublisher) PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error {
	payload := struct {
		UserID       string         `json:"user_id"`
		AccountID    string         `json:"account_id"`
		Email        string         `json:"email"`
		TenantID     string         `json:"tenant_id"`
		RegisteredAt time.Time      `json:"registered_at"`
		Metadata     map[string]any `json:"metadata,omitempty"`
	}{
		UserID:       event.UserID,
		AccountID:    event.AccountID,
		Email:        event.Email,
		TenantID:     event.TenantID,
		RegisteredAt: event.RegisteredAt.UTC(),
		Metadata:     event.Metadata,
	}

	return p.publish(ctx, event.EventID, "user.registered", event.UserID, event.RegisteredAt, payload)
}

// PublishIdentitiesMerged publishes identity.identities.merged events.
func (p *EventPublisher) PublishIdentitiesMerged(ctx context.Context, event domain.IdentitiesMergedEvent) error {
	payload := struct {
		CanonicalUserID   string         `json:"canonical_user_id"`
		MergedUserID      string         `json:"merged_user_id"`
		LinkedAccountID   string         `json:"linked_account_id"`
		AccountsMoved     int            `json:"accounts_moved"`
		MergedUserRemoved bool           `json:"merged_user_removed"`
		MergedAt          time.Time      `json:"merged_at"`
		Metadata          map[string]any `json:"metadata,omitempty"`
	}{
		CanonicalUserID:   event.CanonicalUserID,
		MergedUserID:      event.MergedUserID,
		LinkedAccountID:   event.LinkedAccountID,
		AccountsMoved:     event.AccountsMoved,
		MergedUserRemoved: event.MergedUserRemoved,
		MergedAt:          event.MergedAt.UTC(),
		Metadata:          event.Metadata,
	}

	return p.publish(ctx, event.EventID, "identities.merged", event.CanonicalUserID, event.MergedAt, payload)
}

// PublishMembershipRemoved publishes identity.membership.removed events.
func (p *EventPublisher) PublishMembershipRemoved(ctx context.Context, event domain.MembershipRemovedEvent) error {
	payload := struct {
		UserID    string         `json:"user_id"`
		AccountID string         `json:"account_id"`
		TenantID  string         `json:"tenant_id"`
		RemovedBy string         `json:"removed_by"`
		RemovedAt time.Time      `json:"removed_at"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		UserID:    event.UserID,
		AccountID: event.AccountID,
		TenantID:  event.TenantID,
		RemovedBy: event.RemovedBy,
		RemovedAt: event.RemovedAt.UTC(),
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "membership.removed", event.UserID, event.RemovedAt, payload)
}

// PublishAccountDeleted publishes identity.account.deleted events.
func (p *EventPublisher) PublishAccountDeleted(ctx context.Context, event domain.AccountDeletedEvent) error {
	payload := struct {
		UserID    string         `json:"user_id"`
		AccountID string         `json:"account_id"`
		Email     string         `json:"email"`
		DeletedAt time.Time      `json:"deleted_at"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		UserID:    event.UserID,
		AccountID: event.AccountID,
		Email:     event.Email,
		DeletedAt: event.DeletedAt.UTC(),
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.deleted", event.UserID, event.DeletedAt, payload)
}

// PublishTenantDeleted publishes identity.tenant.deleted events.
func (p *EventPublisher) PublishTenantDeleted(ctx context.Context, event domain.TenantDeletedEvent) error {
	payload := struct {
		TenantID        string         `json:"tenant_id"`
		DeletedBy       string         `json:"deleted_by"`
		BindingsRemoved int            `json:"bindings_removed"`
		DeletedAt       time.Time      `json:"deleted_at"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		TenantID:        event.TenantID,
		DeletedBy:       event.DeletedBy,
		BindingsRemoved: event.BindingsRemoved,
		DeletedAt:       event.DeletedAt.UTC(),
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, "tenant.deleted", event.DeletedBy, event.DeletedAt, payload)
}

// PublishUserDeleted publishes identity.user.deleted events.
func (p *EventPublisher) PublishUserDeleted(ctx context.Context, event domain.UserDeletedEvent) error {
	payload := struct {
		UserID    string         `json:"user_id"`
		DeletedAt time.Time      `json:"deleted_at"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		UserID:    event.UserID,
		DeletedAt: event.DeletedAt.UTC(),
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "user.deleted", event.UserID, event.DeletedAt, payload)
}

// PublishSessionRevoked publishes identity.session.revoked events.
func (p *EventPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		SessionID string         `json:"session_id"`
		UserID    string         `json:"user_id"`
		Reason    string         `json:"reason"`
		RevokedAt time.Time      `json:"revoked_at"`
		IPAddress *string        `json:"ip_address,omitempty"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		SessionID: event.SessionID,
		UserID:    event.UserID,
		Reason:    event.Reason,
		RevokedAt: event.RevokedAt.UTC(),
		IPAddress: event.IPAddress,
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "session.revoked", event.UserID, event.RevokedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
