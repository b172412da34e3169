package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()
	asyncProducer := newFakeAsyncProducer()
	producer := &Producer{
		producer: asyncProducer,
		logger:   zaptest.NewLogger(t),
		cfg: config.KafkaSettings{
			TopicPrefix: "identity",
		},
		done: make(chan struct{}),
	}
	publisher := NewEventPublisher(producer, config.AppSettings{
		Name: "pipehub-identity",
		Env:  "test",
	}, zaptest.NewLogger(t))
	return publisher, asyncProducer
}

func TestPublishSessionRevoked(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	revokedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := domain.SessionRevokedEvent{
		EventID:   "event-123",
		SessionID: "session-456",
		UserID:    "user-789",
		Reason:    "logout",
		RevokedAt: revokedAt,
	}

	if err := publisher.PublishSessionRevoked(context.Background(), event); err != nil {
		t.Fatalf("PublishSessionRevoked returned error: %v", err)
	}

	select {
	case msg := <-asyncProducer.input:
		if msg.Topic != "identity.session.revoked" {
			t.Fatalf("unexpected topic: %s", msg.Topic)
		}

		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}

		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}

		if got := envelope["event_type"]; got != "session.revoked" {
			t.Fatalf("unexpected event_type: %v", got)
		}
		if got := envelope["event_id"]; got != "event-123" {
			t.Fatalf("unexpected event_id: %v", got)
		}
		if got := envelope["user_id"]; got != event.UserID {
			t.Fatalf("unexpected user_id: %v", got)
		}

		payload, ok := envelope["payload"].(map[string]any)
		if !ok {
			t.Fatalf("payload not an object: %T", envelope["payload"])
		}
		if got := payload["reason"]; got != "logout" {
			t.Fatalf("unexpected reason: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no message produced")
	}
}

func TestPublishIdentitiesMerged(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	event := domain.IdentitiesMergedEvent{
		EventID:           "event-merge",
		CanonicalUserID:   "user-keep",
		MergedUserID:      "user-gone",
		LinkedAccountID:   "acc-1",
		AccountsMoved:     2,
		MergedUserRemoved: true,
		MergedAt:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := publisher.PublishIdentitiesMerged(context.Background(), event); err != nil {
		t.Fatalf("PublishIdentitiesMerged returned error: %v", err)
	}

	select {
	case msg := <-asyncProducer.input:
		if msg.Topic != "identity.identities.merged" {
			t.Fatalf("unexpected topic: %s", msg.Topic)
		}

		bytes, _ := msg.Value.Encode()
		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}

		payload := envelope["payload"].(map[string]any)
		if got := payload["canonical_user_id"]; got != "user-keep" {
			t.Fatalf("unexpected canonical_user_id: %v", got)
		}
		if got := payload["accounts_moved"]; got != float64(2) {
			t.Fatalf("unexpected accounts_moved: %v", got)
		}
		if got := payload["merged_user_removed"]; got != true {
			t.Fatalf("unexpected merged_user_removed: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no message produced")
	}
}
