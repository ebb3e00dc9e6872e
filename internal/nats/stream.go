package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/pawtrust/adoption-platform/internal/model"
)

const (
	// StreamName is the name of the negotiation event stream.
	StreamName = "ADOPTIONS"

	// SubjectPrefix is the prefix for all negotiation subjects.
	SubjectPrefix = "adopt"
)

// StreamManager publishes and replays negotiation events.
type StreamManager struct {
	js jetstream.JetStream
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{js: client.JetStream()}
}

// EnsureStream creates the event stream if it does not exist.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	_, err := m.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = m.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Adoption request and negotiation chat history",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// EventSubject returns the subject for an event.
func EventSubject(requestID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, requestID, eventType)
}

// RequestFilter returns the filter subject for every event of a request.
func RequestFilter(requestID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, requestID)
}

// PublishEvent appends an event to the stream. The event id doubles as the
// JetStream message id so retried publishes are deduplicated.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.NegotiationEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.js.Publish(ctx, EventSubject(event.AdoptionRequestID, event.Type), data,
		jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}
	return ack.Sequence, nil
}

// History replays up to limit events of a request, oldest first.
func (m *StreamManager) History(ctx context.Context, requestID string, limit int) ([]model.NegotiationEvent, error) {
	consumer, err := m.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{RequestFilter(requestID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	events := []model.NegotiationEvent{}
	for msg := range batch.Messages() {
		var event model.NegotiationEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			event.Sequence = meta.Sequence.Stream
		}
		events = append(events, event)
	}
	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, fmt.Errorf("batch error: %w", err)
	}
	return events, nil
}
