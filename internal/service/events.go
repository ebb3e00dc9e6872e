// Package service implements the adoption negotiation workflow: request
// lifecycle, negotiation chats and cross-entity finalization.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/pkg/logger"
	"github.com/pawtrust/adoption-platform/pkg/metrics"
)

// ErrUnavailable is returned by optional features that are not configured.
var ErrUnavailable = errors.New("feature not configured")

// EventPublisher appends negotiation events to the event log.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.NegotiationEvent) (uint64, error)
}

// EventHistory replays a request's events.
type EventHistory interface {
	History(ctx context.Context, requestID string, limit int) ([]model.NegotiationEvent, error)
}

// ChatNotifier is told whenever a chat's version changes.
type ChatNotifier interface {
	ChatUpdated(ctx context.Context, chatID string)
}

// ChatWatcher lets readers park until a chat changes.
type ChatWatcher interface {
	Subscribe(chatID string) (<-chan struct{}, func())
}

// Events fans lifecycle changes out to the event log and chat readers.
// Failures are logged and never fail the calling operation.
type Events struct {
	publisher EventPublisher
	notifier  ChatNotifier
	logger    *logger.Logger
}

// NewEvents creates an Events. publisher and notifier may be nil.
func NewEvents(publisher EventPublisher, notifier ChatNotifier, log *logger.Logger) *Events {
	return &Events{
		publisher: publisher,
		notifier:  notifier,
		logger:    log.Named("events"),
	}
}

func (e *Events) emit(ctx context.Context, event model.NegotiationEvent) {
	if e == nil || e.publisher == nil {
		return
	}
	event.ID = uuid.Must(uuid.NewV7()).String()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	seq, err := e.publisher.PublishEvent(pubCtx, &event)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), "error").Inc()
		e.logger.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("request_id", event.AdoptionRequestID),
			zap.Error(err),
		)
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), "ok").Inc()
	e.logger.Debug("event published",
		zap.String("type", string(event.Type)),
		zap.String("request_id", event.AdoptionRequestID),
		zap.Uint64("sequence", seq),
	)
}

func (e *Events) chatChanged(ctx context.Context, chatID string) {
	if e == nil || e.notifier == nil || chatID == "" {
		return
	}
	e.notifier.ChatUpdated(ctx, chatID)
}
