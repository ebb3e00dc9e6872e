package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/pawtrust/adoption-platform/internal/apperr"
	"github.com/pawtrust/adoption-platform/internal/catalog"
	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/internal/store"
	"github.com/pawtrust/adoption-platform/pkg/logger"
	"github.com/pawtrust/adoption-platform/pkg/metrics"
	"github.com/pawtrust/adoption-platform/pkg/tracing"
)

const (
	msgPetUnavailable  = "this pet is no longer available"
	msgRequestResolved = "this request has already been resolved"
	msgChatReadOnly    = "this chat is read-only"
)

// RetryPolicy bounds the internal retries of cross-entity steps.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy is used when a zero RetryPolicy is given.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 50 * time.Millisecond,
	MaxElapsed:      5 * time.Second,
}

// Coordinator is the only component that changes pet status. It keeps the
// pet, the adoption request and the chat from diverging.
type Coordinator struct {
	store   store.NegotiationStore
	catalog catalog.PetCatalog
	events  *Events
	retry   RetryPolicy
	logger  *logger.Logger
	now     func() time.Time
}

// NewCoordinator creates a new coordinator.
func NewCoordinator(st store.NegotiationStore, cat catalog.PetCatalog, events *Events, retry RetryPolicy, log *logger.Logger) *Coordinator {
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if retry.MaxElapsed <= 0 {
		retry.MaxElapsed = DefaultRetryPolicy.MaxElapsed
	}
	return &Coordinator{
		store:   st,
		catalog: cat,
		events:  events,
		retry:   retry,
		logger:  log.Named("coordinator"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reserve moves an available pet to pending. A lost race is a Conflict.
func (c *Coordinator) Reserve(ctx context.Context, petID string) (*model.Pet, error) {
	const op = "coordinator.reserve"

	pet, err := c.catalog.SetPetStatus(ctx, petID, model.PetPending, model.PetAvailable)
	switch {
	case err == nil:
		return pet, nil
	case errors.Is(err, catalog.ErrNotFound):
		return nil, apperr.NotFound(op, "pet not found")
	case errors.Is(err, catalog.ErrStatusMismatch):
		c.logger.Debug("lost reservation race", zap.String("pet_id", petID))
		return nil, apperr.Conflict(op, msgPetUnavailable)
	default:
		return nil, apperr.Wrap(op, err)
	}
}

// Release returns a reserved pet to available after a failed request
// creation. It runs to completion even if ctx is cancelled.
func (c *Coordinator) Release(ctx context.Context, petID string) error {
	ctx = context.WithoutCancel(ctx)
	err := c.withRetry(ctx, "release_pet", func() error {
		_, err := c.catalog.SetPetStatus(ctx, petID, model.PetAvailable, model.PetPending)
		if errors.Is(err, catalog.ErrStatusMismatch) || errors.Is(err, catalog.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		metrics.InconsistenciesTotal.WithLabelValues("release_failed").Inc()
		c.logger.Error("failed to release reserved pet", zap.String("pet_id", petID), zap.Error(err))
		return apperr.Wrap("coordinator.release", err)
	}
	c.logger.Warn("released reserved pet", zap.String("pet_id", petID))
	return nil
}

// Finalize applies a seller decision to the request, the pet and the chat
// as one logical step. If the pet cannot follow, the request is put back to
// pending and Conflict is returned.
func (c *Coordinator) Finalize(ctx context.Context, requestID string, outcome model.Outcome) (req *model.AdoptionRequest, err error) {
	const op = "coordinator.finalize"

	ctx, span := tracing.Tracer().Start(ctx, "Coordinator.Finalize")
	span.SetAttributes(
		attribute.String("adoption.request_id", requestID),
		attribute.String("adoption.outcome", string(outcome)),
	)
	defer func() {
		result := "ok"
		if err != nil {
			result = string(apperr.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.RecordFinalization(string(outcome), result)
		span.End()
	}()

	if !outcome.Valid() {
		return nil, apperr.InvalidInput(op, "outcome must be approve or reject")
	}

	current, err := c.store.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(op, "adoption request not found")
	}
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if current.Status != model.RequestPending {
		return nil, apperr.InvalidState(op, msgRequestResolved)
	}
	span.SetAttributes(attribute.String("adoption.pet_id", current.PetID))

	pet, err := c.catalog.GetPet(ctx, current.PetID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if pet.Status != model.PetPending {
		// a concurrent decision may have completed in between
		if latest, err := c.store.GetRequest(ctx, requestID); err == nil && latest.Status != model.RequestPending {
			return nil, apperr.InvalidState(op, msgRequestResolved)
		}
		c.inconsistent(ctx, current, "pet_not_pending", "pet is "+string(pet.Status)+" while its request is pending")
		return nil, apperr.Conflict(op, "pet status is %s, expected pending", pet.Status)
	}

	// The request transition is the serialization point between
	// concurrent decisions.
	decidedAt := c.now()
	target := outcome.RequestStatus()
	err = c.withRetry(ctx, "request", func() error {
		var err error
		req, err = c.store.TransitionRequest(ctx, requestID, model.RequestPending, target, decidedAt)
		if errors.Is(err, store.ErrStatusMismatch) || errors.Is(err, store.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if errors.Is(err, store.ErrStatusMismatch) {
		return nil, apperr.InvalidState(op, msgRequestResolved)
	}
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}

	err = c.withRetry(ctx, "pet", func() error {
		_, err := c.catalog.SetPetStatus(ctx, current.PetID, outcome.PetStatus(), model.PetPending)
		if errors.Is(err, catalog.ErrStatusMismatch) && c.petAt(ctx, current.PetID, outcome.PetStatus()) {
			// a reconciler applied this decision first
			return nil
		}
		if errors.Is(err, catalog.ErrStatusMismatch) || errors.Is(err, catalog.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		c.compensate(ctx, req, err)
		if errors.Is(err, catalog.ErrStatusMismatch) {
			return nil, apperr.Conflict(op, msgPetUnavailable)
		}
		return nil, apperr.Wrap(op, err)
	}

	c.closeChat(ctx, req)

	eventType := model.EventAdoptionRejected
	if outcome == model.OutcomeApprove {
		eventType = model.EventAdoptionApproved
	}
	c.events.emit(ctx, model.NegotiationEvent{
		Type:              eventType,
		AdoptionRequestID: req.ID,
		PetID:             req.PetID,
		ActorID:           req.SellerID,
		CreatedAt:         decidedAt,
	})

	c.logger.Info("adoption request finalized",
		zap.String("request_id", req.ID),
		zap.String("pet_id", req.PetID),
		zap.String("status", string(req.Status)),
	)
	return req, nil
}

// petAt reports whether the pet is currently in status.
func (c *Coordinator) petAt(ctx context.Context, petID string, status model.PetStatus) bool {
	pet, err := c.catalog.GetPet(ctx, petID)
	return err == nil && pet.Status == status
}

// compensate puts a decided request back to pending after its pet step
// failed, so the two never disagree.
func (c *Coordinator) compensate(ctx context.Context, req *model.AdoptionRequest, cause error) {
	ctx = context.WithoutCancel(ctx)
	err := c.withRetry(ctx, "compensate", func() error {
		_, err := c.store.TransitionRequest(ctx, req.ID, req.Status, model.RequestPending, c.now())
		if errors.Is(err, store.ErrStatusMismatch) || errors.Is(err, store.ErrPetHasPending) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		// left for the reconciler
		c.inconsistent(ctx, req, "compensation_failed", err.Error())
		c.logger.Error("failed to revert request after pet step failed",
			zap.String("request_id", req.ID),
			zap.String("pet_id", req.PetID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	metrics.InconsistenciesTotal.WithLabelValues("compensated").Inc()
	c.logger.Error("finalize rolled back",
		zap.String("request_id", req.ID),
		zap.String("pet_id", req.PetID),
		zap.Error(cause),
	)
}

// closeChat makes the request's chat read-only. A missing chat is fine.
func (c *Coordinator) closeChat(ctx context.Context, req *model.AdoptionRequest) bool {
	var (
		chat   *model.Chat
		closed bool
	)
	err := c.withRetry(ctx, "close_chat", func() error {
		var err error
		chat, closed, err = c.store.CloseChat(ctx, req.ID, c.now())
		if errors.Is(err, store.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		c.logger.Warn("failed to close chat", zap.String("request_id", req.ID), zap.Error(err))
		return false
	}
	if closed {
		c.events.emit(ctx, model.NegotiationEvent{
			Type:              model.EventChatClosed,
			AdoptionRequestID: req.ID,
			PetID:             req.PetID,
			ChatID:            chat.ID,
		})
		c.events.chatChanged(ctx, chat.ID)
	}
	return closed
}

// Reconcile repairs decided requests decided since the given time whose
// pet or chat did not follow. Decisions younger than the settle window may
// still be inside Finalize and are left for a later pass. It returns the
// number of repairs.
func (c *Coordinator) Reconcile(ctx context.Context, since time.Time) (int, error) {
	ctx, span := tracing.Tracer().Start(ctx, "Coordinator.Reconcile")
	defer span.End()

	decided, err := c.store.ListDecidedSince(ctx, since)
	if err != nil {
		return 0, apperr.Wrap("coordinator.reconcile", err)
	}

	settled := c.now().Add(-c.settleWindow())
	repaired := 0
	for i := range decided {
		req := &decided[i]
		if req.DecidedAt == nil || req.DecidedAt.After(settled) {
			continue
		}
		if c.repairPet(ctx, req) {
			repaired++
		}
		if c.closeChat(ctx, req) {
			metrics.InconsistenciesTotal.WithLabelValues("chat_closed").Inc()
			repaired++
		}
	}
	span.SetAttributes(attribute.Int("reconcile.repaired", repaired))
	if repaired > 0 {
		c.logger.Warn("reconciled divergent requests", zap.Int("repaired", repaired))
	}
	return repaired, nil
}

// settleWindow covers a Finalize retrying its request step and then its
// pet step, each bounded by MaxElapsed.
func (c *Coordinator) settleWindow() time.Duration {
	return 2*c.retry.MaxElapsed + time.Second
}

func (c *Coordinator) repairPet(ctx context.Context, req *model.AdoptionRequest) bool {
	outcome, ok := model.OutcomeFor(req.Status)
	if !ok || req.DecidedAt == nil {
		return false
	}
	pet, err := c.catalog.GetPet(ctx, req.PetID)
	if err != nil {
		c.logger.Warn("reconcile: pet lookup failed", zap.String("pet_id", req.PetID), zap.Error(err))
		return false
	}
	// A pet reserved after the decision belongs to a newer request.
	if pet.Status != model.PetPending || !pet.UpdatedAt.Before(*req.DecidedAt) {
		return false
	}
	if c.hasPendingRequest(ctx, req) {
		return false
	}

	if _, err := c.catalog.SetPetStatus(ctx, pet.ID, outcome.PetStatus(), model.PetPending); err != nil {
		c.logger.Warn("reconcile: pet repair failed", zap.String("pet_id", pet.ID), zap.Error(err))
		return false
	}
	c.inconsistent(ctx, req, "repaired", "pet moved to "+string(outcome.PetStatus()))
	return true
}

func (c *Coordinator) hasPendingRequest(ctx context.Context, req *model.AdoptionRequest) bool {
	reqs, err := c.store.ListRequestsBySeller(ctx, req.SellerID)
	if err != nil {
		// unknown, so leave the pet alone
		return true
	}
	for _, r := range reqs {
		if r.PetID == req.PetID && r.Status == model.RequestPending {
			return true
		}
	}
	return false
}

func (c *Coordinator) inconsistent(ctx context.Context, req *model.AdoptionRequest, action, reason string) {
	metrics.InconsistenciesTotal.WithLabelValues(action).Inc()
	c.logger.Error("adoption state divergence",
		zap.String("request_id", req.ID),
		zap.String("pet_id", req.PetID),
		zap.String("action", action),
		zap.String("reason", reason),
	)
	c.events.emit(ctx, model.NegotiationEvent{
		Type:              model.EventInconsistency,
		AdoptionRequestID: req.ID,
		PetID:             req.PetID,
		Reason:            reason,
		Metadata:          map[string]any{"action": action},
	})
}

func (c *Coordinator) withRetry(ctx context.Context, step string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxElapsedTime = c.retry.MaxElapsed

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		metrics.FinalizeRetriesTotal.WithLabelValues(step).Inc()
		c.logger.Debug("retrying step",
			zap.String("step", step),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}
