package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pawtrust/adoption-platform/internal/apperr"
	"github.com/pawtrust/adoption-platform/internal/catalog"
	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/internal/store"
	"github.com/pawtrust/adoption-platform/pkg/logger"
	"github.com/pawtrust/adoption-platform/pkg/metrics"
	"github.com/pawtrust/adoption-platform/pkg/tracing"
)

// Lifecycle creates adoption requests and routes seller decisions to the
// coordinator.
type Lifecycle struct {
	store       store.NegotiationStore
	catalog     catalog.PetCatalog
	coordinator *Coordinator
	events      *Events
	history     EventHistory
	logger      *logger.Logger
	now         func() time.Time

	// coalesces identical concurrent requests from one buyer
	inflight singleflight.Group
}

// NewLifecycle creates a new request lifecycle. history may be nil.
func NewLifecycle(st store.NegotiationStore, cat catalog.PetCatalog, coordinator *Coordinator, events *Events, history EventHistory, log *logger.Logger) *Lifecycle {
	return &Lifecycle{
		store:       st,
		catalog:     cat,
		coordinator: coordinator,
		events:      events,
		history:     history,
		logger:      log.Named("lifecycle"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type adoptionResult struct {
	req     *model.AdoptionRequest
	created bool
}

// RequestAdoption reserves an available pet for buyerID and records the
// pending request. While the buyer's request is pending, repeated calls
// return it with created=false.
func (l *Lifecycle) RequestAdoption(ctx context.Context, petID, buyerID string) (*model.AdoptionRequest, bool, error) {
	const op = "lifecycle.request_adoption"

	petID, buyerID = strings.TrimSpace(petID), strings.TrimSpace(buyerID)
	if petID == "" || buyerID == "" {
		metrics.RecordAdoptionRequest("invalid_input")
		return nil, false, apperr.InvalidInput(op, "pet_id is required")
	}

	ctx, span := tracing.Tracer().Start(ctx, "Lifecycle.RequestAdoption")
	span.SetAttributes(attribute.String("adoption.pet_id", petID))
	defer span.End()

	// The shared call must not depend on whichever caller started it; a
	// caller that goes away simply stops waiting.
	shared := context.WithoutCancel(ctx)
	ch := l.inflight.DoChan(petID+"/"+buyerID, func() (any, error) {
		req, created, err := l.requestAdoption(shared, op, petID, buyerID)
		return adoptionResult{req: req, created: created}, err
	})
	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		metrics.RecordAdoptionRequest("cancelled")
		return nil, false, apperr.Wrap(op, ctx.Err())
	}
	outcome := "created"
	if r.Err != nil {
		outcome = string(apperr.KindOf(r.Err))
		metrics.RecordAdoptionRequest(outcome)
		return nil, false, r.Err
	}
	res := r.Val.(adoptionResult)
	if !res.created {
		outcome = "existing"
	}
	metrics.RecordAdoptionRequest(outcome)

	// shared results must not alias between callers
	out := *res.req
	return &out, res.created, nil
}

func (l *Lifecycle) requestAdoption(ctx context.Context, op, petID, buyerID string) (*model.AdoptionRequest, bool, error) {
	pet, err := l.catalog.GetPet(ctx, petID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, false, apperr.NotFound(op, "pet not found")
	}
	if err != nil {
		return nil, false, apperr.Wrap(op, err)
	}
	if pet.SellerID == buyerID {
		return nil, false, apperr.Forbidden(op, "you cannot adopt your own pet")
	}

	existing, err := l.store.FindPendingRequest(ctx, petID, buyerID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, apperr.Wrap(op, err)
	}

	if pet.Status != model.PetAvailable {
		return nil, false, apperr.InvalidState(op, msgPetUnavailable)
	}

	if _, err := l.coordinator.Reserve(ctx, petID); err != nil {
		return nil, false, err
	}

	req, err := l.store.CreateRequest(ctx, &model.AdoptionRequest{
		ID:        uuid.Must(uuid.NewV7()).String(),
		PetID:     petID,
		BuyerID:   buyerID,
		SellerID:  pet.SellerID,
		Status:    model.RequestPending,
		CreatedAt: l.now(),
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicate) && req != nil:
		// the pet was already held for this buyer, which the reservation now matches
		return req, false, nil
	case errors.Is(err, store.ErrDuplicate):
		if rerr := l.coordinator.Release(ctx, petID); rerr != nil {
			return nil, false, rerr
		}
		return nil, false, apperr.Conflict(op, msgPetUnavailable)
	case errors.Is(err, store.ErrPetHasPending):
		return nil, false, apperr.Conflict(op, msgPetUnavailable)
	default:
		l.logger.Error("failed to record adoption request", zap.String("pet_id", petID), zap.Error(err))
		return nil, false, apperr.Wrap(op, errors.Join(err, l.coordinator.Release(ctx, petID)))
	}

	l.events.emit(ctx, model.NegotiationEvent{
		Type:              model.EventAdoptionRequested,
		AdoptionRequestID: req.ID,
		PetID:             req.PetID,
		ActorID:           buyerID,
		CreatedAt:         req.CreatedAt,
	})
	l.logger.Info("adoption requested",
		zap.String("request_id", req.ID),
		zap.String("pet_id", petID),
		zap.String("buyer_id", buyerID),
	)
	return req, true, nil
}

// Decide approves or rejects a pending request. Only the seller may decide.
func (l *Lifecycle) Decide(ctx context.Context, requestID, deciderID string, outcome model.Outcome) (*model.AdoptionRequest, error) {
	const op = "lifecycle.decide"

	if !outcome.Valid() {
		return nil, apperr.InvalidInput(op, "outcome must be approve or reject")
	}

	req, err := l.getRequest(ctx, op, requestID)
	if err != nil {
		return nil, err
	}
	if deciderID == "" || deciderID != req.SellerID {
		return nil, apperr.Forbidden(op, "only the seller can decide this request")
	}
	if req.Status != model.RequestPending {
		return nil, apperr.InvalidState(op, msgRequestResolved)
	}

	return l.coordinator.Finalize(ctx, requestID, outcome)
}

// Get returns a request visible to one of its parties.
func (l *Lifecycle) Get(ctx context.Context, requestID, callerID string) (*model.AdoptionRequest, error) {
	const op = "lifecycle.get"

	req, err := l.getRequest(ctx, op, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsParty(callerID) {
		return nil, apperr.Forbidden(op, "not a party to this request")
	}
	return req, nil
}

// ListForSeller returns requests on the seller's pets, newest first.
func (l *Lifecycle) ListForSeller(ctx context.Context, sellerID string) ([]model.AdoptionRequest, error) {
	reqs, err := l.store.ListRequestsBySeller(ctx, sellerID)
	if err != nil {
		return nil, apperr.Wrap("lifecycle.list_for_seller", err)
	}
	return reqs, nil
}

// ListForBuyer returns the buyer's requests, newest first.
func (l *Lifecycle) ListForBuyer(ctx context.Context, buyerID string) ([]model.AdoptionRequest, error) {
	reqs, err := l.store.ListRequestsByBuyer(ctx, buyerID)
	if err != nil {
		return nil, apperr.Wrap("lifecycle.list_for_buyer", err)
	}
	return reqs, nil
}

// PetsForSeller lists the seller's pets with their current status.
func (l *Lifecycle) PetsForSeller(ctx context.Context, sellerID string) ([]model.Pet, error) {
	pets, err := l.catalog.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, apperr.Wrap("lifecycle.pets_for_seller", err)
	}
	return pets, nil
}

// History replays the event log of a request for one of its parties.
func (l *Lifecycle) History(ctx context.Context, requestID, callerID string, limit int) ([]model.NegotiationEvent, error) {
	if l.history == nil {
		return nil, ErrUnavailable
	}
	if _, err := l.Get(ctx, requestID, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	events, err := l.history.History(ctx, requestID, limit)
	if err != nil {
		return nil, apperr.Wrap("lifecycle.history", err)
	}
	return events, nil
}

func (l *Lifecycle) getRequest(ctx context.Context, op, requestID string) (*model.AdoptionRequest, error) {
	req, err := l.store.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(op, "adoption request not found")
	}
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return req, nil
}
