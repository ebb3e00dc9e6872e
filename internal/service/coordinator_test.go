package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrust/adoption-platform/internal/apperr"
	"github.com/pawtrust/adoption-platform/internal/catalog"
	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/pkg/logger"
)

func TestFinalizeRetriesTransientPetFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, "pet-1", buyer)

	h.catalog.onSet = failTimes(2, model.PetAdopted, errTransient)

	decided, err := h.coordinator.Finalize(ctx, req.ID, model.OutcomeApprove)
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, decided.Status)
	assert.Equal(t, model.PetAdopted, h.petStatus(t, "pet-1"))
}

func TestFinalizeRollsBackWhenPetStepKeepsFailing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, "pet-1", buyer)

	h.catalog.onSet = failTimes(1000, model.PetAvailable, errTransient)

	_, err := h.coordinator.Finalize(ctx, req.ID, model.OutcomeReject)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	// request and pet agree again
	got, err := h.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.Status)
	assert.Nil(t, got.DecidedAt)
	assert.Equal(t, model.PetPending, h.petStatus(t, "pet-1"))

	// and the decision can be retried once the catalog recovers
	h.catalog.onSet = nil
	_, err = h.lifecycle.Decide(ctx, req.ID, seller, model.OutcomeReject)
	require.NoError(t, err)
	assert.Equal(t, model.PetAvailable, h.petStatus(t, "pet-1"))
}

func TestFinalizeRollsBackOnPetConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, "pet-1", buyer)

	// the pet leaves pending between the pre-check and the swap
	h.catalog.onSet = failTimes(1, model.PetAdopted, catalog.ErrStatusMismatch)

	_, err := h.coordinator.Finalize(ctx, req.ID, model.OutcomeApprove)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	got, err := h.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.Status)
	assert.Equal(t, 0, h.events.count(model.EventAdoptionApproved))
}

func TestFinalizeRefusesWhenPetNotPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, "pet-1", buyer)

	_, err := h.pets.SetPetStatus(ctx, "pet-1", model.PetUnavailable, model.PetPending)
	require.NoError(t, err)

	_, err = h.coordinator.Finalize(ctx, req.ID, model.OutcomeApprove)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 1, h.events.count(model.EventInconsistency))

	got, err := h.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.Status)
	assert.Equal(t, model.PetUnavailable, h.petStatus(t, "pet-1"))
}

func TestFinalizeClosesChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, chat := h.openChat(t, "pet-1")

	_, err := h.chats.PostMessage(ctx, chat.ID, buyer, "can I visit on Saturday?")
	require.NoError(t, err)

	_, err = h.lifecycle.Decide(ctx, req.ID, seller, model.OutcomeApprove)
	require.NoError(t, err)

	proj, err := h.chats.Get(ctx, chat.ID, buyer)
	require.NoError(t, err)
	assert.True(t, proj.Chat.Closed)
	assert.True(t, proj.ReadOnly)
	assert.Equal(t, model.RequestApproved, proj.RequestStatus)
	assert.Len(t, proj.Messages, 1)
	assert.Equal(t, 1, h.events.count(model.EventChatClosed))

	_, err = h.chats.PostMessage(ctx, chat.ID, buyer, "thanks!")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Equal(t, "this chat is read-only", apperr.PublicMessage(err))

	_, err = h.chats.AcceptTerms(ctx, chat.ID, seller)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestConcurrentDecisionsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, "pet-1", buyer)

	outcomes := []model.Outcome{model.OutcomeApprove, model.OutcomeReject, model.OutcomeApprove, model.OutcomeReject}
	errs := make(chan error, len(outcomes))
	for _, o := range outcomes {
		go func(o model.Outcome) {
			_, err := h.lifecycle.Decide(ctx, req.ID, seller, o)
			errs <- err
		}(o)
	}

	wins := 0
	for range outcomes {
		err := <-errs
		if err == nil {
			wins++
			continue
		}
		kind := apperr.KindOf(err)
		assert.Contains(t, []apperr.Kind{apperr.KindInvalidState, apperr.KindConflict}, kind, err)
	}
	assert.Equal(t, 1, wins)

	got, err := h.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	switch got.Status {
	case model.RequestApproved:
		assert.Equal(t, model.PetAdopted, h.petStatus(t, "pet-1"))
	case model.RequestRejected:
		assert.Equal(t, model.PetAvailable, h.petStatus(t, "pet-1"))
	default:
		t.Fatalf("request left %s", got.Status)
	}
}

func TestReconcileRepairsPetLeftBehind(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, chat := h.openChat(t, "pet-1")

	// a decision recorded without its pet and chat steps, long enough ago
	// that no Finalize can still be working on it
	decidedAt := time.Now().UTC().Add(time.Second)
	_, err := h.store.TransitionRequest(ctx, req.ID, model.RequestPending, model.RequestApproved, decidedAt)
	require.NoError(t, err)
	h.coordinator.now = func() time.Time { return decidedAt.Add(time.Hour) }

	repaired, err := h.coordinator.Reconcile(ctx, decidedAt.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)
	assert.Equal(t, model.PetAdopted, h.petStatus(t, "pet-1"))

	closed, err := h.store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, closed.Closed)

	// nothing left to do
	repaired, err = h.coordinator.Reconcile(ctx, decidedAt.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestReconcileLeavesNewerReservationAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.request(t, "pet-1", buyer)
	_, err := h.lifecycle.Decide(ctx, first.ID, seller, model.OutcomeReject)
	require.NoError(t, err)
	second := h.request(t, "pet-1", buyer2)
	h.coordinator.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	repaired, err := h.coordinator.Reconcile(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, repaired)
	assert.Equal(t, model.PetPending, h.petStatus(t, "pet-1"))

	got, err := h.store.GetRequest(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.Status)
}

func TestReserveAndRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coordinator.Reserve(ctx, "pet-1")
	require.NoError(t, err)
	_, err = h.coordinator.Reserve(ctx, "pet-1")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	_, err = h.coordinator.Reserve(ctx, "ghost")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	require.NoError(t, h.coordinator.Release(ctx, "pet-1"))
	assert.Equal(t, model.PetAvailable, h.petStatus(t, "pet-1"))
	assert.Error(t, h.coordinator.Release(ctx, "pet-1"))
}

func TestFinalizeAcceptsPetAlreadyRepaired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, "pet-1", buyer)

	// another replica's reconciler, whose clock puts the decision outside
	// its settle window, repairs the pet while Finalize retries
	log := logger.NewNop()
	other := NewCoordinator(h.store, h.pets, NewEvents(nil, nil, log), h.coordinator.retry, log)
	other.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	var (
		once     sync.Once
		repaired int
	)
	h.catalog.onSet = func(_ string, to, _ model.PetStatus) error {
		if to != model.PetAvailable {
			return nil
		}
		var err error
		once.Do(func() {
			repaired, err = other.Reconcile(ctx, time.Now().Add(-time.Hour))
			if err == nil {
				err = errTransient
			}
		})
		return err
	}

	decided, err := h.coordinator.Finalize(ctx, req.ID, model.OutcomeReject)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	assert.Equal(t, model.RequestRejected, decided.Status)

	got, err := h.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, got.Status)
	assert.Equal(t, model.PetAvailable, h.petStatus(t, "pet-1"))
	assert.Equal(t, 1, h.events.count(model.EventAdoptionRejected))
}

func TestReconcileSkipsDecisionStillFinalizing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, "pet-1", buyer)

	var (
		once     sync.Once
		repaired = -1
	)
	h.catalog.onSet = func(_ string, to, _ model.PetStatus) error {
		if to != model.PetAdopted {
			return nil
		}
		var err error
		once.Do(func() {
			repaired, err = h.coordinator.Reconcile(ctx, time.Now().Add(-time.Hour))
			if err == nil {
				err = errTransient
			}
		})
		return err
	}

	_, err := h.coordinator.Finalize(ctx, req.ID, model.OutcomeApprove)
	require.NoError(t, err)
	assert.Zero(t, repaired)
	assert.Equal(t, model.PetAdopted, h.petStatus(t, "pet-1"))
	assert.Zero(t, h.events.count(model.EventInconsistency))
}

func TestReleaseIgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t)
	_, err := h.coordinator.Reserve(context.Background(), "pet-1")
	require.NoError(t, err)

	h.catalog.honorCtx = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.coordinator.Release(ctx, "pet-1"))
	assert.Equal(t, model.PetAvailable, h.petStatus(t, "pet-1"))
}
