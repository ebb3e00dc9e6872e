// Package storetest holds behavioural tests every NegotiationStore must pass.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/internal/store"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) store.NegotiationStore

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateRequestUniquePendingPerPet", func(t *testing.T) { testCreateRequest(t, newStore(t)) })
	t.Run("TransitionRequest", func(t *testing.T) { testTransition(t, newStore(t)) })
	t.Run("ListRequests", func(t *testing.T) { testListRequests(t, newStore(t)) })
	t.Run("ChatUniquePerRequest", func(t *testing.T) { testChatUnique(t, newStore(t)) })
	t.Run("AppendMessageOrdering", func(t *testing.T) { testAppendMessage(t, newStore(t)) })
	t.Run("AcceptanceIsMonotone", func(t *testing.T) { testAcceptance(t, newStore(t)) })
	t.Run("CloseChat", func(t *testing.T) { testCloseChat(t, newStore(t)) })
	t.Run("ChatWritesFollowRequestStatus", func(t *testing.T) { testChatWritesFollowRequest(t, newStore(t)) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// PendingRequest builds a pending request fixture.
func PendingRequest(id, petID, buyerID, sellerID string) *model.AdoptionRequest {
	return &model.AdoptionRequest{
		ID:        id,
		PetID:     petID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Status:    model.RequestPending,
		CreatedAt: base,
	}
}

// OpenChat builds a chat fixture for req.
func OpenChat(id string, req *model.AdoptionRequest) *model.Chat {
	return &model.Chat{
		ID:                id,
		AdoptionRequestID: req.ID,
		BuyerID:           req.BuyerID,
		SellerID:          req.SellerID,
		CreatedAt:         base,
		UpdatedAt:         base,
	}
}

func testCreateRequest(t *testing.T, s store.NegotiationStore) {
	ctx := context.Background()

	created, err := s.CreateRequest(ctx, PendingRequest("r1", "p1", "b1", "s1"))
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, created.Status)

	again, err := s.CreateRequest(ctx, PendingRequest("r2", "p1", "b1", "s1"))
	assert.ErrorIs(t, err, store.ErrDuplicate)
	require.NotNil(t, again)
	assert.Equal(t, "r1", again.ID)

	_, err = s.CreateRequest(ctx, PendingRequest("r3", "p1", "b2", "s1"))
	assert.ErrorIs(t, err, store.ErrPetHasPending)

	found, err := s.FindPendingRequest(ctx, "p1", "b1")
	require.NoError(t, err)
	assert.Equal(t, "r1", found.ID)

	_, err = s.FindPendingRequest(ctx, "p1", "b2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetRequest(ctx, "r3")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testTransition(t *testing.T, s store.NegotiationStore) {
	ctx := context.Background()
	_, err := s.CreateRequest(ctx, PendingRequest("r1", "p1", "b1", "s1"))
	require.NoError(t, err)

	decided, err := s.TransitionRequest(ctx, "r1", model.RequestPending, model.RequestRejected, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, decided.Status)
	require.NotNil(t, decided.DecidedAt)
	assert.True(t, decided.DecidedAt.Equal(base.Add(time.Hour)))

	_, err = s.TransitionRequest(ctx, "r1", model.RequestPending, model.RequestApproved, base)
	assert.ErrorIs(t, err, store.ErrStatusMismatch)

	_, err = s.TransitionRequest(ctx, "missing", model.RequestPending, model.RequestApproved, base)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// the pet is free again once its request is decided
	_, err = s.CreateRequest(ctx, PendingRequest("r2", "p1", "b2", "s1"))
	require.NoError(t, err)

	// reverting r1 to pending now collides with r2
	_, err = s.TransitionRequest(ctx, "r1", model.RequestRejected, model.RequestPending, base)
	assert.ErrorIs(t, err, store.ErrPetHasPending)

	decidedSince, err := s.ListDecidedSince(ctx, base)
	require.NoError(t, err)
	require.Len(t, decidedSince, 1)
	assert.Equal(t, "r1", decidedSince[0].ID)

	none, err := s.ListDecidedSince(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testListRequests(t *testing.T, s store.NegotiationStore) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		r := PendingRequest(fmt.Sprintf("r%d", i), fmt.Sprintf("p%d", i), "b1", "s1")
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, err := s.CreateRequest(ctx, r)
		require.NoError(t, err)
	}
	_, err := s.CreateRequest(ctx, PendingRequest("other", "p9", "b2", "s2"))
	require.NoError(t, err)

	bySeller, err := s.ListRequestsBySeller(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, bySeller, 3)
	assert.Equal(t, "r2", bySeller[0].ID, "newest first")

	byBuyer, err := s.ListRequestsByBuyer(ctx, "b2")
	require.NoError(t, err)
	require.Len(t, byBuyer, 1)
	assert.Equal(t, "other", byBuyer[0].ID)
}

func testChatUnique(t *testing.T, s store.NegotiationStore) {
	ctx := context.Background()
	req, err := s.CreateRequest(ctx, PendingRequest("r1", "p1", "b1", "s1"))
	require.NoError(t, err)

	chat, err := s.CreateChat(ctx, OpenChat("c1", req))
	require.NoError(t, err)
	assert.False(t, chat.Closed)

	_, err = s.CreateChat(ctx, OpenChat("c2", req))
	assert.ErrorIs(t, err, store.ErrDuplicate)

	byReq, err := s.GetChatByRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "c1", byReq.ID)

	_, err = s.GetChat(ctx, "c2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAppendMessage(t *testing.T, s store.NegotiationStore) {
	ctx := context.Background()
	req, err := s.CreateRequest(ctx, PendingRequest("r1", "p1", "b1", "s1"))
	require.NoError(t, err)
	_, err = s.CreateChat(ctx, OpenChat("c1", req))
	require.NoError(t, err)

	// a skewed clock must not reorder createdAt
	stamps := []time.Time{base.Add(time.Minute), base, base.Add(-time.Hour)}
	var prev time.Time
	for i, at := range stamps {
		msg, chat, err := s.AppendMessage(ctx, &model.Message{
			ID:        fmt.Sprintf("m%d", i),
			ChatID:    "c1",
			SenderID:  "b1",
			Content:   "hello",
			CreatedAt: at,
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), msg.Sequence)
		assert.Equal(t, msg.Sequence, chat.LastSequence)
		if i > 0 {
			assert.True(t, msg.CreatedAt.After(prev), "createdAt must increase")
		}
		prev = msg.CreatedAt
	}

	all, err := s.ListMessages(ctx, "c1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "m0", all[0].ID)
	assert.Equal(t, "m2", all[2].ID)

	tail, err := s.ListMessages(ctx, "c1", 1, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(2), tail[0].Sequence)

	_, _, err = s.AppendMessage(ctx, &model.Message{ID: "mx", ChatID: "nope", SenderID: "b1", Content: "x", CreatedAt: base})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAcceptance(t *testing.T, s store.NegotiationStore) {
	ctx := context.Background()
	req, err := s.CreateRequest(ctx, PendingRequest("r1", "p1", "b1", "s1"))
	require.NoError(t, err)
	created, err := s.CreateChat(ctx, OpenChat("c1", req))
	require.NoError(t, err)

	chat, flipped, err := s.SetAccepted(ctx, "c1", model.PartyBuyer)
	require.NoError(t, err)
	assert.True(t, flipped)
	assert.True(t, chat.BuyerAccepted)
	assert.False(t, chat.SellerAccepted)
	assert.Greater(t, chat.Version, created.Version)

	chat, flipped, err = s.SetAccepted(ctx, "c1", model.PartyBuyer)
	require.NoError(t, err)
	assert.False(t, flipped)
	assert.True(t, chat.BuyerAccepted)

	_, marked, err := s.MarkMutual(ctx, "c1", base)
	require.NoError(t, err)
	assert.False(t, marked, "only one party accepted")

	_, _, err = s.SetAccepted(ctx, "c1", model.PartySeller)
	require.NoError(t, err)

	chat, marked, err = s.MarkMutual(ctx, "c1", base)
	require.NoError(t, err)
	assert.True(t, marked)
	require.NotNil(t, chat.MutualAt)

	_, marked, err = s.MarkMutual(ctx, "c1", base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, marked, "mutual acceptance is recorded once")

	_, _, err = s.SetAccepted(ctx, "missing", model.PartyBuyer)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCloseChat(t *testing.T, s store.NegotiationStore) {
	ctx := context.Background()
	req, err := s.CreateRequest(ctx, PendingRequest("r1", "p1", "b1", "s1"))
	require.NoError(t, err)
	_, err = s.CreateChat(ctx, OpenChat("c1", req))
	require.NoError(t, err)

	chat, closed, err := s.CloseChat(ctx, "r1", base)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.True(t, chat.Closed)
	require.NotNil(t, chat.ClosedAt)

	_, closed, err = s.CloseChat(ctx, "r1", base)
	require.NoError(t, err)
	assert.False(t, closed)

	_, _, err = s.AppendMessage(ctx, &model.Message{ID: "m1", ChatID: "c1", SenderID: "b1", Content: "late", CreatedAt: base})
	assert.ErrorIs(t, err, store.ErrChatClosed)

	_, _, err = s.SetAccepted(ctx, "c1", model.PartySeller)
	assert.ErrorIs(t, err, store.ErrChatClosed)

	_, _, err = s.CloseChat(ctx, "no-chat", base)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testChatWritesFollowRequest(t *testing.T, s store.NegotiationStore) {
	ctx := context.Background()
	req, err := s.CreateRequest(ctx, PendingRequest("r1", "p1", "b1", "s1"))
	require.NoError(t, err)
	_, err = s.CreateChat(ctx, OpenChat("c1", req))
	require.NoError(t, err)

	// decided but the chat not yet closed
	_, err = s.TransitionRequest(ctx, "r1", model.RequestPending, model.RequestApproved, base)
	require.NoError(t, err)

	_, _, err = s.AppendMessage(ctx, &model.Message{ID: "m1", ChatID: "c1", SenderID: "b1", Content: "still there?", CreatedAt: base})
	assert.ErrorIs(t, err, store.ErrChatClosed)
	_, _, err = s.SetAccepted(ctx, "c1", model.PartyBuyer)
	assert.ErrorIs(t, err, store.ErrChatClosed)

	chat, err := s.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, chat.LastSequence)
	assert.False(t, chat.BuyerAccepted)

	// a rolled back decision reopens the chat for writes
	_, err = s.TransitionRequest(ctx, "r1", model.RequestApproved, model.RequestPending, base)
	require.NoError(t, err)
	msg, _, err := s.AppendMessage(ctx, &model.Message{ID: "m2", ChatID: "c1", SenderID: "b1", Content: "hello again", CreatedAt: base})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.Sequence)
}
