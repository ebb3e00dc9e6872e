package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pawtrust/adoption-platform/internal/apperr"
	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/internal/store"
)

func TestGetOrCreateChatConcurrentFirstAccess(t *testing.T) {
	h := newHarness(t)
	req := h.request(t, "pet-1", buyer)

	var (
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 20; i++ {
		caller := buyer
		if i%2 == 1 {
			caller = seller
		}
		g.Go(func() error {
			proj, err := h.chats.GetOrCreateChat(ctx, req.ID, caller)
			if err != nil {
				return err
			}
			mu.Lock()
			ids[proj.Chat.ID] = true
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, h.events.count(model.EventChatCreated))
}

func TestGetOrCreateChatAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, "pet-1", buyer)

	_, err := h.chats.GetOrCreateChat(ctx, req.ID, "stranger")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = h.chats.GetOrCreateChat(ctx, "missing", buyer)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	proj, err := h.chats.GetOrCreateChat(ctx, req.ID, seller)
	require.NoError(t, err)
	assert.Equal(t, buyer, proj.Chat.BuyerID)
	assert.Equal(t, seller, proj.Chat.SellerID)
	assert.Empty(t, proj.Messages)
	assert.False(t, proj.ReadOnly)
	assert.Equal(t, model.RequestPending, proj.RequestStatus)
}

func TestGetOrCreateChatOnDecidedRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// no chat yet: nothing to negotiate
	req := h.request(t, "pet-1", buyer)
	_, err := h.lifecycle.Decide(ctx, req.ID, seller, model.OutcomeReject)
	require.NoError(t, err)
	_, err = h.chats.GetOrCreateChat(ctx, req.ID, buyer)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	// existing chat stays readable
	req2, chat := h.openChat(t, "pet-2")
	_, err = h.lifecycle.Decide(ctx, req2.ID, seller, model.OutcomeApprove)
	require.NoError(t, err)
	proj, err := h.chats.GetOrCreateChat(ctx, req2.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, proj.Chat.ID)
	assert.True(t, proj.ReadOnly)
}

func TestPostMessageValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, chat := h.openChat(t, "pet-1")

	_, err := h.chats.PostMessage(ctx, chat.ID, buyer, "  \n\t ")
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	_, err = h.chats.PostMessage(ctx, chat.ID, "stranger", "hello")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = h.chats.PostMessage(ctx, "missing", buyer, "hello")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	proj, err := h.chats.Get(ctx, chat.ID, buyer)
	require.NoError(t, err)
	assert.Empty(t, proj.Messages)
	assert.Zero(t, proj.Chat.LastSequence)
}

func TestPostMessageReturnsProjection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, chat := h.openChat(t, "pet-1")

	proj, err := h.chats.PostMessage(ctx, chat.ID, buyer, "  Is she good with cats?  ")
	require.NoError(t, err)
	require.Len(t, proj.Messages, 1)
	assert.Equal(t, "Is she good with cats?", proj.Messages[0].Content)
	assert.Equal(t, uint64(1), proj.Messages[0].Sequence)

	_, err = h.chats.AcceptTerms(ctx, chat.ID, seller)
	require.NoError(t, err)

	proj, err = h.chats.PostMessage(ctx, chat.ID, seller, "Yes, she grew up with two.")
	require.NoError(t, err)
	require.Len(t, proj.Messages, 2)
	assert.Equal(t, uint64(2), proj.Messages[1].Sequence)
	assert.True(t, proj.Chat.SellerAccepted)
	assert.False(t, proj.Chat.BuyerAccepted)
	assert.Less(t, proj.Messages[0].ID, proj.Messages[1].ID)
}

func TestPostMessageConcurrentOrdering(t *testing.T) {
	h := newHarness(t)
	_, chat := h.openChat(t, "pet-1")

	g := new(errgroup.Group)
	for i := 0; i < 30; i++ {
		i := i
		sender := buyer
		if i%3 == 0 {
			sender = seller
		}
		g.Go(func() error {
			_, err := h.chats.PostMessage(context.Background(), chat.ID, sender, fmt.Sprintf("message %d", i))
			return err
		})
	}
	require.NoError(t, g.Wait())

	proj, err := h.chats.Get(context.Background(), chat.ID, buyer)
	require.NoError(t, err)
	require.Len(t, proj.Messages, 30)
	for i, m := range proj.Messages {
		assert.Equal(t, uint64(i+1), m.Sequence)
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(proj.Messages[i-1].CreatedAt))
		}
	}
	assert.Equal(t, uint64(30), proj.Chat.LastSequence)
}

func TestAcceptTermsIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, chat := h.openChat(t, "pet-1")

	first, err := h.chats.AcceptTerms(ctx, chat.ID, buyer)
	require.NoError(t, err)
	second, err := h.chats.AcceptTerms(ctx, chat.ID, buyer)
	require.NoError(t, err)

	assert.True(t, second.Chat.BuyerAccepted)
	assert.False(t, second.Chat.SellerAccepted)
	assert.False(t, second.MutuallyAccepted)
	assert.False(t, first.MutualAcceptance)
	assert.Equal(t, first.Chat.Version, second.Chat.Version)
	assert.Equal(t, 1, h.events.count(model.EventChatAccepted))
}

func TestMutualAcceptanceIsOrderIndependent(t *testing.T) {
	for _, order := range [][]string{{buyer, seller}, {seller, buyer}} {
		t.Run(order[0]+"_first", func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			req, chat := h.openChat(t, "pet-1")

			proj, err := h.chats.AcceptTerms(ctx, chat.ID, order[0])
			require.NoError(t, err)
			assert.False(t, proj.MutualAcceptance)
			assert.False(t, proj.MutuallyAccepted)

			proj, err = h.chats.AcceptTerms(ctx, chat.ID, order[1])
			require.NoError(t, err)
			assert.True(t, proj.MutualAcceptance)
			assert.True(t, proj.MutuallyAccepted)
			assert.True(t, proj.Chat.BuyerAccepted)
			assert.True(t, proj.Chat.SellerAccepted)
			assert.NotNil(t, proj.Chat.MutualAt)

			// signalled once
			proj, err = h.chats.AcceptTerms(ctx, chat.ID, order[0])
			require.NoError(t, err)
			assert.False(t, proj.MutualAcceptance)
			assert.True(t, proj.MutuallyAccepted)
			assert.Equal(t, 1, h.events.count(model.EventMutualAcceptance))

			// a signal only: the seller still decides
			got, err := h.lifecycle.Get(ctx, req.ID, seller)
			require.NoError(t, err)
			assert.Equal(t, model.RequestPending, got.Status)
			assert.Equal(t, model.PetPending, h.petStatus(t, "pet-1"))
		})
	}
}

func TestConcurrentAcceptanceSignalsOnce(t *testing.T) {
	for run := 0; run < 10; run++ {
		h := newHarness(t)
		_, chat := h.openChat(t, "pet-1")

		var (
			mu      sync.Mutex
			signals int
		)
		g := new(errgroup.Group)
		for i := 0; i < 6; i++ {
			caller := buyer
			if i%2 == 1 {
				caller = seller
			}
			g.Go(func() error {
				proj, err := h.chats.AcceptTerms(context.Background(), chat.ID, caller)
				if err != nil {
					return err
				}
				if proj.MutualAcceptance {
					mu.Lock()
					signals++
					mu.Unlock()
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, 1, signals)
	}
}

func TestWatchReturnsOnChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, chat := h.openChat(t, "pet-1")

	_, err := h.chats.PostMessage(ctx, chat.ID, buyer, "hello")
	require.NoError(t, err)

	// already newer than the caller's version
	start := time.Now()
	proj, err := h.chats.Watch(ctx, chat.ID, seller, chat.Version, time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.Greater(t, proj.Chat.Version, chat.Version)
	seen := proj.Chat.Version

	done := make(chan *model.ChatProjection, 1)
	go func() {
		p, err := h.chats.Watch(ctx, chat.ID, seller, seen, time.Second)
		if err == nil {
			done <- p
		}
		close(done)
	}()

	require.Eventually(t, func() bool { return h.hub.Waiting(chat.ID) == 1 }, time.Second, 5*time.Millisecond)
	_, err = h.chats.PostMessage(ctx, chat.ID, buyer, "ping")
	require.NoError(t, err)

	select {
	case p, ok := <-done:
		require.True(t, ok)
		require.Len(t, p.Messages, 2)
		assert.Greater(t, p.Chat.Version, seen)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not wake")
	}
}

func TestWatchTimesOutWithCurrentState(t *testing.T) {
	h := newHarness(t)
	_, chat := h.openChat(t, "pet-1")

	start := time.Now()
	proj, err := h.chats.Watch(context.Background(), chat.ID, buyer, chat.Version, 50*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, chat.Version, proj.Chat.Version)

	_, err = h.chats.Watch(context.Background(), chat.ID, "stranger", 0, time.Millisecond)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestWatchHonoursCancellation(t *testing.T) {
	h := newHarness(t)
	_, chat := h.openChat(t, "pet-1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.chats.Watch(ctx, chat.ID, buyer, chat.Version, time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, h.hub.Waiting(chat.ID))
}

// decidingStore approves the chat's request just before each chat write
// reaches the store, after the service has already seen it pending.
type decidingStore struct {
	store.NegotiationStore
}

func (s *decidingStore) decide(ctx context.Context, chatID string) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return
	}
	_, _ = s.TransitionRequest(ctx, chat.AdoptionRequestID, model.RequestPending, model.RequestApproved, time.Now().UTC())
}

func (s *decidingStore) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, *model.Chat, error) {
	s.decide(ctx, msg.ChatID)
	return s.NegotiationStore.AppendMessage(ctx, msg)
}

func (s *decidingStore) SetAccepted(ctx context.Context, chatID string, party model.Party) (*model.Chat, bool, error) {
	s.decide(ctx, chatID)
	return s.NegotiationStore.SetAccepted(ctx, chatID, party)
}

func TestChatWritesRacingDecisionAreRejected(t *testing.T) {
	for _, write := range []string{"message", "accept"} {
		t.Run(write, func(t *testing.T) {
			h := newHarnessWithStore(t, func(st store.NegotiationStore) store.NegotiationStore {
				return &decidingStore{NegotiationStore: st}
			})
			ctx := context.Background()
			_, chat := h.openChat(t, "pet-1")

			var err error
			if write == "message" {
				_, err = h.chats.PostMessage(ctx, chat.ID, buyer, "one more thing")
			} else {
				_, err = h.chats.AcceptTerms(ctx, chat.ID, buyer)
			}
			assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
			assert.Equal(t, "this chat is read-only", apperr.PublicMessage(err))

			got, err := h.store.GetChat(ctx, chat.ID)
			require.NoError(t, err)
			assert.Zero(t, got.LastSequence)
			assert.False(t, got.BuyerAccepted)
		})
	}
}

func TestGetOrCreateChatCompletesAfterCallerLeaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proceed := make(chan struct{})
	h := newHarnessWithStore(t, func(st store.NegotiationStore) store.NegotiationStore {
		return &faultyStore{NegotiationStore: st, onCreateChat: func() {
			cancel()
			<-proceed
		}}
	})
	req := h.request(t, "pet-1", buyer)

	_, err := h.chats.GetOrCreateChat(ctx, req.ID, buyer)
	assert.ErrorIs(t, err, context.Canceled)
	close(proceed)

	require.Eventually(t, func() bool {
		return h.events.count(model.EventChatCreated) == 1
	}, time.Second, 5*time.Millisecond)

	proj, err := h.chats.GetOrCreateChat(context.Background(), req.ID, seller)
	require.NoError(t, err)
	assert.Equal(t, req.ID, proj.Chat.AdoptionRequestID)
	assert.Equal(t, 1, h.events.count(model.EventChatCreated))
}
