// Package memory provides an in-process NegotiationStore used by tests and
// single-node development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/internal/store"
)

var _ store.NegotiationStore = (*Store)(nil)

// Store keeps all state behind one mutex so every method is atomic.
type Store struct {
	mu sync.RWMutex

	requests      map[string]*model.AdoptionRequest
	pendingByPet  map[string]string // petID -> requestID
	chats         map[string]*model.Chat
	chatByRequest map[string]string // requestID -> chatID
	messages      map[string][]model.Message
}

// New creates an empty store.
func New() *Store {
	return &Store{
		requests:      make(map[string]*model.AdoptionRequest),
		pendingByPet:  make(map[string]string),
		chats:         make(map[string]*model.Chat),
		chatByRequest: make(map[string]string),
		messages:      make(map[string][]model.Message),
	}
}

func copyRequest(r *model.AdoptionRequest) *model.AdoptionRequest {
	out := *r
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		out.DecidedAt = &t
	}
	return &out
}

func copyChat(c *model.Chat) *model.Chat {
	out := *c
	if c.MutualAt != nil {
		t := *c.MutualAt
		out.MutualAt = &t
	}
	if c.ClosedAt != nil {
		t := *c.ClosedAt
		out.ClosedAt = &t
	}
	return &out
}

func (s *Store) CreateRequest(ctx context.Context, req *model.AdoptionRequest) (*model.AdoptionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.pendingByPet[req.PetID]; ok {
		existing := s.requests[id]
		if existing.BuyerID == req.BuyerID {
			return copyRequest(existing), store.ErrDuplicate
		}
		return nil, store.ErrPetHasPending
	}
	if _, ok := s.requests[req.ID]; ok {
		return nil, store.ErrDuplicate
	}

	stored := copyRequest(req)
	s.requests[stored.ID] = stored
	if stored.Status == model.RequestPending {
		s.pendingByPet[stored.PetID] = stored.ID
	}
	return copyRequest(stored), nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*model.AdoptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyRequest(r), nil
}

func (s *Store) FindPendingRequest(ctx context.Context, petID, buyerID string) (*model.AdoptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pendingByPet[petID]
	if !ok || s.requests[id].BuyerID != buyerID {
		return nil, store.ErrNotFound
	}
	return copyRequest(s.requests[id]), nil
}

func (s *Store) listWhere(keep func(*model.AdoptionRequest) bool) []model.AdoptionRequest {
	out := []model.AdoptionRequest{}
	for _, r := range s.requests {
		if keep(r) {
			out = append(out, *copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) ListRequestsBySeller(ctx context.Context, sellerID string) ([]model.AdoptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listWhere(func(r *model.AdoptionRequest) bool { return r.SellerID == sellerID }), nil
}

func (s *Store) ListRequestsByBuyer(ctx context.Context, buyerID string) ([]model.AdoptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listWhere(func(r *model.AdoptionRequest) bool { return r.BuyerID == buyerID }), nil
}

func (s *Store) ListDecidedSince(ctx context.Context, since time.Time) ([]model.AdoptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listWhere(func(r *model.AdoptionRequest) bool {
		return r.Status.Terminal() && r.DecidedAt != nil && !r.DecidedAt.Before(since)
	}), nil
}

func (s *Store) TransitionRequest(ctx context.Context, id string, from, to model.RequestStatus, at time.Time) (*model.AdoptionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != from {
		return nil, store.ErrStatusMismatch
	}
	if to == model.RequestPending {
		if other, taken := s.pendingByPet[r.PetID]; taken && other != r.ID {
			return nil, store.ErrPetHasPending
		}
		s.pendingByPet[r.PetID] = r.ID
		r.DecidedAt = nil
	} else {
		if s.pendingByPet[r.PetID] == r.ID {
			delete(s.pendingByPet, r.PetID)
		}
		decided := at
		r.DecidedAt = &decided
	}
	r.Status = to
	return copyRequest(r), nil
}

func (s *Store) CreateChat(ctx context.Context, chat *model.Chat) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chatByRequest[chat.AdoptionRequestID]; ok {
		return nil, store.ErrDuplicate
	}
	if _, ok := s.chats[chat.ID]; ok {
		return nil, store.ErrDuplicate
	}
	stored := copyChat(chat)
	s.chats[stored.ID] = stored
	s.chatByRequest[stored.AdoptionRequestID] = stored.ID
	return copyChat(stored), nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyChat(c), nil
}

func (s *Store) GetChatByRequest(ctx context.Context, requestID string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.chatByRequest[requestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyChat(s.chats[id]), nil
}

// writable reports whether c is open and its request still pending. The
// caller holds s.mu.
func (s *Store) writable(c *model.Chat) bool {
	if c.Closed {
		return false
	}
	r, ok := s.requests[c.AdoptionRequestID]
	return ok && r.Status == model.RequestPending
}

func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, *model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[msg.ChatID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if !s.writable(c) {
		return nil, nil, store.ErrChatClosed
	}

	stored := *msg
	stored.CreatedAt = msg.CreatedAt.UTC()
	if existing := s.messages[c.ID]; len(existing) > 0 {
		last := existing[len(existing)-1].CreatedAt
		if !stored.CreatedAt.After(last) {
			stored.CreatedAt = last.Add(time.Microsecond)
		}
	}
	c.LastSequence++
	c.Version++
	c.UpdatedAt = stored.CreatedAt
	stored.Sequence = c.LastSequence
	s.messages[c.ID] = append(s.messages[c.ID], stored)

	return &stored, copyChat(c), nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string, afterSequence uint64, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, store.ErrNotFound
	}
	out := []model.Message{}
	for _, m := range s.messages[chatID] {
		if m.Sequence <= afterSequence {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) SetAccepted(ctx context.Context, chatID string, party model.Party) (*model.Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if !s.writable(c) {
		return nil, false, store.ErrChatClosed
	}

	flag := &c.BuyerAccepted
	if party == model.PartySeller {
		flag = &c.SellerAccepted
	}
	if *flag {
		return copyChat(c), false, nil
	}
	*flag = true
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	return copyChat(c), true, nil
}

func (s *Store) MarkMutual(ctx context.Context, chatID string, at time.Time) (*model.Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if !c.MutuallyAccepted() || c.MutualAt != nil {
		return copyChat(c), false, nil
	}
	t := at.UTC()
	c.MutualAt = &t
	c.Version++
	c.UpdatedAt = t
	return copyChat(c), true, nil
}

func (s *Store) CloseChat(ctx context.Context, requestID string, at time.Time) (*model.Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.chatByRequest[requestID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	c := s.chats[id]
	if c.Closed {
		return copyChat(c), false, nil
	}
	t := at.UTC()
	c.Closed = true
	c.ClosedAt = &t
	c.Version++
	c.UpdatedAt = t
	return copyChat(c), true, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }
