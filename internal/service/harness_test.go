package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pawtrust/adoption-platform/internal/catalog"
	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/internal/realtime"
	"github.com/pawtrust/adoption-platform/internal/store"
	"github.com/pawtrust/adoption-platform/internal/store/memory"
	"github.com/pawtrust/adoption-platform/pkg/logger"
)

var errTransient = errors.New("connection reset by peer")

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []model.NegotiationEvent
}

func (r *recorder) PublishEvent(ctx context.Context, event *model.NegotiationEvent) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return uint64(len(r.events)), nil
}

func (r *recorder) count(t model.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// faultyCatalog lets tests intercept SetPetStatus and GetPet.
type faultyCatalog struct {
	catalog.PetCatalog

	mu       sync.Mutex
	onSet    func(id string, status, expected model.PetStatus) error
	onGet    func(id string)
	setCalls int
	// honorCtx fails writes on a done context, like a database driver
	honorCtx bool
}

func (c *faultyCatalog) GetPet(ctx context.Context, id string) (*model.Pet, error) {
	c.mu.Lock()
	hook := c.onGet
	c.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	return c.PetCatalog.GetPet(ctx, id)
}

func (c *faultyCatalog) SetPetStatus(ctx context.Context, id string, status, expected model.PetStatus) (*model.Pet, error) {
	c.mu.Lock()
	c.setCalls++
	hook, honorCtx := c.onSet, c.honorCtx
	c.mu.Unlock()
	if honorCtx && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if hook != nil {
		if err := hook(id, status, expected); err != nil {
			return nil, err
		}
	}
	return c.PetCatalog.SetPetStatus(ctx, id, status, expected)
}

// failTimes returns a hook that fails the first n calls moving a pet to status.
func failTimes(n int, status model.PetStatus, err error) func(string, model.PetStatus, model.PetStatus) error {
	var mu sync.Mutex
	return func(_ string, to, _ model.PetStatus) error {
		mu.Lock()
		defer mu.Unlock()
		if to == status && n > 0 {
			n--
			return err
		}
		return nil
	}
}

// faultyStore lets tests fail or intercept request creation. It honors
// ctx the way a database driver does.
type faultyStore struct {
	store.NegotiationStore
	createErr    error
	onCreate     func()
	onCreateChat func()
}

func (s *faultyStore) CreateRequest(ctx context.Context, req *model.AdoptionRequest) (*model.AdoptionRequest, error) {
	if s.onCreate != nil {
		s.onCreate()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.NegotiationStore.CreateRequest(ctx, req)
}

func (s *faultyStore) CreateChat(ctx context.Context, chat *model.Chat) (*model.Chat, error) {
	if s.onCreateChat != nil {
		s.onCreateChat()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.NegotiationStore.CreateChat(ctx, chat)
}

type harness struct {
	store   *memory.Store
	pets    *catalog.MemoryCatalog
	catalog *faultyCatalog
	events  *recorder
	hub     *realtime.Hub

	coordinator *Coordinator
	lifecycle   *Lifecycle
	chats       *ChatProtocol
}

const (
	seller = "seller-1"
	buyer  = "buyer-1"
	buyer2 = "buyer-2"
)

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, nil)
}

func newHarnessWithStore(t *testing.T, wrap func(store.NegotiationStore) store.NegotiationStore) *harness {
	t.Helper()

	h := &harness{
		store:  memory.New(),
		pets:   catalog.NewMemoryCatalog(),
		events: &recorder{},
		hub:    realtime.NewHub(),
	}
	h.catalog = &faultyCatalog{PetCatalog: h.pets}

	ctx := context.Background()
	for _, p := range []model.Pet{
		{ID: "pet-1", SellerID: seller, Name: "Biscuit", Status: model.PetAvailable},
		{ID: "pet-2", SellerID: seller, Name: "Mochi", Status: model.PetAvailable},
		{ID: "pet-3", SellerID: seller, Name: "Pepper", Status: model.PetUnavailable},
	} {
		require.NoError(t, h.pets.Put(ctx, p))
	}

	var st store.NegotiationStore = h.store
	if wrap != nil {
		st = wrap(st)
	}

	log := logger.NewNop()
	events := NewEvents(h.events, h.hub, log)
	retry := RetryPolicy{InitialInterval: time.Millisecond, MaxElapsed: 100 * time.Millisecond}
	h.coordinator = NewCoordinator(st, h.catalog, events, retry, log)
	h.lifecycle = NewLifecycle(st, h.catalog, h.coordinator, events, nil, log)
	h.chats = NewChatProtocol(st, events, h.hub, time.Second, log)
	return h
}

func (h *harness) petStatus(t *testing.T, id string) model.PetStatus {
	t.Helper()
	pet, err := h.pets.GetPet(context.Background(), id)
	require.NoError(t, err)
	return pet.Status
}

func (h *harness) request(t *testing.T, petID, buyerID string) *model.AdoptionRequest {
	t.Helper()
	req, created, err := h.lifecycle.RequestAdoption(context.Background(), petID, buyerID)
	require.NoError(t, err)
	require.True(t, created)
	return req
}

func (h *harness) openChat(t *testing.T, petID string) (*model.AdoptionRequest, *model.Chat) {
	t.Helper()
	req := h.request(t, petID, buyer)
	proj, err := h.chats.GetOrCreateChat(context.Background(), req.ID, buyer)
	require.NoError(t, err)
	return req, &proj.Chat
}
