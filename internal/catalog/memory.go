package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pawtrust/adoption-platform/internal/model"
)

// MemoryCatalog is an in-process PetCatalog.
type MemoryCatalog struct {
	mu   sync.RWMutex
	pets map[string]*model.Pet
}

var (
	_ PetCatalog = (*MemoryCatalog)(nil)
	_ Seeder     = (*MemoryCatalog)(nil)
)

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{pets: make(map[string]*model.Pet)}
}

// Put inserts or replaces a pet.
func (c *MemoryCatalog) Put(ctx context.Context, pet model.Pet) error {
	if pet.ID == "" || pet.SellerID == "" {
		return fmt.Errorf("pet id and seller id are required")
	}
	if !pet.Status.Valid() {
		return fmt.Errorf("invalid pet status %q", pet.Status)
	}
	pet.UpdatedAt = time.Now().UTC()

	c.mu.Lock()
	c.pets[pet.ID] = &pet
	c.mu.Unlock()
	return nil
}

// GetPet returns a copy of the pet.
func (c *MemoryCatalog) GetPet(ctx context.Context, id string) (*model.Pet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pet, ok := c.pets[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *pet
	return &out, nil
}

// SetPetStatus moves the pet to status if it is currently expected.
func (c *MemoryCatalog) SetPetStatus(ctx context.Context, id string, status, expected model.PetStatus) (*model.Pet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pet, ok := c.pets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if pet.Status != expected {
		return nil, fmt.Errorf("%w: current %s, expected %s", ErrStatusMismatch, pet.Status, expected)
	}
	pet.Status = status
	pet.UpdatedAt = time.Now().UTC()

	out := *pet
	return &out, nil
}

// ListBySeller returns the seller's pets ordered by id.
func (c *MemoryCatalog) ListBySeller(ctx context.Context, sellerID string) ([]model.Pet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []model.Pet{}
	for _, pet := range c.pets {
		if pet.SellerID == sellerID {
			out = append(out, *pet)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
