// Package catalog provides the pet catalog collaborator: lookups and the
// compare-and-swap status update the negotiation workflow relies on.
package catalog

import (
	"context"
	"errors"

	"github.com/pawtrust/adoption-platform/internal/model"
)

var (
	// ErrNotFound is returned for unknown pet ids.
	ErrNotFound = errors.New("pet not found")
	// ErrStatusMismatch is returned when a CAS finds a status other than the expected one.
	ErrStatusMismatch = errors.New("pet status mismatch")
)

// PetCatalog is the pet listing store. SetPetStatus must be atomic: it only
// applies when the current status equals expected.
type PetCatalog interface {
	GetPet(ctx context.Context, id string) (*model.Pet, error)
	SetPetStatus(ctx context.Context, id string, status, expected model.PetStatus) (*model.Pet, error)
	ListBySeller(ctx context.Context, sellerID string) ([]model.Pet, error)
}

// Seeder accepts full pet records. Implemented by the catalogs so dev and
// test environments can be populated.
type Seeder interface {
	Put(ctx context.Context, pet model.Pet) error
}
