// Package model defines data structures for the adoption negotiation service.
package model

import (
	"time"
)

// PetStatus is the adoption status of a pet listing.
type PetStatus string

const (
	PetAvailable   PetStatus = "available"
	PetPending     PetStatus = "pending"
	PetAdopted     PetStatus = "adopted"
	PetUnavailable PetStatus = "unavailable"
)

// Valid reports whether s is a known pet status.
func (s PetStatus) Valid() bool {
	switch s {
	case PetAvailable, PetPending, PetAdopted, PetUnavailable:
		return true
	}
	return false
}

// Pet is the subset of a catalog listing the negotiation workflow depends on.
type Pet struct {
	ID        string    `json:"id" yaml:"id"`
	SellerID  string    `json:"seller_id" yaml:"seller_id"`
	Name      string    `json:"name,omitempty" yaml:"name"`
	Status    PetStatus `json:"status" yaml:"status"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// ListPetsResponse is the response for listing a seller's pets.
type ListPetsResponse struct {
	Pets  []Pet `json:"pets"`
	Total int   `json:"total"`
}
