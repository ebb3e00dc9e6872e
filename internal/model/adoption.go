package model

import (
	"time"
)

// RequestStatus is the lifecycle state of an adoption request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestRejected
}

// Outcome is a seller decision on a pending request.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeReject  Outcome = "reject"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeApprove || o == OutcomeReject
}

// RequestStatus returns the terminal request status the outcome leads to.
func (o Outcome) RequestStatus() RequestStatus {
	if o == OutcomeApprove {
		return RequestApproved
	}
	return RequestRejected
}

// PetStatus returns the pet status the outcome leads to.
func (o Outcome) PetStatus() PetStatus {
	if o == OutcomeApprove {
		return PetAdopted
	}
	return PetAvailable
}

// OutcomeFor maps a terminal request status back to its outcome.
func OutcomeFor(s RequestStatus) (Outcome, bool) {
	switch s {
	case RequestApproved:
		return OutcomeApprove, true
	case RequestRejected:
		return OutcomeReject, true
	}
	return "", false
}

// AdoptionRequest is a buyer's request to adopt a pet. Never deleted.
type AdoptionRequest struct {
	ID        string        `json:"id"`
	PetID     string        `json:"pet_id"`
	BuyerID   string        `json:"buyer_id"`
	SellerID  string        `json:"seller_id"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	DecidedAt *time.Time    `json:"decided_at,omitempty"`
}

// IsParty reports whether userID is the buyer or seller of the request.
func (r *AdoptionRequest) IsParty(userID string) bool {
	return userID != "" && (userID == r.BuyerID || userID == r.SellerID)
}

// CreateAdoptionRequest is the request body for POST /adoption-requests.
type CreateAdoptionRequest struct {
	PetID string `json:"pet_id"`
}

// DecideAdoptionRequest is the request body for PATCH /adoption-requests/{id}.
type DecideAdoptionRequest struct {
	Outcome Outcome `json:"outcome"`
}

// CreateAdoptionResponse wraps the request with whether it was newly created.
type CreateAdoptionResponse struct {
	Request *AdoptionRequest `json:"request"`
	Created bool             `json:"created"`
}

// ListAdoptionRequestsResponse is the response for listing adoption requests.
type ListAdoptionRequestsResponse struct {
	Requests []AdoptionRequest `json:"requests"`
	Total    int               `json:"total"`
}
