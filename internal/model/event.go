package model

import (
	"time"
)

// EventType represents the type of negotiation event.
type EventType string

const (
	EventAdoptionRequested EventType = "adoption.requested"
	EventAdoptionApproved  EventType = "adoption.approved"
	EventAdoptionRejected  EventType = "adoption.rejected"
	EventInconsistency     EventType = "adoption.inconsistency"
	EventChatCreated       EventType = "chat.created"
	EventChatMessage       EventType = "chat.message"
	EventChatAccepted      EventType = "chat.accepted"
	EventMutualAcceptance  EventType = "chat.mutual_acceptance"
	EventChatClosed        EventType = "chat.closed"
)

// NegotiationEvent is an entry in the negotiation event log.
type NegotiationEvent struct {
	ID                string         `json:"id"`
	Type              EventType      `json:"type"`
	AdoptionRequestID string         `json:"adoption_request_id"`
	PetID             string         `json:"pet_id,omitempty"`
	ChatID            string         `json:"chat_id,omitempty"`
	ActorID           string         `json:"actor_id,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	Sequence          uint64         `json:"sequence,omitempty"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
