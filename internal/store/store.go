// Package store defines persistence for adoption requests and their chats.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pawtrust/adoption-platform/internal/model"
)

var (
	// ErrNotFound is returned for unknown requests or chats.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects a create.
	ErrDuplicate = errors.New("duplicate")
	// ErrPetHasPending is returned when another buyer already holds the
	// pending request for a pet.
	ErrPetHasPending = errors.New("pet already has a pending request")
	// ErrStatusMismatch is returned when a request transition finds an
	// unexpected current status.
	ErrStatusMismatch = errors.New("request status mismatch")
	// ErrChatClosed is returned for writes to a read-only chat.
	ErrChatClosed = errors.New("chat is closed")
)

// NegotiationStore persists AdoptionRequest and Chat/Message entities and
// owns their uniqueness invariants:
//   - at most one pending request per pet (and so per pet and buyer)
//   - at most one chat per adoption request
//   - message sequence numbers are dense and strictly increasing per chat
type NegotiationStore interface {
	// CreateRequest inserts a pending request. If the buyer already holds
	// the pet's pending request it is returned with ErrDuplicate; if another
	// buyer holds it, ErrPetHasPending.
	CreateRequest(ctx context.Context, req *model.AdoptionRequest) (*model.AdoptionRequest, error)
	GetRequest(ctx context.Context, id string) (*model.AdoptionRequest, error)
	FindPendingRequest(ctx context.Context, petID, buyerID string) (*model.AdoptionRequest, error)
	ListRequestsBySeller(ctx context.Context, sellerID string) ([]model.AdoptionRequest, error)
	ListRequestsByBuyer(ctx context.Context, buyerID string) ([]model.AdoptionRequest, error)
	ListDecidedSince(ctx context.Context, since time.Time) ([]model.AdoptionRequest, error)
	// TransitionRequest moves a request from one status to another only if
	// it is currently in from. Moving back to pending clears decidedAt.
	TransitionRequest(ctx context.Context, id string, from, to model.RequestStatus, at time.Time) (*model.AdoptionRequest, error)

	// CreateChat inserts a chat. ErrDuplicate if the request already has one.
	CreateChat(ctx context.Context, chat *model.Chat) (*model.Chat, error)
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	GetChatByRequest(ctx context.Context, requestID string) (*model.Chat, error)
	// AppendMessage assigns the next sequence number and a non-decreasing
	// createdAt, then stores msg.
	AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, *model.Chat, error)
	ListMessages(ctx context.Context, chatID string, afterSequence uint64, limit int) ([]model.Message, error)
	// SetAccepted flips the party's acceptance flag false -> true. flipped
	// is false when it was already set.
	SetAccepted(ctx context.Context, chatID string, party model.Party) (chat *model.Chat, flipped bool, err error)
	// MarkMutual records the moment both flags became true. marked is true
	// for exactly one caller.
	MarkMutual(ctx context.Context, chatID string, at time.Time) (chat *model.Chat, marked bool, err error)
	// CloseChat makes the request's chat read-only. closed is false when it
	// already was.
	CloseChat(ctx context.Context, requestID string, at time.Time) (chat *model.Chat, closed bool, err error)

	Ping(ctx context.Context) error
}
