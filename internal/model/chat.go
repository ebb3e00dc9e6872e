package model

import (
	"time"
)

// Party identifies which side of a negotiation a user is on.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

// Chat is the negotiation thread attached 1:1 to an adoption request.
type Chat struct {
	ID                string     `json:"id"`
	AdoptionRequestID string     `json:"adoption_request_id"`
	BuyerID           string     `json:"buyer_id"`
	SellerID          string     `json:"seller_id"`
	BuyerAccepted     bool       `json:"buyer_accepted"`
	SellerAccepted    bool       `json:"seller_accepted"`
	MutualAt          *time.Time `json:"mutual_at,omitempty"`
	Closed            bool       `json:"closed"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	LastSequence      uint64     `json:"last_sequence"`
	Version           uint64     `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// PartyOf returns which side userID is on.
func (c *Chat) PartyOf(userID string) (Party, bool) {
	switch {
	case userID == "":
		return "", false
	case userID == c.BuyerID:
		return PartyBuyer, true
	case userID == c.SellerID:
		return PartySeller, true
	}
	return "", false
}

// MutuallyAccepted reports whether both parties have accepted the terms.
func (c *Chat) MutuallyAccepted() bool {
	return c.BuyerAccepted && c.SellerAccepted
}

// Message is an immutable chat message. Sequence is server assigned and
// defines the only order within a chat.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Sequence  uint64    `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatProjection is the client view of a chat: state, messages and
// acceptance flags in one payload.
type ChatProjection struct {
	Chat             Chat          `json:"chat"`
	Messages         []Message     `json:"messages"`
	RequestStatus    RequestStatus `json:"request_status"`
	ReadOnly         bool          `json:"read_only"`
	MutuallyAccepted bool          `json:"mutually_accepted"`

	// MutualAcceptance is set only on the acceptTerms call that completed
	// mutual acceptance.
	MutualAcceptance bool `json:"mutual_acceptance_event,omitempty"`
}

// PostMessageRequest is the request body for POST /chats/{chatId}/messages.
type PostMessageRequest struct {
	Content string `json:"content"`
}

// TermsDigest is an advisory summary of a negotiation chat.
type TermsDigest struct {
	ChatID      string    `json:"chat_id"`
	Summary     string    `json:"summary"`
	Model       string    `json:"model"`
	UpToSeq     uint64    `json:"up_to_sequence"`
	GeneratedAt time.Time `json:"generated_at"`
}
