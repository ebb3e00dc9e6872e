package sqlstore

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/pawtrust/adoption-platform/internal/model"
)

// requestRecord is the adoption_requests row. PendingPetID mirrors PetID
// while the request is pending and is NULL otherwise; its unique index
// enforces one pending request per pet.
type requestRecord struct {
	ID           string     `gorm:"type:varchar(64);primaryKey"`
	PetID        string     `gorm:"type:varchar(64);not null;index"`
	BuyerID      string     `gorm:"type:varchar(64);not null;index"`
	SellerID     string     `gorm:"type:varchar(64);not null;index"`
	Status       string     `gorm:"type:varchar(16);not null;index"`
	PendingPetID *string    `gorm:"type:varchar(64);uniqueIndex:ux_adoption_requests_pending_pet"`
	CreatedAt    time.Time  `gorm:"not null"`
	DecidedAt    *time.Time `gorm:"index"`
}

func (requestRecord) TableName() string { return "adoption_requests" }

func newRequestRecord(r *model.AdoptionRequest) *requestRecord {
	rec := &requestRecord{
		ID:        r.ID,
		PetID:     r.PetID,
		BuyerID:   r.BuyerID,
		SellerID:  r.SellerID,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
		DecidedAt: r.DecidedAt,
	}
	if r.Status == model.RequestPending {
		pet := r.PetID
		rec.PendingPetID = &pet
	}
	return rec
}

func (r *requestRecord) toModel() *model.AdoptionRequest {
	out := &model.AdoptionRequest{
		ID:        r.ID,
		PetID:     r.PetID,
		BuyerID:   r.BuyerID,
		SellerID:  r.SellerID,
		Status:    model.RequestStatus(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.DecidedAt != nil {
		t := r.DecidedAt.UTC()
		out.DecidedAt = &t
	}
	return out
}

type chatRecord struct {
	ID                string     `gorm:"type:varchar(64);primaryKey"`
	AdoptionRequestID string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_chats_adoption_request"`
	BuyerID           string     `gorm:"type:varchar(64);not null"`
	SellerID          string     `gorm:"type:varchar(64);not null"`
	BuyerAccepted     bool       `gorm:"not null;default:false"`
	SellerAccepted    bool       `gorm:"not null;default:false"`
	MutualAt          *time.Time
	Closed            bool `gorm:"not null;default:false"`
	ClosedAt          *time.Time
	LastSequence      uint64    `gorm:"not null;default:0"`
	Version           uint64    `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (chatRecord) TableName() string { return "chats" }

func newChatRecord(c *model.Chat) *chatRecord {
	return &chatRecord{
		ID:                c.ID,
		AdoptionRequestID: c.AdoptionRequestID,
		BuyerID:           c.BuyerID,
		SellerID:          c.SellerID,
		BuyerAccepted:     c.BuyerAccepted,
		SellerAccepted:    c.SellerAccepted,
		MutualAt:          c.MutualAt,
		Closed:            c.Closed,
		ClosedAt:          c.ClosedAt,
		LastSequence:      c.LastSequence,
		Version:           c.Version,
		CreatedAt:         c.CreatedAt.UTC(),
		UpdatedAt:         c.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (r *chatRecord) toModel() *model.Chat {
	return &model.Chat{
		ID:                r.ID,
		AdoptionRequestID: r.AdoptionRequestID,
		BuyerID:           r.BuyerID,
		SellerID:          r.SellerID,
		BuyerAccepted:     r.BuyerAccepted,
		SellerAccepted:    r.SellerAccepted,
		MutualAt:          utcPtr(r.MutualAt),
		Closed:            r.Closed,
		ClosedAt:          utcPtr(r.ClosedAt),
		LastSequence:      r.LastSequence,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

type messageRecord struct {
	ID        string      `gorm:"type:varchar(64);primaryKey"`
	ChatID    string      `gorm:"type:varchar(64);not null;uniqueIndex:ux_chat_messages_seq,priority:1"`
	Sequence  uint64      `gorm:"not null;uniqueIndex:ux_chat_messages_seq,priority:2"`
	SenderID  string      `gorm:"type:varchar(64);not null"`
	Content   messageBody `gorm:"not null"`
	CreatedAt time.Time   `gorm:"not null"`
}

func (messageRecord) TableName() string { return "chat_messages" }

func (r *messageRecord) toModel() model.Message {
	return model.Message{
		ID:        r.ID,
		ChatID:    r.ChatID,
		SenderID:  r.SenderID,
		Content:   string(r.Content),
		Sequence:  r.Sequence,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// messageBody is a chat message column. MySQL TEXT stops at 64 KiB, short
// of the accepted message size, so MySQL gets MEDIUMTEXT.
type messageBody string

func (messageBody) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	return bodyColumnType(db.Dialector.Name())
}

func bodyColumnType(dialect string) string {
	if dialect == "mysql" {
		return "MEDIUMTEXT"
	}
	return "TEXT"
}
