package sqlstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/internal/store"
)

var _ store.NegotiationStore = (*Store)(nil)

// Store is a gorm-backed NegotiationStore. Concurrency control relies on
// unique indexes and conditional UPDATEs; no explicit row locks are taken.
type Store struct {
	db *gorm.DB
}

// New creates a store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the negotiation tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&requestRecord{}, &chatRecord{}, &messageRecord{})
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) CreateRequest(ctx context.Context, req *model.AdoptionRequest) (*model.AdoptionRequest, error) {
	rec := newRequestRecord(req)
	err := s.db.WithContext(ctx).Create(rec).Error
	if err == nil {
		return rec.toModel(), nil
	}
	if !isDuplicate(err) {
		return nil, err
	}

	var holder requestRecord
	lookup := s.db.WithContext(ctx).
		Where("pending_pet_id = ?", req.PetID).
		Take(&holder).Error
	if errors.Is(lookup, gorm.ErrRecordNotFound) {
		// primary key collision, or the holder was decided in between
		return nil, store.ErrDuplicate
	}
	if lookup != nil {
		return nil, lookup
	}
	if holder.BuyerID == req.BuyerID {
		return holder.toModel(), store.ErrDuplicate
	}
	return nil, store.ErrPetHasPending
}

func (s *Store) GetRequest(ctx context.Context, id string) (*model.AdoptionRequest, error) {
	var rec requestRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return rec.toModel(), nil
}

func (s *Store) FindPendingRequest(ctx context.Context, petID, buyerID string) (*model.AdoptionRequest, error) {
	var rec requestRecord
	if err := s.db.WithContext(ctx).
		Where("pending_pet_id = ? AND buyer_id = ?", petID, buyerID).
		Take(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return rec.toModel(), nil
}

func (s *Store) listRequests(ctx context.Context, query string, args ...interface{}) ([]model.AdoptionRequest, error) {
	var recs []requestRecord
	if err := s.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at DESC").
		Order("id DESC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.AdoptionRequest, 0, len(recs))
	for i := range recs {
		out = append(out, *recs[i].toModel())
	}
	return out, nil
}

func (s *Store) ListRequestsBySeller(ctx context.Context, sellerID string) ([]model.AdoptionRequest, error) {
	return s.listRequests(ctx, "seller_id = ?", sellerID)
}

func (s *Store) ListRequestsByBuyer(ctx context.Context, buyerID string) ([]model.AdoptionRequest, error) {
	return s.listRequests(ctx, "buyer_id = ?", buyerID)
}

func (s *Store) ListDecidedSince(ctx context.Context, since time.Time) ([]model.AdoptionRequest, error) {
	return s.listRequests(ctx, "status IN ? AND decided_at >= ?",
		[]string{string(model.RequestApproved), string(model.RequestRejected)}, since.UTC())
}

func (s *Store) TransitionRequest(ctx context.Context, id string, from, to model.RequestStatus, at time.Time) (*model.AdoptionRequest, error) {
	updates := map[string]interface{}{"status": string(to)}
	if to == model.RequestPending {
		updates["decided_at"] = nil
		updates["pending_pet_id"] = gorm.Expr("pet_id")
	} else {
		updates["decided_at"] = at.UTC()
		updates["pending_pet_id"] = nil
	}

	res := s.db.WithContext(ctx).
		Model(&requestRecord{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return nil, store.ErrPetHasPending
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetRequest(ctx, id); err != nil {
			return nil, err
		}
		return nil, store.ErrStatusMismatch
	}
	return s.GetRequest(ctx, id)
}

func (s *Store) CreateChat(ctx context.Context, chat *model.Chat) (*model.Chat, error) {
	rec := newChatRecord(chat)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicate(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return rec.toModel(), nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	return getChat(s.db.WithContext(ctx), "id = ?", id)
}

func (s *Store) GetChatByRequest(ctx context.Context, requestID string) (*model.Chat, error) {
	return getChat(s.db.WithContext(ctx), "adoption_request_id = ?", requestID)
}

func getChat(db *gorm.DB, query string, arg string) (*model.Chat, error) {
	var rec chatRecord
	if err := db.Where(query, arg).Take(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return rec.toModel(), nil
}

// openChatError explains why a conditional chat update matched no rows.
// writableChat restricts a chat update to open chats whose request is
// still pending, so chat writes cannot land after a decision commits.
const writableChat = "closed = ? AND EXISTS (SELECT 1 FROM adoption_requests r WHERE r.id = chats.adoption_request_id AND r.status = ?)"

func openChatError(db *gorm.DB, id string) error {
	chat, err := getChat(db, "id = ?", id)
	if err != nil {
		return err
	}
	if chat.Closed {
		return store.ErrChatClosed
	}
	var pending int64
	if err := db.Model(&requestRecord{}).
		Where("id = ? AND status = ?", chat.AdoptionRequestID, string(model.RequestPending)).
		Count(&pending).Error; err != nil {
		return err
	}
	if pending == 0 {
		return store.ErrChatClosed
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, *model.Chat, error) {
	var (
		stored model.Message
		chat   *model.Chat
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Bumping the counter first serializes concurrent appends on the chat row.
		res := tx.Model(&chatRecord{}).
			Where("id = ? AND "+writableChat, msg.ChatID, false, string(model.RequestPending)).
			Updates(map[string]interface{}{
				"last_sequence": gorm.Expr("last_sequence + 1"),
				"version":       gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := openChatError(tx, msg.ChatID); err != nil {
				return err
			}
			return store.ErrChatClosed
		}

		c, err := getChat(tx, "id = ?", msg.ChatID)
		if err != nil {
			return err
		}

		createdAt := msg.CreatedAt.UTC()
		var last []messageRecord
		if err := tx.Where("chat_id = ?", msg.ChatID).
			Order("sequence DESC").
			Limit(1).
			Find(&last).Error; err != nil {
			return err
		}
		if len(last) == 1 && !createdAt.After(last[0].CreatedAt.UTC()) {
			createdAt = last[0].CreatedAt.UTC().Add(time.Microsecond)
		}

		rec := messageRecord{
			ID:        msg.ID,
			ChatID:    msg.ChatID,
			Sequence:  c.LastSequence,
			SenderID:  msg.SenderID,
			Content:   messageBody(msg.Content),
			CreatedAt: createdAt,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		stored = rec.toModel()
		chat = c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &stored, chat, nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string, afterSequence uint64, limit int) ([]model.Message, error) {
	db := s.db.WithContext(ctx)
	if _, err := getChat(db, "id = ?", chatID); err != nil {
		return nil, err
	}

	q := db.Where("chat_id = ? AND sequence > ?", chatID, afterSequence).Order("sequence ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []messageRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toModel())
	}
	return out, nil
}

func (s *Store) SetAccepted(ctx context.Context, chatID string, party model.Party) (*model.Chat, bool, error) {
	column := "buyer_accepted"
	if party == model.PartySeller {
		column = "seller_accepted"
	}

	db := s.db.WithContext(ctx)
	res := db.Model(&chatRecord{}).
		Where("id = ? AND "+column+" = ? AND "+writableChat, chatID, false, false, string(model.RequestPending)).
		Updates(map[string]interface{}{
			column:    true,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	flipped := res.RowsAffected == 1
	if !flipped {
		if err := openChatError(db, chatID); err != nil {
			return nil, false, err
		}
	}
	chat, err := getChat(db, "id = ?", chatID)
	if err != nil {
		return nil, false, err
	}
	return chat, flipped, nil
}

func (s *Store) MarkMutual(ctx context.Context, chatID string, at time.Time) (*model.Chat, bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&chatRecord{}).
		Where("id = ? AND buyer_accepted = ? AND seller_accepted = ? AND mutual_at IS NULL", chatID, true, true).
		Updates(map[string]interface{}{
			"mutual_at": at.UTC(),
			"version":   gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	chat, err := getChat(db, "id = ?", chatID)
	if err != nil {
		return nil, false, err
	}
	return chat, res.RowsAffected == 1, nil
}

func (s *Store) CloseChat(ctx context.Context, requestID string, at time.Time) (*model.Chat, bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&chatRecord{}).
		Where("adoption_request_id = ? AND closed = ?", requestID, false).
		Updates(map[string]interface{}{
			"closed":    true,
			"closed_at": at.UTC(),
			"version":   gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	chat, err := getChat(db, "adoption_request_id = ?", requestID)
	if err != nil {
		return nil, false, err
	}
	return chat, res.RowsAffected == 1, nil
}
