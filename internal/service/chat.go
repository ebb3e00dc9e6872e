package service

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pawtrust/adoption-platform/internal/apperr"
	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/internal/store"
	"github.com/pawtrust/adoption-platform/pkg/logger"
	"github.com/pawtrust/adoption-platform/pkg/metrics"
)

// MaxMessageLength is the largest accepted message body in bytes.
const MaxMessageLength = 100000

// ChatProtocol runs the negotiation chat attached to each adoption request.
type ChatProtocol struct {
	store    store.NegotiationStore
	events   *Events
	watcher  ChatWatcher
	maxWait  time.Duration
	logger   *logger.Logger
	now      func() time.Time
	ids      *messageIDs
	creating singleflight.Group
}

// NewChatProtocol creates a chat protocol. watcher may be nil, in which case
// Watch returns immediately.
func NewChatProtocol(st store.NegotiationStore, events *Events, watcher ChatWatcher, maxWait time.Duration, log *logger.Logger) *ChatProtocol {
	if maxWait <= 0 {
		maxWait = 25 * time.Second
	}
	return &ChatProtocol{
		store:   st,
		events:  events,
		watcher: watcher,
		maxWait: maxWait,
		logger:  log.Named("chat"),
		now:     func() time.Time { return time.Now().UTC() },
		ids:     newMessageIDs(),
	}
}

// messageIDs hands out lexically sortable message ids.
type messageIDs struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newMessageIDs() *messageIDs {
	return &messageIDs{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *messageIDs) next(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}

// GetOrCreateChat returns the request's chat, creating it on first access.
// Concurrent first access by both parties yields one chat.
func (p *ChatProtocol) GetOrCreateChat(ctx context.Context, requestID, callerID string) (*model.ChatProjection, error) {
	const op = "chat.get_or_create"

	req, err := p.request(ctx, op, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsParty(callerID) {
		return nil, apperr.Forbidden(op, "not a party to this request")
	}

	chat, err := p.store.GetChatByRequest(ctx, requestID)
	if err == nil {
		return p.project(ctx, op, chat, req)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Wrap(op, err)
	}
	if req.Status != model.RequestPending {
		return nil, apperr.InvalidState(op, msgRequestResolved)
	}

	shared := context.WithoutCancel(ctx)
	ch := p.creating.DoChan(requestID, func() (any, error) {
		return p.createChat(shared, req, callerID)
	})
	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, apperr.Wrap(op, ctx.Err())
	}
	if r.Err != nil {
		return nil, apperr.Wrap(op, r.Err)
	}
	chat = r.Val.(*model.Chat)

	// the request may have been decided while the chat was being created
	if req, err = p.request(ctx, op, requestID); err != nil {
		return nil, err
	}
	if req.Status != model.RequestPending && !chat.Closed {
		if closed, ok, err := p.store.CloseChat(ctx, requestID, p.now()); err == nil {
			chat = closed
			if ok {
				p.events.chatChanged(ctx, chat.ID)
			}
		}
	}
	return p.project(ctx, op, chat, req)
}

func (p *ChatProtocol) createChat(ctx context.Context, req *model.AdoptionRequest, callerID string) (*model.Chat, error) {
	now := p.now()
	chat, err := p.store.CreateChat(ctx, &model.Chat{
		ID:                uuid.Must(uuid.NewV7()).String(),
		AdoptionRequestID: req.ID,
		BuyerID:           req.BuyerID,
		SellerID:          req.SellerID,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// lost to another replica; return the winner's row
		return p.store.GetChatByRequest(ctx, req.ID)
	}
	if err != nil {
		return nil, err
	}

	p.events.emit(ctx, model.NegotiationEvent{
		Type:              model.EventChatCreated,
		AdoptionRequestID: req.ID,
		PetID:             req.PetID,
		ChatID:            chat.ID,
		ActorID:           callerID,
		CreatedAt:         now,
	})
	p.logger.Info("chat created", zap.String("chat_id", chat.ID), zap.String("request_id", req.ID))
	return chat, nil
}

// Get returns the projection of a chat to one of its parties.
func (p *ChatProtocol) Get(ctx context.Context, chatID, callerID string) (*model.ChatProjection, error) {
	const op = "chat.get"

	chat, _, err := p.partyChat(ctx, op, chatID, callerID)
	if err != nil {
		return nil, err
	}
	return p.project(ctx, op, chat, nil)
}

// Watch returns the chat projection once its version exceeds sinceVersion,
// or its current projection after wait elapses.
func (p *ChatProtocol) Watch(ctx context.Context, chatID, callerID string, sinceVersion uint64, wait time.Duration) (*model.ChatProjection, error) {
	const op = "chat.watch"

	if wait > p.maxWait {
		wait = p.maxWait
	}
	if p.watcher == nil || wait <= 0 {
		return p.Get(ctx, chatID, callerID)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	metrics.IncrementLongPollWaiters()
	defer metrics.DecrementLongPollWaiters()

	for {
		// subscribe before reading so a change in between is not missed
		changed, cancel := p.watcher.Subscribe(chatID)

		chat, _, err := p.partyChat(ctx, op, chatID, callerID)
		if err != nil {
			cancel()
			return nil, err
		}
		if chat.Version > sinceVersion {
			cancel()
			return p.project(ctx, op, chat, nil)
		}

		select {
		case <-changed:
			cancel()
		case <-timer.C:
			cancel()
			return p.project(ctx, op, chat, nil)
		case <-ctx.Done():
			cancel()
			return nil, ctx.Err()
		}
	}
}

// PostMessage appends a message from one of the chat's parties and returns
// the updated projection.
func (p *ChatProtocol) PostMessage(ctx context.Context, chatID, senderID, content string) (*model.ChatProjection, error) {
	const op = "chat.post_message"

	chat, party, err := p.partyChat(ctx, op, chatID, senderID)
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	switch {
	case content == "":
		return nil, apperr.InvalidInput(op, "message content must not be empty")
	case len(content) > MaxMessageLength:
		return nil, apperr.InvalidInput(op, "message content exceeds maximum length")
	case !utf8.ValidString(content):
		return nil, apperr.InvalidInput(op, "message content must be valid UTF-8")
	}

	req, err := p.request(ctx, op, chat.AdoptionRequestID)
	if err != nil {
		return nil, err
	}
	if chat.Closed || req.Status != model.RequestPending {
		return nil, apperr.InvalidState(op, msgChatReadOnly)
	}

	now := p.now()
	msg, chat, err := p.store.AppendMessage(ctx, &model.Message{
		ID:        p.ids.next(now),
		ChatID:    chat.ID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now,
	})
	if errors.Is(err, store.ErrChatClosed) {
		return nil, apperr.InvalidState(op, msgChatReadOnly)
	}
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}

	metrics.ChatMessagesTotal.WithLabelValues(string(party)).Inc()
	p.events.emit(ctx, model.NegotiationEvent{
		Type:              model.EventChatMessage,
		AdoptionRequestID: req.ID,
		ChatID:            chat.ID,
		ActorID:           senderID,
		CreatedAt:         msg.CreatedAt,
		Metadata:          map[string]any{"message_id": msg.ID, "sequence": msg.Sequence},
	})
	p.events.chatChanged(ctx, chat.ID)

	return p.project(ctx, op, chat, req)
}

// AcceptTerms records the caller's acceptance. Repeats are no-ops. The
// projection flags MutualAcceptance only on the call that completed it;
// mutual acceptance never decides the request.
func (p *ChatProtocol) AcceptTerms(ctx context.Context, chatID, callerID string) (*model.ChatProjection, error) {
	const op = "chat.accept_terms"

	chat, party, err := p.partyChat(ctx, op, chatID, callerID)
	if err != nil {
		return nil, err
	}
	req, err := p.request(ctx, op, chat.AdoptionRequestID)
	if err != nil {
		return nil, err
	}
	if chat.Closed || req.Status != model.RequestPending {
		return nil, apperr.InvalidState(op, msgChatReadOnly)
	}

	chat, flipped, err := p.store.SetAccepted(ctx, chatID, party)
	if errors.Is(err, store.ErrChatClosed) {
		return nil, apperr.InvalidState(op, msgChatReadOnly)
	}
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if flipped {
		p.events.emit(ctx, model.NegotiationEvent{
			Type:              model.EventChatAccepted,
			AdoptionRequestID: req.ID,
			ChatID:            chat.ID,
			ActorID:           callerID,
			Metadata:          map[string]any{"party": string(party)},
		})
		p.logger.Info("terms accepted", zap.String("chat_id", chat.ID), zap.String("party", string(party)))
	}

	mutualNow := false
	if chat.MutuallyAccepted() && chat.MutualAt == nil {
		var marked bool
		chat, marked, err = p.store.MarkMutual(ctx, chatID, p.now())
		if err != nil {
			return nil, apperr.Wrap(op, err)
		}
		if marked {
			mutualNow = true
			metrics.MutualAcceptancesTotal.Inc()
			p.events.emit(ctx, model.NegotiationEvent{
				Type:              model.EventMutualAcceptance,
				AdoptionRequestID: req.ID,
				PetID:             req.PetID,
				ChatID:            chat.ID,
				ActorID:           callerID,
			})
			p.logger.Info("mutual acceptance reached", zap.String("chat_id", chat.ID), zap.String("request_id", req.ID))
		}
	}
	if flipped || mutualNow {
		p.events.chatChanged(ctx, chat.ID)
	}

	proj, err := p.project(ctx, op, chat, req)
	if err != nil {
		return nil, err
	}
	proj.MutualAcceptance = mutualNow
	return proj, nil
}

// Messages returns up to limit messages after the given sequence for one of
// the chat's parties.
func (p *ChatProtocol) Messages(ctx context.Context, chatID, callerID string, afterSequence uint64, limit int) ([]model.Message, *model.Chat, error) {
	const op = "chat.messages"

	chat, _, err := p.partyChat(ctx, op, chatID, callerID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := p.store.ListMessages(ctx, chatID, afterSequence, limit)
	if err != nil {
		return nil, nil, apperr.Wrap(op, err)
	}
	return msgs, chat, nil
}

func (p *ChatProtocol) partyChat(ctx context.Context, op, chatID, callerID string) (*model.Chat, model.Party, error) {
	chat, err := p.store.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", apperr.NotFound(op, "chat not found")
	}
	if err != nil {
		return nil, "", apperr.Wrap(op, err)
	}
	party, ok := chat.PartyOf(callerID)
	if !ok {
		return nil, "", apperr.Forbidden(op, "not a party to this chat")
	}
	return chat, party, nil
}

func (p *ChatProtocol) request(ctx context.Context, op, requestID string) (*model.AdoptionRequest, error) {
	req, err := p.store.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(op, "adoption request not found")
	}
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return req, nil
}

// project assembles the client view. req is looked up when nil.
func (p *ChatProtocol) project(ctx context.Context, op string, chat *model.Chat, req *model.AdoptionRequest) (*model.ChatProjection, error) {
	if req == nil {
		var err error
		if req, err = p.request(ctx, op, chat.AdoptionRequestID); err != nil {
			return nil, err
		}
	}
	msgs, err := p.store.ListMessages(ctx, chat.ID, 0, 0)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return &model.ChatProjection{
		Chat:             *chat,
		Messages:         msgs,
		RequestStatus:    req.Status,
		ReadOnly:         chat.Closed || req.Status != model.RequestPending,
		MutuallyAccepted: chat.MutuallyAccepted(),
	}, nil
}
