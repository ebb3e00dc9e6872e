package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/pawtrust/adoption-platform/internal/apperr"
	"github.com/pawtrust/adoption-platform/internal/llm"
	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/pkg/logger"
)

const digestPrompt = `You summarize an adoption negotiation between a pet's seller and a prospective buyer.
List the terms both sides have stated (fee, pickup or delivery, dates, health records, conditions) and
mark which terms the other side agreed to. Reply with short bullet points. Do not invent terms.`

// digestWindow is how many of the latest messages are summarized.
const digestWindow = 200

// DigestCacheSize bounds the number of chats whose digest is kept.
const DigestCacheSize = 1024

// TermsDigest produces an advisory summary of a negotiation chat. It never
// changes negotiation state.
type TermsDigest struct {
	chats  *ChatProtocol
	client llm.Client
	logger *logger.Logger
	cache  *lru.Cache[string, model.TermsDigest]
}

// NewTermsDigest creates a digester. client may be nil.
func NewTermsDigest(chats *ChatProtocol, client llm.Client, log *logger.Logger) *TermsDigest {
	return newTermsDigest(chats, client, DigestCacheSize, log)
}

func newTermsDigest(chats *ChatProtocol, client llm.Client, size int, log *logger.Logger) *TermsDigest {
	// only fails for a non-positive size
	cache, _ := lru.New[string, model.TermsDigest](max(size, 1))
	return &TermsDigest{
		chats:  chats,
		client: client,
		logger: log.Named("digest"),
		cache:  cache,
	}
}

// Enabled reports whether an LLM is configured.
func (d *TermsDigest) Enabled() bool {
	return d != nil && d.client != nil
}

// Summarize returns the digest of the chat for one of its parties. The
// result is reused until a new message arrives.
func (d *TermsDigest) Summarize(ctx context.Context, chatID, callerID string) (*model.TermsDigest, error) {
	const op = "digest.summarize"

	if !d.Enabled() {
		return nil, ErrUnavailable
	}

	msgs, chat, err := d.chats.Messages(ctx, chatID, callerID, 0, 0)
	if err != nil {
		return nil, err
	}

	cached, ok := d.cache.Get(chatID)
	if ok && cached.UpToSeq == chat.LastSequence {
		return &cached, nil
	}
	if len(msgs) == 0 {
		return nil, apperr.InvalidState(op, "nothing to summarize yet")
	}
	if len(msgs) > digestWindow {
		msgs = msgs[len(msgs)-digestWindow:]
	}

	resp, err := d.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: digestPrompt},
			{Role: llm.RoleUser, Content: transcript(chat, msgs)},
		},
		MaxTokens:   512,
		Temperature: 0.2,
	})
	if err != nil {
		d.logger.Warn("digest completion failed",
			zap.String("chat_id", chatID),
			zap.String("provider", d.client.Name()),
			zap.Error(err),
		)
		return nil, apperr.Wrap(op, err)
	}

	digest := model.TermsDigest{
		ChatID:      chatID,
		Summary:     strings.TrimSpace(resp.Content),
		Model:       resp.Model,
		UpToSeq:     msgs[len(msgs)-1].Sequence,
		GeneratedAt: time.Now().UTC(),
	}
	d.cache.Add(chatID, digest)

	d.logger.Debug("digest generated",
		zap.String("chat_id", chatID),
		zap.Uint64("up_to_sequence", digest.UpToSeq),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return &digest, nil
}

func transcript(chat *model.Chat, msgs []model.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		who := "buyer"
		if m.SenderID == chat.SellerID {
			who = "seller"
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", m.Sequence, who, m.Content)
	}
	return b.String()
}
