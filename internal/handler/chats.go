package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pawtrust/adoption-platform/internal/middleware"
	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/internal/service"
	"github.com/pawtrust/adoption-platform/pkg/logger"
)

// ChatHandler handles negotiation chat endpoints.
type ChatHandler struct {
	chats  *service.ChatProtocol
	digest *service.TermsDigest
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler. digest may be nil.
func NewChatHandler(chats *service.ChatProtocol, digest *service.TermsDigest, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chats:  chats,
		digest: digest,
		logger: log.Named("chat_handler"),
	}
}

// Open handles GET and POST /api/v1/chats/adoption/{requestId}
func (h *ChatHandler) Open(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	if err := middleware.ValidateID(requestID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	proj, err := h.chats.GetOrCreateChat(r.Context(), requestID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// Get handles GET /api/v1/chats/{chatId}?since_version=N&wait=25s
//
// Without since_version the current projection is returned at once.
// Otherwise the request is held until the chat version exceeds N or wait
// elapses, and the current projection is returned either way.
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}
	userID := middleware.GetUserID(r.Context())

	since := r.URL.Query().Get("since_version")
	if since == "" {
		proj, err := h.chats.Get(r.Context(), chatID, userID)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, proj)
		return
	}

	version, err := strconv.ParseUint(since, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since_version must be a non-negative integer")
		return
	}
	wait := 25 * time.Second
	if v := r.URL.Query().Get("wait"); v != "" {
		wait, err = time.ParseDuration(v)
		if err != nil || wait < 0 {
			writeError(w, http.StatusBadRequest, "wait must be a duration such as 25s")
			return
		}
	}

	proj, err := h.chats.Watch(r.Context(), chatID, userID, version, wait)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// PostMessage handles POST /api/v1/chats/{chatId}/messages
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	var req model.PostMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	proj, err := h.chats.PostMessage(r.Context(), chatID, middleware.GetUserID(r.Context()), req.Content)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, proj)
}

// Accept handles POST /api/v1/chats/{chatId}/accept
func (h *ChatHandler) Accept(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	proj, err := h.chats.AcceptTerms(r.Context(), chatID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// Digest handles GET /api/v1/chats/{chatId}/digest
func (h *ChatHandler) Digest(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	digest, err := h.digest.Summarize(r.Context(), chatID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, digest)
}

func (h *ChatHandler) chatID(w http.ResponseWriter, r *http.Request) (string, bool) {
	chatID := chi.URLParam(r, "chatId")
	if err := middleware.ValidateID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return chatID, true
}
