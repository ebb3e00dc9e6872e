package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pawtrust/adoption-platform/internal/middleware"
	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/internal/service"
	"github.com/pawtrust/adoption-platform/pkg/logger"
)

// AdoptionHandler handles adoption request endpoints.
type AdoptionHandler struct {
	lifecycle *service.Lifecycle
	logger    *logger.Logger
}

// NewAdoptionHandler creates a new adoption handler.
func NewAdoptionHandler(lifecycle *service.Lifecycle, log *logger.Logger) *AdoptionHandler {
	return &AdoptionHandler{
		lifecycle: lifecycle,
		logger:    log.Named("adoption_handler"),
	}
}

// Create handles POST /api/v1/adoption-requests
func (h *AdoptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAdoptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidatePetID(req.PetID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	adoption, created, err := h.lifecycle.RequestAdoption(r.Context(), req.PetID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, model.CreateAdoptionResponse{Request: adoption, Created: created})
}

// Decide handles PATCH /api/v1/adoption-requests/{id}
func (h *AdoptionHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.DecideAdoptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	adoption, err := h.lifecycle.Decide(r.Context(), id, middleware.GetUserID(r.Context()), req.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, adoption)
}

// List handles GET /api/v1/adoption-requests?as=buyer|seller
func (h *AdoptionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	as := r.URL.Query().Get("as")
	if as == "" {
		as = "buyer"
		if middleware.GetRole(ctx) == middleware.RoleBusiness {
			as = "seller"
		}
	}

	var (
		reqs []model.AdoptionRequest
		err  error
	)
	switch as {
	case "buyer":
		reqs, err = h.lifecycle.ListForBuyer(ctx, userID)
	case "seller":
		reqs, err = h.lifecycle.ListForSeller(ctx, userID)
	default:
		writeError(w, http.StatusBadRequest, "as must be buyer or seller")
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ListAdoptionRequestsResponse{
		Requests: reqs,
		Total:    len(reqs),
	})
}

// Get handles GET /api/v1/adoption-requests/{id}
func (h *AdoptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	adoption, err := h.lifecycle.Get(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, adoption)
}

// Events handles GET /api/v1/adoption-requests/{id}/events
func (h *AdoptionHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := h.lifecycle.History(r.Context(), id, middleware.GetUserID(r.Context()), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}
