package handler

import (
	"net/http"

	"github.com/pawtrust/adoption-platform/internal/middleware"
	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/internal/service"
	"github.com/pawtrust/adoption-platform/pkg/logger"
)

// PetHandler handles the seller's pet listing.
type PetHandler struct {
	lifecycle *service.Lifecycle
	logger    *logger.Logger
}

// NewPetHandler creates a new pet handler.
func NewPetHandler(lifecycle *service.Lifecycle, log *logger.Logger) *PetHandler {
	return &PetHandler{lifecycle: lifecycle, logger: log.Named("pet_handler")}
}

// Mine handles GET /api/v1/pets/mine
func (h *PetHandler) Mine(w http.ResponseWriter, r *http.Request) {
	pets, err := h.lifecycle.PetsForSeller(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListPetsResponse{Pets: pets, Total: len(pets)})
}
