package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pawtrust/adoption-platform/internal/apperr"
	"github.com/pawtrust/adoption-platform/internal/middleware"
	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/internal/service"
	"github.com/pawtrust/adoption-platform/pkg/logger"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.ErrorResponse{Error: message})
}

// writeServiceError maps a service error onto a response. Internal errors
// are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "this feature is not available")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if r.Context().Err() != nil {
			// client went away
			return
		}
	}

	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, apperr.HTTPStatus(kind), model.ErrorResponse{
		Error: apperr.PublicMessage(err),
		Code:  string(kind),
	})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
