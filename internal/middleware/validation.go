package middleware

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ValidateID validates a resource id issued by this service.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid id format")
	}
	return nil
}

// ValidatePetID validates a catalog pet id. Pet ids come from the catalog
// and are not necessarily UUIDs.
func ValidatePetID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("pet_id is required")
	}
	if len(id) > 64 {
		return errors.New("pet_id exceeds maximum length")
	}
	return nil
}
