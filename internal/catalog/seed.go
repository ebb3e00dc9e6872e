package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pawtrust/adoption-platform/internal/model"
)

type seedFile struct {
	Pets []model.Pet `yaml:"pets"`
}

// LoadSeed reads a YAML fixture of the form:
//
//	pets:
//	  - id: pet-1
//	    seller_id: shelter-1
//	    name: Biscuit
//	    status: available
func LoadSeed(path string) ([]model.Pet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(raw)
}

// ParseSeed decodes a seed fixture. Status defaults to available.
func ParseSeed(raw []byte) ([]model.Pet, error) {
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i := range f.Pets {
		if f.Pets[i].Status == "" {
			f.Pets[i].Status = model.PetAvailable
		}
		if !f.Pets[i].Status.Valid() {
			return nil, fmt.Errorf("pet %q: invalid status %q", f.Pets[i].ID, f.Pets[i].Status)
		}
	}
	return f.Pets, nil
}

// Seed writes pets into the catalog.
func Seed(ctx context.Context, s Seeder, pets []model.Pet) error {
	for _, pet := range pets {
		if err := s.Put(ctx, pet); err != nil {
			return fmt.Errorf("seed pet %q: %w", pet.ID, err)
		}
	}
	return nil
}
