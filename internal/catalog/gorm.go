package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pawtrust/adoption-platform/internal/model"
)

// PetRecord is the pets table row.
type PetRecord struct {
	ID        string    `gorm:"type:varchar(64);primaryKey"`
	SellerID  string    `gorm:"type:varchar(64);not null;index"`
	Name      string    `gorm:"type:varchar(255)"`
	Status    string    `gorm:"type:varchar(16);not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (PetRecord) TableName() string { return "pets" }

func (r *PetRecord) toModel() *model.Pet {
	return &model.Pet{
		ID:        r.ID,
		SellerID:  r.SellerID,
		Name:      r.Name,
		Status:    model.PetStatus(r.Status),
		UpdatedAt: r.UpdatedAt,
	}
}

// GormCatalog is a PetCatalog over a shared SQL database.
type GormCatalog struct {
	db *gorm.DB
}

var (
	_ PetCatalog = (*GormCatalog)(nil)
	_ Seeder     = (*GormCatalog)(nil)
)

// NewGormCatalog creates a catalog backed by db.
func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

// Migrate creates the pets table.
func (c *GormCatalog) Migrate(ctx context.Context) error {
	return c.db.WithContext(ctx).AutoMigrate(&PetRecord{})
}

// Put upserts a pet.
func (c *GormCatalog) Put(ctx context.Context, pet model.Pet) error {
	if pet.ID == "" || pet.SellerID == "" {
		return fmt.Errorf("pet id and seller id are required")
	}
	if !pet.Status.Valid() {
		return fmt.Errorf("invalid pet status %q", pet.Status)
	}
	rec := PetRecord{
		ID:        pet.ID,
		SellerID:  pet.SellerID,
		Name:      pet.Name,
		Status:    string(pet.Status),
		UpdatedAt: time.Now().UTC(),
	}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

// GetPet loads a pet by id.
func (c *GormCatalog) GetPet(ctx context.Context, id string) (*model.Pet, error) {
	var rec PetRecord
	err := c.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// SetPetStatus issues a single conditional UPDATE; zero affected rows means
// the pet is missing or not in the expected status.
func (c *GormCatalog) SetPetStatus(ctx context.Context, id string, status, expected model.PetStatus) (*model.Pet, error) {
	res := c.db.WithContext(ctx).
		Model(&PetRecord{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		current, err := c.GetPet(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: current %s, expected %s", ErrStatusMismatch, current.Status, expected)
	}
	return c.GetPet(ctx, id)
}

// ListBySeller returns the seller's pets ordered by id.
func (c *GormCatalog) ListBySeller(ctx context.Context, sellerID string) ([]model.Pet, error) {
	var recs []PetRecord
	if err := c.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("id ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.Pet, 0, len(recs))
	for i := range recs {
		out = append(out, *recs[i].toModel())
	}
	return out, nil
}
