package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/pawtrust/adoption-platform/internal/model"
)

func newGormCatalog(t *testing.T) *GormCatalog {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "catalog.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	c := NewGormCatalog(db)
	require.NoError(t, c.Migrate(context.Background()))
	return c
}

type catalogUnderTest interface {
	PetCatalog
	Seeder
}

func eachCatalog(t *testing.T, fn func(t *testing.T, c catalogUnderTest)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryCatalog()) })
	t.Run("gorm", func(t *testing.T) { fn(t, newGormCatalog(t)) })
}

func TestSetPetStatusCAS(t *testing.T) {
	eachCatalog(t, func(t *testing.T, c catalogUnderTest) {
		ctx := context.Background()
		require.NoError(t, c.Put(ctx, model.Pet{ID: "p1", SellerID: "s1", Status: model.PetAvailable}))

		pet, err := c.SetPetStatus(ctx, "p1", model.PetPending, model.PetAvailable)
		require.NoError(t, err)
		assert.Equal(t, model.PetPending, pet.Status)

		_, err = c.SetPetStatus(ctx, "p1", model.PetPending, model.PetAvailable)
		assert.ErrorIs(t, err, ErrStatusMismatch)

		_, err = c.SetPetStatus(ctx, "missing", model.PetPending, model.PetAvailable)
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := c.GetPet(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, model.PetPending, got.Status)
	})
}

func TestListBySeller(t *testing.T) {
	eachCatalog(t, func(t *testing.T, c catalogUnderTest) {
		ctx := context.Background()
		require.NoError(t, c.Put(ctx, model.Pet{ID: "b", SellerID: "s1", Status: model.PetAvailable}))
		require.NoError(t, c.Put(ctx, model.Pet{ID: "a", SellerID: "s1", Status: model.PetAdopted}))
		require.NoError(t, c.Put(ctx, model.Pet{ID: "c", SellerID: "s2", Status: model.PetAvailable}))

		pets, err := c.ListBySeller(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, pets, 2)
		assert.Equal(t, "a", pets[0].ID)
		assert.Equal(t, "b", pets[1].ID)

		none, err := c.ListBySeller(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestPutValidates(t *testing.T) {
	eachCatalog(t, func(t *testing.T, c catalogUnderTest) {
		ctx := context.Background()
		assert.Error(t, c.Put(ctx, model.Pet{ID: "p", Status: model.PetAvailable}))
		assert.Error(t, c.Put(ctx, model.Pet{ID: "p", SellerID: "s", Status: "lost"}))
	})
}

func TestMemoryCatalogConcurrentCASHasOneWinner(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog()
	require.NoError(t, c.Put(ctx, model.Pet{ID: "p1", SellerID: "s1", Status: model.PetAvailable}))

	const n = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.SetPetStatus(ctx, "p1", model.PetPending, model.PetAvailable); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestParseSeed(t *testing.T) {
	raw := []byte(`
pets:
  - id: pet-1
    seller_id: shelter-1
    name: Biscuit
  - id: pet-2
    seller_id: shelter-1
    status: adopted
`)
	pets, err := ParseSeed(raw)
	require.NoError(t, err)
	require.Len(t, pets, 2)
	assert.Equal(t, model.PetAvailable, pets[0].Status)
	assert.Equal(t, "Biscuit", pets[0].Name)
	assert.Equal(t, model.PetAdopted, pets[1].Status)

	c := NewMemoryCatalog()
	require.NoError(t, Seed(context.Background(), c, pets))
	got, err := c.GetPet(context.Background(), "pet-2")
	require.NoError(t, err)
	assert.Equal(t, "shelter-1", got.SellerID)
}

func TestParseSeedRejectsUnknownStatus(t *testing.T) {
	_, err := ParseSeed([]byte("pets:\n  - id: x\n    seller_id: s\n    status: sold\n"))
	assert.Error(t, err)
}
