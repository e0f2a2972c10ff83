package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/camden-git/facewatch/models"
)

// IdentityRepository handles database operations for EnrolledIdentity entities
type IdentityRepository struct {
	DB *gorm.DB
}

// Ensure IdentityRepository implements IdentityRepositoryInterface
var _ IdentityRepositoryInterface = (*IdentityRepository)(nil)

func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{DB: db}
}

// Upsert inserts or replaces the cached enrollment for identity.IdentityKey
func (r *IdentityRepository) Upsert(identity *models.EnrolledIdentity) error {
	now := time.Now().Unix()
	if identity.CreatedAt == 0 {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now
	if identity.EmbeddingModel == "" {
		identity.EmbeddingModel = "arcface"
	}

	err := r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "embedding_data", "embedding_model", "photo_digest", "updated_at"}),
	}).Create(identity).Error
	if err != nil {
		return fmt.Errorf("failed to upsert enrolled identity %s: %w", identity.IdentityKey, err)
	}
	return nil
}

// GetByKey returns gorm.ErrRecordNotFound unwrapped when the key is not cached
func (r *IdentityRepository) GetByKey(identityKey string) (*models.EnrolledIdentity, error) {
	var identity models.EnrolledIdentity
	err := r.DB.Where("identity_key = ?", identityKey).First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get enrolled identity %s: %w", identityKey, err)
	}
	return &identity, nil
}

func (r *IdentityRepository) ListAll() ([]models.EnrolledIdentity, error) {
	var identities []models.EnrolledIdentity
	if err := r.DB.Order("created_at asc, identity_key asc").Find(&identities).Error; err != nil {
		return nil, fmt.Errorf("failed to list enrolled identities: %w", err)
	}
	return identities, nil
}

// UpdateLabel keeps a rename across restarts
func (r *IdentityRepository) UpdateLabel(identityKey, label string) error {
	result := r.DB.Model(&models.EnrolledIdentity{}).
		Where("identity_key = ?", identityKey).
		Updates(map[string]interface{}{"label": label, "updated_at": time.Now().Unix()})
	if result.Error != nil {
		return fmt.Errorf("failed to update label for %s: %w", identityKey, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
