package campaigns

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flable/flable-backend/pkg/db/models"
)

// Repository reads campaigns scoped to their owning account.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindForAccount loads a campaign owned by accountID.
func (r *Repository) FindForAccount(ctx context.Context, accountID, id uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := r.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		First(&campaign).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

// ListByAccount returns the account's campaigns ordered by name.
func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("name ASC").
		Order("id ASC").
		Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}
