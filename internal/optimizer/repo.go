package optimizer

import (
	"context"

	"gorm.io/gorm"

	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
)

// Repository reads optimizer candidates and appends evaluations.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListEligibleCampaigns returns active campaigns with automatic optimization
// enabled.
func (r *Repository) ListEligibleCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	if err := r.db.WithContext(ctx).
		Where("status = ? AND ai_enabled = ?", enums.CampaignStatusActive, true).
		Order("id ASC").
		Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

// InsertEvaluation appends one evaluation row.
func (r *Repository) InsertEvaluation(ctx context.Context, evaluation *models.OptimizationEvaluation) error {
	return r.db.WithContext(ctx).Create(evaluation).Error
}
