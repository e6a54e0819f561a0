package decisions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flable/flable-backend/pkg/db/models"
)

// Repository persists budget changes and their audit rows.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// LockCampaignWithTx loads the campaign row with a row-level write lock held
// until tx ends.
func (r *Repository) LockCampaignWithTx(tx *gorm.DB, id uuid.UUID) (*models.Campaign, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	var campaign models.Campaign
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&campaign).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

// UpdateBudgetWithTx writes the new daily budget.
func (r *Repository) UpdateBudgetWithTx(tx *gorm.DB, id uuid.UUID, budget decimal.Decimal, at time.Time) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	return tx.Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"daily_budget":          budget,
			"last_budget_change_at": at,
			"updated_at":            at,
		}).Error
}

// InsertDecisionWithTx appends the audit row.
func (r *Repository) InsertDecisionWithTx(tx *gorm.DB, decision *models.OptimizationDecision) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	return tx.Create(decision).Error
}

// LatestDecisionAt returns when the campaign's budget last changed, or nil.
func (r *Repository) LatestDecisionAt(ctx context.Context, campaignID uuid.UUID) (*time.Time, error) {
	var decisions []models.OptimizationDecision
	if err := r.db.WithContext(ctx).
		Select("created_at").
		Where("campaign_id = ?", campaignID).
		Order("created_at DESC").
		Limit(1).
		Find(&decisions).Error; err != nil {
		return nil, err
	}
	if len(decisions) == 0 {
		return nil, nil
	}
	at := decisions[0].CreatedAt
	return &at, nil
}
