package aggregator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
)

// Repository reads attributed raw records and writes snapshots.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListCampaigns returns the account's campaigns, optionally restricted to the
// given attribution keys.
func (r *Repository) ListCampaigns(ctx context.Context, accountID uuid.UUID, utms []string) ([]models.Campaign, error) {
	q := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	if utms != nil {
		if len(utms) == 0 {
			return nil, nil
		}
		q = q.Where("utm_campaign IN ?", utms)
	}
	var campaigns []models.Campaign
	if err := q.Order("id").Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

// FindCampaignsWithTx loads campaigns of the account by id.
func (r *Repository) FindCampaignsWithTx(tx *gorm.DB, accountID uuid.UUID, ids []uuid.UUID) ([]models.Campaign, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	var campaigns []models.Campaign
	if err := tx.Where("account_id = ? AND id IN ?", accountID, ids).Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

// AttributedRecordsWithTx returns the non-stale order and marketing records of
// the account carrying utm on any of days.
func (r *Repository) AttributedRecordsWithTx(tx *gorm.DB, accountID uuid.UUID, utm string, days []time.Time) ([]models.RawRecord, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	var records []models.RawRecord
	err := tx.Model(&models.RawRecord{}).
		Select("raw_records.*").
		Joins("JOIN connections ON connections.id = raw_records.connection_id").
		Where("connections.account_id = ?", accountID).
		Where("raw_records.utm_campaign = ?", utm).
		Where("raw_records.occurred_on IN ?", days).
		Where("raw_records.stale = ?", false).
		Where("raw_records.resource IN ?", []enums.ResourceType{enums.ResourceOrders, enums.ResourceMarketingEvents}).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// UpsertSnapshotsWithTx replaces the rows for each (campaign, day).
func (r *Repository) UpsertSnapshotsWithTx(tx *gorm.DB, snapshots []models.MetricSnapshot) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	if len(snapshots) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "campaign_id"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"impressions", "clicks", "conversions", "cost", "revenue",
			"roas", "ctr", "cpc", "cpa", "computed_at",
		}),
	}).Create(&snapshots).Error
}

// ListSnapshots returns a campaign's snapshots in [from, to], oldest first.
func (r *Repository) ListSnapshots(ctx context.Context, campaignID uuid.UUID, from, to time.Time) ([]models.MetricSnapshot, error) {
	var snapshots []models.MetricSnapshot
	if err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND day >= ? AND day <= ?", campaignID, Day(from), Day(to)).
		Order("day ASC").
		Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}
