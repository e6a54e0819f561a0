package reporting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
	"github.com/flable/flable-backend/pkg/pagination"
)

// Repository serves the read-only listings behind the presentation API.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ConnectionOwned reports whether the connection belongs to accountID.
func (r *Repository) ConnectionOwned(ctx context.Context, accountID, connectionID uuid.UUID) (bool, error) {
	return r.owned(ctx, &models.Connection{}, accountID, connectionID)
}

// CampaignOwned reports whether the campaign belongs to accountID.
func (r *Repository) CampaignOwned(ctx context.Context, accountID, campaignID uuid.UUID) (bool, error) {
	return r.owned(ctx, &models.Campaign{}, accountID, campaignID)
}

func (r *Repository) owned(ctx context.Context, model any, accountID, id uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(model).
		Where("id = ? AND account_id = ?", id, accountID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListSyncRuns returns a page of a connection's runs, newest first.
func (r *Repository) ListSyncRuns(ctx context.Context, connectionID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.SyncRun, *pagination.Cursor, error) {
	var rows []models.SyncRun
	q := r.db.WithContext(ctx).Where("connection_id = ?", connectionID)
	if err := page(q, "started_at", limit, cursor).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	out, next := pagination.Split(rows, limit, func(run models.SyncRun) pagination.Cursor {
		return pagination.Cursor{At: run.StartedAt, ID: run.ID}
	})
	return out, next, nil
}

// ListDecisions returns a page of a campaign's budget decisions, newest first.
func (r *Repository) ListDecisions(ctx context.Context, campaignID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.OptimizationDecision, *pagination.Cursor, error) {
	var rows []models.OptimizationDecision
	q := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID)
	if err := page(q, "created_at", limit, cursor).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	out, next := pagination.Split(rows, limit, func(d models.OptimizationDecision) pagination.Cursor {
		return pagination.Cursor{At: d.CreatedAt, ID: d.ID}
	})
	return out, next, nil
}

// ListEvaluations returns a page of a campaign's optimizer evaluations,
// newest first.
func (r *Repository) ListEvaluations(ctx context.Context, campaignID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.OptimizationEvaluation, *pagination.Cursor, error) {
	var rows []models.OptimizationEvaluation
	q := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID)
	if err := page(q, "created_at", limit, cursor).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	out, next := pagination.Split(rows, limit, func(e models.OptimizationEvaluation) pagination.Cursor {
		return pagination.Cursor{At: e.CreatedAt, ID: e.ID}
	})
	return out, next, nil
}

// ListSnapshots returns a campaign's daily snapshots in [from, to], oldest
// first.
func (r *Repository) ListSnapshots(ctx context.Context, campaignID uuid.UUID, from, to time.Time) ([]models.MetricSnapshot, error) {
	var rows []models.MetricSnapshot
	if err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND day >= ? AND day <= ?", campaignID, from, to).
		Order("day ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListRecords returns a page of a connection's live records of one resource,
// most recently updated upstream first.
func (r *Repository) ListRecords(ctx context.Context, connectionID uuid.UUID, resource enums.ResourceType, limit int, cursor *pagination.Cursor) ([]models.RawRecord, *pagination.Cursor, error) {
	var rows []models.RawRecord
	q := r.db.WithContext(ctx).
		Where("connection_id = ? AND resource = ? AND stale = ?", connectionID, resource, false)
	if err := page(q, "source_updated_at", limit, cursor).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	out, next := pagination.Split(rows, limit, func(rec models.RawRecord) pagination.Cursor {
		return pagination.Cursor{At: rec.SourceUpdatedAt, ID: rec.ID}
	})
	return out, next, nil
}

// ListOrderAmounts returns the amount and conversion of each live order of
// the connection placed in [from, to]. A nil bound leaves that side open;
// orders without a placement day only match an unbounded range.
func (r *Repository) ListOrderAmounts(ctx context.Context, connectionID uuid.UUID, from, to *time.Time) ([]models.RawRecord, error) {
	var rows []models.RawRecord
	q := r.db.WithContext(ctx).Model(&models.RawRecord{}).
		Select("id", "amount", "conversions").
		Where("connection_id = ? AND resource = ? AND stale = ?", connectionID, enums.ResourceOrders, false)
	if from != nil {
		q = q.Where("occurred_on >= ?", *from)
	}
	if to != nil {
		q = q.Where("occurred_on <= ?", *to)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func page(q *gorm.DB, column string, limit int, cursor *pagination.Cursor) *gorm.DB {
	if cursor != nil {
		q = q.Where("("+column+" < ?) OR ("+column+" = ? AND id < ?)", cursor.At, cursor.At, cursor.ID)
	}
	return q.Order(column + " DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(limit))
}
