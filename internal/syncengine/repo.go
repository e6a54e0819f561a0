package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
)

// errRunFinalized is returned when a run already left its in-flight state.
var errRunFinalized = errors.New("sync run already finalized")

// Repository persists runs, checkpoints and raw records.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindConnection loads a connection by id.
func (r *Repository) FindConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	var conn models.Connection
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&conn).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

// FindRun loads a sync run by id.
func (r *Repository) FindRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// CreateRun inserts a run. The unique in_flight_key rejects a second
// non-terminal run for the same connection.
func (r *Repository) CreateRun(ctx context.Context, run *models.SyncRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// UpdateRunPhase moves an in-flight run to phase.
func (r *Repository) UpdateRunPhase(ctx context.Context, runID uuid.UUID, phase enums.SyncPhase) error {
	return r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ? AND in_flight_key IS NOT NULL", runID).
		Update("phase", phase).Error
}

// FinalizeRunWithTx writes the terminal state of run and releases its
// in-flight slot.
func (r *Repository) FinalizeRunWithTx(tx *gorm.DB, run *models.SyncRun) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	res := tx.Model(&models.SyncRun{}).
		Where("id = ? AND in_flight_key IS NOT NULL", run.ID).
		Updates(map[string]any{
			"phase":         run.Phase,
			"outcome":       run.Outcome,
			"in_flight_key": nil,
			"counts":        run.Counts,
			"error_code":    run.ErrorCode,
			"error_detail":  run.ErrorDetail,
			"finished_at":   run.FinishedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errRunFinalized
	}
	return nil
}

// FinalizeStuck fails every run still in flight that started before cutoff.
func (r *Repository) FinalizeStuck(ctx context.Context, cutoff, now time.Time, code, detail string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("in_flight_key IS NOT NULL AND started_at < ?", cutoff).
		Updates(map[string]any{
			"phase":         enums.SyncPhaseFailed,
			"outcome":       enums.SyncOutcomeFailed,
			"in_flight_key": nil,
			"error_code":    code,
			"error_detail":  detail,
			"finished_at":   now,
		})
	return res.RowsAffected, res.Error
}

// ListDueConnections returns connected connections without a successful sync
// since cutoff.
func (r *Repository) ListDueConnections(ctx context.Context, cutoff time.Time, limit int) ([]models.Connection, error) {
	var conns []models.Connection
	q := r.db.WithContext(ctx).
		Where("status = ?", enums.ConnectionStatusConnected).
		Where("last_successful_sync_at IS NULL OR last_successful_sync_at < ?", cutoff).
		Order("last_successful_sync_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// UpdateConnectionWithTx applies health updates to a connection.
func (r *Repository) UpdateConnectionWithTx(tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	return tx.Model(&models.Connection{}).Where("id = ?", id).Updates(updates).Error
}

// LoadCheckpoint returns the checkpoint of (connection, resource), or a fresh
// one when the resource was never synced.
func (r *Repository) LoadCheckpoint(ctx context.Context, connectionID uuid.UUID, resource enums.ResourceType) (*models.SyncCheckpoint, error) {
	var cp models.SyncCheckpoint
	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND resource = ?", connectionID, resource).
		First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.SyncCheckpoint{
			ConnectionID: connectionID,
			Resource:     resource,
			Mode:         enums.SyncModeIncremental,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// SaveCheckpoint upserts cp outside of a batch transaction.
func (r *Repository) SaveCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error {
	return r.SaveCheckpointWithTx(r.db.WithContext(ctx), cp)
}

// SaveCheckpointWithTx upserts cp.
func (r *Repository) SaveCheckpointWithTx(tx *gorm.DB, cp *models.SyncCheckpoint) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connection_id"}, {Name: "resource"}},
		UpdateAll: true,
	}).Create(cp).Error
}

// ExistingRecordsWithTx returns the stored versions of externalIDs.
func (r *Repository) ExistingRecordsWithTx(tx *gorm.DB, connectionID uuid.UUID, resource enums.ResourceType, externalIDs []string) ([]models.RawRecord, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	if len(externalIDs) == 0 {
		return nil, nil
	}
	var rows []models.RawRecord
	if err := tx.
		Select("external_id", "source_updated_at", "utm_campaign", "occurred_on", "stale").
		Where("connection_id = ? AND resource = ? AND external_id IN ?", connectionID, resource, externalIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertRecordsWithTx writes rows keyed by (connection, resource, external
// id). An existing row is only replaced by a strictly newer version.
func (r *Repository) UpsertRecordsWithTx(tx *gorm.DB, rows []models.RawRecord) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connection_id"}, {Name: "resource"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_updated_at", "payload", "utm_campaign", "occurred_on",
			"amount", "spend", "impressions", "clicks", "conversions",
			"stale", "last_seen_at", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "raw_records.source_updated_at < excluded.source_updated_at"},
		}},
	}).Create(&rows).Error
}

// MarkSeenWithTx refreshes last_seen_at of unchanged rows and revives stale ones.
func (r *Repository) MarkSeenWithTx(tx *gorm.DB, connectionID uuid.UUID, resource enums.ResourceType, externalIDs []string, seenAt time.Time) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	if len(externalIDs) == 0 {
		return nil
	}
	return tx.Model(&models.RawRecord{}).
		Where("connection_id = ? AND resource = ? AND external_id IN ?", connectionID, resource, externalIDs).
		Updates(map[string]any{"last_seen_at": seenAt, "stale": false}).Error
}

// MarkStaleWithTx flags rows of resource not seen since before and returns
// the attribution columns of the rows it flagged.
func (r *Repository) MarkStaleWithTx(tx *gorm.DB, connectionID uuid.UUID, resource enums.ResourceType, before time.Time) ([]models.RawRecord, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Where("connection_id = ? AND resource = ? AND stale = ? AND last_seen_at < ?", connectionID, resource, false, before)
	}
	var rows []models.RawRecord
	if err := tx.Model(&models.RawRecord{}).Scopes(scope).
		Select("id", "utm_campaign", "occurred_on").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if err := tx.Model(&models.RawRecord{}).Scopes(scope).Update("stale", true).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
