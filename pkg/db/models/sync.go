package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/flable/flable-backend/pkg/db/types"
	"github.com/flable/flable-backend/pkg/enums"
)

// ResourceCounts tallies what a run did to one resource type.
type ResourceCounts struct {
	Fetched          int `json:"fetched"`
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	Unchanged        int `json:"unchanged"`
	Skipped          int `json:"skipped"`
	BatchesCommitted int `json:"batches_committed"`
	BatchesFailed    int `json:"batches_failed"`
}

// Add merges other into c.
func (c *ResourceCounts) Add(other ResourceCounts) {
	c.Fetched += other.Fetched
	c.Created += other.Created
	c.Updated += other.Updated
	c.Unchanged += other.Unchanged
	c.Skipped += other.Skipped
	c.BatchesCommitted += other.BatchesCommitted
	c.BatchesFailed += other.BatchesFailed
}

// SyncCounts is keyed by resource type.
type SyncCounts map[enums.ResourceType]ResourceCounts

// Totals sums every resource.
func (s SyncCounts) Totals() ResourceCounts {
	var total ResourceCounts
	for _, c := range s {
		total.Add(c)
	}
	return total
}

// SyncRun is one execution of the sync engine. Rows are append-only and are
// not modified after reaching a terminal phase.
type SyncRun struct {
	ID           uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	ConnectionID uuid.UUID                `gorm:"column:connection_id;type:uuid;not null;index"`
	AccountID    uuid.UUID                `gorm:"column:account_id;type:uuid;not null"`
	Mode         enums.SyncMode           `gorm:"column:mode;not null"`
	Trigger      enums.SyncTrigger        `gorm:"column:trigger;not null"`
	Phase        enums.SyncPhase          `gorm:"column:phase;not null"`
	Outcome      *enums.SyncOutcome       `gorm:"column:outcome"`
	InFlightKey  *uuid.UUID               `gorm:"column:in_flight_key;type:uuid;uniqueIndex"`
	Counts       dbtypes.JSON[SyncCounts] `gorm:"column:counts;type:jsonb"`
	ErrorCode    *string                  `gorm:"column:error_code"`
	ErrorDetail  *string                  `gorm:"column:error_detail"`
	StartedAt    time.Time                `gorm:"column:started_at;not null"`
	FinishedAt   *time.Time               `gorm:"column:finished_at"`
	CreatedAt    time.Time                `gorm:"column:created_at;autoCreateTime"`
}

func (SyncRun) TableName() string { return "sync_runs" }

func (r *SyncRun) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// SyncCheckpoint is the resumable position of one resource for a connection.
// Cursor is empty once the resource finished a pass; Watermark only moves
// forward after a pass with no failed batches.
type SyncCheckpoint struct {
	ConnectionID     uuid.UUID          `gorm:"column:connection_id;type:uuid;primaryKey"`
	Resource         enums.ResourceType `gorm:"column:resource;primaryKey"`
	Cursor           string             `gorm:"column:cursor;not null;default:''"`
	Mode             enums.SyncMode     `gorm:"column:mode;not null;default:'incremental'"`
	Watermark        *time.Time         `gorm:"column:watermark"`
	PassStartedAt    *time.Time         `gorm:"column:pass_started_at"`
	PassHadFailures  bool               `gorm:"column:pass_had_failures;not null;default:false"`
	PassMaxUpdatedAt *time.Time         `gorm:"column:pass_max_updated_at"`
	LastRunID        *uuid.UUID         `gorm:"column:last_run_id;type:uuid"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (SyncCheckpoint) TableName() string { return "sync_checkpoints" }

// InPass reports whether a previous run left a resumable cursor behind.
func (c SyncCheckpoint) InPass() bool {
	return c.Cursor != ""
}
