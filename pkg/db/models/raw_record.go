package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbtypes "github.com/flable/flable-backend/pkg/db/types"
	"github.com/flable/flable-backend/pkg/enums"
)

// RawRecord mirrors one upstream entity. The normalized columns carry the
// values the metrics aggregator attributes to campaigns.
type RawRecord struct {
	ID              uuid.UUID                     `gorm:"column:id;type:uuid;primaryKey"`
	ConnectionID    uuid.UUID                     `gorm:"column:connection_id;type:uuid;not null;uniqueIndex:ux_raw_records_natural_key,priority:1"`
	Platform        enums.Platform                `gorm:"column:platform;not null"`
	Resource        enums.ResourceType            `gorm:"column:resource;not null;uniqueIndex:ux_raw_records_natural_key,priority:2"`
	ExternalID      string                        `gorm:"column:external_id;not null;uniqueIndex:ux_raw_records_natural_key,priority:3"`
	SourceUpdatedAt time.Time                     `gorm:"column:source_updated_at;not null"`
	Payload         dbtypes.JSON[json.RawMessage] `gorm:"column:payload;type:jsonb;not null"`
	UTMCampaign     *string                       `gorm:"column:utm_campaign;index"`
	OccurredOn      *time.Time                    `gorm:"column:occurred_on;type:date"`
	Amount          decimal.Decimal               `gorm:"column:amount;type:numeric(14,2);not null;default:0"`
	Spend           decimal.Decimal               `gorm:"column:spend;type:numeric(14,2);not null;default:0"`
	Impressions     int64                         `gorm:"column:impressions;not null;default:0"`
	Clicks          int64                         `gorm:"column:clicks;not null;default:0"`
	Conversions     int64                         `gorm:"column:conversions;not null;default:0"`
	Stale           bool                          `gorm:"column:stale;not null;default:false"`
	LastSeenAt      time.Time                     `gorm:"column:last_seen_at;not null"`
	CreatedAt       time.Time                     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                     `gorm:"column:updated_at;autoUpdateTime"`
}

func (RawRecord) TableName() string { return "raw_records" }

func (r *RawRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
