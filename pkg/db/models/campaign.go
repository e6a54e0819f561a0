package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbtypes "github.com/flable/flable-backend/pkg/db/types"
	"github.com/flable/flable-backend/pkg/enums"
)

// Campaign owns a budget configuration. UTMCampaign is the attribution key
// matched against synced orders and marketing events.
type Campaign struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	AccountID          uuid.UUID            `gorm:"column:account_id;type:uuid;not null;index"`
	ConnectionID       *uuid.UUID           `gorm:"column:connection_id;type:uuid"`
	Name               string               `gorm:"column:name;not null"`
	UTMCampaign        string               `gorm:"column:utm_campaign;not null"`
	Status             enums.CampaignStatus `gorm:"column:status;not null;default:'draft'"`
	AIEnabled          bool                 `gorm:"column:ai_enabled;not null;default:false"`
	DailyBudget        decimal.Decimal      `gorm:"column:daily_budget;type:numeric(12,2);not null"`
	TargetROAS         decimal.Decimal      `gorm:"column:target_roas;type:numeric(8,4);not null;default:0"`
	TargetCPA          decimal.Decimal      `gorm:"column:target_cpa;type:numeric(12,2);not null;default:0"`
	MinBudget          decimal.Decimal      `gorm:"column:min_budget;type:numeric(12,2);not null"`
	MaxBudget          decimal.Decimal      `gorm:"column:max_budget;type:numeric(12,2);not null"`
	LastBudgetChangeAt *time.Time           `gorm:"column:last_budget_change_at"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Campaign) TableName() string { return "campaigns" }

func (c *Campaign) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// MetricSnapshot is the per-campaign, per-day performance row.
type MetricSnapshot struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	CampaignID  uuid.UUID       `gorm:"column:campaign_id;type:uuid;not null;uniqueIndex:ux_metric_snapshots_campaign_day,priority:1"`
	Day         time.Time       `gorm:"column:day;type:date;not null;uniqueIndex:ux_metric_snapshots_campaign_day,priority:2"`
	Impressions int64           `gorm:"column:impressions;not null"`
	Clicks      int64           `gorm:"column:clicks;not null"`
	Conversions int64           `gorm:"column:conversions;not null"`
	Cost        decimal.Decimal `gorm:"column:cost;type:numeric(14,2);not null"`
	Revenue     decimal.Decimal `gorm:"column:revenue;type:numeric(14,2);not null"`
	ROAS        decimal.Decimal `gorm:"column:roas;type:numeric(12,4);not null"`
	CTR         decimal.Decimal `gorm:"column:ctr;type:numeric(12,4);not null"`
	CPC         decimal.Decimal `gorm:"column:cpc;type:numeric(12,4);not null"`
	CPA         decimal.Decimal `gorm:"column:cpa;type:numeric(12,4);not null"`
	ComputedAt  time.Time       `gorm:"column:computed_at;not null"`
}

func (MetricSnapshot) TableName() string { return "metric_snapshots" }

func (m *MetricSnapshot) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// TriggerMetrics captures the trailing-window values a decision was based on.
type TriggerMetrics struct {
	WindowDays  int             `json:"window_days,omitempty"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to,omitempty"`
	ROAS        decimal.Decimal `json:"roas"`
	TargetROAS  decimal.Decimal `json:"target_roas"`
	Conversions int64           `json:"conversions"`
	Cost        decimal.Decimal `json:"cost"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// OptimizationDecision is the append-only audit row for a budget change.
type OptimizationDecision struct {
	ID             uuid.UUID                    `gorm:"column:id;type:uuid;primaryKey"`
	CampaignID     uuid.UUID                    `gorm:"column:campaign_id;type:uuid;not null;index"`
	PreviousBudget decimal.Decimal              `gorm:"column:previous_budget;type:numeric(12,2);not null"`
	NewBudget      decimal.Decimal              `gorm:"column:new_budget;type:numeric(12,2);not null"`
	TriggerMetrics dbtypes.JSON[TriggerMetrics] `gorm:"column:trigger_metrics;type:jsonb"`
	RationaleCode  enums.RationaleCode          `gorm:"column:rationale_code;not null"`
	Source         enums.DecisionSource         `gorm:"column:source;not null"`
	CreatedAt      time.Time                    `gorm:"column:created_at;not null"`
}

func (OptimizationDecision) TableName() string { return "optimization_decisions" }

func (d *OptimizationDecision) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// OptimizationEvaluation records every scheduler pass over a campaign,
// including the ones that changed nothing.
type OptimizationEvaluation struct {
	ID             uuid.UUID                    `gorm:"column:id;type:uuid;primaryKey"`
	CampaignID     uuid.UUID                    `gorm:"column:campaign_id;type:uuid;not null;index"`
	Outcome        enums.EvaluationOutcome      `gorm:"column:outcome;not null"`
	CurrentBudget  decimal.Decimal              `gorm:"column:current_budget;type:numeric(12,2);not null"`
	ProposedBudget *decimal.Decimal             `gorm:"column:proposed_budget;type:numeric(12,2)"`
	RationaleCode  *enums.RationaleCode         `gorm:"column:rationale_code"`
	TriggerMetrics dbtypes.JSON[TriggerMetrics] `gorm:"column:trigger_metrics;type:jsonb"`
	DecisionID     *uuid.UUID                   `gorm:"column:decision_id;type:uuid"`
	Detail         *string                      `gorm:"column:detail"`
	ErrorCode      *string                      `gorm:"column:error_code"`
	CreatedAt      time.Time                    `gorm:"column:created_at;not null"`
}

func (OptimizationEvaluation) TableName() string { return "optimization_evaluations" }

func (e *OptimizationEvaluation) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
