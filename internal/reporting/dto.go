package reporting

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
)

// SyncRunDTO exposes a run's error code and its public message. The operator
// detail stays in the database and logs.
type SyncRunDTO struct {
	ID           uuid.UUID          `json:"id"`
	ConnectionID uuid.UUID          `json:"connection_id"`
	Mode         enums.SyncMode     `json:"mode"`
	Trigger      enums.SyncTrigger  `json:"trigger"`
	Phase        enums.SyncPhase    `json:"phase"`
	Outcome      *enums.SyncOutcome `json:"outcome,omitempty"`
	Counts       models.SyncCounts  `json:"counts"`
	ErrorCode    *string            `json:"error_code,omitempty"`
	ErrorMessage *string            `json:"error_message,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
}

func syncRunFromModel(m models.SyncRun) SyncRunDTO {
	return SyncRunDTO{
		ID:           m.ID,
		ConnectionID: m.ConnectionID,
		Mode:         m.Mode,
		Trigger:      m.Trigger,
		Phase:        m.Phase,
		Outcome:      m.Outcome,
		Counts:       m.Counts.Data,
		ErrorCode:    m.ErrorCode,
		ErrorMessage: pkgerrors.PublicMessageFor(m.ErrorCode),
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
	}
}

// MetricsDTO carries additive totals and the ratios derived from them.
type MetricsDTO struct {
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Conversions int64           `json:"conversions"`
	Cost        decimal.Decimal `json:"cost"`
	Revenue     decimal.Decimal `json:"revenue"`
	ROAS        decimal.Decimal `json:"roas"`
	CTR         decimal.Decimal `json:"ctr"`
	CPC         decimal.Decimal `json:"cpc"`
	CPA         decimal.Decimal `json:"cpa"`
}

type DayMetricsDTO struct {
	Day string `json:"day"`
	MetricsDTO
	ComputedAt time.Time `json:"computed_at"`
}

// MetricsReport is a campaign's daily series over [From, To] plus the
// range totals.
type MetricsReport struct {
	CampaignID uuid.UUID       `json:"campaign_id"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Days       []DayMetricsDTO `json:"days"`
	Totals     MetricsDTO      `json:"totals"`
}

type EvaluationDTO struct {
	ID             uuid.UUID               `json:"id"`
	CampaignID     uuid.UUID               `json:"campaign_id"`
	Outcome        enums.EvaluationOutcome `json:"outcome"`
	CurrentBudget  decimal.Decimal         `json:"current_budget"`
	ProposedBudget *decimal.Decimal        `json:"proposed_budget,omitempty"`
	RationaleCode  *enums.RationaleCode    `json:"rationale_code,omitempty"`
	TriggerMetrics models.TriggerMetrics   `json:"trigger_metrics"`
	DecisionID     *uuid.UUID              `json:"decision_id,omitempty"`
	ErrorCode      *string                 `json:"error_code,omitempty"`
	ErrorMessage   *string                 `json:"error_message,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

func evaluationFromModel(m models.OptimizationEvaluation) EvaluationDTO {
	return EvaluationDTO{
		ID:             m.ID,
		CampaignID:     m.CampaignID,
		Outcome:        m.Outcome,
		CurrentBudget:  m.CurrentBudget,
		ProposedBudget: m.ProposedBudget,
		RationaleCode:  m.RationaleCode,
		TriggerMetrics: m.TriggerMetrics.Data,
		DecisionID:     m.DecisionID,
		ErrorCode:      m.ErrorCode,
		ErrorMessage:   pkgerrors.PublicMessageFor(m.ErrorCode),
		CreatedAt:      m.CreatedAt,
	}
}

// RecordDTO is one synced upstream entity. Payload is the document as
// received.
type RecordDTO struct {
	ID              uuid.UUID          `json:"id"`
	Resource        enums.ResourceType `json:"resource"`
	ExternalID      string             `json:"external_id"`
	SourceUpdatedAt time.Time          `json:"source_updated_at"`
	UTMCampaign     *string            `json:"utm_campaign,omitempty"`
	OccurredOn      string             `json:"occurred_on,omitempty"`
	Amount          *decimal.Decimal   `json:"amount,omitempty"`
	Payload         json.RawMessage    `json:"payload"`
	LastSeenAt      time.Time          `json:"last_seen_at"`
}

func recordFromModel(m models.RawRecord) RecordDTO {
	dto := RecordDTO{
		ID:              m.ID,
		Resource:        m.Resource,
		ExternalID:      m.ExternalID,
		SourceUpdatedAt: m.SourceUpdatedAt,
		UTMCampaign:     m.UTMCampaign,
		Payload:         m.Payload.Data,
		LastSeenAt:      m.LastSeenAt,
	}
	if m.OccurredOn != nil {
		dto.OccurredOn = m.OccurredOn.UTC().Format(time.DateOnly)
	}
	if m.Resource == enums.ResourceOrders {
		amount := m.Amount
		dto.Amount = &amount
	}
	return dto
}

// OrderSummaryDTO aggregates a connection's orders. From and To are empty
// when that side of the range is open.
type OrderSummaryDTO struct {
	ConnectionID      uuid.UUID       `json:"connection_id"`
	From              string          `json:"from,omitempty"`
	To                string          `json:"to,omitempty"`
	TotalOrders       int64           `json:"total_orders"`
	PaidOrders        int64           `json:"paid_orders"`
	Revenue           decimal.Decimal `json:"revenue"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
}
