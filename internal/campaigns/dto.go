package campaigns

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
)

// CampaignDTO is the API view of a campaign's budget configuration.
type CampaignDTO struct {
	ID                 uuid.UUID            `json:"id"`
	ConnectionID       *uuid.UUID           `json:"connection_id,omitempty"`
	Name               string               `json:"name"`
	UTMCampaign        string               `json:"utm_campaign"`
	Status             enums.CampaignStatus `json:"status"`
	AIEnabled          bool                 `json:"ai_enabled"`
	DailyBudget        decimal.Decimal      `json:"daily_budget"`
	TargetROAS         decimal.Decimal      `json:"target_roas"`
	TargetCPA          decimal.Decimal      `json:"target_cpa"`
	MinBudget          decimal.Decimal      `json:"min_budget"`
	MaxBudget          decimal.Decimal      `json:"max_budget"`
	LastBudgetChangeAt *time.Time           `json:"last_budget_change_at,omitempty"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

func FromModel(m *models.Campaign) *CampaignDTO {
	if m == nil {
		return nil
	}
	return &CampaignDTO{
		ID:                 m.ID,
		ConnectionID:       m.ConnectionID,
		Name:               m.Name,
		UTMCampaign:        m.UTMCampaign,
		Status:             m.Status,
		AIEnabled:          m.AIEnabled,
		DailyBudget:        m.DailyBudget,
		TargetROAS:         m.TargetROAS,
		TargetCPA:          m.TargetCPA,
		MinBudget:          m.MinBudget,
		MaxBudget:          m.MaxBudget,
		LastBudgetChangeAt: m.LastBudgetChangeAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// DecisionDTO is the API view of an applied budget change.
type DecisionDTO struct {
	ID             uuid.UUID             `json:"id"`
	CampaignID     uuid.UUID             `json:"campaign_id"`
	PreviousBudget decimal.Decimal       `json:"previous_budget"`
	NewBudget      decimal.Decimal       `json:"new_budget"`
	RationaleCode  enums.RationaleCode   `json:"rationale_code"`
	Source         enums.DecisionSource  `json:"source"`
	TriggerMetrics models.TriggerMetrics `json:"trigger_metrics"`
	CreatedAt      time.Time             `json:"created_at"`
}

func DecisionFromModel(m *models.OptimizationDecision) *DecisionDTO {
	if m == nil {
		return nil
	}
	return &DecisionDTO{
		ID:             m.ID,
		CampaignID:     m.CampaignID,
		PreviousBudget: m.PreviousBudget,
		NewBudget:      m.NewBudget,
		RationaleCode:  m.RationaleCode,
		Source:         m.Source,
		TriggerMetrics: m.TriggerMetrics.Data,
		CreatedAt:      m.CreatedAt,
	}
}
