package decisions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/flable/flable-backend/pkg/db/models"
	dbtypes "github.com/flable/flable-backend/pkg/db/types"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/logger"
)

// budgetPlaces is the scale of stored budgets.
const budgetPlaces = 2

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type decisionRepository interface {
	LockCampaignWithTx(tx *gorm.DB, id uuid.UUID) (*models.Campaign, error)
	UpdateBudgetWithTx(tx *gorm.DB, id uuid.UUID, budget decimal.Decimal, at time.Time) error
	InsertDecisionWithTx(tx *gorm.DB, decision *models.OptimizationDecision) error
}

// Change is a requested budget update.
type Change struct {
	CampaignID uuid.UUID
	NewBudget  decimal.Decimal
	Rationale  enums.RationaleCode
	Source     enums.DecisionSource
	Trigger    models.TriggerMetrics
}

// Service applies budget changes atomically with their audit record.
type Service struct {
	tx   txRunner
	repo decisionRepository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(tx txRunner, repo decisionRepository, logg *logger.Logger) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("decision repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{tx: tx, repo: repo, logg: logg, now: time.Now}, nil
}

// Apply locks the campaign, checks the guardrails and, when they hold, writes
// the new budget and the decision in one transaction. A guardrail violation
// leaves every row untouched.
func (s *Service) Apply(ctx context.Context, change Change) (*models.OptimizationDecision, error) {
	if change.Rationale == "" || change.Source == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rationale and source are required")
	}
	newBudget := change.NewBudget.Round(budgetPlaces)
	ctx = s.logg.WithCampaignID(ctx, change.CampaignID.String())

	var decision *models.OptimizationDecision
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		campaign, err := s.repo.LockCampaignWithTx(tx, change.CampaignID)
		if err != nil {
			return err
		}
		if err := CheckGuardrails(*campaign, newBudget); err != nil {
			return err
		}

		now := s.now().UTC()
		if err := s.repo.UpdateBudgetWithTx(tx, campaign.ID, newBudget, now); err != nil {
			return err
		}
		decision = &models.OptimizationDecision{
			CampaignID:     campaign.ID,
			PreviousBudget: campaign.DailyBudget,
			NewBudget:      newBudget,
			TriggerMetrics: dbtypes.NewJSON(change.Trigger),
			RationaleCode:  change.Rationale,
			Source:         change.Source,
			CreatedAt:      now,
		}
		return s.repo.InsertDecisionWithTx(tx, decision)
	})
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "campaign not found")
		case pkgerrors.IsCode(err, pkgerrors.CodeGuardrailViolation):
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"new_budget": newBudget.String(),
				"source":     change.Source,
				"reason":     err.Error(),
			}), "budget change rejected by guardrail")
			return nil, err
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply budget change")
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"previous_budget": decision.PreviousBudget.String(),
		"new_budget":      decision.NewBudget.String(),
		"rationale":       decision.RationaleCode,
		"source":          decision.Source,
	}), "campaign budget changed")
	return decision, nil
}

// CheckGuardrails reports whether newBudget may replace the campaign's
// current budget.
func CheckGuardrails(campaign models.Campaign, newBudget decimal.Decimal) error {
	details := map[string]any{
		"current_budget": campaign.DailyBudget.String(),
		"new_budget":     newBudget.String(),
		"min_budget":     campaign.MinBudget.String(),
		"max_budget":     campaign.MaxBudget.String(),
	}
	switch {
	case campaign.Status != enums.CampaignStatusActive:
		details["status"] = campaign.Status
		return pkgerrors.New(pkgerrors.CodeGuardrailViolation, "campaign is not active").WithDetails(details)
	case newBudget.LessThan(campaign.MinBudget):
		return pkgerrors.New(pkgerrors.CodeGuardrailViolation, "budget below campaign minimum").WithDetails(details)
	case newBudget.GreaterThan(campaign.MaxBudget):
		return pkgerrors.New(pkgerrors.CodeGuardrailViolation, "budget above campaign maximum").WithDetails(details)
	case newBudget.Equal(campaign.DailyBudget):
		return pkgerrors.New(pkgerrors.CodeGuardrailViolation, "budget unchanged").WithDetails(details)
	}
	return nil
}
