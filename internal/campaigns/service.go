package campaigns

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/flable/flable-backend/internal/decisions"
	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/logger"
)

type campaignRepository interface {
	FindForAccount(ctx context.Context, accountID, id uuid.UUID) (*models.Campaign, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Campaign, error)
}

type budgetApplier interface {
	Apply(ctx context.Context, change decisions.Change) (*models.OptimizationDecision, error)
}

// Service exposes campaign reads and explicit budget changes.
type Service struct {
	repo    campaignRepository
	applier budgetApplier
	logg    *logger.Logger
}

func NewService(repo campaignRepository, applier budgetApplier, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("campaign repository required")
	}
	if applier == nil {
		return nil, fmt.Errorf("budget applier required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{repo: repo, applier: applier, logg: logg}, nil
}

// Get returns one campaign of the account.
func (s *Service) Get(ctx context.Context, accountID, campaignID uuid.UUID) (*CampaignDTO, error) {
	campaign, err := s.load(ctx, accountID, campaignID)
	if err != nil {
		return nil, err
	}
	return FromModel(campaign), nil
}

// List returns every campaign of the account.
func (s *Service) List(ctx context.Context, accountID uuid.UUID) ([]CampaignDTO, error) {
	rows, err := s.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list campaigns")
	}
	out := make([]CampaignDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

// SetBudget applies a user-requested daily budget. The same guardrails as the
// optimizer apply.
func (s *Service) SetBudget(ctx context.Context, accountID, campaignID uuid.UUID, budget decimal.Decimal) (*DecisionDTO, error) {
	if !budget.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "daily_budget must be positive")
	}
	campaign, err := s.load(ctx, accountID, campaignID)
	if err != nil {
		return nil, err
	}

	decision, err := s.applier.Apply(ctx, decisions.Change{
		CampaignID: campaign.ID,
		NewBudget:  budget,
		Rationale:  enums.RationaleManual,
		Source:     enums.DecisionSourceUser,
		Trigger: models.TriggerMetrics{
			TargetROAS: campaign.TargetROAS,
		},
	})
	if err != nil {
		return nil, err
	}
	return DecisionFromModel(decision), nil
}

func (s *Service) load(ctx context.Context, accountID, campaignID uuid.UUID) (*models.Campaign, error) {
	campaign, err := s.repo.FindForAccount(ctx, accountID, campaignID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "campaign not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load campaign")
	}
	return campaign, nil
}
