package optimizer

import (
	"github.com/shopspring/decimal"

	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/enums"
)

const budgetPlaces = 2

// Input is what a policy sees of one campaign.
type Input struct {
	CurrentBudget decimal.Decimal
	MinBudget     decimal.Decimal
	MaxBudget     decimal.Decimal
	TargetROAS    decimal.Decimal
	ROAS          decimal.Decimal
	Conversions   int64
}

// Proposal is a policy's verdict. When Change is false, Outcome says why.
type Proposal struct {
	Change    bool
	NewBudget decimal.Decimal
	Rationale enums.RationaleCode
	Outcome   enums.EvaluationOutcome
}

// Policy turns trailing performance into a budget proposal.
type Policy interface {
	Propose(in Input) Proposal
}

// ThresholdPolicy steps the budget up or down when trailing ROAS leaves the
// band around the campaign's target.
type ThresholdPolicy struct {
	MinConversions int64
	UpperMargin    decimal.Decimal
	LowerMargin    decimal.Decimal
	StepUp         decimal.Decimal
	StepDown       decimal.Decimal
}

func NewThresholdPolicy(cfg config.OptimizerConfig) ThresholdPolicy {
	return ThresholdPolicy{
		MinConversions: int64(cfg.MinConversions),
		UpperMargin:    decimal.NewFromFloat(cfg.UpperMargin),
		LowerMargin:    decimal.NewFromFloat(cfg.LowerMargin),
		StepUp:         decimal.NewFromFloat(cfg.StepUp),
		StepDown:       decimal.NewFromFloat(cfg.StepDown),
	}
}

func (p ThresholdPolicy) Propose(in Input) Proposal {
	if in.Conversions < p.MinConversions {
		return Proposal{Outcome: enums.EvaluationInsufficientSample}
	}
	if !in.TargetROAS.IsPositive() {
		return Proposal{Outcome: enums.EvaluationNoChange}
	}

	one := decimal.NewFromInt(1)
	upper := in.TargetROAS.Mul(one.Add(p.UpperMargin))
	lower := in.TargetROAS.Mul(one.Sub(p.LowerMargin))

	switch {
	case in.ROAS.GreaterThanOrEqual(upper):
		budget := in.CurrentBudget.Mul(one.Add(p.StepUp)).Round(budgetPlaces)
		return Proposal{
			Change:    true,
			NewBudget: decimal.Min(budget, in.MaxBudget),
			Rationale: enums.RationaleROASAboveTarget,
		}
	case in.ROAS.LessThanOrEqual(lower):
		budget := in.CurrentBudget.Mul(one.Sub(p.StepDown)).Round(budgetPlaces)
		return Proposal{
			Change:    true,
			NewBudget: decimal.Max(budget, in.MinBudget),
			Rationale: enums.RationaleROASBelowTarget,
		}
	}
	return Proposal{Outcome: enums.EvaluationNoChange}
}
