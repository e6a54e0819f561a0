package optimizer

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/enums"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func defaultPolicy() ThresholdPolicy {
	return NewThresholdPolicy(config.OptimizerConfig{
		MinConversions: 10,
		UpperMargin:    0.10,
		LowerMargin:    0.10,
		StepUp:         0.20,
		StepDown:       0.20,
	})
}

func TestThresholdPolicy(t *testing.T) {
	base := Input{
		CurrentBudget: dec("100"),
		MinBudget:     dec("50"),
		MaxBudget:     dec("500"),
		TargetROAS:    dec("2"),
		Conversions:   12,
	}
	tests := []struct {
		name      string
		mutate    func(in *Input)
		change    bool
		budget    string
		rationale enums.RationaleCode
		outcome   enums.EvaluationOutcome
	}{
		{name: "above band", mutate: func(in *Input) { in.ROAS = dec("2.5") }, change: true, budget: "120", rationale: enums.RationaleROASAboveTarget},
		{name: "upper edge", mutate: func(in *Input) { in.ROAS = dec("2.2") }, change: true, budget: "120", rationale: enums.RationaleROASAboveTarget},
		{name: "below band", mutate: func(in *Input) { in.ROAS = dec("1.5") }, change: true, budget: "80", rationale: enums.RationaleROASBelowTarget},
		{name: "lower edge", mutate: func(in *Input) { in.ROAS = dec("1.8") }, change: true, budget: "80", rationale: enums.RationaleROASBelowTarget},
		{name: "inside band", mutate: func(in *Input) { in.ROAS = dec("2.1") }, outcome: enums.EvaluationNoChange},
		{name: "capped at max", mutate: func(in *Input) { in.ROAS = dec("4"); in.CurrentBudget = dec("450") }, change: true, budget: "500", rationale: enums.RationaleROASAboveTarget},
		{name: "floored at min", mutate: func(in *Input) { in.ROAS = dec("0.5"); in.CurrentBudget = dec("55") }, change: true, budget: "50", rationale: enums.RationaleROASBelowTarget},
		{name: "small sample", mutate: func(in *Input) { in.ROAS = dec("9"); in.Conversions = 9 }, outcome: enums.EvaluationInsufficientSample},
		{name: "no target", mutate: func(in *Input) { in.ROAS = dec("9"); in.TargetROAS = decimal.Zero }, outcome: enums.EvaluationNoChange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			got := defaultPolicy().Propose(in)
			if got.Change != tt.change {
				t.Fatalf("expected change=%v, got %+v", tt.change, got)
			}
			if !tt.change {
				if got.Outcome != tt.outcome {
					t.Fatalf("expected outcome %s, got %s", tt.outcome, got.Outcome)
				}
				return
			}
			if !got.NewBudget.Equal(dec(tt.budget)) || got.Rationale != tt.rationale {
				t.Fatalf("expected %s/%s, got %s/%s", tt.budget, tt.rationale, got.NewBudget, got.Rationale)
			}
		})
	}
}
