package enums

// RationaleCode explains why a budget changed.
type RationaleCode string

const (
	RationaleROASAboveTarget RationaleCode = "roas_above_target"
	RationaleROASBelowTarget RationaleCode = "roas_below_target"
	RationaleManual          RationaleCode = "manual"
)

func (r RationaleCode) String() string {
	return string(r)
}

// DecisionSource identifies the writer of an optimization decision.
type DecisionSource string

const (
	DecisionSourceOptimizer DecisionSource = "optimizer"
	DecisionSourceUser      DecisionSource = "user"
)

func (s DecisionSource) String() string {
	return string(s)
}

// EvaluationOutcome is the result of one scheduler pass over a campaign.
type EvaluationOutcome string

const (
	EvaluationApplied            EvaluationOutcome = "applied"
	EvaluationNoChange           EvaluationOutcome = "no_change"
	EvaluationInsufficientSample EvaluationOutcome = "insufficient_sample"
	EvaluationSkippedCooldown    EvaluationOutcome = "skipped_cooldown"
	EvaluationRejectedGuardrail  EvaluationOutcome = "rejected_guardrail"
	EvaluationFailed             EvaluationOutcome = "failed"
)

func (o EvaluationOutcome) String() string {
	return string(o)
}
