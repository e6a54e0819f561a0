package optimizer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/flable/flable-backend/internal/aggregator"
	"github.com/flable/flable-backend/internal/decisions"
	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/db/models"
	dbtypes "github.com/flable/flable-backend/pkg/db/types"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/logger"
	"github.com/flable/flable-backend/pkg/metrics"
)

// JobName identifies the optimization cron job.
const JobName = "optimization"

const maxEvaluationDetail = 1000

type evaluationRepository interface {
	ListEligibleCampaigns(ctx context.Context) ([]models.Campaign, error)
	InsertEvaluation(ctx context.Context, evaluation *models.OptimizationEvaluation) error
}

type snapshotReader interface {
	ListSnapshots(ctx context.Context, campaignID uuid.UUID, from, to time.Time) ([]models.MetricSnapshot, error)
}

type decisionHistory interface {
	LatestDecisionAt(ctx context.Context, campaignID uuid.UUID) (*time.Time, error)
}

type budgetApplier interface {
	Apply(ctx context.Context, change decisions.Change) (*models.OptimizationDecision, error)
}

// JobParams configure the optimization job.
type JobParams struct {
	Config    config.OptimizerConfig
	Repo      evaluationRepository
	Snapshots snapshotReader
	History   decisionHistory
	Applier   budgetApplier
	Policy    Policy
	Metrics   *metrics.OptimizerMetrics
	Logger    *logger.Logger
	Now       func() time.Time
}

// Job evaluates every eligible campaign against its trailing metrics and
// applies the policy's proposals.
type Job struct {
	cfg       config.OptimizerConfig
	repo      evaluationRepository
	snapshots snapshotReader
	history   decisionHistory
	applier   budgetApplier
	policy    Policy
	metrics   *metrics.OptimizerMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewJob(params JobParams) (*Job, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("evaluation repository required")
	}
	if params.Snapshots == nil {
		return nil, fmt.Errorf("snapshot reader required")
	}
	if params.History == nil {
		return nil, fmt.Errorf("decision history required")
	}
	if params.Applier == nil {
		return nil, fmt.Errorf("budget applier required")
	}
	if params.Config.WindowDays <= 0 {
		return nil, fmt.Errorf("optimizer window must be positive")
	}
	policy := params.Policy
	if policy == nil {
		policy = NewThresholdPolicy(params.Config)
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Job{
		cfg:       params.Config,
		repo:      params.Repo,
		snapshots: params.Snapshots,
		history:   params.History,
		applier:   params.Applier,
		policy:    policy,
		metrics:   params.Metrics,
		logg:      logg,
		now:       now,
	}, nil
}

func (j *Job) Name() string { return JobName }

// Run evaluates each eligible campaign once. A failing campaign never stops
// the others; their errors are combined.
func (j *Job) Run(ctx context.Context) error {
	campaigns, err := j.repo.ListEligibleCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("list eligible campaigns: %w", err)
	}

	var errs error
	counts := map[enums.EvaluationOutcome]int{}
	for i := range campaigns {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		outcome, err := j.Evaluate(ctx, campaigns[i])
		counts[outcome]++
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("campaign %s: %w", campaigns[i].ID, err))
		}
	}

	fields := map[string]any{"campaigns": len(campaigns)}
	for outcome, n := range counts {
		fields[outcome.String()] = n
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "optimization pass complete")
	return errs
}

// Evaluate runs the policy for one campaign and records the evaluation.
func (j *Job) Evaluate(ctx context.Context, campaign models.Campaign) (enums.EvaluationOutcome, error) {
	ctx = j.logg.WithCampaignID(ctx, campaign.ID.String())
	evaluation := &models.OptimizationEvaluation{
		CampaignID:    campaign.ID,
		CurrentBudget: campaign.DailyBudget,
	}

	evalErr := j.evaluate(ctx, campaign, evaluation)
	if evalErr != nil {
		evaluation.Outcome = enums.EvaluationFailed
		recordFailure(evaluation, evalErr)
	}
	evaluation.CreatedAt = j.now().UTC()
	j.metrics.IncEvaluation(evaluation.Outcome.String())

	if err := j.repo.InsertEvaluation(ctx, evaluation); err != nil {
		evalErr = multierr.Append(evalErr, fmt.Errorf("record evaluation: %w", err))
	}
	if evalErr != nil {
		j.logg.Error(ctx, "campaign evaluation failed", evalErr)
	}
	return evaluation.Outcome, evalErr
}

func (j *Job) evaluate(ctx context.Context, campaign models.Campaign, evaluation *models.OptimizationEvaluation) error {
	trigger, totals, err := j.window(ctx, campaign)
	if err != nil {
		return err
	}
	evaluation.TriggerMetrics = dbtypes.NewJSON(trigger)

	proposal := j.policy.Propose(Input{
		CurrentBudget: campaign.DailyBudget,
		MinBudget:     campaign.MinBudget,
		MaxBudget:     campaign.MaxBudget,
		TargetROAS:    campaign.TargetROAS,
		ROAS:          trigger.ROAS,
		Conversions:   totals.Conversions,
	})
	if !proposal.Change {
		evaluation.Outcome = proposal.Outcome
		return nil
	}
	newBudget := proposal.NewBudget.Round(budgetPlaces)
	rationale := proposal.Rationale
	evaluation.ProposedBudget = &newBudget
	evaluation.RationaleCode = &rationale

	cooling, err := j.inCooldown(ctx, campaign.ID)
	if err != nil {
		return err
	}
	if cooling {
		evaluation.Outcome = enums.EvaluationSkippedCooldown
		return nil
	}

	if newBudget.Equal(campaign.DailyBudget) {
		j.reject(ctx, evaluation, decisions.CheckGuardrails(campaign, newBudget))
		return nil
	}

	decision, err := j.applier.Apply(ctx, decisions.Change{
		CampaignID: campaign.ID,
		NewBudget:  newBudget,
		Rationale:  rationale,
		Source:     enums.DecisionSourceOptimizer,
		Trigger:    trigger,
	})
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeGuardrailViolation):
		j.reject(ctx, evaluation, err)
		return nil
	case err != nil:
		return err
	}
	evaluation.Outcome = enums.EvaluationApplied
	evaluation.DecisionID = &decision.ID
	return nil
}

func (j *Job) reject(ctx context.Context, evaluation *models.OptimizationEvaluation, err error) {
	evaluation.Outcome = enums.EvaluationRejectedGuardrail
	if err == nil {
		return
	}
	recordFailure(evaluation, err)
	j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
		"error_code": pkgerrors.CodeOf(err),
		"proposed":   evaluation.ProposedBudget.String(),
		"reason":     *evaluation.Detail,
	}), "optimizer proposal rejected by guardrail")
}

// recordFailure keeps the operator detail and the public error code on the
// evaluation row.
func recordFailure(evaluation *models.OptimizationEvaluation, err error) {
	code := string(pkgerrors.CodeOf(err))
	detail := pkgerrors.OperatorDetail(err, maxEvaluationDetail)
	evaluation.ErrorCode = &code
	evaluation.Detail = &detail
}

func (j *Job) window(ctx context.Context, campaign models.Campaign) (models.TriggerMetrics, aggregator.Totals, error) {
	to := aggregator.Day(j.now())
	from := to.AddDate(0, 0, -(j.cfg.WindowDays - 1))
	snapshots, err := j.snapshots.ListSnapshots(ctx, campaign.ID, from, to)
	if err != nil {
		return models.TriggerMetrics{}, aggregator.Totals{}, fmt.Errorf("load snapshots: %w", err)
	}

	var totals aggregator.Totals
	for _, s := range snapshots {
		totals.Add(aggregator.Totals{
			Impressions: s.Impressions,
			Clicks:      s.Clicks,
			Conversions: s.Conversions,
			Cost:        s.Cost,
			Revenue:     s.Revenue,
		})
	}
	return models.TriggerMetrics{
		WindowDays:  j.cfg.WindowDays,
		From:        from.Format(time.DateOnly),
		To:          to.Format(time.DateOnly),
		ROAS:        aggregator.Ratio(totals.Revenue, totals.Cost),
		TargetROAS:  campaign.TargetROAS,
		Conversions: totals.Conversions,
		Cost:        totals.Cost,
		Revenue:     totals.Revenue,
	}, totals, nil
}

func (j *Job) inCooldown(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	if j.cfg.Cooldown <= 0 {
		return false, nil
	}
	last, err := j.history.LatestDecisionAt(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("load latest decision: %w", err)
	}
	if last == nil {
		return false, nil
	}
	return j.now().Sub(*last) < j.cfg.Cooldown, nil
}
