package optimizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/flable/flable-backend/internal/aggregator"
	"github.com/flable/flable-backend/internal/decisions"
	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/db/dbtest"
	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type failingSnapshots struct {
	inner  snapshotReader
	failOn uuid.UUID
}

func (f failingSnapshots) ListSnapshots(ctx context.Context, campaignID uuid.UUID, from, to time.Time) ([]models.MetricSnapshot, error) {
	if campaignID == f.failOn {
		return nil, errors.New("snapshot read failed")
	}
	return f.inner.ListSnapshots(ctx, campaignID, from, to)
}

type env struct {
	db        *gorm.DB
	repo      *Repository
	decisions *decisions.Repository
	applier   *decisions.Service
	snapshots snapshotReader
}

func newEnv(t *testing.T) *env {
	t.Helper()
	client := dbtest.New(t)
	decisionRepo := decisions.NewRepository(client.DB())
	applier, err := decisions.NewService(client, decisionRepo, nil)
	require.NoError(t, err)
	return &env{
		db:        client.DB(),
		repo:      NewRepository(client.DB()),
		decisions: decisionRepo,
		applier:   applier,
		snapshots: aggregator.NewRepository(client.DB()),
	}
}

func (e *env) job(t *testing.T) *Job {
	t.Helper()
	job, err := NewJob(JobParams{
		Config: config.OptimizerConfig{
			WindowDays:     7,
			MinConversions: 10,
			UpperMargin:    0.10,
			LowerMargin:    0.10,
			StepUp:         0.20,
			StepDown:       0.20,
			Cooldown:       24 * time.Hour,
		},
		Repo:      e.repo,
		Snapshots: e.snapshots,
		History:   e.decisions,
		Applier:   e.applier,
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return job
}

func (e *env) campaign(t *testing.T, budget, maxBudget string, aiEnabled bool) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		AccountID:   uuid.New(),
		Name:        "Spring",
		UTMCampaign: "spring",
		Status:      enums.CampaignStatusActive,
		AIEnabled:   aiEnabled,
		DailyBudget: dec(budget),
		TargetROAS:  dec("2"),
		MinBudget:   dec("50"),
		MaxBudget:   dec(maxBudget),
	}
	require.NoError(t, e.db.Create(c).Error)
	return c
}

func (e *env) snapshot(t *testing.T, campaignID uuid.UUID, daysAgo int, cost, revenue string, conversions int64) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.MetricSnapshot{
		CampaignID:  campaignID,
		Day:         aggregator.Day(testNow).AddDate(0, 0, -daysAgo),
		Conversions: conversions,
		Cost:        dec(cost),
		Revenue:     dec(revenue),
		ROAS:        aggregator.Ratio(dec(revenue), dec(cost)),
		CTR:         decimal.Zero,
		CPC:         decimal.Zero,
		CPA:         decimal.Zero,
		ComputedAt:  testNow,
	}).Error)
}

func (e *env) evaluations(t *testing.T, campaignID uuid.UUID) []models.OptimizationEvaluation {
	t.Helper()
	var rows []models.OptimizationEvaluation
	require.NoError(t, e.db.Where("campaign_id = ?", campaignID).Find(&rows).Error)
	return rows
}

func (e *env) reload(t *testing.T, id uuid.UUID) models.Campaign {
	t.Helper()
	var c models.Campaign
	require.NoError(t, e.db.Where("id = ?", id).First(&c).Error)
	return c
}

func TestRunRaisesBudgetWhenROASAboveTarget(t *testing.T) {
	e := newEnv(t)
	c := e.campaign(t, "100", "500", true)
	e.snapshot(t, c.ID, 0, "40", "100", 6)
	e.snapshot(t, c.ID, 6, "60", "150", 6)
	// outside the seven day window
	e.snapshot(t, c.ID, 7, "1", "1000", 50)

	require.NoError(t, e.job(t).Run(context.Background()))

	assert.True(t, e.reload(t, c.ID).DailyBudget.Equal(dec("120")))
	evals := e.evaluations(t, c.ID)
	require.Len(t, evals, 1)
	assert.Equal(t, enums.EvaluationApplied, evals[0].Outcome)
	require.NotNil(t, evals[0].DecisionID)
	require.NotNil(t, evals[0].ProposedBudget)
	assert.True(t, evals[0].ProposedBudget.Equal(dec("120")))
	assert.True(t, evals[0].TriggerMetrics.Data.ROAS.Equal(dec("2.5")))
	assert.Equal(t, int64(12), evals[0].TriggerMetrics.Data.Conversions)
	assert.Equal(t, "2026-05-04", evals[0].TriggerMetrics.Data.From)

	var decision models.OptimizationDecision
	require.NoError(t, e.db.Where("id = ?", *evals[0].DecisionID).First(&decision).Error)
	assert.Equal(t, enums.DecisionSourceOptimizer, decision.Source)
	assert.Equal(t, enums.RationaleROASAboveTarget, decision.RationaleCode)
}

func TestRunRecordsGuardrailRejectionAtBound(t *testing.T) {
	e := newEnv(t)
	c := e.campaign(t, "500", "500", true)
	e.snapshot(t, c.ID, 1, "100", "400", 20)

	require.NoError(t, e.job(t).Run(context.Background()))

	assert.True(t, e.reload(t, c.ID).DailyBudget.Equal(dec("500")))
	evals := e.evaluations(t, c.ID)
	require.Len(t, evals, 1)
	assert.Equal(t, enums.EvaluationRejectedGuardrail, evals[0].Outcome)
	assert.Nil(t, evals[0].DecisionID)
	require.NotNil(t, evals[0].Detail)
	require.NotNil(t, evals[0].ErrorCode)
	assert.Equal(t, string(pkgerrors.CodeGuardrailViolation), *evals[0].ErrorCode)

	var n int64
	require.NoError(t, e.db.Model(&models.OptimizationDecision{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestRunRecordsGuardrailRejectionAtMinimum(t *testing.T) {
	e := newEnv(t)
	c := e.campaign(t, "100", "500", true)
	require.NoError(t, e.db.Model(&models.Campaign{}).Where("id = ?", c.ID).
		Updates(map[string]any{"min_budget": dec("20"), "daily_budget": dec("20")}).Error)
	e.snapshot(t, c.ID, 1, "100", "100", 20)

	require.NoError(t, e.job(t).Run(context.Background()))

	assert.True(t, e.reload(t, c.ID).DailyBudget.Equal(dec("20")))
	evals := e.evaluations(t, c.ID)
	require.Len(t, evals, 1)
	assert.Equal(t, enums.EvaluationRejectedGuardrail, evals[0].Outcome)
	require.NotNil(t, evals[0].ProposedBudget)
	assert.True(t, evals[0].ProposedBudget.Equal(dec("20")))
	require.NotNil(t, evals[0].ErrorCode)
	assert.Equal(t, string(pkgerrors.CodeGuardrailViolation), *evals[0].ErrorCode)
}

func TestSecondPassInsideCooldownIsSkipped(t *testing.T) {
	e := newEnv(t)
	c := e.campaign(t, "100", "500", true)
	e.snapshot(t, c.ID, 1, "100", "400", 20)
	job := e.job(t)

	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))

	assert.True(t, e.reload(t, c.ID).DailyBudget.Equal(dec("120")))
	var decisionsMade int64
	require.NoError(t, e.db.Model(&models.OptimizationDecision{}).Where("campaign_id = ?", c.ID).Count(&decisionsMade).Error)
	assert.EqualValues(t, 1, decisionsMade)

	var evals []models.OptimizationEvaluation
	require.NoError(t, e.db.Where("campaign_id = ?", c.ID).Order("outcome").Find(&evals).Error)
	require.Len(t, evals, 2)
	assert.Equal(t, enums.EvaluationApplied, evals[0].Outcome)
	assert.Equal(t, enums.EvaluationSkippedCooldown, evals[1].Outcome)
}

func TestRunSkipsCampaignInCooldown(t *testing.T) {
	e := newEnv(t)
	c := e.campaign(t, "100", "500", true)
	e.snapshot(t, c.ID, 1, "100", "400", 20)
	require.NoError(t, e.db.Create(&models.OptimizationDecision{
		CampaignID:     c.ID,
		PreviousBudget: dec("90"),
		NewBudget:      dec("100"),
		RationaleCode:  enums.RationaleManual,
		Source:         enums.DecisionSourceUser,
		CreatedAt:      testNow.Add(-time.Hour),
	}).Error)

	require.NoError(t, e.job(t).Run(context.Background()))

	assert.True(t, e.reload(t, c.ID).DailyBudget.Equal(dec("100")))
	evals := e.evaluations(t, c.ID)
	require.Len(t, evals, 1)
	assert.Equal(t, enums.EvaluationSkippedCooldown, evals[0].Outcome)
}

func TestRunHoldsOnSmallSample(t *testing.T) {
	e := newEnv(t)
	c := e.campaign(t, "100", "500", true)
	e.snapshot(t, c.ID, 1, "10", "400", 3)

	require.NoError(t, e.job(t).Run(context.Background()))

	evals := e.evaluations(t, c.ID)
	require.Len(t, evals, 1)
	assert.Equal(t, enums.EvaluationInsufficientSample, evals[0].Outcome)
	assert.Nil(t, evals[0].ProposedBudget)
}

func TestRunIgnoresCampaignsWithoutAutomation(t *testing.T) {
	e := newEnv(t)
	c := e.campaign(t, "100", "500", false)
	e.snapshot(t, c.ID, 1, "100", "400", 20)

	require.NoError(t, e.job(t).Run(context.Background()))
	assert.Empty(t, e.evaluations(t, c.ID))
	assert.True(t, e.reload(t, c.ID).DailyBudget.Equal(dec("100")))
}

func TestRunContinuesPastFailingCampaign(t *testing.T) {
	e := newEnv(t)
	broken := e.campaign(t, "100", "500", true)
	healthy := e.campaign(t, "100", "500", true)
	e.snapshot(t, healthy.ID, 1, "100", "400", 20)
	e.snapshots = failingSnapshots{inner: e.snapshots, failOn: broken.ID}

	err := e.job(t).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), broken.ID.String())

	failed := e.evaluations(t, broken.ID)
	require.Len(t, failed, 1)
	assert.Equal(t, enums.EvaluationFailed, failed[0].Outcome)
	assert.True(t, e.reload(t, healthy.ID).DailyBudget.Equal(dec("120")))
}
