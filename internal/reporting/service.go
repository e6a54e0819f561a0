package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flable/flable-backend/internal/aggregator"
	"github.com/flable/flable-backend/internal/campaigns"
	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/pagination"
)

const (
	defaultMetricsDays = 30
	maxMetricsDays     = 366
)

type readRepository interface {
	ConnectionOwned(ctx context.Context, accountID, connectionID uuid.UUID) (bool, error)
	CampaignOwned(ctx context.Context, accountID, campaignID uuid.UUID) (bool, error)
	ListSyncRuns(ctx context.Context, connectionID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.SyncRun, *pagination.Cursor, error)
	ListDecisions(ctx context.Context, campaignID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.OptimizationDecision, *pagination.Cursor, error)
	ListEvaluations(ctx context.Context, campaignID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.OptimizationEvaluation, *pagination.Cursor, error)
	ListSnapshots(ctx context.Context, campaignID uuid.UUID, from, to time.Time) ([]models.MetricSnapshot, error)
	ListRecords(ctx context.Context, connectionID uuid.UUID, resource enums.ResourceType, limit int, cursor *pagination.Cursor) ([]models.RawRecord, *pagination.Cursor, error)
	ListOrderAmounts(ctx context.Context, connectionID uuid.UUID, from, to *time.Time) ([]models.RawRecord, error)
}

// Service answers the account-scoped read queries of the dashboard.
type Service struct {
	repo readRepository
	now  func() time.Time
}

func NewService(repo readRepository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("reporting repository required")
	}
	return &Service{repo: repo, now: time.Now}, nil
}

// SyncRuns lists a connection's sync runs, newest first.
func (s *Service) SyncRuns(ctx context.Context, accountID, connectionID uuid.UUID, params pagination.Params) (*pagination.Page[SyncRunDTO], error) {
	if err := s.requireConnection(ctx, accountID, connectionID); err != nil {
		return nil, err
	}
	cursor, err := parseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	rows, next, err := s.repo.ListSyncRuns(ctx, connectionID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sync runs")
	}
	items := make([]SyncRunDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, syncRunFromModel(row))
	}
	return newPage(items, next), nil
}

// Decisions lists a campaign's budget decisions, newest first.
func (s *Service) Decisions(ctx context.Context, accountID, campaignID uuid.UUID, params pagination.Params) (*pagination.Page[campaigns.DecisionDTO], error) {
	if err := s.requireCampaign(ctx, accountID, campaignID); err != nil {
		return nil, err
	}
	cursor, err := parseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	rows, next, err := s.repo.ListDecisions(ctx, campaignID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list decisions")
	}
	items := make([]campaigns.DecisionDTO, 0, len(rows))
	for i := range rows {
		items = append(items, *campaigns.DecisionFromModel(&rows[i]))
	}
	return newPage(items, next), nil
}

// Evaluations lists a campaign's optimizer evaluations, newest first.
func (s *Service) Evaluations(ctx context.Context, accountID, campaignID uuid.UUID, params pagination.Params) (*pagination.Page[EvaluationDTO], error) {
	if err := s.requireCampaign(ctx, accountID, campaignID); err != nil {
		return nil, err
	}
	cursor, err := parseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	rows, next, err := s.repo.ListEvaluations(ctx, campaignID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list evaluations")
	}
	items := make([]EvaluationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, evaluationFromModel(row))
	}
	return newPage(items, next), nil
}

// Metrics returns the campaign's daily snapshots over [from, to]. A zero to
// means today and a zero from means thirty days before to.
func (s *Service) Metrics(ctx context.Context, accountID, campaignID uuid.UUID, from, to time.Time) (*MetricsReport, error) {
	if err := s.requireCampaign(ctx, accountID, campaignID); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now()
	}
	to = aggregator.Day(to)
	if from.IsZero() {
		from = to.AddDate(0, 0, -(defaultMetricsDays - 1))
	}
	from = aggregator.Day(from)
	if from.After(to) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must not be after to")
	}
	if to.Sub(from) >= maxMetricsDays*24*time.Hour {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("range must not exceed %d days", maxMetricsDays))
	}

	rows, err := s.repo.ListSnapshots(ctx, campaignID, from, to)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list snapshots")
	}

	report := &MetricsReport{
		CampaignID: campaignID,
		From:       from.Format(time.DateOnly),
		To:         to.Format(time.DateOnly),
		Days:       make([]DayMetricsDTO, 0, len(rows)),
	}
	var totals aggregator.Totals
	for _, row := range rows {
		day := aggregator.Totals{
			Impressions: row.Impressions,
			Clicks:      row.Clicks,
			Conversions: row.Conversions,
			Cost:        row.Cost,
			Revenue:     row.Revenue,
		}
		totals.Add(day)
		report.Days = append(report.Days, DayMetricsDTO{
			Day: aggregator.Day(row.Day).Format(time.DateOnly),
			MetricsDTO: MetricsDTO{
				Impressions: row.Impressions,
				Clicks:      row.Clicks,
				Conversions: row.Conversions,
				Cost:        row.Cost,
				Revenue:     row.Revenue,
				ROAS:        row.ROAS,
				CTR:         row.CTR,
				CPC:         row.CPC,
				CPA:         row.CPA,
			},
			ComputedAt: row.ComputedAt,
		})
	}
	report.Totals = metricsFromTotals(totals)
	return report, nil
}

// Records lists a connection's synced products or orders, most recently
// updated first. Records gone stale upstream are left out.
func (s *Service) Records(ctx context.Context, accountID, connectionID uuid.UUID, resource enums.ResourceType, params pagination.Params) (*pagination.Page[RecordDTO], error) {
	if resource != enums.ResourceProducts && resource != enums.ResourceOrders {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported resource").
			WithDetails(map[string]any{"resource": resource.String()})
	}
	if err := s.requireConnection(ctx, accountID, connectionID); err != nil {
		return nil, err
	}
	cursor, err := parseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	rows, next, err := s.repo.ListRecords(ctx, connectionID, resource, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list records")
	}
	items := make([]RecordDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, recordFromModel(row))
	}
	return newPage(items, next), nil
}

// OrderSummary totals a connection's live orders placed in [from, to]. A zero
// bound leaves that side of the range open. The average order value divides
// revenue by the orders that count as conversions, so voided and refunded
// orders are counted but do not dilute it.
func (s *Service) OrderSummary(ctx context.Context, accountID, connectionID uuid.UUID, from, to time.Time) (*OrderSummaryDTO, error) {
	if err := s.requireConnection(ctx, accountID, connectionID); err != nil {
		return nil, err
	}
	summary := &OrderSummaryDTO{ConnectionID: connectionID}
	var lo, hi *time.Time
	if !from.IsZero() {
		day := aggregator.Day(from)
		lo = &day
		summary.From = day.Format(time.DateOnly)
	}
	if !to.IsZero() {
		day := aggregator.Day(to)
		hi = &day
		summary.To = day.Format(time.DateOnly)
	}
	if lo != nil && hi != nil && lo.After(*hi) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must not be after to")
	}

	rows, err := s.repo.ListOrderAmounts(ctx, connectionID, lo, hi)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	var totals aggregator.Totals
	for _, row := range rows {
		totals.Add(aggregator.Totals{Conversions: row.Conversions, Revenue: row.Amount})
	}
	summary.TotalOrders = int64(len(rows))
	summary.PaidOrders = totals.Conversions
	summary.Revenue = totals.Revenue
	summary.AverageOrderValue = aggregator.Ratio(totals.Revenue, decimal.NewFromInt(totals.Conversions))
	return summary, nil
}

func metricsFromTotals(t aggregator.Totals) MetricsDTO {
	d := aggregator.Derive(t)
	return MetricsDTO{
		Impressions: t.Impressions,
		Clicks:      t.Clicks,
		Conversions: t.Conversions,
		Cost:        t.Cost,
		Revenue:     t.Revenue,
		ROAS:        d.ROAS,
		CTR:         d.CTR,
		CPC:         d.CPC,
		CPA:         d.CPA,
	}
}

func (s *Service) requireConnection(ctx context.Context, accountID, connectionID uuid.UUID) error {
	ok, err := s.repo.ConnectionOwned(ctx, accountID, connectionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load connection")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "connection not found")
	}
	return nil
}

func (s *Service) requireCampaign(ctx context.Context, accountID, campaignID uuid.UUID) error {
	ok, err := s.repo.CampaignOwned(ctx, accountID, campaignID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load campaign")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "campaign not found")
	}
	return nil
}

func parseCursor(value string) (*pagination.Cursor, error) {
	cursor, err := pagination.ParseCursor(value)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	return cursor, nil
}

func newPage[T any](items []T, next *pagination.Cursor) *pagination.Page[T] {
	page := &pagination.Page[T]{Items: items}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page
}
