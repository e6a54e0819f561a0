package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type snapshotRepository interface {
	ListCampaigns(ctx context.Context, accountID uuid.UUID, utms []string) ([]models.Campaign, error)
	FindCampaignsWithTx(tx *gorm.DB, accountID uuid.UUID, ids []uuid.UUID) ([]models.Campaign, error)
	AttributedRecordsWithTx(tx *gorm.DB, accountID uuid.UUID, utm string, days []time.Time) ([]models.RawRecord, error)
	UpsertSnapshotsWithTx(tx *gorm.DB, snapshots []models.MetricSnapshot) error
}

// Service derives per-campaign daily snapshots from synced raw records.
type Service struct {
	tx   txRunner
	repo snapshotRepository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(tx txRunner, repo snapshotRepository, logg *logger.Logger) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("snapshot repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{tx: tx, repo: repo, logg: logg, now: time.Now}, nil
}

// KeysForTouched maps touched attribution buckets onto the campaigns that
// own them, and adds today for every campaign of the account.
func (s *Service) KeysForTouched(ctx context.Context, accountID uuid.UUID, touched []Touch, today time.Time) ([]Key, error) {
	campaigns, err := s.repo.ListCampaigns(ctx, accountID, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list campaigns")
	}
	byUTM := make(map[string][]uuid.UUID, len(campaigns))
	keys := make([]Key, 0, len(campaigns)+len(touched))
	for _, c := range campaigns {
		byUTM[c.UTMCampaign] = append(byUTM[c.UTMCampaign], c.ID)
		keys = append(keys, Key{CampaignID: c.ID, Day: today})
	}
	for _, t := range touched {
		for _, id := range byUTM[t.UTMCampaign] {
			keys = append(keys, Key{CampaignID: id, Day: t.Day})
		}
	}
	return dedupeKeys(keys), nil
}

// RefreshTouched recomputes every snapshot affected by a sync.
func (s *Service) RefreshTouched(ctx context.Context, accountID uuid.UUID, touched []Touch, today time.Time) error {
	keys, err := s.KeysForTouched(ctx, accountID, touched, today)
	if err != nil {
		return err
	}
	return s.Recompute(ctx, accountID, keys)
}

// Recompute rebuilds the snapshots for keys in a single transaction. Each
// snapshot is summed from scratch, so repeating a call is a no-op.
func (s *Service) Recompute(ctx context.Context, accountID uuid.UUID, keys []Key) error {
	keys = dedupeKeys(keys)
	if len(keys) == 0 {
		return nil
	}

	daysByCampaign := make(map[uuid.UUID][]time.Time)
	var ids []uuid.UUID
	for _, k := range keys {
		if _, ok := daysByCampaign[k.CampaignID]; !ok {
			ids = append(ids, k.CampaignID)
		}
		daysByCampaign[k.CampaignID] = append(daysByCampaign[k.CampaignID], k.Day)
	}

	computedAt := s.now().UTC()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		campaigns, err := s.repo.FindCampaignsWithTx(tx, accountID, ids)
		if err != nil {
			return err
		}
		var snapshots []models.MetricSnapshot
		for _, c := range campaigns {
			days := daysByCampaign[c.ID]
			records, err := s.repo.AttributedRecordsWithTx(tx, accountID, c.UTMCampaign, days)
			if err != nil {
				return err
			}
			totals := sumByDay(records)
			for _, day := range days {
				snapshots = append(snapshots, snapshotFor(c.ID, day, totals[day], computedAt))
			}
		}
		return s.repo.UpsertSnapshotsWithTx(tx, snapshots)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recompute metric snapshots")
	}
	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"account_id": accountID.String(),
		"keys":       len(keys),
	}), "metric snapshots recomputed")
	return nil
}

// sumByDay folds records into per-day totals. Orders contribute conversions
// and revenue; marketing events contribute reach and spend.
func sumByDay(records []models.RawRecord) map[time.Time]Totals {
	out := make(map[time.Time]Totals)
	for _, rec := range records {
		if rec.OccurredOn == nil {
			continue
		}
		day := Day(*rec.OccurredOn)
		t := out[day]
		switch rec.Resource {
		case enums.ResourceOrders:
			t.Conversions += rec.Conversions
			t.Revenue = t.Revenue.Add(rec.Amount)
		case enums.ResourceMarketingEvents:
			t.Impressions += rec.Impressions
			t.Clicks += rec.Clicks
			t.Cost = t.Cost.Add(rec.Spend)
		}
		out[day] = t
	}
	return out
}

func snapshotFor(campaignID uuid.UUID, day time.Time, t Totals, computedAt time.Time) models.MetricSnapshot {
	d := Derive(t)
	return models.MetricSnapshot{
		CampaignID:  campaignID,
		Day:         Day(day),
		Impressions: t.Impressions,
		Clicks:      t.Clicks,
		Conversions: t.Conversions,
		Cost:        t.Cost,
		Revenue:     t.Revenue,
		ROAS:        d.ROAS,
		CTR:         d.CTR,
		CPC:         d.CPC,
		CPA:         d.CPA,
		ComputedAt:  computedAt,
	}
}
