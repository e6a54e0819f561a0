package aggregator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/flable/flable-backend/pkg/db/dbtest"
	"github.com/flable/flable-backend/pkg/db/models"
	dbtypes "github.com/flable/flable-backend/pkg/db/types"
	"github.com/flable/flable-backend/pkg/enums"
)

type env struct {
	svc  *Service
	repo *Repository
	db   *gorm.DB
}

func newEnv(t *testing.T) *env {
	t.Helper()
	client := dbtest.New(t)
	repo := NewRepository(client.DB())
	svc, err := NewService(client, repo, nil)
	require.NoError(t, err)
	return &env{svc: svc, repo: repo, db: client.DB()}
}

func (e *env) connection(t *testing.T, accountID uuid.UUID, shop string) uuid.UUID {
	t.Helper()
	conn := &models.Connection{AccountID: accountID, Platform: enums.PlatformShopify, ShopDomain: shop, Status: enums.ConnectionStatusConnected}
	require.NoError(t, e.db.Create(conn).Error)
	return conn.ID
}

func (e *env) campaign(t *testing.T, accountID uuid.UUID, utm string) uuid.UUID {
	t.Helper()
	c := &models.Campaign{
		AccountID:   accountID,
		Name:        utm,
		UTMCampaign: utm,
		Status:      enums.CampaignStatusActive,
		DailyBudget: decimal.NewFromInt(100),
		MinBudget:   decimal.NewFromInt(10),
		MaxBudget:   decimal.NewFromInt(1000),
	}
	require.NoError(t, e.db.Create(c).Error)
	return c.ID
}

type rec struct {
	resource    enums.ResourceType
	id          string
	utm         string
	day         time.Time
	amount      string
	spend       string
	impressions int64
	clicks      int64
	conversions int64
	stale       bool
}

func (e *env) record(t *testing.T, connID uuid.UUID, r rec) {
	t.Helper()
	utm := r.utm
	day := r.day
	now := time.Now().UTC()
	row := &models.RawRecord{
		ConnectionID:    connID,
		Platform:        enums.PlatformShopify,
		Resource:        r.resource,
		ExternalID:      r.id,
		SourceUpdatedAt: now,
		Payload:         dbtypes.NewJSON(json.RawMessage(`{}`)),
		UTMCampaign:     &utm,
		OccurredOn:      &day,
		Amount:          decimal.RequireFromString(orZero(r.amount)),
		Spend:           decimal.RequireFromString(orZero(r.spend)),
		Impressions:     r.impressions,
		Clicks:          r.clicks,
		Conversions:     r.conversions,
		Stale:           r.stale,
		LastSeenAt:      now,
	}
	require.NoError(t, e.db.Create(row).Error)
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func TestRecomputeAttributesAndIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	accountID := uuid.New()
	connID := e.connection(t, accountID, "acme.myshopify.com")
	campaignID := e.campaign(t, accountID, "spring")
	day := Day(time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC))

	e.record(t, connID, rec{resource: enums.ResourceOrders, id: "o1", utm: "spring", day: day, amount: "100", conversions: 1})
	e.record(t, connID, rec{resource: enums.ResourceOrders, id: "o2", utm: "spring", day: day, amount: "150", conversions: 1})
	e.record(t, connID, rec{resource: enums.ResourceOrders, id: "o3", utm: "spring", day: day, amount: "999", conversions: 1, stale: true})
	e.record(t, connID, rec{resource: enums.ResourceOrders, id: "o4", utm: "summer", day: day, amount: "999", conversions: 1})
	e.record(t, connID, rec{resource: enums.ResourceMarketingEvents, id: "m1", utm: "spring", day: day, spend: "100", impressions: 1000, clicks: 50})

	otherConn := e.connection(t, uuid.New(), "acme.myshopify.com")
	e.record(t, otherConn, rec{resource: enums.ResourceOrders, id: "o1", utm: "spring", day: day, amount: "500", conversions: 1})

	keys := []Key{{CampaignID: campaignID, Day: day}}
	require.NoError(t, e.svc.Recompute(ctx, accountID, keys))
	require.NoError(t, e.svc.Recompute(ctx, accountID, keys))

	snaps, err := e.repo.ListSnapshots(ctx, campaignID, day, day)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	s := snaps[0]
	assert.EqualValues(t, 2, s.Conversions)
	assert.EqualValues(t, 1000, s.Impressions)
	assert.EqualValues(t, 50, s.Clicks)
	assert.True(t, s.Revenue.Equal(decimal.NewFromInt(250)), "revenue %s", s.Revenue)
	assert.True(t, s.Cost.Equal(decimal.NewFromInt(100)), "cost %s", s.Cost)
	assert.True(t, s.ROAS.Equal(decimal.RequireFromString("2.5")), "roas %s", s.ROAS)
	assert.True(t, s.CTR.Equal(decimal.RequireFromString("0.05")), "ctr %s", s.CTR)
	assert.True(t, s.CPC.Equal(decimal.NewFromInt(2)), "cpc %s", s.CPC)
	assert.True(t, s.CPA.Equal(decimal.NewFromInt(50)), "cpa %s", s.CPA)

	var count int64
	require.NoError(t, e.db.Model(&models.MetricSnapshot{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRecomputeZeroCostDay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	accountID := uuid.New()
	connID := e.connection(t, accountID, "acme.myshopify.com")
	campaignID := e.campaign(t, accountID, "organic")
	day := Day(time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC))
	e.record(t, connID, rec{resource: enums.ResourceOrders, id: "o1", utm: "organic", day: day, amount: "80", conversions: 1})

	require.NoError(t, e.svc.Recompute(ctx, accountID, []Key{{CampaignID: campaignID, Day: day}}))
	snaps, err := e.repo.ListSnapshots(ctx, campaignID, day, day)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].ROAS.IsZero())
	assert.True(t, snaps[0].CPA.IsZero())
	assert.True(t, snaps[0].Revenue.Equal(decimal.NewFromInt(80)))
}

func TestRecomputeReplacesChangedDay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	accountID := uuid.New()
	connID := e.connection(t, accountID, "acme.myshopify.com")
	campaignID := e.campaign(t, accountID, "spring")
	day := Day(time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC))
	key := []Key{{CampaignID: campaignID, Day: day}}

	e.record(t, connID, rec{resource: enums.ResourceOrders, id: "o1", utm: "spring", day: day, amount: "40", conversions: 1})
	require.NoError(t, e.svc.Recompute(ctx, accountID, key))

	e.record(t, connID, rec{resource: enums.ResourceOrders, id: "o2", utm: "spring", day: day, amount: "60", conversions: 1})
	require.NoError(t, e.svc.Recompute(ctx, accountID, key))

	snaps, err := e.repo.ListSnapshots(ctx, campaignID, day, day)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.EqualValues(t, 2, snaps[0].Conversions)
	assert.True(t, snaps[0].Revenue.Equal(decimal.NewFromInt(100)))
}

func TestKeysForTouchedAddsTodayForEveryCampaign(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	accountID := uuid.New()
	spring := e.campaign(t, accountID, "spring")
	summer := e.campaign(t, accountID, "summer")
	e.campaign(t, uuid.New(), "spring")

	today := time.Date(2026, 4, 15, 13, 0, 0, 0, time.UTC)
	touchedDay := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	keys, err := e.svc.KeysForTouched(ctx, accountID, []Touch{
		{UTMCampaign: "spring", Day: touchedDay},
		{UTMCampaign: "spring", Day: touchedDay},
		{UTMCampaign: "unknown", Day: touchedDay},
	}, today)
	require.NoError(t, err)

	got := map[Key]bool{}
	for _, k := range keys {
		got[k] = true
	}
	assert.Len(t, keys, 3)
	assert.True(t, got[Key{CampaignID: spring, Day: touchedDay}])
	assert.True(t, got[Key{CampaignID: spring, Day: Day(today)}])
	assert.True(t, got[Key{CampaignID: summer, Day: Day(today)}])
}
