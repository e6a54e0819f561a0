package connections

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/flable/flable-backend/internal/syncengine"
	"github.com/flable/flable-backend/internal/vault"
	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/db/dbtest"
	"github.com/flable/flable-backend/pkg/db/models"
	dbtypes "github.com/flable/flable-backend/pkg/db/types"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/redis"
	"github.com/flable/flable-backend/pkg/shopify"
)

type fakePlatform struct {
	validHMAC bool
	exchanged []string
	rejected  string
}

func (f *fakePlatform) AuthorizeURL(shop, state string) string {
	return "https://" + shop + "/admin/oauth/authorize?state=" + state
}

func (f *fakePlatform) VerifyCallbackHMAC(url.Values) bool { return f.validHMAC }

func (f *fakePlatform) Exchange(_ context.Context, shop, code string) (*oauth2.Token, error) {
	f.exchanged = append(f.exchanged, code)
	tok := &oauth2.Token{AccessToken: "shpat_" + code}
	return tok.WithExtra(map[string]any{"scope": "read_orders"}), nil
}

func (f *fakePlatform) ShopInfo(_ context.Context, _ shopify.Shop, token string) (shopify.ShopInfo, error) {
	if f.rejected != "" && token == f.rejected {
		return shopify.ShopInfo{}, pkgerrors.New(pkgerrors.CodeAuth, "shopify rejected the access token")
	}
	return shopify.ShopInfo{ID: "42", Name: "Acme", Currency: "USD", Timezone: "UTC"}, nil
}

type fakeVault struct {
	stored  map[uuid.UUID]vault.Token
	revoked []uuid.UUID
}

func (f *fakeVault) Store(_ context.Context, id uuid.UUID, tok vault.Token) error {
	f.stored[id] = tok
	return nil
}

func (f *fakeVault) Revoke(_ context.Context, id uuid.UUID) error {
	f.revoked = append(f.revoked, id)
	return nil
}

type fakeSyncer struct {
	triggers []enums.SyncTrigger
}

func (f *fakeSyncer) Trigger(_ context.Context, _ uuid.UUID, trigger enums.SyncTrigger, mode enums.SyncMode) (syncengine.Started, error) {
	f.triggers = append(f.triggers, trigger)
	return syncengine.Started{RunID: uuid.New(), Mode: mode}, nil
}

type fakeLimiters struct{ removed []string }

func (f *fakeLimiters) Remove(key string) { f.removed = append(f.removed, key) }

type fixture struct {
	svc      *Service
	db       *gorm.DB
	mr       *miniredis.Miniredis
	states   *redis.Client
	platform *fakePlatform
	vault    *fakeVault
	syncer   *fakeSyncer
	limiters *fakeLimiters
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.New(t)
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })

	f := &fixture{
		db:       client.DB(),
		mr:       mr,
		states:   redis.NewFromRaw(raw),
		platform: &fakePlatform{validHMAC: true},
		vault:    &fakeVault{stored: map[uuid.UUID]vault.Token{}},
		syncer:   &fakeSyncer{},
		limiters: &fakeLimiters{},
	}
	svc, err := NewService(config.ShopifyConfig{StateTTL: 10 * time.Minute}, Deps{
		Repo:     NewRepository(client.DB()),
		Platform: f.platform,
		States:   f.states,
		Vault:    f.vault,
		Syncer:   f.syncer,
		Limiters: f.limiters,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func stateFromURL(t *testing.T, raw string) string {
	t.Helper()
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	return parsed.Query().Get("state")
}

func callback(state, shop, code string) url.Values {
	return url.Values{
		"state":     {state},
		"shop":      {shop},
		"code":      {code},
		"hmac":      {"deadbeef"},
		"timestamp": {"1700000000"},
	}
}

func TestInitiateStoresStateWithTTL(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	res, err := f.svc.Initiate(context.Background(), accountID, "Acme")
	require.NoError(t, err)
	assert.Equal(t, "acme.myshopify.com", res.Shop)

	state := stateFromURL(t, res.AuthorizationURL)
	require.NotEmpty(t, state)
	key := f.states.OAuthStateKey(state)
	assert.Equal(t, 10*time.Minute, f.mr.TTL(key))

	stored, err := f.mr.Get(key)
	require.NoError(t, err)
	var pending pendingAuthorization
	require.NoError(t, json.Unmarshal([]byte(stored), &pending))
	assert.Equal(t, accountID, pending.AccountID)
}

func TestInitiateRejectsInvalidShop(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Initiate(context.Background(), uuid.New(), "evil.com")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCompleteCreatesConnectionAndTriggersSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := uuid.New()

	res, err := f.svc.Initiate(ctx, accountID, "acme")
	require.NoError(t, err)
	state := stateFromURL(t, res.AuthorizationURL)

	conn, err := f.svc.Complete(ctx, callback(state, "acme.myshopify.com", "code1"))
	require.NoError(t, err)
	assert.Equal(t, enums.ConnectionStatusConnected, conn.Status)
	assert.Equal(t, "Acme", conn.ShopName)
	assert.Equal(t, "read_orders", conn.Scopes)
	assert.Equal(t, "shpat_code1", f.vault.stored[conn.ID].AccessToken)
	assert.Equal(t, []enums.SyncTrigger{enums.SyncTriggerOAuthCallback}, f.syncer.triggers)

	_, err = f.svc.Complete(ctx, callback(state, "acme.myshopify.com", "code1"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), "state must be single use")
}

func TestConnectTokenValidatesAndStoresCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := uuid.New()

	conn, err := f.svc.ConnectToken(ctx, accountID, "Acme", " shpat_private ")
	require.NoError(t, err)
	assert.Equal(t, "acme.myshopify.com", conn.ShopDomain)
	assert.Equal(t, enums.ConnectionStatusConnected, conn.Status)
	assert.Equal(t, "Acme", conn.ShopName)
	assert.Equal(t, "shpat_private", f.vault.stored[conn.ID].AccessToken)
	assert.False(t, f.vault.stored[conn.ID].Expires())
	assert.Empty(t, f.platform.exchanged, "no oauth exchange for private tokens")
	assert.Equal(t, []enums.SyncTrigger{enums.SyncTriggerManual}, f.syncer.triggers)
}

func TestConnectTokenRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	f.platform.rejected = "shpat_revoked"
	ctx := context.Background()

	_, err := f.svc.ConnectToken(ctx, uuid.New(), "evil.com", "shpat_x")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.ConnectToken(ctx, uuid.New(), "acme", "  ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.ConnectToken(ctx, uuid.New(), "acme", "shpat_revoked")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	var count int64
	require.NoError(t, f.db.Model(&models.Connection{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, f.vault.stored)
	assert.Empty(t, f.syncer.triggers)
}

func TestCompleteRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.platform.validHMAC = false
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, uuid.New(), "acme")
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, callback(stateFromURL(t, res.AuthorizationURL), "acme.myshopify.com", "code1"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	assert.Empty(t, f.platform.exchanged)

	var count int64
	require.NoError(t, f.db.Model(&models.Connection{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCompleteRejectsShopMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, uuid.New(), "acme")
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, callback(stateFromURL(t, res.AuthorizationURL), "other.myshopify.com", "code1"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestCompleteReauthorizesExistingConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := uuid.New()

	res, err := f.svc.Initiate(ctx, accountID, "acme")
	require.NoError(t, err)
	first, err := f.svc.Complete(ctx, callback(stateFromURL(t, res.AuthorizationURL), "acme.myshopify.com", "code1"))
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Connection{}).Where("id = ?", first.ID).
		Updates(map[string]any{"status": enums.ConnectionStatusError, "consecutive_failures": 5}).Error)

	res, err = f.svc.Initiate(ctx, accountID, "acme")
	require.NoError(t, err)
	second, err := f.svc.Complete(ctx, callback(stateFromURL(t, res.AuthorizationURL), "acme.myshopify.com", "code2"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, enums.ConnectionStatusConnected, second.Status)
	assert.Zero(t, second.ConsecutiveFailures)
	assert.Equal(t, "shpat_code2", f.vault.stored[first.ID].AccessToken)
}

func TestDisconnectRevokesAndCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := uuid.New()

	res, err := f.svc.Initiate(ctx, accountID, "acme")
	require.NoError(t, err)
	conn, err := f.svc.Complete(ctx, callback(stateFromURL(t, res.AuthorizationURL), "acme.myshopify.com", "code1"))
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, f.db.Create(&models.RawRecord{
		ConnectionID:    conn.ID,
		Platform:        enums.PlatformShopify,
		Resource:        enums.ResourceOrders,
		ExternalID:      "1",
		SourceUpdatedAt: now,
		Payload:         dbtypes.NewJSON(json.RawMessage(`{"id":1}`)),
		LastSeenAt:      now,
	}).Error)
	require.NoError(t, f.db.Create(&models.SyncRun{
		ConnectionID: conn.ID,
		AccountID:    accountID,
		Mode:         enums.SyncModeFull,
		Trigger:      enums.SyncTriggerManual,
		Phase:        enums.SyncPhaseSuccess,
		StartedAt:    now,
	}).Error)

	_, err = f.svc.Get(ctx, uuid.New(), conn.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "other accounts must not see the connection")
	assert.True(t, pkgerrors.IsCode(f.svc.Disconnect(ctx, uuid.New(), conn.ID), pkgerrors.CodeNotFound))

	require.NoError(t, f.svc.Disconnect(ctx, accountID, conn.ID))
	assert.Equal(t, []uuid.UUID{conn.ID}, f.vault.revoked)
	assert.Equal(t, []string{conn.ID.String()}, f.limiters.removed)

	var records, runs int64
	require.NoError(t, f.db.Model(&models.RawRecord{}).Count(&records).Error)
	require.NoError(t, f.db.Model(&models.SyncRun{}).Count(&runs).Error)
	assert.Zero(t, records)
	assert.EqualValues(t, 1, runs)

	list, err := f.svc.List(ctx, accountID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFromModelExposesOnlyPublicError(t *testing.T) {
	detail := `AUTH_ERROR: refresh access token: oauth2: "invalid_grant" "token revoked for shop acme"`
	code := string(pkgerrors.CodeAuth)
	dto := FromModel(&models.Connection{
		ID:            uuid.New(),
		Status:        enums.ConnectionStatusError,
		LastError:     &detail,
		LastErrorCode: &code,
	})
	require.NotNil(t, dto.LastErrorMessage)
	assert.Equal(t, "store authorization is no longer valid", *dto.LastErrorMessage)
	assert.Equal(t, code, *dto.LastErrorCode)

	body, err := json.Marshal(dto)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "invalid_grant")
}
