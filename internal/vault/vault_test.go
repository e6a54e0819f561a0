package vault

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/db/dbtest"
	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/redis"
)

const testVaultKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

type fakeRefresher struct {
	calls int32
	delay time.Duration
	err   error
	next  *oauth2.Token
}

func (f *fakeRefresher) Refresh(ctx context.Context, shop, refreshToken string) (*oauth2.Token, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.next, nil
}

type fixture struct {
	vault     *Vault
	repo      *Repository
	refresher *fakeRefresher
	cache     *redis.Client
	mr        *miniredis.Miniredis
	conn      *models.Connection
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.New(t)
	repo := NewRepository(client.DB())

	conn := &models.Connection{
		AccountID:  uuid.New(),
		Platform:   enums.PlatformShopify,
		ShopDomain: "acme.myshopify.com",
		Status:     enums.ConnectionStatusConnected,
	}
	require.NoError(t, client.DB().Create(conn).Error)

	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	cache := redis.NewFromRaw(raw)

	refresher := &fakeRefresher{next: &oauth2.Token{
		AccessToken:  "shpat_fresh",
		RefreshToken: "shprt_fresh",
		Expiry:       time.Now().Add(time.Hour),
	}}
	v, err := NewVault(config.VaultConfig{
		EncryptionKey: testVaultKey,
		RefreshMargin: 5 * time.Minute,
		CacheEnabled:  true,
	}, repo, refresher, cache, nil)
	require.NoError(t, err)

	return &fixture{vault: v, repo: repo, refresher: refresher, cache: cache, mr: mr, conn: conn}
}

func TestStoreEncryptsAndReturnsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.vault.Store(ctx, f.conn.ID, Token{AccessToken: "shpat_secret", Scope: "read_orders"}))

	cred, err := f.repo.FindCredential(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(cred.AccessTokenCiphertext), "shpat_secret")
	assert.Nil(t, cred.ExpiresAt)

	cached, err := f.mr.Get(f.cache.TokenCacheKey(f.conn.ID.String()))
	require.NoError(t, err)
	assert.NotContains(t, cached, "shpat_secret")

	tok, err := f.vault.GetValidToken(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "shpat_secret", tok.AccessToken)
	assert.Equal(t, "read_orders", tok.Scope)
	assert.Zero(t, atomic.LoadInt32(&f.refresher.calls))
}

func TestGetValidTokenReadsThroughWithoutCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Store(ctx, f.conn.ID, Token{AccessToken: "shpat_secret"}))
	f.mr.FlushAll()

	tok, err := f.vault.GetValidToken(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "shpat_secret", tok.AccessToken)
	assert.True(t, f.mr.Exists(f.cache.TokenCacheKey(f.conn.ID.String())))
}

func TestGetValidTokenRefreshesInsideMargin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Store(ctx, f.conn.ID, Token{
		AccessToken:  "shpat_old",
		RefreshToken: "shprt_old",
		Expiry:       time.Now().Add(2 * time.Minute),
	}))

	tok, err := f.vault.GetValidToken(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "shpat_fresh", tok.AccessToken)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.refresher.calls))

	cred, err := f.repo.FindCredential(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cred.Version)

	again, err := f.vault.GetValidToken(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "shpat_fresh", again.AccessToken)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.refresher.calls))
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	f := newFixture(t)
	f.refresher.delay = 50 * time.Millisecond
	ctx := context.Background()
	require.NoError(t, f.vault.Store(ctx, f.conn.ID, Token{
		AccessToken:  "shpat_old",
		RefreshToken: "shprt_old",
		Expiry:       time.Now().Add(time.Minute),
	}))
	f.mr.FlushAll()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := f.vault.GetValidToken(ctx, f.conn.ID)
			if err == nil && tok.AccessToken != "shpat_fresh" {
				err = errors.New("unexpected token " + tok.AccessToken)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.refresher.calls))
}

func TestRefreshFailureMarksConnectionError(t *testing.T) {
	f := newFixture(t)
	f.refresher.err = errors.New("invalid_grant")
	ctx := context.Background()
	require.NoError(t, f.vault.Store(ctx, f.conn.ID, Token{
		AccessToken:  "shpat_old",
		RefreshToken: "shprt_old",
		Expiry:       time.Now().Add(time.Minute),
	}))

	_, err := f.vault.GetValidToken(ctx, f.conn.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAuth))

	conn, err := f.repo.FindConnection(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ConnectionStatusError, conn.Status)
	require.NotNil(t, conn.LastError)
	assert.True(t, strings.Contains(*conn.LastError, "refresh"))
	assert.False(t, f.mr.Exists(f.cache.TokenCacheKey(f.conn.ID.String())))
}

func TestTransientRefreshFailureKeepsConnection(t *testing.T) {
	f := newFixture(t)
	f.refresher.err = pkgerrors.New(pkgerrors.CodeTransientUpstream, "shopify oauth refresh failed")
	ctx := context.Background()
	require.NoError(t, f.vault.Store(ctx, f.conn.ID, Token{
		AccessToken:  "shpat_old",
		RefreshToken: "shprt_old",
		Expiry:       time.Now().Add(time.Minute),
	}))

	_, err := f.vault.GetValidToken(ctx, f.conn.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTransientUpstream), "got %v", err)

	conn, err := f.repo.FindConnection(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ConnectionStatusConnected, conn.Status)
	assert.Nil(t, conn.LastError)
}

func TestCancelledWaiterDoesNotFailSharedRefresh(t *testing.T) {
	f := newFixture(t)
	f.refresher.delay = 100 * time.Millisecond
	require.NoError(t, f.vault.Store(context.Background(), f.conn.ID, Token{
		AccessToken:  "shpat_old",
		RefreshToken: "shprt_old",
		Expiry:       time.Now().Add(time.Minute),
	}))
	f.mr.FlushAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	var wg sync.WaitGroup
	var shortErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, shortErr = f.vault.GetValidToken(ctx, f.conn.ID)
	}()
	time.Sleep(2 * time.Millisecond)

	tok, err := f.vault.GetValidToken(context.Background(), f.conn.ID)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, "shpat_fresh", tok.AccessToken)
	assert.True(t, pkgerrors.IsCode(shortErr, pkgerrors.CodeTimeout), "got %v", shortErr)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.refresher.calls))

	conn, err := f.repo.FindConnection(context.Background(), f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ConnectionStatusConnected, conn.Status)
}

func TestForceRefreshWithoutRefreshTokenIsAuthError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Store(ctx, f.conn.ID, Token{AccessToken: "shpat_offline"}))

	_, err := f.vault.ForceRefresh(ctx, f.conn.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAuth))
	assert.Zero(t, atomic.LoadInt32(&f.refresher.calls))
}

func TestForceRefreshIgnoresExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Store(ctx, f.conn.ID, Token{
		AccessToken:  "shpat_old",
		RefreshToken: "shprt_old",
		Expiry:       time.Now().Add(24 * time.Hour),
	}))

	tok, err := f.vault.ForceRefresh(ctx, f.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "shpat_fresh", tok.AccessToken)
	assert.Equal(t, "shprt_fresh", tok.RefreshToken)
}

func TestRevokeDeletesCredentialAndCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Store(ctx, f.conn.ID, Token{AccessToken: "shpat_secret"}))

	require.NoError(t, f.vault.Revoke(ctx, f.conn.ID))
	assert.False(t, f.mr.Exists(f.cache.TokenCacheKey(f.conn.ID.String())))

	_, err := f.vault.GetValidToken(ctx, f.conn.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAuth))
}

func TestTokenNeedsRefresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, Token{}.NeedsRefresh(now, 5*time.Minute))
	assert.True(t, Token{Expiry: now.Add(4 * time.Minute)}.NeedsRefresh(now, 5*time.Minute))
	assert.False(t, Token{Expiry: now.Add(6 * time.Minute)}.NeedsRefresh(now, 5*time.Minute))
}

func TestNewVaultValidatesDependencies(t *testing.T) {
	cfg := config.VaultConfig{EncryptionKey: testVaultKey}
	_, err := NewVault(cfg, nil, &fakeRefresher{}, nil, nil)
	assert.Error(t, err)
	_, err = NewVault(cfg, &Repository{}, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewVault(config.VaultConfig{EncryptionKey: "short"}, &Repository{}, &fakeRefresher{}, nil, nil)
	assert.Error(t, err)
}
