package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/db/models"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/logger"
	"github.com/flable/flable-backend/pkg/redis"
	"github.com/flable/flable-backend/pkg/security"
)

const (
	// noExpiryCacheTTL bounds how long a non-expiring token stays cached.
	noExpiryCacheTTL = time.Hour
	refreshTimeout   = 30 * time.Second
)

type credentialRepository interface {
	FindCredential(ctx context.Context, connectionID uuid.UUID) (*models.ConnectionCredential, error)
	SaveCredential(ctx context.Context, cred *models.ConnectionCredential) error
	DeleteCredential(ctx context.Context, connectionID uuid.UUID) error
	FindConnection(ctx context.Context, connectionID uuid.UUID) (*models.Connection, error)
	MarkConnectionError(ctx context.Context, connectionID uuid.UUID, reason string) error
}

type tokenRefresher interface {
	Refresh(ctx context.Context, shop, refreshToken string) (*oauth2.Token, error)
}

type tokenCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	TokenCacheKey(connectionID string) string
}

// Vault stores OAuth credentials encrypted at rest and hands out tokens that
// are valid for at least the refresh margin.
type Vault struct {
	repo      credentialRepository
	refresher tokenRefresher
	cache     tokenCache
	sealer    *security.Sealer
	margin    time.Duration
	logg      *logger.Logger
	now       func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewVault wires a vault. cache may be nil to disable the Redis read-through.
func NewVault(cfg config.VaultConfig, repo credentialRepository, refresher tokenRefresher, cache tokenCache, logg *logger.Logger) (*Vault, error) {
	if repo == nil {
		return nil, fmt.Errorf("credential repository required")
	}
	if refresher == nil {
		return nil, fmt.Errorf("token refresher required")
	}
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	sealer, err := security.NewSealer(key)
	if err != nil {
		return nil, err
	}
	if !cfg.CacheEnabled {
		cache = nil
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Vault{
		repo:      repo,
		refresher: refresher,
		cache:     cache,
		sealer:    sealer,
		margin:    cfg.RefreshMargin,
		logg:      logg,
		now:       time.Now,
		locks:     make(map[uuid.UUID]*sync.Mutex),
	}, nil
}

// Store encrypts and persists tok for a connection, replacing any previous one.
func (v *Vault) Store(ctx context.Context, connectionID uuid.UUID, tok Token) error {
	if tok.AccessToken == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "access token is required")
	}
	aad := []byte(connectionID.String())
	access, err := v.sealer.Seal([]byte(tok.AccessToken), aad)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt access token")
	}
	refresh, err := v.sealer.Seal([]byte(tok.RefreshToken), aad)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt refresh token")
	}

	cred := &models.ConnectionCredential{
		ConnectionID:           connectionID,
		AccessTokenCiphertext:  access,
		RefreshTokenCiphertext: refresh,
		TokenType:              tok.TokenType,
		Scope:                  tok.Scope,
	}
	if tok.Expires() {
		expiry := tok.Expiry.UTC()
		cred.ExpiresAt = &expiry
	}
	if err := v.repo.SaveCredential(ctx, cred); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store credential")
	}
	v.cacheToken(ctx, connectionID, tok)
	return nil
}

// GetValidToken returns a token with at least the refresh margin left,
// refreshing it first when needed.
func (v *Vault) GetValidToken(ctx context.Context, connectionID uuid.UUID) (Token, error) {
	if tok, ok := v.cachedToken(ctx, connectionID); ok && !tok.NeedsRefresh(v.now(), v.margin) {
		return tok, nil
	}
	tok, err := v.load(ctx, connectionID)
	if err != nil {
		return Token{}, err
	}
	if !tok.NeedsRefresh(v.now(), v.margin) {
		v.cacheToken(ctx, connectionID, tok)
		return tok, nil
	}
	return v.refresh(ctx, connectionID, false)
}

// ForceRefresh refreshes regardless of expiry. Used after the platform
// rejected a token that looked valid.
func (v *Vault) ForceRefresh(ctx context.Context, connectionID uuid.UUID) (Token, error) {
	return v.refresh(ctx, connectionID, true)
}

// Revoke deletes the stored credential and its cache entry.
func (v *Vault) Revoke(ctx context.Context, connectionID uuid.UUID) error {
	if err := v.repo.DeleteCredential(ctx, connectionID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete credential")
	}
	v.evict(ctx, connectionID)
	return nil
}

// refresh collapses concurrent refreshes of one connection onto a single
// upstream call. Inside the flight the per-connection mutex is held while the
// stored token is re-read, so a caller arriving just after another refresh
// finished reuses the new token instead of refreshing again.
//
// The flight runs on its own bounded context: one waiter giving up must not
// fail the others. A waiter whose ctx ends stops waiting.
func (v *Vault) refresh(ctx context.Context, connectionID uuid.UUID, force bool) (Token, error) {
	flight := v.group.DoChan(connectionID.String(), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		lock := v.lockFor(connectionID)
		lock.Lock()
		defer lock.Unlock()

		current, err := v.load(ctx, connectionID)
		if err != nil {
			return Token{}, err
		}
		if !force && !current.NeedsRefresh(v.now(), v.margin) {
			return current, nil
		}
		if current.RefreshToken == "" {
			return Token{}, v.failRefresh(ctx, connectionID, pkgerrors.New(pkgerrors.CodeAuth, "token cannot be refreshed"))
		}

		conn, err := v.repo.FindConnection(ctx, connectionID)
		if err != nil {
			return Token{}, notFoundOr(err, "load connection")
		}
		fresh, err := v.refresher.Refresh(ctx, conn.ShopDomain, current.RefreshToken)
		if err != nil {
			return Token{}, v.failRefresh(ctx, connectionID, err)
		}

		next := FromOAuth(fresh, current.Scope)
		if next.RefreshToken == "" {
			next.RefreshToken = current.RefreshToken
		}
		if next.TokenType == "" {
			next.TokenType = current.TokenType
		}
		if err := v.Store(ctx, connectionID, next); err != nil {
			return Token{}, err
		}
		v.logg.Info(v.logg.WithConnectionID(ctx, connectionID.String()), "credential refreshed")
		return next, nil
	})

	select {
	case res := <-flight:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Token{}, pkgerrors.Wrap(pkgerrors.CodeTimeout, ctx.Err(), "wait for credential refresh")
		}
		return Token{}, pkgerrors.Wrap(pkgerrors.CodeInternal, ctx.Err(), "wait for credential refresh")
	}
}

// failRefresh marks the connection as needing re-authorization when the
// platform rejected the credential. Timeouts, cancellation and transient
// upstream failures keep their own code and leave the connection alone, so
// the next cycle retries.
func (v *Vault) failRefresh(ctx context.Context, connectionID uuid.UUID, cause error) error {
	ctx = v.logg.WithConnectionID(ctx, connectionID.String())
	if !credentialRejected(cause) {
		v.logg.Warn(v.logg.WithField(ctx, "error_code", pkgerrors.CodeOf(cause)), "credential refresh interrupted")
		return pkgerrors.Wrap(pkgerrors.CodeOf(cause), cause, "credential refresh failed")
	}
	if markErr := v.repo.MarkConnectionError(ctx, connectionID, "credential refresh failed"); markErr != nil {
		v.logg.Error(ctx, "failed to mark connection error", markErr)
	}
	v.evict(ctx, connectionID)
	v.logg.Warn(ctx, "credential refresh failed")
	if pkgerrors.IsCode(cause, pkgerrors.CodeAuth) {
		return cause
	}
	return pkgerrors.Wrap(pkgerrors.CodeAuth, cause, "credential refresh failed")
}

func credentialRejected(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if pkgerrors.As(err) == nil {
		return true
	}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeTimeout, pkgerrors.CodeTransientUpstream:
		return false
	default:
		return true
	}
}

func (v *Vault) lockFor(connectionID uuid.UUID) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.locks[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		v.locks[connectionID] = lock
	}
	return lock
}

func (v *Vault) load(ctx context.Context, connectionID uuid.UUID) (Token, error) {
	cred, err := v.repo.FindCredential(ctx, connectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Token{}, pkgerrors.New(pkgerrors.CodeAuth, "no credential stored for connection")
		}
		return Token{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credential")
	}
	aad := []byte(connectionID.String())
	access, err := v.sealer.Open(cred.AccessTokenCiphertext, aad)
	if err != nil {
		return Token{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decrypt access token")
	}
	refresh, err := v.sealer.Open(cred.RefreshTokenCiphertext, aad)
	if err != nil {
		return Token{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decrypt refresh token")
	}
	tok := Token{
		AccessToken:  string(access),
		RefreshToken: string(refresh),
		TokenType:    cred.TokenType,
		Scope:        cred.Scope,
	}
	if cred.ExpiresAt != nil {
		tok.Expiry = cred.ExpiresAt.UTC()
	}
	return tok, nil
}

func (v *Vault) cachedToken(ctx context.Context, connectionID uuid.UUID) (Token, bool) {
	if v.cache == nil {
		return Token{}, false
	}
	raw, err := v.cache.Get(ctx, v.cache.TokenCacheKey(connectionID.String()))
	if err != nil {
		if !errors.Is(err, redis.ErrNotFound) {
			v.logg.Warn(v.logg.WithField(ctx, "error", err.Error()), "token cache read failed")
		}
		return Token{}, false
	}
	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Token{}, false
	}
	plain, err := v.sealer.Open(sealed, []byte(connectionID.String()))
	if err != nil {
		return Token{}, false
	}
	var tok Token
	if err := json.Unmarshal(plain, &tok); err != nil || tok.AccessToken == "" {
		return Token{}, false
	}
	return tok, true
}

// cacheToken writes tok until the moment it enters the refresh margin.
func (v *Vault) cacheToken(ctx context.Context, connectionID uuid.UUID, tok Token) {
	if v.cache == nil {
		return
	}
	ttl := noExpiryCacheTTL
	if tok.Expires() {
		ttl = tok.Expiry.Sub(v.now()) - v.margin
	}
	if ttl <= 0 {
		return
	}
	plain, err := json.Marshal(tok)
	if err != nil {
		return
	}
	sealed, err := v.sealer.Seal(plain, []byte(connectionID.String()))
	if err != nil {
		return
	}
	key := v.cache.TokenCacheKey(connectionID.String())
	if err := v.cache.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed), ttl); err != nil {
		v.logg.Warn(v.logg.WithField(ctx, "error", err.Error()), "token cache write failed")
	}
}

func (v *Vault) evict(ctx context.Context, connectionID uuid.UUID) {
	if v.cache == nil {
		return
	}
	if err := v.cache.Del(ctx, v.cache.TokenCacheKey(connectionID.String())); err != nil {
		v.logg.Warn(v.logg.WithField(ctx, "error", err.Error()), "token cache evict failed")
	}
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, op)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
