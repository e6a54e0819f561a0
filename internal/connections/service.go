package connections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/flable/flable-backend/internal/syncengine"
	"github.com/flable/flable-backend/internal/vault"
	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/db/models"
	dbtypes "github.com/flable/flable-backend/pkg/db/types"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/logger"
	"github.com/flable/flable-backend/pkg/redis"
	"github.com/flable/flable-backend/pkg/security"
	"github.com/flable/flable-backend/pkg/shopify"
)

const stateTokenBytes = 32

type connectionRepository interface {
	FindForAccount(ctx context.Context, accountID, id uuid.UUID) (*models.Connection, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Connection, error)
	UpsertConnected(ctx context.Context, in *models.Connection) (*models.Connection, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type platformClient interface {
	AuthorizeURL(shop, state string) string
	VerifyCallbackHMAC(params url.Values) bool
	Exchange(ctx context.Context, shop, code string) (*oauth2.Token, error)
	ShopInfo(ctx context.Context, shop shopify.Shop, token string) (shopify.ShopInfo, error)
}

type stateStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	GetDel(ctx context.Context, key string) (string, error)
	OAuthStateKey(state string) string
}

type credentialStore interface {
	Store(ctx context.Context, connectionID uuid.UUID, tok vault.Token) error
	Revoke(ctx context.Context, connectionID uuid.UUID) error
}

type syncTrigger interface {
	Trigger(ctx context.Context, connectionID uuid.UUID, trigger enums.SyncTrigger, mode enums.SyncMode) (syncengine.Started, error)
}

type limiterRegistry interface {
	Remove(key string)
}

// Service runs the two-phase OAuth connect flow and the connection lifecycle.
type Service struct {
	repo     connectionRepository
	platform platformClient
	states   stateStore
	vault    credentialStore
	syncer   syncTrigger
	limiters limiterRegistry
	stateTTL time.Duration
	logg     *logger.Logger
	now      func() time.Time
}

// Deps groups the collaborators of Service.
type Deps struct {
	Repo     connectionRepository
	Platform platformClient
	States   stateStore
	Vault    credentialStore
	Syncer   syncTrigger
	Limiters limiterRegistry
	Logger   *logger.Logger
}

func NewService(cfg config.ShopifyConfig, deps Deps) (*Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("connection repository required")
	}
	if deps.Platform == nil {
		return nil, fmt.Errorf("platform client required")
	}
	if deps.States == nil {
		return nil, fmt.Errorf("state store required")
	}
	if deps.Vault == nil {
		return nil, fmt.Errorf("credential store required")
	}
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		repo:     deps.Repo,
		platform: deps.Platform,
		states:   deps.States,
		vault:    deps.Vault,
		syncer:   deps.Syncer,
		limiters: deps.Limiters,
		stateTTL: ttl,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Initiate starts the OAuth flow for shop and returns the consent URL. The
// state token is single use and expires after the configured TTL.
func (s *Service) Initiate(ctx context.Context, accountID uuid.UUID, shop string) (*InitiateResult, error) {
	domain, err := shopify.NormalizeShopDomain(shop)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shop").
			WithDetails(map[string]any{"shop": shop})
	}
	state, err := security.RandomToken(stateTokenBytes)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate oauth state")
	}
	payload, err := json.Marshal(pendingAuthorization{AccountID: accountID, Shop: domain})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode oauth state")
	}
	if err := s.states.Set(ctx, s.states.OAuthStateKey(state), string(payload), s.stateTTL); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store oauth state")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"account_id": accountID.String(), "shop": domain}), "shopify connection initiated")
	return &InitiateResult{
		AuthorizationURL: s.platform.AuthorizeURL(domain, state),
		Shop:             domain,
		ExpiresAt:        s.now().Add(s.stateTTL).UTC(),
	}, nil
}

// Complete consumes an OAuth callback. It validates state and signature,
// exchanges the code, records the connection and its credential, and kicks
// off the initial sync.
func (s *Service) Complete(ctx context.Context, params url.Values) (*ConnectionDTO, error) {
	state := params.Get("state")
	if state == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "state is required")
	}
	raw, err := s.states.GetDel(ctx, s.states.OAuthStateKey(state))
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "oauth state is invalid or expired")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load oauth state")
	}
	var pending pendingAuthorization
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode oauth state")
	}

	if !s.platform.VerifyCallbackHMAC(params) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "callback signature mismatch")
	}
	shop, err := shopify.NormalizeShopDomain(params.Get("shop"))
	if err != nil || shop != pending.Shop {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "callback shop does not match the initiated shop")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"account_id": pending.AccountID.String(), "shop": shop})
	tok, err := s.platform.Exchange(ctx, shop, params.Get("code"))
	if err != nil {
		return nil, err
	}
	info, err := s.platform.ShopInfo(ctx, shopify.Shop{Domain: shop}, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	return s.link(ctx, pending.AccountID, shop, info, vault.FromOAuth(tok, shopify.TokenScope(tok)), enums.SyncTriggerOAuthCallback)
}

// ConnectToken links a shop through a private-app access token. The token is
// checked against the shop profile before anything is stored.
func (s *Service) ConnectToken(ctx context.Context, accountID uuid.UUID, shop, accessToken string) (*ConnectionDTO, error) {
	domain, err := shopify.NormalizeShopDomain(shop)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shop").
			WithDetails(map[string]any{"shop": shop})
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "access token is required")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"account_id": accountID.String(), "shop": domain})
	info, err := s.platform.ShopInfo(ctx, shopify.Shop{Domain: domain}, accessToken)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeAuth) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "access token was rejected by the shop")
		}
		return nil, err
	}
	return s.link(ctx, accountID, domain, info, vault.Token{AccessToken: accessToken, TokenType: "bearer"}, enums.SyncTriggerManual)
}

// link records the connection and its credential, then starts the initial
// full sync.
func (s *Service) link(ctx context.Context, accountID uuid.UUID, shop string, info shopify.ShopInfo, tok vault.Token, trigger enums.SyncTrigger) (*ConnectionDTO, error) {
	conn, err := s.repo.UpsertConnected(ctx, &models.Connection{
		AccountID:      accountID,
		Platform:       enums.PlatformShopify,
		ShopDomain:     shop,
		ExternalShopID: info.ID,
		Scopes:         tok.Scope,
		Metadata: dbtypes.NewJSON(models.ShopMetadata{
			Name:     info.Name,
			Email:    info.Email,
			Currency: info.Currency,
			Timezone: info.Timezone,
			Plan:     info.Plan,
		}),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save connection")
	}
	if err := s.vault.Store(ctx, conn.ID, tok); err != nil {
		return nil, err
	}

	ctx = s.logg.WithConnectionID(ctx, conn.ID.String())
	s.logg.Info(s.logg.WithField(ctx, "trigger", trigger.String()), "shopify connection linked")
	s.triggerInitialSync(ctx, conn.ID, trigger)
	return FromModel(conn), nil
}

func (s *Service) triggerInitialSync(ctx context.Context, connectionID uuid.UUID, trigger enums.SyncTrigger) {
	if s.syncer == nil {
		return
	}
	started, err := s.syncer.Trigger(ctx, connectionID, trigger, enums.SyncModeFull)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "initial sync not started")
		return
	}
	s.logg.Info(s.logg.WithSyncRunID(ctx, started.RunID.String()), "initial sync started")
}

// Disconnect revokes the credential and deletes the connection.
func (s *Service) Disconnect(ctx context.Context, accountID, connectionID uuid.UUID) error {
	if _, err := s.Get(ctx, accountID, connectionID); err != nil {
		return err
	}
	if err := s.vault.Revoke(ctx, connectionID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, connectionID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete connection")
	}
	if s.limiters != nil {
		s.limiters.Remove(connectionID.String())
	}
	s.logg.Info(s.logg.WithConnectionID(ctx, connectionID.String()), "connection disconnected")
	return nil
}

// Get returns one connection of the account.
func (s *Service) Get(ctx context.Context, accountID, connectionID uuid.UUID) (*ConnectionDTO, error) {
	conn, err := s.repo.FindForAccount(ctx, accountID, connectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "connection not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load connection")
	}
	return FromModel(conn), nil
}

// List returns every connection of the account.
func (s *Service) List(ctx context.Context, accountID uuid.UUID) ([]ConnectionDTO, error) {
	conns, err := s.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list connections")
	}
	out := make([]ConnectionDTO, 0, len(conns))
	for i := range conns {
		out = append(out, *FromModel(&conns[i]))
	}
	return out, nil
}
