// Package app assembles the service graph shared by the api and worker
// binaries.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flable/flable-backend/internal/aggregator"
	"github.com/flable/flable-backend/internal/campaigns"
	"github.com/flable/flable-backend/internal/connections"
	"github.com/flable/flable-backend/internal/decisions"
	"github.com/flable/flable-backend/internal/optimizer"
	"github.com/flable/flable-backend/internal/reporting"
	"github.com/flable/flable-backend/internal/syncengine"
	"github.com/flable/flable-backend/internal/vault"
	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/db"
	"github.com/flable/flable-backend/pkg/logger"
	"github.com/flable/flable-backend/pkg/metrics"
	"github.com/flable/flable-backend/pkg/redis"
	"github.com/flable/flable-backend/pkg/shopify"
)

// Stack holds the wired domain services.
type Stack struct {
	Shopify     *shopify.Client
	Vault       *vault.Vault
	Aggregator  *aggregator.Service
	Decisions   *decisions.Service
	Engine      *syncengine.Engine
	Connections *connections.Service
	Campaigns   *campaigns.Service
	Reporting   *reporting.Service

	dbClient *db.Client
	logg     *logger.Logger
}

// OpenDB connects to Postgres, or to SQLite when the dev flag is set.
func OpenDB(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*db.Client, error) {
	if cfg.FeatureFlags.UseSQLite {
		return db.NewSQLite(ctx, cfg.DB.DSN, logg)
	}
	return db.New(ctx, cfg.DB, logg)
}

// NewStack wires every service against dbClient and redisClient. Sync and
// upstream metrics are registered on reg when it is non-nil.
func NewStack(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Stack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("database client required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if logg == nil {
		logg = logger.Nop()
	}

	var (
		syncMetrics     *metrics.SyncMetrics
		upstreamMetrics *metrics.UpstreamMetrics
	)
	if reg != nil {
		syncMetrics = metrics.NewSyncMetrics(reg)
		upstreamMetrics = metrics.NewUpstreamMetrics(reg)
	}

	gdb := dbClient.DB()
	shopifyClient, err := shopify.NewClient(cfg.Shopify, shopify.Options{Metrics: upstreamMetrics, Logger: logg})
	if err != nil {
		return nil, fmt.Errorf("shopify client: %w", err)
	}

	tokenVault, err := vault.NewVault(cfg.Vault, vault.NewRepository(gdb), shopifyClient, redisClient, logg)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	aggregatorSvc, err := aggregator.NewService(dbClient, aggregator.NewRepository(gdb), logg)
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}

	decisionSvc, err := decisions.NewService(dbClient, decisions.NewRepository(gdb), logg)
	if err != nil {
		return nil, fmt.Errorf("decisions: %w", err)
	}

	engine, err := syncengine.NewEngine(cfg.Sync, syncengine.Deps{
		Tx:         dbClient,
		Repo:       syncengine.NewRepository(gdb),
		Tokens:     tokenVault,
		Platform:   shopifyClient,
		Aggregator: aggregatorSvc,
		Metrics:    syncMetrics,
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("sync engine: %w", err)
	}

	connectionSvc, err := connections.NewService(cfg.Shopify, connections.Deps{
		Repo:     connections.NewRepository(gdb),
		Platform: shopifyClient,
		States:   redisClient,
		Vault:    tokenVault,
		Syncer:   engine,
		Limiters: shopifyClient.Limiters(),
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("connections: %w", err)
	}

	campaignSvc, err := campaigns.NewService(campaigns.NewRepository(gdb), decisionSvc, logg)
	if err != nil {
		return nil, fmt.Errorf("campaigns: %w", err)
	}

	reportingSvc, err := reporting.NewService(reporting.NewRepository(gdb))
	if err != nil {
		return nil, fmt.Errorf("reporting: %w", err)
	}

	return &Stack{
		Shopify:     shopifyClient,
		Vault:       tokenVault,
		Aggregator:  aggregatorSvc,
		Decisions:   decisionSvc,
		Engine:      engine,
		Connections: connectionSvc,
		Campaigns:   campaignSvc,
		Reporting:   reportingSvc,
		dbClient:    dbClient,
		logg:        logg,
	}, nil
}

// OptimizationJob builds the scheduler job over the stack's services.
func (s *Stack) OptimizationJob(cfg config.OptimizerConfig, m *metrics.OptimizerMetrics) (*optimizer.Job, error) {
	gdb := s.dbClient.DB()
	return optimizer.NewJob(optimizer.JobParams{
		Config:    cfg,
		Repo:      optimizer.NewRepository(gdb),
		Snapshots: aggregator.NewRepository(gdb),
		History:   decisions.NewRepository(gdb),
		Applier:   s.Decisions,
		Policy:    optimizer.NewThresholdPolicy(cfg),
		Metrics:   m,
		Logger:    s.logg,
	})
}
