package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/flable/flable-backend/internal/app"
	"github.com/flable/flable-backend/internal/cron"
	"github.com/flable/flable-backend/internal/optimizer"
	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/instance"
	"github.com/flable/flable-backend/pkg/logger"
	"github.com/flable/flable-backend/pkg/metrics"
	"github.com/flable/flable-backend/pkg/migrate"
	"github.com/flable/flable-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := app.OpenDB(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stack, err := app.NewStack(cfg, logg, dbClient, redisClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	services, err := buildServices(cfg, logg, redisClient, stack)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron services", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.ID(),
	})
	logg.Info(ctx, "starting worker")

	group, gctx := errgroup.WithContext(ctx)
	for _, svc := range services {
		group.Go(func() error { return svc.Run(gctx) })
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	stack.Engine.Wait()
	logg.Info(ctx, "worker shutting down gracefully")
}

// buildServices returns the sync dispatcher and the optimizer, each on its
// own interval and Redis lock.
func buildServices(cfg *config.Config, logg *logger.Logger, redisClient *redis.Client, stack *app.Stack) ([]*cron.Service, error) {
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	syncJob, err := cron.NewSyncDispatchJob(cron.SyncDispatchJobParams{
		Logger:      logg,
		Engine:      stack.Engine,
		Concurrency: cfg.Sync.Concurrency,
	})
	if err != nil {
		return nil, err
	}
	syncService, err := newCronService(logg, redisClient, cronMetrics, cron.SyncDispatchJobName, cfg.Sync.Interval, syncJob)
	if err != nil {
		return nil, err
	}

	optimizationJob, err := stack.OptimizationJob(cfg.Optimizer, metrics.NewOptimizerMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		return nil, err
	}
	optimizerService, err := newCronService(logg, redisClient, cronMetrics, optimizer.JobName, cfg.Optimizer.Interval, optimizationJob)
	if err != nil {
		return nil, err
	}

	return []*cron.Service{syncService, optimizerService}, nil
}

func newCronService(logg *logger.Logger, redisClient *redis.Client, m *metrics.CronJobMetrics, name string, interval time.Duration, job cron.Job) (*cron.Service, error) {
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(name), 0)
	if err != nil {
		return nil, err
	}
	registry, err := cron.NewRegistry(job)
	if err != nil {
		return nil, err
	}
	return cron.NewService(cron.ServiceParams{
		Name:     name,
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
		Interval: interval,
	})
}
