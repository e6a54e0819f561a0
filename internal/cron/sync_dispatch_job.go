package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/flable/flable-backend/pkg/db/models"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/logger"
)

// SyncDispatchJobName identifies the scheduled sync job.
const SyncDispatchJobName = "sync"

type syncRunner interface {
	ReapStuckRuns(ctx context.Context) (int64, error)
	DueConnections(ctx context.Context, limit int) ([]models.Connection, error)
	RunNow(ctx context.Context, connectionID uuid.UUID, trigger enums.SyncTrigger, mode enums.SyncMode) (*models.SyncRun, error)
}

// SyncDispatchJobParams configure the scheduled sync job.
type SyncDispatchJobParams struct {
	Logger      *logger.Logger
	Engine      syncRunner
	Concurrency int
}

type syncDispatchJob struct {
	logg        *logger.Logger
	engine      syncRunner
	concurrency int
}

// NewSyncDispatchJob builds the job that syncs every due connection, at most
// Concurrency at a time.
func NewSyncDispatchJob(params SyncDispatchJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("sync engine required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &syncDispatchJob{logg: params.Logger, engine: params.Engine, concurrency: concurrency}, nil
}

func (j *syncDispatchJob) Name() string { return SyncDispatchJobName }

func (j *syncDispatchJob) Run(ctx context.Context) error {
	var errs error
	reaped, err := j.engine.ReapStuckRuns(ctx)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("reap stuck runs: %w", err))
	}

	due, err := j.engine.DueConnections(ctx, 0)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("list due connections: %w", err))
	}

	results := make([]error, len(due))
	var g errgroup.Group
	g.SetLimit(j.concurrency)
	for i := range due {
		conn := due[i]
		g.Go(func() error {
			results[i] = j.syncOne(ctx, conn)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range results {
		if err != nil {
			failed++
			errs = multierr.Append(errs, err)
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"reaped_runs": reaped,
		"due":         len(due),
		"failed":      failed,
	}), "sync dispatch complete")
	return errs
}

// syncOne runs one connection. A run already in flight is not an error.
func (j *syncDispatchJob) syncOne(ctx context.Context, conn models.Connection) error {
	run, err := j.engine.RunNow(ctx, conn.ID, enums.SyncTriggerScheduled, enums.SyncModeIncremental)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConcurrencyConflict) {
			j.logg.Debug(j.logg.WithConnectionID(ctx, conn.ID.String()), "sync already in flight")
			return nil
		}
		return fmt.Errorf("connection %s: %w", conn.ID, err)
	}
	if run.Outcome != nil && *run.Outcome == enums.SyncOutcomeFailed {
		code := ""
		if run.ErrorCode != nil {
			code = *run.ErrorCode
		}
		return fmt.Errorf("connection %s: sync run %s failed with %s", conn.ID, run.ID, code)
	}
	return nil
}
