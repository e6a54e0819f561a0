package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flable/flable-backend/internal/aggregator"
	"github.com/flable/flable-backend/internal/vault"
	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/db"
	"github.com/flable/flable-backend/pkg/db/models"
	dbtypes "github.com/flable/flable-backend/pkg/db/types"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/logger"
	"github.com/flable/flable-backend/pkg/metrics"
	"github.com/flable/flable-backend/pkg/shopify"
)

const (
	maxErrorDetail  = 1000
	finalizeTimeout = 30 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type runRepository interface {
	FindConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	FindRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error)
	CreateRun(ctx context.Context, run *models.SyncRun) error
	UpdateRunPhase(ctx context.Context, runID uuid.UUID, phase enums.SyncPhase) error
	FinalizeRunWithTx(tx *gorm.DB, run *models.SyncRun) error
	FinalizeStuck(ctx context.Context, cutoff, now time.Time, code, detail string) (int64, error)
	ListDueConnections(ctx context.Context, cutoff time.Time, limit int) ([]models.Connection, error)
	UpdateConnectionWithTx(tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	LoadCheckpoint(ctx context.Context, connectionID uuid.UUID, resource enums.ResourceType) (*models.SyncCheckpoint, error)
	SaveCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error
	SaveCheckpointWithTx(tx *gorm.DB, cp *models.SyncCheckpoint) error
	ExistingRecordsWithTx(tx *gorm.DB, connectionID uuid.UUID, resource enums.ResourceType, externalIDs []string) ([]models.RawRecord, error)
	UpsertRecordsWithTx(tx *gorm.DB, rows []models.RawRecord) error
	MarkSeenWithTx(tx *gorm.DB, connectionID uuid.UUID, resource enums.ResourceType, externalIDs []string, seenAt time.Time) error
	MarkStaleWithTx(tx *gorm.DB, connectionID uuid.UUID, resource enums.ResourceType, before time.Time) ([]models.RawRecord, error)
}

type tokenProvider interface {
	GetValidToken(ctx context.Context, connectionID uuid.UUID) (vault.Token, error)
	ForceRefresh(ctx context.Context, connectionID uuid.UUID) (vault.Token, error)
}

type pageFetcher interface {
	FetchPage(ctx context.Context, shop shopify.Shop, token string, req shopify.PageRequest) (shopify.Page, error)
}

type snapshotRefresher interface {
	RefreshTouched(ctx context.Context, accountID uuid.UUID, touched []aggregator.Touch, today time.Time) error
}

// Deps carries the collaborators of an Engine. Aggregator and Metrics are
// optional.
type Deps struct {
	Tx         txRunner
	Repo       runRepository
	Tokens     tokenProvider
	Platform   pageFetcher
	Aggregator snapshotRefresher
	Metrics    *metrics.SyncMetrics
	Logger     *logger.Logger
}

// Engine runs resumable, idempotent syncs of a connection's upstream data.
type Engine struct {
	cfg        config.SyncConfig
	tx         txRunner
	repo       runRepository
	tokens     tokenProvider
	platform   pageFetcher
	aggregator snapshotRefresher
	metrics    *metrics.SyncMetrics
	logg       *logger.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

func NewEngine(cfg config.SyncConfig, deps Deps) (*Engine, error) {
	if deps.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if deps.Repo == nil {
		return nil, fmt.Errorf("sync repository required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token provider required")
	}
	if deps.Platform == nil {
		return nil, fmt.Errorf("platform client required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("sync batch size must be positive")
	}
	if cfg.MaxDuration <= 0 {
		return nil, fmt.Errorf("sync max duration must be positive")
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Engine{
		cfg:        cfg,
		tx:         deps.Tx,
		repo:       deps.Repo,
		tokens:     deps.Tokens,
		platform:   deps.Platform,
		aggregator: deps.Aggregator,
		metrics:    deps.Metrics,
		logg:       logg,
		now:        time.Now,
	}, nil
}

// Started identifies a run accepted by Trigger. Mode is the mode the run
// actually uses, which repeated failures may have escalated to full.
type Started struct {
	RunID uuid.UUID      `json:"sync_run_id"`
	Mode  enums.SyncMode `json:"mode"`
}

// Trigger starts a run in the background. The run outlives ctx's
// cancellation; use Wait to drain in-flight runs on shutdown.
func (e *Engine) Trigger(ctx context.Context, connectionID uuid.UUID, trigger enums.SyncTrigger, mode enums.SyncMode) (Started, error) {
	run, conn, err := e.start(ctx, connectionID, trigger, mode)
	if err != nil {
		return Started{}, err
	}
	started := Started{RunID: run.ID, Mode: run.Mode}
	bg := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(bg, run, conn)
	}()
	return started, nil
}

// RunNow executes a run synchronously and returns its terminal row.
func (e *Engine) RunNow(ctx context.Context, connectionID uuid.UUID, trigger enums.SyncTrigger, mode enums.SyncMode) (*models.SyncRun, error) {
	run, conn, err := e.start(ctx, connectionID, trigger, mode)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, run, conn), nil
}

// Wait blocks until every background run has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// DueConnections lists the connections whose last successful sync is older
// than the configured interval.
func (e *Engine) DueConnections(ctx context.Context, limit int) ([]models.Connection, error) {
	conns, err := e.repo.ListDueConnections(ctx, e.now().UTC().Add(-e.cfg.Interval), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due connections")
	}
	return conns, nil
}

// ReapStuckRuns fails runs that stayed in flight past twice the run budget,
// freeing their connections for a new run.
func (e *Engine) ReapStuckRuns(ctx context.Context) (int64, error) {
	now := e.now().UTC()
	n, err := e.repo.FinalizeStuck(ctx, now.Add(-2*e.cfg.MaxDuration), now,
		string(pkgerrors.CodeTimeout), "run abandoned before reaching a terminal phase")
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize stuck runs")
	}
	if n > 0 {
		e.logg.Warn(e.logg.WithField(ctx, "runs", n), "stuck sync runs finalized")
	}
	return n, nil
}

func (e *Engine) start(ctx context.Context, connectionID uuid.UUID, trigger enums.SyncTrigger, mode enums.SyncMode) (*models.SyncRun, *models.Connection, error) {
	conn, err := e.repo.FindConnection(ctx, connectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "connection not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load connection")
	}
	if !conn.Status.Syncable() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "connection is not syncable").
			WithDetails(map[string]any{"status": conn.Status})
	}
	if mode == "" {
		mode = enums.SyncModeIncremental
	}
	if e.cfg.FullResyncAfter > 0 && conn.ConsecutiveFailures >= e.cfg.FullResyncAfter {
		mode = enums.SyncModeFull
	}

	inFlight := conn.ID
	run := &models.SyncRun{
		ConnectionID: conn.ID,
		AccountID:    conn.AccountID,
		Mode:         mode,
		Trigger:      trigger,
		Phase:        enums.SyncPhaseStarted,
		InFlightKey:  &inFlight,
		Counts:       dbtypes.NewJSON(models.SyncCounts{}),
		StartedAt:    e.now().UTC(),
	}
	if err := e.repo.CreateRun(ctx, run); err != nil {
		if db.IsUniqueViolation(err, "in_flight_key") {
			return nil, nil, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "a sync is already running for this connection")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sync run")
	}
	return run, conn, nil
}

// runState is the in-memory progress of one run.
type runState struct {
	run          *models.SyncRun
	conn         *models.Connection
	shop         shopify.Shop
	phase        enums.SyncPhase
	counts       models.SyncCounts
	touches      []aggregator.Touch
	lastBatchErr error
}

func (e *Engine) execute(ctx context.Context, run *models.SyncRun, conn *models.Connection) *models.SyncRun {
	ctx = e.logg.WithFields(ctx, map[string]any{
		"account_id":    conn.AccountID.String(),
		"connection_id": conn.ID.String(),
		"sync_run_id":   run.ID.String(),
		"mode":          run.Mode,
		"trigger":       run.Trigger,
	})
	e.logg.Info(ctx, "sync run started")

	st := &runState{
		run:    run,
		conn:   conn,
		shop:   shopify.Shop{ConnectionID: conn.ID.String(), Domain: conn.ShopDomain},
		phase:  enums.SyncPhaseStarted,
		counts: models.SyncCounts{},
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.MaxDuration)
	var runErr error
	for _, resource := range enums.SyncResources {
		if runErr = e.syncResource(runCtx, st, resource); runErr != nil {
			break
		}
	}
	if runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && !pkgerrors.IsCode(runErr, pkgerrors.CodeTimeout) {
		runErr = pkgerrors.Wrap(pkgerrors.CodeTimeout, runErr, "sync run exceeded its time budget")
	}
	cancel()

	// finalization must land even when the caller went away or the budget ran out
	finalCtx, finalCancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer finalCancel()
	return e.finalize(finalCtx, st, runErr)
}

func (e *Engine) syncResource(ctx context.Context, st *runState, resource enums.ResourceType) error {
	cp, err := e.repo.LoadCheckpoint(ctx, st.conn.ID, resource)
	if err != nil {
		return e.dependencyError(ctx, err, "load checkpoint")
	}
	if !cp.InPass() || (st.run.Mode == enums.SyncModeFull && cp.Mode != enums.SyncModeFull) {
		startedAt := e.now().UTC()
		cp.Cursor = ""
		cp.Mode = st.run.Mode
		cp.PassStartedAt = &startedAt
		cp.PassHadFailures = false
		cp.PassMaxUpdatedAt = nil
	}

	counts := st.counts[resource]
	defer func() { st.counts[resource] = counts }()

	for {
		if err := ctx.Err(); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "sync run exceeded its time budget")
		}
		req := shopify.PageRequest{Resource: resource, Cursor: cp.Cursor, Limit: e.cfg.BatchSize}
		if cp.Cursor == "" && cp.Mode == enums.SyncModeIncremental {
			req.UpdatedAtMin = cp.Watermark
		}

		e.setPhase(ctx, st, enums.SyncPhaseFetching)
		page, err := e.fetch(ctx, st, req)
		if err != nil {
			return err
		}
		counts.Fetched += len(page.Items)

		e.setPhase(ctx, st, enums.SyncPhaseNormalizing)
		records := make([]Record, 0, len(page.Items))
		for _, item := range page.Items {
			rec, err := Normalize(resource, item)
			if err != nil {
				counts.Skipped++
				e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
					"resource": resource,
					"reason":   err.Error(),
				}), "skipping malformed record")
				continue
			}
			records = append(records, rec)
			if cp.PassMaxUpdatedAt == nil || rec.SourceUpdatedAt.After(*cp.PassMaxUpdatedAt) {
				maxUpdated := rec.SourceUpdatedAt
				cp.PassMaxUpdatedAt = &maxUpdated
			}
		}

		cp.Cursor = page.Next
		runID := st.run.ID
		cp.LastRunID = &runID

		switch {
		case len(page.Items) == 0:
			if err := e.repo.SaveCheckpoint(ctx, cp); err != nil {
				return e.dependencyError(ctx, err, "save checkpoint")
			}
		case len(records) == 0:
			counts.BatchesFailed++
			cp.PassHadFailures = true
			st.lastBatchErr = pkgerrors.New(pkgerrors.CodeDataIntegrity, "every record in the page was malformed")
			e.metrics.IncBatch(resource.String(), false)
			if err := e.repo.SaveCheckpoint(ctx, cp); err != nil {
				return e.dependencyError(ctx, err, "save checkpoint")
			}
		default:
			e.setPhase(ctx, st, enums.SyncPhaseCommitting)
			res, err := e.commitBatch(ctx, st, resource, records, cp)
			if err != nil {
				counts.BatchesFailed++
				cp.PassHadFailures = true
				st.lastBatchErr = err
				e.metrics.IncBatch(resource.String(), false)
				e.logg.Error(e.logg.WithField(ctx, "resource", resource), "sync batch failed", err)
				if ctx.Err() != nil {
					return pkgerrors.Wrap(pkgerrors.CodeTimeout, ctx.Err(), "sync run exceeded its time budget")
				}
				if err := e.repo.SaveCheckpoint(ctx, cp); err != nil {
					return e.dependencyError(ctx, err, "save checkpoint")
				}
				break
			}
			counts.Created += res.created
			counts.Updated += res.updated
			counts.Unchanged += res.unchanged
			counts.BatchesCommitted++
			st.touches = append(st.touches, res.touches...)
			e.metrics.IncBatch(resource.String(), true)
		}

		if cp.Cursor == "" {
			return e.completePass(ctx, st, cp)
		}
	}
}

// fetch reads one page, refreshing the token and retrying once when the
// platform rejects it.
func (e *Engine) fetch(ctx context.Context, st *runState, req shopify.PageRequest) (shopify.Page, error) {
	tok, err := e.tokens.GetValidToken(ctx, st.conn.ID)
	if err != nil {
		return shopify.Page{}, err
	}
	page, err := e.platform.FetchPage(ctx, st.shop, tok.AccessToken, req)
	if err == nil || !pkgerrors.IsCode(err, pkgerrors.CodeAuth) {
		return page, err
	}

	e.logg.Warn(ctx, "platform rejected token; forcing refresh")
	tok, err = e.tokens.ForceRefresh(ctx, st.conn.ID)
	if err != nil {
		return shopify.Page{}, err
	}
	return e.platform.FetchPage(ctx, st.shop, tok.AccessToken, req)
}

type batchResult struct {
	created   int
	updated   int
	unchanged int
	touches   []aggregator.Touch
}

// commitBatch writes records and the advanced checkpoint in one transaction.
func (e *Engine) commitBatch(ctx context.Context, st *runState, resource enums.ResourceType, records []Record, cp *models.SyncCheckpoint) (batchResult, error) {
	records = dedupeRecords(records)
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ExternalID
	}
	now := e.now().UTC()

	var res batchResult
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res = batchResult{}
		existing, err := e.repo.ExistingRecordsWithTx(tx, st.conn.ID, resource, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]models.RawRecord, len(existing))
		for _, row := range existing {
			byID[row.ExternalID] = row
		}

		var writes []models.RawRecord
		var seen []string
		for _, rec := range records {
			prev, ok := byID[rec.ExternalID]
			switch {
			case !ok:
				res.created++
				writes = append(writes, rawRow(st.conn, resource, rec, now))
				res.addTouch(rec.touch())
			case rec.SourceUpdatedAt.After(prev.SourceUpdatedAt):
				res.updated++
				writes = append(writes, rawRow(st.conn, resource, rec, now))
				res.addTouch(rec.touch())
				res.addTouch(rowTouch(prev))
			default:
				res.unchanged++
				seen = append(seen, rec.ExternalID)
				if prev.Stale {
					res.addTouch(rowTouch(prev))
				}
			}
		}

		if err := e.repo.UpsertRecordsWithTx(tx, writes); err != nil {
			return err
		}
		if err := e.repo.MarkSeenWithTx(tx, st.conn.ID, resource, seen, now); err != nil {
			return err
		}
		return e.repo.SaveCheckpointWithTx(tx, cp)
	})
	if err != nil {
		return batchResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commit "+resource.String()+" batch")
	}
	return res, nil
}

func (r *batchResult) addTouch(t aggregator.Touch, ok bool) {
	if ok {
		r.touches = append(r.touches, t)
	}
}

// completePass closes a resource pass. The watermark only advances, and
// unseen rows are only marked stale, when no batch of the pass failed.
func (e *Engine) completePass(ctx context.Context, st *runState, cp *models.SyncCheckpoint) error {
	var touches []aggregator.Touch
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		touches = nil
		if !cp.PassHadFailures {
			if next, ok := e.nextWatermark(cp); ok && (cp.Watermark == nil || next.After(*cp.Watermark)) {
				cp.Watermark = &next
			}
			if cp.Mode == enums.SyncModeFull && cp.PassStartedAt != nil {
				stale, err := e.repo.MarkStaleWithTx(tx, cp.ConnectionID, cp.Resource, *cp.PassStartedAt)
				if err != nil {
					return err
				}
				for _, row := range stale {
					if t, ok := rowTouch(row); ok {
						touches = append(touches, t)
					}
				}
			}
		}
		cp.Cursor = ""
		cp.Mode = enums.SyncModeIncremental
		cp.PassStartedAt = nil
		cp.PassHadFailures = false
		cp.PassMaxUpdatedAt = nil
		return e.repo.SaveCheckpointWithTx(tx, cp)
	})
	if err != nil {
		return e.dependencyError(ctx, err, "complete "+cp.Resource.String()+" pass")
	}
	st.touches = append(st.touches, touches...)
	return nil
}

// nextWatermark bounds the watermark by the pass start. Records updated
// upstream while the pass paged past them are newer than the start and get
// fetched again by the next incremental pass.
func (e *Engine) nextWatermark(cp *models.SyncCheckpoint) (time.Time, bool) {
	if cp.PassMaxUpdatedAt == nil {
		return time.Time{}, false
	}
	next := *cp.PassMaxUpdatedAt
	if cp.PassStartedAt != nil && cp.PassStartedAt.Before(next) {
		next = *cp.PassStartedAt
	}
	return next.Add(-e.cfg.WatermarkOverlap).UTC(), true
}

func (e *Engine) finalize(ctx context.Context, st *runState, runErr error) *models.SyncRun {
	run := st.run
	totals := st.counts.Totals()

	var outcome enums.SyncOutcome
	switch {
	case runErr != nil:
		outcome = enums.SyncOutcomeFailed
	case totals.BatchesFailed == 0:
		outcome = enums.SyncOutcomeSuccess
	case totals.BatchesCommitted > 0:
		outcome = enums.SyncOutcomePartial
	default:
		outcome = enums.SyncOutcomeFailed
	}

	if e.aggregator != nil && (totals.BatchesCommitted > 0 || len(st.touches) > 0) {
		if err := e.aggregator.RefreshTouched(ctx, st.conn.AccountID, st.touches, e.now().UTC()); err != nil {
			e.logg.Error(ctx, "metric snapshot refresh failed", err)
		}
	}

	finishedAt := e.now().UTC()
	run.Phase = outcome.Phase()
	run.Outcome = &outcome
	run.InFlightKey = nil
	run.Counts = dbtypes.NewJSON(st.counts)
	run.FinishedAt = &finishedAt
	if failure := firstErr(runErr, st.lastBatchErr); failure != nil && outcome != enums.SyncOutcomeSuccess {
		code := string(pkgerrors.CodeOf(failure))
		detail := pkgerrors.OperatorDetail(failure, maxErrorDetail)
		run.ErrorCode = &code
		run.ErrorDetail = &detail
	}

	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.repo.FinalizeRunWithTx(tx, run); err != nil {
			return err
		}
		updates := e.connectionUpdates(st.conn, outcome, run, finishedAt)
		if len(updates) == 0 {
			return nil
		}
		return e.repo.UpdateConnectionWithTx(tx, st.conn.ID, updates)
	})
	if err != nil {
		e.logg.Error(ctx, "finalize sync run", err)
	}

	e.metrics.ObserveRun(outcome.String(), finishedAt.Sub(run.StartedAt))
	for resource, c := range st.counts {
		e.metrics.AddRecords(resource.String(), "created", c.Created)
		e.metrics.AddRecords(resource.String(), "updated", c.Updated)
		e.metrics.AddRecords(resource.String(), "unchanged", c.Unchanged)
		e.metrics.AddRecords(resource.String(), "skipped", c.Skipped)
	}

	logCtx := e.logg.WithFields(ctx, map[string]any{
		"outcome":           outcome,
		"created":           totals.Created,
		"updated":           totals.Updated,
		"unchanged":         totals.Unchanged,
		"skipped":           totals.Skipped,
		"batches_committed": totals.BatchesCommitted,
		"batches_failed":    totals.BatchesFailed,
	})
	if outcome == enums.SyncOutcomeFailed {
		e.logg.Error(logCtx, "sync run failed", firstErr(runErr, st.lastBatchErr))
	} else {
		e.logg.Info(logCtx, "sync run finished")
	}
	return run
}

// connectionUpdates derives the health columns written with the terminal run.
// Partial runs leave the connection untouched.
func (e *Engine) connectionUpdates(conn *models.Connection, outcome enums.SyncOutcome, run *models.SyncRun, finishedAt time.Time) map[string]any {
	switch outcome {
	case enums.SyncOutcomeSuccess:
		return map[string]any{
			"last_successful_sync_at": finishedAt,
			"consecutive_failures":    0,
			"status":                  enums.ConnectionStatusConnected,
			"last_error":              nil,
			"last_error_code":         nil,
			"updated_at":              finishedAt,
		}
	case enums.SyncOutcomeFailed:
		failures := conn.ConsecutiveFailures + 1
		updates := map[string]any{
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"updated_at":           finishedAt,
		}
		if run.ErrorDetail != nil {
			updates["last_error"] = *run.ErrorDetail
		}
		if run.ErrorCode != nil {
			updates["last_error_code"] = *run.ErrorCode
		}
		authFailure := run.ErrorCode != nil && *run.ErrorCode == string(pkgerrors.CodeAuth)
		if authFailure || (e.cfg.ErrorAfter > 0 && failures >= e.cfg.ErrorAfter) {
			updates["status"] = enums.ConnectionStatusError
		}
		return updates
	default:
		return nil
	}
}

// setPhase persists phase transitions only.
func (e *Engine) setPhase(ctx context.Context, st *runState, phase enums.SyncPhase) {
	if st.phase == phase {
		return
	}
	st.phase = phase
	st.run.Phase = phase
	if err := e.repo.UpdateRunPhase(ctx, st.run.ID, phase); err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "phase", phase), "persist sync phase failed: "+err.Error())
	}
}

func (e *Engine) dependencyError(ctx context.Context, err error, msg string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

// dedupeRecords keeps the newest version of each external id, in first-seen
// order.
func dedupeRecords(records []Record) []Record {
	index := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if i, ok := index[rec.ExternalID]; ok {
			if rec.SourceUpdatedAt.After(out[i].SourceUpdatedAt) {
				out[i] = rec
			}
			continue
		}
		index[rec.ExternalID] = len(out)
		out = append(out, rec)
	}
	return out
}

func rawRow(conn *models.Connection, resource enums.ResourceType, rec Record, now time.Time) models.RawRecord {
	payload := rec.Payload
	if !json.Valid(payload) {
		payload = json.RawMessage("null")
	}
	return models.RawRecord{
		ConnectionID:    conn.ID,
		Platform:        conn.Platform,
		Resource:        resource,
		ExternalID:      rec.ExternalID,
		SourceUpdatedAt: rec.SourceUpdatedAt,
		Payload:         dbtypes.NewJSON(payload),
		UTMCampaign:     rec.UTMCampaign,
		OccurredOn:      rec.OccurredOn,
		Amount:          rec.Amount,
		Spend:           rec.Spend,
		Impressions:     rec.Impressions,
		Clicks:          rec.Clicks,
		Conversions:     rec.Conversions,
		Stale:           false,
		LastSeenAt:      now,
		UpdatedAt:       now,
	}
}

func rowTouch(row models.RawRecord) (aggregator.Touch, bool) {
	if row.UTMCampaign == nil || row.OccurredOn == nil {
		return aggregator.Touch{}, false
	}
	return aggregator.Touch{UTMCampaign: *row.UTMCampaign, Day: aggregator.Day(*row.OccurredOn)}, true
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
