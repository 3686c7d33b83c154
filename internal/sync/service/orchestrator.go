// Package service drives the four-stage sync-down pipeline.
package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/fieldlmis/stocksync/internal/sync/checkpoint"
	"github.com/fieldlmis/stocksync/pkg/config"
	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
	"github.com/fieldlmis/stocksync/pkg/logger"
	"github.com/google/uuid"
)

// Stage identifies a pipeline stage in errors, logs and events
type Stage string

const (
	StageCatalog             Stage = "catalog"
	StageRecentMovements     Stage = "recent_movements"
	StageRequisitions        Stage = "requisitions"
	StageHistoricalMovements Stage = "historical_movements"
)

type runScopeKey struct{}

// runScope names the run and stage a merge belongs to, for reporting
type runScope struct {
	runID string
	stage Stage
}

func withRunScope(ctx context.Context, runID string, stage Stage) context.Context {
	return context.WithValue(ctx, runScopeKey{}, runScope{runID: runID, stage: stage})
}

func runScopeFrom(ctx context.Context) runScope {
	scope, _ := ctx.Value(runScopeKey{}).(runScope)
	return scope
}

// Dependencies are the collaborators of an Orchestrator. Reporter may be nil.
type Dependencies struct {
	Remote       RemoteDataSource
	Tx           domain.TxRunner
	Stocks       domain.StockRepository
	Programs     domain.ProgramRepository
	Requisitions domain.RequisitionRepository
	Lots         LotApplier
	State        *checkpoint.Store
	Reporter     Reporter
}

// Orchestrator runs catalog, recent movements, requisitions and historical
// movements in order, each gated by its flag in the checkpoint store.
//
// The first three stages are fatal: a failure clears the stage flag and ends
// the run with a SyncError. The historical stage is best-effort; a failure
// saves the month it stopped at and the run still succeeds.
type Orchestrator struct {
	Dependencies

	cfg      config.SyncConfig
	facility config.RemoteConfig
	logger   *logger.Logger
	now      func() time.Time
	running  atomic.Bool
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(deps Dependencies, cfg config.SyncConfig, facility config.RemoteConfig, log *logger.Logger) *Orchestrator {
	if deps.Reporter == nil {
		deps.Reporter = nopReporter{}
	}
	if cfg.RecentWindowDays <= 0 {
		cfg.RecentWindowDays = 30
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if cfg.HistoricalMonths > config.MaxHistoricalMonths {
		cfg.HistoricalMonths = config.MaxHistoricalMonths
	}

	return &Orchestrator{
		Dependencies: deps,
		cfg:          cfg,
		facility:     facility,
		logger:       log.WithComponent("sync-orchestrator"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Running reports whether a run is in flight
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Start launches a run in the background and returns its task. When a run is
// already in flight it returns an already completed task and false.
//
// The run is detached from ctx cancellation; stages always run to completion
// or failure.
func (o *Orchestrator) Start(ctx context.Context) (*Task, bool) {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Debug().Msg("sync already running, ignoring request")
		return completedTask(), false
	}

	task := newTask(uuid.New().String())
	ctx = context.WithoutCancel(ctx)

	go func() {
		err := o.run(ctx, task)
		o.running.Store(false)
		task.finish(err)
	}()
	return task, true
}

// Run starts a run and waits for it
func (o *Orchestrator) Run(ctx context.Context) error {
	task, _ := o.Start(ctx)
	return task.Wait(ctx)
}

func (o *Orchestrator) run(ctx context.Context, task *Task) error {
	log := o.logger.WithRunID(task.RunID)
	startedAt := o.now()
	log.Info().Msg("sync run started")

	err := o.runStages(ctx, task, log)

	o.Reporter.RunCompleted(ctx, task.RunID, startedAt, err)
	if err != nil {
		log.Error().
			Err(err).
			Str("kind", string(apperrors.KindOf(err))).
			Dur("duration", o.now().Sub(startedAt)).
			Msg("sync run failed")
		return err
	}

	log.Info().Dur("duration", o.now().Sub(startedAt)).Msg("sync run completed")
	return nil
}

func (o *Orchestrator) runStages(ctx context.Context, task *Task, log *logger.Logger) error {
	fatal := []struct {
		stage     Progress
		done      Progress
		name      Stage
		synced    func(context.Context) (bool, error)
		setSynced func(context.Context, bool) error
		sync      func(context.Context) error
	}{
		{SyncingCatalog, CatalogSynced, StageCatalog, o.State.CatalogSynced, o.State.SetCatalogSynced, o.syncCatalog},
		{SyncingRecentMovements, RecentMovementsSynced, StageRecentMovements, o.State.RecentMovementsSynced, o.State.SetRecentMovementsSynced, o.syncRecentMovements},
		{SyncingRequisitions, RequisitionsSynced, StageRequisitions, o.State.RequisitionsSynced, o.State.SetRequisitionsSynced, o.syncRequisitions},
	}

	for _, s := range fatal {
		synced, err := s.synced(ctx)
		if err != nil {
			return apperrors.InStage(string(s.name), apperrors.Persistence(err, "read stage flag"))
		}
		if synced {
			log.Debug().Str("stage", string(s.name)).Msg("stage already synced, skipping")
			continue
		}

		task.emit(s.stage)
		o.Reporter.StageStarted(ctx, task.RunID, s.name, s.stage)
		log.Info().Str("stage", string(s.name)).Msg("stage started")

		err = s.sync(withRunScope(ctx, task.RunID, s.name))
		if err == nil {
			if err = s.setSynced(ctx, true); err != nil {
				err = apperrors.Persistence(err, "record stage completion")
			}
		}
		if err != nil {
			if resetErr := s.setSynced(ctx, false); resetErr != nil {
				log.Error().Err(resetErr).Str("stage", string(s.name)).Msg("failed to reset stage flag")
			}
			stageErr := apperrors.InStage(string(s.name), err)
			o.Reporter.StageFailed(ctx, task.RunID, s.name, stageErr, true)
			log.Error().
				Err(err).
				Str("stage", string(s.name)).
				Str("kind", string(stageErr.Kind)).
				Msg("stage failed, aborting sync")
			return stageErr
		}

		task.emit(s.done)
		o.Reporter.StageCompleted(ctx, task.RunID, s.name, s.done)
		log.Info().Str("stage", string(s.name)).Msg("stage completed")
	}

	o.syncHistoricalMovements(ctx, task, log)
	return nil
}

func (o *Orchestrator) syncCatalog(ctx context.Context) error {
	if o.facility.FacilityCode == "" {
		return apperrors.MissingPrecondition(apperrors.ErrNoFacility, "facility code is not configured")
	}

	catalog, err := o.Remote.FetchCatalog(ctx, o.facility.FacilityCode)
	if err != nil {
		return err
	}
	if err := o.Programs.SaveCatalog(ctx, catalog); err != nil {
		return apperrors.Persistence(err, "save catalog")
	}
	return nil
}

// syncRecentMovements fetches the recent window plus slack for clock skew,
// then flags the historical walk as pending from now.
func (o *Orchestrator) syncRecentMovements(ctx context.Context) error {
	now := o.now()
	start := now.AddDate(0, 0, -o.cfg.RecentWindowDays)
	end := now.AddDate(0, 0, o.cfg.SlackDays)

	if err := o.syncWindow(ctx, start, end); err != nil {
		return err
	}

	if err := o.State.SetHistoricalSyncPending(ctx, true); err != nil {
		return apperrors.Persistence(err, "flag historical sync")
	}
	if err := o.State.SaveHistoricalCheckpoint(ctx, now, 1); err != nil {
		return apperrors.Persistence(err, "reset historical checkpoint")
	}

	hasData, err := o.Stocks.HasAnyData(ctx)
	if err != nil {
		return apperrors.Persistence(err, "check stock data")
	}
	if hasData {
		if err := o.State.SetInventoryNeeded(ctx, false); err != nil {
			return apperrors.Persistence(err, "clear inventory prompt")
		}
	}
	return nil
}

func (o *Orchestrator) syncRequisitions(ctx context.Context) error {
	if o.facility.FacilityCode == "" {
		return apperrors.MissingPrecondition(apperrors.ErrNoFacility, "facility code is not configured")
	}

	forms, err := o.Remote.FetchRequisitions(ctx, o.facility.FacilityCode)
	if err != nil {
		return err
	}
	if err := o.Requisitions.CreateFormsAndItems(ctx, forms); err != nil {
		return apperrors.Persistence(err, "save requisitions")
	}
	return nil
}

// syncHistoricalMovements walks back one window per month from the saved
// reference time. It never fails the run: on error it saves the month to
// resume at and returns.
func (o *Orchestrator) syncHistoricalMovements(ctx context.Context, task *Task, log *logger.Logger) {
	pending, err := o.State.HistoricalSyncPending(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cannot read historical sync flag, skipping")
		return
	}
	if !pending {
		return
	}

	end, startIndex, ok, err := o.State.HistoricalCheckpoint(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cannot read historical checkpoint, skipping")
		return
	}
	if !ok {
		end = o.now()
	}

	task.emit(SyncingHistoricalMovements)
	o.Reporter.StageStarted(ctx, task.RunID, StageHistoricalMovements, SyncingHistoricalMovements)
	log.Info().
		Str("stage", string(StageHistoricalMovements)).
		Time("end_time", end).
		Int("month_index", startIndex).
		Msg("stage started")

	windowCtx := withRunScope(ctx, task.RunID, StageHistoricalMovements)
	for month := startIndex; month <= o.cfg.HistoricalMonths; month++ {
		windowEnd := end.AddDate(0, 0, -o.cfg.WindowDays*month)
		windowStart := end.AddDate(0, 0, -o.cfg.WindowDays*(month+1))

		if err := o.syncWindow(windowCtx, windowStart, windowEnd); err != nil {
			o.checkpointHistorical(ctx, task, log, end, month, err)
			return
		}
		log.Debug().Int("month_index", month).Msg("historical window synced")
	}

	if err := o.State.SetHistoricalSyncPending(ctx, false); err != nil {
		log.Warn().Err(err).Msg("failed to clear historical sync flag")
		return
	}
	if err := o.State.SaveHistoricalCheckpoint(ctx, end, 1); err != nil {
		log.Warn().Err(err).Msg("failed to reset historical checkpoint")
	}

	task.emit(HistoricalMovementsSynced)
	o.Reporter.StageCompleted(ctx, task.RunID, StageHistoricalMovements, HistoricalMovementsSynced)
	log.Info().Str("stage", string(StageHistoricalMovements)).Msg("stage completed")
}

func (o *Orchestrator) checkpointHistorical(ctx context.Context, task *Task, log *logger.Logger, end time.Time, month int, cause error) {
	stageErr := apperrors.InStage(string(StageHistoricalMovements), cause)

	if err := o.State.SaveHistoricalCheckpoint(ctx, end, month); err != nil {
		log.Error().Err(err).Int("month_index", month).Msg("failed to save historical checkpoint")
	}
	if err := o.State.SetHistoricalSyncPending(ctx, true); err != nil {
		log.Error().Err(err).Msg("failed to keep historical sync pending")
	}

	o.Reporter.StageFailed(ctx, task.RunID, StageHistoricalMovements, stageErr, false)
	o.Reporter.HistoricalCheckpointed(ctx, task.RunID, end, month, stageErr)
	log.Warn().
		Err(cause).
		Str("kind", string(stageErr.Kind)).
		Int("month_index", month).
		Time("end_time", end).
		Msg("historical sync interrupted, will resume next run")
}
