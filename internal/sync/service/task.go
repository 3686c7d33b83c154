package service

import (
	"context"
	"sync"
)

// Progress names one step of a sync run
type Progress string

const (
	SyncingCatalog             Progress = "SyncingCatalog"
	CatalogSynced              Progress = "CatalogSynced"
	SyncingRecentMovements     Progress = "SyncingRecentMovements"
	RecentMovementsSynced      Progress = "RecentMovementsSynced"
	SyncingRequisitions        Progress = "SyncingRequisitions"
	RequisitionsSynced         Progress = "RequisitionsSynced"
	SyncingHistoricalMovements Progress = "SyncingHistoricalMovements"
	HistoricalMovementsSynced  Progress = "HistoricalMovementsSynced"
)

// A run emits at most two events per stage.
const progressBuffer = 8

// Task is the handle of one sync run. Progress events arrive on Progress(),
// which is closed when the run ends; Wait returns the run's outcome.
type Task struct {
	RunID string

	progress chan Progress
	done     chan struct{}
	once     sync.Once
	err      error
}

func newTask(runID string) *Task {
	return &Task{
		RunID:    runID,
		progress: make(chan Progress, progressBuffer),
		done:     make(chan struct{}),
	}
}

// completedTask is handed to callers rejected by the single-flight guard
func completedTask() *Task {
	t := newTask("")
	t.finish(nil)
	return t
}

// Progress returns the stream of progress events
func (t *Task) Progress() <-chan Progress {
	return t.progress
}

// Done is closed when the run has ended
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the run ends or ctx is done
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the run's error, or nil while it is still running
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Task) emit(p Progress) {
	select {
	case t.progress <- p:
	default:
	}
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.progress)
		close(t.done)
	})
}
