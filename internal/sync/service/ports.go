package service

import (
	"context"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
)

// RemoteDataSource is the upstream server as seen by the orchestrator
type RemoteDataSource interface {
	FetchCatalog(ctx context.Context, facilityCode string) ([]domain.ProgramWithProducts, error)
	FetchMovements(ctx context.Context, facilityID string, start, end time.Time) ([]*domain.StockCard, error)
	FetchRequisitions(ctx context.Context, facilityCode string) ([]*domain.RequisitionForm, error)
}

// LotApplier applies signed lot deltas atomically
type LotApplier interface {
	ApplyBatch(ctx context.Context, items []*domain.LotMovementItem) error
}

// Reporter receives stage outcomes for diagnostics. Calls must not block
// the run for long and must not fail it.
type Reporter interface {
	StageStarted(ctx context.Context, runID string, stage Stage, progress Progress)
	StageCompleted(ctx context.Context, runID string, stage Stage, progress Progress)
	StageFailed(ctx context.Context, runID string, stage Stage, err error, fatal bool)
	HistoricalCheckpointed(ctx context.Context, runID string, end time.Time, monthIndex int, err error)
	LotBatchRejected(ctx context.Context, runID string, stage Stage, items int, err error)
	RunCompleted(ctx context.Context, runID string, startedAt time.Time, err error)
}

type nopReporter struct{}

func (nopReporter) StageStarted(context.Context, string, Stage, Progress) {}
func (nopReporter) StageCompleted(context.Context, string, Stage, Progress) {}
func (nopReporter) StageFailed(context.Context, string, Stage, error, bool) {}
func (nopReporter) HistoricalCheckpointed(context.Context, string, time.Time, int, error) {}
func (nopReporter) LotBatchRejected(context.Context, string, Stage, int, error) {}
func (nopReporter) RunCompleted(context.Context, string, time.Time, error) {}
