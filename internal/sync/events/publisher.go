package events

import (
	"context"
	"time"

	stockservice "github.com/fieldlmis/stocksync/internal/stock/service"
	"github.com/fieldlmis/stocksync/internal/sync/service"
	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
	"github.com/fieldlmis/stocksync/pkg/logger"
	"github.com/fieldlmis/stocksync/pkg/messaging"
)

// EventPublisher is the part of messaging.Publisher used here
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// SyncEventPublisher publishes sync diagnostics and AMC refreshes.
// A nil *SyncEventPublisher is valid and publishes nothing.
type SyncEventPublisher struct {
	publisher EventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

var (
	_ service.Reporter             = (*SyncEventPublisher)(nil)
	_ stockservice.RefreshObserver = (*SyncEventPublisher)(nil)
)

// NewSyncEventPublisher creates a publisher on exchange, messaging.ExchangeSyncEvents when empty
func NewSyncEventPublisher(rmq *messaging.RabbitMQ, exchange string, log *logger.Logger) (*SyncEventPublisher, error) {
	if exchange == "" {
		exchange = messaging.ExchangeSyncEvents
	}
	publisher, err := messaging.NewPublisher(rmq, exchange, "sync-service", log)
	if err != nil {
		return nil, err
	}
	return NewSyncEventPublisherWith(publisher, log), nil
}

// NewSyncEventPublisherWith wraps an existing publisher
func NewSyncEventPublisherWith(publisher EventPublisher, log *logger.Logger) *SyncEventPublisher {
	return &SyncEventPublisher{
		publisher: publisher,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StageStarted publishes a stage started event
func (p *SyncEventPublisher) StageStarted(ctx context.Context, runID string, stage service.Stage, progress service.Progress) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventSyncStageStarted, messaging.SyncStageEvent{
		RunID:    runID,
		Stage:    string(stage),
		Progress: string(progress),
	})
}

// StageCompleted publishes a stage completed event
func (p *SyncEventPublisher) StageCompleted(ctx context.Context, runID string, stage service.Stage, progress service.Progress) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventSyncStageCompleted, messaging.SyncStageEvent{
		RunID:    runID,
		Stage:    string(stage),
		Progress: string(progress),
	})
}

// StageFailed publishes a stage failed event
func (p *SyncEventPublisher) StageFailed(ctx context.Context, runID string, stage service.Stage, err error, fatal bool) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventSyncStageFailed, messaging.SyncStageEvent{
		RunID:     runID,
		Stage:     string(stage),
		ErrorKind: string(apperrors.KindOf(err)),
		Error:     errorText(err),
		Fatal:     fatal,
	})
}

// HistoricalCheckpointed publishes where the historical walk will resume
func (p *SyncEventPublisher) HistoricalCheckpointed(ctx context.Context, runID string, end time.Time, monthIndex int, err error) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventSyncHistoricalCheckpoint, messaging.HistoricalCheckpointEvent{
		RunID:      runID,
		EndTime:    end,
		MonthIndex: monthIndex,
		Error:      errorText(err),
	})
}

// LotBatchRejected publishes a lot batch the ledger refused
func (p *SyncEventPublisher) LotBatchRejected(ctx context.Context, runID string, stage service.Stage, items int, err error) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventSyncLotBatchRejected, messaging.LotBatchRejectedEvent{
		RunID:     runID,
		Stage:     string(stage),
		Items:     items,
		ErrorKind: string(apperrors.KindOf(err)),
		Error:     errorText(err),
	})
}

// RunCompleted publishes the outcome of a run
func (p *SyncEventPublisher) RunCompleted(ctx context.Context, runID string, startedAt time.Time, err error) {
	if p == nil {
		return
	}

	data := messaging.SyncRunCompletedEvent{
		RunID:      runID,
		Success:    err == nil,
		StartedAt:  startedAt,
		FinishedAt: p.now(),
	}
	if err != nil {
		var syncErr *apperrors.SyncError
		if apperrors.As(err, &syncErr) {
			data.FailedAt = syncErr.Stage
			data.Retryable = syncErr.Retryable()
		}
		data.ErrorKind = string(apperrors.KindOf(err))
		data.Error = err.Error()
	}

	p.publish(ctx, messaging.EventSyncRunCompleted, data)
}

// AMCRefreshed publishes an AMC refreshed event
func (p *SyncEventPublisher) AMCRefreshed(ctx context.Context, summary stockservice.RefreshSummary) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventAMCRefreshed, messaging.AMCRefreshedEvent{
		StockCards:  summary.StockCards,
		Unset:       summary.Unset,
		PeriodBegin: summary.Period.Begin,
		PeriodEnd:   summary.Period.End,
	})
}

func (p *SyncEventPublisher) publish(ctx context.Context, eventType string, data interface{}) {
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to publish event")
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
