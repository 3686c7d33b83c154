package events

import (
	"context"
	"errors"
	"testing"
	"time"

	stockservice "github.com/fieldlmis/stocksync/internal/stock/service"
	"github.com/fieldlmis/stocksync/internal/sync/service"
	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
	"github.com/fieldlmis/stocksync/pkg/messaging"
	"github.com/fieldlmis/stocksync/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncEventPublisher_Stages(t *testing.T) {
	ctx := context.Background()
	mock := testutil.NewMockPublisher()
	p := NewSyncEventPublisherWith(mock, testutil.TestLogger())

	p.StageStarted(ctx, "run-1", service.StageCatalog, service.SyncingCatalog)
	p.StageCompleted(ctx, "run-1", service.StageCatalog, service.CatalogSynced)
	p.StageFailed(ctx, "run-1", service.StageRequisitions,
		apperrors.InStage("requisitions", apperrors.Malformed(nil, "missing")), true)

	mock.AssertEventPublished(t, messaging.EventSyncStageCompleted)
	events := mock.Events()
	require.Len(t, events, 3)
	assert.Equal(t, messaging.EventSyncStageStarted, events[0].Type)
	assert.Equal(t, messaging.SyncStageEvent{RunID: "run-1", Stage: "catalog", Progress: "SyncingCatalog"}, events[0].Payload)

	failed := events[2].Payload.(messaging.SyncStageEvent)
	assert.Equal(t, messaging.EventSyncStageFailed, events[2].Type)
	assert.Equal(t, string(apperrors.KindMalformedResponse), failed.ErrorKind)
	assert.True(t, failed.Fatal)
	assert.NotEmpty(t, failed.Error)
}

func TestSyncEventPublisher_RunCompleted(t *testing.T) {
	ctx := context.Background()
	mock := testutil.NewMockPublisher()
	p := NewSyncEventPublisherWith(mock, testutil.TestLogger())
	started := time.Date(2024, 6, 25, 10, 0, 0, 0, time.UTC)

	p.RunCompleted(ctx, "run-1", started, nil)
	p.RunCompleted(ctx, "run-2", started,
		apperrors.InStage("catalog", apperrors.Transport(errors.New("refused"), "fetch catalog")))

	events := mock.EventsOfType(messaging.EventSyncRunCompleted)
	require.Len(t, events, 2)

	ok := events[0].Payload.(messaging.SyncRunCompletedEvent)
	assert.True(t, ok.Success)
	assert.Empty(t, ok.FailedAt)
	assert.Equal(t, started, ok.StartedAt)

	failed := events[1].Payload.(messaging.SyncRunCompletedEvent)
	assert.False(t, failed.Success)
	assert.Equal(t, "catalog", failed.FailedAt)
	assert.Equal(t, string(apperrors.KindTransport), failed.ErrorKind)
	assert.True(t, failed.Retryable)
}

func TestSyncEventPublisher_CheckpointAndRefresh(t *testing.T) {
	ctx := context.Background()
	mock := testutil.NewMockPublisher()
	p := NewSyncEventPublisherWith(mock, testutil.TestLogger())
	end := time.Date(2024, 6, 25, 0, 0, 0, 0, time.UTC)

	p.HistoricalCheckpointed(ctx, "run-1", end, 5, errors.New("timeout"))
	summary := stockservice.RefreshSummary{StockCards: 4, Unset: 1}
	summary.Period.Begin = end
	p.AMCRefreshed(ctx, summary)

	checkpoint := mock.EventsOfType(messaging.EventSyncHistoricalCheckpoint)
	require.Len(t, checkpoint, 1)
	assert.Equal(t, messaging.HistoricalCheckpointEvent{RunID: "run-1", EndTime: end, MonthIndex: 5, Error: "timeout"}, checkpoint[0].Payload)

	refreshed := mock.EventsOfType(messaging.EventAMCRefreshed)
	require.Len(t, refreshed, 1)
	assert.Equal(t, 4, refreshed[0].Payload.(messaging.AMCRefreshedEvent).StockCards)
}

func TestSyncEventPublisher_LotBatchRejected(t *testing.T) {
	mock := testutil.NewMockPublisher()
	p := NewSyncEventPublisherWith(mock, testutil.TestLogger())
	cause := apperrors.Persistence(apperrors.ErrNegativeLotOnHand, "apply lot batch")

	p.LotBatchRejected(context.Background(), "run-1", service.StageRecentMovements, 3, cause)

	events := mock.EventsOfType(messaging.EventSyncLotBatchRejected)
	require.Len(t, events, 1)
	rejected := events[0].Payload.(messaging.LotBatchRejectedEvent)
	assert.Equal(t, "recent_movements", rejected.Stage)
	assert.Equal(t, 3, rejected.Items)
	assert.Equal(t, string(apperrors.KindPersistence), rejected.ErrorKind)
	assert.Contains(t, rejected.Error, "negative")
}

func TestSyncEventPublisher_PublishErrorIsSwallowed(t *testing.T) {
	mock := testutil.NewMockPublisher()
	mock.Err = errors.New("channel closed")
	p := NewSyncEventPublisherWith(mock, testutil.TestLogger())

	assert.NotPanics(t, func() {
		p.StageStarted(context.Background(), "run-1", service.StageCatalog, service.SyncingCatalog)
	})
	assert.Len(t, mock.Events(), 1)
}

func TestSyncEventPublisher_NilIsNoop(t *testing.T) {
	var p *SyncEventPublisher

	assert.NotPanics(t, func() {
		p.StageStarted(context.Background(), "run-1", service.StageCatalog, service.SyncingCatalog)
		p.RunCompleted(context.Background(), "run-1", time.Now(), nil)
		p.AMCRefreshed(context.Background(), stockservice.RefreshSummary{})
	})
}
