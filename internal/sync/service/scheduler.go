package service

import (
	"context"
	"time"

	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
	"github.com/fieldlmis/stocksync/pkg/logger"
)

// Syncer runs one sync to completion
type Syncer interface {
	Run(ctx context.Context) error
}

// ConsumptionRefresher recomputes AMC when the period has rolled over
type ConsumptionRefresher interface {
	RefreshIfStale(ctx context.Context) (bool, error)
}

// SyncScheduler runs a sync periodically and refreshes consumption after
// every successful run.
type SyncScheduler struct {
	syncer    Syncer
	refresher ConsumptionRefresher
	interval  time.Duration
	logger    *logger.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSyncScheduler creates a new sync scheduler. refresher may be nil.
func NewSyncScheduler(syncer Syncer, refresher ConsumptionRefresher, interval time.Duration, log *logger.Logger) *SyncScheduler {
	return &SyncScheduler{
		syncer:    syncer,
		refresher: refresher,
		interval:  interval,
		logger:    log.WithComponent("sync-scheduler"),
	}
}

// Start starts the scheduler in a background goroutine.
// It runs one cycle immediately, then one per interval.
func (s *SyncScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().Dur("interval", s.interval).Msg("sync scheduler started")

		s.runCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("sync scheduler stopped")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine and waits for the current cycle
func (s *SyncScheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *SyncScheduler) runCycle(ctx context.Context) {
	start := time.Now()

	if err := s.syncer.Run(ctx); err != nil {
		kind := apperrors.KindOf(err)
		event := s.logger.Error().Err(err).Str("kind", string(kind)).Dur("duration", time.Since(start))
		switch kind {
		case apperrors.KindMissingPrecondition:
			event.Msg("scheduled sync cannot succeed until the facility is configured")
		case apperrors.KindMalformedResponse:
			event.Msg("scheduled sync got a malformed response, retrying next interval")
		default:
			event.Msg("scheduled sync failed, retrying next interval")
		}
		return
	}

	if s.refresher == nil {
		return
	}
	refreshed, err := s.refresher.RefreshIfStale(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("consumption refresh failed")
		return
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Bool("consumption_refreshed", refreshed).
		Msg("sync cycle completed")
}
