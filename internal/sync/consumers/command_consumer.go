package consumers

import (
	"context"

	"github.com/fieldlmis/stocksync/internal/sync/service"
	"github.com/fieldlmis/stocksync/pkg/logger"
	"github.com/fieldlmis/stocksync/pkg/messaging"
)

// SyncStarter starts a sync run in the background
type SyncStarter interface {
	Start(ctx context.Context) (*service.Task, bool)
}

// SyncCommandConsumer starts a sync run for every sync.requested command
type SyncCommandConsumer struct {
	consumer *messaging.Consumer
	sync     SyncStarter
	logger   *logger.Logger
}

// NewSyncCommandConsumer creates a new sync command consumer bound to exchange
func NewSyncCommandConsumer(rmq *messaging.RabbitMQ, exchange string, sync SyncStarter, log *logger.Logger) (*SyncCommandConsumer, error) {
	if exchange == "" {
		exchange = messaging.ExchangeSyncEvents
	}

	consumer, err := messaging.NewConsumer(rmq, "sync-service.commands", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(exchange, messaging.CommandSyncRequested); err != nil {
		return nil, err
	}

	return newSyncCommandConsumer(consumer, sync, log), nil
}

func newSyncCommandConsumer(consumer *messaging.Consumer, sync SyncStarter, log *logger.Logger) *SyncCommandConsumer {
	c := &SyncCommandConsumer{
		consumer: consumer,
		sync:     sync,
		logger:   log,
	}
	consumer.RegisterHandler(messaging.CommandSyncRequested, c.handleSyncRequested)
	return c
}

// Start starts consuming messages
func (c *SyncCommandConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *SyncCommandConsumer) handleSyncRequested(ctx context.Context, event *messaging.Event) error {
	var data messaging.SyncRequestedCommand
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	task, started := c.sync.Start(ctx)
	if !started {
		c.logger.Info().
			Str("requested_by", data.RequestedBy).
			Msg("sync already running, command ignored")
		return nil
	}

	c.logger.Info().
		Str("requested_by", data.RequestedBy).
		Str("run_id", task.RunID).
		Msg("sync started from command")
	return nil
}
