package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/fieldlmis/stocksync/internal/stock/period"
	"github.com/fieldlmis/stocksync/pkg/config"
	"github.com/fieldlmis/stocksync/pkg/logger"
)

// RefreshMarker remembers when AMC was last recomputed for every card
type RefreshMarker interface {
	LastConsumptionRefresh(ctx context.Context) (time.Time, bool, error)
	MarkConsumptionRefreshed(ctx context.Context, at time.Time) error
}

// RefreshObserver is notified after a full AMC refresh
type RefreshObserver interface {
	AMCRefreshed(ctx context.Context, summary RefreshSummary)
}

// RefreshSummary describes one completed AMC refresh
type RefreshSummary struct {
	Period     period.Period
	StockCards int
	Unset      int
}

// CardConsumption is the consumption view of one stock card
type CardConsumption struct {
	Card    *domain.StockCard           `json:"stock_card"`
	Level   domain.StockLevel           `json:"level"`
	History []*domain.ConsumptionMetric `json:"history"`
}

// ConsumptionService recomputes AMC for every stock card once per period and
// classifies stock levels.
type ConsumptionService struct {
	calc       *ConsumptionCalculator
	stocks     domain.StockRepository
	metrics    domain.ConsumptionMetricRepository
	marker     RefreshMarker
	observer   RefreshObserver
	thresholds domain.LevelThresholds
	logger     *logger.Logger
}

// NewConsumptionService creates a new consumption service. observer may be nil.
func NewConsumptionService(
	calc *ConsumptionCalculator,
	stocks domain.StockRepository,
	metrics domain.ConsumptionMetricRepository,
	marker RefreshMarker,
	observer RefreshObserver,
	cfg config.ConsumptionConfig,
	log *logger.Logger,
) *ConsumptionService {
	thresholds := domain.DefaultLevelThresholds
	if cfg.LowStockRatio > 0 {
		thresholds.LowRatio = cfg.LowStockRatio
	}
	if cfg.OverStockRatio > 0 {
		thresholds.OverRatio = cfg.OverStockRatio
	}

	return &ConsumptionService{
		calc:       calc,
		stocks:     stocks,
		metrics:    metrics,
		marker:     marker,
		observer:   observer,
		thresholds: thresholds,
		logger:     log.WithComponent("consumption"),
	}
}

// RefreshIfStale runs RefreshAll when the last refresh happened before the
// current period began. It reports whether a refresh ran.
func (s *ConsumptionService) RefreshIfStale(ctx context.Context) (bool, error) {
	last, ok, err := s.marker.LastConsumptionRefresh(ctx)
	if err != nil {
		return false, fmt.Errorf("read last consumption refresh: %w", err)
	}

	current := s.calc.CurrentPeriod()
	if ok && !last.Before(current.Begin) {
		s.logger.Debug().Time("last_refresh", last).Msg("consumption is up to date")
		return false, nil
	}

	if _, err := s.RefreshAll(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RefreshAll recomputes AMC for every stock card, stores it on the card and
// records a snapshot for the current period.
func (s *ConsumptionService) RefreshAll(ctx context.Context) (*RefreshSummary, error) {
	start := time.Now()

	cards, err := s.stocks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stock cards: %w", err)
	}

	current := s.calc.CurrentPeriod()
	summary := RefreshSummary{Period: current}

	for _, card := range cards {
		amc, err := s.calc.AverageMonthlyConsumption(ctx, card)
		if err != nil {
			return nil, err
		}
		if amc == domain.AMCUnset {
			summary.Unset++
		}

		card.AvgMonthlyConsumption = amc
		if err := s.stocks.CreateOrUpdate(ctx, card); err != nil {
			return nil, fmt.Errorf("update stock card %d: %w", card.ID, err)
		}

		metric := &domain.ConsumptionMetric{
			StockCardID:           card.ID,
			PeriodBegin:           current.Begin,
			PeriodEnd:             current.End,
			AvgMonthlyConsumption: amc,
		}
		if err := s.metrics.Save(ctx, metric); err != nil {
			return nil, fmt.Errorf("save consumption metric for stock card %d: %w", card.ID, err)
		}
		summary.StockCards++
	}

	if err := s.marker.MarkConsumptionRefreshed(ctx, s.calc.now()); err != nil {
		return nil, fmt.Errorf("mark consumption refreshed: %w", err)
	}

	s.logger.Info().
		Int("stock_cards", summary.StockCards).
		Int("unset", summary.Unset).
		Str("period", current.String()).
		Dur("duration", time.Since(start)).
		Msg("average monthly consumption refreshed")

	if s.observer != nil {
		s.observer.AMCRefreshed(ctx, summary)
	}
	return &summary, nil
}

// Level classifies the card's current stock against its AMC
func (s *ConsumptionService) Level(card *domain.StockCard) domain.StockLevel {
	return s.thresholds.Classify(card.StockOnHand, card.AvgMonthlyConsumption)
}

// CardConsumption returns a card with its level and most recent snapshots
func (s *ConsumptionService) CardConsumption(ctx context.Context, stockCardID int64, historyLimit int) (*CardConsumption, error) {
	card, err := s.stocks.GetByID(ctx, stockCardID)
	if err != nil {
		return nil, err
	}

	history, err := s.metrics.ListByStockCard(ctx, stockCardID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("list consumption history: %w", err)
	}

	return &CardConsumption{
		Card:    card,
		Level:   s.Level(card),
		History: history,
	}, nil
}
