package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/fieldlmis/stocksync/internal/stock/period"
	"github.com/fieldlmis/stocksync/pkg/config"
)

// ConsumptionCalculator derives a stock card's average monthly consumption
// from its persisted movement history.
type ConsumptionCalculator struct {
	stocks       domain.StockRepository
	cutoffDay    int
	sampleMonths int
	now          func() time.Time
}

// NewConsumptionCalculator creates a calculator using the cutoff day and
// sample size from cfg. Zero values fall back to day 21 and 3 months.
func NewConsumptionCalculator(stocks domain.StockRepository, cfg config.ConsumptionConfig) *ConsumptionCalculator {
	c := &ConsumptionCalculator{
		stocks:       stocks,
		cutoffDay:    cfg.PeriodCutoffDay,
		sampleMonths: cfg.SampleMonths,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if c.cutoffDay <= 0 {
		c.cutoffDay = period.DefaultCutoffDay
	}
	if c.sampleMonths <= 0 {
		c.sampleMonths = 3
	}
	return c
}

// WithClock replaces the time source. Used by tests.
func (c *ConsumptionCalculator) WithClock(now func() time.Time) *ConsumptionCalculator {
	c.now = now
	return c
}

// CurrentPeriod returns the reporting period containing the calculator's now.
func (c *ConsumptionCalculator) CurrentPeriod() period.Period {
	return period.Of(c.now(), c.cutoffDay)
}

// AverageMonthlyConsumption returns the card's AMC, or domain.AMCUnset when
// the history is too short or has too few periods without a stock-out.
//
// The walk starts at the period before the current one and moves backward
// until enough qualifying periods are collected or the first movement's
// period has been examined. Stock-out periods are skipped and do not count
// toward the sample; a period with no issues still counts as zero.
func (c *ConsumptionCalculator) AverageMonthlyConsumption(ctx context.Context, card *domain.StockCard) (float64, error) {
	first, err := c.stocks.QueryFirstMovement(ctx, card.ID)
	if err != nil {
		return domain.AMCUnset, fmt.Errorf("query first movement of stock card %d: %w", card.ID, err)
	}
	if first == nil {
		return domain.AMCUnset, nil
	}

	current := c.CurrentPeriod()
	offset := period.MonthsBetween(period.Of(first.MovementDate, c.cutoffDay), current)
	if offset < c.sampleMonths {
		return domain.AMCUnset, nil
	}

	var (
		total     int64
		collected int
	)
	walker := period.NewWalker(current.Previous(), offset)
	for p, ok := walker.Next(); ok && collected < c.sampleMonths; p, ok = walker.Next() {
		issued, stockOut, err := c.totalIssued(ctx, card.ID, p)
		if err != nil {
			return domain.AMCUnset, err
		}
		if stockOut {
			continue
		}
		total += issued
		collected++
	}

	if collected < c.sampleMonths {
		return domain.AMCUnset, nil
	}
	return float64(total) / float64(c.sampleMonths), nil
}

// totalIssued sums ISSUE quantities within p and reports whether p was a
// stock-out period. An empty period inherits the stock-out state of the last
// movement before it.
func (c *ConsumptionCalculator) totalIssued(ctx context.Context, stockCardID int64, p period.Period) (int64, bool, error) {
	items, err := c.stocks.QueryMovements(ctx, stockCardID, p.Begin, p.End)
	if err != nil {
		return 0, false, fmt.Errorf("query movements of stock card %d in %s: %w", stockCardID, p, err)
	}

	if len(items) == 0 {
		prev, err := c.stocks.LatestMovementBefore(ctx, stockCardID, p.Begin)
		if err != nil {
			return 0, false, fmt.Errorf("query movement before %s: %w", p, err)
		}
		return 0, prev != nil && prev.IsStockOut(), nil
	}

	var issued int64
	for _, item := range items {
		if item.IsStockOut() {
			return 0, true, nil
		}
		if item.MovementType == domain.MovementIssue {
			issued += item.MovementQuantity
		}
	}
	return issued, false, nil
}
