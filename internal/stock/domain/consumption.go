package domain

import (
	"math"
	"time"
)

// ConsumptionMetric is a snapshot of a card's AMC for one period
type ConsumptionMetric struct {
	ID                    string    `db:"id" json:"id"`
	StockCardID           int64     `db:"stock_card_id" json:"stock_card_id"`
	PeriodBegin           time.Time `db:"period_begin" json:"period_begin"`
	PeriodEnd             time.Time `db:"period_end" json:"period_end"`
	AvgMonthlyConsumption float64   `db:"avg_monthly_consumption" json:"avg_monthly_consumption"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

// StockLevel is the stock status derived from on hand and AMC
type StockLevel string

const (
	LevelStockOut StockLevel = "STOCK_OUT"
	LevelLow      StockLevel = "LOW_STOCK"
	LevelNormal   StockLevel = "NORMAL"
	LevelOver     StockLevel = "OVER_STOCK"
)

// LevelThresholds are the AMC multipliers used by Classify
type LevelThresholds struct {
	LowRatio  float64
	OverRatio float64
}

// DefaultLevelThresholds flags below 5% of AMC as low and above twice AMC as over.
var DefaultLevelThresholds = LevelThresholds{LowRatio: 0.05, OverRatio: 2}

// Classify maps an on-hand quantity and AMC to a stock level.
// An unset AMC never yields LOW or OVER.
func (t LevelThresholds) Classify(stockOnHand int64, amc float64) StockLevel {
	if stockOnHand <= 0 {
		return LevelStockOut
	}
	if amc < 0 {
		return LevelNormal
	}
	soh := float64(stockOnHand)
	if soh > t.OverRatio*amc {
		return LevelOver
	}
	if soh < math.Ceil(t.LowRatio*amc) {
		return LevelLow
	}
	return LevelNormal
}
