package repository

import (
	"context"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/fieldlmis/stocksync/pkg/database"
	"github.com/google/uuid"
)

// ConsumptionMetricRepository handles AMC snapshots
type ConsumptionMetricRepository struct {
	db *database.DB
}

// NewConsumptionMetricRepository creates a new consumption metric repository
func NewConsumptionMetricRepository(db *database.DB) *ConsumptionMetricRepository {
	return &ConsumptionMetricRepository{db: db}
}

var _ domain.ConsumptionMetricRepository = (*ConsumptionMetricRepository)(nil)

// Save stores a snapshot
func (r *ConsumptionMetricRepository) Save(ctx context.Context, metric *domain.ConsumptionMetric) error {
	if metric.ID == "" {
		metric.ID = uuid.New().String()
	}

	query := `
		INSERT INTO consumption_metrics (id, stock_card_id, period_begin, period_end, avg_monthly_consumption)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := r.db.Queryer(ctx).QueryRowxContext(ctx, query,
		metric.ID, metric.StockCardID, metric.PeriodBegin, metric.PeriodEnd, metric.AvgMonthlyConsumption,
	).Scan(&metric.CreatedAt)
	if err != nil {
		return mapErr("save consumption metric", err)
	}
	return nil
}

// ListByStockCard returns the newest snapshots first. A limit <= 0 returns all.
func (r *ConsumptionMetricRepository) ListByStockCard(ctx context.Context, stockCardID int64, limit int) ([]*domain.ConsumptionMetric, error) {
	var metrics []*domain.ConsumptionMetric
	query := `
		SELECT id, stock_card_id, period_begin, period_end, avg_monthly_consumption, created_at
		FROM consumption_metrics
		WHERE stock_card_id = $1
		ORDER BY created_at DESC
	`
	args := []interface{}{stockCardID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	if err := r.db.Queryer(ctx).SelectContext(ctx, &metrics, query, args...); err != nil {
		return nil, mapErr("list consumption metrics", err)
	}
	return metrics, nil
}
