package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/fieldlmis/stocksync/pkg/database"
	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
)

const (
	stockCardColumns = `id, product_id, stock_on_hand, avg_monthly_consumption, created_at, updated_at`
	movementColumns  = `id, stock_card_id, movement_type, movement_quantity, stock_on_hand, movement_date,
		reason, document_number, signature, synced, created_at`
)

// StockRepository handles stock card and movement persistence
type StockRepository struct {
	db *database.DB
}

// NewStockRepository creates a new stock repository
func NewStockRepository(db *database.DB) *StockRepository {
	return &StockRepository{db: db}
}

var _ domain.StockRepository = (*StockRepository)(nil)

// List returns every stock card ordered by id
func (r *StockRepository) List(ctx context.Context) ([]*domain.StockCard, error) {
	var cards []*domain.StockCard
	query := `SELECT ` + stockCardColumns + ` FROM stock_cards ORDER BY id`
	if err := r.db.Queryer(ctx).SelectContext(ctx, &cards, query); err != nil {
		return nil, mapErr("list stock cards", err)
	}
	return cards, nil
}

// GetByID gets a stock card by ID
func (r *StockRepository) GetByID(ctx context.Context, id int64) (*domain.StockCard, error) {
	var card domain.StockCard
	query := `SELECT ` + stockCardColumns + ` FROM stock_cards WHERE id = $1`
	if err := r.db.Queryer(ctx).GetContext(ctx, &card, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("stock card %d: %w", id, apperrors.ErrStockCardNotFound)
		}
		return nil, mapErr("get stock card", err)
	}
	return &card, nil
}

func (r *StockRepository) QueryFirstMovement(ctx context.Context, stockCardID int64) (*domain.StockMovementItem, error) {
	query := `
		SELECT ` + movementColumns + `
		FROM stock_movement_items
		WHERE stock_card_id = $1
		ORDER BY movement_date, created_at
		LIMIT 1
	`
	return r.getMovement(ctx, query, stockCardID)
}

func (r *StockRepository) QueryMovements(ctx context.Context, stockCardID int64, start, end time.Time) ([]*domain.StockMovementItem, error) {
	var items []*domain.StockMovementItem
	query := `
		SELECT ` + movementColumns + `
		FROM stock_movement_items
		WHERE stock_card_id = $1 AND movement_date >= $2 AND movement_date < $3
		ORDER BY movement_date, created_at
	`
	if err := r.db.Queryer(ctx).SelectContext(ctx, &items, query, stockCardID, start, end); err != nil {
		return nil, mapErr("query movements", err)
	}
	return items, nil
}

func (r *StockRepository) LatestMovementBefore(ctx context.Context, stockCardID int64, t time.Time) (*domain.StockMovementItem, error) {
	query := `
		SELECT ` + movementColumns + `
		FROM stock_movement_items
		WHERE stock_card_id = $1 AND movement_date < $2
		ORDER BY movement_date DESC, created_at DESC
		LIMIT 1
	`
	return r.getMovement(ctx, query, stockCardID, t)
}

func (r *StockRepository) getMovement(ctx context.Context, query string, args ...interface{}) (*domain.StockMovementItem, error) {
	var item domain.StockMovementItem
	if err := r.db.Queryer(ctx).GetContext(ctx, &item, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("query movement", err)
	}
	return &item, nil
}

// CreateOrUpdate inserts card when its ID is unset and updates on hand and
// AMC otherwise.
func (r *StockRepository) CreateOrUpdate(ctx context.Context, card *domain.StockCard) error {
	q := r.db.Queryer(ctx)

	if card.ID <= 0 {
		query := `
			INSERT INTO stock_cards (product_id, stock_on_hand, avg_monthly_consumption)
			VALUES ($1, $2, $3)
			RETURNING id, created_at, updated_at
		`
		err := q.QueryRowxContext(ctx, query, card.ProductID, card.StockOnHand, card.AvgMonthlyConsumption).
			Scan(&card.ID, &card.CreatedAt, &card.UpdatedAt)
		if err != nil {
			return mapErr("create stock card", err)
		}
		return nil
	}

	query := `
		UPDATE stock_cards SET
			stock_on_hand = $2, avg_monthly_consumption = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := q.QueryRowxContext(ctx, query, card.ID, card.StockOnHand, card.AvgMonthlyConsumption).
		Scan(&card.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("stock card %d: %w", card.ID, apperrors.ErrStockCardNotFound)
		}
		return mapErr("update stock card", err)
	}
	return nil
}

// SaveNewStockCardWithMovements upserts the card by product and stores its
// movements. card.ID is set to the stored card's id.
func (r *StockRepository) SaveNewStockCardWithMovements(ctx context.Context, card *domain.StockCard) ([]*domain.StockMovementItem, error) {
	var inserted []*domain.StockMovementItem

	err := r.db.InTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO stock_cards (product_id, stock_on_hand, avg_monthly_consumption)
			VALUES ($1, $2, -1)
			ON CONFLICT (product_id) DO UPDATE SET
				stock_on_hand = EXCLUDED.stock_on_hand, updated_at = NOW()
			RETURNING id, avg_monthly_consumption, created_at, updated_at
		`
		err := r.db.Queryer(ctx).QueryRowxContext(ctx, query, card.ProductID, card.StockOnHand).
			Scan(&card.ID, &card.AvgMonthlyConsumption, &card.CreatedAt, &card.UpdatedAt)
		if err != nil {
			return mapErr("upsert stock card", err)
		}

		inserted, err = r.insertMovements(ctx, card.ID, card.Movements)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// BatchUpsertMovements merges movements into an existing card
func (r *StockRepository) BatchUpsertMovements(ctx context.Context, stockCardID int64, movements []*domain.StockMovementItem) ([]*domain.StockMovementItem, error) {
	var inserted []*domain.StockMovementItem

	err := r.db.InTx(ctx, func(ctx context.Context) error {
		var exists bool
		query := `SELECT EXISTS(SELECT 1 FROM stock_cards WHERE id = $1)`
		if err := r.db.Queryer(ctx).GetContext(ctx, &exists, query, stockCardID); err != nil {
			return mapErr("check stock card", err)
		}
		if !exists {
			return fmt.Errorf("stock card %d: %w", stockCardID, apperrors.ErrStockCardNotFound)
		}

		var err error
		inserted, err = r.insertMovements(ctx, stockCardID, movements)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// insertMovements inserts each movement unless its id is already stored and
// returns the ones actually written.
func (r *StockRepository) insertMovements(ctx context.Context, stockCardID int64, movements []*domain.StockMovementItem) ([]*domain.StockMovementItem, error) {
	query := `
		INSERT INTO stock_movement_items (` + movementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at
	`

	q := r.db.Queryer(ctx)
	var inserted []*domain.StockMovementItem
	for _, m := range movements {
		m.StockCardID = stockCardID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}

		err := q.QueryRowxContext(ctx, query,
			m.ID, m.StockCardID, m.MovementType, m.MovementQuantity, m.StockOnHand, m.MovementDate,
			m.Reason, m.DocumentNumber, m.Signature, m.Synced, m.CreatedAt,
		).Scan(&m.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, mapErr(fmt.Sprintf("insert movement %s", m.ID), err)
		}
		inserted = append(inserted, m)
	}
	return inserted, nil
}

// HasAnyData reports whether any stock card exists
func (r *StockRepository) HasAnyData(ctx context.Context) (bool, error) {
	var exists bool
	if err := r.db.Queryer(ctx).GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM stock_cards)`); err != nil {
		return false, mapErr("check stock data", err)
	}
	return exists, nil
}
