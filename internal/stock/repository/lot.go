package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/fieldlmis/stocksync/pkg/database"
	"github.com/google/uuid"
)

// LotRepository handles lot, lot balance and lot movement persistence
type LotRepository struct {
	db *database.DB
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *database.DB) *LotRepository {
	return &LotRepository{db: db}
}

var _ domain.LotRepository = (*LotRepository)(nil)

// FindLot returns nil, nil when no lot matches
func (r *LotRepository) FindLot(ctx context.Context, lotNumber string, productID int64) (*domain.Lot, error) {
	var lot domain.Lot
	query := `
		SELECT id, lot_number, product_id, expiration_date, created_at, updated_at
		FROM lots
		WHERE lot_number = $1 AND product_id = $2
	`
	if err := r.db.Queryer(ctx).GetContext(ctx, &lot, query, lotNumber, productID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("find lot", err)
	}
	return &lot, nil
}

// CreateLot creates a new lot
func (r *LotRepository) CreateLot(ctx context.Context, lot *domain.Lot) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}

	query := `
		INSERT INTO lots (id, lot_number, product_id, expiration_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Queryer(ctx).ExecContext(ctx, query,
		lot.ID, lot.LotNumber, lot.ProductID, lot.ExpirationDate, lot.CreatedAt, lot.UpdatedAt,
	)
	if err != nil {
		return mapErr("create lot", err)
	}
	return nil
}

// FindLotOnHand returns nil, nil when the lot has no balance on the card
func (r *LotRepository) FindLotOnHand(ctx context.Context, lotID string, stockCardID int64) (*domain.LotOnHand, error) {
	var onHand domain.LotOnHand
	query := `
		SELECT id, lot_id, stock_card_id, quantity_on_hand, created_at, updated_at
		FROM lots_on_hand
		WHERE lot_id = $1 AND stock_card_id = $2
		FOR UPDATE
	`
	if err := r.db.Queryer(ctx).GetContext(ctx, &onHand, query, lotID, stockCardID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("find lot on hand", err)
	}
	return &onHand, nil
}

// CreateLotOnHand creates a lot balance
func (r *LotRepository) CreateLotOnHand(ctx context.Context, onHand *domain.LotOnHand) error {
	if onHand.ID == "" {
		onHand.ID = uuid.New().String()
	}

	query := `
		INSERT INTO lots_on_hand (id, lot_id, stock_card_id, quantity_on_hand, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Queryer(ctx).ExecContext(ctx, query,
		onHand.ID, onHand.LotID, onHand.StockCardID, onHand.QuantityOnHand, onHand.CreatedAt, onHand.UpdatedAt,
	)
	if err != nil {
		return mapErr("create lot on hand", err)
	}
	return nil
}

// UpdateLotOnHand stores a new running quantity
func (r *LotRepository) UpdateLotOnHand(ctx context.Context, onHand *domain.LotOnHand) error {
	query := `UPDATE lots_on_hand SET quantity_on_hand = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.Queryer(ctx).ExecContext(ctx, query, onHand.ID, onHand.QuantityOnHand, onHand.UpdatedAt)
	if err != nil {
		return mapErr("update lot on hand", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("lot on hand %s not found", onHand.ID)
	}
	return nil
}

// ListLotsOnHand lists the lot balances of a stock card
func (r *LotRepository) ListLotsOnHand(ctx context.Context, stockCardID int64) ([]*domain.LotOnHand, error) {
	var balances []*domain.LotOnHand
	query := `
		SELECT id, lot_id, stock_card_id, quantity_on_hand, created_at, updated_at
		FROM lots_on_hand
		WHERE stock_card_id = $1
		ORDER BY created_at
	`
	if err := r.db.Queryer(ctx).SelectContext(ctx, &balances, query, stockCardID); err != nil {
		return nil, mapErr("list lots on hand", err)
	}
	return balances, nil
}

// CreateLotMovement records one lot's share of a stock movement
func (r *LotRepository) CreateLotMovement(ctx context.Context, item *domain.LotMovementItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query := `
		INSERT INTO lot_movement_items (
			id, lot_id, stock_movement_item_id, movement_quantity, stock_on_hand, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Queryer(ctx).ExecContext(ctx, query,
		item.ID, item.LotID, item.StockMovementItemID, item.MovementQuantity, item.StockOnHand,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return mapErr("create lot movement", err)
	}
	return nil
}
