package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
	"github.com/fieldlmis/stocksync/pkg/logger"
	"github.com/google/uuid"
)

// LotLedgerReconciler maintains per-lot running balances from lot movements.
//
// MovementQuantity of every item must already be a signed delta (see
// domain.SignedQuantity); the reconciler only adds.
type LotLedgerReconciler struct {
	tx     domain.TxRunner
	lots   domain.LotRepository
	logger *logger.Logger
	now    func() time.Time
}

// NewLotLedgerReconciler creates a new reconciler
func NewLotLedgerReconciler(tx domain.TxRunner, lots domain.LotRepository, log *logger.Logger) *LotLedgerReconciler {
	return &LotLedgerReconciler{
		tx:     tx,
		lots:   lots,
		logger: log.WithComponent("lot-ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ApplyBatch applies items in order inside one transaction. Any failure,
// including a balance that would drop below zero, rolls the whole batch back
// and is returned as a persistence SyncError.
func (r *LotLedgerReconciler) ApplyBatch(ctx context.Context, items []*domain.LotMovementItem) error {
	if len(items) == 0 {
		return nil
	}

	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		for i, item := range items {
			if err := r.apply(ctx, item); err != nil {
				return fmt.Errorf("lot movement %d (lot %s, product %d): %w", i, item.LotNumber, item.ProductID, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Int("items", len(items)).Msg("lot batch rolled back")
		return apperrors.Persistence(err, "apply lot batch")
	}

	r.logger.Debug().Int("items", len(items)).Msg("lot batch applied")
	return nil
}

func (r *LotLedgerReconciler) apply(ctx context.Context, item *domain.LotMovementItem) error {
	now := r.now()

	lot, err := r.lots.FindLot(ctx, item.LotNumber, item.ProductID)
	if err != nil {
		return fmt.Errorf("find lot: %w", err)
	}
	if lot == nil {
		lot = &domain.Lot{
			ID:             uuid.New().String(),
			LotNumber:      item.LotNumber,
			ProductID:      item.ProductID,
			ExpirationDate: item.ExpirationDate,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := r.lots.CreateLot(ctx, lot); err != nil {
			return fmt.Errorf("create lot: %w", err)
		}
	}

	onHand, err := r.lots.FindLotOnHand(ctx, lot.ID, item.StockCardID)
	if err != nil {
		return fmt.Errorf("find lot on hand: %w", err)
	}
	if onHand == nil {
		if item.MovementQuantity < 0 {
			return apperrors.ErrNegativeLotOnHand
		}
		onHand = &domain.LotOnHand{
			ID:             uuid.New().String(),
			LotID:          lot.ID,
			StockCardID:    item.StockCardID,
			QuantityOnHand: item.MovementQuantity,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := r.lots.CreateLotOnHand(ctx, onHand); err != nil {
			return fmt.Errorf("create lot on hand: %w", err)
		}
	} else {
		next := onHand.QuantityOnHand + item.MovementQuantity
		if next < 0 {
			return apperrors.ErrNegativeLotOnHand
		}
		onHand.QuantityOnHand = next
		onHand.UpdatedAt = now
		if err := r.lots.UpdateLotOnHand(ctx, onHand); err != nil {
			return fmt.Errorf("update lot on hand: %w", err)
		}
	}

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.LotID = lot.ID
	item.StockOnHand = item.MovementQuantity
	item.CreatedAt = now
	item.UpdatedAt = now
	if err := r.lots.CreateLotMovement(ctx, item); err != nil {
		return fmt.Errorf("create lot movement: %w", err)
	}
	return nil
}
