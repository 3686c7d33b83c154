package service

import (
	"context"
	"errors"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
)

// syncWindow fetches the movements dated in [start, end) and merges them.
func (o *Orchestrator) syncWindow(ctx context.Context, start, end time.Time) error {
	if o.facility.FacilityID == "" {
		return apperrors.MissingPrecondition(apperrors.ErrNoFacility, "facility id is not configured")
	}

	cards, err := o.Remote.FetchMovements(ctx, o.facility.FacilityID, start, end)
	if err != nil {
		return err
	}
	return o.mergeWindow(ctx, cards)
}

// mergeWindow stores every card of one window in a single transaction, then
// applies the lot deltas of newly seen movements as a separate batch. A failed
// card rolls the whole window back so it can be fetched again. A rejected lot
// batch is logged and reported but leaves the movements in place.
func (o *Orchestrator) mergeWindow(ctx context.Context, cards []*domain.StockCard) error {
	var (
		lots     []*domain.LotMovementItem
		inserted int
	)

	err := o.Tx.InTx(ctx, func(ctx context.Context) error {
		lots, inserted = nil, 0

		for _, remote := range cards {
			fresh, err := o.mergeCard(ctx, remote)
			if err != nil {
				return err
			}
			inserted += len(fresh)

			for _, m := range fresh {
				for _, lm := range m.LotMovements {
					delta, err := domain.SignedQuantity(m.MovementType, lm.MovementQuantity)
					if err != nil {
						return apperrors.Malformed(err, "lot movement of "+m.ID)
					}
					lm.MovementQuantity = delta
					lm.StockCardID = remote.ID
					lm.ProductID = remote.ProductID
					lm.StockMovementItemID = m.ID
					lots = append(lots, lm)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	applied := o.applyLots(ctx, lots)

	o.logger.Debug().
		Int("stock_cards", len(cards)).
		Int("new_movements", inserted).
		Int("lot_movements", applied).
		Msg("window merged")
	return nil
}

// applyLots hands the batch to the lot ledger and returns how many items were
// applied. The movements are already committed; they are not merged again, so
// a rejected batch is not retried.
func (o *Orchestrator) applyLots(ctx context.Context, lots []*domain.LotMovementItem) int {
	if len(lots) == 0 {
		return 0
	}

	if err := o.Lots.ApplyBatch(ctx, lots); err != nil {
		scope := runScopeFrom(ctx)
		o.logger.Warn().
			Err(err).
			Str("run_id", scope.runID).
			Str("stage", string(scope.stage)).
			Int("lot_movements", len(lots)).
			Msg("lot batch rejected, stock movements kept")
		o.Reporter.LotBatchRejected(ctx, scope.runID, scope.stage, len(lots), err)
		return 0
	}
	return len(lots)
}

// mergeCard stores one remote card and returns its movements that were not
// stored before. A card the remote knows by id but this device has never seen
// is stored as new, keyed by product.
func (o *Orchestrator) mergeCard(ctx context.Context, remote *domain.StockCard) ([]*domain.StockMovementItem, error) {
	if remote.ID > 0 {
		existing, err := o.Stocks.GetByID(ctx, remote.ID)
		switch {
		case err == nil:
			return o.mergeExisting(ctx, existing, remote)
		case !errors.Is(err, apperrors.ErrStockCardNotFound):
			return nil, apperrors.Persistence(err, "load stock card")
		}
		o.logger.Debug().Int64("stock_card_id", remote.ID).Msg("unknown stock card, storing as new")
		remote.ID = 0
	}

	fresh, err := o.Stocks.SaveNewStockCardWithMovements(ctx, remote)
	if err != nil {
		return nil, apperrors.Persistence(err, "save new stock card")
	}
	return fresh, nil
}

func (o *Orchestrator) mergeExisting(ctx context.Context, existing, remote *domain.StockCard) ([]*domain.StockMovementItem, error) {
	fresh, err := o.Stocks.BatchUpsertMovements(ctx, existing.ID, remote.Movements)
	if err != nil {
		return nil, apperrors.Persistence(err, "upsert movements")
	}

	existing.StockOnHand = remote.StockOnHand
	if err := o.Stocks.CreateOrUpdate(ctx, existing); err != nil {
		return nil, apperrors.Persistence(err, "update stock card")
	}
	remote.ProductID = existing.ProductID
	return fresh, nil
}
