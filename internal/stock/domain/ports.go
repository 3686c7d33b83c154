package domain

import (
	"context"
	"time"
)

// TxRunner runs fn in a single transaction. Repositories called with the
// context passed to fn take part in that transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StockRepository persists stock cards and their movement history.
type StockRepository interface {
	List(ctx context.Context) ([]*StockCard, error)
	GetByID(ctx context.Context, id int64) (*StockCard, error)

	// QueryFirstMovement returns nil, nil when the card has no movements.
	QueryFirstMovement(ctx context.Context, stockCardID int64) (*StockMovementItem, error)
	// QueryMovements returns the movements dated within [start, end), oldest first.
	QueryMovements(ctx context.Context, stockCardID int64, start, end time.Time) ([]*StockMovementItem, error)
	// LatestMovementBefore returns nil, nil when nothing is dated before t.
	LatestMovementBefore(ctx context.Context, stockCardID int64, t time.Time) (*StockMovementItem, error)

	CreateOrUpdate(ctx context.Context, card *StockCard) error

	// SaveNewStockCardWithMovements stores a card first seen remotely, keyed by
	// product, together with its movements. It returns the movements that were
	// not stored before.
	SaveNewStockCardWithMovements(ctx context.Context, card *StockCard) ([]*StockMovementItem, error)
	// BatchUpsertMovements merges movements into an existing card and returns
	// the ones that were not stored before.
	BatchUpsertMovements(ctx context.Context, stockCardID int64, movements []*StockMovementItem) ([]*StockMovementItem, error)

	HasAnyData(ctx context.Context) (bool, error)
}

// LotRepository persists lots, lot balances and lot movements.
type LotRepository interface {
	// FindLot returns nil, nil when no lot matches.
	FindLot(ctx context.Context, lotNumber string, productID int64) (*Lot, error)
	CreateLot(ctx context.Context, lot *Lot) error

	// FindLotOnHand returns nil, nil when the lot has no balance on the card.
	FindLotOnHand(ctx context.Context, lotID string, stockCardID int64) (*LotOnHand, error)
	CreateLotOnHand(ctx context.Context, onHand *LotOnHand) error
	UpdateLotOnHand(ctx context.Context, onHand *LotOnHand) error
	ListLotsOnHand(ctx context.Context, stockCardID int64) ([]*LotOnHand, error)

	CreateLotMovement(ctx context.Context, item *LotMovementItem) error
}

// RequisitionRepository persists requisition forms and their items.
type RequisitionRepository interface {
	CreateFormsAndItems(ctx context.Context, forms []*RequisitionForm) error
	HasAnyData(ctx context.Context) (bool, error)
}

// ProgramRepository persists the facility catalog.
type ProgramRepository interface {
	SaveCatalog(ctx context.Context, catalog []ProgramWithProducts) error
}

// ConsumptionMetricRepository persists AMC snapshots.
type ConsumptionMetricRepository interface {
	Save(ctx context.Context, metric *ConsumptionMetric) error
	ListByStockCard(ctx context.Context, stockCardID int64, limit int) ([]*ConsumptionMetric, error)
}
