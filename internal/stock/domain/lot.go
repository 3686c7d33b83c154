package domain

import "time"

// Lot is a numbered batch of a product. (LotNumber, ProductID) is unique.
type Lot struct {
	ID             string     `db:"id" json:"id"`
	LotNumber      string     `db:"lot_number" json:"lot_number"`
	ProductID      int64      `db:"product_id" json:"product_id"`
	ExpirationDate *time.Time `db:"expiration_date" json:"expiration_date,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// LotOnHand is the running quantity of one lot on one stock card
type LotOnHand struct {
	ID             string    `db:"id" json:"id"`
	LotID          string    `db:"lot_id" json:"lot_id"`
	StockCardID    int64     `db:"stock_card_id" json:"stock_card_id"`
	QuantityOnHand int64     `db:"quantity_on_hand" json:"quantity_on_hand"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// LotMovementItem is the per-lot share of a stock movement.
//
// MovementQuantity is a signed delta. StockOnHand is set to the same delta
// when the item is persisted; it marks this lot's contribution, not the
// aggregate lot balance.
type LotMovementItem struct {
	ID                  string    `db:"id" json:"id"`
	LotID               string    `db:"lot_id" json:"lot_id"`
	StockMovementItemID string    `db:"stock_movement_item_id" json:"stock_movement_item_id"`
	MovementQuantity    int64     `db:"movement_quantity" json:"movement_quantity"`
	StockOnHand         int64     `db:"stock_on_hand" json:"stock_on_hand"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`

	// Lot identity and owning card, resolved to LotID by the reconciler.
	LotNumber      string     `db:"-" json:"lot_number"`
	ProductID      int64      `db:"-" json:"product_id"`
	ExpirationDate *time.Time `db:"-" json:"expiration_date,omitempty"`
	StockCardID    int64      `db:"-" json:"stock_card_id"`
}
