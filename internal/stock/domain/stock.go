package domain

import (
	"fmt"
	"time"
)

// MovementType classifies a stock movement
type MovementType string

const (
	MovementReceive           MovementType = "RECEIVE"
	MovementIssue             MovementType = "ISSUE"
	MovementPositiveAdjust    MovementType = "POSITIVE_ADJUST"
	MovementNegativeAdjust    MovementType = "NEGATIVE_ADJUST"
	MovementPhysicalInventory MovementType = "PHYSICAL_INVENTORY"
)

// Valid reports whether t is one of the known movement types
func (t MovementType) Valid() bool {
	switch t {
	case MovementReceive, MovementIssue, MovementPositiveAdjust, MovementNegativeAdjust, MovementPhysicalInventory:
		return true
	}
	return false
}

// AMCUnset is stored in StockCard.AvgMonthlyConsumption when there is not
// enough history to compute an average. A legitimate average is never negative.
const AMCUnset float64 = -1

// StockCard is the ledger of one product at the facility
type StockCard struct {
	ID                    int64     `db:"id" json:"id"`
	ProductID             int64     `db:"product_id" json:"product_id"`
	StockOnHand           int64     `db:"stock_on_hand" json:"stock_on_hand"`
	AvgMonthlyConsumption float64   `db:"avg_monthly_consumption" json:"avg_monthly_consumption"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`

	Movements []*StockMovementItem `db:"-" json:"movements,omitempty"`
}

// HasAMC reports whether the card carries a computed average
func (c *StockCard) HasAMC() bool {
	return c.AvgMonthlyConsumption >= 0
}

// StockMovementItem is one append-only entry of a stock card.
// StockOnHand is the snapshot after the movement was applied.
type StockMovementItem struct {
	ID               string       `db:"id" json:"id"`
	StockCardID      int64        `db:"stock_card_id" json:"stock_card_id"`
	MovementType     MovementType `db:"movement_type" json:"movement_type"`
	MovementQuantity int64        `db:"movement_quantity" json:"movement_quantity"`
	StockOnHand      int64        `db:"stock_on_hand" json:"stock_on_hand"`
	MovementDate     time.Time    `db:"movement_date" json:"movement_date"`
	Reason           string       `db:"reason" json:"reason,omitempty"`
	DocumentNumber   string       `db:"document_number" json:"document_number,omitempty"`
	Signature        string       `db:"signature" json:"signature,omitempty"`
	Synced           bool         `db:"synced" json:"synced"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`

	LotMovements []*LotMovementItem `db:"-" json:"lot_movements,omitempty"`
}

// IsStockOut reports whether the snapshot recorded zero on hand
func (m *StockMovementItem) IsStockOut() bool {
	return m.StockOnHand == 0
}

// SignedQuantity converts an unsigned movement quantity into the delta it
// applies to on-hand stock. Physical inventory carries its own signed
// adjustment and is passed through unchanged.
func SignedQuantity(t MovementType, quantity int64) (int64, error) {
	if quantity < 0 && t != MovementPhysicalInventory {
		return 0, fmt.Errorf("negative quantity %d for %s movement", quantity, t)
	}
	switch t {
	case MovementReceive, MovementPositiveAdjust:
		return quantity, nil
	case MovementIssue, MovementNegativeAdjust:
		return -quantity, nil
	case MovementPhysicalInventory:
		return quantity, nil
	default:
		return 0, fmt.Errorf("unknown movement type %q", t)
	}
}
