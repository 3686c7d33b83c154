package testutil

import (
	"fmt"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/google/uuid"
)

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// StockCard creates a stock card fixture with defaults
func (f *FixtureFactory) StockCard(opts ...func(*domain.StockCard)) *domain.StockCard {
	seq := f.nextSeq()
	now := time.Now().UTC()

	card := &domain.StockCard{
		ProductID:             int64(1000 + seq),
		StockOnHand:           0,
		AvgMonthlyConsumption: domain.AMCUnset,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	for _, opt := range opts {
		opt(card)
	}

	return card
}

// WithProduct sets the stock card's product
func WithProduct(productID int64) func(*domain.StockCard) {
	return func(c *domain.StockCard) {
		c.ProductID = productID
	}
}

// WithStockOnHand sets the stock card's on-hand quantity
func WithStockOnHand(soh int64) func(*domain.StockCard) {
	return func(c *domain.StockCard) {
		c.StockOnHand = soh
	}
}

// WithMovements attaches movements to the stock card
func WithMovements(movements ...*domain.StockMovementItem) func(*domain.StockCard) {
	return func(c *domain.StockCard) {
		c.Movements = append(c.Movements, movements...)
	}
}

// Movement creates a movement fixture dated at the given time
func (f *FixtureFactory) Movement(at time.Time, opts ...func(*domain.StockMovementItem)) *domain.StockMovementItem {
	seq := f.nextSeq()

	m := &domain.StockMovementItem{
		ID:               fmt.Sprintf("mv-%04d", seq),
		MovementType:     domain.MovementIssue,
		MovementQuantity: 1,
		StockOnHand:      100,
		MovementDate:     at,
		DocumentNumber:   fmt.Sprintf("DOC-%04d", seq),
		Synced:           true,
		CreatedAt:        at,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Issue sets the movement to an issue of qty leaving soh on hand
func Issue(qty, soh int64) func(*domain.StockMovementItem) {
	return func(m *domain.StockMovementItem) {
		m.MovementType = domain.MovementIssue
		m.MovementQuantity = qty
		m.StockOnHand = soh
	}
}

// Receive sets the movement to a receipt of qty leaving soh on hand
func Receive(qty, soh int64) func(*domain.StockMovementItem) {
	return func(m *domain.StockMovementItem) {
		m.MovementType = domain.MovementReceive
		m.MovementQuantity = qty
		m.StockOnHand = soh
	}
}

// WithMovementID overrides the generated movement id
func WithMovementID(id string) func(*domain.StockMovementItem) {
	return func(m *domain.StockMovementItem) {
		m.ID = id
	}
}

// WithLots attaches lot movements to the movement
func WithLots(lots ...*domain.LotMovementItem) func(*domain.StockMovementItem) {
	return func(m *domain.StockMovementItem) {
		m.LotMovements = append(m.LotMovements, lots...)
	}
}

// LotMovement creates a lot movement fixture for a lot of the given product
func (f *FixtureFactory) LotMovement(lotNumber string, productID, quantity int64) *domain.LotMovementItem {
	expiry := time.Now().UTC().AddDate(1, 0, 0).Truncate(24 * time.Hour)
	return &domain.LotMovementItem{
		ID:               uuid.New().String(),
		LotNumber:        lotNumber,
		ProductID:        productID,
		MovementQuantity: quantity,
		ExpirationDate:   &expiry,
	}
}

// Program creates a catalog entry with the given number of products
func (f *FixtureFactory) Program(products int) domain.ProgramWithProducts {
	seq := f.nextSeq()
	now := time.Now().UTC()

	p := domain.ProgramWithProducts{
		Program: domain.Program{
			ID:        int64(seq),
			Code:      fmt.Sprintf("PRG-%02d", seq),
			Name:      fmt.Sprintf("Program %d", seq),
			UpdatedAt: now,
		},
	}
	for i := 0; i < products; i++ {
		n := f.nextSeq()
		p.Products = append(p.Products, domain.Product{
			ID:          int64(n),
			Code:        fmt.Sprintf("P%05d", n),
			PrimaryName: fmt.Sprintf("Product %d", n),
			Unit:        "tablet",
			Active:      true,
			UpdatedAt:   now,
		})
	}
	return p
}

// Requisition creates a requisition form fixture with one item
func (f *FixtureFactory) Requisition(programCode string) *domain.RequisitionForm {
	seq := f.nextSeq()
	begin := time.Date(2024, time.Month(seq%12+1), 21, 0, 0, 0, 0, time.UTC)

	return &domain.RequisitionForm{
		ID:          int64(seq),
		ProgramCode: programCode,
		PeriodBegin: begin,
		PeriodEnd:   begin.AddDate(0, 1, 0),
		Status:      domain.RequisitionAuthorized,
		Synced:      true,
		CreatedAt:   begin,
		Items: []domain.RequisitionItem{{
			ProductCode:      fmt.Sprintf("P%05d", seq),
			BeginningBalance: 100,
			Received:         50,
			Issued:           30,
			Inventory:        120,
			CalculatedOrder:  60,
		}},
	}
}
