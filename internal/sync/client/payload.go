package client

import (
	"fmt"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/fieldlmis/stocksync/pkg/httputil"
	"github.com/go-playground/validator/v10"
)

func init() {
	httputil.RegisterStructValidation(validateLotQuantities, movementPayload{})
}

// validateLotQuantities keeps lot quantities unsigned except under a physical
// inventory, where each one is the counted difference for its lot.
func validateLotQuantities(sl validator.StructLevel) {
	m := sl.Current().Interface().(movementPayload)
	if domain.MovementType(m.MovementType) == domain.MovementPhysicalInventory {
		return
	}
	for i, l := range m.Lots {
		if l.Quantity < 0 {
			sl.ReportError(l.Quantity, fmt.Sprintf("Lots[%d].Quantity", i), "Quantity", "gte", "0")
		}
	}
}

type catalogResponse struct {
	Programs []programPayload `json:"programs" validate:"dive"`
}

type programPayload struct {
	ID       int64            `json:"id" validate:"required"`
	Code     string           `json:"code" validate:"required"`
	Name     string           `json:"name"`
	Products []productPayload `json:"products" validate:"dive"`
}

type productPayload struct {
	ID          int64  `json:"id" validate:"required"`
	Code        string `json:"code" validate:"required"`
	PrimaryName string `json:"primaryName"`
	Strength    string `json:"strength"`
	Unit        string `json:"dispensingUnit"`
	Active      bool   `json:"active"`
}

type movementsResponse struct {
	StockCards []stockCardPayload `json:"stockCards" validate:"dive"`
}

type stockCardPayload struct {
	ID          int64             `json:"id"`
	ProductID   int64             `json:"productId" validate:"required"`
	StockOnHand int64             `json:"stockOnHand" validate:"gte=0"`
	Movements   []movementPayload `json:"stockMovementItems" validate:"dive"`
}

type movementPayload struct {
	ID             string               `json:"id" validate:"required"`
	MovementType   string               `json:"movementType" validate:"required,oneof=RECEIVE ISSUE POSITIVE_ADJUST NEGATIVE_ADJUST PHYSICAL_INVENTORY"`
	Quantity       int64                `json:"movementQuantity" validate:"gte=0"`
	StockOnHand    int64                `json:"stockOnHand" validate:"gte=0"`
	OccurredAt     time.Time            `json:"occurred" validate:"required"`
	Reason         string               `json:"reason"`
	DocumentNumber string               `json:"documentNumber"`
	Signature      string               `json:"signature"`
	Lots           []lotMovementPayload `json:"lotMovementItems" validate:"dive"`
}

type lotMovementPayload struct {
	LotNumber      string     `json:"lotNumber" validate:"required"`
	ExpirationDate *time.Time `json:"expirationDate"`
	Quantity       int64      `json:"quantity"`
}

type requisitionsResponse struct {
	Requisitions []requisitionPayload `json:"requisitions" validate:"dive"`
}

type requisitionPayload struct {
	ID          int64                    `json:"id" validate:"required"`
	ProgramCode string                   `json:"programCode" validate:"required"`
	PeriodBegin time.Time                `json:"periodStartDate" validate:"required"`
	PeriodEnd   time.Time                `json:"periodEndDate" validate:"required,gtfield=PeriodBegin"`
	Status      string                   `json:"status" validate:"required,oneof=DRAFT SUBMITTED AUTHORIZED IN_APPROVAL APPROVED"`
	Emergency   bool                     `json:"emergency"`
	SubmittedAt *time.Time               `json:"submittedTime"`
	Items       []requisitionItemPayload `json:"products" validate:"dive"`
}

type requisitionItemPayload struct {
	ProductCode       string `json:"productCode" validate:"required"`
	BeginningBalance  int64  `json:"beginningBalance"`
	Received          int64  `json:"quantityReceived" validate:"gte=0"`
	Issued            int64  `json:"quantityDispensed" validate:"gte=0"`
	Adjustment        int64  `json:"totalLossesAndAdjustments"`
	Inventory         int64  `json:"stockInHand"`
	CalculatedOrder   int64  `json:"calculatedOrderQuantity"`
	RequestedQuantity *int64 `json:"quantityRequested"`
	ApprovedQuantity  *int64 `json:"quantityApproved"`
}

func (r catalogResponse) toDomain() []domain.ProgramWithProducts {
	now := time.Now().UTC()
	catalog := make([]domain.ProgramWithProducts, 0, len(r.Programs))
	for _, p := range r.Programs {
		entry := domain.ProgramWithProducts{
			Program: domain.Program{ID: p.ID, Code: p.Code, Name: p.Name, UpdatedAt: now},
		}
		for _, pr := range p.Products {
			entry.Products = append(entry.Products, domain.Product{
				ID:          pr.ID,
				Code:        pr.Code,
				PrimaryName: pr.PrimaryName,
				Strength:    pr.Strength,
				Unit:        pr.Unit,
				Active:      pr.Active,
				UpdatedAt:   now,
			})
		}
		catalog = append(catalog, entry)
	}
	return catalog
}

// Lot quantities keep the remote sign; the merge signs them by movement type.
func (r movementsResponse) toDomain() []*domain.StockCard {
	cards := make([]*domain.StockCard, 0, len(r.StockCards))
	for _, sc := range r.StockCards {
		card := &domain.StockCard{
			ID:                    sc.ID,
			ProductID:             sc.ProductID,
			StockOnHand:           sc.StockOnHand,
			AvgMonthlyConsumption: domain.AMCUnset,
		}
		for _, m := range sc.Movements {
			item := &domain.StockMovementItem{
				ID:               m.ID,
				MovementType:     domain.MovementType(m.MovementType),
				MovementQuantity: m.Quantity,
				StockOnHand:      m.StockOnHand,
				MovementDate:     m.OccurredAt.UTC(),
				Reason:           m.Reason,
				DocumentNumber:   m.DocumentNumber,
				Signature:        m.Signature,
				Synced:           true,
			}
			for _, l := range m.Lots {
				item.LotMovements = append(item.LotMovements, &domain.LotMovementItem{
					LotNumber:           l.LotNumber,
					ProductID:           sc.ProductID,
					ExpirationDate:      l.ExpirationDate,
					MovementQuantity:    l.Quantity,
					StockMovementItemID: m.ID,
				})
			}
			card.Movements = append(card.Movements, item)
		}
		cards = append(cards, card)
	}
	return cards
}

func (r requisitionsResponse) toDomain() []*domain.RequisitionForm {
	forms := make([]*domain.RequisitionForm, 0, len(r.Requisitions))
	for _, rq := range r.Requisitions {
		form := &domain.RequisitionForm{
			ID:          rq.ID,
			ProgramCode: rq.ProgramCode,
			PeriodBegin: rq.PeriodBegin.UTC(),
			PeriodEnd:   rq.PeriodEnd.UTC(),
			Status:      domain.RequisitionStatus(rq.Status),
			Emergency:   rq.Emergency,
			SubmittedAt: rq.SubmittedAt,
			Synced:      true,
		}
		for _, it := range rq.Items {
			form.Items = append(form.Items, domain.RequisitionItem{
				ProductCode:       it.ProductCode,
				BeginningBalance:  it.BeginningBalance,
				Received:          it.Received,
				Issued:            it.Issued,
				Adjustment:        it.Adjustment,
				Inventory:         it.Inventory,
				CalculatedOrder:   it.CalculatedOrder,
				RequestedQuantity: it.RequestedQuantity,
				ApprovedQuantity:  it.ApprovedQuantity,
			})
		}
		forms = append(forms, form)
	}
	return forms
}
