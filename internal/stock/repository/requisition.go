package repository

import (
	"context"
	"fmt"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/fieldlmis/stocksync/pkg/database"
)

// RequisitionRepository handles requisition form persistence
type RequisitionRepository struct {
	db *database.DB
}

// NewRequisitionRepository creates a new requisition repository
func NewRequisitionRepository(db *database.DB) *RequisitionRepository {
	return &RequisitionRepository{db: db}
}

var _ domain.RequisitionRepository = (*RequisitionRepository)(nil)

// CreateFormsAndItems replaces each form and its items with the given version
// in a single transaction.
func (r *RequisitionRepository) CreateFormsAndItems(ctx context.Context, forms []*domain.RequisitionForm) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.Queryer(ctx)

		for _, f := range forms {
			formQuery := `
				INSERT INTO requisition_forms (
					id, program_code, period_begin, period_end, status, emergency, submitted_at, synced
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO UPDATE SET
					program_code = EXCLUDED.program_code, period_begin = EXCLUDED.period_begin,
					period_end = EXCLUDED.period_end, status = EXCLUDED.status,
					emergency = EXCLUDED.emergency, submitted_at = EXCLUDED.submitted_at,
					synced = EXCLUDED.synced
				RETURNING created_at
			`
			err := q.QueryRowxContext(ctx, formQuery,
				f.ID, f.ProgramCode, f.PeriodBegin, f.PeriodEnd, f.Status, f.Emergency, f.SubmittedAt, f.Synced,
			).Scan(&f.CreatedAt)
			if err != nil {
				return mapErr(fmt.Sprintf("save requisition form %d", f.ID), err)
			}

			if _, err := q.ExecContext(ctx, `DELETE FROM requisition_items WHERE form_id = $1`, f.ID); err != nil {
				return mapErr("clear requisition items", err)
			}

			itemQuery := `
				INSERT INTO requisition_items (
					form_id, product_code, beginning_balance, received, issued, adjustment,
					inventory, calculated_order, requested_quantity, approved_quantity
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				RETURNING id
			`
			for i := range f.Items {
				item := &f.Items[i]
				item.FormID = f.ID
				err := q.QueryRowxContext(ctx, itemQuery,
					item.FormID, item.ProductCode, item.BeginningBalance, item.Received, item.Issued,
					item.Adjustment, item.Inventory, item.CalculatedOrder, item.RequestedQuantity, item.ApprovedQuantity,
				).Scan(&item.ID)
				if err != nil {
					return mapErr("save requisition item", err)
				}
			}
		}
		return nil
	})
}

// HasAnyData reports whether any requisition form exists
func (r *RequisitionRepository) HasAnyData(ctx context.Context) (bool, error) {
	var exists bool
	if err := r.db.Queryer(ctx).GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM requisition_forms)`); err != nil {
		return false, mapErr("check requisition data", err)
	}
	return exists, nil
}
