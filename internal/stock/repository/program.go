package repository

import (
	"context"
	"fmt"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/fieldlmis/stocksync/pkg/database"
)

// ProgramRepository handles the facility catalog
type ProgramRepository struct {
	db *database.DB
}

// NewProgramRepository creates a new program repository
func NewProgramRepository(db *database.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

var _ domain.ProgramRepository = (*ProgramRepository)(nil)

// SaveCatalog upserts programs and products and rebuilds each program's
// product membership.
func (r *ProgramRepository) SaveCatalog(ctx context.Context, catalog []domain.ProgramWithProducts) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.Queryer(ctx)

		for _, entry := range catalog {
			p := entry.Program
			_, err := q.ExecContext(ctx, `
				INSERT INTO programs (id, code, name, updated_at)
				VALUES ($1, $2, $3, NOW())
				ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name, updated_at = NOW()
			`, p.ID, p.Code, p.Name)
			if err != nil {
				return mapErr(fmt.Sprintf("save program %s", p.Code), err)
			}

			if _, err := q.ExecContext(ctx, `DELETE FROM program_products WHERE program_id = $1`, p.ID); err != nil {
				return mapErr("clear program products", err)
			}

			for _, product := range entry.Products {
				_, err := q.ExecContext(ctx, `
					INSERT INTO products (id, code, primary_name, strength, unit, active, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, NOW())
					ON CONFLICT (id) DO UPDATE SET
						code = EXCLUDED.code, primary_name = EXCLUDED.primary_name,
						strength = EXCLUDED.strength, unit = EXCLUDED.unit,
						active = EXCLUDED.active, updated_at = NOW()
				`, product.ID, product.Code, product.PrimaryName, product.Strength, product.Unit, product.Active)
				if err != nil {
					return mapErr(fmt.Sprintf("save product %s", product.Code), err)
				}

				_, err = q.ExecContext(ctx, `
					INSERT INTO program_products (program_id, product_id) VALUES ($1, $2)
					ON CONFLICT DO NOTHING
				`, p.ID, product.ID)
				if err != nil {
					return mapErr("link program product", err)
				}
			}
		}
		return nil
	})
}
