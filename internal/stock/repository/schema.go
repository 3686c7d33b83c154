// Package repository implements the stock ports on PostgreSQL with sqlx.
//
// Every repository resolves its handle through database.DB.Queryer, so calls
// made with a context produced by database.DB.InTx join that transaction.
package repository

import (
	"fmt"

	"github.com/fieldlmis/stocksync/pkg/database"
)

// Schema returns the idempotent DDL for every stock table, in dependency order.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS stock_cards (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL,
			stock_on_hand BIGINT NOT NULL DEFAULT 0,
			avg_monthly_consumption DOUBLE PRECISION NOT NULL DEFAULT -1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT stock_cards_product_key UNIQUE (product_id)
		)`,

		`CREATE TABLE IF NOT EXISTS stock_movement_items (
			id VARCHAR(64) PRIMARY KEY,
			stock_card_id BIGINT NOT NULL REFERENCES stock_cards(id),
			movement_type VARCHAR(32) NOT NULL,
			movement_quantity BIGINT NOT NULL CHECK (movement_quantity >= 0 OR movement_type = 'PHYSICAL_INVENTORY'),
			stock_on_hand BIGINT NOT NULL CHECK (stock_on_hand >= 0),
			movement_date TIMESTAMPTZ NOT NULL,
			reason VARCHAR(255) NOT NULL DEFAULT '',
			document_number VARCHAR(100) NOT NULL DEFAULT '',
			signature VARCHAR(255) NOT NULL DEFAULT '',
			synced BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_movement_items_card_date ON stock_movement_items(stock_card_id, movement_date)`,

		`CREATE TABLE IF NOT EXISTS lots (
			id UUID PRIMARY KEY,
			lot_number VARCHAR(100) NOT NULL,
			product_id BIGINT NOT NULL,
			expiration_date DATE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT lots_number_product_key UNIQUE (lot_number, product_id)
		)`,

		`CREATE TABLE IF NOT EXISTS lots_on_hand (
			id UUID PRIMARY KEY,
			lot_id UUID NOT NULL REFERENCES lots(id),
			stock_card_id BIGINT NOT NULL REFERENCES stock_cards(id),
			quantity_on_hand BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT lots_on_hand_lot_card_key UNIQUE (lot_id, stock_card_id),
			CONSTRAINT lots_on_hand_non_negative CHECK (quantity_on_hand >= 0)
		)`,

		`CREATE TABLE IF NOT EXISTS lot_movement_items (
			id UUID PRIMARY KEY,
			lot_id UUID NOT NULL REFERENCES lots(id),
			stock_movement_item_id VARCHAR(64) NOT NULL,
			movement_quantity BIGINT NOT NULL,
			stock_on_hand BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lot_movement_items_lot ON lot_movement_items(lot_id)`,

		`CREATE TABLE IF NOT EXISTS programs (
			id BIGINT PRIMARY KEY,
			code VARCHAR(50) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS products (
			id BIGINT PRIMARY KEY,
			code VARCHAR(50) NOT NULL UNIQUE,
			primary_name VARCHAR(255) NOT NULL,
			strength VARCHAR(100) NOT NULL DEFAULT '',
			unit VARCHAR(50) NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS program_products (
			program_id BIGINT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
			product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			PRIMARY KEY (program_id, product_id)
		)`,

		`CREATE TABLE IF NOT EXISTS requisition_forms (
			id BIGINT PRIMARY KEY,
			program_code VARCHAR(50) NOT NULL,
			period_begin TIMESTAMPTZ NOT NULL,
			period_end TIMESTAMPTZ NOT NULL,
			status VARCHAR(32) NOT NULL,
			emergency BOOLEAN NOT NULL DEFAULT FALSE,
			submitted_at TIMESTAMPTZ,
			synced BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT requisition_forms_period_order CHECK (period_end > period_begin)
		)`,

		`CREATE TABLE IF NOT EXISTS requisition_items (
			id BIGSERIAL PRIMARY KEY,
			form_id BIGINT NOT NULL REFERENCES requisition_forms(id) ON DELETE CASCADE,
			product_code VARCHAR(50) NOT NULL,
			beginning_balance BIGINT NOT NULL DEFAULT 0,
			received BIGINT NOT NULL DEFAULT 0,
			issued BIGINT NOT NULL DEFAULT 0,
			adjustment BIGINT NOT NULL DEFAULT 0,
			inventory BIGINT NOT NULL DEFAULT 0,
			calculated_order BIGINT NOT NULL DEFAULT 0,
			requested_quantity BIGINT,
			approved_quantity BIGINT
		)`,

		`CREATE TABLE IF NOT EXISTS consumption_metrics (
			id UUID PRIMARY KEY,
			stock_card_id BIGINT NOT NULL REFERENCES stock_cards(id),
			period_begin TIMESTAMPTZ NOT NULL,
			period_end TIMESTAMPTZ NOT NULL,
			avg_monthly_consumption DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_consumption_metrics_card ON consumption_metrics(stock_card_id, created_at DESC)`,
	}
}

// mapErr wraps err with op, attaching a friendly AppError for known
// PostgreSQL constraint failures.
func mapErr(op string, err error) error {
	if appErr := database.MapPQError(err); appErr != nil {
		appErr.Err = err
		return fmt.Errorf("%s: %w", op, appErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}
