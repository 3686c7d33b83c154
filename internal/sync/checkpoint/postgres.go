package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fieldlmis/stocksync/pkg/database"
)

// Schema returns the DDL for the checkpoint table
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS sync_checkpoints (
			key VARCHAR(100) PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
}

// PostgresBackend stores checkpoints in the sync_checkpoints table
type PostgresBackend struct {
	db *database.DB
}

// NewPostgresBackend creates a backend over db
func NewPostgresBackend(db *database.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Get returns the value stored under key
func (b *PostgresBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := b.db.Queryer(ctx).GetContext(ctx, &value, `SELECT value FROM sync_checkpoints WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read checkpoint %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value under key
func (b *PostgresBackend) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO sync_checkpoints (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := b.db.Queryer(ctx).ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", key, err)
	}
	return nil
}
