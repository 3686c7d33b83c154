package testutil

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TestSchema is an isolated PostgreSQL schema owned by one test
type TestSchema struct {
	Name string
	DSN  string
	DB   *sqlx.DB
}

// SchemaManager creates and drops per-test schemas on a shared database
type SchemaManager struct {
	db      *sqlx.DB
	baseDSN string
	schemas []*TestSchema
	mu      sync.Mutex
}

// NewSchemaManager creates a schema manager. baseDSN must be in URL form.
func NewSchemaManager(db *sqlx.DB, baseDSN string) *SchemaManager {
	return &SchemaManager{
		db:      db,
		baseDSN: baseDSN,
		schemas: make([]*TestSchema, 0),
	}
}

// CreateSchema creates a fresh schema and opens a pool whose search_path
// points at it, then applies statements through that pool. Every connection
// of the returned DB sees only the new schema.
//
// Usage:
//
//	sm := testutil.NewSchemaManager(db, container.DSN)
//	s, err := sm.CreateSchema(ctx, "lots", repository.Schema())
//	repo := repository.NewLotRepository(database.Wrap(s.DB, nil))
func (sm *SchemaManager) CreateSchema(ctx context.Context, name string, statements []string) (*TestSchema, error) {
	slug := strings.ToLower(strings.NewReplacer(" ", "_", "-", "_").Replace(name))
	schemaName := fmt.Sprintf("t_%s_%s", slug, uuid.NewString()[:8])

	if _, err := sm.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName)); err != nil {
		return nil, fmt.Errorf("failed to create test schema: %w", err)
	}

	dsn, err := withSearchPath(sm.baseDSN, schemaName)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test schema: %w", err)
	}

	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply statement %d: %w", i+1, err)
		}
	}

	s := &TestSchema{Name: schemaName, DSN: dsn, DB: db}

	sm.mu.Lock()
	sm.schemas = append(sm.schemas, s)
	sm.mu.Unlock()

	return s, nil
}

// DropSchema closes the schema's pool and removes it with all its objects
func (sm *SchemaManager) DropSchema(ctx context.Context, s *TestSchema) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s.DB.Close()

	if _, err := sm.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", s.Name)); err != nil {
		return fmt.Errorf("failed to drop test schema: %w", err)
	}

	for i, tracked := range sm.schemas {
		if tracked == s {
			sm.schemas = append(sm.schemas[:i], sm.schemas[i+1:]...)
			break
		}
	}

	return nil
}

// Cleanup drops every schema created by this manager.
// Call this in TestMain or test cleanup.
func (sm *SchemaManager) Cleanup(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var lastErr error
	for _, s := range sm.schemas {
		s.DB.Close()
		if _, err := sm.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", s.Name)); err != nil {
			lastErr = err
		}
	}

	sm.schemas = make([]*TestSchema, 0)
	return lastErr
}

func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid test DSN: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
