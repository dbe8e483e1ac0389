package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
)

// Repository is the DuckDB-backed cache of console attributes.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the database at path and applies the
// schema. An empty path opens an in-memory database.
func NewRepository(ctx context.Context, path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach duckdb: %w", err)
	}

	r := &Repository{db: db}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS properties (
		kind       VARCHAR NOT NULL,
		entity_id  VARCHAR NOT NULL,
		property   VARCHAR NOT NULL,
		value      VARCHAR NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (kind, entity_id, property)
	);`)
	if err != nil {
		return fmt.Errorf("failed to create properties table: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}
