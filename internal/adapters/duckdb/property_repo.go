package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/ports"
)

var _ ports.PropertyStore = (*Repository)(nil)

// Set upserts one attribute of an entity.
func (r *Repository) Set(ctx context.Context, kind, id, property, value string) error {
	query := `
	INSERT INTO properties (kind, entity_id, property, value, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (kind, entity_id, property) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at;
	`
	if _, err := r.db.ExecContext(ctx, query, kind, id, property, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("set %s/%s/%s: %w", kind, id, property, err)
	}
	return nil
}

// Get returns one attribute, or domain.ErrNotFound.
func (r *Repository) Get(ctx context.Context, kind, id, property string) (string, error) {
	query := `SELECT value FROM properties WHERE kind = ? AND entity_id = ? AND property = ?`

	var value string
	err := r.db.QueryRowContext(ctx, query, kind, id, property).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s %s property %q: %w", kind, id, property, domain.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Properties returns every cached attribute of an entity.
func (r *Repository) Properties(ctx context.Context, kind, id string) (map[string]string, error) {
	query := `SELECT property, value FROM properties WHERE kind = ? AND entity_id = ? ORDER BY property`
	rows, err := r.db.QueryContext(ctx, query, kind, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	props := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		props[key] = value
	}
	return props, rows.Err()
}
