package sessionpg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Scheme selects this backend in storage URLs; it is rewritten to postgres://
// before the pool is built.
const Scheme = "postgres+pgx"

// Storage persists session entries in PostgreSQL through pgx.
type Storage struct {
	pool *pgxpool.Pool
}

// NewStorage wraps an existing pool.
func NewStorage(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

// Open builds a pool from a postgres+pgx:// or postgres:// URL and ensures the schema.
func Open(ctx context.Context, databaseURL string) (*Storage, error) {
	pool, err := BuildPool(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("sessionpg.open: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionpg.schema: %w", err)
	}
	return NewStorage(pool), nil
}

// Close releases the pool.
func (storage *Storage) Close() {
	storage.pool.Close()
}

// Get returns the stored value for key.
func (storage *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	row := storage.pool.QueryRow(ctx, `
SELECT entry_value
FROM session_entries
WHERE entry_key = $1
`, key)
	if scanErr := row.Scan(&value); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sessionpg.get: %w", scanErr)
	}
	return value, true, nil
}

// Set upserts value under key.
func (storage *Storage) Set(ctx context.Context, key string, value string) error {
	_, err := storage.pool.Exec(ctx, `
INSERT INTO session_entries (entry_key, entry_value, updated_unix)
VALUES ($1, $2, $3)
ON CONFLICT (entry_key) DO UPDATE
SET entry_value = EXCLUDED.entry_value, updated_unix = EXCLUDED.updated_unix
`, key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("sessionpg.set: %w", err)
	}
	return nil
}

// Delete removes key; missing keys are not an error.
func (storage *Storage) Delete(ctx context.Context, key string) error {
	_, err := storage.pool.Exec(ctx, `
DELETE FROM session_entries
WHERE entry_key = $1
`, key)
	if err != nil {
		return fmt.Errorf("sessionpg.delete: %w", err)
	}
	return nil
}
