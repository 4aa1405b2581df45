package sessionpg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createSessionTable = `
CREATE TABLE IF NOT EXISTS session_entries (
    entry_key TEXT PRIMARY KEY,
    entry_value TEXT NOT NULL,
    updated_unix BIGINT NOT NULL
);
`

// BuildPool creates a pgx pool sized for the single session a dashboard owns.
// postgres+pgx:// URLs are accepted alongside postgres://.
func BuildPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connectionURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("sessionpg.pool.parse: %w", err)
	}
	config.MinConns = 1
	config.MaxConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	if config.ConnConfig.RuntimeParams["application_name"] == "" {
		config.ConnConfig.RuntimeParams["application_name"] = "frontdesk"
	}
	return pgxpool.NewWithConfig(ctx, config)
}

// EnsureSchema creates the session table if it does not exist. The layout matches
// the GORM-managed table so both backends can share a database.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, createSessionTable)
	return err
}

func connectionURL(databaseURL string) string {
	if strings.HasPrefix(databaseURL, Scheme+"://") {
		return "postgres://" + strings.TrimPrefix(databaseURL, Scheme+"://")
	}
	return databaseURL
}
