package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultMaxConns = 10

// PostgresDB is the transcript store. It only ever writes.
type PostgresDB struct {
	Pool *pgxpool.Pool
}

// NewPostgresDB connects and pings. maxConns <= 0 uses the default pool size.
func NewPostgresDB(ctx context.Context, databaseURL string, maxConns int) (*PostgresDB, error) {
	config, err := poolConfig(databaseURL, maxConns)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

// poolConfig keeps one warm connection and caps the pool at maxConns.
func poolConfig(databaseURL string, maxConns int) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	config.MaxConns = int32(maxConns)
	config.MinConns = 1
	config.ConnConfig.RuntimeParams["application_name"] = "deep-research"
	return config, nil
}

func (db *PostgresDB) Close() {
	db.Pool.Close()
}
