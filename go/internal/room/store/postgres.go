package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createRoomStatesTable = `
CREATE TABLE IF NOT EXISTS room_states (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresKV stores room documents in the room_states table.
type PostgresKV struct {
	pool *pgxpool.Pool
}

// NewPostgresKV opens a connection pool for connString.
func NewPostgresKV(ctx context.Context, connString string) (*PostgresKV, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresKV{pool: pool}, nil
}

// EnsureSchema creates the room_states table if it does not exist.
func (p *PostgresKV) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createRoomStatesTable); err != nil {
		return fmt.Errorf("failed to create room_states: %w", err)
	}
	return nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM room_states WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select room state %s: %w", key, err)
	}
	return value, nil
}

// Set overwrites the whole document; there is no merge.
func (p *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO room_states (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("upsert room state %s: %w", key, err)
	}
	return nil
}

func (p *PostgresKV) Close() {
	p.pool.Close()
}

func (p *PostgresKV) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
