// Package store is the Postgres backend for the mapping ledgers and checkpoints, used
// when STORAGE_BACKEND=postgres.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS ferry_mappings (
	entity         TEXT        NOT NULL,
	source_id      TEXT        NOT NULL,
	destination_id BIGINT,
	parent_id      BIGINT,
	exported_at    TIMESTAMPTZ NOT NULL,
	payload        JSONB,
	reconciled     BOOLEAN     NOT NULL DEFAULT false,
	note_seeded    BOOLEAN     NOT NULL DEFAULT false,
	PRIMARY KEY (entity, source_id)
);

CREATE TABLE IF NOT EXISTS ferry_checkpoints (
	store      TEXT        NOT NULL,
	name       TEXT        NOT NULL,
	payload    JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (store, name)
);`

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
