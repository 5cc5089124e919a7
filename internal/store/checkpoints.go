package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/ferry/internal/checkpoint"
)

// Checkpoints is a checkpoint.Store over ferry_checkpoints. name mirrors the file
// backend's document name so both backends keep the same separation.
type Checkpoints struct {
	store *Store
	name  string
}

var _ checkpoint.Store = (*Checkpoints)(nil)

func (s *Store) Checkpoints(name string) *Checkpoints {
	return &Checkpoints{store: s, name: name}
}

func (c *Checkpoints) Get(ctx context.Context, name string, out any) (bool, error) {
	var raw []byte
	err := c.store.pool.QueryRow(ctx,
		`SELECT payload FROM ferry_checkpoints WHERE store = $1 AND name = $2`,
		c.name, name,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get checkpoint %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode checkpoint %s: %w", name, err)
	}
	return true, nil
}

func (c *Checkpoints) Set(ctx context.Context, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", name, err)
	}
	_, err = c.store.pool.Exec(ctx, `
		INSERT INTO ferry_checkpoints (store, name, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (store, name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		c.name, name, raw,
	)
	if err != nil {
		return fmt.Errorf("set checkpoint %s: %w", name, err)
	}
	return nil
}

func (c *Checkpoints) Delete(ctx context.Context, name string) error {
	_, err := c.store.pool.Exec(ctx,
		`DELETE FROM ferry_checkpoints WHERE store = $1 AND name = $2`,
		c.name, name,
	)
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", name, err)
	}
	return nil
}
