package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/ferry/internal/ledger"
)

// Ledger is a ledger.Ledger over the ferry_mappings table, scoped to one entity type.
type Ledger struct {
	store  *Store
	entity ledger.Entity
}

var _ ledger.Ledger = (*Ledger)(nil)

// Ledger returns the mapping ledger for entity.
func (s *Store) Ledger(entity ledger.Entity) *Ledger {
	return &Ledger{store: s, entity: entity}
}

func (l *Ledger) Get(ctx context.Context, sourceID string) (*ledger.Record, error) {
	var (
		rec        ledger.Record
		destID     *int64
		parentID   *int64
		payloadRaw []byte
	)
	err := l.store.pool.QueryRow(ctx, `
		SELECT destination_id, parent_id, exported_at, payload, reconciled, note_seeded
		FROM ferry_mappings
		WHERE entity = $1 AND source_id = $2`,
		string(l.entity), sourceID,
	).Scan(&destID, &parentID, &rec.ExportedAt, &payloadRaw, &rec.Reconciled, &rec.NoteSeeded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s mapping %s: %w", l.entity, sourceID, err)
	}
	if destID != nil {
		rec.DestinationID = *destID
	}
	if parentID != nil {
		rec.ParentID = *parentID
	}
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &rec.Payload); err != nil {
			return nil, fmt.Errorf("decode %s payload %s: %w", l.entity, sourceID, err)
		}
	}
	return &rec, nil
}

func (l *Ledger) Set(ctx context.Context, sourceID string, rec ledger.Record) error {
	var payload []byte
	if rec.Payload != nil {
		var err error
		payload, err = json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("encode %s payload %s: %w", l.entity, sourceID, err)
		}
	}
	_, err := l.store.pool.Exec(ctx, `
		INSERT INTO ferry_mappings (entity, source_id, destination_id, parent_id, exported_at, payload, reconciled, note_seeded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (entity, source_id) DO UPDATE SET
			destination_id = EXCLUDED.destination_id,
			parent_id      = EXCLUDED.parent_id,
			exported_at    = EXCLUDED.exported_at,
			payload        = EXCLUDED.payload,
			reconciled     = EXCLUDED.reconciled,
			note_seeded    = EXCLUDED.note_seeded`,
		string(l.entity), sourceID, nullableID(rec.DestinationID), nullableID(rec.ParentID),
		rec.ExportedAt, payload, rec.Reconciled, rec.NoteSeeded,
	)
	if err != nil {
		return fmt.Errorf("set %s mapping %s: %w", l.entity, sourceID, err)
	}
	return nil
}

func (l *Ledger) Delete(ctx context.Context, sourceID string) error {
	_, err := l.store.pool.Exec(ctx,
		`DELETE FROM ferry_mappings WHERE entity = $1 AND source_id = $2`,
		string(l.entity), sourceID,
	)
	if err != nil {
		return fmt.Errorf("delete %s mapping %s: %w", l.entity, sourceID, err)
	}
	return nil
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
