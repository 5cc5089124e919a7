// Package ledger maps source identifiers to their destination counterparts. It is the
// idempotency record for every entity ferry has written to Chatwoot.
package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/ferry/internal/jsonfile"
)

// Entity names one ledger.
type Entity string

const (
	Contacts      Entity = "contact"
	Conversations Entity = "conversation"
	Messages      Entity = "message"
)

// Filename is the ledger document name for an entity under the mappings directory.
func (e Entity) Filename() string {
	return string(e) + "_map.json"
}

// Record is what the ledger knows about one source entity.
type Record struct {
	DestinationID int64          `json:"destination_id,omitempty"`
	ParentID      int64          `json:"parent_id,omitempty"`
	ExportedAt    time.Time      `json:"exported_at"`
	Payload       map[string]any `json:"payload,omitempty"`
	Reconciled    bool           `json:"reconciled,omitempty"`
	NoteSeeded    bool           `json:"note_seeded,omitempty"`
}

// Mapped reports whether the source entity has a destination counterpart.
func (r *Record) Mapped() bool {
	return r != nil && r.DestinationID != 0
}

// Ledger is the store contract shared by the file and Postgres backends.
type Ledger interface {
	Get(ctx context.Context, sourceID string) (*Record, error)
	Set(ctx context.Context, sourceID string, rec Record) error
	Delete(ctx context.Context, sourceID string) error
}

// FileLedger keeps one JSON document per entity type. The document is loaded once and
// every mutation rewrites it atomically. One writer per document is assumed.
type FileLedger struct {
	path string

	mu      sync.Mutex
	records map[string]Record
}

// OpenFile loads (or initialises) the ledger document for entity under dir.
func OpenFile(dir string, entity Entity) (*FileLedger, error) {
	return OpenPath(filepath.Join(dir, entity.Filename()))
}

// OpenPath loads (or initialises) the ledger document at path.
func OpenPath(path string) (*FileLedger, error) {
	records := make(map[string]Record)
	if _, err := jsonfile.Read(path, &records); err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if records == nil {
		records = make(map[string]Record)
	}
	return &FileLedger{path: path, records: records}, nil
}

func (l *FileLedger) Get(_ context.Context, sourceID string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[sourceID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (l *FileLedger) Set(_ context.Context, sourceID string, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, had := l.records[sourceID]
	l.records[sourceID] = rec
	if err := jsonfile.WriteAtomic(l.path, l.records); err != nil {
		if had {
			l.records[sourceID] = prev
		} else {
			delete(l.records, sourceID)
		}
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

func (l *FileLedger) Delete(_ context.Context, sourceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, had := l.records[sourceID]
	if !had {
		return nil
	}
	delete(l.records, sourceID)
	if err := jsonfile.WriteAtomic(l.path, l.records); err != nil {
		l.records[sourceID] = prev
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// Len returns the number of records held.
func (l *FileLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Path returns the backing document path.
func (l *FileLedger) Path() string { return l.path }
