// Package checkpoint stores run-level progress markers such as the last successful
// extraction window and the last load.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/MikeSquared-Agency/ferry/internal/jsonfile"
)

const (
	ExtractFile = "checkpoints.json"
	LoadFile    = "loader_checkpoint.json"

	LastExtract = "last_extract"
	LastLoad    = "last_load"
)

// Store is implemented by the file and Postgres backends.
type Store interface {
	// Get decodes the named checkpoint into out and reports whether it existed.
	Get(ctx context.Context, name string, out any) (bool, error)
	Set(ctx context.Context, name string, v any) error
	Delete(ctx context.Context, name string) error
}

// FileStore keeps all checkpoints of one store in a single JSON document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// OpenFile returns the store backed by dir/filename.
func OpenFile(dir, filename string) *FileStore {
	return &FileStore{path: filepath.Join(dir, filename)}
}

func (s *FileStore) load() (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	if _, err := jsonfile.Read(s.path, &doc); err != nil {
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}
	if doc == nil {
		doc = make(map[string]json.RawMessage)
	}
	return doc, nil
}

func (s *FileStore) Get(_ context.Context, name string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	raw, ok := doc[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode checkpoint %s: %w", name, err)
	}
	return true, nil
}

// Set replaces the named checkpoint wholesale.
func (s *FileStore) Set(_ context.Context, name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", name, err)
	}
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc[name] = raw
	return jsonfile.WriteAtomic(s.path, doc)
}

func (s *FileStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc[name]; !ok {
		return nil
	}
	delete(doc, name)
	return jsonfile.WriteAtomic(s.path, doc)
}
