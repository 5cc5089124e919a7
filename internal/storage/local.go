// Package storage persists extracted records under the data directory as newline-delimited
// JSON, plus whole-document JSON summaries.
package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MikeSquared-Agency/ferry/internal/jsonfile"
)

const maxLine = 16 << 20

// Local stores files under DataDir. Relative paths may not escape it.
type Local struct {
	DataDir string
	logger  *slog.Logger
}

// NewLocal returns a Local rooted at dataDir, creating it if needed.
func NewLocal(dataDir string, logger *slog.Logger) (*Local, error) {
	if dataDir == "" {
		return nil, errors.New("data dir is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{DataDir: dataDir, logger: logger}, nil
}

// Path resolves rel under the data directory.
func (s *Local) Path(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("path %q escapes the data directory", rel)
	}
	return filepath.Join(s.DataDir, clean), nil
}

// WriteNDJSON replaces rel with one JSON document per record.
func WriteNDJSON[T any](s *Local, rel string, records []T) error {
	path, err := s.Path(rel)
	if err != nil {
		return err
	}
	data, err := encodeLines(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rel, err)
	}
	if err := jsonfile.WriteBytesAtomic(path, data); err != nil {
		return err
	}
	s.logger.Info("wrote ndjson", "path", path, "records", len(records))
	return nil
}

// ReadNDJSON decodes every non-blank line of rel. A missing file yields no records.
func ReadNDJSON[T any](s *Local, rel string) ([]T, error) {
	path, err := s.Path(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("ndjson not found", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", rel, line, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// WriteJSON atomically replaces rel with v.
func (s *Local) WriteJSON(rel string, v any) error {
	path, err := s.Path(rel)
	if err != nil {
		return err
	}
	if err := jsonfile.WriteAtomic(path, v); err != nil {
		return err
	}
	s.logger.Info("wrote json", "path", path)
	return nil
}

func encodeLines[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
