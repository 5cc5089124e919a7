package storage

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type rec struct {
	ID   string `json:"id"`
	Text string `json:"text,omitempty"`
}

func newLocal(t *testing.T) *Local {
	t.Helper()
	s, err := NewLocal(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNDJSON_WriteRead(t *testing.T) {
	s := newLocal(t)

	if err := WriteNDJSON(s, "botmaker/run-1/chats.ndjson", []rec{{ID: "stale"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteNDJSON(s, "botmaker/run-1/chats.ndjson", []rec{{ID: "a"}, {ID: "b", Text: "<ñ>"}, {ID: "c"}}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	got, err := ReadNDJSON[rec](s, "botmaker/run-1/chats.ndjson")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 || got[0].ID != "a" || got[1].Text != "<ñ>" || got[2].ID != "c" {
		t.Errorf("records = %+v", got)
	}

	raw, _ := os.ReadFile(filepath.Join(s.DataDir, "botmaker", "run-1", "chats.ndjson"))
	if strings.Contains(string(raw), `\u003c`) || !strings.Contains(string(raw), "<ñ>") {
		t.Errorf("html characters should be written verbatim: %s", raw)
	}
	if n := strings.Count(string(raw), "\n"); n != 3 {
		t.Errorf("got %d lines", n)
	}
}

func TestReadNDJSON_MissingIsEmpty(t *testing.T) {
	got, err := ReadNDJSON[rec](newLocal(t), "nope/messages.ndjson")
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestReadNDJSON_SkipsBlankLinesAndReportsBadLine(t *testing.T) {
	s := newLocal(t)
	path := filepath.Join(s.DataDir, "x.ndjson")
	os.WriteFile(path, []byte("{\"id\":\"a\"}\n\n   \n{\"id\":\"b\"}\n"), 0o644)

	got, err := ReadNDJSON[rec](s, "x.ndjson")
	if err != nil || len(got) != 2 {
		t.Fatalf("got %v, %v", got, err)
	}

	os.WriteFile(path, []byte("{\"id\":\"a\"}\n{broken\n"), 0o644)
	if _, err := ReadNDJSON[rec](s, "x.ndjson"); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line 2 error, got %v", err)
	}
}

func TestWriteJSON(t *testing.T) {
	s := newLocal(t)
	if err := s.WriteJSON("run/summary.json", map[string]any{"type": "extract"}); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(filepath.Join(s.DataDir, "run", "summary.json"))
	if err != nil || !strings.Contains(string(raw), `"type"`) {
		t.Errorf("got %s, %v", raw, err)
	}
	if err := s.WriteJSON("../summary.json", map[string]any{}); err == nil {
		t.Error("expected error for path escaping the data dir")
	}
}

func TestPath_RejectsEscape(t *testing.T) {
	s := newLocal(t)
	if _, err := s.Path("../outside.ndjson"); err == nil {
		t.Error("expected error for path escaping the data dir")
	}
	if err := WriteNDJSON(s, "/etc/passwd", []rec{{ID: "x"}}); err == nil {
		t.Error("absolute paths must be rejected")
	}
}

func TestNewLocal_RequiresDir(t *testing.T) {
	if _, err := NewLocal("", nil); err == nil {
		t.Error("expected error for empty data dir")
	}
}
