package jsonfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAtomicAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")

	if err := WriteAtomic(path, map[string]int{"a": 1}); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	var got map[string]int
	found, err := Read(path, &got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !found || got["a"] != 1 {
		t.Errorf("Read = %v, %v; want a=1", got, found)
	}
}

func TestRead_MissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	var v map[string]any
	found, err := Read(filepath.Join(dir, "missing.json"), &v)
	if err != nil || found {
		t.Errorf("missing file: found=%v err=%v", found, err)
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	found, err = Read(empty, &v)
	if err != nil || found {
		t.Errorf("empty file: found=%v err=%v", found, err)
	}
}

func TestRead_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"a":`), 0o644); err != nil {
		t.Fatal(err)
	}
	var v map[string]any
	if _, err := Read(path, &v); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWriteAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	for i := 0; i < 3; i++ {
		if err := WriteAtomic(path, map[string]int{"n": i}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected only doc.json, got %v", names)
	}
}

func TestWriteAtomic_MarshalFailureKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := WriteAtomic(path, map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if err := WriteAtomic(path, map[string]any{"bad": make(chan int)}); err == nil {
		t.Fatal("expected marshal error")
	}
	var got map[string]int
	if _, err := Read(path, &got); err != nil {
		t.Fatalf("previous document unreadable: %v", err)
	}
	if got["n"] != 1 {
		t.Errorf("expected previous document intact, got %v", got)
	}
}
