package logs

import (
	"os"
	"path/filepath"
	"testing"
)

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func TestTailerMissingFile(t *testing.T) {
	tailer := NewTailer(filepath.Join(t.TempDir(), "absent.log"))

	lines, err := tailer.ReadNew()
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if lines != nil {
		t.Errorf("lines = %v", lines)
	}
}

func TestTailerIncrementalReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	tailer := NewTailer(path)

	appendFile(t, path, "first\nsecond\n")
	lines, err := tailer.ReadNew()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second" {
		t.Fatalf("lines = %v", lines)
	}

	// Nothing new: no lines, offset unchanged.
	offset := tailer.Offset()
	lines, err = tailer.ReadNew()
	if err != nil || len(lines) != 0 {
		t.Fatalf("re-read returned %v, %v", lines, err)
	}
	if tailer.Offset() != offset {
		t.Errorf("offset moved without new data")
	}

	appendFile(t, path, "third\n")
	lines, _ = tailer.ReadNew()
	if len(lines) != 1 || lines[0] != "third" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestTailerBuffersPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	tailer := NewTailer(path)

	appendFile(t, path, "complete\nincomp")
	lines, err := tailer.ReadNew()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "complete" {
		t.Fatalf("lines = %v", lines)
	}

	// The rest of the line arrives later and must come out whole.
	appendFile(t, path, "lete line\n")
	lines, _ = tailer.ReadNew()
	if len(lines) != 1 || lines[0] != "incomplete line" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestTailerTruncationResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	tailer := NewTailer(path)

	appendFile(t, path, "old one\nold two\n")
	if _, err := tailer.ReadNew(); err != nil {
		t.Fatal(err)
	}

	// Simulate log rotation: replace with shorter content.
	if err := os.WriteFile(path, []byte("fresh\n"), 0644); err != nil {
		t.Fatal(err)
	}

	lines, err := tailer.ReadNew()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "fresh" {
		t.Fatalf("after truncation lines = %v", lines)
	}
}

func TestTailerResumeFromOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	appendFile(t, path, "one\ntwo\n")

	first := NewTailer(path)
	if _, err := first.ReadNew(); err != nil {
		t.Fatal(err)
	}

	appendFile(t, path, "three\n")

	// A fresh tailer resuming from the stored offset sees only the tail.
	resumed := NewTailer(path, WithOffset(first.Offset()))
	lines, err := resumed.ReadNew()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "three" {
		t.Fatalf("resumed lines = %v", lines)
	}
}
