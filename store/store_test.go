package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingKey(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var out map[string]string
	ok, err := s.Load("never_saved", &out)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ok {
		t.Fatalf("Load() ok = true for missing key")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	in := map[string]string{
		"-1002648811668": "75",
		"123456":         "100",
	}
	if err := s.Save("percentages", in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var out map[string]string
	ok, err := s.Load("percentages", &out)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !ok {
		t.Fatalf("Load() ok = false after Save")
	}
	if len(out) != len(in) {
		t.Fatalf("Load() got %d entries, want %d", len(out), len(in))
	}
	for k, v := range in {
		if out[k] != v {
			t.Fatalf("Load()[%q] = %q, want %q", k, out[k], v)
		}
	}
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.Save("settings", map[string]bool{"forwarding_enabled": true}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save("settings", map[string]bool{"forwarding_enabled": false}); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	var out map[string]bool
	if _, err := s.Load("settings", &out); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if out["forwarding_enabled"] {
		t.Fatalf("Load() returned stale value after overwrite")
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			t.Fatalf("unexpected leftover file %q", e.Name())
		}
	}
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "empty.json"), []byte("  \n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	var out map[string]string
	ok, err := s.Load("empty", &out)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ok {
		t.Fatalf("Load() ok = true for blank file")
	}
}
