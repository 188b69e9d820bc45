package repl

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewHistory(t *testing.T) {
	h := NewHistory("", 0)
	if h.maxSize != DefaultHistorySize {
		t.Errorf("maxSize = %d, want %d", h.maxSize, DefaultHistorySize)
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
}

func TestHistory_Add(t *testing.T) {
	h := NewHistory("", 3)

	h.Add("cmd1")
	h.Add("cmd2")
	h.Add("cmd2") // consecutive duplicate
	h.Add("cmd3")
	h.Add("cmd4") // evicts cmd1

	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}
	if h.entries[0] != "cmd2" {
		t.Errorf("entries[0] = %q, want %q", h.entries[0], "cmd2")
	}
}

func TestHistory_Get(t *testing.T) {
	h := NewHistory("", 0)
	h.Add("first")
	h.Add("second")
	h.Add("third")

	tests := []struct {
		index int
		want  string
	}{
		{0, "third"},
		{1, "second"},
		{2, "first"},
		{3, ""},
		{-1, ""},
	}
	for _, tt := range tests {
		if got := h.Get(tt.index); got != tt.want {
			t.Errorf("Get(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

func TestHistory_SaveLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "history")

	h := NewHistory(file, 0)
	h.Add("deposit")
	h.Add("1.5")
	if err := h.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(file)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}

	loaded := NewHistory(file, 0)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Len() != 2 || loaded.Get(0) != "1.5" || loaded.Get(1) != "deposit" {
		t.Errorf("loaded entries = %v", loaded.entries)
	}
}

func TestHistory_LoadMissing(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "missing"), 0)
	if err := h.Load(); err != nil {
		t.Errorf("Load() error = %v, want nil", err)
	}
}

func TestHistory_MemoryOnly(t *testing.T) {
	h := NewHistory("", 0)
	h.Add("x")
	if err := h.Save(); err != nil {
		t.Errorf("Save() error = %v", err)
	}
	if err := h.Load(); err != nil {
		t.Errorf("Load() error = %v", err)
	}
}
