package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newStartedWatcher(t *testing.T, path string) (*Watcher, chan string) {
	t.Helper()
	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	changed := make(chan string, 10)
	w.OnChange(func(p string) {
		select {
		case changed <- p:
		default:
		}
	})
	w.StartAsync()
	// Give the goroutine a moment before generating events.
	time.Sleep(100 * time.Millisecond)
	return w, changed
}

func TestWatcher_Watch_NonexistentDir(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if err := w.Watch("/nonexistent/dir/archvault.yaml"); err == nil {
		t.Error("Watch() should fail for a missing directory")
	}
}

func TestWatcher_FileChange(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\n")
	_, changed := newStartedWatcher(t, path)

	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case got := <-changed:
		if filepath.Base(got) != "archvault.yaml" {
			t.Errorf("callback path = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Error("OnChange() callback was not triggered within timeout")
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\n")
	_, changed := newStartedWatcher(t, path)

	sibling := filepath.Join(filepath.Dir(path), "other.txt")
	if err := os.WriteFile(sibling, []byte("noise"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case got := <-changed:
		t.Errorf("callback fired for unrelated file %q", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.StartAsync()

	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
