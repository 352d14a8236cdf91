package watch

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestFileWatcher_DetectsMetadataChange(t *testing.T) {
	tmpDir := t.TempDir()

	metadataFile := filepath.Join(tmpDir, "inventory.yml")
	otherFile := filepath.Join(tmpDir, "notes.txt")
	if err := os.WriteFile(metadataFile, []byte("service: {}\n"), 0o644); err != nil {
		t.Fatalf("Failed to create metadata file: %v", err)
	}

	var mu sync.Mutex
	var changes [][]string

	watcher, err := NewFileWatcher([]string{metadataFile}, 50*time.Millisecond, func(files []string) error {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, files)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Stop()

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(otherFile, []byte("ignored"), 0o644); err != nil {
		t.Fatalf("Failed to write other file: %v", err)
	}
	if err := os.WriteFile(metadataFile, []byte("service: {name: inventory}\n"), 0o644); err != nil {
		t.Fatalf("Failed to modify metadata file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) == 0 {
		t.Fatal("Expected metadata change to be detected")
	}
	for _, batch := range changes {
		for _, f := range batch {
			if f != metadataFile {
				t.Errorf("Unexpected file in change batch: %s", f)
			}
		}
	}
}

func TestFileWatcher_Run(t *testing.T) {
	tmpDir := t.TempDir()
	metadataFile := filepath.Join(tmpDir, "inventory.yml")
	if err := os.WriteFile(metadataFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	watcher, err := NewFileWatcher([]string{metadataFile}, 0, func([]string) error { return nil }, nil)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := watcher.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	// Stop is idempotent
	if err := watcher.Stop(); err != nil {
		t.Fatalf("Second Stop returned error: %v", err)
	}
}

func TestNewFileWatcher_RequiresFiles(t *testing.T) {
	if _, err := NewFileWatcher(nil, 0, func([]string) error { return nil }, nil); err == nil {
		t.Fatal("Expected error without files")
	}
}

func TestDebouncer_Add(t *testing.T) {
	var mu sync.Mutex
	var calls [][]string

	debouncer := NewDebouncer(50 * time.Millisecond)
	debouncer.SetCallback(func(f []string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, f)
	})

	debouncer.Add("b.yml")
	debouncer.Add("a.yml")
	debouncer.Add("b.yml")

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("Expected one callback, got %d", len(calls))
	}
	if !reflect.DeepEqual(calls[0], []string{"a.yml", "b.yml"}) {
		t.Errorf("Expected sorted, deduplicated files, got %v", calls[0])
	}
}

func TestDebouncer_Stop(t *testing.T) {
	var mu sync.Mutex
	called := false

	debouncer := NewDebouncer(50 * time.Millisecond)
	debouncer.SetCallback(func([]string) {
		mu.Lock()
		defer mu.Unlock()
		called = true
	})

	debouncer.Add("a.yml")
	debouncer.Stop()
	debouncer.Add("b.yml")

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if called {
		t.Error("Expected no callback after Stop")
	}
}
