package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireCreatesExclusiveDir(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	a, err := m.Acquire("job-a")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	b, err := m.Acquire("job-b")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if a == b {
		t.Fatal("two jobs share a workspace directory")
	}

	for _, dir := range []string{a, b} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("workspace %s missing: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("workspace %s is not a directory", dir)
		}
	}
}

func TestAcquireClearsStaleTree(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	dir, err := m.Acquire("job-a")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	stale := filepath.Join(dir, "leftover.mp4")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to plant stale file: %v", err)
	}

	// Re-acquiring the same id must yield an empty directory.
	dir2, err := m.Acquire("job-a")
	if err != nil {
		t.Fatalf("re-Acquire failed: %v", err)
	}
	if dir2 != dir {
		t.Fatalf("expected same path for same id, got %s vs %s", dir2, dir)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file survived re-acquire")
	}
}

func TestReleaseRemovesTree(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	dir, err := m.Acquire("job-a")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "clip_000.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	m.Release(dir)

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("workspace still exists after Release")
	}

	// Releasing an already-gone dir (or empty path) must not panic.
	m.Release(dir)
	m.Release("")
}
