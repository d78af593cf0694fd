// Package workspace manages per-job scratch directories. Every render job
// gets an exclusive directory under the configured root, and the directory is
// removed on every exit path regardless of outcome.
package workspace

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

type Manager struct {
	root string
}

func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root %s: %w", root, err)
	}
	return &Manager{root: root}, nil
}

// Acquire creates an empty, job-exclusive directory. A leftover tree from a
// crashed previous run with the same id is removed first.
func (m *Manager) Acquire(renderID string) (string, error) {
	dir := filepath.Join(m.root, "render_"+renderID)

	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear stale workspace %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace %s: %w", dir, err)
	}

	return dir, nil
}

// Release removes the workspace tree. Removal failure is logged and never
// escalated: the job has already reached its terminal state.
func (m *Manager) Release(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Printf("[Workspace] failed to remove %s: %v", dir, err)
	}
}
