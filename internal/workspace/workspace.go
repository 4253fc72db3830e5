// Package workspace manages isolated per-job scratch directories under a
// single configured root. Each job owns exactly one directory for the span
// of its engine invocation; release is idempotent and best-effort.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrResourceExhausted is returned when a workspace directory cannot be
// allocated (disk or inode limits, unwritable root).
var ErrResourceExhausted = errors.New("workspace allocation failed")

// ErrRootLocked is returned when another process already owns the root.
var ErrRootLocked = errors.New("workspace root is locked by another process")

const lockFileName = ".scoreforge.lock"

// Manager allocates and destroys per-job workspace directories.
type Manager struct {
	root   string
	lock   *flock.Flock
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]string // jobID → directory
}

// NewManager creates the workspace root if needed and takes an exclusive
// advisory lock on it so two orchestrator instances cannot share a root.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	lock := flock.New(filepath.Join(root, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock workspace root: %w", err)
	}
	if !locked {
		return nil, ErrRootLocked
	}

	return &Manager{
		root:   root,
		lock:   lock,
		logger: logger,
		active: make(map[string]string),
	}, nil
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// Acquire allocates a unique, caller-writable directory for the given job.
func (m *Manager) Acquire(jobID string) (string, error) {
	dir, err := os.MkdirTemp(m.root, jobID+"-")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}

	m.mu.Lock()
	m.active[jobID] = dir
	m.mu.Unlock()
	activeWorkspaces.Inc()

	return dir, nil
}

// Release recursively removes the job's workspace. Safe to call multiple
// times; removal failures are logged as warnings and never propagated,
// since they do not affect an already-captured result.
func (m *Manager) Release(jobID string) {
	m.mu.Lock()
	dir, ok := m.active[jobID]
	if ok {
		delete(m.active, jobID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	activeWorkspaces.Dec()

	if err := os.RemoveAll(dir); err != nil {
		releaseFailures.Inc()
		m.logger.Warn("workspace release failed", "job_id", jobID, "dir", dir, "error", err)
	}
}

// ActiveCount returns the number of live workspaces.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close releases the root lock. Live workspaces are left in place for
// inspection; they belong to jobs that never completed.
func (m *Manager) Close() error {
	return m.lock.Unlock()
}
