// Package workdir manages the private working directory each analysis run
// owns for its lifetime.
package workdir

import (
	"fmt"
	"log/slog"
	"os"
)

// Manager hands out uniquely-named private directories and guarantees their
// removal. Concurrent runs never share a directory, so no locking is needed
// between them.
type Manager struct {
	logger *slog.Logger

	// root is the parent for new directories; empty means the system
	// temp directory.
	root string
}

// New creates a Manager placing directories under root, or under the system
// temp directory when root is empty.
func New(logger *slog.Logger, root string) *Manager {
	return &Manager{logger: logger, root: root}
}

// Acquire creates a private working directory for the given run and returns
// it with a release function. Release removes the directory and everything
// in it; callers must invoke it on every exit path. A removal failure is
// logged as a warning and never escalated — the run's outcome does not
// depend on cleanup succeeding.
func (m *Manager) Acquire(runID string) (string, func(), error) {
	dir, err := os.MkdirTemp(m.root, "moran-run-"+runID+"-")
	if err != nil {
		return "", nil, fmt.Errorf("create working directory: %w", err)
	}

	release := func() {
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("working directory cleanup failed", "run_id", runID, "dir", dir, "error", err)
		}
	}

	return dir, release, nil
}
