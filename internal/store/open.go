package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Backend is a pipeline.Store that holds resources until closed.
type Backend interface {
	pipeline.Store
	Close() error
}

// Open opens the named backend under stateDir. An empty path selects the
// backend's default location inside stateDir.
func Open(backend, stateDir, path string) (Backend, error) {
	switch backend {
	case "", BackendFile:
		if path == "" {
			path = filepath.Join(stateDir, "pipelines")
		}
		return NewFileStore(path)
	case BackendSQLite:
		if path == "" {
			path = filepath.Join(stateDir, "foreman.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
