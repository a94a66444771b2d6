// Package snapshot produces point-in-time copies of a live SQLite-backed
// store (primary file plus WAL/SHM sidecars) so collectors can read it
// without touching the application's own database locks.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Snapshot is an isolated directory holding a copy of the store at a
// single instant. The owner must call Release on every exit path.
type Snapshot struct {
	// Dir is the private temporary directory holding the copies.
	Dir string

	// PrimaryPath is the copied main database file within Dir.
	PrimaryPath string

	releaseOnce sync.Once
	logger      *slog.Logger
}

// Manager creates and releases snapshots.
type Manager struct {
	tmpRoot string
	logger  *slog.Logger
}

// NewManager creates a Manager placing snapshots under tmpRoot
// (os.TempDir() when empty).
func NewManager(tmpRoot string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{tmpRoot: tmpRoot, logger: logger}
}

// Create copies sourcePath and, when present, its "-wal" and "-shm"
// sidecars into a fresh temporary directory. A missing sidecar is not an
// error: a fully checkpointed store has none. Failure to copy the primary
// file is fatal. No locks are taken on the source; consistency is
// best-effort point-in-time, acceptable because rows are re-read
// idempotently by identifier.
func (m *Manager) Create(ctx context.Context, sourcePath string) (*Snapshot, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, fmt.Errorf("snapshot: stat source %q: %w", sourcePath, err)
	}

	root := m.tmpRoot
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "snap-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}

	snap := &Snapshot{
		Dir:         dir,
		PrimaryPath: filepath.Join(dir, filepath.Base(sourcePath)),
		logger:      m.logger,
	}

	if err := copyFile(ctx, sourcePath, snap.PrimaryPath); err != nil {
		snap.Release()
		return nil, fmt.Errorf("snapshot: copy primary: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		src := sourcePath + suffix
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		dst := snap.PrimaryPath + suffix
		if err := copyFile(ctx, src, dst); err != nil {
			// Sidecar copy failure is logged and ignored; the primary
			// copy alone still yields a usable (if older) view.
			m.logger.Warn("snapshot: sidecar copy failed", "path", src, "error", err)
		}
	}

	return snap, nil
}

// OpenReadOnly opens the snapshot copy read-only. The WAL sidecar, when
// copied, is replayed by SQLite on open.
func (s *Snapshot) OpenReadOnly() (*sql.DB, error) {
	dsn := "file:" + s.PrimaryPath + "?mode=ro&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open copy: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: ping copy: %w", err)
	}
	return db, nil
}

// Release deletes the snapshot directory. Safe to call more than once.
func (s *Snapshot) Release() {
	s.releaseOnce.Do(func() {
		if err := os.RemoveAll(s.Dir); err != nil && s.logger != nil {
			s.logger.Warn("snapshot: release failed", "dir", s.Dir, "error", err)
		}
	})
}

// copyFile copies src to dst, checking ctx between the open and the copy.
func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
