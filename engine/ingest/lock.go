package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/promtior/sitechat/engine/domain"
)

// LockName is the lock file created next to the index while a run is active.
const LockName = ".ingest.lock"

// StaleLockAfter is the age after which a leftover lock is considered
// abandoned by a crashed run and taken over.
const StaleLockAfter = 2 * time.Hour

// lock is an exclusive, process-wide ingestion lock backed by a file.
type lock struct{ path string }

func acquireLock(dir, runID string, now time.Time) (*lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ingest: lock: %w", err)
	}
	path := filepath.Join(dir, LockName)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%s %d %s\n", runID, os.Getpid(), now.UTC().Format(time.RFC3339))
			f.Close()
			return &lock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("ingest: lock: %w", err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil || now.Sub(info.ModTime()) < StaleLockAfter {
			return nil, fmt.Errorf("ingest: %s: %w", path, domain.ErrIngestRunning)
		}
		os.Remove(path)
	}
	return nil, fmt.Errorf("ingest: %s: %w", path, domain.ErrIngestRunning)
}

func (l *lock) release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ingest: unlock: %w", err)
	}
	return nil
}
