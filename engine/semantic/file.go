package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/promtior/sitechat/engine/domain"
)

const snapshotVersion = 1

type snapshot struct {
	Version    int                 `json:"version"`
	Collection string              `json:"collection"`
	Dims       int                 `json:"dims"`
	BuiltAt    time.Time           `json:"built_at"`
	Entries    []domain.IndexEntry `json:"entries"`
}

// FileStore keeps the collection in memory and persists it as a JSON
// snapshot under dir. Replace writes the new snapshot to a temp file and
// renames it over the old one, so the on-disk collection is always complete.
// Search reloads the snapshot when another process has replaced it.
type FileStore struct {
	path       string
	collection string

	mu      sync.RWMutex
	entries []domain.IndexEntry
	dims    int
	modTime time.Time
}

// OpenFileStore opens (or lazily creates) the collection stored in dir.
func OpenFileStore(dir, collection string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("semantic: file store: %w", err)
	}
	s := &FileStore{
		path:       filepath.Join(dir, collection+".json"),
		collection: collection,
	}
	if err := s.reloadIfChanged(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the snapshot location.
func (s *FileStore) Path() string { return s.path }

// Len returns the number of entries currently loaded.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *FileStore) Replace(ctx context.Context, entries []domain.IndexEntry) error {
	dims := 0
	if len(entries) > 0 {
		dims = len(entries[0].Embedding)
	}
	for i, e := range entries {
		if len(e.Embedding) != dims {
			return fmt.Errorf("semantic: file store: entry %d has %d dims, want %d", i, len(e.Embedding), dims)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := snapshot{
		Version:    snapshotVersion,
		Collection: s.collection,
		Dims:       dims,
		BuiltAt:    time.Now().UTC(),
		Entries:    entries,
	}
	if snap.Entries == nil {
		snap.Entries = []domain.IndexEntry{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("semantic: file store: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("semantic: file store: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("semantic: file store: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("semantic: file store: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("semantic: file store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("semantic: file store: swap: %w", err)
	}

	info, _ := os.Stat(s.path)
	s.mu.Lock()
	s.entries = snap.Entries
	s.dims = dims
	if info != nil {
		s.modTime = info.ModTime()
	}
	s.mu.Unlock()
	return nil
}

func (s *FileStore) Search(ctx context.Context, embedding []float32, k int) ([]domain.SearchHit, error) {
	if err := s.reloadIfChanged(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	if len(embedding) != s.dims {
		return nil, fmt.Errorf("semantic: file store: query has %d dims, collection has %d", len(embedding), s.dims)
	}

	items := make([]ranked, len(s.entries))
	for i, e := range s.entries {
		items[i] = ranked{
			hit:     domain.SearchHit{Text: e.Text, Source: e.Source, Score: Cosine(embedding, e.Embedding)},
			ordinal: i,
		}
	}
	return topK(items, k), nil
}

// Reload forces the snapshot to be re-read from disk.
func (s *FileStore) Reload() error {
	s.mu.Lock()
	s.modTime = time.Time{}
	s.mu.Unlock()
	return s.reloadIfChanged()
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) reloadIfChanged() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("semantic: file store: %w", err)
	}

	s.mu.RLock()
	fresh := info.ModTime().Equal(s.modTime)
	s.mu.RUnlock()
	if fresh {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("semantic: file store: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("semantic: file store: decode %s: %w", s.path, err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("semantic: file store: unsupported snapshot version %d", snap.Version)
	}

	s.mu.Lock()
	s.entries = snap.Entries
	s.dims = snap.Dims
	s.modTime = info.ModTime()
	s.mu.Unlock()
	return nil
}
