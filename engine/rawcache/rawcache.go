// Package rawcache persists crawled pages as plain-text files plus a JSON
// manifest so a run can be inspected or replayed without re-crawling.
package rawcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/promtior/sitechat/engine/domain"
)

// ManifestName is the manifest file written in the cache directory.
const ManifestName = "index.json"

// FileName returns the cache file name for a URL: the first 16 hex digits of
// its SHA-256 followed by ".txt".
func FileName(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16] + ".txt"
}

// Write stores every page and replaces the manifest. Files referenced only by
// the previous manifest are removed. The manifest is written last, through a
// temp file and rename, so a crash never leaves a manifest pointing at
// missing files.
func Write(dir string, pages []domain.CrawledPage) ([]domain.CacheRecord, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rawcache: mkdir: %w", err)
	}

	previous, _ := readManifest(dir)

	records := make([]domain.CacheRecord, 0, len(pages))
	keep := make(map[string]bool, len(pages))
	for _, p := range pages {
		name := FileName(p.URL)
		if err := writeFileAtomic(filepath.Join(dir, name), []byte(p.Text)); err != nil {
			return nil, fmt.Errorf("rawcache: write %s: %w", p.URL, err)
		}
		keep[name] = true
		records = append(records, domain.CacheRecord{
			URL:   p.URL,
			File:  name,
			Chars: utf8.RuneCountInString(p.Text),
		})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rawcache: encode manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, ManifestName), data); err != nil {
		return nil, fmt.Errorf("rawcache: write manifest: %w", err)
	}

	for _, r := range previous {
		if !keep[r.File] && filepath.Base(r.File) == r.File {
			os.Remove(filepath.Join(dir, r.File))
		}
	}
	return records, nil
}

// Manifest returns the records of the last successful Write.
func Manifest(dir string) ([]domain.CacheRecord, error) {
	records, err := readManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("rawcache: %w", err)
	}
	return records, nil
}

// Load reads the cached pages back in manifest order. It fails with
// ErrCacheCorrupt when any file is missing or its length disagrees with the
// manifest.
func Load(dir string) ([]domain.CrawledPage, error) {
	records, err := readManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("rawcache: %w", err)
	}
	pages := make([]domain.CrawledPage, 0, len(records))
	for _, r := range records {
		text, err := readRecord(dir, r)
		if err != nil {
			return nil, fmt.Errorf("rawcache: load: %w", err)
		}
		pages = append(pages, domain.CrawledPage{URL: r.URL, Text: text})
	}
	return pages, nil
}

// Verify checks every manifest entry against the files on disk and reports
// all problems found, each wrapping ErrCacheCorrupt.
func Verify(dir string) error {
	records, err := readManifest(dir)
	if err != nil {
		return fmt.Errorf("rawcache: %w", err)
	}
	var errs []error
	for _, r := range records {
		if _, err := readRecord(dir, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func readManifest(dir string) ([]domain.CacheRecord, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var records []domain.CacheRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", domain.ErrCacheCorrupt, err)
	}
	return records, nil
}

func readRecord(dir string, r domain.CacheRecord) (string, error) {
	if r.File == "" || filepath.Base(r.File) != r.File {
		return "", fmt.Errorf("%w: %s: bad file name %q", domain.ErrCacheCorrupt, r.URL, r.File)
	}
	data, err := os.ReadFile(filepath.Join(dir, r.File))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrCacheCorrupt, r.URL, err)
	}
	if n := utf8.RuneCount(data); n != r.Chars {
		return "", fmt.Errorf("%w: %s: %d chars on disk, manifest says %d", domain.ErrCacheCorrupt, r.URL, n, r.Chars)
	}
	return string(data), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
