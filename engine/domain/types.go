// Package domain defines the core data model shared by the ingestion and
// query pipelines: crawled pages, chunks, index entries and the errors that
// cross package boundaries.
package domain

import "time"

// MinPageChars is the minimum normalized text length for a crawled page to
// be kept. Shorter pages are redirects, empty shells or cookie walls.
const MinPageChars = 200

// CrawledPage is one fetched, same-domain, non-trivial page.
type CrawledPage struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// CrawlQueueEntry is a pending URL in the breadth-first traversal.
type CrawlQueueEntry struct {
	URL   string
	Depth int
}

// CacheRecord is one manifest entry of the raw cache.
type CacheRecord struct {
	URL   string `json:"url"`
	File  string `json:"file"`
	Chars int    `json:"chars"`
}

// Chunk is a window of a page's text ready for embedding.
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	// Index is the ordinal of the chunk within its source page.
	Index int `json:"index"`
	// Start and End are rune offsets into the source page text.
	Start int `json:"start"`
	End   int `json:"end"`
}

// IndexEntry is a stored (embedding, text, source) triple.
type IndexEntry struct {
	Embedding []float32 `json:"embedding"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
}

// SearchHit is an IndexEntry returned by a similarity search.
type SearchHit struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float32 `json:"score"`
}

// RunReport summarizes one ingestion run.
type RunReport struct {
	RunID      string        `json:"run_id"`
	SeedURL    string        `json:"seed_url"`
	Pages      int           `json:"pages"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Chunks     int           `json:"chunks"`
	Collection string        `json:"collection"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}
