// Package crawler performs bounded, same-host, breadth-first traversal of a
// website starting from a seed URL.
package crawler

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/promtior/sitechat/engine/domain"
	"github.com/promtior/sitechat/engine/textnorm"
)

// Crawl bounds used when Options leaves them zero.
const (
	DefaultMaxPages = 25
	DefaultMaxDepth = 2
	DefaultTimeout  = 15 * time.Second
	DefaultDelay    = 200 * time.Millisecond
)

// SkipReason says why a dequeued URL did not produce a page.
type SkipReason int

const (
	Fetched SkipReason = iota
	SkipVisited
	SkipDepth
	SkipForeignHost
	SkipFetchError
	SkipTooShort
)

func (r SkipReason) String() string {
	switch r {
	case Fetched:
		return "fetched"
	case SkipVisited:
		return "visited"
	case SkipDepth:
		return "depth"
	case SkipForeignHost:
		return "foreign_host"
	case SkipFetchError:
		return "fetch_error"
	case SkipTooShort:
		return "too_short"
	}
	return "unknown"
}

// Outcome is the result of processing one queue entry. Page is set only when
// Reason is Fetched; Err only when Reason is SkipFetchError.
type Outcome struct {
	Entry  domain.CrawlQueueEntry
	Reason SkipReason
	Page   domain.CrawledPage
	Chars  int
	Err    error
}

// OK reports whether the outcome produced a page.
func (o Outcome) OK() bool { return o.Reason == Fetched }

// Options bounds a crawl run.
type Options struct {
	MaxPages int
	MaxDepth int
	Timeout  time.Duration
	Delay    time.Duration
}

// DefaultOptions returns the default crawl bounds.
func DefaultOptions() Options {
	return Options{
		MaxPages: DefaultMaxPages,
		MaxDepth: DefaultMaxDepth,
		Timeout:  DefaultTimeout,
		Delay:    DefaultDelay,
	}
}

// Crawler walks one site. A Crawler is not safe for concurrent use; each run
// keeps its own visited set.
type Crawler struct {
	fetcher Fetcher
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a crawler. Zero-valued options fall back to the defaults, except
// MaxDepth where zero is meaningful.
func New(fetcher Fetcher, opts Options, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	return &Crawler{
		fetcher: fetcher,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Crawl returns the pages reachable from seed within the configured bounds,
// in breadth-first order.
func (c *Crawler) Crawl(ctx context.Context, seed string) ([]domain.CrawledPage, error) {
	return c.Walk(ctx, seed, nil)
}

// Walk is Crawl with a callback receiving every outcome, including skips.
// Page failures never abort the walk; only an invalid seed or a cancelled
// context return an error, alongside the pages collected so far.
func (c *Crawler) Walk(ctx context.Context, seed string, visit func(Outcome)) ([]domain.CrawledPage, error) {
	seed = domain.NormalizeURL(seed)
	if err := domain.ValidateSeedURL(seed); err != nil {
		return nil, err
	}
	if visit == nil {
		visit = func(Outcome) {}
	}

	seedHost := domain.Host(seed)
	queue := []domain.CrawlQueueEntry{{URL: seed, Depth: 0}}
	visited := make(map[string]struct{})
	var pages []domain.CrawledPage

	for len(queue) > 0 && len(pages) < c.opts.MaxPages {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		entry := queue[0]
		queue = queue[1:]
		entry.URL = domain.NormalizeURL(entry.URL)

		if _, seen := visited[entry.URL]; seen {
			visit(Outcome{Entry: entry, Reason: SkipVisited})
			continue
		}
		visited[entry.URL] = struct{}{}

		if entry.Depth > c.opts.MaxDepth {
			visit(Outcome{Entry: entry, Reason: SkipDepth})
			continue
		}
		if domain.Host(entry.URL) != seedHost {
			visit(Outcome{Entry: entry, Reason: SkipForeignHost})
			continue
		}

		out, links := c.fetch(ctx, entry)
		visit(out)
		if !out.OK() {
			if ctx.Err() != nil {
				return pages, ctx.Err()
			}
			continue
		}
		pages = append(pages, out.Page)

		for _, link := range links {
			if _, seen := visited[link]; seen {
				continue
			}
			if domain.Host(link) != seedHost {
				continue
			}
			queue = append(queue, domain.CrawlQueueEntry{URL: link, Depth: entry.Depth + 1})
		}
	}

	c.logger.Info("crawl finished", "seed", seed, "pages", len(pages), "visited", len(visited))
	return pages, nil
}

// fetch downloads and normalizes one entry, honouring the politeness throttle.
func (c *Crawler) fetch(ctx context.Context, entry domain.CrawlQueueEntry) (Outcome, []string) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Outcome{Entry: entry, Reason: SkipFetchError, Err: err}, nil
	}

	fctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	raw, err := c.fetcher.Fetch(fctx, entry.URL)
	if err != nil {
		c.logger.Warn("fetch failed", "url", entry.URL, "depth", entry.Depth, "err", err)
		return Outcome{Entry: entry, Reason: SkipFetchError, Err: err}, nil
	}

	doc := textnorm.Extract(entry.URL, raw)
	chars := utf8.RuneCountInString(doc.Text)
	if chars < domain.MinPageChars {
		c.logger.Debug("page skipped", "url", entry.URL, "reason", SkipTooShort.String(), "chars", chars)
		return Outcome{Entry: entry, Reason: SkipTooShort, Chars: chars}, nil
	}

	c.logger.Debug("page fetched", "url", entry.URL, "depth", entry.Depth, "chars", chars)
	return Outcome{
		Entry:  entry,
		Reason: Fetched,
		Page:   domain.CrawledPage{URL: entry.URL, Text: doc.Text},
		Chars:  chars,
	}, doc.Links
}
