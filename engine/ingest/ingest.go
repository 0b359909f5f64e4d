// Package ingest runs the offline half of the system: crawl the site, cache
// the raw text, chunk it and rebuild the vector index in one exclusive run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/promtior/sitechat/engine/chunker"
	"github.com/promtior/sitechat/engine/crawler"
	"github.com/promtior/sitechat/engine/domain"
	"github.com/promtior/sitechat/engine/rawcache"
	"github.com/promtior/sitechat/pkg/fn"
	"github.com/promtior/sitechat/pkg/metrics"
)

// Crawler walks a site and reports every queue outcome.
type Crawler interface {
	Walk(ctx context.Context, seed string, visit func(crawler.Outcome)) ([]domain.CrawledPage, error)
}

// Indexer replaces the searchable collection.
type Indexer interface {
	Rebuild(ctx context.Context, chunks []domain.Chunk) error
}

// Config holds the per-deployment settings of a pipeline.
type Config struct {
	SeedURL    string
	RawDir     string
	LockDir    string
	Collection string
	// CacheFatal aborts the run when the raw cache cannot be written.
	CacheFatal bool
}

// Deps holds the collaborators of a pipeline. Notifier, Metrics and Logger
// may be nil.
type Deps struct {
	Crawler  Crawler
	Splitter *chunker.Splitter
	Index    Indexer
	Notifier Notifier
	Metrics  *metrics.Set
	Logger   *slog.Logger
}

// Pipeline is the ingestion pipeline. Runs are serialized by a lock file, so
// one Pipeline (or several processes sharing LockDir) never rebuild at once.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	if deps.Splitter == nil {
		deps.Splitter = chunker.Default()
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{cfg: cfg, deps: deps, log: log, now: time.Now}
}

// run carries the counters of one run between stages.
type run struct {
	report domain.RunReport
	log    *slog.Logger
}

// Run crawls the seed and publishes a fresh index built from it.
func (p *Pipeline) Run(ctx context.Context) (domain.RunReport, error) {
	return p.execute(ctx, "crawl", func(r *run) fn.Stage[string, int] {
		return fn.Then(fn.TracedStage("ingest.crawl", p.crawlStage(r)),
			fn.Then(fn.TracedStage("ingest.cache", p.cacheStage(r)), p.indexStages(r)))
	})
}

// RunFromCache rebuilds the index from the raw cache without crawling.
func (p *Pipeline) RunFromCache(ctx context.Context) (domain.RunReport, error) {
	return p.execute(ctx, "cache", func(r *run) fn.Stage[string, int] {
		return fn.Then(fn.TracedStage("ingest.load_cache", p.loadStage(r)), p.indexStages(r))
	})
}

func (p *Pipeline) execute(ctx context.Context, source string, build func(*run) fn.Stage[string, int]) (domain.RunReport, error) {
	start := p.now()
	r := &run{report: domain.RunReport{
		RunID:      uuid.NewString(),
		SeedURL:    p.cfg.SeedURL,
		Collection: p.cfg.Collection,
		StartedAt:  start.UTC(),
	}}
	r.log = p.log.With("run_id", r.report.RunID)

	lk, err := acquireLock(p.cfg.LockDir, r.report.RunID, start)
	if err != nil {
		return r.report, err
	}
	defer func() {
		if err := lk.release(); err != nil {
			r.log.Warn("release ingest lock", "err", err)
		}
	}()

	p.deps.Metrics.IngestStarted()
	r.log.Info("ingestion started", "source", source, "seed", p.cfg.SeedURL)

	_, err = build(r)(ctx, p.cfg.SeedURL).Unwrap()
	r.report.Duration = time.Since(start)
	p.deps.Metrics.IngestFinished(start, r.report.Chunks, err)
	if err != nil {
		r.log.Error("ingestion failed", "err", err, "duration", r.report.Duration)
		return r.report, err
	}

	r.log.Info("ingestion finished",
		"pages", r.report.Pages,
		"skipped", r.report.Skipped,
		"failed", r.report.Failed,
		"chunks", r.report.Chunks,
		"duration", r.report.Duration,
	)
	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.IndexRebuilt(ctx, r.report); err != nil {
			r.log.Warn("index rebuilt notification failed", "err", err)
		}
	}
	return r.report, nil
}

func (p *Pipeline) crawlStage(r *run) fn.Stage[string, []domain.CrawledPage] {
	return func(ctx context.Context, seed string) fn.Result[[]domain.CrawledPage] {
		pages, err := p.deps.Crawler.Walk(ctx, seed, func(o crawler.Outcome) {
			switch {
			case o.OK():
				p.deps.Metrics.PageFetched()
			case o.Reason == crawler.SkipFetchError:
				r.report.Failed++
				p.deps.Metrics.PageSkipped(o.Reason.String())
			default:
				r.report.Skipped++
				p.deps.Metrics.PageSkipped(o.Reason.String())
			}
		})
		if err != nil {
			return fn.Err[[]domain.CrawledPage](fmt.Errorf("ingest: crawl: %w", err))
		}
		if len(pages) == 0 {
			return fn.Err[[]domain.CrawledPage](fmt.Errorf("ingest: crawl of %s produced no pages: %w", seed, domain.ErrFetch))
		}
		r.report.Pages = len(pages)
		return fn.Ok(pages)
	}
}

func (p *Pipeline) cacheStage(r *run) fn.Stage[[]domain.CrawledPage, []domain.CrawledPage] {
	return func(_ context.Context, pages []domain.CrawledPage) fn.Result[[]domain.CrawledPage] {
		records, err := rawcache.Write(p.cfg.RawDir, pages)
		if err != nil {
			if p.cfg.CacheFatal {
				return fn.Err[[]domain.CrawledPage](fmt.Errorf("ingest: %w", err))
			}
			r.log.Warn("raw cache not written, continuing", "dir", p.cfg.RawDir, "err", err)
			return fn.Ok(pages)
		}
		r.log.Info("raw cache written", "dir", p.cfg.RawDir, "files", len(records))
		return fn.Ok(pages)
	}
}

func (p *Pipeline) loadStage(r *run) fn.Stage[string, []domain.CrawledPage] {
	return func(context.Context, string) fn.Result[[]domain.CrawledPage] {
		if err := rawcache.Verify(p.cfg.RawDir); err != nil {
			return fn.Err[[]domain.CrawledPage](fmt.Errorf("ingest: %w", err))
		}
		pages, err := rawcache.Load(p.cfg.RawDir)
		if err != nil {
			return fn.Err[[]domain.CrawledPage](fmt.Errorf("ingest: %w", err))
		}
		if len(pages) == 0 {
			return fn.Err[[]domain.CrawledPage](fmt.Errorf("ingest: raw cache %s is empty: %w", p.cfg.RawDir, domain.ErrCacheCorrupt))
		}
		r.report.Pages = len(pages)
		return fn.Ok(pages)
	}
}

// indexStages chunks pages and rebuilds the index, yielding the chunk count.
func (p *Pipeline) indexStages(r *run) fn.Stage[[]domain.CrawledPage, int] {
	var chunk fn.Stage[[]domain.CrawledPage, []domain.Chunk] = func(_ context.Context, pages []domain.CrawledPage) fn.Result[[]domain.Chunk] {
		return fn.Ok(p.deps.Splitter.Split(pages))
	}
	var count fn.Stage[[]domain.Chunk, []domain.Chunk] = fn.TapStage(func(_ context.Context, chunks []domain.Chunk) {
		r.report.Chunks = len(chunks)
		r.log.Info("pages chunked", "pages", r.report.Pages, "chunks", len(chunks))
	})
	index := fn.Lift(func(ctx context.Context, chunks []domain.Chunk) (int, error) {
		if err := p.deps.Index.Rebuild(ctx, chunks); err != nil {
			return 0, fmt.Errorf("ingest: %w", err)
		}
		return len(chunks), nil
	})
	return fn.Then(fn.TracedStage("ingest.chunk", fn.Then(chunk, count)), fn.TracedStage("ingest.index", index))
}

// IsBusy reports whether err means another run holds the lock.
func IsBusy(err error) bool { return errors.Is(err, domain.ErrIngestRunning) }
