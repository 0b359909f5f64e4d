// Command ingest crawls the configured site and rebuilds the vector index.
//
// By default it runs once and exits. -from-cache re-indexes the raw cache of
// the last crawl without touching the network. -schedule keeps the process
// alive and re-ingests on a cron expression; with NATS configured it also
// serves ingestion requests published by the API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/promtior/sitechat/engine/chunker"
	"github.com/promtior/sitechat/engine/crawler"
	"github.com/promtior/sitechat/engine/domain"
	"github.com/promtior/sitechat/engine/ingest"
	"github.com/promtior/sitechat/engine/llm"
	"github.com/promtior/sitechat/engine/semantic"
	"github.com/promtior/sitechat/pkg/config"
	"github.com/promtior/sitechat/pkg/metrics"
	"github.com/promtior/sitechat/pkg/natsutil"
)

// scheduleUsage names the environment key the flag defaults to.
const scheduleUsage = "cron expression; keeps running and re-ingests on it (default: $" + scheduleEnv + ")"

const scheduleEnv = "INGEST_SCHEDULE"

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		fromCache  = flag.Bool("from-cache", false, "re-index the raw cache instead of crawling")
		schedule   = flag.String("schedule", "", scheduleUsage)
		daemon     = flag.Bool("daemon", false, "keep running even without a schedule, serving NATS ingestion requests")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if *schedule == "" {
		*schedule = cfg.Crawl.Schedule
	}

	if err := run(cfg, *fromCache, *schedule, *daemon, logger); err != nil {
		logger.Error("ingest failed", "err", err)
		if ingest.IsBusy(err) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(cfg *config.Config, fromCache bool, schedule string, daemon bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	set := metrics.NewSet(reg)
	if cfg.Server.MetricsPort != "" {
		go func() {
			if err := reg.Serve(ctx, ":"+cfg.Server.MetricsPort, logger); err != nil {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	store, err := semantic.Open(ctx, cfg.Index, logger)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer store.Close()

	provider, err := llm.New(ctx, cfg, llm.Options{Logger: logger, Metrics: set})
	if err != nil {
		return fmt.Errorf("model provider: %w", err)
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = natsutil.Connect(cfg.NATSURL, "sitechat-ingest", logger)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
	}

	pipeline := newPipeline(cfg, store, provider.Embedder, nc, set, logger)

	if schedule == "" && !daemon {
		return once(ctx, pipeline, fromCache, logger)
	}
	return serve(ctx, pipeline, nc, schedule, logger)
}

func newPipeline(cfg *config.Config, store semantic.Store, emb llm.Embedder, nc *nats.Conn, set *metrics.Set, logger *slog.Logger) *ingest.Pipeline {
	c := crawler.New(
		crawler.NewHTTPFetcher(cfg.Crawl.Timeout()),
		crawler.Options{
			MaxPages: cfg.Crawl.MaxPages,
			MaxDepth: cfg.Crawl.MaxDepth,
			Timeout:  cfg.Crawl.Timeout(),
			Delay:    cfg.Crawl.Delay(),
		},
		logger,
	)
	deps := ingest.Deps{
		Crawler:  c,
		Splitter: chunker.Default(),
		Index:    semantic.NewIndex(emb, store, logger),
		Metrics:  set,
		Logger:   logger,
	}
	if nc != nil {
		deps.Notifier = ingest.NewNATSNotifier(nc)
	}
	return ingest.New(ingest.Config{
		SeedURL:    cfg.Crawl.SeedURL,
		RawDir:     cfg.Crawl.RawDir,
		LockDir:    cfg.Index.Dir,
		Collection: cfg.Index.Collection,
		CacheFatal: cfg.Crawl.CacheFatal,
	}, deps)
}

func once(ctx context.Context, p *ingest.Pipeline, fromCache bool, logger *slog.Logger) error {
	report, err := runPipeline(ctx, p, fromCache)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d chunks from %d pages into %q (run %s, %s)\n",
		report.Chunks, report.Pages, report.Collection, report.RunID, report.Duration.Round(time.Millisecond))
	logger.Debug("run report", "report", report)
	return nil
}

func runPipeline(ctx context.Context, p *ingest.Pipeline, fromCache bool) (domain.RunReport, error) {
	if fromCache {
		return p.RunFromCache(ctx)
	}
	return p.Run(ctx)
}

// serve keeps ingesting until ctx is done: on the cron schedule when one is
// set, and on every request received over NATS.
func serve(ctx context.Context, p *ingest.Pipeline, nc *nats.Conn, schedule string, logger *slog.Logger) error {
	if schedule == "" && nc == nil {
		return errors.New("nothing to serve: set -schedule or NATS_URL")
	}

	if schedule != "" {
		s := newScheduler(ctx, logger)
		err := s.add(job{name: "ingest", run: func(ctx context.Context) error {
			_, err := p.Run(ctx)
			return err
		}}, schedule)
		if err != nil {
			return err
		}
		s.start()
		defer s.stop()
	}

	if nc != nil {
		_, err := natsutil.Subscribe(nc, natsutil.SubjectIngestRequest, logger, func(ctx context.Context, req ingest.Request) {
			logger.Info("ingestion requested", "request_id", req.ID, "from_cache", req.FromCache)
			if _, err := runPipeline(ctx, p, req.FromCache); err != nil {
				logger.Error("requested ingestion failed", "request_id", req.ID, "err", err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", natsutil.SubjectIngestRequest, err)
		}
	}

	logger.Info("ingester waiting", "schedule", schedule, "nats", nc != nil)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}
