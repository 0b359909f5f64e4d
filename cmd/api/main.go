// Package main implements the sitechat API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/promtior/sitechat/engine/domain"
	"github.com/promtior/sitechat/engine/ingest"
	"github.com/promtior/sitechat/engine/llm"
	"github.com/promtior/sitechat/engine/rag"
	"github.com/promtior/sitechat/engine/semantic"
	"github.com/promtior/sitechat/pkg/config"
	"github.com/promtior/sitechat/pkg/metrics"
	"github.com/promtior/sitechat/pkg/mid"
	"github.com/promtior/sitechat/pkg/natsutil"
)

// maxBodyBytes caps request bodies; questions are truncated far below this.
const maxBodyBytes = 64 << 10

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	set := metrics.NewSet(reg)

	// --- Vector index ---
	store, err := semantic.Open(ctx, cfg.Index, logger)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer store.Close()

	// --- Model provider ---
	provider, err := llm.New(ctx, cfg, llm.Options{Logger: logger, Metrics: set})
	if err != nil {
		return fmt.Errorf("model provider: %w", err)
	}

	index := semantic.NewIndex(provider.Embedder, store, logger)
	svc := rag.New(
		rag.NewContextBuilder(provider.Embedder, index, cfg.TopK, logger),
		rag.NewAssembler(provider.Completer, logger),
		set,
		logger,
	)

	srv := &server{
		svc: svc,
		info: Info{
			Provider:   provider.Name,
			Backend:    cfg.Index.Backend,
			Collection: cfg.Index.Collection,
		},
		metrics: reg.Handler(),
		logger:  logger,
	}

	// --- NATS (optional) ---
	if cfg.NATSURL != "" {
		nc, err := natsutil.Connect(cfg.NATSURL, "sitechat-api", logger)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		if err := watchRebuilds(nc, store, logger); err != nil {
			return err
		}
		srv.trigger = func(ctx context.Context) error {
			return ingest.RequestRun(ctx, nc, ingest.Request{ID: mid.RequestID(ctx)})
		}
	}

	handler := mid.Chain(srv.routes(),
		mid.Recover(logger),
		mid.WithRequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.Server.CORSOrigin),
		mid.MaxBody(maxBodyBytes),
		mid.OTel("sitechat-api"),
	)

	hs := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port, "provider", provider.Name, "backend", cfg.Index.Backend)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(shutCtx)
}

// watchRebuilds reloads snapshot-backed stores whenever an ingester
// announces a new index. Remote stores need nothing.
func watchRebuilds(nc *nats.Conn, store semantic.Store, logger *slog.Logger) error {
	r, ok := store.(semantic.Reloader)
	if !ok {
		return nil
	}
	_, err := natsutil.Subscribe(nc, natsutil.SubjectIndexRebuilt, logger, func(_ context.Context, report domain.RunReport) {
		if err := r.Reload(); err != nil {
			logger.Error("index reload failed", "run_id", report.RunID, "err", err)
			return
		}
		logger.Info("index reloaded", "run_id", report.RunID, "chunks", report.Chunks)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", natsutil.SubjectIndexRebuilt, err)
	}
	return nil
}
