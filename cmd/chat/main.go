// Command chat is an interactive terminal client. It asks questions of a
// running API server, or with -local answers them in-process from the
// configured index and model provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/promtior/sitechat/engine/llm"
	"github.com/promtior/sitechat/engine/rag"
	"github.com/promtior/sitechat/engine/semantic"
	"github.com/promtior/sitechat/pkg/config"
	"github.com/promtior/sitechat/pkg/tui"
)

func main() {
	var (
		apiURL     = flag.String("api", envOr("SITECHAT_API", "http://localhost:8080"), "API server base URL")
		local      = flag.Bool("local", false, "answer in-process instead of calling the API")
		configPath = flag.String("config", "", "path to a YAML config file (with -local)")
		noStream   = flag.Bool("no-stream", false, "use /rag/invoke instead of /rag/stream")
		question   = flag.String("q", "", "ask one question, print the answer and exit")
		logFile    = flag.String("log", "", "write logs to this file")
	)
	flag.Parse()

	logger, closeLog, err := openLog(*logFile, *question != "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		asker tui.Asker
		title string
	)
	if *local {
		svc, name, cleanup, err := localService(ctx, *configPath, logger)
		if err != nil {
			logger.Error("local setup failed", "err", err)
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer cleanup()
		asker = tui.AskerFunc(svc.AnswerStream)
		title = "local " + name
	} else {
		asker = newAPIClient(*apiURL, !*noStream)
		title = *apiURL
	}

	if *question != "" {
		err := asker.Ask(ctx, *question, func(tok string) error {
			_, err := fmt.Print(tok)
			return err
		})
		fmt.Println()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if _, err := tea.NewProgram(tui.New(asker, title), tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openLog returns a logger that never writes onto the TUI: to path when set,
// to stderr in one-shot mode, and nowhere otherwise.
func openLog(path string, oneShot bool) (*slog.Logger, func(), error) {
	var w io.Writer = io.Discard
	closeFn := func() {}
	switch {
	case path != "":
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log: %w", err)
		}
		w, closeFn = f, func() { f.Close() }
	case oneShot:
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn})), closeFn, nil
}

func localService(ctx context.Context, path string, logger *slog.Logger) (*rag.Service, string, func(), error) {
	cfg, err := config.Load(path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return nil, "", nil, err
	}
	store, err := semantic.Open(ctx, cfg.Index, logger)
	if err != nil {
		return nil, "", nil, fmt.Errorf("open index: %w", err)
	}
	provider, err := llm.New(ctx, cfg, llm.Options{Logger: logger})
	if err != nil {
		store.Close()
		return nil, "", nil, fmt.Errorf("model provider: %w", err)
	}
	index := semantic.NewIndex(provider.Embedder, store, logger)
	svc := rag.New(
		rag.NewContextBuilder(provider.Embedder, index, cfg.TopK, logger),
		rag.NewAssembler(provider.Completer, logger),
		nil,
		logger,
	)
	return svc, provider.Name, func() { store.Close() }, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
