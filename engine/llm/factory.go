package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/promtior/sitechat/engine/domain"
	"github.com/promtior/sitechat/pkg/config"
	"github.com/promtior/sitechat/pkg/fn"
	"github.com/promtior/sitechat/pkg/gemini"
	"github.com/promtior/sitechat/pkg/hashembed"
	"github.com/promtior/sitechat/pkg/metrics"
	"github.com/promtior/sitechat/pkg/ollama"
	"github.com/promtior/sitechat/pkg/openai"
	"github.com/promtior/sitechat/pkg/resilience"
)

// EmbedCacheTTL bounds how long a cached query embedding is reused.
const EmbedCacheTTL = time.Hour

// Options tunes the wrappers the factory applies around a provider.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Set
	Retry   fn.RetryOpts
	Breaker resilience.BreakerOpts
	// Timeout bounds each provider HTTP call. Zero keeps the client default.
	Timeout time.Duration
}

// New builds the provider named by cfg.Provider and wraps it: embeddings are
// retried and cached, completions are retried behind a circuit breaker.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Provider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fn.DefaultRetry
	}

	p, err := newRaw(ctx, cfg, opts.Timeout)
	if err != nil {
		return nil, err
	}

	bopts := opts.Breaker
	bopts.Name = p.Name
	bopts.Logger = logger
	if bopts.OnStateChange == nil && opts.Metrics != nil {
		bopts.OnStateChange = func(name string, _, to resilience.State) {
			opts.Metrics.BreakerState(name, int(to))
		}
	}

	p.Embedder = NewCachedEmbedder(RetryEmbedder(p.Embedder, opts.Retry, logger), cfg.EmbedCacheSize, EmbedCacheTTL)
	p.Completer = GuardCompleter(RetryCompleter(p.Completer, opts.Retry, logger), resilience.NewBreaker(bopts))
	logger.Info("model provider ready", "provider", p.Name)
	return p, nil
}

func newRaw(ctx context.Context, cfg *config.Config, timeout time.Duration) (*Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		c, err := openai.New(openai.Config{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			ChatModel:   cfg.OpenAI.ChatModel,
			EmbedModel:  cfg.OpenAI.EmbedModel,
			Temperature: cfg.Temperature,
			Timeout:     timeout,
		})
		if errors.Is(err, openai.ErrMissingKey) {
			return nil, domain.NewConfigError("OPENAI_API_KEY", "required when PROVIDER=openai")
		}
		if err != nil {
			return nil, fmt.Errorf("llm: openai: %w", err)
		}
		return &Provider{Name: config.ProviderOpenAI, Embedder: c, Completer: c}, nil

	case config.ProviderOllama:
		c := ollama.New(ollama.Config{
			BaseURL:     cfg.Ollama.BaseURL,
			EmbedModel:  cfg.Ollama.EmbedModel,
			ChatModel:   cfg.Ollama.ChatModel,
			Temperature: cfg.Temperature,
			Timeout:     timeout,
		})
		return &Provider{Name: config.ProviderOllama, Embedder: c, Completer: c}, nil

	case config.ProviderGemini:
		c, err := gemini.New(ctx, gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			ChatModel:   cfg.Gemini.ChatModel,
			EmbedModel:  cfg.Gemini.EmbedModel,
			Temperature: float32(cfg.Temperature),
		})
		if errors.Is(err, gemini.ErrMissingKey) {
			return nil, domain.NewConfigError("GEMINI_API_KEY", "required when PROVIDER=gemini")
		}
		if err != nil {
			return nil, fmt.Errorf("llm: gemini: %w", err)
		}
		return &Provider{Name: config.ProviderGemini, Embedder: c, Completer: c}, nil

	case config.ProviderLocal:
		return &Provider{Name: config.ProviderLocal, Embedder: hashembed.New(hashembed.DefaultDims), Completer: Extractive{}}, nil
	}
	return nil, domain.NewConfigError("PROVIDER", fmt.Sprintf("unknown provider %q", cfg.Provider))
}
