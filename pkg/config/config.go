// Package config builds the process configuration from a .env file, an
// optional YAML file and environment variables, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/promtior/sitechat/engine/domain"
)

// Providers and index backends understood by the factories.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
	ProviderLocal  = "local"

	BackendFile     = "file"
	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
)

type OpenAIConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	ChatModel  string `yaml:"chat_model"`
	EmbedModel string `yaml:"embed_model"`
}

type OllamaConfig struct {
	BaseURL    string `yaml:"base_url"`
	ChatModel  string `yaml:"chat_model"`
	EmbedModel string `yaml:"embed_model"`
}

type GeminiConfig struct {
	APIKey     string `yaml:"api_key"`
	ChatModel  string `yaml:"chat_model"`
	EmbedModel string `yaml:"embed_model"`
}

// IndexConfig selects where the vector index lives.
type IndexConfig struct {
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	QdrantURL   string `yaml:"qdrant_url"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Collection  string `yaml:"collection"`
}

// CrawlConfig bounds ingestion.
type CrawlConfig struct {
	SeedURL     string `yaml:"seed_url"`
	MaxPages    int    `yaml:"max_pages"`
	MaxDepth    int    `yaml:"max_depth"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	DelayMS     int    `yaml:"delay_ms"`
	RawDir      string `yaml:"raw_dir"`
	// CacheFatal aborts ingestion when the raw cache cannot be written.
	CacheFatal bool `yaml:"cache_fatal"`
	// Schedule is a cron expression for periodic re-ingestion.
	Schedule string `yaml:"schedule"`
}

// Timeout returns the per-fetch timeout.
func (c CrawlConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSecs) * time.Second }

// Delay returns the politeness pause between fetches.
func (c CrawlConfig) Delay() time.Duration { return time.Duration(c.DelayMS) * time.Millisecond }

type ServerConfig struct {
	Port        string `yaml:"port"`
	CORSOrigin  string `yaml:"cors_origin"`
	MetricsPort string `yaml:"metrics_port"`
}

// Config is the whole process configuration. It is built once at startup and
// passed by value or pointer into constructors.
type Config struct {
	Provider       string       `yaml:"provider"`
	Temperature    float64      `yaml:"temperature"`
	TopK           int          `yaml:"top_k"`
	EmbedCacheSize int          `yaml:"embed_cache_size"`
	NATSURL        string       `yaml:"nats_url"`
	OpenAI         OpenAIConfig `yaml:"openai"`
	Ollama         OllamaConfig `yaml:"ollama"`
	Gemini         GeminiConfig `yaml:"gemini"`
	Index          IndexConfig  `yaml:"index"`
	Crawl          CrawlConfig  `yaml:"crawl"`
	Server         ServerConfig `yaml:"server"`
}

// Default returns the built-in settings, before any file or environment overrides.
func Default() *Config {
	return &Config{
		Provider:       ProviderOpenAI,
		Temperature:    0.2,
		TopK:           4,
		EmbedCacheSize: 1024,
		OpenAI: OpenAIConfig{
			BaseURL:    "https://api.openai.com/v1",
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.1",
			EmbedModel: "nomic-embed-text",
		},
		Gemini: GeminiConfig{
			ChatModel:  "gemini-2.0-flash",
			EmbedModel: "text-embedding-004",
		},
		Index: IndexConfig{
			Backend:    BackendFile,
			Dir:        "./data/index",
			QdrantURL:  "localhost:6334",
			Collection: "promtior_site",
		},
		Crawl: CrawlConfig{
			SeedURL:     "https://promtior.ai/",
			MaxPages:    25,
			MaxDepth:    2,
			TimeoutSecs: 15,
			DelayMS:     200,
			RawDir:      "./data/raw",
			CacheFatal:  true,
		},
		Server: ServerConfig{
			Port:       "8000",
			CORSOrigin: "*",
		},
	}
}

// Load reads .env (if present), then the YAML file at path, then environment
// overrides. An empty path falls back to $SITECHAT_CONFIG and then to
// ./config.yaml; a missing default file is not an error, a missing explicit
// one is.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = envOr("SITECHAT_CONFIG", "config.yaml")
		explicit = os.Getenv("SITECHAT_CONFIG") != ""
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg from the environment. Variable names follow the
// original deployment; INDEX_DIR and SEED_URL are accepted as aliases.
func applyEnv(cfg *Config) error {
	e := &envReader{}

	cfg.Provider = strings.ToLower(envOr("PROVIDER", cfg.Provider))
	cfg.Temperature = e.floatVar("TEMPERATURE", cfg.Temperature)
	cfg.TopK = e.intVar("TOP_K", cfg.TopK)
	cfg.EmbedCacheSize = e.intVar("EMBED_CACHE_SIZE", cfg.EmbedCacheSize)
	cfg.NATSURL = envOr("NATS_URL", cfg.NATSURL)

	cfg.OpenAI.APIKey = envOr("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = envOr("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.OpenAI.ChatModel = envOr("OPENAI_CHAT_MODEL", cfg.OpenAI.ChatModel)
	cfg.OpenAI.EmbedModel = envOr("OPENAI_EMBED_MODEL", cfg.OpenAI.EmbedModel)

	cfg.Ollama.BaseURL = envOr("OLLAMA_BASE_URL", cfg.Ollama.BaseURL)
	cfg.Ollama.ChatModel = envOr("OLLAMA_LLM_MODEL", cfg.Ollama.ChatModel)
	cfg.Ollama.EmbedModel = envOr("OLLAMA_EMBED_MODEL", cfg.Ollama.EmbedModel)

	cfg.Gemini.APIKey = envOr("GEMINI_API_KEY", cfg.Gemini.APIKey)
	cfg.Gemini.ChatModel = envOr("GEMINI_CHAT_MODEL", cfg.Gemini.ChatModel)
	cfg.Gemini.EmbedModel = envOr("GEMINI_EMBED_MODEL", cfg.Gemini.EmbedModel)

	cfg.Index.Backend = strings.ToLower(envOr("INDEX_BACKEND", cfg.Index.Backend))
	cfg.Index.Dir = envOr("INDEX_DIR", envOr("CHROMA_DIR", cfg.Index.Dir))
	cfg.Index.QdrantURL = envOr("QDRANT_URL", cfg.Index.QdrantURL)
	cfg.Index.PostgresDSN = envOr("POSTGRES_DSN", cfg.Index.PostgresDSN)
	cfg.Index.Collection = envOr("COLLECTION", cfg.Index.Collection)

	cfg.Crawl.SeedURL = envOr("SEED_URL", envOr("PROMTIOR_BASE_URL", cfg.Crawl.SeedURL))
	cfg.Crawl.MaxPages = e.intVar("CRAWL_MAX_PAGES", cfg.Crawl.MaxPages)
	cfg.Crawl.MaxDepth = e.intVar("CRAWL_MAX_DEPTH", cfg.Crawl.MaxDepth)
	cfg.Crawl.TimeoutSecs = e.intVar("REQUEST_TIMEOUT_SECS", cfg.Crawl.TimeoutSecs)
	cfg.Crawl.DelayMS = e.intVar("CRAWL_DELAY_MS", cfg.Crawl.DelayMS)
	cfg.Crawl.RawDir = envOr("RAW_DIR", cfg.Crawl.RawDir)
	cfg.Crawl.CacheFatal = e.boolVar("CACHE_FATAL", cfg.Crawl.CacheFatal)
	cfg.Crawl.Schedule = envOr("INGEST_SCHEDULE", cfg.Crawl.Schedule)

	cfg.Server.Port = envOr("PORT", cfg.Server.Port)
	cfg.Server.CORSOrigin = envOr("CORS_ORIGIN", cfg.Server.CORSOrigin)
	cfg.Server.MetricsPort = envOr("METRICS_PORT", cfg.Server.MetricsPort)

	return e.err
}

// Validate reports the first setting that makes the configuration unusable
// as a *domain.ConfigError.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI:
		if strings.TrimSpace(c.OpenAI.APIKey) == "" {
			return domain.NewConfigError("OPENAI_API_KEY", "required when PROVIDER=openai")
		}
	case ProviderGemini:
		if strings.TrimSpace(c.Gemini.APIKey) == "" {
			return domain.NewConfigError("GEMINI_API_KEY", "required when PROVIDER=gemini")
		}
	case ProviderOllama:
		if c.Ollama.BaseURL == "" {
			return domain.NewConfigError("OLLAMA_BASE_URL", "required when PROVIDER=ollama")
		}
	case ProviderLocal:
	default:
		return domain.NewConfigError("PROVIDER", fmt.Sprintf("unknown provider %q", c.Provider))
	}

	switch c.Index.Backend {
	case BackendFile:
		if c.Index.Dir == "" {
			return domain.NewConfigError("INDEX_DIR", "required for the file backend")
		}
	case BackendQdrant:
		if c.Index.QdrantURL == "" {
			return domain.NewConfigError("QDRANT_URL", "required for the qdrant backend")
		}
	case BackendPGVector:
		if c.Index.PostgresDSN == "" {
			return domain.NewConfigError("POSTGRES_DSN", "required for the pgvector backend")
		}
	default:
		return domain.NewConfigError("INDEX_BACKEND", fmt.Sprintf("unknown backend %q", c.Index.Backend))
	}
	if c.Index.Collection == "" {
		return domain.NewConfigError("COLLECTION", "must not be empty")
	}

	if err := domain.ValidateSeedURL(c.Crawl.SeedURL); err != nil {
		return domain.NewConfigError("SEED_URL", err.Error())
	}
	if c.Crawl.MaxPages <= 0 {
		return domain.NewConfigError("CRAWL_MAX_PAGES", "must be positive")
	}
	if c.Crawl.MaxDepth < 0 {
		return domain.NewConfigError("CRAWL_MAX_DEPTH", "must not be negative")
	}
	if c.Crawl.TimeoutSecs <= 0 {
		return domain.NewConfigError("REQUEST_TIMEOUT_SECS", "must be positive")
	}
	if c.Crawl.DelayMS < 0 {
		return domain.NewConfigError("CRAWL_DELAY_MS", "must not be negative")
	}
	if c.TopK <= 0 {
		return domain.NewConfigError("TOP_K", "must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return domain.NewConfigError("TEMPERATURE", "must be within [0, 2]")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// envReader parses typed variables and keeps the first parse failure.
type envReader struct {
	err error
}

func (e *envReader) fail(key, raw string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %v", domain.NewConfigError(key, fmt.Sprintf("cannot parse %q", raw)), err)
	}
}

func (e *envReader) intVar(key string, fallback int) int {
	raw := envOr(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, raw, err)
		return fallback
	}
	return v
}

func (e *envReader) floatVar(key string, fallback float64) float64 {
	raw := envOr(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, raw, err)
		return fallback
	}
	return v
}

func (e *envReader) boolVar(key string, fallback bool) bool {
	raw := envOr(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, raw, err)
		return fallback
	}
	return v
}
