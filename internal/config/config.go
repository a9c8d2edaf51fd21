// Package config provides application configuration with multi-source priority.
//
// Sources (highest to lowest):
//  1. Environment variables (ADVISOR_* prefix)
//  2. Config file (~/.advisor/config.yaml)
//  3. Defaults
//
// Categories:
//   - AI: provider, generation model, embedder model, request timeout
//   - Search: similarity weights, threshold, quality selection constants
//   - Corpus: CSV path for the advice data set
//   - Index: embedding cache location and build-lock policy
//   - Storage: SQLite database path for message history
//   - Server: listen address and rate limiting
//
// Error handling uses sentinel errors so callers can match with errors.Is().
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidWeights indicates the similarity weights do not sum to 1.
	ErrInvalidWeights = errors.New("invalid similarity weights")

	// ErrInvalidThreshold indicates a similarity threshold outside [-1, 1].
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidQualityBounds indicates bad quality-selection constants.
	ErrInvalidQualityBounds = errors.New("invalid quality selection bounds")

	// ErrInvalidTimeout indicates a non-positive timeout value.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrMissingCorpusPath indicates no corpus CSV path is configured.
	ErrMissingCorpusPath = errors.New("missing corpus path")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

const (
	// DefaultModelName is the default generation model.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultEmbedderModel is the default embedding model.
	// The cache manifest records this value; changing it invalidates the cache.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultRequestTimeout bounds each provider call (embedding or generation).
	DefaultRequestTimeout = 60 * time.Second

	// DefaultSearchThreshold is the minimum combined similarity for a
	// retrieved entry to be considered at all.
	DefaultSearchThreshold = 0.3

	// DefaultQualityFloor is the minimum absolute similarity an entry needs
	// to count as high quality.
	DefaultQualityFloor = 0.49

	// DefaultQualityGap is the maximum allowed drop-off from the best match.
	DefaultQualityGap = 0.08

	// DefaultDisplayLimit is how many retrieved entries are shown to the user.
	DefaultDisplayLimit = 10

	// DefaultLockTimeout bounds how long a process waits for another process
	// to finish building the embedding cache.
	DefaultLockTimeout = 5 * time.Minute

	// DefaultLockPollInterval is the wait between lock acquisition attempts.
	DefaultLockPollInterval = 2 * time.Second
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider       string        `mapstructure:"provider"`        // "gemini" (default), "openai", "ollama"
	ModelName      string        `mapstructure:"model_name"`      // generation model (both stages)
	EmbedderModel  string        `mapstructure:"embedder_model"`  // embedding model, recorded in the cache manifest
	OllamaHost     string        `mapstructure:"ollama_host"`     // only used with provider "ollama"
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // per provider call

	// Search configuration. DirectWeight and CategoryWeight must sum to 1;
	// the default 1.0/0.0 scores entries on direct similarity alone.
	DirectWeight    float64 `mapstructure:"direct_weight"`
	CategoryWeight  float64 `mapstructure:"category_weight"`
	SearchThreshold float64 `mapstructure:"search_threshold"`
	QualityFloor    float64 `mapstructure:"quality_floor"`
	QualityGap      float64 `mapstructure:"quality_gap"`
	DisplayLimit    int     `mapstructure:"display_limit"`

	// Corpus and index
	CorpusPath       string        `mapstructure:"corpus_path"`        // advice CSV
	CachePath        string        `mapstructure:"cache_path"`         // embedding cache manifest
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`       // cross-process build lock wait
	LockPollInterval time.Duration `mapstructure:"lock_poll_interval"` // lock retry interval

	// Storage
	DatabasePath string `mapstructure:"database_path"` // SQLite message store

	// Server
	Addr       string  `mapstructure:"addr"`
	RateLimit  float64 `mapstructure:"rate_limit"` // chat requests per second per IP
	RateBurst  int     `mapstructure:"rate_burst"`
	TrustProxy bool    `mapstructure:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For

	// Logging
	LogJSON  bool   `mapstructure:"log_json"`
	LogLevel string `mapstructure:"log_level"` // "debug", "info", "warn", "error"
}

// Load reads configuration from file and environment.
// Missing config file is not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()

	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix("ADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Dir returns the advisor configuration directory (~/.advisor), creating it
// if necessary.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	dir := filepath.Join(home, ".advisor")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	return dir, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("request_timeout", DefaultRequestTimeout)

	v.SetDefault("direct_weight", 1.0)
	v.SetDefault("category_weight", 0.0)
	v.SetDefault("search_threshold", DefaultSearchThreshold)
	v.SetDefault("quality_floor", DefaultQualityFloor)
	v.SetDefault("quality_gap", DefaultQualityGap)
	v.SetDefault("display_limit", DefaultDisplayLimit)

	v.SetDefault("corpus_path", filepath.Join(configDir, "advice.csv"))
	v.SetDefault("cache_path", filepath.Join(configDir, "embeddings.json"))
	v.SetDefault("lock_timeout", DefaultLockTimeout)
	v.SetDefault("lock_poll_interval", DefaultLockPollInterval)

	v.SetDefault("database_path", filepath.Join(configDir, "advisor.db"))

	v.SetDefault("addr", ":8080")
	v.SetDefault("rate_limit", 1.0)
	v.SetDefault("rate_burst", 10)
	v.SetDefault("trust_proxy", false)

	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")
}
