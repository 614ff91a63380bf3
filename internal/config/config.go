// Package config loads docpipe configuration. Precedence, lowest to
// highest: built-in defaults, the YAML config file, DOCPIPE_*
// environment variables. A .env file in the working directory is
// loaded into the environment first.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/docpipe/docpipe/internal/chunk"
	pipeerrors "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/search"
)

// DefaultFileName is the config file looked up in the working
// directory when no explicit path is given.
const DefaultFileName = "docpipe.yaml"

// Embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderStatic = "static"
)

// Config is the complete docpipe configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Storage   StorageConfig   `yaml:"storage"`
	Chunking  chunk.Config    `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Index     IndexConfig     `yaml:"index"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig locates the data directory. All persistent state
// (metadata DB, both indexes, the writer lock) lives under DataDir.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// MetadataPath is the SQLite database file.
func (s StorageConfig) MetadataPath() string {
	return filepath.Join(s.DataDir, "docpipe.db")
}

// VectorIndexPath is the persisted HNSW graph.
func (s StorageConfig) VectorIndexPath() string {
	return filepath.Join(s.DataDir, "vectors.hnsw")
}

// LexicalIndexPath is the Bleve index directory.
func (s StorageConfig) LexicalIndexPath() string {
	return filepath.Join(s.DataDir, "lexical.bleve")
}

// LockPath is the single-writer lock file.
func (s StorageConfig) LockPath() string {
	return filepath.Join(s.DataDir, ".writer.lock")
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	// Provider is "ollama" or "static".
	Provider string `yaml:"provider"`

	Model             string  `yaml:"model"`
	Host              string  `yaml:"host"`
	Dimensions        int     `yaml:"dimensions"`
	BatchSize         int     `yaml:"batch_size"`
	CacheSize         int     `yaml:"cache_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries"`
}

// RetrievalConfig tunes the hybrid query path. Durations are strings
// ("5s") because they come straight from YAML.
type RetrievalConfig struct {
	VectorWeight  float64 `yaml:"vector_weight"`
	LexicalWeight float64 `yaml:"lexical_weight"`
	Normalization string  `yaml:"normalization"`
	TopKVector    int     `yaml:"top_k_vector"`
	TopKLexical   int     `yaml:"top_k_lexical"`
	Limit         int     `yaml:"limit"`
	Timeout       string  `yaml:"timeout"`
}

// TimeoutDuration parses the retrieval timeout.
func (r RetrievalConfig) TimeoutDuration() time.Duration {
	return parseDuration(r.Timeout, search.DefaultTimeout)
}

// Weights returns the fusion weights.
func (r RetrievalConfig) Weights() search.Weights {
	return search.Weights{Vector: r.VectorWeight, Lexical: r.LexicalWeight}
}

// RerankConfig tunes the optional cross-encoder stage.
type RerankConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	TopN      int    `yaml:"top_n"`
	Budget    string `yaml:"budget"`
	BatchSize int    `yaml:"batch_size"`
	CacheSize int    `yaml:"cache_size"`
}

// BudgetDuration parses the rerank budget.
func (r RerankConfig) BudgetDuration() time.Duration {
	return parseDuration(r.Budget, search.DefaultRerankBudget)
}

// IndexConfig tunes the dual-index writer.
type IndexConfig struct {
	EmbedWorkers  int    `yaml:"embed_workers"`
	WriteAttempts int    `yaml:"write_attempts"`
	RetryDelay    string `yaml:"retry_delay"`
}

// RetryDelayDuration parses the write retry delay.
func (i IndexConfig) RetryDelayDuration() time.Duration {
	return parseDuration(i.RetryDelay, 200*time.Millisecond)
}

// WatchConfig tunes the directory watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// DebounceDuration parses the debounce window.
func (w WatchConfig) DebounceDuration() time.Duration {
	return parseDuration(w.Debounce, 200*time.Millisecond)
}

// LoggingConfig tunes structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// File is the log file path; empty logs to stderr only.
	File string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{DataDir: ".docpipe"},
		Chunking: chunk.DefaultConfig(),
		Embedding: EmbeddingConfig{
			Provider:          ProviderOllama,
			Model:             "nomic-embed-text",
			Host:              "http://localhost:11434",
			Dimensions:        768,
			BatchSize:         32,
			CacheSize:         2048,
			RequestsPerSecond: 10,
			MaxRetries:        3,
		},
		Retrieval: RetrievalConfig{
			VectorWeight:  search.DefaultWeights().Vector,
			LexicalWeight: search.DefaultWeights().Lexical,
			Normalization: search.NormalizeMinMax,
			TopKVector:    search.DefaultTopKVector,
			TopKLexical:   search.DefaultTopKLexical,
			Limit:         search.DefaultLimit,
			Timeout:       "5s",
		},
		Rerank: RerankConfig{
			Enabled:   false,
			Endpoint:  search.DefaultOracleEndpoint,
			Model:     search.DefaultOracleModel,
			TopN:      search.DefaultRerankTopN,
			Budget:    "2s",
			BatchSize: search.DefaultOracleBatchSize,
			CacheSize: search.DefaultScoreCacheSize,
		},
		Index: IndexConfig{
			EmbedWorkers:  4,
			WriteAttempts: 3,
			RetryDelay:    "200ms",
		},
		Watch:   WatchConfig{Debounce: "200ms"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path. An empty path looks for
// docpipe.yaml in the working directory; a missing default file is not
// an error, a missing explicit file is.
func Load(path string) (*Config, error) {
	// A .env file seeds the environment before overrides apply.
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, pipeerrors.New(pipeerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("parsing %s", path), err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults only.
	default:
		return nil, pipeerrors.New(pipeerrors.ErrCodeConfigNotFound,
			fmt.Sprintf("reading %s", path), err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies DOCPIPE_* environment variables, the
// highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCPIPE_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("DOCPIPE_EMBEDDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("DOCPIPE_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("DOCPIPE_OLLAMA_HOST"); v != "" {
		c.Embedding.Host = v
	}
	if v := os.Getenv("DOCPIPE_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.VectorWeight = f
		}
	}
	if v := os.Getenv("DOCPIPE_LEXICAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.LexicalWeight = f
		}
	}
	if v := os.Getenv("DOCPIPE_RERANK_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Rerank.Enabled = b
		}
	}
	if v := os.Getenv("DOCPIPE_RERANK_ENDPOINT"); v != "" {
		c.Rerank.Endpoint = v
	}
	if v := os.Getenv("DOCPIPE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return pipeerrors.New(pipeerrors.ErrCodeConfigInvalid, "storage.data_dir must not be empty", nil)
	}
	if err := c.Chunking.Validate(); err != nil {
		return err
	}

	switch c.Embedding.Provider {
	case ProviderOllama, ProviderStatic:
	default:
		return pipeerrors.New(pipeerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embedding provider %q", c.Embedding.Provider), nil)
	}

	if _, err := c.Retrieval.Weights().Normalize(); err != nil {
		return err
	}
	switch c.Retrieval.Normalization {
	case search.NormalizeMinMax, search.NormalizeRank:
	default:
		return pipeerrors.New(pipeerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown normalization %q", c.Retrieval.Normalization), nil)
	}

	for name, value := range map[string]string{
		"retrieval.timeout": c.Retrieval.Timeout,
		"rerank.budget":     c.Rerank.Budget,
		"index.retry_delay": c.Index.RetryDelay,
		"watch.debounce":    c.Watch.Debounce,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return pipeerrors.New(pipeerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("invalid duration for %s: %q", name, value), err)
		}
	}
	return nil
}

// RetrievalDefaults converts the file settings into per-call retrieval
// configuration for the search engine.
func (c *Config) RetrievalDefaults() search.RetrievalConfig {
	return search.RetrievalConfig{
		TopKVector:    c.Retrieval.TopKVector,
		TopKLexical:   c.Retrieval.TopKLexical,
		Weights:       c.Retrieval.Weights(),
		Normalization: c.Retrieval.Normalization,
		Timeout:       c.Retrieval.TimeoutDuration(),
		Limit:         c.Retrieval.Limit,
		Rerank:        c.Rerank.Enabled,
		RerankTopN:    c.Rerank.TopN,
		RerankBudget:  c.Rerank.BudgetDuration(),
	}
}

// parseDuration parses s, falling back when empty or invalid.
// Validate reports invalid values; this keeps accessors total.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
