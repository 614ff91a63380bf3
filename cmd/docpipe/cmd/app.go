package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docpipe/docpipe/internal/chunk"
	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/convert"
	"github.com/docpipe/docpipe/internal/embed"
	pipeerrors "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/index"
	"github.com/docpipe/docpipe/internal/ingest"
	"github.com/docpipe/docpipe/internal/logging"
	"github.com/docpipe/docpipe/internal/search"
	"github.com/docpipe/docpipe/internal/store"
)

// app bundles the wired components behind one open/close pair so every
// subcommand builds the same stack.
type app struct {
	config   *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	vector   *store.HNSWIndex
	lexical  *store.BleveIndex
	embedder embed.Embedder
	writer   *index.Writer
	pipeline *ingest.Pipeline
	engine   *search.Engine

	logCleanup func()
}

// openApp loads config and wires the full stack. writable controls
// whether the vector index is persisted back on close.
func openApp(ctx context.Context, writable bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, pipeerrors.StorageError("creating data directory", err)
	}

	logFile := cfg.Logging.File
	if logFile == "" {
		logFile = filepath.Join(cfg.Storage.DataDir, "docpipe.log")
	}
	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:    cfg.Logging.Level,
		FilePath: logFile,
	})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{config: cfg, logger: logger, logCleanup: logCleanup}
	if err := a.wire(ctx, writable); err != nil {
		a.close(false)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, writable bool) error {
	var err error
	cfg := a.config

	a.store, err = store.NewSQLiteStore(cfg.Storage.MetadataPath())
	if err != nil {
		return err
	}

	a.embedder, err = buildEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return err
	}

	a.vector, err = store.NewHNSWIndex(store.DefaultVectorIndexConfig(a.embedder.Dimensions()))
	if err != nil {
		return err
	}
	vectorPath := cfg.Storage.VectorIndexPath()
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := a.vector.Load(vectorPath); err != nil {
			return err
		}
	}

	a.lexical, err = store.NewBleveIndex(cfg.Storage.LexicalIndexPath())
	if err != nil {
		return err
	}

	a.writer, err = index.NewWriter(a.embedder, a.vector, a.lexical, index.Config{
		EmbedWorkers:  cfg.Index.EmbedWorkers,
		WriteAttempts: cfg.Index.WriteAttempts,
		RetryDelay:    cfg.Index.RetryDelayDuration(),
	}, a.logger)
	if err != nil {
		return err
	}

	lockPath := ""
	if writable {
		lockPath = cfg.Storage.LockPath()
	}
	a.pipeline, err = ingest.NewPipeline(
		a.store,
		convert.NewRegistry(convert.NewTextConverter()),
		chunk.NewSplitter(nil),
		a.writer,
		cfg.Chunking,
		lockPath,
		a.logger,
	)
	if err != nil {
		return err
	}

	engineOpts := []search.EngineOption{search.WithDefaults(cfg.RetrievalDefaults())}
	if cfg.Rerank.Enabled {
		if reranker := buildReranker(ctx, cfg.Rerank, a.logger); reranker != nil {
			engineOpts = append(engineOpts, search.WithReranker(reranker))
		}
	}
	a.engine, err = search.NewEngine(a.store, a.embedder, a.vector, a.lexical, a.logger, engineOpts...)
	return err
}

// buildEmbedder constructs the configured embedding backend, wrapped
// with retries and an LRU cache.
func buildEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embed.Embedder, error) {
	var inner embed.Embedder
	switch cfg.Provider {
	case config.ProviderStatic:
		inner = embed.NewStaticEmbedder()
	default:
		ollama, err := embed.NewOllamaEmbedder(ctx, embed.OllamaConfig{
			Host:              cfg.Host,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			BatchSize:         cfg.BatchSize,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
		retryCfg := pipeerrors.DefaultRetryConfig()
		if cfg.MaxRetries > 0 {
			retryCfg.MaxRetries = cfg.MaxRetries
		}
		inner = embed.NewRetryEmbedder(ollama, retryCfg)
	}
	return embed.NewCachedEmbedder(inner, cfg.CacheSize), nil
}

// buildReranker constructs the rerank stage. An unreachable oracle is
// a degradation, not a startup failure.
func buildReranker(ctx context.Context, cfg config.RerankConfig, logger *slog.Logger) *search.Reranker {
	oracle, err := search.NewHTTPOracle(ctx, search.HTTPOracleConfig{
		Endpoint:  cfg.Endpoint,
		Model:     cfg.Model,
		BatchSize: cfg.BatchSize,
	})
	if err != nil {
		logger.Warn("rerank_oracle_unavailable", slog.String("error", err.Error()))
		return nil
	}
	reranker, err := search.NewReranker(oracle, cfg.CacheSize, logger)
	if err != nil {
		logger.Warn("rerank_disabled", slog.String("error", err.Error()))
		return nil
	}
	return reranker
}

// close tears the stack down. persistVectors saves the HNSW graph; it
// is true after successful writes.
func (a *app) close(persistVectors bool) {
	if a.vector != nil && persistVectors {
		if err := a.vector.Save(a.config.Storage.VectorIndexPath()); err != nil {
			a.logger.Error("vector_index_save_failed", slog.String("error", err.Error()))
		}
	}
	if a.engine != nil {
		_ = a.engine.Close()
	}
	if a.writer != nil {
		_ = a.writer.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.lexical != nil {
		_ = a.lexical.Close()
	}
	if a.vector != nil {
		_ = a.vector.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logCleanup != nil {
		a.logCleanup()
	}
}
