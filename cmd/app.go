package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ziadkadry99/ragbudget/internal/budget"
	"github.com/ziadkadry99/ragbudget/internal/cache"
	"github.com/ziadkadry99/ragbudget/internal/clock"
	"github.com/ziadkadry99/ragbudget/internal/complexity"
	"github.com/ziadkadry99/ragbudget/internal/compress"
	"github.com/ziadkadry99/ragbudget/internal/config"
	"github.com/ziadkadry99/ragbudget/internal/db"
	"github.com/ziadkadry99/ragbudget/internal/docstore"
	"github.com/ziadkadry99/ragbudget/internal/embeddings"
	"github.com/ziadkadry99/ragbudget/internal/history"
	"github.com/ziadkadry99/ragbudget/internal/metrics"
	"github.com/ziadkadry99/ragbudget/internal/pipeline"
	"github.com/ziadkadry99/ragbudget/internal/profile"
	"github.com/ziadkadry99/ragbudget/internal/prompt"
	"github.com/ziadkadry99/ragbudget/internal/retrieval"
	"github.com/ziadkadry99/ragbudget/internal/strategy"
	"github.com/ziadkadry99/ragbudget/internal/telemetry"
	"github.com/ziadkadry99/ragbudget/internal/tokens"
	"github.com/ziadkadry99/ragbudget/internal/vectordb"
)

const (
	dbFile    = "ragbudget.db"
	vectorDir = "vectors"
)

// level selects how much of the stack a command opens.
type level int

const (
	// levelStorage opens SQLite only.
	levelStorage level = iota
	// levelCache adds the cache layer and the optional Redis tier.
	levelCache
	// levelIndex adds the embedder, the vector store and retrieval.
	levelIndex
	// levelPipeline adds the chat provider and the answering pipeline.
	levelPipeline
)

// app holds the wired components for one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *db.DB
	history *history.SQLStore
	docs    *docstore.Store

	vectors   *vectordb.ChromemStore
	cache     *cache.Layer
	redis     *cache.RedisTier
	retriever *retrieval.Engine

	metrics  *metrics.Metrics
	janitor  *cache.Janitor
	pipeline *pipeline.Pipeline
	shutdown telemetry.Shutdown
}

// openApp wires the components a command needs. Close must be called
// even when an error is returned.
func openApp(ctx context.Context, cfg *config.Config, lvl level) (*app, error) {
	a := &app{cfg: cfg, logger: newLogger(cfg)}

	database, err := db.Open(filepath.Join(cfg.DataDir, dbFile))
	if err != nil {
		return a, err
	}
	a.db = database
	a.history = history.NewSQLStore(database)
	a.docs = docstore.New(database)
	if lvl == levelStorage {
		return a, nil
	}

	a.openCache(ctx)
	if lvl == levelCache {
		return a, nil
	}

	if err := a.openIndex(ctx); err != nil {
		return a, err
	}
	if lvl == levelIndex {
		return a, nil
	}
	return a, a.openPipeline(ctx)
}

// openCache builds the cache layer. An unreachable Redis degrades to the
// in-memory caches.
func (a *app) openCache(ctx context.Context) {
	cfg := a.cfg
	var tier cache.Tier
	if cfg.Cache.Redis.Addr != "" {
		rt, err := cache.NewRedisTier(ctx, cfg.Cache.Redis)
		if err != nil {
			a.logger.Warn("redis cache tier unavailable, using memory only", "addr", cfg.Cache.Redis.Addr, "error", err)
		} else {
			a.redis = rt
			tier = rt
		}
	}
	a.cache = cache.NewLayer(cfg.Cache.Options, clock.Real(), tier, a.logger)
}

func (a *app) openIndex(ctx context.Context) error {
	cfg := a.cfg
	inner, err := createEmbedderFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	vectors, err := vectordb.NewChromemStore(embeddings.NewCached(inner, a.cache.Embedding))
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	if err := vectors.Load(ctx, a.vectorPath()); err != nil {
		return fmt.Errorf("loading vector store: %w", err)
	}
	a.vectors = vectors

	a.retriever = retrieval.New(vectordb.Searcher{Store: vectors}, a.docs, cfg.Retrieval, clock.Real(), a.logger)
	return nil
}

func (a *app) openPipeline(ctx context.Context) error {
	cfg := a.cfg

	provider, err := createLLMProviderFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}

	tp, shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	a.shutdown = shutdown

	prof, err := profile.Load(cfg.ProfileFile)
	if err != nil {
		a.logger.Warn("ignoring unreadable profile", "path", cfg.ProfileFile, "error", err)
		prof = nil
	}

	if cfg.Cache.JanitorSchedule != "" {
		j, err := cache.NewJanitor(a.cache, cfg.Cache.JanitorSchedule, a.logger)
		if err != nil {
			return fmt.Errorf("scheduling cache janitor: %w", err)
		}
		j.Start()
		a.janitor = j
	}

	counter := tokens.NewTiktoken(cfg.Model)
	a.metrics = metrics.New()
	a.pipeline = pipeline.New(pipeline.Deps{
		Allocator:  budget.NewAllocator(complexity.New(cfg.Classifier.Options()), cfg.Budget, a.logger),
		Retriever:  a.retriever,
		Compressor: compress.New(counter, nil, cfg.Compression),
		Cache:      a.cache,
		History:    a.history,
		Prompts:    prompt.NewBuilder(counter, cfg.Pipeline.Instructions),
		Executor:   strategy.NewExecutor(provider, cfg.Model, cfg.Modes.Table(), a.logger),
		Profile:    prof,
		Metrics:    a.metrics,
		Tracer:     tp.Tracer(telemetry.TracerName),
		Logger:     a.logger,
	}, pipeline.Options{
		TopK:         cfg.Retrieval.TopK,
		HistoryLimit: cfg.Pipeline.HistoryLimit,
		Window:       cfg.Budget.Window,
		Model:        cfg.Model,
	})
	return nil
}

func (a *app) vectorPath() string {
	return filepath.Join(a.cfg.DataDir, vectorDir)
}

// Close stops background work and releases every opened resource.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.janitor != nil {
		a.janitor.Stop()
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
