package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MikeSquared-Agency/recall/internal/config"
	"github.com/MikeSquared-Agency/recall/internal/embedding"
	"github.com/MikeSquared-Agency/recall/internal/hashcache"
	"github.com/MikeSquared-Agency/recall/internal/index"
	"github.com/MikeSquared-Agency/recall/internal/merge"
	"github.com/MikeSquared-Agency/recall/internal/record"
	"github.com/MikeSquared-Agency/recall/internal/search"
	"github.com/MikeSquared-Agency/recall/internal/vectorstore"
)

var (
	errNoDatabase = errors.New("DATABASE_URL is required")
	errNoAPIKey   = errors.New("OPENAI_API_KEY is required")
)

// components holds the services a command opened. close releases them.
type components struct {
	records  *record.Store
	writer   *merge.Writer
	runner   *merge.Runner
	vectors  *vectorstore.Store
	embedder *embedding.Client
	cache    *hashcache.Cache
	closers  []func()
}

func newComponents(cfg config.Config, logger *slog.Logger) *components {
	records := record.NewStore(cfg.CaptureDir, logger)
	writer := merge.NewWriter(cfg.MergedDir)
	return &components{
		records: records,
		writer:  writer,
		runner:  merge.NewRunner(records, writer, logger),
	}
}

// openVectors connects the vector store and embedding client.
func (c *components) openVectors(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return errNoDatabase
	}
	if cfg.OpenAIAPIKey == "" {
		return errNoAPIKey
	}

	vs, err := vectorstore.New(ctx, cfg.DatabaseURL, cfg.VectorCollection, cfg.EmbeddingDim)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, vs.Close)
	if err := vs.EnsureCollection(ctx); err != nil {
		return err
	}
	c.vectors = vs
	logger.Info("vector store ready", "collection", cfg.VectorCollection, "dim", cfg.EmbeddingDim)

	c.embedder = embedding.NewClient(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingURL, cfg.EmbeddingMaxRetries)
	logger.Info("embedding client ready", "model", cfg.EmbeddingModel)
	return nil
}

// openCache connects the optional hash cache, scoped to the identity of the
// vector table opened by openVectors. A failed connection only disables the
// cache. reset forgets every hash cached for the table.
func (c *components) openCache(ctx context.Context, cfg config.Config, reset bool, logger *slog.Logger) {
	if cfg.RedisAddr == "" || c.vectors == nil {
		return
	}
	scope, err := c.vectors.Identity(ctx)
	if err != nil {
		logger.Warn("hash cache disabled, vector table identity unknown", "error", err)
		return
	}
	rdb, err := hashcache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("hash cache unavailable, using the vector store only", "error", err)
		return
	}
	c.closers = append(c.closers, func() { _ = rdb.Close() })
	cache := hashcache.New(rdb, cfg.VectorCollection, scope)
	if reset {
		if err := cache.Reset(ctx); err != nil {
			logger.Warn("hash cache reset failed, using the vector store only", "error", err)
			return
		}
		logger.Info("hash cache reset", "scope", scope)
	}
	c.cache = cache
	logger.Info("hash cache connected", "scope", scope)
}

func (c *components) indexer(logger *slog.Logger) *index.Indexer {
	var cache index.HashCache
	if c.cache != nil {
		cache = c.cache
	}
	return index.New(c.embedder, c.vectors, cache, logger)
}

func (c *components) searcher() *search.Searcher {
	return search.New(c.embedder, c.vectors)
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
