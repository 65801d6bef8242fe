package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// Gateway bundles the three persistence backends behind one handle.
// Every pipeline that needs storage takes a *Gateway (or one of its
// interfaces) instead of dialing servers itself.
type Gateway struct {
	Documents DocumentStore
	Vectors   VectorIndex
	Cache     CacheStore

	logger *slog.Logger
}

// Open connects every backend named in cfg. The document store migrates
// its schema here; the vector and cache clients dial lazily.
func Open(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	docs, err := OpenDocuments(cfg.Database)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeStoreUnavailable, "document store unavailable", err).
			WithDetail("driver", cfg.Database.Driver)
	}

	vectors, err := OpenVectors(cfg.Qdrant)
	if err != nil {
		_ = docs.Close()
		return nil, qaerrors.New(qaerrors.ErrCodeIndexUnavailable, "vector index unavailable", err).
			WithDetail("host", cfg.Qdrant.Host)
	}

	cache := OpenCache(cfg.Redis)

	logger.Debug("storage gateway open",
		slog.String("database", cfg.Database.Driver),
		slog.String("qdrant", fmt.Sprintf("%s:%d", cfg.Qdrant.Host, cfg.Qdrant.Port)),
		slog.String("redis", cfg.Redis.Addr))

	return &Gateway{
		Documents: docs,
		Vectors:   vectors,
		Cache:     cache,
		logger:    logger,
	}, nil
}

// Ping checks every backend and joins the failures, so one unreachable
// service does not mask another.
func (g *Gateway) Ping(ctx context.Context) error {
	var errs []error
	if err := g.Documents.Ping(ctx); err != nil {
		errs = append(errs, qaerrors.Wrap(qaerrors.ErrCodeStoreUnavailable, err))
	}
	if err := g.Cache.Ping(ctx); err != nil {
		errs = append(errs, qaerrors.Wrap(qaerrors.ErrCodeCacheUnavailable, err))
	}
	if err := g.Vectors.Ping(ctx); err != nil {
		errs = append(errs, qaerrors.Wrap(qaerrors.ErrCodeIndexUnavailable, err))
	}
	return errors.Join(errs...)
}

// Close releases every backend handle.
func (g *Gateway) Close() error {
	var errs []error
	if err := g.Documents.Close(); err != nil {
		errs = append(errs, fmt.Errorf("documents: %w", err))
	}
	if err := g.Vectors.Close(); err != nil {
		errs = append(errs, fmt.Errorf("vectors: %w", err))
	}
	if err := g.Cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	return errors.Join(errs...)
}
