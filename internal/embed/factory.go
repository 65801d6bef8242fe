package embed

import (
	"log/slog"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// New creates an embedder from configuration. The result is wrapped in a
// query-embedding LRU cache unless the cache size is negative.
func New(cfg config.EmbeddingsConfig, logger *slog.Logger) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)

	switch cfg.Provider {
	case "openai", "":
		inner, err = NewOpenAIEmbedder(cfg, logger)
		if err != nil {
			return nil, err
		}
	case "ollama":
		inner = NewOllamaEmbedder(cfg)
	default:
		return nil, qaerrors.New(qaerrors.ErrCodeConfigInvalid, "unknown embeddings provider", nil).
			WithDetail("provider", cfg.Provider).
			WithSuggestion(`use "openai" or "ollama"`)
	}

	if cfg.CacheSize < 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
