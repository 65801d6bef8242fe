// Package rerank scores query-document pairs with a cross-encoder.
// Cross-encoders read both texts jointly, which is slower than the
// bi-encoder retrieval stages but considerably more accurate, so only
// the short fused candidate list ever reaches this package.
package rerank

import (
	"context"
	"log/slog"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// scoringBodyLimit bounds how much body text accompanies the title in
// a scoring pair. Cross-encoder quality saturates well before this.
const scoringBodyLimit = 500

// Document is one candidate to score.
type Document struct {
	Title string
	Body  string
}

// Result is one scored candidate. Index refers to the input slice.
type Result struct {
	Index int
	Score float64
}

// Reranker reorders candidates by cross-encoder relevance.
type Reranker interface {
	// Rerank scores all documents against the query and returns them
	// sorted by score descending, cut to topK when topK > 0.
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]Result, error)

	// ComputeScore scores a single pair.
	ComputeScore(ctx context.Context, query string, doc Document) (float64, error)

	// Available reports whether the backing service can be used right
	// now. Callers degrade to pre-rerank order when it cannot.
	Available(ctx context.Context) bool

	// Info names the implementation and model for logs.
	Info() string

	// Close releases resources.
	Close() error
}

// New creates a reranker from configuration.
func New(cfg config.RerankConfig, logger *slog.Logger) (Reranker, error) {
	switch cfg.Provider {
	case "bge", "":
		return NewBGEReranker(cfg, logger), nil
	case "cohere":
		return NewCohereReranker(cfg, logger)
	case "none":
		return NewNoop(), nil
	default:
		return nil, qaerrors.New(qaerrors.ErrCodeConfigInvalid, "unknown rerank provider", nil).
			WithDetail("provider", cfg.Provider).
			WithSuggestion(`use "bge", "cohere", or "none"`)
	}
}

// scoringText builds the pair text: title plus the head of the body.
func scoringText(d Document) string {
	body := d.Body
	if runes := []rune(body); len(runes) > scoringBodyLimit {
		body = string(runes[:scoringBodyLimit])
	}
	if d.Title == "" {
		return body
	}
	if body == "" {
		return d.Title
	}
	return d.Title + "\n" + body
}

// truncateForLog keeps queries readable in debug output.
func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
