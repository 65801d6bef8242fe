// Package embed generates vector embeddings for questions and passages.
package embed

import (
	"context"
	"time"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the number of passages sent per embedding request.
	DefaultBatchSize = 64

	// MaxBatchSize caps a single request (the hosted API rejects more).
	MaxBatchSize = 100

	// DefaultDimensions matches the solar embedding family.
	DefaultDimensions = 4096

	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultCacheSize is the number of query embeddings kept in memory.
	DefaultCacheSize = 512
)

// Embedder generates vector embeddings for text.
//
// Questions and passages embed through different models: retrieval-tuned
// families serve an asymmetric pair, so the two sides of a match must not
// share a model.
type Embedder interface {
	// EmbedQuery generates an embedding for a search question.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedPassages generates embeddings for document chunks, in order.
	EmbedPassages(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the passage model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}
