package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/map-community/CHATBOT-AI-sub000/internal/embed"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

// Payload keys for chunk position. They ride along for diagnostics and
// are not read back on snapshot rebuilds.
const (
	keyChunkIndex  = "chunk_index"
	keyTotalChunks = "total_chunks"
)

// Uploader embeds item texts and upserts them into the vector index.
// Point ids continue from the current collection count, so every run
// appends a contiguous id block without any allocator state.
type Uploader struct {
	embedder embed.Embedder
	vectors  store.VectorIndex
	batch    int
	logger   *slog.Logger
}

// NewUploader creates an uploader. batchSize <= 0 selects the default;
// anything above the provider cap is clamped.
func NewUploader(embedder embed.Embedder, vectors store.VectorIndex, batchSize int, logger *slog.Logger) *Uploader {
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	if batchSize > embed.MaxBatchSize {
		batchSize = embed.MaxBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		embedder: embedder,
		vectors:  vectors,
		batch:    batchSize,
		logger:   logger,
	}
}

// Upload embeds every item and writes the points, in item order.
// Returns the snapshot documents for the accepted points. Any batch
// failure aborts the upload: points already accepted stay in the index
// as payload-complete vectors, and the caller must not advance the
// crawl watermark.
func (u *Uploader) Upload(ctx context.Context, items []Item) ([]snapshot.Document, error) {
	if len(items) == 0 {
		return nil, nil
	}

	base, err := u.vectors.Count(ctx)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeIndexUnavailable, "vector count failed", err)
	}

	started := time.Now()
	docs := make([]snapshot.Document, 0, len(items))

	for batchStart := 0; batchStart < len(items); batchStart += u.batch {
		batchEnd := batchStart + u.batch
		if batchEnd > len(items) {
			batchEnd = len(items)
		}
		batch := items[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, it := range batch {
			texts[i] = it.Text
		}

		vectors, err := u.embedder.EmbedPassages(ctx, texts)
		if err != nil {
			return nil, qaerrors.Wrap(qaerrors.ErrCodeEmbeddingFailed, err)
		}
		if len(vectors) != len(texts) {
			return nil, qaerrors.New(qaerrors.ErrCodeEmbeddingFailed, "embedding count mismatch", nil).
				WithDetail("sent", fmt.Sprintf("%d", len(texts))).
				WithDetail("received", fmt.Sprintf("%d", len(vectors)))
		}

		points := make([]store.VectorPoint, len(batch))
		for i, it := range batch {
			payload := it.Doc.Payload()
			payload[keyChunkIndex] = it.ChunkIndex
			payload[keyTotalChunks] = it.ChunkTotal
			points[i] = store.VectorPoint{
				ID:      base + uint64(batchStart+i),
				Vector:  vectors[i],
				Payload: payload,
			}
		}
		if err := u.vectors.Upsert(ctx, points); err != nil {
			return nil, qaerrors.New(qaerrors.ErrCodeIndexUnavailable, "vector upsert failed", err).
				WithDetail("batch", fmt.Sprintf("%d-%d", batchStart, batchEnd))
		}

		for _, it := range batch {
			docs = append(docs, it.Doc)
		}
	}

	u.logger.Info("vectors uploaded",
		slog.Int("items", len(items)),
		slog.Uint64("first_id", base),
		slog.Uint64("last_id", base+uint64(len(items))-1),
		slog.Duration("took", time.Since(started)))

	return docs, nil
}
