package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

// fetchBatch bounds one Fetch call during a consistency scan.
const fetchBatch = 512

// Orphan is a vector point whose payload title has no completion marker
// in the document store.
type Orphan struct {
	ID    uint64 `json:"id"`
	Title string `json:"title"`
}

// CheckResult is the outcome of one consistency scan.
type CheckResult struct {
	// Checked is the number of vector points inspected.
	Checked int `json:"checked"`

	Orphans []Orphan      `json:"orphans,omitempty"`
	Took    time.Duration `json:"took"`
}

// Checker verifies that every vector point belongs to an ingested post.
// Orphans appear when the document store is wiped without the index, or
// when a run dies between upsert and marker.
type Checker struct {
	docs    store.DocumentStore
	vectors store.VectorIndex
	logger  *slog.Logger
}

// NewChecker creates a consistency checker over the two stores.
func NewChecker(docs store.DocumentStore, vectors store.VectorIndex, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{docs: docs, vectors: vectors, logger: logger}
}

// Check scans the whole collection. Title lookups are memoized since
// every chunk of a post shares one title.
func (c *Checker) Check(ctx context.Context) (*CheckResult, error) {
	started := time.Now()

	ids, err := c.vectors.ListIDs(ctx)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeIndexUnavailable, "vector id listing failed", err)
	}

	known := make(map[string]bool)
	var orphans []Orphan

	for start := 0; start < len(ids); start += fetchBatch {
		end := start + fetchBatch
		if end > len(ids) {
			end = len(ids)
		}

		matches, err := c.vectors.Fetch(ctx, ids[start:end])
		if err != nil {
			return nil, qaerrors.New(qaerrors.ErrCodeIndexUnavailable, "vector fetch failed", err)
		}

		for _, match := range matches {
			title, _ := match.Payload[snapshot.KeyTitle].(string)
			if title == "" {
				orphans = append(orphans, Orphan{ID: match.ID})
				continue
			}

			exists, seen := known[title]
			if !seen {
				_, err := c.docs.GetPost(ctx, title)
				switch {
				case err == nil:
					exists = true
				case errors.Is(err, store.ErrNotFound):
					exists = false
				default:
					return nil, qaerrors.Wrap(qaerrors.ErrCodeStoreUnavailable, err)
				}
				known[title] = exists
			}
			if !exists {
				orphans = append(orphans, Orphan{ID: match.ID, Title: title})
			}
		}
	}

	result := &CheckResult{Checked: len(ids), Orphans: orphans, Took: time.Since(started)}
	c.logger.Info("consistency check complete",
		slog.Int("checked", result.Checked),
		slog.Int("orphans", len(orphans)),
		slog.Duration("took", result.Took))

	return result, nil
}

// Repair deletes the orphaned points.
func (c *Checker) Repair(ctx context.Context, orphans []Orphan) error {
	if len(orphans) == 0 {
		return nil
	}

	ids := make([]uint64, len(orphans))
	for i, o := range orphans {
		ids[i] = o.ID
	}
	if err := c.vectors.Delete(ctx, ids...); err != nil {
		return qaerrors.New(qaerrors.ErrCodeIndexUnavailable, "orphan delete failed", err)
	}

	c.logger.Info("orphan vectors deleted", slog.Int("count", len(ids)))
	return nil
}
