package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

// fetchBatchSize bounds one vector fetch during a rebuild.
const fetchBatchSize = 512

// Manager owns the in-memory snapshot. The document slice is replaced
// wholesale, never mutated in place, so readers can hold a slice across
// a concurrent refresh.
type Manager struct {
	cache  store.CacheStore
	index  store.VectorIndex
	ttl    time.Duration
	logger *slog.Logger

	mu   sync.RWMutex
	docs []Document
}

// NewManager creates a Manager. ttl bounds the cache blob's lifetime.
func NewManager(cache store.CacheStore, index store.VectorIndex, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{cache: cache, index: index, ttl: ttl, logger: logger}
}

// Hydrate loads the snapshot from the cache, falling back to a rebuild
// from the vector index when the blob is missing or corrupt.
func (m *Manager) Hydrate(ctx context.Context) error {
	raw, err := m.cache.Get(ctx, CacheKey)
	switch {
	case errors.Is(err, store.ErrCacheMiss):
		m.logger.Info("metadata snapshot missing, rebuilding from vector index")
		return m.Rebuild(ctx)
	case err != nil:
		return err
	}

	docs, err := decodeBlob(raw)
	if err != nil {
		m.logger.Warn("metadata snapshot blob corrupt, rebuilding",
			slog.String("error", err.Error()))
		return m.Rebuild(ctx)
	}

	m.swap(docs)
	m.logger.Debug("metadata snapshot hydrated from cache",
		slog.Int("documents", len(docs)))
	return nil
}

// Rebuild reconstructs the snapshot from the vector index and rewrites
// the cache blob. Document order follows ascending point id, matching
// the order ingestion uploads in.
func (m *Manager) Rebuild(ctx context.Context) error {
	started := time.Now()

	ids, err := m.index.ListIDs(ctx)
	if err != nil {
		return err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	docs := make([]Document, 0, len(ids))
	for start := 0; start < len(ids); start += fetchBatchSize {
		end := start + fetchBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		matches, err := m.index.Fetch(ctx, ids[start:end])
		if err != nil {
			return err
		}

		byID := make(map[uint64]store.VectorMatch, len(matches))
		for _, match := range matches {
			byID[match.ID] = match
		}
		for _, id := range ids[start:end] {
			if match, ok := byID[id]; ok {
				docs = append(docs, FromPayload(match.Payload))
			}
		}
	}

	m.swap(docs)
	m.persist(ctx, docs)

	m.logger.Info("metadata snapshot rebuilt",
		slog.Int("documents", len(docs)),
		slog.Duration("took", time.Since(started)))
	return nil
}

// Append extends the snapshot with freshly ingested documents and
// rewrites the cache blob. Only the ingestion run calls this; readers
// keep whatever slice they already hold.
func (m *Manager) Append(ctx context.Context, newDocs []Document) error {
	if len(newDocs) == 0 {
		return nil
	}

	m.mu.Lock()
	docs := make([]Document, 0, len(m.docs)+len(newDocs))
	docs = append(docs, m.docs...)
	docs = append(docs, newDocs...)
	m.docs = docs
	m.mu.Unlock()

	m.persist(ctx, docs)
	return nil
}

// Documents returns the current snapshot. The slice is shared and must
// be treated as read-only.
func (m *Manager) Documents() []Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs
}

// Len reports the snapshot's document count. BM25 state carrying a
// different count is stale and gets rebuilt.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// ByTitle returns every chunk whose title matches, in snapshot order.
// Chunk enrichment pulls body, OCR, and attachment chunks this way.
func (m *Manager) ByTitle(title string) []Document {
	var out []Document
	for _, d := range m.Documents() {
		if d.Title == title {
			out = append(out, d)
		}
	}
	return out
}

func (m *Manager) swap(docs []Document) {
	m.mu.Lock()
	m.docs = docs
	m.mu.Unlock()
}

// persist writes the blob back to the cache. A write failure degrades
// to a rebuild on the next start instead of failing the caller.
func (m *Manager) persist(ctx context.Context, docs []Document) {
	raw, err := encodeBlob(docs)
	if err != nil {
		m.logger.Warn("metadata snapshot encode failed", slog.String("error", err.Error()))
		return
	}
	if err := m.cache.SetEx(ctx, CacheKey, raw, m.ttl); err != nil {
		m.logger.Warn("metadata snapshot cache write failed", slog.String("error", err.Error()))
	}
}
