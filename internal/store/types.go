// Package store is the persistence layer for the QA service: post
// completion markers, the multimodal extraction cache, and crawl state
// in a relational document store (gorm over sqlite or postgres),
// embedding vectors in Qdrant, and hot blobs such as the BM25 state and
// the metadata snapshot in Redis.
//
// Backends hide behind small interfaces so the ingestion and retrieval
// pipelines can be tested against fakes. Nothing in this package dials
// a server at load time; all connections open in Open or the individual
// Open* constructors.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a document-store lookup matched no record.
var ErrNotFound = errors.New("store: record not found")

// ErrCacheMiss indicates the KV cache has no value under the key.
var ErrCacheMiss = errors.New("store: cache miss")

// Post marks one successfully ingested board post. One row per title;
// re-ingestion after an edit replaces the row with the new content hash.
type Post struct {
	ID          uint      `gorm:"primaryKey"`
	Title       string    `gorm:"uniqueIndex;size:512"`
	ImageURLs   []string  `gorm:"serializer:json"`
	ContentHash string    `gorm:"index;size:64"`
	BoardType   string    `gorm:"index;size:32"`
	Date        time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FirstImageURL returns the first stored image URL, or "".
func (p *Post) FirstImageURL() string {
	if len(p.ImageURLs) == 0 {
		return ""
	}
	return p.ImageURLs[0]
}

// Multimodal entry types.
const (
	EntryTypeImage    = "image"
	EntryTypeDocument = "document"
)

// MultimodalEntry caches one extraction result. URL is the lookup key;
// FileHash lets a different URL serving identical bytes reuse the same
// extraction instead of calling the parse API again.
type MultimodalEntry struct {
	ID          uint   `gorm:"primaryKey"`
	URL         string `gorm:"uniqueIndex;size:2048"`
	FileHash    string `gorm:"index;size:64"`
	Type        string `gorm:"size:16"`
	Filename    string `gorm:"size:512"`
	OCRText     string
	OCRMarkdown string
	OCRHTML     string
	Text        string
	Markdown    string
	HTML        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BestText returns the extracted plain text regardless of entry type.
func (e *MultimodalEntry) BestText() string {
	if e.Type == EntryTypeImage {
		return e.OCRText
	}
	return e.Text
}

// BestMarkdown returns the extracted markdown regardless of entry type.
func (e *MultimodalEntry) BestMarkdown() string {
	if e.Type == EntryTypeImage {
		return e.OCRMarkdown
	}
	return e.Markdown
}

// BestHTML returns the extracted raw HTML regardless of entry type.
func (e *MultimodalEntry) BestHTML() string {
	if e.Type == EntryTypeImage {
		return e.OCRHTML
	}
	return e.HTML
}

// CrawlState tracks the ingestion high-watermark for one board. The
// watermark advances only after a fully successful batch, so a crashed
// run re-crawls its range on the next pass.
type CrawlState struct {
	ID              uint   `gorm:"primaryKey"`
	BoardType       string `gorm:"uniqueIndex;size:32"`
	LastProcessedID int
	LastUpdated     time.Time
	ProcessedCount  int
}

// VectorPoint is one embedding plus its preview payload, addressed by a
// numeric ID assigned monotonically per ingestion run.
type VectorPoint struct {
	ID      uint64
	Vector  []float32
	Payload map[string]any
}

// VectorMatch is one query or fetch result from the vector index. Score
// is cosine similarity for query results and zero for plain fetches.
type VectorMatch struct {
	ID      uint64
	Score   float32
	Payload map[string]any
}

// DocumentStore persists post completion markers, the multimodal
// extraction cache, and per-board crawl state.
type DocumentStore interface {
	// Post completion markers
	GetPost(ctx context.Context, title string) (*Post, error)
	HasPost(ctx context.Context, title, contentHash string) (bool, error)
	UpsertPost(ctx context.Context, post *Post) error
	DeleteAllPosts(ctx context.Context) error
	CountPosts(ctx context.Context) (int64, error)

	// Multimodal extraction cache
	GetEntryByURL(ctx context.Context, url string) (*MultimodalEntry, error)
	GetEntryByFileHash(ctx context.Context, hash string) (*MultimodalEntry, error)
	UpsertEntry(ctx context.Context, entry *MultimodalEntry) error
	DeleteAllEntries(ctx context.Context) error
	CountEntries(ctx context.Context) (int64, error)

	// Crawl state
	GetCrawlState(ctx context.Context, boardType string) (*CrawlState, error)
	UpsertCrawlState(ctx context.Context, state *CrawlState) error
	DeleteAllCrawlStates(ctx context.Context) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// VectorIndex stores embeddings with preview payloads and answers
// nearest-neighbor queries.
type VectorIndex interface {
	// EnsureCollection creates the collection when missing. Dimensions
	// must match the embedder; an existing collection is left untouched.
	EnsureCollection(ctx context.Context, dimensions uint64) error

	// Upsert writes points and waits until they are accepted.
	Upsert(ctx context.Context, points []VectorPoint) error

	// Query returns the topK nearest points by cosine similarity.
	Query(ctx context.Context, vector []float32, topK uint64, withPayload bool) ([]VectorMatch, error)

	// Count returns the exact number of stored points.
	Count(ctx context.Context) (uint64, error)

	// Fetch retrieves points by ID with payloads. Missing IDs are
	// silently absent from the result.
	Fetch(ctx context.Context, ids []uint64) ([]VectorMatch, error)

	// ListIDs pages through the whole collection and returns every
	// point ID.
	ListIDs(ctx context.Context) ([]uint64, error)

	// Delete removes the given points.
	Delete(ctx context.Context, ids ...uint64) error

	// DeleteAll removes every point but keeps the collection.
	DeleteAll(ctx context.Context) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// CacheStore is the KV cache for hot blobs. Get returns ErrCacheMiss
// for absent keys so callers can distinguish a miss from a failure.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}
