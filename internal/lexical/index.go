package lexical

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iwilltry42/bm25-go/bm25"

	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

// CacheKey is the cache slot for the tokenized corpus. The version
// suffix guards against older blob layouts.
const CacheKey = "bm25_cache_v2"

const (
	// Okapi parameters.
	bm25K1 = 1.5
	bm25B  = 0.75

	// Raw Okapi scores land roughly in 0..30 on this corpus; dividing
	// brings them onto the same scale as adjusted dense scores.
	bm25ScoreNormalizer = 24.0

	// DefaultTopK is the hit-list cut when the caller passes none.
	DefaultTopK = 50
)

// Hit is one scored corpus position. Index addresses the snapshot
// document slice the index was built from.
type Hit struct {
	Index int
	Score float64
}

// corpusBlob is the cached build product. HTMLTexts ride along so an
// append-only corpus growth re-tokenizes only the new tail.
type corpusBlob struct {
	Tokens    [][]string `json:"tokenized_documents"`
	HTMLTexts []string   `json:"html_texts"`
	DocCount  int        `json:"doc_count"`
}

// Index scores queries against the snapshot corpus. Building is guarded
// by a mutex; searching is read-only and safe to run concurrently.
type Index struct {
	cache  store.CacheStore
	ttl    time.Duration
	logger *slog.Logger

	k1 float64
	b  float64

	mu          sync.RWMutex
	engine      *bm25.BM25Okapi
	titleTokens [][]string
	bodyEmpty   []bool
	docCount    int

	buildMu sync.Mutex
}

// NewIndex creates an empty Index. k1/b at or below zero fall back to
// the Okapi defaults.
func NewIndex(cache store.CacheStore, k1, b float64, ttl time.Duration, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	if k1 <= 0 {
		k1 = bm25K1
	}
	if b <= 0 {
		b = bm25B
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Index{cache: cache, ttl: ttl, logger: logger, k1: k1, b: b}
}

// DocCount reports the corpus size of the current build.
func (x *Index) DocCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.docCount
}

// Warm builds the index for docs if the current build is stale. Called
// at startup and after ingestion; Search also calls it, so a stale
// index only costs the first query its build time.
func (x *Index) Warm(ctx context.Context, docs []snapshot.Document) error {
	if x.upToDate(len(docs)) {
		return nil
	}

	x.buildMu.Lock()
	defer x.buildMu.Unlock()
	if x.upToDate(len(docs)) {
		return nil
	}
	return x.build(ctx, docs)
}

func (x *Index) upToDate(corpusLen int) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.docCount == corpusLen && (x.engine != nil || corpusLen == 0)
}

// Search scores queryTokens against docs and returns the topK positive
// hits, best first. docs must be the same snapshot slice across a
// request; a corpus-size change triggers a rebuild first.
func (x *Index) Search(ctx context.Context, docs []snapshot.Document, queryTokens []string, topK int) ([]Hit, error) {
	if len(docs) == 0 || len(queryTokens) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if err := x.Warm(ctx, docs); err != nil {
		return nil, err
	}

	x.mu.RLock()
	engine := x.engine
	titleTokens := x.titleTokens
	bodyEmpty := x.bodyEmpty
	x.mu.RUnlock()

	scores, err := engine.GetScores(queryTokens)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeSearchFailed, "bm25 scoring failed", err)
	}
	if len(scores) != len(docs) {
		return nil, qaerrors.New(qaerrors.ErrCodeStateMismatch, "bm25 corpus diverged from snapshot", nil).
			WithDetail("scores", strconv.Itoa(len(scores))).
			WithDetail("documents", strconv.Itoa(len(docs)))
	}

	hits := make([]Hit, 0, topK)
	for i, raw := range scores {
		score := adjustSimilarity(raw/bm25ScoreNormalizer, titleTokens[i], bodyEmpty[i], queryTokens)
		if score > 0 {
			hits = append(hits, Hit{Index: i, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Index < hits[j].Index
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// build tokenizes the corpus, reusing the cached prefix when the corpus
// only grew, then rebuilds the scoring engine and rewrites the cache.
func (x *Index) build(ctx context.Context, docs []snapshot.Document) error {
	started := time.Now()

	tokens := make([][]string, len(docs))
	htmlTexts := make([]string, len(docs))

	reused := 0
	if cached := x.loadBlob(ctx); cached != nil && cached.DocCount <= len(docs) {
		reused = cached.DocCount
		copy(tokens, cached.Tokens)
		copy(htmlTexts, cached.HTMLTexts)
	}

	if err := tokenizeRange(ctx, docs, htmlTexts, tokens, reused); err != nil {
		return err
	}

	var engine *bm25.BM25Okapi
	if len(docs) > 0 {
		corpus := make([]string, len(docs))
		for i, toks := range tokens {
			corpus[i] = strings.Join(toks, " ")
		}
		var err error
		engine, err = bm25.NewBM25Okapi(corpus, strings.Fields, x.k1, x.b, nil)
		if err != nil {
			return qaerrors.New(qaerrors.ErrCodeSearchFailed, "bm25 engine build failed", err)
		}
	}

	titleTokens := make([][]string, len(docs))
	bodyEmpty := make([]bool, len(docs))
	for i, d := range docs {
		titleTokens[i] = Tokenize(d.Title)
		bodyEmpty[i] = strings.TrimSpace(d.Text) == ""
	}

	x.mu.Lock()
	x.engine = engine
	x.titleTokens = titleTokens
	x.bodyEmpty = bodyEmpty
	x.docCount = len(docs)
	x.mu.Unlock()

	if reused != len(docs) {
		x.persistBlob(ctx, corpusBlob{Tokens: tokens, HTMLTexts: htmlTexts, DocCount: len(docs)})
	}

	x.logger.Info("bm25 index built",
		slog.Int("documents", len(docs)),
		slog.Int("reused", reused),
		slog.Duration("took", time.Since(started)))
	return nil
}

func (x *Index) loadBlob(ctx context.Context) *corpusBlob {
	raw, err := x.cache.Get(ctx, CacheKey)
	if err != nil {
		return nil
	}

	var blob corpusBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		x.logger.Warn("bm25 cache blob corrupt, ignoring", slog.String("error", err.Error()))
		return nil
	}
	if len(blob.Tokens) != blob.DocCount || len(blob.HTMLTexts) != blob.DocCount {
		x.logger.Warn("bm25 cache blob inconsistent, ignoring",
			slog.Int("doc_count", blob.DocCount),
			slog.Int("tokens", len(blob.Tokens)))
		return nil
	}
	return &blob
}

// persistBlob degrades silently to a cold build on the next start.
func (x *Index) persistBlob(ctx context.Context, blob corpusBlob) {
	raw, err := json.Marshal(blob)
	if err != nil {
		x.logger.Warn("bm25 cache encode failed", slog.String("error", err.Error()))
		return
	}
	if err := x.cache.SetEx(ctx, CacheKey, raw, x.ttl); err != nil {
		x.logger.Warn("bm25 cache write failed", slog.String("error", err.Error()))
	}
}
