package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/crawl"
	"github.com/map-community/CHATBOT-AI-sub000/internal/embed"
	"github.com/map-community/CHATBOT-AI-sub000/internal/extract"
	"github.com/map-community/CHATBOT-AI-sub000/internal/fetch"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDocs is an in-memory store.DocumentStore with call counters.
type fakeDocs struct {
	mu         sync.Mutex
	posts      map[string]*store.Post
	entries    map[string]*store.MultimodalEntry
	entryOrder []string
	states     map[string]*store.CrawlState

	getPostCalls int
	upsertPosts  int
	upsertStates int
	hasPostErr   error
}

var _ store.DocumentStore = (*fakeDocs)(nil)

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		posts:   make(map[string]*store.Post),
		entries: make(map[string]*store.MultimodalEntry),
		states:  make(map[string]*store.CrawlState),
	}
}

func (f *fakeDocs) GetPost(ctx context.Context, title string) (*store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getPostCalls++
	p, ok := f.posts[title]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeDocs) HasPost(ctx context.Context, title, contentHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasPostErr != nil {
		return false, f.hasPostErr
	}
	p, ok := f.posts[title]
	return ok && p.ContentHash == contentHash, nil
}

func (f *fakeDocs) UpsertPost(ctx context.Context, post *store.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertPosts++
	cp := *post
	f.posts[post.Title] = &cp
	return nil
}

func (f *fakeDocs) DeleteAllPosts(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = make(map[string]*store.Post)
	return nil
}

func (f *fakeDocs) CountPosts(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.posts)), nil
}

func (f *fakeDocs) GetEntryByURL(ctx context.Context, url string) (*store.MultimodalEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[url]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeDocs) GetEntryByFileHash(ctx context.Context, hash string) (*store.MultimodalEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hash == "" {
		return nil, store.ErrNotFound
	}
	for _, url := range f.entryOrder {
		if e := f.entries[url]; e != nil && e.FileHash == hash {
			cp := *e
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeDocs) UpsertEntry(ctx context.Context, entry *store.MultimodalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[entry.URL]; !ok {
		f.entryOrder = append(f.entryOrder, entry.URL)
	}
	cp := *entry
	f.entries[entry.URL] = &cp
	return nil
}

func (f *fakeDocs) DeleteAllEntries(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]*store.MultimodalEntry)
	f.entryOrder = nil
	return nil
}

func (f *fakeDocs) CountEntries(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.entries)), nil
}

func (f *fakeDocs) GetCrawlState(ctx context.Context, boardType string) (*store.CrawlState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[boardType]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeDocs) UpsertCrawlState(ctx context.Context, state *store.CrawlState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertStates++
	cp := *state
	f.states[state.BoardType] = &cp
	return nil
}

func (f *fakeDocs) DeleteAllCrawlStates(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = make(map[string]*store.CrawlState)
	return nil
}

func (f *fakeDocs) Ping(ctx context.Context) error { return nil }
func (f *fakeDocs) Close() error                   { return nil }

// fakeVectors is an in-memory store.VectorIndex recording upsert order.
type fakeVectors struct {
	mu        sync.Mutex
	points    map[uint64]store.VectorPoint
	upserted  [][]uint64
	deleted   []uint64
	upsertErr error
}

var _ store.VectorIndex = (*fakeVectors)(nil)

func newFakeVectors() *fakeVectors {
	return &fakeVectors{points: make(map[uint64]store.VectorPoint)}
}

func (f *fakeVectors) EnsureCollection(ctx context.Context, dimensions uint64) error { return nil }

func (f *fakeVectors) Upsert(ctx context.Context, points []store.VectorPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	batch := make([]uint64, len(points))
	for i, p := range points {
		f.points[p.ID] = p
		batch[i] = p.ID
	}
	f.upserted = append(f.upserted, batch)
	return nil
}

func (f *fakeVectors) Query(ctx context.Context, vector []float32, topK uint64, withPayload bool) ([]store.VectorMatch, error) {
	return nil, nil
}

func (f *fakeVectors) Count(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.points)), nil
}

func (f *fakeVectors) Fetch(ctx context.Context, ids []uint64) ([]store.VectorMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matches := make([]store.VectorMatch, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.points[id]; ok {
			matches = append(matches, store.VectorMatch{ID: id, Payload: p.Payload})
		}
	}
	return matches, nil
}

func (f *fakeVectors) ListIDs(ctx context.Context) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uint64, 0, len(f.points))
	for id := range f.points {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *fakeVectors) Delete(ctx context.Context, ids ...uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.points, id)
	}
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeVectors) DeleteAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = make(map[uint64]store.VectorPoint)
	return nil
}

func (f *fakeVectors) Ping(ctx context.Context) error { return nil }
func (f *fakeVectors) Close() error                   { return nil }

// allIDs returns every stored point id in ascending order.
func (f *fakeVectors) allIDs() []uint64 {
	ids, _ := f.ListIDs(context.Background())
	return ids
}

// fakeCache is an in-memory store.CacheStore.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ store.CacheStore = (*fakeCache)(nil)

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	return v, nil
}

func (f *fakeCache) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeCache) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeCache) Ping(ctx context.Context) error { return nil }
func (f *fakeCache) Close() error                   { return nil }

// fakeFetcher serves canned files by URL.
type fakeFetcher struct {
	mu    sync.Mutex
	files map[string]fetchFile
	errs  map[string]error
	calls []string
}

type fetchFile struct {
	data     []byte
	filename string
}

var _ fetch.Fetcher = (*fakeFetcher)(nil)

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: make(map[string]fetchFile), errs: make(map[string]error)}
}

func (f *fakeFetcher) serve(url, filename string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[url] = fetchFile{data: data, filename: filename}
	delete(f.errs, url)
}

func (f *fakeFetcher) failWith(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	file, ok := f.files[rawURL]
	if !ok {
		return nil, fmt.Errorf("no canned file for %s", rawURL)
	}
	return &fetch.Result{
		Data:        file.data,
		Filename:    file.filename,
		ResolvedURL: rawURL,
	}, nil
}

func (f *fakeFetcher) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

// fakeExtractor returns canned results by filename.
type fakeExtractor struct {
	mu        sync.Mutex
	results   map[string]*extract.Result
	zipResult *extract.ZipResult
	err       error
	zipErr    error
	calls     int
	zipCalls  int
}

var _ extract.Extractor = (*fakeExtractor)(nil)

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{results: make(map[string]*extract.Result)}
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte, filename string) (*extract.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[filename]; ok {
		return r, nil
	}
	return &extract.Result{Text: "추출된 텍스트: " + filename}, nil
}

func (f *fakeExtractor) ExtractZip(ctx context.Context, data []byte) (*extract.ZipResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zipCalls++
	if f.zipErr != nil {
		return nil, f.zipErr
	}
	if f.zipResult != nil {
		return f.zipResult, nil
	}
	return &extract.ZipResult{}, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEmbedder returns constant-direction vectors and records batches.
type fakeEmbedder struct {
	mu      sync.Mutex
	dims    int
	batches [][]string
	err     error
	short   bool // return one vector fewer than asked
}

var _ embed.Embedder = (*fakeEmbedder)(nil)

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{dims: 4}
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.vector(), nil
}

func (f *fakeEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, append([]string(nil), texts...))
	n := len(texts)
	if f.short && n > 0 {
		n--
	}
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = f.vector()
	}
	return vectors, nil
}

func (f *fakeEmbedder) vector() []float32 {
	v := make([]float32, f.dims)
	v[0] = 1
	return v
}

func (f *fakeEmbedder) Dimensions() int                    { return f.dims }
func (f *fakeEmbedder) ModelName() string                  { return "fake-passage-model" }
func (f *fakeEmbedder) Available(ctx context.Context) bool { return true }
func (f *fakeEmbedder) Close() error                       { return nil }

func (f *fakeEmbedder) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// fakeCrawler serves canned posts per board.
type fakeCrawler struct {
	mu        sync.Mutex
	latest    map[config.BoardType]int
	posts     map[config.BoardType]map[int]*crawl.Post
	latestErr map[config.BoardType]error
}

var _ Crawler = (*fakeCrawler)(nil)

func newFakeCrawler() *fakeCrawler {
	return &fakeCrawler{
		latest:    make(map[config.BoardType]int),
		posts:     make(map[config.BoardType]map[int]*crawl.Post),
		latestErr: make(map[config.BoardType]error),
	}
}

func (f *fakeCrawler) addPost(board config.BoardType, id int, post *crawl.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posts[board] == nil {
		f.posts[board] = make(map[int]*crawl.Post)
	}
	post.BoardType = board
	post.BoardID = id
	f.posts[board][id] = post
	if id > f.latest[board] {
		f.latest[board] = id
	}
}

func (f *fakeCrawler) LatestID(ctx context.Context, board config.BoardType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.latestErr[board]; err != nil {
		return 0, err
	}
	return f.latest[board], nil
}

func (f *fakeCrawler) CrawlPosts(ctx context.Context, board config.BoardType, ids []int) ([]*crawl.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	posts := make([]*crawl.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.posts[board][id]; ok {
			cp := *p
			posts = append(posts, &cp)
		}
	}
	return posts, nil
}
