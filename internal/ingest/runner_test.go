package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/crawl"
	"github.com/map-community/CHATBOT-AI-sub000/internal/lexical"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
)

// runnerFixture wires a full ingestion runner over in-memory fakes. The
// state manager, processor, uploader, snapshot, and BM25 index are the
// real implementations; only the edges (HTTP, extraction API, embedding
// API, stores) are faked.
type runnerFixture struct {
	docs      *fakeDocs
	vectors   *fakeVectors
	cache     *fakeCache
	fetcher   *fakeFetcher
	extractor *fakeExtractor
	embedder  *fakeEmbedder
	crawler   *fakeCrawler
	snap      *snapshot.Manager
	lex       *lexical.Index
	boards    []config.BoardConfig
	lock      *Lock
}

func newRunnerFixture(boards ...config.BoardConfig) *runnerFixture {
	if len(boards) == 0 {
		boards = []config.BoardConfig{{
			Type:    config.BoardNotice,
			URL:     "https://cse.example.ac.kr/bbs/board.php?bo_table=notice",
			FloorID: 101,
		}}
	}
	fx := &runnerFixture{
		docs:      newFakeDocs(),
		vectors:   newFakeVectors(),
		cache:     newFakeCache(),
		fetcher:   newFakeFetcher(),
		extractor: newFakeExtractor(),
		embedder:  newFakeEmbedder(),
		crawler:   newFakeCrawler(),
		boards:    boards,
	}
	fx.snap = snapshot.NewManager(fx.cache, fx.vectors, time.Hour, quietLogger())
	fx.lex = lexical.NewIndex(fx.cache, 1.5, 0.75, time.Hour, quietLogger())
	return fx
}

func (fx *runnerFixture) runner(t *testing.T) *Runner {
	t.Helper()
	kst := time.Date(2025, 3, 4, 12, 0, 0, 0, clock.Location())
	state := crawl.NewStateManager(fx.docs, clock.Fixed{T: kst}, quietLogger())
	multimodal := NewMultimodal(fx.docs, fx.fetcher, fx.extractor, quietLogger())

	r, err := NewRunner(RunnerDeps{
		Crawler:   fx.crawler,
		State:     state,
		Processor: NewProcessor(fx.docs, multimodal, nil, quietLogger()),
		Uploader:  NewUploader(fx.embedder, fx.vectors, 0, quietLogger()),
		Docs:      fx.docs,
		Snapshot:  fx.snap,
		Lexical:   fx.lex,
		Boards:    fx.boards,
		Lock:      fx.lock,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	return r
}

func (fx *runnerFixture) seedPosts(board config.BoardType, ids ...int) {
	for _, id := range ids {
		fx.crawler.addPost(board, id, &crawl.Post{
			Title: fmt.Sprintf("공지 %d", id),
			Body:  fmt.Sprintf("공지 %d 본문입니다", id),
			Date:  "2025-03-04T10:00:00+09:00",
			URL:   fmt.Sprintf("https://cse.example.ac.kr/bbs/board.php?bo_table=notice&wr_id=%d", id),
		})
	}
}

func (fx *runnerFixture) watermark(t *testing.T, board config.BoardType) (int, int) {
	t.Helper()
	st, err := fx.docs.GetCrawlState(context.Background(), board.String())
	require.NoError(t, err)
	return st.LastProcessedID, st.ProcessedCount
}

func TestRunFirstPassIngestsEverything(t *testing.T) {
	fx := newRunnerFixture()
	fx.seedPosts(config.BoardNotice, 101, 102, 103)
	ctx := context.Background()

	report, err := fx.runner(t).Run(ctx)

	require.NoError(t, err)
	require.Len(t, report.Boards, 1)
	br := report.Boards[0]
	assert.Empty(t, br.Err)
	assert.Equal(t, 103, br.LatestID)
	assert.Equal(t, 3, br.Range)
	assert.Equal(t, 3, br.Crawled)
	assert.Equal(t, 3, br.Ingested)
	assert.Zero(t, br.Skipped)
	assert.Zero(t, br.Failed)
	assert.Equal(t, 3, br.Items)
	assert.False(t, report.Failed())

	ingested, skipped, failed, items := report.Totals()
	assert.Equal(t, 3, ingested)
	assert.Zero(t, skipped)
	assert.Zero(t, failed)
	assert.Equal(t, 3, items)

	// One vector per body chunk, ids from zero.
	assert.Equal(t, []uint64{0, 1, 2}, fx.vectors.allIDs())

	// Completion markers for every post.
	n, err := fx.docs.CountPosts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// Watermark at the latest id, processed count matching.
	last, processed := fx.watermark(t, config.BoardNotice)
	assert.Equal(t, 103, last)
	assert.Equal(t, 3, processed)

	// Snapshot and BM25 corpus cover the new documents.
	assert.Equal(t, 3, fx.snap.Len())
	assert.Equal(t, 3, fx.lex.DocCount())
}

func TestRunSecondPassIsUpToDate(t *testing.T) {
	fx := newRunnerFixture()
	fx.seedPosts(config.BoardNotice, 101, 102, 103)
	ctx := context.Background()

	_, err := fx.runner(t).Run(ctx)
	require.NoError(t, err)

	report, err := fx.runner(t).Run(ctx)

	require.NoError(t, err)
	br := report.Boards[0]
	assert.Empty(t, br.Err)
	assert.Zero(t, br.Range, "watermark at latest leaves nothing to crawl")
	assert.Zero(t, br.Crawled)
	assert.Equal(t, []uint64{0, 1, 2}, fx.vectors.allIDs())
}

func TestRunRecrawlDedupsByContentHash(t *testing.T) {
	fx := newRunnerFixture()
	fx.seedPosts(config.BoardNotice, 101, 102, 103)
	ctx := context.Background()

	_, err := fx.runner(t).Run(ctx)
	require.NoError(t, err)

	// Simulate a lost watermark, as after a crash between upload and
	// state update. The whole range is re-crawled; content hashes make
	// the re-run idempotent.
	require.NoError(t, fx.docs.DeleteAllCrawlStates(ctx))

	report, err := fx.runner(t).Run(ctx)

	require.NoError(t, err)
	br := report.Boards[0]
	assert.Equal(t, 3, br.Range)
	assert.Equal(t, 3, br.Skipped)
	assert.Zero(t, br.Ingested)
	assert.Equal(t, []uint64{0, 1, 2}, fx.vectors.allIDs(), "no duplicate vectors")

	last, _ := fx.watermark(t, config.BoardNotice)
	assert.Equal(t, 103, last, "watermark restored even when everything deduped")
}

func TestRunAssignsMonotoneIDsAcrossRuns(t *testing.T) {
	fx := newRunnerFixture()
	fx.seedPosts(config.BoardNotice, 101, 102, 103)
	ctx := context.Background()

	_, err := fx.runner(t).Run(ctx)
	require.NoError(t, err)
	before, err := fx.vectors.Count(ctx)
	require.NoError(t, err)

	fx.seedPosts(config.BoardNotice, 104)
	_, err = fx.runner(t).Run(ctx)
	require.NoError(t, err)

	ids := fx.vectors.allIDs()
	require.Len(t, ids, int(before)+1)
	assert.Equal(t, before, ids[len(ids)-1], "new ids continue from the previous count")
}

func TestRunUploadFailureHoldsWatermark(t *testing.T) {
	fx := newRunnerFixture()
	fx.seedPosts(config.BoardNotice, 101, 102, 103)
	fx.embedder.err = errors.New("provider unavailable")
	ctx := context.Background()

	report, err := fx.runner(t).Run(ctx)

	require.NoError(t, err, "board failures stay in the report")
	br := report.Boards[0]
	assert.NotEmpty(t, br.Err)
	assert.True(t, report.Failed())
	assert.Empty(t, fx.vectors.allIDs())

	_, err = fx.docs.GetCrawlState(ctx, config.BoardNotice.String())
	require.Error(t, err, "watermark must not move when nothing was accepted")

	// Recovery: the same range is crawled again and fully ingested.
	fx.embedder.err = nil
	report, err = fx.runner(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Boards[0].Ingested)
	last, _ := fx.watermark(t, config.BoardNotice)
	assert.Equal(t, 103, last)
}

func TestRunHoldsWatermarkBelowFailedPost(t *testing.T) {
	fx := newRunnerFixture()
	fx.seedPosts(config.BoardNotice, 101, 103)
	ctx := context.Background()

	// Post 102 carries one image and its fetch fails, so every artifact
	// of the post fails and the post is aborted.
	const imgURL = "https://cse.example.ac.kr/img/poster102.png"
	fx.crawler.addPost(config.BoardNotice, 102, &crawl.Post{
		Title:     "공지 102",
		Body:      "포스터 참조",
		Date:      "2025-03-04T10:00:00+09:00",
		URL:       "https://cse.example.ac.kr/bbs/board.php?bo_table=notice&wr_id=102",
		ImageURLs: []string{imgURL},
	})
	fx.fetcher.failWith(imgURL, errors.New("connection reset"))

	report, err := fx.runner(t).Run(ctx)

	require.NoError(t, err)
	br := report.Boards[0]
	assert.Empty(t, br.Err, "one aborted post does not fail the board")
	assert.Equal(t, 2, br.Ingested)
	assert.Equal(t, 1, br.Failed)
	require.Len(t, br.Failures, 1)
	assert.Equal(t, "공지 102", br.Failures[0].Title)

	last, processed := fx.watermark(t, config.BoardNotice)
	assert.Equal(t, 101, last, "watermark stays below the aborted post")
	assert.Equal(t, 2, processed)

	// Next run re-crawls 102 and 103; 103 dedups, 102 succeeds now that
	// the image is reachable.
	fx.fetcher.serve(imgURL, "poster102.png", []byte("img"))
	report, err = fx.runner(t).Run(ctx)
	require.NoError(t, err)
	br = report.Boards[0]
	assert.Equal(t, 2, br.Range)
	assert.Equal(t, 1, br.Skipped)
	assert.Equal(t, 1, br.Ingested)
	assert.Equal(t, 2, br.Items, "post body plus the OCR text")

	last, processed = fx.watermark(t, config.BoardNotice)
	assert.Equal(t, 103, last)
	assert.Equal(t, 3, processed)
}

func TestRunBoardFailureIsolated(t *testing.T) {
	fx := newRunnerFixture(
		config.BoardConfig{Type: config.BoardNotice, URL: "https://cse.example.ac.kr/bbs/board.php?bo_table=notice", FloorID: 101},
		config.BoardConfig{Type: config.BoardJob, URL: "https://cse.example.ac.kr/bbs/board.php?bo_table=job", FloorID: 201},
	)
	fx.crawler.latestErr[config.BoardNotice] = errors.New("landing page unreachable")
	fx.seedPosts(config.BoardJob, 201, 202)
	ctx := context.Background()

	report, err := fx.runner(t).Run(ctx)

	require.NoError(t, err)
	require.Len(t, report.Boards, 2)
	assert.NotEmpty(t, report.Boards[0].Err)
	assert.Empty(t, report.Boards[1].Err)
	assert.Equal(t, 2, report.Boards[1].Ingested)

	last, _ := fx.watermark(t, config.BoardJob)
	assert.Equal(t, 202, last)
}

func TestRunRefusesWhenLockHeld(t *testing.T) {
	dir := t.TempDir()

	other := NewLock(dir)
	held, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, held)
	defer func() { _ = other.Unlock() }()

	fx := newRunnerFixture()
	fx.seedPosts(config.BoardNotice, 101)
	fx.lock = NewLock(dir)

	_, err = fx.runner(t).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "another ingestion run holds the lock")
	assert.Empty(t, fx.vectors.allIDs())

	// Released lock lets the next run proceed.
	require.NoError(t, other.Unlock())
	report, err := fx.runner(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Boards[0].Ingested)
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	fx := newRunnerFixture()
	fx.seedPosts(config.BoardNotice, 101)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := fx.runner(t).Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Boards)
}

func TestNewRunnerValidatesDeps(t *testing.T) {
	fx := newRunnerFixture()
	kst := time.Date(2025, 3, 4, 12, 0, 0, 0, clock.Location())
	state := crawl.NewStateManager(fx.docs, clock.Fixed{T: kst}, quietLogger())
	multimodal := NewMultimodal(fx.docs, fx.fetcher, fx.extractor, quietLogger())

	deps := RunnerDeps{
		Crawler:   fx.crawler,
		State:     state,
		Processor: NewProcessor(fx.docs, multimodal, nil, quietLogger()),
		Uploader:  NewUploader(fx.embedder, fx.vectors, 0, quietLogger()),
		Docs:      fx.docs,
		Snapshot:  fx.snap,
		Lexical:   fx.lex,
		Boards:    fx.boards,
		Logger:    quietLogger(),
	}

	_, err := NewRunner(deps)
	require.NoError(t, err)

	broken := deps
	broken.Crawler = nil
	_, err = NewRunner(broken)
	assert.ErrorContains(t, err, "crawler is required")

	broken = deps
	broken.Lexical = nil
	_, err = NewRunner(broken)
	assert.ErrorContains(t, err, "lexical index is required")

	broken = deps
	broken.Boards = nil
	_, err = NewRunner(broken)
	assert.ErrorContains(t, err, "at least one board is required")
}
