package retrieval

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/lexical"
	"github.com/map-community/CHATBOT-AI-sub000/internal/rerank"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
	"github.com/map-community/CHATBOT-AI-sub000/internal/telemetry"
)

// fakeReranker scores documents by title lookup. Unknown titles sink.
type fakeReranker struct {
	scores    map[string]float64
	available bool
	err       error
	calls     int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, docs []rerank.Document, topK int) ([]rerank.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]rerank.Result, 0, len(docs))
	for i, d := range docs {
		score, ok := f.scores[d.Title]
		if !ok {
			score = -10
		}
		out = append(out, rerank.Result{Index: i, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeReranker) ComputeScore(context.Context, string, rerank.Document) (float64, error) {
	return 0, nil
}

func (f *fakeReranker) Available(context.Context) bool { return f.available }

func (f *fakeReranker) Info() string { return "fake" }

func (f *fakeReranker) Close() error { return nil }

var _ rerank.Reranker = (*fakeReranker)(nil)

// qaCorpus is a small notice board: a current-semester registration
// post with OCR and attachment chunks, a two-year-old registration
// post, and an unrelated library notice.
func qaCorpus() (docs []snapshot.Document, matches []store.VectorMatch) {
	current := snapshot.Document{
		Title:       "2025학년도 1학기 수강신청 안내",
		Text:        "2025학년도 1학기 수강신청 기간과 방법을 안내합니다",
		URL:         noticeBoardURL + "?wr_id=100",
		Date:        "2025-06-10T09:00:00+09:00",
		ContentType: snapshot.ContentText,
		Source:      snapshot.SourceOriginalPost,
	}
	currentOCR := snapshot.Document{
		Title:       current.Title,
		Text:        "수강신청 일정표 이미지에서 추출한 학년별 신청 시각",
		URL:         current.URL,
		Date:        current.Date,
		ContentType: snapshot.ContentImage,
		Source:      snapshot.SourceImageOCR,
		ImageURL:    "https://cs.example.ac.kr/files/timetable.png",
	}
	currentManual := snapshot.Document{
		Title:          current.Title,
		Text:           "수강신청 매뉴얼 문서에서 추출한 단계별 절차",
		URL:            current.URL,
		Date:           current.Date,
		ContentType:    snapshot.ContentAttachment,
		Source:         snapshot.SourceDocumentParse,
		AttachmentURL:  "https://cs.example.ac.kr/files/manual.pdf",
		AttachmentType: "pdf",
	}
	stale := snapshot.Document{
		Title:       "2023학년도 수강신청 일정 안내",
		Text:        "2023학년도 수강신청 일정을 안내합니다",
		URL:         noticeBoardURL + "?wr_id=50",
		Date:        "2023-04-01T09:00:00+09:00",
		ContentType: snapshot.ContentText,
		Source:      snapshot.SourceOriginalPost,
	}
	library := snapshot.Document{
		Title:       "도서관 이용시간 변경",
		Text:        "중앙도서관 운영시간이 변경됩니다",
		URL:         noticeBoardURL + "?wr_id=80",
		Date:        "2025-06-05T09:00:00+09:00",
		ContentType: snapshot.ContentText,
		Source:      snapshot.SourceOriginalPost,
	}

	docs = []snapshot.Document{current, currentOCR, currentManual, stale, library}
	matches = []store.VectorMatch{
		match(1, 0.85, current),
		match(2, 0.75, stale),
		match(3, 0.20, library),
	}
	return docs, matches
}

func newTestOrchestrator(t *testing.T, docs []snapshot.Document, vindex *fakeVectorIndex, opts ...Option) *Orchestrator {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := store.NewCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })

	snap := snapshot.NewManager(cache, nil, time.Hour, nil)
	require.NoError(t, snap.Append(context.Background(), docs))

	lex := lexical.NewIndex(cache, 0, 0, time.Hour, nil)
	weigher := NewWeigher(config.SearchConfig{}, clock.Fixed{T: fixedNow})
	dense := NewDenseRetriever(&fakeEmbedder{vec: []float32{1, 0}}, vindex, weigher, nil)

	base := []Option{WithClock(clock.Fixed{T: fixedNow})}
	return NewOrchestrator(lex, snap, dense, weigher, append(base, opts...)...)
}

func chunkTexts(chunks []Candidate) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestOrchestrator_EnrichesTopPosts(t *testing.T) {
	docs, matches := qaCorpus()
	o := newTestOrchestrator(t, docs, &fakeVectorIndex{matches: matches})

	res, err := o.Search(context.Background(), "2025학년도 1학기 수강신청 기간 알려줘")
	require.NoError(t, err)

	assert.False(t, res.NoAnswer)
	assert.False(t, res.Reranked)
	assert.Nil(t, res.List)
	assert.Equal(t, "2025학년도 1학기 수강신청 안내", res.TopTitle)
	assert.Equal(t, noticeBoardURL+"?wr_id=100", res.TopURL)
	assert.Equal(t, "2025-06-10T09:00:00+09:00", res.TopDate)

	// The top post contributes every chunk: body, OCR, attachment. The
	// unrelated library notice mentions no query token and is gone.
	texts := chunkTexts(res.Chunks)
	assert.Contains(t, texts, "2025학년도 1학기 수강신청 기간과 방법을 안내합니다")
	assert.Contains(t, texts, "수강신청 일정표 이미지에서 추출한 학년별 신청 시각")
	assert.Contains(t, texts, "수강신청 매뉴얼 문서에서 추출한 단계별 절차")
	assert.NotContains(t, texts, "중앙도서관 운영시간이 변경됩니다")

	// The best post's body chunk leads.
	assert.Equal(t, "2025학년도 1학기 수강신청 기간과 방법을 안내합니다", res.Chunks[0].Text)

	for _, stage := range []telemetry.Stage{
		telemetry.StageTokenize, telemetry.StageBM25, telemetry.StageDense,
		telemetry.StageCombine, telemetry.StageEnrich,
	} {
		assert.Contains(t, res.Stages, stage)
	}
}

func TestOrchestrator_ListShortcutBypassesPipeline(t *testing.T) {
	docs, matches := qaCorpus()
	vindex := &fakeVectorIndex{matches: matches}

	sc := func(o *Orchestrator) *ListShortcut {
		boards := []config.BoardConfig{{Type: config.BoardNotice, URL: noticeBoardURL}}
		return NewListShortcut(o.snap, boards, nil)
	}
	o := newTestOrchestrator(t, docs, vindex)
	o.shortcut = sc(o)

	res, err := o.Search(context.Background(), "최근 공지 알려줘")
	require.NoError(t, err)

	require.NotNil(t, res.List)
	assert.Empty(t, res.Chunks)
	assert.False(t, res.NoAnswer)

	require.Len(t, res.List.Items, 3)
	assert.Equal(t, "2025학년도 1학기 수강신청 안내", res.List.Items[0].Title)
	assert.Equal(t, "도서관 이용시간 변경", res.List.Items[1].Title)
	assert.Equal(t, "2023학년도 수강신청 일정 안내", res.List.Items[2].Title)

	// The fused pipeline never ran.
	assert.Zero(t, vindex.lastTopK)
}

func TestOrchestrator_DenseFailureDegradesToLexical(t *testing.T) {
	docs, _ := qaCorpus()
	o := newTestOrchestrator(t, docs, &fakeVectorIndex{queryErr: errors.New("qdrant down")})

	res, err := o.Search(context.Background(), "2025학년도 1학기 수강신청 기간 알려줘")
	require.NoError(t, err)

	assert.False(t, res.NoAnswer)
	assert.Equal(t, "2025학년도 1학기 수강신청 안내", res.TopTitle)
}

func TestOrchestrator_RerankerReorders(t *testing.T) {
	docs, matches := qaCorpus()
	rr := &fakeReranker{
		available: true,
		scores: map[string]float64{
			"2023학년도 수강신청 일정 안내":  5.0,
			"2025학년도 1학기 수강신청 안내": 1.0,
		},
	}
	o := newTestOrchestrator(t, docs, &fakeVectorIndex{matches: matches}, WithReranker(rr))

	res, err := o.Search(context.Background(), "2025학년도 1학기 수강신청 기간 알려줘")
	require.NoError(t, err)

	assert.True(t, res.Reranked)
	assert.Equal(t, 1, rr.calls)
	assert.Equal(t, "2023학년도 수강신청 일정 안내", res.TopTitle)
	assert.Contains(t, res.Stages, telemetry.StageRerank)
}

func TestOrchestrator_RerankFailureKeepsFusedOrder(t *testing.T) {
	docs, matches := qaCorpus()
	rr := &fakeReranker{available: true, err: errors.New("rerank service down")}
	o := newTestOrchestrator(t, docs, &fakeVectorIndex{matches: matches}, WithReranker(rr))

	res, err := o.Search(context.Background(), "2025학년도 1학기 수강신청 기간 알려줘")
	require.NoError(t, err)

	assert.False(t, res.Reranked)
	assert.Equal(t, "2025학년도 1학기 수강신청 안내", res.TopTitle)
}

func TestOrchestrator_UnavailableRerankerIsSkipped(t *testing.T) {
	docs, matches := qaCorpus()
	rr := &fakeReranker{available: false}
	o := newTestOrchestrator(t, docs, &fakeVectorIndex{matches: matches}, WithReranker(rr))

	res, err := o.Search(context.Background(), "2025학년도 1학기 수강신청 기간 알려줘")
	require.NoError(t, err)

	assert.False(t, res.Reranked)
	assert.Zero(t, rr.calls)
}

func TestOrchestrator_OngoingIntentDemotesStalePosts(t *testing.T) {
	docs, matches := qaCorpus()
	// The cross-encoder slightly prefers the stale post.
	rr := &fakeReranker{
		available: true,
		scores: map[string]float64{
			"2023학년도 수강신청 일정 안내":  5.0,
			"2025학년도 1학기 수강신청 안내": 4.8,
		},
	}
	o := newTestOrchestrator(t, docs, &fakeVectorIndex{matches: matches},
		WithReranker(rr),
		WithIntentParser(NewIntentParser(nil, clock.Fixed{T: fixedNow}, nil)),
	)

	res, err := o.Search(context.Background(), "지금 수강신청 가능한가요")
	require.NoError(t, err)

	require.NotNil(t, res.Intent)
	assert.True(t, res.Intent.IsOngoing)
	assert.Contains(t, res.Stages, telemetry.StageIntent)

	// The current-semester post overtakes the two-year-old one.
	assert.Equal(t, "2025학년도 1학기 수강신청 안내", res.TopTitle)
}

func TestOrchestrator_PolicyIntentLeavesRerankOrderAlone(t *testing.T) {
	docs, matches := qaCorpus()
	rr := &fakeReranker{
		available: true,
		scores: map[string]float64{
			"2023학년도 수강신청 일정 안내":  5.0,
			"2025학년도 1학기 수강신청 안내": 4.8,
		},
	}
	o := newTestOrchestrator(t, docs, &fakeVectorIndex{matches: matches},
		WithReranker(rr),
		WithIntentParser(NewIntentParser(nil, clock.Fixed{T: fixedNow}, nil)),
	)

	res, err := o.Search(context.Background(), "지금 수강신청 규정 알려줘")
	require.NoError(t, err)

	require.NotNil(t, res.Intent)
	assert.True(t, res.Intent.IsPolicy)
	assert.Equal(t, "2023학년도 수강신청 일정 안내", res.TopTitle)
}

func TestOrchestrator_NoAnswerBelowFloor(t *testing.T) {
	docs, _ := qaCorpus()
	library := docs[4]
	vindex := &fakeVectorIndex{matches: []store.VectorMatch{match(3, 0.01, library)}}
	o := newTestOrchestrator(t, docs, vindex)

	res, err := o.Search(context.Background(), "셔틀버스 운행 시간표")
	require.NoError(t, err)

	assert.True(t, res.NoAnswer)
	assert.Empty(t, res.Chunks)
	assert.Empty(t, res.TopTitle)
}

func TestOrchestrator_EmptyCorpus(t *testing.T) {
	o := newTestOrchestrator(t, nil, &fakeVectorIndex{})

	res, err := o.Search(context.Background(), "수강신청 기간")
	require.NoError(t, err)
	assert.True(t, res.NoAnswer)
}

func TestSparseCandidates_AppliesFloorAndBounds(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, nil)
	docs := []snapshot.Document{
		{Title: "첫번째 공지"},
		{Title: "두번째 공지"},
	}
	hits := []lexical.Hit{
		{Index: 0, Score: 2.4},
		{Index: 1, Score: 1.0},  // below the 1.8 floor
		{Index: 7, Score: 99.0}, // stale index from a diverged corpus
	}

	out := o.sparseCandidates(hits, docs)
	require.Len(t, out, 1)
	assert.Equal(t, "첫번째 공지", out[0].Title)
	assert.InDelta(t, 2.4, out[0].Score, 1e-9)
}

func TestDedupByURL(t *testing.T) {
	cands := []Candidate{
		{Title: "a", URL: "u1", Score: 5},
		{Title: "b", URL: "u2", Score: 4},
		{Title: "c", URL: "u1", Score: 3},
		{Title: "d", URL: "", Score: 2},
		{Title: "e", URL: "", Score: 1},
		{Title: "f", URL: "u3", Score: 0.5},
	}

	out := dedupByURL(cands, 4)
	require.Len(t, out, 4)
	assert.Equal(t, "a", out[0].Title)
	assert.Equal(t, "b", out[1].Title)
	// Empty URLs never dedup against each other.
	assert.Equal(t, "d", out[2].Title)
	assert.Equal(t, "e", out[3].Title)
}

func TestDistinctTitles_SkipsClusteredReposts(t *testing.T) {
	base := "2024학년도 2학기 국가장학금 2차 신청 안내"
	cands := []Candidate{
		{Title: base, Score: 3},
		{Title: base + " (정정)", Score: 2},
		{Title: "도서관 이용시간 변경", Score: 1},
	}

	out := distinctTitles(cands, 5, 0.89)
	require.Len(t, out, 2)
	assert.Equal(t, base, out[0].Title)
	assert.Equal(t, "도서관 이용시간 변경", out[1].Title)

	out = distinctTitles(cands, 1, 0.89)
	require.Len(t, out, 1)
	assert.Equal(t, base, out[0].Title)
}

func TestApplyBoost_SignAware(t *testing.T) {
	// Boosts move scores up on both sides of zero.
	assert.InDelta(t, 10.0, applyBoost(5.0, 2.0), 1e-9)
	assert.InDelta(t, -2.0, applyBoost(-4.0, 2.0), 1e-9)

	// Penalties move scores down on both sides of zero.
	assert.InDelta(t, 3.0, applyBoost(5.0, 0.6), 1e-9)
	assert.InDelta(t, -4.0/0.6, applyBoost(-4.0, 0.6), 1e-9)

	assert.InDelta(t, 5.0, applyBoost(5.0, 1.0), 1e-9)
}

func TestCoarseRecencyBoost_BandsAndResort(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, nil, WithClock(clock.Fixed{T: fixedNow}))
	cands := []Candidate{
		{Title: "ancient", Date: dateDaysAgo(800), Score: 1},
		{Title: "fresh", Date: dateDaysAgo(30), Score: 1},
		{Title: "undated", Date: "", Score: 1},
		{Title: "last year", Date: dateDaysAgo(200), Score: 1},
		{Title: "old", Date: dateDaysAgo(400), Score: 1},
	}

	out := o.coarseRecencyBoost(cands)
	require.Len(t, out, 5)
	assert.Equal(t, "fresh", out[0].Title)
	assert.InDelta(t, 1.5, out[0].Score, 1e-9)
	assert.Equal(t, "last year", out[1].Title)
	assert.InDelta(t, 1.3, out[1].Score, 1e-9)
	assert.Equal(t, "old", out[2].Title)
	assert.InDelta(t, 1.1, out[2].Score, 1e-9)
	assert.Equal(t, "undated", out[3].Title)
	assert.InDelta(t, 1.0, out[3].Score, 1e-9)
	assert.Equal(t, "ancient", out[4].Title)
	assert.InDelta(t, 0.9, out[4].Score, 1e-9)
}
