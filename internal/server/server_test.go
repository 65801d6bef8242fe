package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/map-community/CHATBOT-AI-sub000/internal/compose"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/retrieval"
	"github.com/map-community/CHATBOT-AI-sub000/internal/telemetry"
	"github.com/map-community/CHATBOT-AI-sub000/internal/validation"
)

type fakeSearcher struct {
	res      *retrieval.Result
	err      error
	calls    int
	gotQuery string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) (*retrieval.Result, error) {
	f.calls++
	f.gotQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeAnswerer struct {
	resp      *compose.Response
	err       error
	calls     int
	gotResult *retrieval.Result
}

func (f *fakeAnswerer) Compose(ctx context.Context, res *retrieval.Result) (*compose.Response, error) {
	f.calls++
	f.gotResult = res
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakePinger struct {
	err   error
	calls int
}

func (f *fakePinger) Ping(ctx context.Context) error {
	f.calls++
	return f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, searcher Searcher, answerer Answerer, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(config.NewConfig(), searcher, answerer, opts...)
}

func postAnswer(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ai/ai-response", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func questionBody(t *testing.T, question string) string {
	t.Helper()
	raw, err := json.Marshal(answerRequest{Question: question})
	require.NoError(t, err)
	return string(raw)
}

func answeredFixture() (*retrieval.Result, *compose.Response) {
	res := &retrieval.Result{
		Query:       "장학금 공지 있어?",
		QueryTokens: []string{"장학금", "공지"},
		Chunks: []retrieval.Candidate{
			{Title: "2025 장학금 신청 안내", URL: "https://cs.example.ac.kr/notice?wr_id=77"},
		},
		TopTitle: "2025 장학금 신청 안내",
		TopURL:   "https://cs.example.ac.kr/notice?wr_id=77",
		Stages: map[telemetry.Stage]time.Duration{
			telemetry.StageBM25:  5 * time.Millisecond,
			telemetry.StageDense: 8 * time.Millisecond,
		},
	}
	resp := &compose.Response{
		Answer:     "2025년 장학금 신청은 3월 2일까지입니다.",
		Answerable: true,
		References: res.TopURL,
		Disclaimer: "본 답변은 학과 게시글을 바탕으로 자동 생성되었습니다. 중요한 사항은 반드시 원문 게시글에서 확인해 주세요.",
		Images:     []string{"No content"},
	}
	return res, resp
}

func TestAnswerEndpoint_Answered(t *testing.T) {
	res, resp := answeredFixture()
	searcher := &fakeSearcher{res: res}
	answerer := &fakeAnswerer{resp: resp}
	metrics := telemetry.NewQueryMetrics(nil)
	defer metrics.Close()

	srv := newTestServer(t, searcher, answerer, WithMetrics(metrics))
	rec := postAnswer(t, srv.Handler(), questionBody(t, "  장학금 공지 있어?  "))

	require.Equal(t, http.StatusOK, rec.Code)
	var got compose.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, resp.Answer, got.Answer)
	assert.True(t, got.Answerable)
	assert.Equal(t, res.TopURL, got.References)
	assert.Equal(t, []string{"No content"}, got.Images)

	// The question reaches retrieval trimmed, and the same result flows
	// on into composition.
	assert.Equal(t, "장학금 공지 있어?", searcher.gotQuery)
	assert.Same(t, res, answerer.gotResult)

	assert.Contains(t, res.Stages, telemetry.StageCompose)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.OutcomeCounts[telemetry.OutcomeAnswered])
}

func TestAnswerEndpoint_EmptyQuestion(t *testing.T) {
	searcher := &fakeSearcher{}
	srv := newTestServer(t, searcher, &fakeAnswerer{})

	rec := postAnswer(t, srv.Handler(), questionBody(t, "   "))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
	assert.Zero(t, searcher.calls)
}

func TestAnswerEndpoint_OversizedQuestion(t *testing.T) {
	searcher := &fakeSearcher{}
	srv := newTestServer(t, searcher, &fakeAnswerer{})

	long := strings.Repeat("가", validation.MaxQuestionRunes+1)
	rec := postAnswer(t, srv.Handler(), questionBody(t, long))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), fmt.Sprintf("%d", validation.MaxQuestionRunes))
	assert.Zero(t, searcher.calls)
}

func TestAnswerEndpoint_QuestionAtLimitAccepted(t *testing.T) {
	res, resp := answeredFixture()
	searcher := &fakeSearcher{res: res}
	srv := newTestServer(t, searcher, &fakeAnswerer{resp: resp})

	exact := strings.Repeat("가", validation.MaxQuestionRunes)
	rec := postAnswer(t, srv.Handler(), questionBody(t, exact))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, exact, searcher.gotQuery)
}

func TestAnswerEndpoint_MalformedBody(t *testing.T) {
	searcher := &fakeSearcher{}
	srv := newTestServer(t, searcher, &fakeAnswerer{})

	rec := postAnswer(t, srv.Handler(), `{"question": 12`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
	assert.Zero(t, searcher.calls)
}

func TestAnswerEndpoint_SearchFailure(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("qdrant down")}
	answerer := &fakeAnswerer{}
	metrics := telemetry.NewQueryMetrics(nil)
	defer metrics.Close()

	srv := newTestServer(t, searcher, answerer, WithMetrics(metrics))
	rec := postAnswer(t, srv.Handler(), questionBody(t, "장학금 공지 있어?"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "answer generation failed")
	assert.NotContains(t, rec.Body.String(), "qdrant")
	assert.Zero(t, answerer.calls)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.OutcomeCounts[telemetry.OutcomeError])
}

func TestAnswerEndpoint_ComposeFailure(t *testing.T) {
	res, _ := answeredFixture()
	searcher := &fakeSearcher{res: res}
	answerer := &fakeAnswerer{err: errors.New("api down")}
	metrics := telemetry.NewQueryMetrics(nil)
	defer metrics.Close()

	srv := newTestServer(t, searcher, answerer, WithMetrics(metrics))
	rec := postAnswer(t, srv.Handler(), questionBody(t, "장학금 공지 있어?"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, answerer.calls)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.OutcomeCounts[telemetry.OutcomeError])
}

func TestAnswerEndpoint_ListingOutcome(t *testing.T) {
	res := &retrieval.Result{
		Query:       "최근 세미나 알려줘",
		QueryTokens: []string{"최근", "세미나"},
		List: &retrieval.Listing{
			Category: config.BoardSeminar,
			BoardURL: "https://cs.example.ac.kr/seminar",
			Items:    []retrieval.ListItem{{Title: "AI 특강"}},
		},
	}
	resp := &compose.Response{
		Answer:     "'세미나' 관련 최근 게시글 1건입니다.\n\n1. AI 특강",
		Answerable: true,
		References: res.List.BoardURL,
		Images:     []string{"No content"},
	}
	metrics := telemetry.NewQueryMetrics(nil)
	defer metrics.Close()

	srv := newTestServer(t, &fakeSearcher{res: res}, &fakeAnswerer{resp: resp}, WithMetrics(metrics))
	rec := postAnswer(t, srv.Handler(), questionBody(t, res.Query))

	assert.Equal(t, http.StatusOK, rec.Code)
	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.OutcomeCounts[telemetry.OutcomeListing])
}

func TestAnswerEndpoint_NoAnswerOutcome(t *testing.T) {
	res := &retrieval.Result{
		Query:       "주차장 요금 알려줘",
		QueryTokens: []string{"주차장", "요금"},
		NoAnswer:    true,
	}
	resp := &compose.Response{
		Answer:     "죄송합니다. 학과 게시글에서 질문과 관련된 내용을 찾지 못했습니다.",
		Answerable: false,
		Images:     []string{"No content"},
	}
	metrics := telemetry.NewQueryMetrics(nil)
	defer metrics.Close()

	srv := newTestServer(t, &fakeSearcher{res: res}, &fakeAnswerer{resp: resp}, WithMetrics(metrics))
	rec := postAnswer(t, srv.Handler(), questionBody(t, res.Query))

	assert.Equal(t, http.StatusOK, rec.Code)
	var got compose.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.Answerable)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.OutcomeCounts[telemetry.OutcomeNoAnswer])
	assert.Equal(t, []string{res.Query}, snap.NoAnswerQueries)
}

func TestHealth_LivenessOnly(t *testing.T) {
	srv := newTestServer(t, &fakeSearcher{}, &fakeAnswerer{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHealth_BackendsReachable(t *testing.T) {
	pinger := &fakePinger{}
	srv := newTestServer(t, &fakeSearcher{}, &fakeAnswerer{}, WithPinger(pinger))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, pinger.calls)
}

func TestHealth_BackendDown(t *testing.T) {
	pinger := &fakePinger{err: errors.New("redis: connection refused")}
	srv := newTestServer(t, &fakeSearcher{}, &fakeAnswerer{}, WithPinger(pinger))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestCORS_WildcardAllowsAnyOrigin(t *testing.T) {
	srv := newTestServer(t, &fakeSearcher{}, &fakeAnswerer{})

	req := httptest.NewRequest(http.MethodOptions, "/ai/ai-response", nil)
	req.Header.Set("Origin", "http://anywhere.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Server.AllowedOrigins = []string{"https://cs.example.ac.kr"}
	srv := New(cfg, &fakeSearcher{}, &fakeAnswerer{}, WithLogger(quietLogger()))

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/ai/ai-response", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	allowed := preflight("https://cs.example.ac.kr")
	assert.Equal(t, http.StatusNoContent, allowed.Code)
	assert.Equal(t, "https://cs.example.ac.kr", allowed.Header().Get("Access-Control-Allow-Origin"))

	denied := preflight("https://elsewhere.example.com")
	assert.Equal(t, http.StatusForbidden, denied.Code)
}

func TestClassifyOutcome(t *testing.T) {
	listing := &retrieval.Result{List: &retrieval.Listing{}}
	plain := &retrieval.Result{}

	assert.Equal(t, telemetry.OutcomeListing, classifyOutcome(listing, &compose.Response{Answerable: true}))
	assert.Equal(t, telemetry.OutcomeNoAnswer, classifyOutcome(plain, &compose.Response{Answerable: false}))
	assert.Equal(t, telemetry.OutcomeAnswered, classifyOutcome(plain, &compose.Response{Answerable: true}))
}
