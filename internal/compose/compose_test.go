package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/retrieval"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, clock.Location())

const (
	noticeBoardURL  = "https://cs.example.ac.kr/notice"
	seminarBoardURL = "https://cs.example.ac.kr/seminar"
)

type fakeInvoker struct {
	reply      string
	err        error
	calls      int
	lastPrompt string
}

func (f *fakeInvoker) Invoke(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.lastPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newTestComposer(inv *fakeInvoker, opts ...Option) *Composer {
	boards := []config.BoardConfig{
		{Type: config.BoardNotice, URL: noticeBoardURL},
		{Type: config.BoardSeminar, URL: seminarBoardURL},
	}
	base := append([]Option{WithClock(clock.Fixed{T: fixedNow})}, opts...)
	// A nil inv must stay a nil interface, so the branches cannot fold
	// into one call.
	if inv == nil {
		return NewComposer(nil, boards, base...)
	}
	return NewComposer(inv, boards, base...)
}

// answerableResult is a retrieval result over one post with a body
// chunk and an OCR chunk.
func answerableResult() *retrieval.Result {
	return &retrieval.Result{
		Query:       "2025학년도 1학기 수강신청 기간 알려줘",
		QueryTokens: []string{"2025학년도", "1학기", "수강신청", "기간"},
		Chunks: []retrieval.Candidate{
			{
				Score:       5.0,
				Title:       "2025학년도 1학기 수강신청 안내",
				Date:        "2025-06-10T09:00:00+09:00",
				Text:        "수강신청은 6월 20일부터 6월 24일까지 포털에서 진행됩니다.",
				URL:         noticeBoardURL + "?wr_id=100",
				ContentType: snapshot.ContentText,
				Source:      snapshot.SourceOriginalPost,
			},
			{
				Score:       5.0,
				Title:       "2025학년도 1학기 수강신청 안내",
				Date:        "2025-06-10T09:00:00+09:00",
				Text:        "수강신청 일정표 이미지에서 추출한 학년별 신청 시각",
				URL:         noticeBoardURL + "?wr_id=100",
				ContentType: snapshot.ContentImage,
				Source:      snapshot.SourceImageOCR,
				ImageURL:    "https://cs.example.ac.kr/files/schedule.png",
			},
		},
		TopTitle: "2025학년도 1학기 수강신청 안내",
		TopURL:   noticeBoardURL + "?wr_id=100",
		TopDate:  "2025-06-10T09:00:00+09:00",
	}
}

func TestCompose_AnswerableRoundTrip(t *testing.T) {
	inv := &fakeInvoker{reply: `{"answerable": true, "answer": "수강신청은 6월 20일부터 24일까지입니다."}`}
	c := newTestComposer(inv)

	res := answerableResult()
	res.Intent = &retrieval.TemporalIntent{Year: 2025, Semester: 1}

	resp, err := c.Compose(context.Background(), res)
	require.NoError(t, err)

	assert.True(t, resp.Answerable)
	assert.Equal(t, "수강신청은 6월 20일부터 24일까지입니다.", resp.Answer)
	assert.Equal(t, noticeBoardURL+"?wr_id=100", resp.References)
	assert.NotEmpty(t, resp.Disclaimer)
	assert.Equal(t, []string{"https://cs.example.ac.kr/files/schedule.png"}, resp.Images)
	assert.Equal(t, 1, inv.calls)

	// The prompt carries the wall clock, the parsed time condition, the
	// chunk content with its source label, and the question.
	assert.Contains(t, inv.lastPrompt, "2025-06-15 12:00")
	assert.Contains(t, inv.lastPrompt, "질문의 시간 조건: 2025년 1학기 관련")
	assert.Contains(t, inv.lastPrompt, "수강신청은 6월 20일부터 6월 24일까지 포털에서 진행됩니다.")
	assert.Contains(t, inv.lastPrompt, "[이미지에서 추출]")
	assert.Contains(t, inv.lastPrompt, res.Query)
}

func TestCompose_ListingSkipsModel(t *testing.T) {
	inv := &fakeInvoker{}
	c := newTestComposer(inv)

	res := &retrieval.Result{
		Query: "최근 세미나 뭐 있어",
		List: &retrieval.Listing{
			Category: config.BoardSeminar,
			BoardURL: seminarBoardURL,
			Items: []retrieval.ListItem{
				{Title: "AI 특강: 거대 언어모델의 현재", URL: seminarBoardURL + "?wr_id=33", Date: "2025-06-12T10:00:00+09:00"},
				{Title: "졸업생 진로 세미나", URL: seminarBoardURL + "?wr_id=31", Date: "2025-06-02T10:00:00+09:00"},
			},
		},
	}

	resp, err := c.Compose(context.Background(), res)
	require.NoError(t, err)

	assert.Equal(t, 0, inv.calls)
	assert.True(t, resp.Answerable)
	assert.True(t, strings.HasPrefix(resp.Answer, "'세미나' 관련 최근 게시글 2건입니다."), resp.Answer)
	assert.Contains(t, resp.Answer, "1. AI 특강: 거대 언어모델의 현재 (2025-06-12)")
	assert.Contains(t, resp.Answer, "2. 졸업생 진로 세미나 (2025-06-02)")
	assert.Equal(t, seminarBoardURL, resp.References)
	assert.Equal(t, []string{"No content"}, resp.Images)
}

func TestCompose_NoAnswerResult(t *testing.T) {
	inv := &fakeInvoker{}
	c := newTestComposer(inv)

	resp, err := c.Compose(context.Background(), &retrieval.Result{Query: "셔틀버스 시간표", NoAnswer: true})
	require.NoError(t, err)

	assert.Equal(t, 0, inv.calls)
	assert.False(t, resp.Answerable)
	assert.Equal(t, noAnswerText, resp.Answer)
	assert.Equal(t, noticeBoardURL, resp.References)
	assert.Equal(t, []string{"No content"}, resp.Images)
}

func TestCompose_InvokeErrorPropagates(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("api down")}
	c := newTestComposer(inv)

	resp, err := c.Compose(context.Background(), answerableResult())
	require.Error(t, err)
	assert.Nil(t, resp)
}

func TestCompose_ProseReplyFallsBackToHeuristic(t *testing.T) {
	inv := &fakeInvoker{reply: "수강신청은 6월 20일에 시작합니다."}
	c := newTestComposer(inv)

	resp, err := c.Compose(context.Background(), answerableResult())
	require.NoError(t, err)
	assert.True(t, resp.Answerable)
	assert.Equal(t, "수강신청은 6월 20일에 시작합니다.", resp.Answer)

	inv = &fakeInvoker{reply: "죄송하지만 문서에서 찾을 수 없습니다."}
	c = newTestComposer(inv)

	resp, err = c.Compose(context.Background(), answerableResult())
	require.NoError(t, err)
	assert.False(t, resp.Answerable)
	assert.Equal(t, "죄송하지만 문서에서 찾을 수 없습니다.", resp.Answer)
}

func TestCompose_NegativePatternOverridesFlag(t *testing.T) {
	inv := &fakeInvoker{reply: `{"answerable": true, "answer": "해당 기간은 문서에서 찾을 수 없습니다."}`}
	c := newTestComposer(inv)

	resp, err := c.Compose(context.Background(), answerableResult())
	require.NoError(t, err)
	assert.False(t, resp.Answerable)
}

func TestCompose_OngoingStaleCaveat(t *testing.T) {
	inv := &fakeInvoker{reply: `{"answerable": true, "answer": "신청 기간은 4월 1일부터입니다."}`}
	c := newTestComposer(inv)

	res := answerableResult()
	res.Intent = &retrieval.TemporalIntent{IsOngoing: true}
	for i := range res.Chunks {
		res.Chunks[i].Date = "2023-04-01T09:00:00+09:00"
	}
	res.TopDate = "2023-04-01T09:00:00+09:00"

	resp, err := c.Compose(context.Background(), res)
	require.NoError(t, err)

	assert.False(t, resp.Answerable)
	assert.True(t, strings.HasPrefix(resp.Answer, "주의: 아래 내용은 2023년 게시글 기준"), resp.Answer)
	assert.Contains(t, resp.Answer, noticeBoardURL)
	assert.Contains(t, resp.Answer, "신청 기간은 4월 1일부터입니다.")
}

func TestCompose_OngoingFreshPostKeepsAnswer(t *testing.T) {
	inv := &fakeInvoker{reply: `{"answerable": true, "answer": "지금 신청할 수 있습니다."}`}
	c := newTestComposer(inv)

	res := answerableResult()
	res.Intent = &retrieval.TemporalIntent{IsOngoing: true}

	resp, err := c.Compose(context.Background(), res)
	require.NoError(t, err)
	assert.True(t, resp.Answerable)
	assert.Equal(t, "지금 신청할 수 있습니다.", resp.Answer)
}

func TestCompose_EmptyUnanswerableGetsCannedText(t *testing.T) {
	inv := &fakeInvoker{reply: `{"answerable": false, "answer": ""}`}
	c := newTestComposer(inv)

	resp, err := c.Compose(context.Background(), answerableResult())
	require.NoError(t, err)
	assert.False(t, resp.Answerable)
	assert.Equal(t, noAnswerText, resp.Answer)
}

// facultyResult is a roster-style result whose context carries twelve
// distinct email addresses.
func facultyResult() *retrieval.Result {
	var body strings.Builder
	body.WriteString("학과 교수진 연락처 안내입니다. ")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&body, "prof%02d@cs.example.ac.kr ", i)
	}

	return &retrieval.Result{
		Query:       "모든 교수님 이메일 알려줘",
		QueryTokens: []string{"모든", "교수", "이메일"},
		Chunks: []retrieval.Candidate{
			{
				Score:       4.0,
				Title:       "컴퓨터공학과 교수진 안내",
				Date:        "2025-03-02T00:00:00+09:00",
				Text:        body.String(),
				URL:         noticeBoardURL + "?wr_id=7",
				ContentType: snapshot.ContentText,
				Source:      snapshot.SourceProfessorInfo,
			},
		},
		TopTitle: "컴퓨터공학과 교수진 안내",
		TopURL:   noticeBoardURL + "?wr_id=7",
		TopDate:  "2025-03-02T00:00:00+09:00",
	}
}

func TestCompose_CompletenessWarning(t *testing.T) {
	inv := &fakeInvoker{reply: `{"answerable": true, "answer": "prof00@cs.example.ac.kr, prof01@cs.example.ac.kr, prof02@cs.example.ac.kr 입니다."}`}
	c := newTestComposer(inv)

	resp, err := c.Compose(context.Background(), facultyResult())
	require.NoError(t, err)

	assert.True(t, resp.Answerable)
	assert.Contains(t, resp.Answer, "일부 항목이 생략")
}

func TestCompose_CompletenessSatisfied(t *testing.T) {
	emails := make([]string, 7)
	for i := range emails {
		emails[i] = fmt.Sprintf("prof%02d@cs.example.ac.kr", i)
	}
	inv := &fakeInvoker{reply: fmt.Sprintf(`{"answerable": true, "answer": "%s"}`, strings.Join(emails, ", "))}
	c := newTestComposer(inv)

	resp, err := c.Compose(context.Background(), facultyResult())
	require.NoError(t, err)

	assert.True(t, resp.Answerable)
	assert.NotContains(t, resp.Answer, "일부 항목이 생략")
}

func TestCompose_NothingFitsFallsBackToNoAnswer(t *testing.T) {
	inv := &fakeInvoker{reply: `{"answerable": true, "answer": "무관"}`}
	c := newTestComposer(inv, WithContextBudget(10))

	resp, err := c.Compose(context.Background(), answerableResult())
	require.NoError(t, err)

	assert.Equal(t, 0, inv.calls)
	assert.False(t, resp.Answerable)
	assert.Equal(t, noAnswerText, resp.Answer)
}
