package compose

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/map-community/CHATBOT-AI-sub000/internal/retrieval"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
)

func TestRenderChunks_DedupsRepeatedMarkdown(t *testing.T) {
	table := "| 장학금 | 금액 |\n| --- | --- |\n| 성적우수 | 200만원 |"
	chunks := []retrieval.Candidate{
		{Title: "장학금 안내", Text: "본문 1", HTML: table, Source: snapshot.SourceOriginalPost},
		{Title: "장학금 안내", Text: "본문 2", HTML: "  " + table + "  ", Source: snapshot.SourceDocumentParse},
		{Title: "장학금 안내", Text: "본문 3", Source: snapshot.SourceOriginalPost},
	}

	out := renderChunks(chunks)
	require.Len(t, out, 2)
	assert.Contains(t, out[0].block, "| 성적우수 | 200만원 |")
	assert.Contains(t, out[1].block, "본문 3")
}

func TestRenderContent_PreferenceLadder(t *testing.T) {
	markdown := retrieval.Candidate{Text: "텍스트", HTML: "## 환불 규정\n개강 전 전액 환불"}
	assert.Equal(t, "## 환불 규정\n개강 전 전액 환불", renderContent(markdown))

	html := retrieval.Candidate{Text: "텍스트", HTML: "<h2>환불 규정</h2><p>개강 전 전액 환불</p>"}
	got := renderContent(html)
	assert.Contains(t, got, "환불 규정")
	assert.Contains(t, got, "개강 전 전액 환불")
	assert.NotContains(t, got, "<h2>")

	plain := retrieval.Candidate{Text: "텍스트만 있는 청크"}
	assert.Equal(t, "텍스트만 있는 청크", renderContent(plain))
}

func TestFormatBlock_LabelsSources(t *testing.T) {
	body := retrieval.Candidate{
		Title:  "수강신청 안내",
		Date:   "2025-06-10T09:00:00+09:00",
		Text:   "본문",
		Source: snapshot.SourceOriginalPost,
	}
	block := formatBlock(body)
	assert.True(t, strings.HasPrefix(block, "### 수강신청 안내 (2025-06-10)\n"), block)
	assert.NotContains(t, block, "추출")

	ocr := body
	ocr.Source = snapshot.SourceImageOCR
	assert.Contains(t, formatBlock(ocr), "[이미지에서 추출]")

	att := body
	att.Source = snapshot.SourceDocumentParse
	att.AttachmentType = "pdf"
	assert.Contains(t, formatBlock(att), "[첨부파일에서 추출: pdf]")

	undated := retrieval.Candidate{Title: "제목", Text: "본문"}
	assert.True(t, strings.HasPrefix(formatBlock(undated), "### 제목\n"))
}

func TestFilterByNouns(t *testing.T) {
	matching := retrieval.Candidate{Title: "수강신청 안내", Text: "수강신청 기간입니다", Source: snapshot.SourceOriginalPost}
	extracted := retrieval.Candidate{Title: "도서관 공지", Text: "열람실 이용 수칙 이미지", Source: snapshot.SourceImageOCR}
	offtopic := retrieval.Candidate{Title: "도서관 공지", Text: "운영시간 변경", Source: snapshot.SourceOriginalPost}

	// Mixed posts: the body without a query noun goes, the extraction
	// survives without one.
	out := filterByNouns(renderChunks([]retrieval.Candidate{matching, extracted, offtopic}), []string{"수강신청"})
	require.Len(t, out, 2)
	assert.Equal(t, "수강신청 기간입니다", out[0].cand.Text)
	assert.Equal(t, "열람실 이용 수칙 이미지", out[1].cand.Text)

	// One shared title skips the filter entirely.
	second := offtopic
	second.Text = "좌석 예약 안내"
	out = filterByNouns(renderChunks([]retrieval.Candidate{offtopic, second}), []string{"수강신청"})
	assert.Len(t, out, 2)

	// Nothing matching across posts keeps everything.
	other := retrieval.Candidate{Title: "주차 안내", Text: "주차권 발급", Source: snapshot.SourceOriginalPost}
	out = filterByNouns(renderChunks([]retrieval.Candidate{offtopic, other}), []string{"수강신청"})
	assert.Len(t, out, 2)
}

func TestHighScoreTitles(t *testing.T) {
	chunks := renderChunks([]retrieval.Candidate{
		{Title: "A", Text: "a", Score: 10},
		{Title: "A", Text: "a2", Score: 4},
		{Title: "B", Text: "b", Score: 6.5},
		{Title: "C", Text: "c", Score: 3},
	})

	high := highScoreTitles(chunks)
	assert.True(t, high["A"])
	assert.True(t, high["B"])
	assert.False(t, high["C"])

	// Negative logit scale: every post stays eligible.
	chunks = renderChunks([]retrieval.Candidate{
		{Title: "A", Text: "a", Score: -1.2},
		{Title: "B", Text: "b", Score: -7.5},
	})
	high = highScoreTitles(chunks)
	assert.True(t, high["A"])
	assert.True(t, high["B"])
}

func TestFillContext_TieredPhases(t *testing.T) {
	const date = "2025-06-10T09:00:00+09:00"

	// Post A is high-score, post B is not (3 < 0.6 * 10). The
	// attachment of A is far too large for what remains of the budget.
	cands := []retrieval.Candidate{
		{Score: 10, Title: "수강신청 안내", Date: date, Text: "본문 A", Source: snapshot.SourceOriginalPost},
		{Score: 10, Title: "수강신청 안내", Date: date, Text: "이미지 A", Source: snapshot.SourceImageOCR},
		{Score: 10, Title: "수강신청 안내", Date: date, Text: strings.Repeat("가", 600), Source: snapshot.SourceDocumentParse, AttachmentType: "pdf"},
		{Score: 3, Title: "장학금 안내", Date: date, Text: "본문 B", Source: snapshot.SourceOriginalPost},
		{Score: 3, Title: "장학금 안내", Date: date, Text: "이미지 B", Source: snapshot.SourceImageOCR},
	}

	c := newTestComposer(nil, WithContextBudget(400))
	chunks := renderChunks(cands)
	picked := c.fillContext(chunks, highScoreTitles(chunks))

	texts := make([]string, len(picked))
	for i, ch := range picked {
		texts[i] = ch.cand.Text
	}

	// Bodies of both posts, then the high-score image, then the
	// low-score image; the oversized attachment is skipped even though
	// it outscores the low-score image.
	assert.Equal(t, []string{"본문 A", "본문 B", "이미지 A", "이미지 B"}, texts)
}

func TestFillContext_EverythingFitsUnderDefaultBudget(t *testing.T) {
	cands := []retrieval.Candidate{
		{Score: 5, Title: "공지 하나", Text: "본문", Source: snapshot.SourceOriginalPost},
		{Score: 5, Title: "공지 하나", Text: "이미지", Source: snapshot.SourceImageOCR},
		{Score: 5, Title: "공지 하나", Text: "첨부", Source: snapshot.SourceDocumentParse},
	}

	c := newTestComposer(nil)
	chunks := renderChunks(cands)
	picked := c.fillContext(chunks, highScoreTitles(chunks))
	assert.Len(t, picked, 3)
}

func TestImageList(t *testing.T) {
	picked := renderChunks([]retrieval.Candidate{
		{Title: "A", Text: "a", ImageURL: "https://cs.example.ac.kr/files/1.png"},
		{Title: "A", Text: "b", ImageURL: "https://cs.example.ac.kr/files/1.png"},
		{Title: "A", Text: "c", ImageURL: "https://cs.example.ac.kr/files/2.png"},
		{Title: "A", Text: "d"},
	})

	assert.Equal(t, []string{
		"https://cs.example.ac.kr/files/1.png",
		"https://cs.example.ac.kr/files/2.png",
	}, imageList(picked))

	assert.Equal(t, []string{"No content"}, imageList(nil))
}
