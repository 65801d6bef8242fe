// Package compose turns retrieval output into the final answer payload:
// it assembles a bounded context from the enriched chunks, prompts the
// chat model for a structured answer, and applies the answerable safety
// nets. Board listings and no-answer responses are formatted here too,
// without a model call.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/llm"
	"github.com/map-community/CHATBOT-AI-sub000/internal/retrieval"
)

// imageSentinel fills the images list when no image backs the answer.
const imageSentinel = "No content"

// defaultDisclaimer rides on every response.
const defaultDisclaimer = "본 답변은 학과 게시글을 바탕으로 자동 생성되었습니다. 중요한 사항은 반드시 원문 게시글에서 확인해 주세요."

// noAnswerText is returned when retrieval found nothing relevant or the
// model declined without saying why.
const noAnswerText = "죄송합니다. 학과 게시글에서 질문과 관련된 내용을 찾지 못했습니다. 질문을 조금 더 구체적으로 바꿔서 다시 시도해 주세요."

// Response is the service's answer payload.
type Response struct {
	Answer     string   `json:"answer"`
	Answerable bool     `json:"answerable"`
	References string   `json:"references"`
	Disclaimer string   `json:"disclaimer"`
	Images     []string `json:"images"`
}

// boardLabels render board types inside answers.
var boardLabels = map[config.BoardType]string{
	config.BoardNotice:       "공지사항",
	config.BoardJob:          "채용",
	config.BoardSeminar:      "세미나",
	config.BoardFaculty:      "교수진",
	config.BoardGuestFaculty: "초빙교수",
	config.BoardStaff:        "직원",
}

// Composer builds answers over the chat model.
type Composer struct {
	invoker llm.Invoker
	boards  map[config.BoardType]string
	budget  int
	clock   clock.Clock
	logger  *slog.Logger
}

// Option configures optional composer behavior.
type Option func(*Composer)

// WithContextBudget overrides the context character budget.
func WithContextBudget(n int) Option {
	return func(c *Composer) { c.budget = n }
}

// WithClock overrides the time source.
func WithClock(clk clock.Clock) Option {
	return func(c *Composer) { c.clock = clk }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) { c.logger = l }
}

// NewComposer wires answer composition over the chat model and the
// configured boards.
func NewComposer(invoker llm.Invoker, boards []config.BoardConfig, opts ...Option) *Composer {
	byType := make(map[config.BoardType]string, len(boards))
	for _, b := range boards {
		byType[b.Type] = b.URL
	}
	c := &Composer{
		invoker: invoker,
		boards:  byType,
		budget:  contextBudget,
		clock:   clock.NewKST(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose turns one retrieval result into the final answer payload.
func (c *Composer) Compose(ctx context.Context, res *retrieval.Result) (*Response, error) {
	if res.List != nil {
		return c.listingResponse(res.List), nil
	}
	if res.NoAnswer || len(res.Chunks) == 0 {
		return c.noAnswerResponse(), nil
	}

	rendered := renderChunks(res.Chunks)
	rendered = filterByNouns(rendered, res.QueryTokens)
	picked := c.fillContext(rendered, highScoreTitles(rendered))
	if len(picked) == 0 {
		c.logger.Warn("no chunk fit the context budget",
			slog.Int("chunks", len(rendered)),
			slog.Int("budget", c.budget))
		return c.noAnswerResponse(), nil
	}
	contextText := joinBlocks(picked)

	reply, err := c.invoker.Invoke(ctx, c.answerPrompt(contextText, res))
	if err != nil {
		return nil, err
	}

	ans := c.decodeAnswer(reply)
	c.applyNegativeNet(&ans)
	c.applyStaleCaveat(&ans, res)
	c.applyCompletenessNet(&ans, res.Query, contextText)

	if !ans.Answerable && strings.TrimSpace(ans.Answer) == "" {
		ans.Answer = noAnswerText
	}

	return &Response{
		Answer:     ans.Answer,
		Answerable: ans.Answerable,
		References: res.TopURL,
		Disclaimer: defaultDisclaimer,
		Images:     imageList(picked),
	}, nil
}

// listingResponse renders a board listing without calling the model.
func (c *Composer) listingResponse(list *retrieval.Listing) *Response {
	label := boardLabels[list.Category]
	if label == "" {
		label = string(list.Category)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "'%s' 관련 최근 게시글 %d건입니다.\n", label, len(list.Items))
	for i, item := range list.Items {
		fmt.Fprintf(&b, "\n%d. %s", i+1, item.Title)
		if d := displayDate(item.Date); d != "" {
			fmt.Fprintf(&b, " (%s)", d)
		}
	}

	return &Response{
		Answer:     b.String(),
		Answerable: true,
		References: list.BoardURL,
		Disclaimer: defaultDisclaimer,
		Images:     []string{imageSentinel},
	}
}

// noAnswerResponse points the user at the notice board when one is
// configured.
func (c *Composer) noAnswerResponse() *Response {
	return &Response{
		Answer:     noAnswerText,
		Answerable: false,
		References: c.boards[config.BoardNotice],
		Disclaimer: defaultDisclaimer,
		Images:     []string{imageSentinel},
	}
}

const answerPromptFormat = `당신은 대학 학과의 게시글을 안내하는 한국어 조교입니다.
현재 시각: %s
%s아래 문서만 근거로 질문에 답하세요. 문서에 없는 내용은 추측하지 마세요.

[문서 시작]
%s
[문서 끝]

질문: %s

아래 JSON 형식으로만 답하세요. 다른 텍스트를 덧붙이지 마세요.
{"answerable": true, "answer": ""}

- answerable: 문서 안에서 답을 찾을 수 있으면 true, 없으면 false
- answer: 한국어 답변. 목록을 묻는 질문이면 항목을 빠짐없이 나열하세요.`

// answerPrompt assembles the chat prompt: wall time, the temporal
// condition when one was parsed, the context, and the question.
func (c *Composer) answerPrompt(contextText string, res *retrieval.Result) string {
	intentLine := ""
	if desc := res.Intent.Describe(); desc != "" {
		intentLine = "질문의 시간 조건: " + desc + "\n"
	}
	now := c.clock.Now().Format("2006-01-02 15:04")
	return fmt.Sprintf(answerPromptFormat, now, intentLine, contextText, res.Query)
}
