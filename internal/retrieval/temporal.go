package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/llm"
)

// TemporalIntent captures time constraints implied by a query. A nil
// intent means the query has no temporal dimension and ranking is left
// alone.
type TemporalIntent struct {
	Year      int    `json:"year"`
	Semester  int    `json:"semester"`
	IsOngoing bool   `json:"is_ongoing"`
	IsPolicy  bool   `json:"is_policy"`
	Reasoning string `json:"reasoning"`
}

// Active reports whether the intent constrains ranking at all.
func (t *TemporalIntent) Active() bool {
	if t == nil {
		return false
	}
	return t.Year > 0 || t.Semester > 0 || t.IsOngoing
}

// Describe renders the intent for injection into the answer prompt.
func (t *TemporalIntent) Describe() string {
	if t == nil {
		return ""
	}

	var parts []string
	switch {
	case t.Year > 0 && t.Semester > 0:
		parts = append(parts, fmt.Sprintf("%d년 %d학기 관련", t.Year, t.Semester))
	case t.Year > 0:
		parts = append(parts, fmt.Sprintf("%d년 관련", t.Year))
	case t.Semester > 0:
		parts = append(parts, fmt.Sprintf("%d학기 관련", t.Semester))
	}
	if t.IsOngoing {
		parts = append(parts, "현재 진행 중인 사항")
	}
	if t.IsPolicy {
		parts = append(parts, "시기와 무관한 규정·절차")
	}
	return strings.Join(parts, ", ")
}

// Phrases the fast path resolves without a model call. Longer phrases
// first so "이번 학기" wins over bare "학기" cues.
var intentPhrases = []struct {
	phrase string
	build  func(curYear, curSem int) TemporalIntent
}{
	{"이번 학기", thisSemester},
	{"이번학기", thisSemester},
	{"지난 학기", lastSemester},
	{"지난학기", lastSemester},
	{"저번 학기", lastSemester},
	{"저번학기", lastSemester},
	{"올해", func(y, _ int) TemporalIntent {
		return TemporalIntent{Year: y, Reasoning: "질문에 '올해' 표현"}
	}},
	{"작년", func(y, _ int) TemporalIntent {
		return TemporalIntent{Year: y - 1, Reasoning: "질문에 '작년' 표현"}
	}},
	{"최근", ongoing},
	{"요즘", ongoing},
	{"지금", ongoing},
	{"현재", ongoing},
}

func thisSemester(y, s int) TemporalIntent {
	return TemporalIntent{Year: y, Semester: s, Reasoning: "질문에 '이번 학기' 표현"}
}

func lastSemester(y, s int) TemporalIntent {
	py, ps := y, 1
	if s == 1 {
		py, ps = y-1, 2
	}
	return TemporalIntent{Year: py, Semester: ps, Reasoning: "질문에 '지난 학기' 표현"}
}

func ongoing(_, _ int) TemporalIntent {
	return TemporalIntent{IsOngoing: true, Reasoning: "질문이 현재 시점을 가리킴"}
}

// policyTokens mark questions about standing rules rather than a
// particular term.
var policyTokens = []string{"규정", "규칙", "정책", "절차", "원칙"}

// temporalCues gate the model call: a query carrying none of these (and
// no four-digit year) cannot produce a temporal filter.
var temporalCues = []string{"학기", "학년도", "년도", "언제", "기간", "마감", "일정"}

// IntentParser extracts temporal intent, by rule where a closed phrase
// set suffices and by a strict-JSON model call otherwise.
type IntentParser struct {
	invoker llm.Invoker
	clock   clock.Clock
	logger  *slog.Logger
}

// NewIntentParser wires the parser. invoker may be nil, which disables
// the model tier.
func NewIntentParser(invoker llm.Invoker, clk clock.Clock, logger *slog.Logger) *IntentParser {
	if clk == nil {
		clk = clock.NewKST()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentParser{invoker: invoker, clock: clk, logger: logger}
}

// Parse returns the query's temporal intent, or nil when the query has
// none. Model failures degrade to nil; a worse ranking beats a failed
// request.
func (p *IntentParser) Parse(ctx context.Context, query string) *TemporalIntent {
	now := p.clock.Now()
	curYear, curSem := clock.Semester(now)

	for _, rule := range intentPhrases {
		if !strings.Contains(query, rule.phrase) {
			continue
		}
		intent := rule.build(curYear, curSem)
		intent.IsPolicy = containsAny(query, policyTokens)
		p.logger.Debug("temporal intent from phrase",
			slog.String("phrase", rule.phrase),
			slog.Int("year", intent.Year),
			slog.Int("semester", intent.Semester),
			slog.Bool("is_ongoing", intent.IsOngoing))
		return &intent
	}

	if containsAny(query, policyTokens) {
		return &TemporalIntent{IsPolicy: true, Reasoning: "규정·절차에 대한 질문"}
	}

	if p.invoker == nil || !hasTemporalCue(query) {
		return nil
	}

	return p.parseWithModel(ctx, query, now.Format("2006-01-02"), curYear, curSem)
}

const intentPromptFormat = `당신은 대학 학과 질문에서 시간 관련 의도를 추출하는 분석기입니다.
오늘은 %s이고, 현재 학기는 %d년 %d학기입니다.

질문: %s

아래 JSON 형식으로만 답하세요. 다른 설명을 덧붙이지 마세요.
{"year": 0, "semester": 0, "is_ongoing": false, "is_policy": false, "reasoning": ""}

- year: 질문이 특정 연도를 지칭하면 그 연도, 아니면 0
- semester: 특정 학기(1 또는 2)를 지칭하면 그 값, 아니면 0
- is_ongoing: 지금 유효하거나 진행 중인 것을 묻고 있으면 true
- is_policy: 시기와 무관한 규정이나 절차를 묻고 있으면 true
- reasoning: 판단 근거 한 문장`

func (p *IntentParser) parseWithModel(ctx context.Context, query, today string, curYear, curSem int) *TemporalIntent {
	prompt := fmt.Sprintf(intentPromptFormat, today, curYear, curSem, query)

	reply, err := p.invoker.Invoke(ctx, prompt)
	if err != nil {
		p.logger.Warn("temporal intent call failed, skipping filter",
			slog.String("error", qaerrors.GetCode(err)))
		return nil
	}

	var intent TemporalIntent
	if err := llm.DecodeJSON(reply, &intent); err != nil {
		p.logger.Debug("temporal intent reply not parseable, skipping filter",
			slog.String("error", qaerrors.GetCode(err)))
		return nil
	}

	if intent.Semester < 0 || intent.Semester > 2 {
		p.logger.Debug("temporal intent semester out of range, skipping filter",
			slog.Int("semester", intent.Semester))
		return nil
	}
	if intent.Year != 0 && (intent.Year < 1990 || intent.Year > curYear+2) {
		p.logger.Debug("temporal intent year out of range, skipping filter",
			slog.Int("year", intent.Year))
		return nil
	}
	if !intent.Active() && !intent.IsPolicy {
		return nil
	}

	p.logger.Debug("temporal intent from model",
		slog.Int("year", intent.Year),
		slog.Int("semester", intent.Semester),
		slog.Bool("is_ongoing", intent.IsOngoing),
		slog.Bool("is_policy", intent.IsPolicy),
		slog.String("reasoning", intent.Reasoning))
	return &intent
}

func hasTemporalCue(query string) bool {
	if containsAny(query, temporalCues) {
		return true
	}
	return containsYear(query)
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

// containsYear reports whether s carries a plausible four-digit year.
func containsYear(s string) bool {
	runes := []rune(s)
	for i := 0; i < len(runes); {
		if !isDigit(runes[i]) {
			i++
			continue
		}
		j := i
		for j < len(runes) && isDigit(runes[j]) {
			j++
		}
		if j-i == 4 && (runes[i] == '1' && runes[i+1] == '9' || runes[i] == '2' && runes[i+1] == '0') {
			return true
		}
		i = j
	}
	return false
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
