package compose

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/llm"
	"github.com/map-community/CHATBOT-AI-sub000/internal/retrieval"
)

// staleAnswerDays triggers the ongoing-intent caveat when the top post
// is older than this.
const staleAnswerDays = 365

// modelAnswer is the JSON contract with the chat model.
type modelAnswer struct {
	Answerable bool   `json:"answerable"`
	Answer     string `json:"answer"`
}

// decodeAnswer extracts the structured answer from the model reply. The
// JSON contract is the source of truth; replies that break it fall back
// to the negative-phrase heuristic, and the fallback is logged so its
// rate stays visible.
func (c *Composer) decodeAnswer(reply string) modelAnswer {
	var ans modelAnswer
	if err := llm.DecodeJSON(reply, &ans); err == nil {
		return ans
	}

	text := strings.TrimSpace(reply)
	c.logger.Warn("answer reply broke the JSON contract, using phrase heuristic",
		slog.Int("reply_chars", len(reply)))
	return modelAnswer{
		Answerable: !containsNegativePhrase(text),
		Answer:     text,
	}
}

// negativePhrases is the closed set of "the documents don't say"
// markers. An answer containing one of these is not an answer no
// matter what the answerable flag claims.
var negativePhrases = []string{
	"문서에 없",
	"문서에는 없",
	"문서에서 찾을 수 없",
	"문서에 관련 내용이 없",
	"관련 정보가 없",
	"관련 내용이 없",
	"정보를 찾을 수 없",
	"내용을 찾을 수 없",
	"답변할 수 없",
	"확인할 수 없",
}

func containsNegativePhrase(s string) bool {
	for _, p := range negativePhrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// applyNegativeNet flips answerable off when the answer text itself
// says the documents held nothing.
func (c *Composer) applyNegativeNet(ans *modelAnswer) {
	if !ans.Answerable || !containsNegativePhrase(ans.Answer) {
		return
	}
	c.logger.Info("negative phrase in answer, overriding answerable")
	ans.Answerable = false
}

// applyStaleCaveat handles "is it open now" questions answered from an
// old post: the answer leads with the post's year and a pointer at the
// notice board, and stops claiming to be answerable.
func (c *Composer) applyStaleCaveat(ans *modelAnswer, res *retrieval.Result) {
	if res.Intent == nil || !res.Intent.IsOngoing {
		return
	}
	posted, err := clock.ParseDate(res.TopDate)
	if err != nil {
		return
	}
	if c.clock.Now().Sub(posted) < staleAnswerDays*24*time.Hour {
		return
	}

	caveat := fmt.Sprintf("주의: 아래 내용은 %d년 게시글 기준이라 현재는 다를 수 있습니다.", posted.Year())
	if notice := c.boards[config.BoardNotice]; notice != "" {
		caveat += " 최신 공지는 " + notice + " 에서 확인해 주세요."
	}
	ans.Answer = caveat + "\n\n" + ans.Answer
	ans.Answerable = false

	c.logger.Info("ongoing question answered from a stale post",
		slog.String("posted", res.TopDate))
}

// universalQuantifiers are the "give me all of them" markers that arm
// the completeness check.
var universalQuantifiers = []string{"모든", "전체", "전부", "모두", "목록", "리스트", "명단"}

// identifierPattern is the identifier the completeness check counts.
// Roster questions are answered from contact tables, and the email
// address is the one key those tables reliably carry.
var identifierPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// completenessFloor is how many identifiers the context must hold
// before the check engages.
const completenessFloor = 10

// truncationWarning rides on answers that enumerate fewer identifiers
// than the context held.
const truncationWarning = "\n\n(답변이 길어 일부 항목이 생략되었을 수 있습니다. 전체 목록은 원문 게시글을 확인해 주세요.)"

// applyCompletenessNet warns when a "list them all" question got an
// answer covering less than half the identifiers available in the
// context.
func (c *Composer) applyCompletenessNet(ans *modelAnswer, query, contextText string) {
	if !ans.Answerable || !containsAny(query, universalQuantifiers) {
		return
	}
	inContext := countIdentifiers(contextText)
	if inContext < completenessFloor {
		return
	}
	inAnswer := countIdentifiers(ans.Answer)
	if inAnswer*2 >= inContext {
		return
	}

	ans.Answer += truncationWarning
	c.logger.Info("answer looks truncated for a list question",
		slog.Int("in_context", inContext),
		slog.Int("in_answer", inAnswer))
}

// countIdentifiers counts distinct identifier matches, case folded.
func countIdentifiers(s string) int {
	seen := make(map[string]bool)
	for _, m := range identifierPattern.FindAllString(s, -1) {
		seen[strings.ToLower(m)] = true
	}
	return len(seen)
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}
