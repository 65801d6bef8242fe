package lexical

// Similarity adjuster weights. Title intersections dominate because
// notice titles name the subject; bodies often repeat boilerplate.
const (
	titleMatchWeight = 0.15
	digitTokenBoost  = 0.5
	topicTokenBonus  = 0.25
	emptyBodyPenalty = 0.8
)

// topicTokens get a small bonus when they match a title. These are the
// recurring subjects students ask the department about.
var topicTokens = map[string]bool{
	"장학":   true,
	"장학금":  true,
	"수강":   true,
	"수강신청": true,
	"졸업":   true,
	"휴학":   true,
	"복학":   true,
	"등록":   true,
	"등록금":  true,
	"채용":   true,
	"세미나":  true,
	"교수":   true,
	"대학원":  true,
	"성적":   true,
}

// adjustSimilarity layers the domain boosts over a normalized score:
// a per-rune boost for query tokens found in the title, an extra boost
// when such a token carries a digit, a topic bonus, and a penalty for
// documents with no body text.
func adjustSimilarity(base float64, titleTokens []string, bodyEmpty bool, queryTokens []string) float64 {
	title := make(map[string]bool, len(titleTokens))
	for _, t := range titleTokens {
		title[t] = true
	}

	score := base
	seen := make(map[string]bool, len(queryTokens))
	for _, q := range queryTokens {
		if seen[q] || !title[q] {
			continue
		}
		seen[q] = true

		score += titleMatchWeight * float64(len([]rune(q)))
		if hasDigit(q) {
			score += digitTokenBoost
		}
		if topicTokens[q] {
			score += topicTokenBonus
		}
	}

	if bodyEmpty && score > 0 {
		score *= emptyBodyPenalty
	}
	return score
}
