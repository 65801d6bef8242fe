package retrieval

import (
	"sort"
	"strings"
)

// defaultFusionTopK is how many fused candidates move on to boosting
// and reranking when the caller passes no cut.
const defaultFusionTopK = 30

// combine fuses the dense and sparse result lists by post title.
//
// A post found by both branches gets the sum of both scores. A post
// only the sparse branch found has never seen a recency weight, so it
// is applied here; dense scores already carry theirs.
func combine(dense, sparse []Candidate, weigher *Weigher, queryTokens []string, topK int) []Candidate {
	if topK <= 0 {
		topK = defaultFusionTopK
	}
	merged := make([]Candidate, 0, len(dense)+len(sparse))
	byTitle := make(map[string]int, len(dense))

	for _, c := range dense {
		if i, ok := byTitle[c.Title]; ok {
			merged[i].Score += c.Score
			continue
		}
		byTitle[c.Title] = len(merged)
		merged = append(merged, c)
	}

	for _, c := range sparse {
		if i, ok := byTitle[c.Title]; ok {
			merged[i].Score += c.Score
			continue
		}
		c.Score *= weigher.Weight(c.Date, queryTokens)
		byTitle[c.Title] = len(merged)
		merged = append(merged, c)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > topK {
		merged = merged[:topK]
	}

	return keywordFilter(merged, queryTokens)
}

// keywordFilter drops candidates that mention no query token at all.
// If that would drop everything the unfiltered list is returned; an
// all-paraphrase result set is still better than an empty one.
func keywordFilter(cands []Candidate, queryTokens []string) []Candidate {
	if len(cands) == 0 || len(queryTokens) == 0 {
		return cands
	}

	kept := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if mentionsAny(c.Title, queryTokens) || mentionsAny(c.Text, queryTokens) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return cands
	}
	return kept
}

func mentionsAny(s string, tokens []string) bool {
	if s == "" {
		return false
	}
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}
