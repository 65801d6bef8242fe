// Package lexical owns the BM25 side of retrieval: a noun-oriented
// Korean tokenizer, the searchable-surface builder, and a cached token
// corpus scored with bm25-go and a domain similarity adjuster.
package lexical

import (
	"sort"
	"strings"
	"unicode"
)

// Particles and verbal endings stripped from the tail of hangul tokens.
// Longest match wins; a strip that would leave fewer than two syllables
// is skipped, which protects nouns like 회의 from losing 의.
var particles = []string{
	"에서부터", "으로부터", "되었습니다", "했습니다",
	"입니다", "합니다", "됩니다", "하세요", "에게서", "으로써", "으로서",
	"이라고", "에서", "에게", "께서", "부터", "까지", "처럼", "보다",
	"마다", "조차", "마저", "하고", "이나", "이란", "이며", "라고",
	"하는", "하기", "했다", "한다", "된다",
	"은", "는", "이", "가", "을", "를", "의", "에", "와", "과",
	"도", "만", "로", "며", "나", "님", "요",
}

func init() {
	sort.Slice(particles, func(i, j int) bool {
		return len([]rune(particles[i])) > len([]rune(particles[j]))
	})
}

const (
	classNone = iota
	classHangul
	classCJK
	classAlnum
)

func runeClass(r rune) int {
	switch {
	case unicode.Is(unicode.Hangul, r):
		return classHangul
	case unicode.Is(unicode.Han, r), unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
		return classCJK
	case unicode.IsLetter(r) || unicode.IsDigit(r):
		return classAlnum
	}
	return classNone
}

// Tokenize splits text into search tokens. Hangul runs are
// particle-stripped and kept when at least two syllables survive,
// alphanumeric runs are lowercased and kept whole, and other CJK runs
// fall back to per-character unigrams. Everything else separates.
func Tokenize(text string) []string {
	var tokens []string
	var run []rune
	runClass := classNone

	flush := func() {
		if len(run) == 0 {
			return
		}
		switch runClass {
		case classHangul:
			if tok := stripParticles(string(run)); len([]rune(tok)) >= 2 {
				tokens = append(tokens, tok)
			}
		case classAlnum:
			tokens = append(tokens, strings.ToLower(string(run)))
		case classCJK:
			for _, r := range run {
				tokens = append(tokens, string(r))
			}
		}
		run = run[:0]
	}

	for _, r := range text {
		class := runeClass(r)
		if class == classNone {
			flush()
			continue
		}
		if class != runClass {
			flush()
			runClass = class
		}
		run = append(run, r)
	}
	flush()

	return tokens
}

// stripParticles removes up to two trailing particles. Two passes
// handle stacked forms like 에서는.
func stripParticles(word string) string {
	for pass := 0; pass < 2; pass++ {
		stripped := false
		for _, p := range particles {
			if !strings.HasSuffix(word, p) {
				continue
			}
			stem := strings.TrimSuffix(word, p)
			if len([]rune(stem)) < 2 {
				continue
			}
			word = stem
			stripped = true
			break
		}
		if !stripped {
			break
		}
	}
	return word
}

// hasDigit reports whether the token carries a digit. Digit-bearing
// tokens (years, semester numbers) discriminate strongly between posts.
func hasDigit(tok string) bool {
	for _, r := range tok {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
