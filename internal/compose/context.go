package compose

import (
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/ident"
	"github.com/map-community/CHATBOT-AI-sub000/internal/retrieval"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
)

const (
	// contextBudget caps the characters of assembled context handed to
	// the model, roughly 20k tokens of Korean text.
	contextBudget = 50_000

	// highScoreRatio marks a post as high-score when its best chunk
	// reaches this share of the top score.
	highScoreRatio = 0.6
)

// renderedChunk pairs a candidate with its final context block.
type renderedChunk struct {
	cand  retrieval.Candidate
	block string
	size  int
}

// renderChunks renders every chunk and drops ones whose extracted
// markdown already appeared on an earlier chunk. The same table shows
// up on several chunks when an attachment spans them.
func renderChunks(cands []retrieval.Candidate) []renderedChunk {
	out := make([]renderedChunk, 0, len(cands))
	seen := make(map[string]bool, len(cands))
	for _, c := range cands {
		if c.HTML != "" {
			key := ident.NormalizeSpace(c.HTML)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		block := formatBlock(c)
		out = append(out, renderedChunk{cand: c, block: block, size: utf8.RuneCountInString(block)})
	}
	return out
}

// renderContent picks the richest rendering of one chunk: extractor
// markdown as stored, HTML converted to markdown, then the plain text.
func renderContent(c retrieval.Candidate) string {
	if c.HTML == "" {
		return c.Text
	}
	if !strings.Contains(c.HTML, "<") {
		return c.HTML
	}
	md, err := htmltomarkdown.ConvertString(c.HTML)
	if err != nil || strings.TrimSpace(md) == "" {
		return c.Text
	}
	return md
}

// formatBlock renders one chunk as a titled context section. Extraction
// chunks are labeled so the model can tell a poster image from the
// announcement body.
func formatBlock(c retrieval.Candidate) string {
	var b strings.Builder
	b.WriteString("### ")
	b.WriteString(c.Title)
	if d := displayDate(c.Date); d != "" {
		b.WriteString(" (")
		b.WriteString(d)
		b.WriteString(")")
	}
	switch c.Source {
	case snapshot.SourceImageOCR:
		b.WriteString(" [이미지에서 추출]")
	case snapshot.SourceDocumentParse:
		if c.AttachmentType != "" {
			b.WriteString(" [첨부파일에서 추출: " + c.AttachmentType + "]")
		} else {
			b.WriteString(" [첨부파일에서 추출]")
		}
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(renderContent(c)))
	b.WriteString("\n")
	return b.String()
}

// displayDate renders a stored date for human eyes, date part only.
func displayDate(s string) string {
	t, err := clock.ParseDate(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return t.Format("2006-01-02")
}

// filterByNouns drops chunks that carry no query noun, unless they came
// out of OCR or document parsing. When every chunk shares one title the
// pipeline already vouched for all of them and the filter is skipped;
// when the filter would drop everything it keeps everything.
func filterByNouns(chunks []renderedChunk, queryTokens []string) []renderedChunk {
	if len(chunks) == 0 || samePost(chunks) {
		return chunks
	}

	kept := make([]renderedChunk, 0, len(chunks))
	for _, ch := range chunks {
		if ch.cand.FromExtracted() || mentionsAny(ch.cand, queryTokens) {
			kept = append(kept, ch)
		}
	}
	if len(kept) == 0 {
		return chunks
	}
	return kept
}

func samePost(chunks []renderedChunk) bool {
	for _, ch := range chunks[1:] {
		if ch.cand.Title != chunks[0].cand.Title {
			return false
		}
	}
	return true
}

func mentionsAny(c retrieval.Candidate, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(c.Title, tok) || strings.Contains(c.Text, tok) || strings.Contains(c.HTML, tok) {
			return true
		}
	}
	return false
}

// highScoreTitles marks every post whose best chunk reaches the high
// score band. The ratio is meaningless on the negative logit scale, so
// every post qualifies there.
func highScoreTitles(chunks []renderedChunk) map[string]bool {
	best := make(map[string]float64, len(chunks))
	top := 0.0
	for _, ch := range chunks {
		if cur, ok := best[ch.cand.Title]; !ok || ch.cand.Score > cur {
			best[ch.cand.Title] = ch.cand.Score
		}
		if ch.cand.Score > top {
			top = ch.cand.Score
		}
	}

	high := make(map[string]bool, len(best))
	for title, score := range best {
		if top <= 0 || score >= top*highScoreRatio {
			high[title] = true
		}
	}
	return high
}

// fillContext picks chunks into the character budget in three passes:
// the original bodies of every post, then image extractions of
// high-score posts, then everything else in score order.
func (c *Composer) fillContext(chunks []renderedChunk, high map[string]bool) []renderedChunk {
	picked := make([]renderedChunk, 0, len(chunks))
	taken := make([]bool, len(chunks))
	remaining := c.budget

	take := func(i int) {
		picked = append(picked, chunks[i])
		taken[i] = true
		remaining -= chunks[i].size
	}

	// Pass 1: post bodies, in post rank order.
	for i, ch := range chunks {
		if !isBody(ch.cand) {
			continue
		}
		if ch.size > remaining {
			c.logger.Warn("context budget exhausted before post body",
				slog.String("title", ch.cand.Title),
				slog.Int("chunk_chars", ch.size),
				slog.Int("remaining", remaining))
			continue
		}
		take(i)
	}

	// Pass 2: image extractions of high-score posts, best first.
	for _, i := range indexesBy(chunks, taken, func(cand retrieval.Candidate) bool {
		return cand.Source == snapshot.SourceImageOCR && high[cand.Title]
	}) {
		if chunks[i].size > remaining {
			continue
		}
		take(i)
	}

	// Pass 3: whatever still fits, best first.
	for _, i := range indexesBy(chunks, taken, func(retrieval.Candidate) bool { return true }) {
		if chunks[i].size > remaining {
			continue
		}
		take(i)
	}

	return picked
}

// indexesBy returns untaken chunk indexes matching pred, best score
// first.
func indexesBy(chunks []renderedChunk, taken []bool, pred func(retrieval.Candidate) bool) []int {
	var idx []int
	for i, ch := range chunks {
		if !taken[i] && pred(ch.cand) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return chunks[idx[a]].cand.Score > chunks[idx[b]].cand.Score
	})
	return idx
}

// isBody reports whether the chunk is original post content rather
// than an extraction. Directory entries count as bodies.
func isBody(c retrieval.Candidate) bool {
	return c.Source == snapshot.SourceOriginalPost || c.Source == snapshot.SourceProfessorInfo
}

// joinBlocks concatenates picked blocks into the prompt context.
func joinBlocks(picked []renderedChunk) string {
	blocks := make([]string, len(picked))
	for i, ch := range picked {
		blocks[i] = ch.block
	}
	return strings.Join(blocks, "\n")
}

// imageList collects the distinct image URLs behind the picked chunks,
// or the sentinel when there are none.
func imageList(picked []renderedChunk) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, ch := range picked {
		u := ch.cand.ImageURL
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return []string{imageSentinel}
	}
	return urls
}
