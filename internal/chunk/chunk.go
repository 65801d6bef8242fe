// Package chunk splits extracted post text into fixed-size overlapping
// windows for embedding. Window sizes are measured in runes, not bytes,
// so Korean text is never cut mid-character.
package chunk

import "strings"

// Window defaults for the department boards. Posts are mostly short
// Korean notices; 850 characters keeps a full announcement section in
// one window, and 100 characters of overlap preserves sentences that
// straddle a boundary.
const (
	DefaultSize    = 850
	DefaultOverlap = 100
)

// Chunk is one window of source text, ready to become an embedding item.
type Chunk struct {
	Text  string
	Index int // 0-based position within the source text
	Total int // number of chunks the source text produced
}

// Options configures a Chunker. Zero values fall back to the defaults.
type Options struct {
	Size    int // maximum chunk length in runes
	Overlap int // runes shared between consecutive chunks
}

// Chunker splits text into overlapping rune windows.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker with the default window size and overlap.
func New() *Chunker {
	return NewWithOptions(Options{})
}

// NewWithOptions returns a Chunker for the given options, applying
// defaults for zero values.
func NewWithOptions(opts Options) *Chunker {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	overlap := opts.Overlap
	if overlap <= 0 {
		overlap = DefaultOverlap
	}
	// The window must always advance.
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split cuts text into windows of at most the configured size, each
// sharing the configured overlap with its predecessor. Text that fits
// in a single window comes back as one chunk; whitespace-only text
// produces no chunks.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= c.size {
		return []Chunk{{Text: text, Index: 0, Total: 1}}
	}

	step := c.size - c.overlap
	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Text:  string(runes[start:end]),
			Index: len(chunks),
		})
		if end == len(runes) {
			break
		}
	}
	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

// Size reports the configured window size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap reports the configured overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }
