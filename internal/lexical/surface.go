package lexical

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// htmlToText renders a chunk's HTML field for indexing. Extractors
// store either markdown (passed through) or raw HTML (converted).
// Conversion failures fall back to the raw string; the tokenizer drops
// markup characters anyway.
func htmlToText(s string) string {
	if s == "" || !strings.Contains(s, "<") {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return md
}

// surface joins the searchable parts of one document.
func surface(title, text, htmlText string) string {
	var b strings.Builder
	b.Grow(len(title) + len(text) + len(htmlText) + 2)
	b.WriteString(title)
	if text != "" {
		b.WriteByte(' ')
		b.WriteString(text)
	}
	if htmlText != "" {
		b.WriteByte(' ')
		b.WriteString(htmlText)
	}
	return b.String()
}
