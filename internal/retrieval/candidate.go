// Package retrieval runs the query side of the service: temporal intent
// parsing, the list shortcut, parallel BM25 and dense search, fusion,
// reranking, and chunk enrichment. Every stage consumes and produces
// Candidates, so stages compose and test in isolation.
package retrieval

import (
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
)

// Candidate is one scored retrieval result.
type Candidate struct {
	Score          float64
	Title          string
	Date           string
	Text           string
	URL            string
	HTML           string
	ContentType    string
	Source         string
	ImageURL       string
	AttachmentType string
}

// fromDocument builds a Candidate over a snapshot document.
func fromDocument(d snapshot.Document, score float64) Candidate {
	return Candidate{
		Score:          score,
		Title:          d.Title,
		Date:           d.Date,
		Text:           d.Text,
		URL:            d.URL,
		HTML:           d.HTML,
		ContentType:    d.ContentType,
		Source:         d.Source,
		ImageURL:       d.ImageURL,
		AttachmentType: d.AttachmentType,
	}
}

// FromExtracted reports whether the candidate came out of OCR or
// document parsing. Such chunks carry content the body text does not,
// so keyword filters let them through.
func (c Candidate) FromExtracted() bool {
	return c.Source == snapshot.SourceImageOCR || c.Source == snapshot.SourceDocumentParse
}
