package ingest

import (
	"time"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
)

// PostFailure records one post that was aborted during a run.
type PostFailure struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// BoardReport summarizes one board's ingestion pass.
type BoardReport struct {
	Board    config.BoardType `json:"board"`
	LatestID int              `json:"latest_id"`

	// Range is how many ids the watermark left to crawl.
	Range int `json:"range"`

	// Crawled is how many of those ids yielded a post.
	Crawled  int `json:"crawled"`
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`

	// Items is the number of chunks embedded and uploaded.
	Items int `json:"items"`

	Failures []PostFailure `json:"failures,omitempty"`

	// Err is set when the board pass aborted before completing.
	Err string `json:"error,omitempty"`

	Took time.Duration `json:"took"`
}

// Report is the outcome of one ingestion run across all boards.
type Report struct {
	Boards  []BoardReport `json:"boards"`
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took"`
}

// Totals sums the per-board counters.
func (r *Report) Totals() (ingested, skipped, failed, items int) {
	for _, b := range r.Boards {
		ingested += b.Ingested
		skipped += b.Skipped
		failed += b.Failed
		items += b.Items
	}
	return ingested, skipped, failed, items
}

// Failed reports whether any board pass aborted with an error.
func (r *Report) Failed() bool {
	for _, b := range r.Boards {
		if b.Err != "" {
			return true
		}
	}
	return false
}
