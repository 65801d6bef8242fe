// Package crawl fetches department board pages and parses them into
// posts. Six boards share one HTTP base (retry, rate limit, worker
// pool); per-board differences are confined to markup selectors and
// which image/attachment URLs a page yields.
package crawl

import (
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/ident"
)

// Post is one crawled board page. Dates are RFC3339 in KST; directory
// entries carry the fixed baseline date since profile pages have none.
type Post struct {
	BoardType      config.BoardType
	BoardID        int
	Title          string
	Body           string
	Date           string
	URL            string
	ImageURLs      []string
	AttachmentURLs []string
}

// ContentHash returns the stable identity hash over title and body.
// Re-ingestion triggers only when this differs from the stored hash.
func (p *Post) ContentHash() string {
	return ident.ContentHash(p.Title, p.Body)
}

// DirectoryBaselineDate is the sentinel date for faculty/staff profile
// pages. It predates the recency baseline so directory entries always
// take the flat pre-baseline multiplier instead of decaying with age.
const DirectoryBaselineDate = "2021-01-01T00:00:00+09:00"
