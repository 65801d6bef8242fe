package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToText strips markup and returns the text content. Used when an
// extraction carries only HTML, and by the lexical index when building
// its searchable surface from stored HTML.
func HTMLToText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(doc.Text())
}
