package retrieval

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
)

const (
	defaultListSize = 5
	maxListSize     = 30
)

// ListItem is one row of a board listing.
type ListItem struct {
	Title string
	URL   string
	Date  string
}

// Listing is the result of the list shortcut: the newest posts of one
// board, no model call involved.
type Listing struct {
	Category config.BoardType
	BoardURL string
	Items    []ListItem
}

// categoryTokens maps query nouns to board types.
var categoryTokens = map[string]config.BoardType{
	"공지":   config.BoardNotice,
	"공지사항": config.BoardNotice,
	"채용":   config.BoardJob,
	"취업":   config.BoardJob,
	"세미나":  config.BoardSeminar,
	"특강":   config.BoardSeminar,
}

// listNoise are tokens a bare listing request is allowed to contain
// beyond the category and recency words.
var listNoisePrefixes = []string{"알려", "보여", "말해", "뭐", "있", "올라"}
var listNoiseTokens = map[string]bool{
	"목록":  true,
	"리스트": true,
	"정리":  true,
	"소식":  true,
	"내용":  true,
	"게시글": true,
	"게시물": true,
}

// ListShortcut answers "최근 공지 5개" style queries straight from the
// metadata snapshot.
type ListShortcut struct {
	snap   *snapshot.Manager
	boards map[config.BoardType]string
	logger *slog.Logger
}

// NewListShortcut wires the shortcut over the configured boards.
func NewListShortcut(snap *snapshot.Manager, boards []config.BoardConfig, logger *slog.Logger) *ListShortcut {
	if logger == nil {
		logger = slog.Default()
	}
	byType := make(map[config.BoardType]string, len(boards))
	for _, b := range boards {
		byType[b.Type] = b.URL
	}
	return &ListShortcut{snap: snap, boards: byType, logger: logger}
}

// Try returns a listing when the query is a plain listing request, nil
// when the query deserves the full pipeline.
func (s *ListShortcut) Try(query string, queryTokens []string) *Listing {
	category, ok := detectListRequest(query, queryTokens)
	if !ok {
		return nil
	}

	boardURL, ok := s.boards[category]
	if !ok {
		return nil
	}

	limit := parseItemCount(query)
	if limit == 0 {
		limit = defaultListSize
	}

	items := s.scan(boardURL, limit)
	if len(items) == 0 {
		return nil
	}

	s.logger.Debug("list shortcut taken",
		slog.String("category", string(category)),
		slog.Int("items", len(items)))
	return &Listing{Category: category, BoardURL: boardURL, Items: items}
}

// scan collects the newest distinct posts under the board URL.
func (s *ListShortcut) scan(boardURL string, limit int) []ListItem {
	var items []ListItem
	seen := make(map[string]bool)
	for _, doc := range s.snap.Documents() {
		if doc.Source != snapshot.SourceOriginalPost {
			continue
		}
		if !strings.HasPrefix(doc.URL, boardURL) {
			continue
		}
		if doc.Title == "" || seen[doc.Title] {
			continue
		}
		seen[doc.Title] = true
		items = append(items, ListItem{Title: doc.Title, URL: doc.URL, Date: doc.Date})
	}

	// RFC3339 in one zone sorts chronologically as text.
	sort.SliceStable(items, func(i, j int) bool { return items[i].Date > items[j].Date })
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// detectListRequest decides whether the query only asks for a board
// listing: a category word plus either a recency word or an explicit
// item count, and nearly nothing else.
func detectListRequest(query string, queryTokens []string) (config.BoardType, bool) {
	var category config.BoardType
	hasRecent := false
	residual := 0

	for _, tok := range queryTokens {
		if boardType, ok := categoryTokens[tok]; ok {
			category = boardType
			continue
		}
		if recentTokens[tok] {
			hasRecent = true
			continue
		}
		if isListNoise(tok) {
			continue
		}
		residual++
	}

	if category == "" || residual > 1 {
		return "", false
	}
	if !hasRecent && parseItemCount(query) == 0 {
		return "", false
	}
	return category, true
}

func isListNoise(tok string) bool {
	if listNoiseTokens[tok] {
		return true
	}
	for _, p := range listNoisePrefixes {
		if strings.HasPrefix(tok, p) {
			return true
		}
	}
	return false
}

// parseItemCount finds an explicit "N개" in the raw query.
func parseItemCount(query string) int {
	runes := []rune(query)
	for i := 0; i < len(runes); {
		if !isDigit(runes[i]) {
			i++
			continue
		}
		n := 0
		j := i
		for j < len(runes) && isDigit(runes[j]) {
			n = n*10 + int(runes[j]-'0')
			j++
		}
		if j < len(runes) && runes[j] == '개' && n > 0 {
			if n > maxListSize {
				n = maxListSize
			}
			return n
		}
		i = j
	}
	return 0
}
