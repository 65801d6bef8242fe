package crawl

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// View-page selectors for the gnuboard skin every department board
// runs. The markup is stable across boards; only the artifact rules
// differ per kind.
const (
	selTitle      = "#bo_v_title .bo_v_tit"
	selTitleOuter = "#bo_v_title"
	selTitleBare  = ".bo_v_tit"
	selInfo       = "#bo_v_info"
	selBody       = "#bo_v_con"
	selBodyImages = "#bo_v_con img"
	selFiles      = "#bo_v_file a"
)

// NewBoard creates the crawler for one configured board. Bulletin
// boards (notice, job, seminar) yield image and attachment lists;
// directory boards (faculty, guest-faculty, staff) yield one profile
// image and the fixed baseline date.
func NewBoard(cfg config.BoardConfig, base *Base) (Board, error) {
	baseURL, err := url.Parse(cfg.URL)
	if err != nil || baseURL.Host == "" {
		return nil, qaerrors.New(qaerrors.ErrCodeConfigInvalid, "board URL did not parse", err).
			WithDetail("board", cfg.Type.String()).
			WithDetail("url", cfg.URL)
	}

	switch cfg.Type {
	case config.BoardNotice, config.BoardJob, config.BoardSeminar:
		return &bulletinBoard{base: base, boardType: cfg.Type, baseURL: baseURL}, nil
	case config.BoardFaculty, config.BoardGuestFaculty, config.BoardStaff:
		return &directoryBoard{base: base, boardType: cfg.Type, baseURL: baseURL}, nil
	default:
		return nil, qaerrors.New(qaerrors.ErrCodeConfigInvalid, "no crawler for board type", nil).
			WithDetail("type", cfg.Type.String())
	}
}

// bulletinBoard crawls notice, job, and seminar boards.
type bulletinBoard struct {
	base      *Base
	boardType config.BoardType
	baseURL   *url.URL
}

var _ Board = (*bulletinBoard)(nil)

func (b *bulletinBoard) Type() config.BoardType { return b.boardType }

func (b *bulletinBoard) PostURL(id int) string {
	return postURL(b.baseURL, id)
}

func (b *bulletinBoard) LatestID(ctx context.Context) (int, error) {
	doc, err := b.base.Document(ctx, b.baseURL.String())
	if err != nil {
		return 0, err
	}
	return latestIDFrom(doc, b.boardType)
}

func (b *bulletinBoard) ExtractFromURL(ctx context.Context, pageURL string) (*Post, error) {
	doc, err := b.base.Document(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	title := extractTitle(doc)
	if title == "" {
		return nil, nil
	}

	date, ok := parseDateText(doc.Find(selInfo).Text())
	if !ok {
		// An unparseable date must not make an old post look fresh.
		date = DirectoryBaselineDate
	}

	return &Post{
		BoardType:      b.boardType,
		Title:          title,
		Body:           strings.TrimSpace(doc.Find(selBody).Text()),
		Date:           date,
		URL:            pageURL,
		ImageURLs:      collectURLs(doc, selBodyImages, "src", b.baseURL, 0),
		AttachmentURLs: collectURLs(doc, selFiles, "href", b.baseURL, 0),
	}, nil
}

// directoryBoard crawls faculty and staff profile boards.
type directoryBoard struct {
	base      *Base
	boardType config.BoardType
	baseURL   *url.URL
}

var _ Board = (*directoryBoard)(nil)

func (d *directoryBoard) Type() config.BoardType { return d.boardType }

func (d *directoryBoard) PostURL(id int) string {
	return postURL(d.baseURL, id)
}

func (d *directoryBoard) LatestID(ctx context.Context) (int, error) {
	doc, err := d.base.Document(ctx, d.baseURL.String())
	if err != nil {
		return 0, err
	}
	return latestIDFrom(doc, d.boardType)
}

func (d *directoryBoard) ExtractFromURL(ctx context.Context, pageURL string) (*Post, error) {
	doc, err := d.base.Document(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	title := extractTitle(doc)
	if title == "" {
		return nil, nil
	}

	return &Post{
		BoardType: d.boardType,
		Title:     title,
		Body:      strings.TrimSpace(doc.Find(selBody).Text()),
		Date:      DirectoryBaselineDate,
		URL:       pageURL,
		ImageURLs: collectURLs(doc, selBodyImages, "src", d.baseURL, 1),
	}, nil
}

// postURL sets wr_id on the board URL, preserving any existing query
// (classic board.php?bo_table= form and rewritten short form both work).
func postURL(base *url.URL, id int) string {
	u := *base
	q := u.Query()
	q.Set("wr_id", strconv.Itoa(id))
	u.RawQuery = q.Encode()
	return u.String()
}

// latestIDFrom scans a landing page for post links and returns the
// highest wr_id. Pinned announcements carry old ids, so max is the
// newest post regardless of pin order.
func latestIDFrom(doc *goquery.Document, boardType config.BoardType) (int, error) {
	maxID := 0
	doc.Find(`a[href*="wr_id="]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		id, err := strconv.Atoi(u.Query().Get("wr_id"))
		if err != nil {
			return
		}
		if id > maxID {
			maxID = id
		}
	})

	if maxID == 0 {
		return 0, qaerrors.New(qaerrors.ErrCodeFetchFailed, "landing page has no post links", nil).
			WithDetail("board", boardType.String())
	}
	return maxID, nil
}

// extractTitle walks the title selectors from most to least specific.
func extractTitle(doc *goquery.Document) string {
	for _, sel := range []string{selTitle, selTitleBare, selTitleOuter} {
		if title := strings.TrimSpace(doc.Find(sel).First().Text()); title != "" {
			return title
		}
	}
	return ""
}

// parseDateText pulls a date out of the post info line. The line mixes
// labels with the timestamp ("작성일 24-03-02 14:11"), so adjacent
// field pairs are tried before single fields.
func parseDateText(text string) (string, bool) {
	fields := strings.Fields(text)
	for i := 0; i+1 < len(fields); i++ {
		if iso, err := clock.NormalizeISO(fields[i] + " " + fields[i+1]); err == nil {
			return iso, true
		}
	}
	for _, f := range fields {
		if iso, err := clock.NormalizeISO(f); err == nil {
			return iso, true
		}
	}
	return "", false
}

// collectURLs gathers attribute URLs under a selector, resolved against
// the board origin, deduplicated in order. limit 0 means unbounded.
// data: URIs pass through untouched; the fetcher decodes them.
func collectURLs(doc *goquery.Document, selector, attr string, base *url.URL, limit int) []string {
	var out []string
	seen := make(map[string]bool)

	doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw, ok := sel.Attr(attr)
		if !ok {
			return true
		}
		resolved := absolutize(base, raw)
		if resolved == "" || seen[resolved] {
			return true
		}
		seen[resolved] = true
		out = append(out, resolved)
		return limit <= 0 || len(out) < limit
	})

	return out
}

// absolutize resolves href against the board origin.
func absolutize(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "data:") {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
