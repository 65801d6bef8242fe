package crawl

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/fetch"
)

// Board is one crawl target. Implementations differ only in markup
// selectors and which artifact URLs a page yields.
type Board interface {
	// Type identifies the board.
	Type() config.BoardType

	// PostURL returns the view URL for a post id.
	PostURL(id int) string

	// LatestID scans the board landing page for the highest post id.
	LatestID(ctx context.Context) (int, error)

	// ExtractFromURL fetches and parses one post page. A page without
	// an extractable title returns (nil, nil): the post is dropped, not
	// an error.
	ExtractFromURL(ctx context.Context, pageURL string) (*Post, error)
}

// Base owns what every board crawler shares: the fetch client (retry
// and backoff live there), a per-host rate limiter, and the bounded
// worker pool that runs page extraction across an id range.
type Base struct {
	fetcher    fetch.Fetcher
	limiter    *rate.Limiter
	maxWorkers int
	logger     *slog.Logger
}

// NewBase creates the shared crawler base. The fetcher is shared with
// the ingestion pipeline so boards and artifact downloads go through
// one HTTP stack.
func NewBase(cfg config.CrawlConfig, fetcher fetch.Fetcher, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 3
	}

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}

	return &Base{
		fetcher:    fetcher,
		limiter:    rate.NewLimiter(limit, 1),
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

// Document fetches a page and parses it. The rate limiter gates every
// page request so a full-range backfill cannot hammer the board host.
func (b *Base) Document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := b.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Data))
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeFetchFailed, "page HTML did not parse", err).
			WithDetail("url", pageURL)
	}
	return doc, nil
}

// CrawlPosts runs ExtractFromURL across an id list with a bounded pool.
// Failed or titleless pages are logged and omitted; the order of the
// returned posts follows the input ids. Only context cancellation
// aborts the batch.
func (b *Base) CrawlPosts(ctx context.Context, board Board, ids []int) ([]*Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	started := time.Now()
	results := make([]*Post, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxWorkers)
	for i, id := range ids {
		g.Go(func() error {
			pageURL := board.PostURL(id)
			post, err := board.ExtractFromURL(gctx, pageURL)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				b.logger.Warn("post crawl failed, omitting",
					slog.String("board", board.Type().String()),
					slog.Int("id", id),
					slog.String("error", err.Error()))
				return nil
			}
			if post == nil {
				b.logger.Debug("post without title, dropped",
					slog.String("board", board.Type().String()),
					slog.Int("id", id))
				return nil
			}
			post.BoardID = id
			results[i] = post
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	posts := make([]*Post, 0, len(ids))
	for _, p := range results {
		if p != nil {
			posts = append(posts, p)
		}
	}

	b.logger.Info("board range crawled",
		slog.String("board", board.Type().String()),
		slog.Int("requested", len(ids)),
		slog.Int("extracted", len(posts)),
		slog.Duration("took", time.Since(started)))

	return posts, nil
}
