package ingest

import (
	"context"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/crawl"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// Crawler enumerates and fetches board posts for the runner.
type Crawler interface {
	// LatestID returns the highest post id currently on the board.
	LatestID(ctx context.Context, board config.BoardType) (int, error)

	// CrawlPosts extracts the posts for the given ids. Failed and
	// titleless pages are omitted, not errors.
	CrawlPosts(ctx context.Context, board config.BoardType, ids []int) ([]*crawl.Post, error)
}

// BoardSet adapts the configured crawl boards to the Crawler seam.
type BoardSet struct {
	base   *crawl.Base
	boards map[config.BoardType]crawl.Board
}

var _ Crawler = (*BoardSet)(nil)

// NewBoardSet builds one crawler per configured board over a shared
// base. An unparseable board URL fails construction, not the run.
func NewBoardSet(cfg config.CrawlConfig, base *crawl.Base) (*BoardSet, error) {
	boards := make(map[config.BoardType]crawl.Board, len(cfg.Boards))
	for _, bc := range cfg.Boards {
		board, err := crawl.NewBoard(bc, base)
		if err != nil {
			return nil, err
		}
		boards[bc.Type] = board
	}
	return &BoardSet{base: base, boards: boards}, nil
}

// LatestID scans the board landing page for the highest post id.
func (s *BoardSet) LatestID(ctx context.Context, board config.BoardType) (int, error) {
	b, err := s.board(board)
	if err != nil {
		return 0, err
	}
	return b.LatestID(ctx)
}

// CrawlPosts runs page extraction across the id list with the shared
// bounded pool.
func (s *BoardSet) CrawlPosts(ctx context.Context, board config.BoardType, ids []int) ([]*crawl.Post, error) {
	b, err := s.board(board)
	if err != nil {
		return nil, err
	}
	return s.base.CrawlPosts(ctx, b, ids)
}

func (s *BoardSet) board(t config.BoardType) (crawl.Board, error) {
	b, ok := s.boards[t]
	if !ok {
		return nil, qaerrors.New(qaerrors.ErrCodeConfigInvalid, "board not configured", nil).
			WithDetail("board", t.String())
	}
	return b, nil
}
