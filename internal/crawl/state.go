package crawl

import (
	"context"
	"errors"
	"log/slog"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

// StateManager reads and advances per-board crawl watermarks. The
// watermark is the highest post id whose batch completed end to end;
// advancing it is the caller's last step, so a crash before that point
// re-crawls the same range on the next run.
type StateManager struct {
	docs   store.DocumentStore
	clock  clock.Clock
	logger *slog.Logger
}

// NewStateManager creates a StateManager over the document store.
func NewStateManager(docs store.DocumentStore, clk clock.Clock, logger *slog.Logger) *StateManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateManager{docs: docs, clock: clk, logger: logger}
}

// LastProcessedID returns the stored watermark for a board. A board
// that was never crawled reports ok=false rather than an error.
func (m *StateManager) LastProcessedID(ctx context.Context, boardType config.BoardType) (int, bool, error) {
	state, err := m.docs.GetCrawlState(ctx, boardType.String())
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return state.LastProcessedID, true, nil
}

// UpdateLastProcessedID advances the watermark and adds processed to
// the board's running post count. Call only after the whole batch has
// been stored and uploaded.
func (m *StateManager) UpdateLastProcessedID(ctx context.Context, boardType config.BoardType, id, processed int) error {
	state, err := m.docs.GetCrawlState(ctx, boardType.String())
	if errors.Is(err, store.ErrNotFound) {
		state = &store.CrawlState{BoardType: boardType.String()}
	} else if err != nil {
		return err
	}

	state.LastProcessedID = id
	state.LastUpdated = m.clock.Now()
	state.ProcessedCount += processed

	if err := m.docs.UpsertCrawlState(ctx, state); err != nil {
		return err
	}

	m.logger.Debug("crawl watermark advanced",
		slog.String("board", boardType.String()),
		slog.Int("last_processed_id", id),
		slog.Int("processed", processed))
	return nil
}

// CrawlRange computes the ids to crawl for one run, newest first. On a
// fresh board the range runs from latestID down to floorID inclusive;
// afterwards it runs down to one past the watermark. The floor caps how
// deep a run can ever reach.
func (m *StateManager) CrawlRange(ctx context.Context, boardType config.BoardType, latestID, floorID int) ([]int, error) {
	last, ok, err := m.LastProcessedID(ctx, boardType)
	if err != nil {
		return nil, err
	}

	lower := floorID
	if lower < 1 {
		lower = 1
	}
	if ok && last+1 > lower {
		lower = last + 1
	}
	if latestID < lower {
		return nil, nil
	}

	ids := make([]int, 0, latestID-lower+1)
	for id := latestID; id >= lower; id-- {
		ids = append(ids, id)
	}
	return ids, nil
}

// Reset forgets every board's watermark.
func (m *StateManager) Reset(ctx context.Context) error {
	return m.docs.DeleteAllCrawlStates(ctx)
}
