package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/crawl"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/lexical"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
	"github.com/map-community/CHATBOT-AI-sub000/internal/ui"
)

// RunnerDeps are the injected pieces of an ingestion runner.
type RunnerDeps struct {
	Crawler   Crawler
	State     *crawl.StateManager
	Processor *Processor
	Uploader  *Uploader
	Docs      store.DocumentStore
	Snapshot  *snapshot.Manager
	Lexical   *lexical.Index
	Boards    []config.BoardConfig

	// Lock is optional; when set, a run refuses to start while another
	// process holds it.
	Lock *Lock

	// Renderer is optional terminal progress output.
	Renderer ui.Renderer

	Logger *slog.Logger
}

// Runner executes one ingestion pass per board: state, crawl, process,
// upload, snapshot and BM25 refresh, watermark. Boards are independent;
// one board's failure never blocks the others.
type Runner struct {
	crawler  Crawler
	state    *crawl.StateManager
	proc     *Processor
	uploader *Uploader
	docs     store.DocumentStore
	snapshot *snapshot.Manager
	lexical  *lexical.Index
	boards   []config.BoardConfig
	lock     *Lock
	renderer ui.Renderer
	logger   *slog.Logger
}

// NewRunner creates a runner with injected dependencies.
func NewRunner(deps RunnerDeps) (*Runner, error) {
	switch {
	case deps.Crawler == nil:
		return nil, fmt.Errorf("crawler is required")
	case deps.State == nil:
		return nil, fmt.Errorf("state manager is required")
	case deps.Processor == nil:
		return nil, fmt.Errorf("processor is required")
	case deps.Uploader == nil:
		return nil, fmt.Errorf("uploader is required")
	case deps.Docs == nil:
		return nil, fmt.Errorf("document store is required")
	case deps.Snapshot == nil:
		return nil, fmt.Errorf("snapshot manager is required")
	case deps.Lexical == nil:
		return nil, fmt.Errorf("lexical index is required")
	case len(deps.Boards) == 0:
		return nil, fmt.Errorf("at least one board is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = noopRenderer{}
	}

	return &Runner{
		crawler:  deps.Crawler,
		state:    deps.State,
		proc:     deps.Processor,
		uploader: deps.Uploader,
		docs:     deps.Docs,
		snapshot: deps.Snapshot,
		lexical:  deps.Lexical,
		boards:   deps.Boards,
		lock:     deps.Lock,
		renderer: renderer,
		logger:   logger,
	}, nil
}

// noopRenderer discards progress events when no renderer is wired.
type noopRenderer struct{}

func (noopRenderer) Start(context.Context) error     { return nil }
func (noopRenderer) UpdateProgress(ui.ProgressEvent) {}
func (noopRenderer) AddError(ui.ErrorEvent)          {}
func (noopRenderer) Complete(ui.CompletionStats)     {}
func (noopRenderer) Stop() error                     { return nil }

// Run executes one ingestion pass over every configured board.
// Concurrent runs are refused: ids continue from the collection count
// and the watermark is per board, so two runners would corrupt both.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.lock != nil {
		acquired, err := r.lock.TryLock()
		if err != nil {
			return nil, qaerrors.New(qaerrors.ErrCodeIngestFailed, "ingest lock not acquirable", err).
				WithDetail("lock", r.lock.Path())
		}
		if !acquired {
			return nil, qaerrors.New(qaerrors.ErrCodeStateMismatch, "another ingestion run holds the lock", nil).
				WithDetail("lock", r.lock.Path())
		}
		defer func() {
			if err := r.lock.Unlock(); err != nil {
				r.logger.Warn("ingest lock release failed", slog.String("error", err.Error()))
			}
		}()
	}

	started := time.Now()
	report := &Report{Started: started, Boards: make([]BoardReport, 0, len(r.boards))}

	for _, bc := range r.boards {
		if ctx.Err() != nil {
			report.Took = time.Since(started)
			return report, ctx.Err()
		}

		br := r.runBoard(ctx, bc)
		report.Boards = append(report.Boards, br)
		if br.Err != "" {
			r.renderer.AddError(ui.ErrorEvent{
				Board: bc.Type.String(),
				Err:   fmt.Errorf("%s", br.Err),
			})
			r.logger.Error("board pass failed",
				slog.String("board", bc.Type.String()),
				slog.String("error", br.Err))
		}
	}

	report.Took = time.Since(started)
	ingested, skipped, failed, items := report.Totals()
	r.renderer.Complete(ui.CompletionStats{
		Boards:   len(report.Boards),
		Ingested: ingested,
		Skipped:  skipped,
		Failed:   failed,
		Items:    items,
		Duration: report.Took,
	})
	r.logger.Info("ingestion run complete",
		slog.Int("boards", len(report.Boards)),
		slog.Int("ingested", ingested),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed),
		slog.Int("items", items),
		slog.Duration("took", report.Took))

	return report, nil
}

// runBoard executes the full pass for one board. Infra failures (store,
// embedder, vector index) abort the pass before the watermark moves, so
// the next run re-crawls the same range and dedup skips what landed.
func (r *Runner) runBoard(ctx context.Context, bc config.BoardConfig) BoardReport {
	started := time.Now()
	br := BoardReport{Board: bc.Type}

	fail := func(err error) BoardReport {
		br.Err = err.Error()
		br.Took = time.Since(started)
		return br
	}

	latest, err := r.crawler.LatestID(ctx, bc.Type)
	if err != nil {
		return fail(err)
	}
	br.LatestID = latest

	last, hasState, err := r.state.LastProcessedID(ctx, bc.Type)
	if err != nil {
		return fail(err)
	}

	ids, err := r.state.CrawlRange(ctx, bc.Type, latest, bc.FloorID)
	if err != nil {
		return fail(err)
	}
	br.Range = len(ids)
	if len(ids) == 0 {
		r.logger.Info("board up to date",
			slog.String("board", bc.Type.String()),
			slog.Int("latest_id", latest))
		br.Took = time.Since(started)
		return br
	}

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Board:   bc.Type.String(),
		Stage:   ui.StageCrawl,
		Total:   len(ids),
		Message: fmt.Sprintf("posts %d..%d", ids[0], ids[len(ids)-1]),
	})

	posts, err := r.crawler.CrawlPosts(ctx, bc.Type, ids)
	if err != nil {
		return fail(err)
	}
	br.Crawled = len(posts)

	var newDocs []snapshot.Document
	lowestFailed := 0
	for i, post := range posts {
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Board:   bc.Type.String(),
			Stage:   ui.StageProcess,
			Current: i + 1,
			Total:   len(posts),
			Message: post.Title,
		})
		res, err := r.proc.ProcessPost(ctx, post)
		if err != nil {
			return fail(err)
		}

		switch res.Status {
		case PostSkipped:
			br.Skipped++
			continue
		case PostFailed:
			br.Failed++
			br.Failures = append(br.Failures, PostFailure{
				Title:  post.Title,
				URL:    post.URL,
				Reason: res.Reason,
			})
			r.renderer.AddError(ui.ErrorEvent{
				Board:  bc.Type.String(),
				Post:   post.Title,
				Err:    fmt.Errorf("%s", res.Reason),
				IsWarn: true,
			})
			if lowestFailed == 0 || post.BoardID < lowestFailed {
				lowestFailed = post.BoardID
			}
			continue
		}

		r.renderer.UpdateProgress(ui.ProgressEvent{
			Board:   bc.Type.String(),
			Stage:   ui.StageUpload,
			Current: i + 1,
			Total:   len(posts),
			Message: fmt.Sprintf("%d items", len(res.Items)),
		})
		docs, err := r.uploader.Upload(ctx, res.Items)
		if err != nil {
			return fail(err)
		}
		if err := r.markComplete(ctx, post); err != nil {
			return fail(err)
		}

		newDocs = append(newDocs, docs...)
		br.Ingested++
		br.Items += len(res.Items)
	}

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Board:   bc.Type.String(),
		Stage:   ui.StageRefresh,
		Message: fmt.Sprintf("%d new documents", len(newDocs)),
	})
	r.refresh(ctx, newDocs)

	// The watermark stays below any aborted post so the next range
	// includes it again; everything above it dedups by content hash.
	target := latest
	if lowestFailed > 0 {
		target = lowestFailed - 1
	}
	if !hasState || target > last {
		if err := r.state.UpdateLastProcessedID(ctx, bc.Type, target, br.Ingested); err != nil {
			return fail(err)
		}
	}

	br.Took = time.Since(started)
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Board: bc.Type.String(),
		Stage: ui.StageComplete,
	})
	r.logger.Info("board pass complete",
		slog.String("board", bc.Type.String()),
		slog.Int("range", br.Range),
		slog.Int("ingested", br.Ingested),
		slog.Int("skipped", br.Skipped),
		slog.Int("failed", br.Failed),
		slog.Int("items", br.Items),
		slog.Duration("took", br.Took))

	return br
}

// markComplete writes the completion marker that dedups this post on
// later runs. It runs only after the post's vectors were accepted.
func (r *Runner) markComplete(ctx context.Context, post *crawl.Post) error {
	marker := &store.Post{
		Title:       post.Title,
		ImageURLs:   post.ImageURLs,
		ContentHash: post.ContentHash(),
		BoardType:   post.BoardType.String(),
		Date:        postDate(post),
	}
	if err := r.docs.UpsertPost(ctx, marker); err != nil {
		return qaerrors.Wrap(qaerrors.ErrCodeStoreUnavailable, err)
	}
	return nil
}

// refresh appends new documents to the snapshot and re-warms the BM25
// corpus. Both are best-effort: the vectors are already accepted, and a
// cold start rebuilds everything from the index.
func (r *Runner) refresh(ctx context.Context, docs []snapshot.Document) {
	if len(docs) == 0 {
		return
	}
	if err := r.snapshot.Append(ctx, docs); err != nil {
		r.logger.Warn("snapshot append failed", slog.String("error", err.Error()))
		return
	}
	if err := r.lexical.Warm(ctx, r.snapshot.Documents()); err != nil {
		r.logger.Warn("bm25 warm failed", slog.String("error", err.Error()))
	}
}

func postDate(post *crawl.Post) time.Time {
	t, err := clock.ParseDate(post.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}
