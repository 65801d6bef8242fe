package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer outputs plain text progress for cron runs, pipes,
// and CI.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors int
	warns  int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Format: [STAGE] board current/total - message
	switch {
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %s %d/%d", event.Stage.Icon(), event.Board, event.Current, event.Total)
		if event.Message != "" {
			_, _ = fmt.Fprintf(r.out, " - %s", event.Message)
		}
		_, _ = fmt.Fprintln(r.out)
	case event.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s %s\n", event.Stage.Icon(), event.Board, event.Message)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
		r.warns++
	} else {
		r.errors++
	}

	if event.Post != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %s: %v\n", prefix, event.Board, event.Post, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Board, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d boards, %d posts ingested, %d skipped, %d failed, %d items in %s",
		stats.Boards, stats.Ingested, stats.Skipped, stats.Failed, stats.Items,
		stats.Duration.Round(100*time.Millisecond))

	if r.errors > 0 || r.warns > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", r.errors, r.warns)
	}
	_, _ = fmt.Fprintln(r.out)
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
