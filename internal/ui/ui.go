// Package ui renders ingestion progress in the terminal: a bubbletea
// TUI on interactive terminals and plain line output for cron runs,
// pipes, and CI.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents one phase of a board ingestion pass.
type Stage int

const (
	// StageCrawl is post enumeration and page extraction.
	StageCrawl Stage = iota
	// StageProcess is chunking plus image/attachment extraction.
	StageProcess
	// StageUpload is embedding and vector upsert.
	StageUpload
	// StageRefresh is the snapshot append and BM25 re-warm.
	StageRefresh
	// StageComplete indicates the board pass finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageCrawl:
		return "Crawling"
	case StageProcess:
		return "Processing"
	case StageUpload:
		return "Uploading"
	case StageRefresh:
		return "Refreshing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage icon for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageCrawl:
		return "CRAWL"
	case StageProcess:
		return "PROC"
	case StageUpload:
		return "UPLOAD"
	case StageRefresh:
		return "REFRESH"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a progress update within one board pass.
type ProgressEvent struct {
	Board   string
	Stage   Stage
	Current int
	Total   int
	Message string
}

// ErrorEvent represents a failure during ingestion.
type ErrorEvent struct {
	Board  string
	Post   string
	Err    error
	IsWarn bool
}

// CompletionStats contains final run statistics.
type CompletionStats struct {
	Boards   int
	Ingested int
	Skipped  int
	Failed   int
	Items    int
	Duration time.Duration
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
}

// NewRenderer creates a renderer for the environment: a TUI on
// interactive terminals, plain lines for pipes and CI.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	return NewTUIRenderer(cfg)
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
