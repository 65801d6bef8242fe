package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainRendererProgress(t *testing.T) {
	// Given a plain renderer writing to a buffer
	var buf bytes.Buffer
	r := NewPlainRenderer(Config{Output: &buf})
	require.NoError(t, r.Start(context.Background()))

	// When reporting crawl progress with a message
	r.UpdateProgress(ProgressEvent{
		Board:   "notice",
		Stage:   StageCrawl,
		Current: 3,
		Total:   10,
		Message: "page 1",
	})

	// Then the line carries the icon, board, counter, and message
	assert.Equal(t, "[CRAWL] notice 3/10 - page 1\n", buf.String())
	require.NoError(t, r.Stop())
}

func TestPlainRendererProgressWithoutTotal(t *testing.T) {
	// Given a plain renderer
	var buf bytes.Buffer
	r := NewPlainRenderer(Config{Output: &buf})

	// When the event has no total but a message
	r.UpdateProgress(ProgressEvent{Board: "job", Stage: StageRefresh, Message: "snapshot"})
	// Then message-only form is used
	assert.Equal(t, "[REFRESH] job snapshot\n", buf.String())

	// When the event has neither total nor message
	buf.Reset()
	r.UpdateProgress(ProgressEvent{Board: "job", Stage: StageRefresh})
	// Then nothing is printed
	assert.Empty(t, buf.String())
}

func TestPlainRendererErrors(t *testing.T) {
	// Given a plain renderer
	var buf bytes.Buffer
	r := NewPlainRenderer(Config{Output: &buf})

	// When reporting a post-level error and a board-level warning
	r.AddError(ErrorEvent{Board: "notice", Post: "p-42", Err: errors.New("fetch timeout")})
	r.AddError(ErrorEvent{Board: "jobs", Err: errors.New("ocr unavailable"), IsWarn: true})

	// Then both lines appear with the right prefixes
	out := buf.String()
	assert.Contains(t, out, "ERROR: notice: p-42: fetch timeout\n")
	assert.Contains(t, out, "WARN: jobs: ocr unavailable\n")

	// When the run completes
	buf.Reset()
	r.Complete(CompletionStats{Boards: 2, Ingested: 5, Failed: 1, Items: 12, Duration: 1500 * time.Millisecond})

	// Then the summary includes the error and warning counts
	assert.Contains(t, buf.String(), "(1 errors, 1 warnings)")
	assert.Contains(t, buf.String(), "2 boards, 5 posts ingested, 0 skipped, 1 failed, 12 items in 1.5s")
}
