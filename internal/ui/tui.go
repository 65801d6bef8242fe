package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// errorTail is how many recent failures stay on screen.
const errorTail = 5

// TUIRenderer renders ingestion progress with bubbletea.
type TUIRenderer struct {
	program *tea.Program
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer.
func NewTUIRenderer(cfg Config) *TUIRenderer {
	model := newTUIModel(GetStyles(cfg.NoColor || DetectNoColor()))
	return &TUIRenderer{
		program: tea.NewProgram(model, tea.WithOutput(cfg.Output)),
		done:    make(chan struct{}),
	}
}

// Start runs the bubbletea program in the background.
func (r *TUIRenderer) Start(ctx context.Context) error {
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	go func() {
		select {
		case <-ctx.Done():
			r.program.Quit()
		case <-r.done:
		}
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.program.Send(event)
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.program.Send(event)
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.program.Send(stats)
}

// Stop quits the program and waits for the final frame.
func (r *TUIRenderer) Stop() error {
	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		r.program.Kill()
	}
	return nil
}

// boardState is the last observed progress of one board.
type boardState struct {
	name    string
	stage   Stage
	current int
	total   int
	message string
}

// tuiModel is the bubbletea model for an ingestion run.
type tuiModel struct {
	styles  Styles
	bar     progress.Model
	order   []string
	boards  map[string]*boardState
	errors  []ErrorEvent
	stats   *CompletionStats
	started time.Time
}

func newTUIModel(styles Styles) *tuiModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40
	return &tuiModel{
		styles:  styles,
		bar:     bar,
		boards:  make(map[string]*boardState),
		started: time.Now(),
	}
}

// Init implements tea.Model.
func (m *tuiModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressEvent:
		b, ok := m.boards[msg.Board]
		if !ok {
			b = &boardState{name: msg.Board}
			m.boards[msg.Board] = b
			m.order = append(m.order, msg.Board)
		}
		b.stage = msg.Stage
		b.current = msg.Current
		b.total = msg.Total
		b.message = msg.Message
		return m, nil

	case ErrorEvent:
		m.errors = append(m.errors, msg)
		if len(m.errors) > errorTail {
			m.errors = m.errors[len(m.errors)-errorTail:]
		}
		return m, nil

	case CompletionStats:
		m.stats = &msg
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *tuiModel) View() string {
	var sb strings.Builder

	sb.WriteString(m.styles.Header.Render("deptqa ingest"))
	sb.WriteString(m.styles.Label.Render(fmt.Sprintf("  %s", time.Since(m.started).Round(time.Second))))
	sb.WriteString("\n\n")

	for _, name := range m.order {
		b := m.boards[name]
		line := fmt.Sprintf("%s  %s",
			m.styles.Board.Render(fmt.Sprintf("%-14s", b.name)),
			m.stageLabel(b))
		sb.WriteString(line)
		sb.WriteString("\n")

		if b.stage != StageComplete && b.total > 0 {
			sb.WriteString("  ")
			sb.WriteString(m.bar.ViewAs(float64(b.current) / float64(b.total)))
			sb.WriteString("\n")
		}
	}

	for _, e := range m.errors {
		style := m.styles.Error
		prefix := "error"
		if e.IsWarn {
			style = m.styles.Warning
			prefix = "warn"
		}
		sb.WriteString(style.Render(fmt.Sprintf("%s: %s: %v", prefix, e.Board, e.Err)))
		sb.WriteString("\n")
	}

	if m.stats != nil {
		sb.WriteString("\n")
		sb.WriteString(m.styles.Success.Render(fmt.Sprintf(
			"Complete: %d boards, %d ingested, %d skipped, %d failed, %d items in %s",
			m.stats.Boards, m.stats.Ingested, m.stats.Skipped, m.stats.Failed, m.stats.Items,
			m.stats.Duration.Round(100*time.Millisecond))))
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m *tuiModel) stageLabel(b *boardState) string {
	if b.stage == StageComplete {
		return m.styles.Stage.Render(b.stage.String())
	}
	label := b.stage.String()
	if b.total > 0 {
		label = fmt.Sprintf("%s %d/%d", label, b.current, b.total)
	}
	if b.message != "" {
		label = fmt.Sprintf("%s  %s", label, m.styles.Label.Render(b.message))
	}
	return m.styles.Active.Render(label)
}
