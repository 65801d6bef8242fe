// Package output provides consistent CLI output formatting for the
// deptqa commands: status lines with icons, a JSON mode for scripting,
// and a quiet mode that keeps only errors.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Mode selects how a command talks to the terminal.
type Mode int

const (
	// ModePlain prints human-readable status lines (the default).
	ModePlain Mode = iota
	// ModeJSON prints one JSON document and nothing else.
	ModeJSON
	// ModeQuiet suppresses everything except errors.
	ModeQuiet
)

// Writer provides formatted output for CLI commands.
type Writer struct {
	out  io.Writer
	mode Mode
}

// New creates a plain-mode output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out, mode: ModePlain}
}

// NewWithMode creates a Writer in an explicit mode.
func NewWithMode(out io.Writer, mode Mode) *Writer {
	return &Writer{out: out, mode: mode}
}

// Mode reports the active output mode.
func (w *Writer) Mode() Mode {
	return w.mode
}

// Out exposes the underlying writer for raw payloads such as extracted
// text that should not pass through status formatting.
func (w *Writer) Out() io.Writer {
	return w.out
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if w.mode != ModePlain {
		return
	}
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message. Errors print in every mode except
// JSON, where the caller is expected to encode them into the document.
func (w *Writer) Error(msg string) {
	if w.mode == ModeJSON {
		return
	}
	_, _ = fmt.Fprintf(w.out, "❌ %s\n", msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// JSON encodes v as indented JSON. In plain or quiet mode it is a
// no-op so commands can call it unconditionally after their status
// lines.
func (w *Writer) JSON(v any) error {
	if w.mode != ModeJSON {
		return nil
	}
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table prints aligned key/value rows.
func (w *Writer) Table(rows [][2]string) {
	if w.mode != ModePlain {
		return
	}
	width := 0
	for _, r := range rows {
		if len(r[0]) > width {
			width = len(r[0])
		}
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(w.out, "  %-*s  %s\n", width, r[0], r[1])
	}
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	if w.mode != ModePlain {
		return
	}
	_, _ = fmt.Fprintln(w.out)
}

// Progress prints a progress bar with message, updated in place.
func (w *Writer) Progress(current, total int, msg string) {
	if w.mode != ModePlain || total <= 0 {
		return
	}

	pct := float64(current) / float64(total) * 100
	bar := renderProgressBar(current, total, 30)
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", bar, pct, msg)

	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// renderProgressBar creates a text progress bar.
func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	pct := float64(current) / float64(total)
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
