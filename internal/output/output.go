// Package output provides consistent CLI output formatting for bulk
// operations: tagged status lines and an in-place progress bar.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Writer provides formatted output for CLI commands.
type Writer struct {
	out io.Writer
	// interactive enables in-place progress updates; when false,
	// progress lines are suppressed so logs stay clean.
	interactive bool
}

// New creates a Writer. interactive should be true only when out is a
// terminal.
func New(out io.Writer, interactive bool) *Writer {
	return &Writer{out: out, interactive: interactive}
}

// Line prints a plain line.
func (w *Writer) Line(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format+"\n", args...)
}

// Status prints a tagged status line.
// Write errors are intentionally ignored for console output.
func (w *Writer) Status(tag, format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, "[%s] %s\n", tag, fmt.Sprintf(format, args...))
}

// Success prints an ok-tagged line.
func (w *Writer) Success(format string, args ...any) {
	w.Status("ok", format, args...)
}

// Warning prints a warn-tagged line.
func (w *Writer) Warning(format string, args ...any) {
	w.Status("warn", format, args...)
}

// Error prints a fail-tagged line.
func (w *Writer) Error(format string, args ...any) {
	w.Status("fail", format, args...)
}

// Progress renders an in-place progress bar. No-op when the writer is
// not interactive.
func (w *Writer) Progress(current, total int, msg string) {
	if !w.interactive || total <= 0 {
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

	filled := int(float64(current) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
