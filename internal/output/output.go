// Package output formats CLI messages.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Writer prints status lines, key/value sections and JSON. Colour is used
// only when the destination is a terminal and NO_COLOR is unset.
type Writer struct {
	out   io.Writer
	color bool

	ok, warn, bad, dim, head lipgloss.Style
}

// New creates a Writer for out.
func New(out io.Writer) *Writer {
	w := &Writer{out: out, color: colorable(out)}
	if w.color {
		w.ok = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
		w.warn = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
		w.bad = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		w.dim = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
		w.head = lipgloss.NewStyle().Bold(true)
	}
	return w
}

func colorable(out io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := out.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func (w *Writer) line(icon string, style lipgloss.Style, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "  %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", style.Render(icon), msg)
}

// Status prints msg after icon, or indented when icon is empty.
func (w *Writer) Status(icon, msg string) { w.line(icon, lipgloss.NewStyle(), msg) }

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a ✓ line.
func (w *Writer) Success(msg string) { w.line("✓", w.ok, msg) }

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }

// Warning prints a ! line.
func (w *Writer) Warning(msg string) { w.line("!", w.warn, msg) }

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

// Error prints a ✗ line.
func (w *Writer) Error(msg string) { w.line("✗", w.bad, msg) }

// Errorf is Error with formatting.
func (w *Writer) Errorf(format string, args ...any) { w.Error(fmt.Sprintf(format, args...)) }

// Section prints a bold heading.
func (w *Writer) Section(title string) {
	_, _ = fmt.Fprintln(w.out, w.head.Render(title))
}

// KV prints an aligned "key: value" pair under a section.
func (w *Writer) KV(key string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %s %v\n", w.dim.Render(fmt.Sprintf("%-14s", key+":")), value)
}

// Lines prints content indented by two spaces.
func (w *Writer) Lines(content string) {
	for _, l := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", l)
	}
}

// JSON prints v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Newline prints an empty line.
func (w *Writer) Newline() { _, _ = fmt.Fprintln(w.out) }
