package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/framescope/framescope/internal/store"
)

// StatusInfo describes the state of the frame table and its index.
type StatusInfo struct {
	MetadataDir string          `json:"metadata_dir"`
	Frames      int             `json:"frames"`
	Index       store.IndexInfo `json:"index"`

	// Coverage is Index.Count / Frames.
	Coverage float64 `json:"coverage"`

	EmbedderType   string `json:"embedder_type"`
	EmbedderStatus string `json:"embedder_status"` // ready, offline or error
	Selected       int    `json:"selected"`
}

// StatusRenderer prints StatusInfo.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render prints the status as a text panel.
func (r *StatusRenderer) Render(info StatusInfo) error {
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(r.out, format, args...) }

	p("%s\n\n", r.styles.Header.Render("Index status: "+info.MetadataDir))
	p("  Frames:     %d\n", info.Frames)
	p("  Indexed:    %d (%.0f%%)\n", info.Index.Count, info.Coverage*100)
	if !info.Index.BuiltAt.IsZero() {
		p("  Built:      %s\n", FormatAge(info.Index.BuiltAt))
	}
	p("\n  Index:\n")
	p("    Backend:  %s\n", info.Index.Backend)
	p("    Location: %s\n", info.Index.Location)
	p("    Metric:   %s, %d dims\n", info.Index.Metric, info.Index.Dimensions)
	if info.Index.SizeBytes > 0 {
		p("    Size:     %s\n", FormatBytes(info.Index.SizeBytes))
	}
	p("\n  Embedder:\n")
	p("    Type:     %s\n", info.EmbedderType)
	if info.Index.Model != "" {
		p("    Model:    %s\n", info.Index.Model)
	}
	p("    Status:   %s\n", r.status(info.EmbedderStatus))
	if info.Selected > 0 {
		p("\n  Selected:   %d frames\n", info.Selected)
	}
	return nil
}

// RenderJSON prints the status as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) status(s string) string {
	switch s {
	case "ready":
		return r.styles.Success.Render(s)
	case "offline":
		return r.styles.Warning.Render(s)
	case "error":
		return r.styles.Error.Render(s)
	default:
		return s
	}
}

// FormatAge renders t relative to now, or as a date beyond a week.
func FormatAge(t time.Time) string {
	d := time.Since(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
