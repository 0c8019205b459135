package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer prints one line per event, for pipes and CI.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer

	// every is the minimum gap between two lines of the same stage.
	every   time.Duration
	last    time.Time
	lastStg Stage
	started bool
}

// NewPlainRenderer creates a plain renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, every: time.Second}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer. Lines within a stage are throttled,
// except the final one.
func (r *PlainRenderer) UpdateProgress(e ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	final := e.Total > 0 && e.Current >= e.Total
	if r.started && e.Stage == r.lastStg && !final && now.Sub(r.last) < r.every {
		return
	}
	r.started, r.lastStg, r.last = true, e.Stage, now

	msg := e.Message
	if msg == "" {
		msg = e.Frame
	}
	switch {
	case e.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n", e.Stage.Tag(), e.Current, e.Total, msg)
	case msg != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", e.Stage.Tag(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(e ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if e.IsWarn {
		prefix = "WARN"
	}
	if e.Frame != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, e.Frame, e.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, e.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(s CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d frames, %d vectors in %s", s.Frames, s.Vectors, s.Duration.Round(100*time.Millisecond))
	if s.Skipped > 0 {
		_, _ = fmt.Fprintf(r.out, ", %d skipped", s.Skipped)
	}
	if s.Errors > 0 || s.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", s.Errors, s.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)
	if s.Backend != "" {
		_, _ = fmt.Fprintf(r.out, "Backend: %s (%s, %d dims)\n", s.Backend, s.Model, s.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

var _ Renderer = (*PlainRenderer)(nil)
