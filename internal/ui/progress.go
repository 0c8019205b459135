package ui

import (
	"sync"
	"time"
)

// etaSmoothing is the weight of the newest ETA estimate.
const etaSmoothing = 0.3

// ProgressTracker keeps the build state shown by the TUI. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu         sync.Mutex
	stage      Stage
	current    int
	total      int
	frame      string
	start      time.Time
	stageStart time.Time
	lastETA    time.Duration
	errors     int
	warnings   int
}

// ProgressStats is a snapshot of the tracker.
type ProgressStats struct {
	Stage    Stage
	Current  int
	Total    int
	Progress float64
	ETA      time.Duration
	Rate     float64
	Frame    string
	Errors   int
	Warnings int
}

// NewProgressTracker starts tracking at the loading stage.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{stage: StageLoading, start: now, stageStart: now}
}

// Apply records a progress event, resetting counters on a stage change.
func (p *ProgressTracker) Apply(e ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Stage != p.stage {
		p.stage = e.Stage
		p.stageStart = time.Now()
		p.lastETA = 0
		p.frame = ""
	}
	p.current = e.Current
	p.total = e.Total
	if e.Frame != "" {
		p.frame = e.Frame
	}
}

// AddError counts an error or warning.
func (p *ProgressTracker) AddError(e ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Elapsed returns the time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	return time.Since(p.start)
}

// Stats returns a snapshot. The ETA is exponentially smoothed.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := ProgressStats{
		Stage:    p.stage,
		Current:  p.current,
		Total:    p.total,
		Frame:    p.frame,
		Errors:   p.errors,
		Warnings: p.warnings,
	}
	if p.total > 0 {
		s.Progress = min(float64(p.current)/float64(p.total), 1)
	}
	if elapsed := time.Since(p.stageStart); elapsed > 0 && p.current > 0 {
		s.Rate = float64(p.current) / elapsed.Seconds()
	}
	s.ETA = p.eta(s.Progress)
	return s
}

func (p *ProgressTracker) eta(progress float64) time.Duration {
	if progress <= 0 || progress >= 1 {
		return 0
	}
	elapsed := time.Since(p.stageStart)
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	p.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}
