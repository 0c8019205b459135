package search

import (
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
)

// Config configures the search service.
type Config struct {
	// DefaultPerPage is used when a caller passes per_page 0 (default: 20).
	DefaultPerPage int

	// MaxPerPage caps per_page (default: 100).
	MaxPerPage int

	// MaxDepth rejects requests whose page*per_page exceeds it (default: 10000).
	MaxDepth int

	// RRFConstant is the fusion constant K (default: 60).
	RRFConstant float64

	// DefaultWeights apply when a structure is built without explicit weights.
	DefaultWeights query.Weights
}

// DefaultWeights returns the default modality weights.
func DefaultWeights() query.Weights {
	return query.Weights{Text: 0.6, Object: 0.2, Tag: 0.2}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultPerPage: 20,
		MaxPerPage:     100,
		MaxDepth:       10_000,
		RRFConstant:    DefaultRRFConstant,
		DefaultWeights: DefaultWeights(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultPerPage <= 0 {
		c.DefaultPerPage = d.DefaultPerPage
	}
	if c.MaxPerPage <= 0 {
		c.MaxPerPage = d.MaxPerPage
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.DefaultPerPage > c.MaxPerPage {
		c.DefaultPerPage = c.MaxPerPage
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = d.RRFConstant
	}
	return c
}

// Explanation is the per-modality breakdown of a search, for inspection.
type Explanation struct {
	// Modalities lists the dispatched modalities.
	Modalities []frame.Modality `json:"modalities"`

	// Counts is the number of frames each modality returned.
	Counts map[frame.Modality]int `json:"counts"`

	// Weights are the normalized fusion weights.
	Weights query.Weights `json:"weights"`

	RRFConstant float64 `json:"rrf_constant"`

	// Frames holds the late-fusion merge: raw per-modality values, no fused score.
	Frames map[string]*frame.Frame `json:"frames"`
}
