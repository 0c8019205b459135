// Package search fuses per-modality searcher results into one ranking.
// Results are combined with weighted Reciprocal Rank Fusion (RRF), min-max
// normalized, reranked and paginated by Service.
package search

import (
	"log/slog"
	"math"

	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/pkg/searcher"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// Fusion merges modality results using weighted RRF.
//
// Algorithm: fused(f) = Σ w_m * (1/(K + rank_m) + score_m)
//
// Where:
//   - K = smoothing constant (default: 60)
//   - rank_m = 1-based position of f in modality m's result list
//   - score_m = the modality's raw score for f
//   - w_m = normalized weight of m; modalities with w_m <= 0 are skipped
type Fusion struct {
	K float64
}

// NewFusion creates a fusion with K=60.
func NewFusion() *Fusion {
	return &Fusion{K: DefaultRRFConstant}
}

// NewFusionWithK creates a fusion with a custom constant.
// If k <= 0, defaults to 60.
func NewFusionWithK(k float64) *Fusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fusion{K: k}
}

// Merge joins results by frame key and scores every merged frame.
//
// Each merged frame is a clone with a fresh score whose details hold one
// {rank, score} entry per contributing modality. Fused scores are min-max
// normalized to [0,1]; when all are equal every frame gets 1.0. Weights come
// from qs and are normalized first; an all-zero sum is left as is, which
// makes every fused score 0 before normalization.
func (f *Fusion) Merge(results map[frame.Modality]*searcher.SearchResult, qs query.Structure) map[string]*frame.Frame {
	merged := collect(results)
	if len(merged) == 0 {
		return merged
	}

	weights := query.Normalize(qs.Weights().Map())

	fused := make(map[string]float64, len(merged))
	lo, hi := math.Inf(1), math.Inf(-1)
	for key, fr := range merged {
		var score float64
		for m, c := range fr.Score.Details {
			w := weights[m]
			if w <= 0 {
				continue
			}
			score += w * (1/(f.K+float64(c.Rank)) + c.Score)
		}
		fused[key] = score
		lo = math.Min(lo, score)
		hi = math.Max(hi, score)
	}

	for key, fr := range merged {
		if hi == lo {
			fr.SetFinalScore(1)
			continue
		}
		fr.SetFinalScore((fused[key] - lo) / (hi - lo))
	}

	slog.Debug("fusion_complete",
		slog.Int("frames", len(merged)),
		slog.Float64("k", f.K),
		slog.Float64("min", lo),
		slog.Float64("max", hi))
	return merged
}

// collect clones every frame once, keyed by frame key, and records each
// modality's 1-based rank and raw score.
func collect(results map[frame.Modality]*searcher.SearchResult) map[string]*frame.Frame {
	merged := make(map[string]*frame.Frame)
	for _, m := range frame.Modalities() {
		res, ok := results[m]
		if !ok || res == nil {
			continue
		}
		for i, fr := range res.Frames {
			entry, seen := merged[fr.Key]
			if !seen {
				entry = fr.Clone()
				entry.ResetScore()
				merged[fr.Key] = entry
			}
			in := fr.Score.Details[m]
			entry.Score.Details[m] = frame.Contribution{
				Rank:  i + 1,
				Score: fr.Score.Value,
				Boost: in.Boost,
			}
		}
	}
	return merged
}

// LateFusion merges results without scoring: details record each
// modality's raw value and Score.Value stays 0. It backs explain output.
type LateFusion struct{}

// Merge joins results by frame key.
func (LateFusion) Merge(results map[frame.Modality]*searcher.SearchResult) map[string]*frame.Frame {
	merged := collect(results)
	for _, fr := range merged {
		for m, c := range fr.Score.Details {
			fr.Score.Details[m] = frame.Contribution{Score: c.Score, Boost: c.Boost}
		}
	}
	return merged
}
