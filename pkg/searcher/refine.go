package searcher

import (
	"context"
	"math"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/store"
)

// Refinement configures neighbourhood refinement of text candidates.
//
// Each candidate embedding is replaced by a weighted average of its
// Neighbors nearest embeddings, weighted by (1/(1+d))^SimilarityWeight.
// The query is expanded to the element-wise max of its own neighbours.
// The final score is (refined·query + candidate·expanded) / 2, floored at 0
// for vectors that point away from the query.
type Refinement struct {
	Neighbors        int     `yaml:"neighbors" json:"neighbors"`
	SimilarityWeight float64 `yaml:"similarity_weight" json:"similarity_weight"`
}

// DefaultRefinement returns 5 neighbours at weight 0.15.
func DefaultRefinement() Refinement {
	return Refinement{Neighbors: 5, SimilarityWeight: 0.15}
}

func (r Refinement) withDefaults() Refinement {
	d := DefaultRefinement()
	if r.Neighbors <= 0 {
		r.Neighbors = d.Neighbors
	}
	if r.SimilarityWeight <= 0 {
		r.SimilarityWeight = d.SimilarityWeight
	}
	return r
}

type neighbour struct {
	vec []float32
	sim float64
}

func (s *TextSearcher) refinedCandidates(ctx context.Context, q []float32, k int) ([]candidate, error) {
	_, indices, err := s.index.Search(ctx, q, k)
	if err != nil {
		return nil, fserrors.IndexUnavailable("text index search failed", err)
	}

	expanded, err := s.expandQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	if expanded == nil {
		return nil, nil
	}

	var cands []candidate
	for _, idx := range indices {
		if idx == store.InvalidIndex {
			continue
		}
		emb, ok, err := s.index.Vector(ctx, idx)
		if err != nil {
			return nil, fserrors.IndexUnavailable("text index vector lookup failed", err)
		}
		if !ok {
			continue
		}
		f, ok := lookup(ctx, s.frames, idx)
		if !ok {
			continue
		}

		neighbours, err := s.neighbours(ctx, emb)
		if err != nil {
			return nil, err
		}
		refined := s.pool(neighbours)
		if refined == nil {
			refined = emb
		}

		score := max(0, (dot(refined, q)+dot(emb, expanded))/2)
		cands = append(cands, candidate{frame: f, score: score, contribution: frame.Contribution{Score: score}})
	}
	return cands, nil
}

func (s *TextSearcher) neighbours(ctx context.Context, vec []float32) ([]neighbour, error) {
	distances, indices, err := s.index.Search(ctx, vec, s.refine.Neighbors)
	if err != nil {
		return nil, fserrors.IndexUnavailable("text index neighbour search failed", err)
	}
	out := make([]neighbour, 0, len(indices))
	for i, idx := range indices {
		if idx == store.InvalidIndex {
			continue
		}
		nv, ok, err := s.index.Vector(ctx, idx)
		if err != nil {
			return nil, fserrors.IndexUnavailable("text index vector lookup failed", err)
		}
		if !ok {
			continue
		}
		out = append(out, neighbour{vec: nv, sim: 1 / (1 + float64(distances[i]))})
	}
	return out, nil
}

// pool is the similarity-weighted average of neighbour embeddings.
func (s *TextSearcher) pool(ns []neighbour) []float32 {
	if len(ns) == 0 {
		return nil
	}
	out := make([]float64, len(ns[0].vec))
	var total float64
	for _, n := range ns {
		w := math.Pow(n.sim, s.refine.SimilarityWeight)
		total += w
		for i, x := range n.vec {
			out[i] += w * float64(x)
		}
	}
	if total == 0 {
		return nil
	}
	pooled := make([]float32, len(out))
	for i, x := range out {
		pooled[i] = float32(x / total)
	}
	return pooled
}

// expandQuery returns the element-wise max over the query's neighbours, or
// nil when the index has none.
func (s *TextSearcher) expandQuery(ctx context.Context, q []float32) ([]float32, error) {
	ns, err := s.neighbours(ctx, q)
	if err != nil || len(ns) == 0 {
		return nil, err
	}
	expanded := make([]float32, len(ns[0].vec))
	copy(expanded, ns[0].vec)
	for _, n := range ns[1:] {
		for i, x := range n.vec {
			if x > expanded[i] {
				expanded[i] = x
			}
		}
	}
	return expanded, nil
}

func dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
