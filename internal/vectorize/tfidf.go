// Package vectorize turns per-modality queries into the vectors their indexes
// search over: dense text embeddings, and TF-IDF sparse vectors over the
// object-grid and tag vocabularies.
package vectorize

import (
	"math"
	"sort"

	"github.com/framescope/framescope/internal/store"
)

// Vocabulary maps terms to sparse vector columns. Columns follow the sorted
// term order, so a vocabulary built from the same terms is stable across runs.
type Vocabulary struct {
	terms   []string
	columns map[string]int
}

// NewVocabulary builds a vocabulary from terms, deduplicating them.
func NewVocabulary(terms []string) *Vocabulary {
	seen := make(map[string]struct{}, len(terms))
	sorted := make([]string, 0, len(terms))
	for _, t := range terms {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)

	cols := make(map[string]int, len(sorted))
	for i, t := range sorted {
		cols[t] = i
	}
	return &Vocabulary{terms: sorted, columns: cols}
}

// Column returns the column of term.
func (v *Vocabulary) Column(term string) (int, bool) {
	c, ok := v.columns[term]
	return c, ok
}

// Contains reports whether term is in the vocabulary.
func (v *Vocabulary) Contains(term string) bool {
	_, ok := v.columns[term]
	return ok
}

// Terms returns the terms in column order.
func (v *Vocabulary) Terms() []string {
	out := make([]string, len(v.terms))
	copy(out, v.terms)
	return out
}

func (v *Vocabulary) Len() int { return len(v.terms) }

// TFIDF weights term counts by smoothed inverse document frequency,
// idf = ln((1+N)/(1+df)) + 1, and L2-normalizes each vector.
type TFIDF struct {
	vocab *Vocabulary
	idf   []float64
}

// FitTFIDF learns document frequencies from docs. Terms outside vocab are ignored.
func FitTFIDF(vocab *Vocabulary, docs [][]string) *TFIDF {
	df := make([]int, vocab.Len())
	for _, doc := range docs {
		seen := make(map[int]struct{})
		for _, term := range doc {
			col, ok := vocab.Column(term)
			if !ok {
				continue
			}
			if _, dup := seen[col]; dup {
				continue
			}
			seen[col] = struct{}{}
			df[col]++
		}
	}

	n := float64(len(docs))
	idf := make([]float64, vocab.Len())
	for col, d := range df {
		idf[col] = math.Log((1+n)/(1+float64(d))) + 1
	}
	return &TFIDF{vocab: vocab, idf: idf}
}

// Vocabulary returns the fitted vocabulary.
func (t *TFIDF) Vocabulary() *Vocabulary { return t.vocab }

// Transform returns the normalized TF-IDF vector of a document. A document
// with no known terms yields an empty vector.
func (t *TFIDF) Transform(doc []string) store.SparseVector {
	vec := make(store.SparseVector)
	for _, term := range doc {
		if col, ok := t.vocab.Column(term); ok {
			vec[col] += t.idf[col]
		}
	}
	norm := vec.Norm()
	if norm == 0 {
		return vec
	}
	for col := range vec {
		vec[col] /= norm
	}
	return vec
}

// BuildIndex transforms docs in order into a sparse index whose row i is doc i.
func (t *TFIDF) BuildIndex(docs [][]string) (*store.SparseIndex, error) {
	idx := store.NewSparseIndex(t.vocab.Len())
	for _, doc := range docs {
		if _, err := idx.Append(t.Transform(doc)); err != nil {
			return nil, err
		}
	}
	return idx, nil
}
