package vectorize

import (
	"log/slog"
	"strings"

	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/store"
)

// Object vectorizes object queries against the grid-token vocabulary of the
// frame table. Row i of its index is the frame at table position i.
type Object struct {
	tfidf *TFIDF
	index *store.SparseIndex
}

// NewObject fits the grid-token TF-IDF over every frame's encoded detection.
func NewObject(table *frame.Table) (*Object, error) {
	docs := make([][]string, table.Len())
	var terms []string
	for i := range docs {
		f, _ := table.ByIndex(i)
		docs[i] = f.Detection.Tokens()
		terms = append(terms, docs[i]...)
	}

	tfidf := FitTFIDF(NewVocabulary(terms), docs)
	idx, err := tfidf.BuildIndex(docs)
	if err != nil {
		return nil, err
	}
	slog.Debug("object_vectorizer_fitted",
		slog.Int("frames", table.Len()),
		slog.Int("vocabulary", tfidf.Vocabulary().Len()))
	return &Object{tfidf: tfidf, index: idx}, nil
}

// Vectorize maps the query's grid tokens into the vocabulary. Tokens no frame
// carries are dropped, so the result may be empty.
func (o *Object) Vectorize(q query.ObjectQuery) store.SparseVector {
	tokens := q.Tokens()
	slog.Debug("object_query_vectorized", slog.String("tokens", strings.Join(tokens, " ")))
	return o.tfidf.Transform(tokens)
}

// Index returns the frame matrix.
func (o *Object) Index() *store.SparseIndex { return o.index }

// Vocabulary returns the grid-token vocabulary.
func (o *Object) Vocabulary() *Vocabulary { return o.tfidf.Vocabulary() }
