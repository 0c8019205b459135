package vectorize

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/nlp"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/store"
)

// Stemmer reduces a term to its stem.
type Stemmer interface {
	Stem(term string) string
}

// TagResult is a vectorized tag query and the vocabulary terms it matched.
type TagResult struct {
	Vector store.SparseVector
	Terms  []string
}

// Tag vectorizes tag queries against the tag vocabulary. Query terms match a
// tag when their stems are equal, so "cars" finds the tag "car".
type Tag struct {
	normalizer nlp.Normalizer
	stemmer    Stemmer
	tfidf      *TFIDF
	index      *store.SparseIndex

	// byStem maps a stemmed phrase to the vocabulary terms sharing it.
	byStem map[string][]string

	// maxWords is the longest tag in words; candidate n-grams stop there.
	maxWords int
}

// NewTag fits the tag TF-IDF over every frame's tags. Each tag, including
// multi-word tags, is one vocabulary term.
func NewTag(table *frame.Table, normalizer nlp.Normalizer, stemmer Stemmer) (*Tag, error) {
	if normalizer == nil || stemmer == nil {
		return nil, fserrors.New(fserrors.ErrCodeInvalidInput, "tag vectorizer requires a normalizer and a stemmer", nil)
	}

	docs := make([][]string, table.Len())
	for i := range docs {
		f, _ := table.ByIndex(i)
		docs[i] = f.Tags
	}
	vocab := NewVocabulary(table.TagVocabulary())
	tfidf := FitTFIDF(vocab, docs)
	idx, err := tfidf.BuildIndex(docs)
	if err != nil {
		return nil, err
	}

	t := &Tag{
		normalizer: normalizer,
		stemmer:    stemmer,
		tfidf:      tfidf,
		index:      idx,
		byStem:     make(map[string][]string),
		maxWords:   1,
	}
	for _, term := range vocab.Terms() {
		s := stemmer.Stem(term)
		t.byStem[s] = append(t.byStem[s], term)
		if n := len(strings.Fields(term)); n > t.maxWords {
			t.maxWords = n
		}
	}
	slog.Debug("tag_vectorizer_fitted",
		slog.Int("frames", table.Len()),
		slog.Int("vocabulary", vocab.Len()))
	return t, nil
}

// Vectorize collects the relevant terms of the query text (word n-grams up to
// the longest tag) together with the query entities, keeps those matching a
// vocabulary term, and returns their TF-IDF vector.
func (t *Tag) Vectorize(ctx context.Context, q query.TagQuery) (TagResult, error) {
	candidates := make(map[string]struct{})
	if strings.TrimSpace(q.Text) != "" {
		parsed, err := t.normalizer.Parse(ctx, q.Text)
		if err != nil {
			return TagResult{}, fserrors.VectorizerFailed("tag query preprocessing failed", err)
		}
		for _, term := range t.ngrams(parsed.Text) {
			candidates[term] = struct{}{}
		}
		for _, e := range parsed.Entities {
			candidates[e] = struct{}{}
		}
	}
	for _, e := range q.Entities {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			candidates[e] = struct{}{}
		}
	}

	matched := make(map[string]struct{})
	for c := range candidates {
		if t.tfidf.Vocabulary().Contains(c) {
			matched[c] = struct{}{}
			continue
		}
		for _, term := range t.byStem[t.stemmer.Stem(c)] {
			matched[term] = struct{}{}
		}
	}

	terms := make([]string, 0, len(matched))
	for term := range matched {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	slog.Debug("tag_query_vectorized", slog.String("terms", strings.Join(terms, ",")))
	return TagResult{Vector: t.tfidf.Transform(terms), Terms: terms}, nil
}

func (t *Tag) ngrams(text string) []string {
	words := strings.Fields(text)
	var out []string
	for n := 1; n <= t.maxWords; n++ {
		for i := 0; i+n <= len(words); i++ {
			out = append(out, strings.Join(words[i:i+n], " "))
		}
	}
	return out
}

// Index returns the frame matrix.
func (t *Tag) Index() *store.SparseIndex { return t.index }

// Vocabulary returns the tag vocabulary.
func (t *Tag) Vocabulary() *Vocabulary { return t.tfidf.Vocabulary() }
