package vectorize

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/nlp"
	"github.com/framescope/framescope/internal/query"
)

func testTable(t *testing.T) *frame.Table {
	t.Helper()
	table, err := frame.NewTable([]*frame.Frame{
		{Key: "L01_V001_1", Detection: &frame.Detection{Encoded: "a0dog b1person", Counts: map[frame.Category]int{"dog": 1, "person": 1}}, Tags: []string{"dog", "grass"}},
		{Key: "L01_V001_2", Detection: &frame.Detection{Encoded: "a0dog", Counts: map[frame.Category]int{"dog": 1}}, Tags: []string{"car", "street light"}},
		{Key: "L01_V001_3", Tags: []string{"boat"}},
	})
	require.NoError(t, err)
	return table
}

func TestVocabulary(t *testing.T) {
	v := NewVocabulary([]string{"b", "a", "b", ""})

	assert.Equal(t, []string{"a", "b"}, v.Terms())
	col, ok := v.Column("b")
	assert.True(t, ok)
	assert.Equal(t, 1, col)
	assert.False(t, v.Contains("c"))
}

func TestTFIDF_Transform(t *testing.T) {
	// Given: "x" appears in every document, "y" in one of two
	vocab := NewVocabulary([]string{"x", "y"})
	tf := FitTFIDF(vocab, [][]string{{"x", "y"}, {"x"}})

	// When: transforming a document holding both
	vec := tf.Transform([]string{"x", "y"})

	// Then: the rarer term weighs more and the vector is unit length
	idfX := math.Log(3.0/3.0) + 1
	idfY := math.Log(3.0/2.0) + 1
	norm := math.Sqrt(idfX*idfX + idfY*idfY)
	assert.InDelta(t, idfX/norm, vec[0], 1e-9)
	assert.InDelta(t, idfY/norm, vec[1], 1e-9)
	assert.InDelta(t, 1.0, vec.Norm(), 1e-9)

	assert.Empty(t, tf.Transform([]string{"unknown"}))
}

func TestObject_Vectorize(t *testing.T) {
	table := testTable(t)
	obj, err := NewObject(table)
	require.NoError(t, err)

	// Given: a query for a dog at a0
	q := query.ObjectQuery{Grid: map[frame.Cell]frame.Category{{Row: 0, Col: 'a'}: "dog"}}

	// When: vectorizing and searching the frame matrix
	vec := obj.Vectorize(q)
	hits := obj.Index().Search(vec, 0)

	// Then: both frames with a0dog match, the single-object frame first
	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].Index)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, 0, hits[1].Index)
	assert.Equal(t, 3, obj.Index().Len())
	assert.False(t, obj.Index().Has(2))
}

func TestObject_Vectorize_UnknownToken(t *testing.T) {
	obj, err := NewObject(testTable(t))
	require.NoError(t, err)

	vec := obj.Vectorize(query.ObjectQuery{Grid: map[frame.Cell]frame.Category{{Row: 6, Col: 'g'}: "cat"}})
	assert.Empty(t, vec)
}

func newTag(t *testing.T) *Tag {
	t.Helper()
	a, err := nlp.NewAnalyzer()
	require.NoError(t, err)
	tag, err := NewTag(testTable(t), a, a)
	require.NoError(t, err)
	return tag
}

func TestTag_Vectorize_StemMatch(t *testing.T) {
	tag := newTag(t)

	// When: the query uses plural forms
	res, err := tag.Vectorize(context.Background(), query.TagQuery{Text: "Cars near the street lights"})
	require.NoError(t, err)

	// Then: the singular vocabulary terms are matched, including the bigram
	assert.Equal(t, []string{"car", "street light"}, res.Terms)
	hits := tag.Index().Search(res.Vector, 0)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].Index)
}

func TestTag_Vectorize_Entities(t *testing.T) {
	tag := newTag(t)

	res, err := tag.Vectorize(context.Background(), query.TagQuery{Entities: []string{" Boat ", "unicorn"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"boat"}, res.Terms)
}

func TestTag_Vectorize_NoMatch(t *testing.T) {
	tag := newTag(t)

	res, err := tag.Vectorize(context.Background(), query.TagQuery{Text: "volcano"})
	require.NoError(t, err)
	assert.Empty(t, res.Terms)
	assert.Empty(t, res.Vector)
}

type mockNormalizer struct {
	PreprocessFn func(ctx context.Context, text string) (string, error)
}

func (m *mockNormalizer) Preprocess(ctx context.Context, text string) (string, error) {
	return m.PreprocessFn(ctx, text)
}

func (m *mockNormalizer) Parse(ctx context.Context, text string) (nlp.Parsed, error) {
	clean, err := m.PreprocessFn(ctx, text)
	return nlp.Parsed{Text: clean}, err
}

type mockEmbedder struct {
	EmbedFn func(ctx context.Context, text string) ([]float32, error)
	last    string
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.last = text
	return m.EmbedFn(ctx, text)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int                  { return 2 }
func (m *mockEmbedder) ModelName() string                { return "mock" }
func (m *mockEmbedder) Available(_ context.Context) bool { return true }
func (m *mockEmbedder) Close() error                     { return nil }

func TestText_Vectorize(t *testing.T) {
	emb := &mockEmbedder{EmbedFn: func(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }}
	a, err := nlp.NewAnalyzer()
	require.NoError(t, err)
	tv, err := NewText(a, emb)
	require.NoError(t, err)

	vec, err := tv.Vectorize(context.Background(), query.TextQuery{Text: "A dog on the grass"})
	require.NoError(t, err)

	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, "dog grass", emb.last)
	assert.Equal(t, 2, tv.Dimensions())
}

func TestText_Vectorize_Failures(t *testing.T) {
	ok := &mockEmbedder{EmbedFn: func(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }}
	failingNorm := &mockNormalizer{PreprocessFn: func(context.Context, string) (string, error) {
		return "", errors.New("translator down")
	}}
	tv, err := NewText(failingNorm, ok)
	require.NoError(t, err)

	_, err = tv.Vectorize(context.Background(), query.TextQuery{Text: "x"})
	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeVectorizerFailed))

	failingEmb := &mockEmbedder{EmbedFn: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("503")
	}}
	passthrough := &mockNormalizer{PreprocessFn: func(_ context.Context, s string) (string, error) { return s, nil }}
	tv, err = NewText(passthrough, failingEmb)
	require.NoError(t, err)

	_, err = tv.Vectorize(context.Background(), query.TextQuery{Text: "x"})
	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeVectorizerFailed))
	assert.True(t, fserrors.IsRetryable(err))
}

func TestNewText_NilDependencies(t *testing.T) {
	_, err := NewText(nil, nil)
	assert.Error(t, err)
}
