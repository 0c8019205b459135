package vectorize

import (
	"context"
	"log/slog"

	"github.com/framescope/framescope/internal/embed"
	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/nlp"
	"github.com/framescope/framescope/internal/query"
)

// Text normalizes query text and embeds it into the dense text space.
type Text struct {
	normalizer nlp.Normalizer
	embedder   embed.Embedder
}

// NewText wires a normalizer to an embedder.
func NewText(normalizer nlp.Normalizer, embedder embed.Embedder) (*Text, error) {
	if normalizer == nil || embedder == nil {
		return nil, fserrors.New(fserrors.ErrCodeInvalidInput, "text vectorizer requires a normalizer and an embedder", nil)
	}
	return &Text{normalizer: normalizer, embedder: embedder}, nil
}

// Vectorize returns the embedding of the preprocessed query text. Failures
// of either step surface as VectorizerFailed.
func (t *Text) Vectorize(ctx context.Context, q query.TextQuery) ([]float32, error) {
	clean, err := t.normalizer.Preprocess(ctx, q.Text)
	if err != nil {
		return nil, fserrors.VectorizerFailed("text query preprocessing failed", err)
	}
	if clean == "" {
		// every token was a stop word; embed the raw text instead
		clean = q.Text
	}
	slog.Debug("text_query_preprocessed", slog.String("query", clean))

	vec, err := t.embedder.Embed(ctx, clean)
	if err != nil {
		return nil, fserrors.VectorizerFailed("text query embedding failed", err)
	}
	return vec, nil
}

// Dimensions returns the embedding width.
func (t *Text) Dimensions() int { return t.embedder.Dimensions() }

// Embedder returns the underlying encoder.
func (t *Text) Embedder() embed.Embedder { return t.embedder }
