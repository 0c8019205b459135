package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

func newEmbeddingsServer(t *testing.T, dims int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}

		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := make([]map[string]any, 0, len(req.Input))
		// reversed order; the client must honour index
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dims)
			vec[len(req.Input[i])%dims] = 1
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	// Given: a compatible server and batch size 2
	var calls atomic.Int64
	srv := newEmbeddingsServer(t, 4, &calls)
	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "clip-text", Dimensions: 4, BatchSize: 2})
	require.NoError(t, err)

	// When: embedding three texts
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	// Then: two requests were made and order follows input
	assert.Equal(t, int64(2), calls.Load())
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{0, 1, 0, 0}, vecs[0])
	assert.Equal(t, []float32{0, 0, 1, 0}, vecs[1])
	assert.Equal(t, []float32{0, 0, 0, 1}, vecs[2])
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbeddingsServer(t, 3, &calls)
	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", Dimensions: 4})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "dog")
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestOpenAIEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", Dimensions: 4})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "dog")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestNewOpenAIEmbedder_Validation(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{Dimensions: 4})
	assert.Error(t, err)

	_, err = NewOpenAIEmbedder(OpenAIConfig{Model: "m"})
	assert.Error(t, err)
}
