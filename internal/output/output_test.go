package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"success", func(w *Writer) { w.Successf("%d frames indexed", 3) }, "✓ 3 frames indexed\n"},
		{"warning", func(w *Writer) { w.Warning("reranker offline") }, "! reranker offline\n"},
		{"error", func(w *Writer) { w.Errorf("frame %s not found", "k1") }, "✗ frame k1 not found\n"},
		{"status", func(w *Writer) { w.Statusf("→", "page %d", 2) }, "→ page 2\n"},
		{"indented", func(w *Writer) { w.Status("", "detail") }, "  detail\n"},
		{"kv", func(w *Writer) { w.KV("weights", "0.6/0.2/0.2") }, "  weights:       0.6/0.2/0.2\n"},
		{"section", func(w *Writer) { w.Section("Selection") }, "Selection\n"},
		{"lines", func(w *Writer) { w.Lines("a\nb\n") }, "  a\n  b\n"},
		{"newline", func(w *Writer) { w.Newline() }, "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.write(New(&buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_JSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, New(&buf).JSON(map[string]int{"count": 2}))

	assert.Equal(t, "{\n  \"count\": 2\n}\n", buf.String())
}

func TestWriter_NoColorForBuffers(t *testing.T) {
	assert.False(t, New(&bytes.Buffer{}).color)
}
