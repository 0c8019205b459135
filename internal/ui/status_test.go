package ui

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/store"
	"github.com/framescope/framescope/pkg/searcher"
)

func testStatus() StatusInfo {
	return StatusInfo{
		MetadataDir: "/data/metadata",
		Frames:      200,
		Index: store.IndexInfo{
			Backend: "hnsw", Location: "/idx/frames.hnsw", Model: "static",
			Dimensions: 512, Metric: "cos", Count: 150, SizeBytes: 3 * 1024 * 1024,
			BuiltAt: time.Now().Add(-2 * time.Hour),
		},
		Coverage:       0.75,
		EmbedderType:   "static",
		EmbedderStatus: "ready",
		Selected:       4,
	}
}

func TestStatusRenderer_Render(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, NewStatusRenderer(&buf, true).Render(testStatus()))

	out := buf.String()
	assert.Contains(t, out, "Index status: /data/metadata")
	assert.Contains(t, out, "Indexed:    150 (75%)")
	assert.Contains(t, out, "Built:      2 hours ago")
	assert.Contains(t, out, "cos, 512 dims")
	assert.Contains(t, out, "Size:     3.0 MB")
	assert.Contains(t, out, "Status:   ready")
	assert.Contains(t, out, "Selected:   4 frames")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewStatusRenderer(&buf, true).RenderJSON(testStatus()))

	var back map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, float64(200), back["frames"])
	assert.Equal(t, "hnsw", back["index"].(map[string]any)["backend"])
}

func TestFormatAge(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", FormatAge(now))
	assert.Equal(t, "1 minute ago", FormatAge(now.Add(-90*time.Second)))
	assert.Equal(t, "5 minutes ago", FormatAge(now.Add(-5*time.Minute)))
	assert.Equal(t, "3 days ago", FormatAge(now.Add(-73*time.Hour)))
	old := now.Add(-30 * 24 * time.Hour)
	assert.Equal(t, old.Format("2006-01-02 15:04"), FormatAge(old))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 GB", FormatBytes(2*1024*1024*1024))
}

func TestResultTable_Render(t *testing.T) {
	// Given: page 2 of a fused result with one selected frame
	res := &searcher.SearchResult{
		Page: 2, PerPage: 2, Total: 9, HasMore: true,
		Frames: []*frame.Frame{
			{
				Key: "L01_V001_0003", FinalScore: 0.91, Selected: true,
				Keyframe: frame.KeyframeInfo{FramePath: "keyframes/L01_V001/0003.jpg"},
				Score: frame.Score{Details: map[frame.Modality]frame.Contribution{
					frame.ModalityText: {Score: 0.8}, frame.ModalityTag: {Score: 0.5},
				}},
			},
			{Key: "L01_V001_0004", FinalScore: 0.5},
		},
	}
	var buf bytes.Buffer

	// When: rendering without colour
	require.NoError(t, NewResultTable(&buf, true).Render(res))

	// Then: ranks continue from the previous page
	out := buf.String()
	assert.Contains(t, out, "FRAME")
	assert.Contains(t, out, "L01_V001_0003")
	assert.Contains(t, out, "0.9100")
	assert.Contains(t, out, "text=0.800 tag=0.500")
	assert.Contains(t, out, "keyframes/L01_V001/0003.jpg")
	lines := strings.Split(out, "\n")
	var rank3 bool
	for _, l := range lines {
		if strings.Contains(l, "L01_V001_0003") && strings.Contains(l, " 3 ") && strings.Contains(l, "*") {
			rank3 = true
		}
	}
	assert.True(t, rank3, out)
	assert.Contains(t, out, "page 2 • 2 per page • 9 candidates • more available")
}

func TestResultTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewResultTable(&buf, true).Render(searcher.Empty(1, 20)))
	assert.Equal(t, "No frames found.\n", buf.String())
}
