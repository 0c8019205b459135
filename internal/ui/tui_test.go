package ui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel() *buildModel {
	return newBuildModel(NewProgressTracker(), "metadata", NoColorStyles())
}

func TestBuildModel_ViewProgress(t *testing.T) {
	m := newTestModel()
	m.tracker.Apply(ProgressEvent{Stage: StageEmbedding, Current: 25, Total: 100, Frame: "L01_V002_0042"})
	m.tracker.AddError(ErrorEvent{Err: errors.New("x"), IsWarn: true})

	view := m.View()

	assert.Contains(t, view, "FrameScope index build • metadata")
	assert.Contains(t, view, "● Loading")
	assert.Contains(t, view, "○ Saving")
	assert.Contains(t, view, " 25%")
	assert.Contains(t, view, "25 / 100 frames")
	assert.Contains(t, view, "L01_V002_0042")
	assert.Contains(t, view, "1 warnings")
}

func TestBuildModel_ViewUnknownTotal(t *testing.T) {
	m := newTestModel()
	m.tracker.Apply(ProgressEvent{Stage: StageLoading})

	assert.Contains(t, m.View(), "Loading...")
}

func TestBuildModel_Update(t *testing.T) {
	m := newTestModel()

	_, cmd := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Nil(t, cmd)
	assert.Equal(t, 120, m.width)
	assert.Equal(t, 100, m.bar.Width)

	_, cmd = m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)

	_, cmd = m.Update(completeMsg(CompletionStats{Frames: 7, Vectors: 7, Backend: "hnsw", Model: "static", Dimensions: 512}))
	require.NotNil(t, cmd)
	assert.True(t, m.complete)
	view := m.View()
	assert.Contains(t, view, "Index built")
	assert.Contains(t, view, "hnsw (static, 512 dims)")
}

func TestBuildModel_Quit(t *testing.T) {
	m := newTestModel()

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	require.NotNil(t, cmd)
	assert.True(t, m.quitting)
	assert.Equal(t, "Cancelled.\n", m.View())
}
