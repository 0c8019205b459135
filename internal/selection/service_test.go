package selection

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/store"
)

func newTable(t *testing.T, keys ...string) *frame.Table {
	t.Helper()
	frames := make([]*frame.Frame, len(keys))
	for i, k := range keys {
		frames[i] = &frame.Frame{Key: k, Keyframe: frame.KeyframeInfo{FramePath: "keyframes/" + k + ".jpg"}}
	}
	table, err := frame.NewTable(frames)
	require.NoError(t, err)
	return table
}

func newService(t *testing.T) *Service {
	t.Helper()
	sqlite, err := store.NewSQLiteSelectionStore(filepath.Join(t.TempDir(), "selection.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	svc, err := NewService(sqlite, newTable(t, "L01_V001_3", "L01_V001_12", "L02_V004_1"))
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil)
	assert.Error(t, err)
}

func TestService_Toggle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	// Given: a frame selected with a score
	on, err := svc.Toggle(ctx, "alice", "L01_V001_12", 0.82)
	require.NoError(t, err)
	assert.True(t, on)

	frames, err := svc.Selected(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Selected)
	assert.InDelta(t, 0.82, frames[0].FinalScore, 1e-12)

	// When: toggling it again
	on, err = svc.Toggle(ctx, "alice", "L01_V001_12", 0.5)
	require.NoError(t, err)

	// Then: it is deselected and its score dropped
	assert.False(t, on)
	frames, err = svc.Selected(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestService_Toggle_Errors(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Toggle(ctx, "", "L01_V001_3", 1)
	assert.ErrorIs(t, err, ErrNoUser)

	_, err = svc.Toggle(ctx, "alice", "L09_V999_1", 1)
	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeFrameNotFound))
}

func TestService_Selected_OrderAndIsolation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	for _, key := range []string{"L02_V004_1", "L01_V001_3", "L01_V001_12"} {
		_, err := svc.Toggle(ctx, "alice", key, 0.1)
		require.NoError(t, err)
	}
	_, err := svc.Toggle(ctx, "bob", "L01_V001_3", 0.9)
	require.NoError(t, err)

	alice, err := svc.Selected(ctx, "alice")
	require.NoError(t, err)
	bob, err := svc.Selected(ctx, "bob")
	require.NoError(t, err)

	assert.Equal(t, []string{"L01_V001_12", "L01_V001_3", "L02_V004_1"}, keys(alice))
	assert.Equal(t, []string{"L01_V001_3"}, keys(bob))
}

func TestService_Clear(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, err := svc.Toggle(ctx, "alice", "L01_V001_3", 0.4)
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx, "alice"))

	frames, err := svc.Selected(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.ErrorIs(t, svc.Clear(ctx, ""), ErrNoUser)
}

func TestService_Annotate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, err := svc.Toggle(ctx, "alice", "L01_V001_3", 0.4)
	require.NoError(t, err)

	results := []*frame.Frame{
		{Key: "L01_V001_3", FinalScore: 0.9},
		{Key: "L02_V004_1", FinalScore: 0.7, Selected: true},
	}
	require.NoError(t, svc.Annotate(ctx, "alice", results))

	assert.True(t, results[0].Selected)
	assert.False(t, results[1].Selected)
	assert.InDelta(t, 0.9, results[0].FinalScore, 1e-12)
}

func TestService_ExportCSV(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	for _, key := range []string{"L02_V004_1", "L01_V001_3"} {
		_, err := svc.Toggle(ctx, "alice", key, 1)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	n, err := svc.ExportCSV(ctx, &buf, "alice")

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t,
		"frame_id,frame_path\nL01_V001_3,keyframes/L01_V001_3.jpg\nL02_V004_1,keyframes/L02_V004_1.jpg\n",
		buf.String())
}

func TestService_SaveCSV(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, err := svc.Toggle(ctx, "alice", "L01_V001_12", 1)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "out", "results.csv")

	n, err := svc.SaveCSV(ctx, path, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "L01_V001_12,keyframes/L01_V001_12.jpg")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type failingStore struct {
	store.SelectionStore
}

func (failingStore) IsMember(context.Context, string, string) (bool, error) {
	return false, errors.New("database is locked")
}

func TestService_StoreFailure(t *testing.T) {
	svc, err := NewService(failingStore{}, newTable(t, "a"))
	require.NoError(t, err)

	_, err = svc.Toggle(context.Background(), "alice", "a", 1)

	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeSelectionStore))
}

func keys(frames []*frame.Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Key
	}
	return out
}
