package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selectionBackends(t *testing.T) map[string]SelectionStore {
	t.Helper()
	sqlite, err := NewSQLiteSelectionStore(filepath.Join(t.TempDir(), "selection.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]SelectionStore{
		"memory": NewMemorySelectionStore(),
		"sqlite": sqlite,
	}
}

func TestSelectionKeys(t *testing.T) {
	assert.Equal(t, "selected_frames:alice", SelectedKey("alice"))
	assert.Equal(t, "frame_scores:alice", ScoresKey("alice"))
}

func TestSelectionStore_SetOperations(t *testing.T) {
	for name, s := range selectionBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := SelectedKey("u1")

			// Given: two members added, one twice
			require.NoError(t, s.AddToSet(ctx, key, "L02_V001_12"))
			require.NoError(t, s.AddToSet(ctx, key, "L01_V003_7"))
			require.NoError(t, s.AddToSet(ctx, key, "L02_V001_12"))

			// Then: membership and sorted listing reflect the set
			ok, err := s.IsMember(ctx, key, "L02_V001_12")
			require.NoError(t, err)
			assert.True(t, ok)

			members, err := s.Members(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []string{"L01_V003_7", "L02_V001_12"}, members)

			// When: removing one
			require.NoError(t, s.RemoveFromSet(ctx, key, "L02_V001_12"))

			// Then: it is gone and other users are unaffected
			ok, err = s.IsMember(ctx, key, "L02_V001_12")
			require.NoError(t, err)
			assert.False(t, ok)

			other, err := s.Members(ctx, SelectedKey("u2"))
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestSelectionStore_ScoredSet(t *testing.T) {
	for name, s := range selectionBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := ScoresKey("u1")

			_, ok, err := s.Score(ctx, key, "f1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.ZAdd(ctx, key, "f1", 0.25))
			require.NoError(t, s.ZAdd(ctx, key, "f1", 0.75))

			score, ok, err := s.Score(ctx, key, "f1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 0.75, score)

			require.NoError(t, s.ZRem(ctx, key, "f1"))
			_, ok, err = s.Score(ctx, key, "f1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSelectionStore_Delete(t *testing.T) {
	for name, s := range selectionBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.AddToSet(ctx, SelectedKey("u1"), "f1"))
			require.NoError(t, s.ZAdd(ctx, ScoresKey("u1"), "f1", 1))

			require.NoError(t, s.Delete(ctx, SelectedKey("u1"), ScoresKey("u1")))

			members, err := s.Members(ctx, SelectedKey("u1"))
			require.NoError(t, err)
			assert.Empty(t, members)
			_, ok, err := s.Score(ctx, ScoresKey("u1"), "f1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMemorySelectionStore_ConcurrentToggles(t *testing.T) {
	s := NewMemorySelectionStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_ = s.AddToSet(ctx, SelectedKey(user), "f1")
			_ = s.ZAdd(ctx, ScoresKey(user), "f1", 0.5)
		}(string(rune('a' + i%26)))
	}
	wg.Wait()

	ok, err := s.IsMember(ctx, SelectedKey("a"), "f1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewSelectionStore(t *testing.T) {
	s, err := NewSelectionStore(SelectionBackendMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemorySelectionStore{}, s)

	s, err = NewSelectionStore(SelectionBackendSQLite, filepath.Join(t.TempDir(), "sel.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.IsType(t, &SQLiteSelectionStore{}, s)

	_, err = NewSelectionStore("redis", "")
	assert.Error(t, err)
}

func TestSQLiteSelectionStore_Persists(t *testing.T) {
	// Given: a selection written by one process
	path := filepath.Join(t.TempDir(), "selection.db")
	first, err := NewSQLiteSelectionStore(path)
	require.NoError(t, err)
	require.NoError(t, first.AddToSet(context.Background(), SelectedKey("u"), "f9"))
	require.NoError(t, first.Close())

	// When: reopened
	second, err := NewSQLiteSelectionStore(path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	// Then: the member is still there
	ok, err := second.IsMember(context.Background(), SelectedKey("u"), "f9")
	require.NoError(t, err)
	assert.True(t, ok)
}
