package store

import (
	"context"
	"fmt"
)

// Selection key prefixes. A user's selection is a set under
// selected_frames:{user} and the persisted scores a scored set under
// frame_scores:{user}.
const (
	SelectedFramesPrefix = "selected_frames"
	FrameScoresPrefix    = "frame_scores"
)

// SelectedKey returns the set key holding a user's selection.
func SelectedKey(user string) string {
	return fmt.Sprintf("%s:%s", SelectedFramesPrefix, user)
}

// ScoresKey returns the scored-set key holding a user's persisted scores.
func ScoresKey(user string) string {
	return fmt.Sprintf("%s:%s", FrameScoresPrefix, user)
}

// SelectionStore is the set / scored-set primitive store behind user
// selections. Every method is an atomic single-key operation.
type SelectionStore interface {
	IsMember(ctx context.Context, setKey, member string) (bool, error)
	AddToSet(ctx context.Context, setKey, member string) error
	RemoveFromSet(ctx context.Context, setKey, member string) error

	// Members returns the set's members in ascending order.
	Members(ctx context.Context, setKey string) ([]string, error)

	// Score returns the member's score, or ok=false when absent.
	Score(ctx context.Context, zsetKey, member string) (score float64, ok bool, err error)
	ZAdd(ctx context.Context, zsetKey, member string, score float64) error
	ZRem(ctx context.Context, zsetKey, member string) error

	// Delete removes whole keys of either kind.
	Delete(ctx context.Context, keys ...string) error

	Close() error
}

// Selection backends.
const (
	SelectionBackendSQLite = "sqlite"
	SelectionBackendMemory = "memory"
)

// NewSelectionStore opens the named backend. path is used by sqlite only.
func NewSelectionStore(backend, path string) (SelectionStore, error) {
	switch backend {
	case SelectionBackendSQLite, "":
		return NewSQLiteSelectionStore(path)
	case SelectionBackendMemory:
		return NewMemorySelectionStore(), nil
	default:
		return nil, fmt.Errorf("unknown selection backend %q (valid: sqlite, memory)", backend)
	}
}
