// Package selection tracks the keyframes each user has picked from search
// results and exports them for submission.
package selection

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/store"
)

// ErrNoUser is returned when an operation is called without a user id.
var ErrNoUser = errors.New("user id is required")

// FrameLookup resolves frame keys to frames.
type FrameLookup interface {
	ByKey(key string) (*frame.Frame, bool)
}

// Service toggles, lists and exports user selections. The underlying store
// holds two keys per user: the set of selected frame keys and the scored
// set of their scores at selection time.
type Service struct {
	store  store.SelectionStore
	frames FrameLookup
}

// NewService creates a selection service.
func NewService(s store.SelectionStore, frames FrameLookup) (*Service, error) {
	if s == nil || frames == nil {
		return nil, fmt.Errorf("selection: store and frame lookup are required")
	}
	return &Service{store: s, frames: frames}, nil
}

// Toggle flips the selection of key for user and returns the new state.
// Selecting persists score; deselecting drops it.
func (s *Service) Toggle(ctx context.Context, user, key string, score float64) (bool, error) {
	if user == "" {
		return false, ErrNoUser
	}
	if _, ok := s.frames.ByKey(key); !ok {
		return false, fserrors.FrameNotFound(fmt.Sprintf("frame %q not found", key))
	}

	setKey, scoreKey := store.SelectedKey(user), store.ScoresKey(user)
	selected, err := s.store.IsMember(ctx, setKey, key)
	if err != nil {
		return false, storeErr("read selection", err)
	}

	if selected {
		if err := s.store.RemoveFromSet(ctx, setKey, key); err != nil {
			return false, storeErr("deselect frame", err)
		}
		if err := s.store.ZRem(ctx, scoreKey, key); err != nil {
			return false, storeErr("drop frame score", err)
		}
	} else {
		if err := s.store.AddToSet(ctx, setKey, key); err != nil {
			return false, storeErr("select frame", err)
		}
		if err := s.store.ZAdd(ctx, scoreKey, key, score); err != nil {
			return false, storeErr("store frame score", err)
		}
	}

	slog.Info("selection_toggled",
		slog.String("user", user),
		slog.String("frame", key),
		slog.Bool("selected", !selected))
	return !selected, nil
}

// Selected returns the user's frames in ascending key order with Selected
// set and FinalScore holding the persisted score. Keys that no longer
// resolve are skipped.
func (s *Service) Selected(ctx context.Context, user string) ([]*frame.Frame, error) {
	if user == "" {
		return nil, ErrNoUser
	}
	keys, err := s.store.Members(ctx, store.SelectedKey(user))
	if err != nil {
		return nil, storeErr("list selection", err)
	}

	frames := make([]*frame.Frame, 0, len(keys))
	for _, key := range keys {
		f, ok := s.frames.ByKey(key)
		if !ok {
			slog.Warn("selected_frame_missing", slog.String("user", user), slog.String("frame", key))
			continue
		}
		score, _, err := s.store.Score(ctx, store.ScoresKey(user), key)
		if err != nil {
			return nil, storeErr("read frame score", err)
		}
		f.Selected = true
		f.FinalScore = score
		frames = append(frames, f)
	}
	return frames, nil
}

// Clear drops the user's whole selection.
func (s *Service) Clear(ctx context.Context, user string) error {
	if user == "" {
		return ErrNoUser
	}
	if err := s.store.Delete(ctx, store.SelectedKey(user), store.ScoresKey(user)); err != nil {
		return storeErr("clear selection", err)
	}
	slog.Info("selection_cleared", slog.String("user", user))
	return nil
}

// Annotate sets the Selected flag on frames from the user's selection.
// Scores are left untouched.
func (s *Service) Annotate(ctx context.Context, user string, frames []*frame.Frame) error {
	if user == "" || len(frames) == 0 {
		return nil
	}
	setKey := store.SelectedKey(user)
	for _, f := range frames {
		ok, err := s.store.IsMember(ctx, setKey, f.Key)
		if err != nil {
			return storeErr("read selection", err)
		}
		f.Selected = ok
	}
	return nil
}

// ExportCSV writes the user's selection as frame_id,frame_path rows with a
// header line.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, user string) (int, error) {
	frames, err := s.Selected(ctx, user)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"frame_id", "frame_path"}); err != nil {
		return 0, err
	}
	for _, f := range frames {
		if err := cw.Write([]string{f.Key, f.Keyframe.FramePath}); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(frames), cw.Error()
}

// SaveCSV exports the selection to path, replacing the file atomically.
func (s *Service) SaveCSV(ctx context.Context, path, user string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create results dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".results-*.csv")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := s.ExportCSV(ctx, tmp, user)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write results: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("replace results: %w", err)
	}

	slog.Info("selection_exported", slog.String("user", user), slog.String("path", path), slog.Int("frames", n))
	return n, nil
}

func storeErr(op string, err error) error {
	return fserrors.New(fserrors.ErrCodeSelectionStore, op, err)
}
