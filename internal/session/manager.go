package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/framescope/framescope/internal/query"
)

// DefaultMaxSessions caps the sessions kept per storage directory.
const DefaultMaxSessions = 20

var (
	// ErrNotFound is returned for a session name with no stored file.
	ErrNotFound = errors.New("session not found")

	// ErrForeignSession is returned when opening another user's session.
	ErrForeignSession = errors.New("session belongs to another user")

	// ErrLimitReached is returned when a new session would exceed MaxSessions.
	ErrLimitReached = errors.New("session limit reached")
)

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// StoragePath holds one directory per session.
	StoragePath string

	MaxSessions int

	// DefaultWeights seeds new sessions.
	DefaultWeights query.Weights
}

// Manager creates, loads and expires sessions under one directory.
type Manager struct {
	storagePath string
	maxSessions int
	weights     query.Weights
	now         func() time.Time
}

// NewManager creates the storage directory if needed.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.StoragePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("create session storage: %w", err)
	}
	limit := cfg.MaxSessions
	if limit <= 0 {
		limit = DefaultMaxSessions
	}
	return &Manager{
		storagePath: cfg.StoragePath,
		maxSessions: limit,
		weights:     cfg.DefaultWeights,
		now:         time.Now,
	}, nil
}

// Open returns the named session, creating it for user when absent.
func (m *Manager) Open(name, user string) (*Session, error) {
	if err := ValidateSessionName(name); err != nil {
		return nil, fmt.Errorf("invalid session name: %w", err)
	}

	if m.Exists(name) {
		sess, err := LoadSession(m.SessionDir(name))
		if err != nil {
			return nil, err
		}
		if user != "" && sess.User != user {
			return nil, fmt.Errorf("%w: %s is owned by %s", ErrForeignSession, name, sess.User)
		}
		return sess, nil
	}

	names, err := m.names()
	if err != nil {
		return nil, err
	}
	if len(names) >= m.maxSessions {
		return nil, fmt.Errorf("%w (%d); delete or prune old sessions", ErrLimitReached, m.maxSessions)
	}

	sess := NewSession(name, user, m.SessionDir(name), m.weights)
	if err := SaveSession(sess); err != nil {
		return nil, err
	}
	slog.Info("session_created",
		slog.String("name", name),
		slog.String("user", user),
		slog.String("id", sess.ID))
	return sess, nil
}

// Save persists the session and marks it used.
func (m *Manager) Save(sess *Session) error {
	sess.Touch()
	if sess.SessionDir == "" {
		sess.SessionDir = m.SessionDir(sess.Name)
	}
	return SaveSession(sess)
}

// Get loads a session without touching it.
func (m *Manager) Get(name string) (*Session, error) {
	if !m.Exists(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return LoadSession(m.SessionDir(name))
}

// List returns every readable session, most recently used first. Corrupt
// sessions are skipped.
func (m *Manager) List() ([]*Info, error) {
	names, err := m.names()
	if err != nil {
		return nil, err
	}

	infos := make([]*Info, 0, len(names))
	for _, name := range names {
		dir := m.SessionDir(name)
		sess, err := LoadSession(dir)
		if err != nil {
			slog.Debug("session_skipped", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		infos = append(infos, sess.ToInfo(dirSize(dir)))
	}
	slices.SortStableFunc(infos, func(a, b *Info) int {
		return b.LastUsed.Compare(a.LastUsed)
	})
	return infos, nil
}

// Delete removes a session directory.
func (m *Manager) Delete(name string) error {
	if !m.Exists(name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return os.RemoveAll(m.SessionDir(name))
}

// Prune deletes sessions idle for longer than olderThan and returns the
// number removed.
func (m *Manager) Prune(olderThan time.Duration) (int, error) {
	infos, err := m.List()
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-olderThan)
	n := 0
	for _, info := range infos {
		if !info.LastUsed.Before(cutoff) {
			continue
		}
		if err := m.Delete(info.Name); err != nil {
			slog.Warn("session_prune_failed", slog.String("name", info.Name), slog.String("error", err.Error()))
			continue
		}
		n++
	}
	return n, nil
}

// Exists reports whether name has a stored session file.
func (m *Manager) Exists(name string) bool {
	if ValidateSessionName(name) != nil {
		return false
	}
	st, err := os.Stat(filepath.Join(m.SessionDir(name), sessionFileName))
	return err == nil && st.Mode().IsRegular()
}

// names lists the session directories that hold a session file.
func (m *Manager) names() ([]string, error) {
	entries, err := os.ReadDir(m.storagePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session storage: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && m.Exists(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// SessionDir returns the directory of a session.
func (m *Manager) SessionDir(name string) string {
	return filepath.Join(m.storagePath, name)
}
