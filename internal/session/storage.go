package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	sessionFileName      = "session.json"
	maxSessionNameLength = 64
)

var validSessionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateSessionName allows letters, digits, hyphens and underscores.
func ValidateSessionName(name string) error {
	if name == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if len(name) > maxSessionNameLength {
		return fmt.Errorf("session name too long (max %d chars)", maxSessionNameLength)
	}
	if !validSessionNamePattern.MatchString(name) {
		return fmt.Errorf("session name can only contain letters, numbers, hyphens, and underscores")
	}
	return nil
}

// SaveSession writes the session to its directory atomically.
func SaveSession(sess *Session) error {
	if err := os.MkdirAll(sess.SessionDir, 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	path := filepath.Join(sess.SessionDir, sessionFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save session file: %w", err)
	}
	return nil
}

// LoadSession reads the session stored in sessionDir.
func LoadSession(sessionDir string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, sessionFileName))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("session.json not found in %s", sessionDir)
	}
	if err != nil {
		return nil, fmt.Errorf("read session.json: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session.json: %w", err)
	}
	if sess.Grid.Cells == nil {
		sess.Grid = NewGrid()
	}
	sess.SessionDir = sessionDir
	return &sess, nil
}

// dirSize sums the sizes of regular files under dir. Missing dirs are 0.
func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}
