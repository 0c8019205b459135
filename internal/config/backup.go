package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MaxBackups is how many user config backups are kept.
	MaxBackups = 3

	// BackupSuffix marks backups: config.yaml.bak.<timestamp>.
	BackupSuffix = ".bak"

	// sorts lexically in time order
	backupStamp = "20060102-150405.000000"
)

func backupPrefix() string {
	return GetUserConfigPath() + BackupSuffix + "."
}

// BackupUserConfig copies the user config next to itself and returns the
// copy's path, or "" when there is no user config. Older backups beyond
// MaxBackups are removed.
func BackupUserConfig() (string, error) {
	if !UserConfigExists() {
		return "", nil
	}
	data, err := os.ReadFile(GetUserConfigPath())
	if err != nil {
		return "", fmt.Errorf("read user config: %w", err)
	}

	path := backupPrefix() + time.Now().Format(backupStamp)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write config backup: %w", err)
	}

	backups, err := ListUserConfigBackups()
	if err == nil && len(backups) > MaxBackups {
		for _, old := range backups[MaxBackups:] {
			if err = os.Remove(old); err != nil && !os.IsNotExist(err) {
				break
			}
			err = nil
		}
	}
	if err != nil {
		slog.Warn("config_backup_prune_failed", slog.String("error", err.Error()))
	}
	return path, nil
}

// ListUserConfigBackups returns the user config backups, newest first.
func ListUserConfigBackups() ([]string, error) {
	prefix := backupPrefix()
	dir := filepath.Dir(prefix)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list config directory: %w", err)
	}

	var backups []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.Type().IsRegular() && strings.HasPrefix(p, prefix) {
			backups = append(backups, p)
		}
	}
	slices.Sort(backups)
	slices.Reverse(backups)
	return backups, nil
}

// RestoreUserConfig replaces the user config with a backup. The backup must
// parse as a configuration; the replaced config is backed up first.
func RestoreUserConfig(backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	var probe Config
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("backup %s is not a valid config: %w", filepath.Base(backupPath), err)
	}

	if _, err := BackupUserConfig(); err != nil {
		return fmt.Errorf("back up current config: %w", err)
	}
	if err := os.MkdirAll(GetUserConfigDir(), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(GetUserConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("write restored config: %w", err)
	}
	return nil
}
