package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupUserConfig_NoConfig(t *testing.T) {
	isolate(t)

	path, err := BackupUserConfig()

	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupUserConfig_CopiesAndPrunes(t *testing.T) {
	// Given: a user config
	xdg := isolate(t)
	writeUserConfig(t, xdg, "selection:\n  user: alice\n")

	// When: backing up more often than MaxBackups
	var last string
	for i := 0; i < MaxBackups+2; i++ {
		p, err := BackupUserConfig()
		require.NoError(t, err)
		last = p
	}

	// Then: the newest backup holds the config and only MaxBackups remain
	data, err := os.ReadFile(last)
	require.NoError(t, err)
	assert.Equal(t, "selection:\n  user: alice\n", string(data))

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
	assert.Equal(t, last, backups[0])
}

func TestRestoreUserConfig(t *testing.T) {
	xdg := isolate(t)
	writeUserConfig(t, xdg, "selection:\n  user: old\n")
	backup, err := BackupUserConfig()
	require.NoError(t, err)
	writeUserConfig(t, xdg, "selection:\n  user: new\n")

	require.NoError(t, RestoreUserConfig(backup))

	data, err := os.ReadFile(GetUserConfigPath())
	require.NoError(t, err)
	assert.Equal(t, "selection:\n  user: old\n", string(data))

	// the replaced config was backed up too
	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestRestoreUserConfig_MissingBackup(t *testing.T) {
	isolate(t)
	assert.Error(t, RestoreUserConfig("/nonexistent/config.yaml.bak.1"))
}

func TestRestoreUserConfig_RejectsInvalidBackup(t *testing.T) {
	// Given: a current config and a backup that is not YAML
	xdg := isolate(t)
	writeUserConfig(t, xdg, "selection:\n  user: alice\n")
	bad := GetUserConfigPath() + BackupSuffix + ".broken"
	require.NoError(t, os.WriteFile(bad, []byte("selection: [\n"), 0o644))

	// When: restoring it
	err := RestoreUserConfig(bad)

	// Then: the current config is untouched
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid config")
	data, err := os.ReadFile(GetUserConfigPath())
	require.NoError(t, err)
	assert.Equal(t, "selection:\n  user: alice\n", string(data))
}
