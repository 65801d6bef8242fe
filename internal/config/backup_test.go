package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeUserConfig creates a user config under a temp XDG home and
// returns its path.
func writeUserConfig(t *testing.T, content string) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	dir := filepath.Join(xdg, "deptqa")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBackupUserConfig_NoConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := BackupUserConfig()
	require.NoError(t, err)
	assert.Empty(t, path, "no config means nothing to back up")
}

func TestBackupUserConfig_CreatesBackup(t *testing.T) {
	writeUserConfig(t, "server:\n  port: 9000\n")

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "9000")
}

func TestListUserConfigBackups_NewestFirst(t *testing.T) {
	configPath := writeUserConfig(t, "version: 1\n")

	// Two backups with distinct timestamps in their names
	old := configPath + BackupSuffix + ".20240101-000000"
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o644))
	require.NoError(t, os.Chtimes(old, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))

	recent := configPath + BackupSuffix + ".20250101-000000"
	require.NoError(t, os.WriteFile(recent, []byte("recent"), 0o644))

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, recent, backups[0])
	assert.Equal(t, old, backups[1])
}

func TestBackupUserConfig_PrunesOldBackups(t *testing.T) {
	configPath := writeUserConfig(t, "version: 1\n")

	// Seed more than MaxBackups existing backups
	base := time.Now().Add(-10 * time.Hour)
	for i := 0; i < MaxBackups+2; i++ {
		p := configPath + BackupSuffix + ".2024010" + string(rune('0'+i)) + "-000000"
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		ts := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(p, ts, ts))
	}

	_, err := BackupUserConfig()
	require.NoError(t, err)

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}

func TestRestoreUserConfig(t *testing.T) {
	configPath := writeUserConfig(t, "server:\n  port: 9000\n")

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)

	// Config changes after the backup
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 9999\n"), 0o644))

	// Restore brings the old value back
	require.NoError(t, RestoreUserConfig(backupPath))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "9000")
}

func TestRestoreUserConfig_MissingBackup(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	err := RestoreUserConfig("/nonexistent/backup.bak")
	assert.Error(t, err)
}
