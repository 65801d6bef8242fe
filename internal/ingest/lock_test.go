package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()

	first := NewLock(dir)
	acquired, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)

	// flock is per open file description, so a second handle in the
	// same process is excluded just like another process would be.
	second := NewLock(dir)
	acquired, err = second.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, first.Unlock())

	acquired, err = second.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, second.Unlock())
}

func TestLockUnlockWithoutHold(t *testing.T) {
	l := NewLock(t.TempDir())
	assert.NoError(t, l.Unlock())
}

func TestLockCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "deptqa")

	l := NewLock(dir)
	acquired, err := l.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)
	defer func() { _ = l.Unlock() }()

	_, err = os.Stat(l.Path())
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".ingest.lock"), l.Path())
}
