package sync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictPath(t *testing.T) {
	now := time.Date(2026, 2, 3, 15, 4, 5, 0, time.UTC)
	assert.Equal(t,
		filepath.Join("dir", "b (conflict 20260203150405).txt"),
		conflictPath(filepath.Join("dir", "b.txt"), now))
	assert.Equal(t,
		filepath.Join("dir", "noext (conflict 20260203150405)"),
		conflictPath(filepath.Join("dir", "noext"), now))
}

func TestKeepBoth_RenamesLocal(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "b.txt")
	require.NoError(t, os.WriteFile(path, []byte("local"), 0o644))

	now := time.Date(2026, 2, 3, 15, 4, 5, 0, time.UTC)
	moved, err := keepBoth(path, now)
	require.NoError(t, err)

	assert.NoFileExists(t, path)
	assert.FileExists(t, moved)
	content, err := os.ReadFile(moved)
	require.NoError(t, err)
	assert.Equal(t, "local", string(content))
}

func TestKeepBoth_RotatesExistingCopy(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "b.txt")
	now := time.Date(2026, 2, 3, 15, 4, 5, 0, time.UTC)

	existing := conflictPath(path, now)
	require.NoError(t, os.WriteFile(existing, []byte("older"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("newer"), 0o644))

	moved, err := keepBoth(path, now)
	require.NoError(t, err)

	content, err := os.ReadFile(moved)
	require.NoError(t, err)
	assert.Equal(t, "newer", string(content))

	// both copies survive
	files, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestKeepBoth_MissingSource(t *testing.T) {
	_, err := keepBoth(filepath.Join(t.TempDir(), "gone.txt"), time.Now())
	assert.Error(t, err)
}
