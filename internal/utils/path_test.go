package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	_, err := ResolvePath("")
	assert.Error(t, err)

	abs, err := ResolvePath("relative/dir")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expanded, err := ResolvePath("~/stuff")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "stuff"), expanded)
}

func TestEnsureDirAndFileChecks(t *testing.T) {
	tmp := t.TempDir()

	nested := filepath.Join(tmp, "a", "b")
	require.NoError(t, EnsureDir(nested))
	assert.True(t, DirExists(nested))
	assert.False(t, FileExists(nested))

	file := filepath.Join(nested, "f.txt")
	require.NoError(t, EnsureParent(file))
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.True(t, FileExists(file))
	assert.False(t, DirExists(file))
	assert.True(t, IsWritable(file))
}

func TestNormPath(t *testing.T) {
	assert.Equal(t, "a/b", NormPath("a/b"))
	assert.Equal(t, "a/b", NormPath("./a/b"))
}
