package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncIgnoreList_Defaults(t *testing.T) {
	ignore := NewSyncIgnoreList(t.TempDir())
	ignore.Load()

	cases := []struct {
		name    string
		ignored bool
	}{
		{"a/b.txt", false},
		{"a/", false},
		{".git/config", true},
		{"a/.hidden", true},
		{".cmisync/sync.db", true},
		{"a/report.tmp", true},
		{"a/b (conflict 20260203150405).txt", true},
		{".DS_Store", true},
		{"docs/Thumbs.db", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ignored, ignore.ShouldIgnore(tc.name), "ShouldIgnore(%q)", tc.name)
	}
}

func TestSyncIgnoreList_CustomFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cmisyncignore"), []byte("*.bak\nbuild/\n"), 0o644))

	ignore := NewSyncIgnoreList(dir)
	ignore.Load()

	assert.True(t, ignore.ShouldIgnore("a/old.bak"))
	assert.True(t, ignore.ShouldIgnore("build/out.o"))
	assert.False(t, ignore.ShouldIgnore("a/b.txt"))
}
