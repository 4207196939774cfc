package sync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/filehaven/cmisync/internal/utils"
)

// conflictTimeFormat stamps conflict copies (sortable, command-line safe).
const conflictTimeFormat = "20060102150405"

// conflictPath derives the keep-both name for a local file:
// `b.txt` -> `b (conflict 20260203150405).txt`.
func conflictPath(path string, now time.Time) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := fmt.Sprintf("%s (conflict %s)%s", stem, now.Format(conflictTimeFormat), ext)
	return filepath.Join(dir, name)
}

// keepBoth renames the local file to its conflict name so the server copy
// can land under the original name. An existing conflict copy for the
// same second is rotated by its modification time first. Returns the new
// path of the local copy.
func keepBoth(path string, now time.Time) (string, error) {
	if !utils.FileExists(path) {
		return "", fmt.Errorf("cannot keep both: source file does not exist: %s", path)
	}

	marked := conflictPath(path, now)

	if utils.FileExists(marked) {
		info, err := os.Stat(marked)
		if err != nil {
			return "", fmt.Errorf("stat existing conflict copy: %w", err)
		}
		rotated := conflictPath(path, info.ModTime())
		if rotated == marked {
			rotated = conflictPath(path, now.Add(time.Second))
		}
		if err := os.Rename(marked, rotated); err != nil {
			return "", fmt.Errorf("rotate conflict copy %s: %w", marked, err)
		}
	}

	if err := os.Rename(path, marked); err != nil {
		return "", fmt.Errorf("keep both %s: %w", path, err)
	}

	return marked, nil
}
