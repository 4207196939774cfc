package sync

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const hashCacheSize = 4096

type hashCacheEntry struct {
	size     int64
	modTime  time.Time
	checksum string
}

// Hasher computes md5 content hashes, memoizing by (size, mtime) so
// unchanged files are not re-read across sync passes.
type Hasher struct {
	cache *lru.Cache[string, hashCacheEntry]
}

func NewHasher() *Hasher {
	cache, _ := lru.New[string, hashCacheEntry](hashCacheSize)
	return &Hasher{cache: cache}
}

// Checksum returns the md5 hex digest of the file at absPath.
func (h *Hasher) Checksum(absPath string) (string, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat %q: %w", absPath, err)
	}

	if cached, ok := h.cache.Get(absPath); ok {
		if cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
			return cached.checksum, nil
		}
	}

	checksum, err := fileChecksum(absPath)
	if err != nil {
		return "", err
	}

	h.cache.Add(absPath, hashCacheEntry{
		size:     info.Size(),
		modTime:  info.ModTime(),
		checksum: checksum,
	})
	return checksum, nil
}

// fileChecksum opens a file and returns its md5 hash as a hex string.
func fileChecksum(absPath string) (string, error) {
	file, err := os.Open(absPath)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", absPath, err)
	}
	defer file.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash %q: %w", absPath, err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
