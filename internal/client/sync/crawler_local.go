package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// LocalCrawler walks the local tree depth-first and emits semi-triplets
// carrying the local view plus, when recorded, the DB view. After the
// walk it emits DB-only semi-triplets for rows whose file is gone, so
// local deletions are detected.
type LocalCrawler struct {
	root   string
	db     *DB
	ignore *SyncIgnoreList
}

func NewLocalCrawler(root string, db *DB, ignore *SyncIgnoreList) *LocalCrawler {
	return &LocalCrawler{
		root:   root,
		db:     db,
		ignore: ignore,
	}
}

// Crawl emits semi-triplets on out. The channel is left open; the caller
// closes it once Crawl returns.
func (lc *LocalCrawler) Crawl(ctx context.Context, out chan<- *SyncTriplet) error {
	seen := mapset.NewThreadUnsafeSet[string]()

	err := filepath.WalkDir(lc.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk %q: %w", path, walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == lc.root {
			return nil
		}

		rel, err := filepath.Rel(lc.root, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		name := canonicalName(filepath.ToSlash(rel), d.IsDir())

		if lc.ignore.ShouldIgnore(name) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("local crawl: failed to stat", "path", path, "error", err)
			return nil
		}

		triplet := &SyncTriplet{
			Name:     name,
			IsFolder: d.IsDir(),
			Local: &LocalView{
				AbsPath: path,
				Size:    info.Size(),
				ModTime: info.ModTime(),
			},
		}

		entry, err := lc.db.Get(name)
		if err != nil {
			return err
		}
		triplet.DB = entry

		seen.Add(name)
		select {
		case out <- triplet:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("local crawl: %w", err)
	}

	return lc.emitMissing(ctx, seen, out)
}

// emitMissing walks the database after the filesystem walk and emits a
// DB-only semi-triplet for every row not seen on disk.
func (lc *LocalCrawler) emitMissing(ctx context.Context, seen mapset.Set[string], out chan<- *SyncTriplet) error {
	paths, err := lc.db.AllLocalPaths()
	if err != nil {
		return err
	}

	for _, name := range paths {
		if seen.Contains(name) {
			continue
		}
		entry, err := lc.db.Get(name)
		if err != nil {
			return err
		}
		if entry == nil {
			continue
		}

		triplet := &SyncTriplet{
			Name:     name,
			IsFolder: entry.IsFolder(),
			DB:       entry,
		}

		select {
		case out <- triplet:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// AbsPathOf maps a canonical name to its absolute path under the root.
func AbsPathOf(root, name string) string {
	return filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(name, "/")))
}
