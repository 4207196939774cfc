// Package sync implements the triplet pipeline: local filesystem state,
// the persisted database state of the previous run, and the remote
// repository state are joined per item into a single decision, executed
// with dependency-safe ordering by a worker pool.
package sync

import (
	"path"
	"strings"
	"time"

	"github.com/filehaven/cmisync/internal/cmis"
)

// LocalView is the filesystem side of a triplet. Present iff the item
// exists (or is expected) on disk.
type LocalView struct {
	AbsPath string
	Size    int64
	ModTime time.Time
}

// RemoteView is the server side of a triplet. Present iff the item exists
// in the repository.
type RemoteView struct {
	ID       string
	Path     string
	Checksum string
	Size     int64
	ModTime  time.Time
}

func remoteViewOf(obj *cmis.Object) *RemoteView {
	return &RemoteView{
		ID:       obj.ID,
		Path:     obj.Path,
		Checksum: obj.Checksum,
		Size:     obj.Size,
		ModTime:  obj.ModifiedAt,
	}
}

// SyncTriplet binds together up to three views of one syncable item,
// keyed by its canonical name: the path relative to the sync root,
// `/`-separated, with a trailing `/` for folders. At least one view is
// always present.
type SyncTriplet struct {
	Name     string
	IsFolder bool

	Local  *LocalView
	DB     *Entry
	Remote *RemoteView

	// CaseCollision marks a local item whose lookup key is already taken
	// by another item on a case-insensitive server. The processor resolves
	// it by a keep-both rename instead of an upload.
	CaseCollision bool

	attempts int
}

// Valid reports whether at least one view is present. A triplet without
// any view must never enter the pipeline.
func (t *SyncTriplet) Valid() bool {
	return t.Local != nil || t.DB != nil || t.Remote != nil
}

// Key returns the lookup key for the triplet: the canonical name,
// lowercased when the server is case-insensitive.
func (t *SyncTriplet) Key(lowercase bool) string {
	if lowercase {
		return strings.ToLower(t.Name)
	}
	return t.Name
}

// canonicalName builds a canonical name from a `/`-separated relative path.
func canonicalName(rel string, isFolder bool) string {
	rel = strings.Trim(rel, "/")
	if isFolder {
		return rel + "/"
	}
	return rel
}

// parentKey returns the canonical name of the item's parent folder, or ""
// for top-level items.
func parentKey(name string) string {
	trimmed := strings.TrimSuffix(name, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[:idx+1]
}

// baseName returns the last path segment of a canonical name.
func baseName(name string) string {
	return path.Base(strings.TrimSuffix(name, "/"))
}

// remotePathFor maps a canonical name to the absolute repository path
// under remoteRoot.
func remotePathFor(remoteRoot, name string) string {
	rel := strings.TrimSuffix(name, "/")
	if remoteRoot == "/" {
		return "/" + rel
	}
	return remoteRoot + "/" + rel
}

// relFromRemotePath maps an absolute repository path back to a relative
// `/`-separated path under remoteRoot. ok is false when the path does not
// fall under the sync root.
func relFromRemotePath(remoteRoot, p string) (string, bool) {
	if remoteRoot == "/" {
		return strings.TrimPrefix(p, "/"), strings.HasPrefix(p, "/")
	}
	if p == remoteRoot {
		return "", true
	}
	if !strings.HasPrefix(p, remoteRoot+"/") {
		return "", false
	}
	return strings.TrimPrefix(p, remoteRoot+"/"), true
}
