package sync

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// RemoteBuffer is a mutex-guarded insertion-ordered map of semi-triplets
// keyed by lookup key. The remote crawler fills it depth-first so that a
// parent folder always precedes its children; the assembler relies on
// that order when emitting remote-only triplets.
type RemoteBuffer struct {
	mu    sync.Mutex
	order []string
	items map[string]*SyncTriplet
}

func NewRemoteBuffer() *RemoteBuffer {
	return &RemoteBuffer{
		items: make(map[string]*SyncTriplet),
	}
}

// Put records a semi-triplet under key, keeping first-insertion order.
func (b *RemoteBuffer) Put(key string, t *SyncTriplet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.items[key]; !ok {
		b.order = append(b.order, key)
	}
	b.items[key] = t
}

// Take removes and returns the semi-triplet under key, if present.
func (b *RemoteBuffer) Take(key string) (*SyncTriplet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.items[key]
	if ok {
		delete(b.items, key)
	}
	return t, ok
}

// Keys returns the remaining keys in insertion order.
func (b *RemoteBuffer) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.items))
	for _, key := range b.order {
		if _, ok := b.items[key]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// Clear drops all buffered entries.
func (b *RemoteBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = nil
	b.items = make(map[string]*SyncTriplet)
}

// RemoteCrawler walks the remote tree depth-first via GetChildren and
// records every entry in the shared ordered buffer. Alongside, it builds
// the remote dependency graph: each remote folder waits on each of its
// remote children, so pure-remote subtrees keep their ordering when they
// reach the main graph.
type RemoteCrawler struct {
	session   Session
	db        *DB
	ignore    *SyncIgnoreList
	buffer    *RemoteBuffer
	rdeps     *ItemDependencies
	rootID    string
	lowercase bool
}

func NewRemoteCrawler(session Session, db *DB, ignore *SyncIgnoreList, buffer *RemoteBuffer, rootID string, lowercase bool) *RemoteCrawler {
	return &RemoteCrawler{
		session:   session,
		db:        db,
		ignore:    ignore,
		buffer:    buffer,
		rdeps:     NewItemDependencies(),
		rootID:    rootID,
		lowercase: lowercase,
	}
}

// Dependencies returns the remote dependency graph built during Crawl.
func (rc *RemoteCrawler) Dependencies() *ItemDependencies {
	return rc.rdeps
}

// Crawl fills the buffer from the repository root folder.
func (rc *RemoteCrawler) Crawl(ctx context.Context) error {
	return rc.crawlFolder(ctx, rc.rootID, "")
}

func (rc *RemoteCrawler) crawlFolder(ctx context.Context, folderID, parentName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	children, err := rc.session.GetChildren(ctx, folderID)
	if err != nil {
		return fmt.Errorf("remote crawl %q: %w", parentName, err)
	}

	for _, obj := range children {
		name := canonicalName(parentName+obj.Name, obj.IsFolder())
		if rc.ignore.ShouldIgnore(name) {
			continue
		}

		triplet := &SyncTriplet{
			Name:     name,
			IsFolder: obj.IsFolder(),
			Remote:   remoteViewOf(obj),
		}

		entry, err := rc.db.GetByRemoteID(obj.ID)
		if err != nil {
			return err
		}
		triplet.DB = entry

		key := triplet.Key(rc.lowercase)
		rc.buffer.Put(key, triplet)
		if parentName != "" {
			rc.rdeps.Add(rc.lookupKey(parentName), key)
		}

		if obj.IsFolder() {
			if err := rc.crawlFolder(ctx, obj.ID, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (rc *RemoteCrawler) lookupKey(name string) string {
	if rc.lowercase {
		return strings.ToLower(name)
	}
	return name
}
