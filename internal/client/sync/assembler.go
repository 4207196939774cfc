package sync

import (
	"context"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/filehaven/cmisync/internal/cmis"
)

// Assembler joins semi-triplets from both sides into full triplets and
// pushes each canonical key downstream exactly once.
type Assembler struct {
	session    Session
	db         *DB
	deps       *ItemDependencies
	remoteRoot string
	lowercase  bool

	processed mapset.Set[string]
}

func NewAssembler(session Session, db *DB, deps *ItemDependencies, remoteRoot string, lowercase bool) *Assembler {
	return &Assembler{
		session:    session,
		db:         db,
		deps:       deps,
		remoteRoot: remoteRoot,
		lowercase:  lowercase,
		processed:  mapset.NewSet[string](),
	}
}

// PassThrough enriches the ingester's triplets with the DB view and
// forwards them. Change-log mode.
func (a *Assembler) PassThrough(ctx context.Context, triplets []*SyncTriplet, out chan<- *SyncTriplet) error {
	for _, t := range triplets {
		if t.DB == nil && t.Remote != nil {
			entry, err := a.db.GetByRemoteID(t.Remote.ID)
			if err != nil {
				return err
			}
			t.DB = entry
		}
		if err := a.emit(ctx, t, out); err != nil {
			return err
		}
	}
	return nil
}

// Assemble is the crawler mode: it consumes local semi-triplets from in,
// joins each with the remote view (from the shared buffer when the remote
// crawler has already seen the key, otherwise by a direct path lookup).
// Once the local side drains and the remote crawl finishes, the remaining
// buffered entries are emitted as remote-only triplets in insertion order.
func (a *Assembler) Assemble(ctx context.Context, in <-chan *SyncTriplet, buffer *RemoteBuffer, rdeps *ItemDependencies, remoteDone <-chan error, out chan<- *SyncTriplet) error {
	for t := range in {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := t.Key(a.lowercase)
		if a.processed.Contains(key) {
			// a second local item whose name collides on this key; the
			// processor resolves it with a keep-both rename
			t.CaseCollision = true
			if err := a.emitKey(ctx, t, key+"\x00collision", out); err != nil {
				return err
			}
			continue
		}

		if remote, ok := buffer.Take(key); ok {
			t.Remote = remote.Remote
			if t.DB == nil {
				t.DB = remote.DB
			}
		} else if err := a.lookupRemote(ctx, t); err != nil {
			return err
		}

		if err := a.emit(ctx, t, out); err != nil {
			return err
		}
	}

	if err := <-remoteDone; err != nil {
		return err
	}

	// everything still buffered exists only on the server
	for _, key := range buffer.Keys() {
		if a.processed.Contains(key) {
			continue
		}
		t, ok := buffer.Take(key)
		if !ok {
			continue
		}
		if t.IsFolder {
			// parent folders wait on remote-only children that will be
			// created locally
			for _, child := range rdeps.DependenciesOf(key) {
				a.deps.Add(key, child)
			}
		}
		if err := a.emit(ctx, t, out); err != nil {
			return err
		}
	}

	buffer.Clear()
	return nil
}

// lookupRemote resolves the remote view for a local semi-triplet the
// remote crawler has not recorded: by the stored remote path when the DB
// knows the item, else by the assumed mirror path. Not-found simply means
// the item is local-only.
func (a *Assembler) lookupRemote(ctx context.Context, t *SyncTriplet) error {
	remotePath := remotePathFor(a.remoteRoot, t.Name)
	if t.DB != nil && t.DB.RemoteRelPath != "" {
		remotePath = remotePathFor(a.remoteRoot, canonicalName(t.DB.RemoteRelPath, t.IsFolder))
	}

	obj, err := a.session.GetObjectByPath(ctx, remotePath)
	if err != nil {
		if cmis.IsNotFound(err) {
			return nil
		}
		return err
	}
	t.Remote = remoteViewOf(obj)
	return nil
}

func (a *Assembler) emit(ctx context.Context, t *SyncTriplet, out chan<- *SyncTriplet) error {
	return a.emitKey(ctx, t, t.Key(a.lowercase), out)
}

func (a *Assembler) emitKey(ctx context.Context, t *SyncTriplet, key string, out chan<- *SyncTriplet) error {
	if !t.Valid() {
		slog.Warn("assembler: dropping empty triplet", "name", t.Name)
		return nil
	}
	if !a.processed.Add(key) {
		// already emitted for this key
		return nil
	}
	if isDeletion(t) {
		// a deletion must drain before its parent folder's own deletion;
		// the edge is registered before the triplet becomes visible to
		// the workers
		if parent := parentKey(t.Name); parent != "" {
			a.deps.Add(parent, t.Name)
		}
	}
	select {
	case out <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
