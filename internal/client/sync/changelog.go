package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/filehaven/cmisync/internal/client/config"
	"github.com/filehaven/cmisync/internal/cmis"
)

// coalesceWindow suppresses duplicate Updated events the server emits in
// quick succession for the same object (500 ms, i.e. 5_000_000 units of
// 100 ns file time).
const coalesceWindow = 500 * time.Millisecond

// IngestOutcome is the verdict of a change-log ingest.
type IngestOutcome int

const (
	// IngestSynced means local and server tokens were equal; nothing to do.
	IngestSynced IngestOutcome = iota
	// IngestIncremental means a finite batch of triplets was produced.
	IngestIncremental
	// IngestEscalate means the change feed is unusable and a full
	// crawler-driven sync must run instead.
	IngestEscalate
)

// IngestResult is what ChangeLogIngester.Start hands back to the engine.
type IngestResult struct {
	Outcome  IngestOutcome
	Triplets []*SyncTriplet
	NewToken string
	Reason   string
}

func escalate(reason string) *IngestResult {
	return &IngestResult{Outcome: IngestEscalate, Reason: reason}
}

// ChangeLogIngester turns the server's change feed since the last
// persisted token into triplets, or decides the feed is unusable.
type ChangeLogIngester struct {
	session   Session
	db        *DB
	deps      *ItemDependencies
	ignore    *SyncIgnoreList
	cfg       *config.Config
	localRoot string

	// buffer maps object id to the ordered list of events seen for it in
	// this run; order preserves first-seen sequence across ids.
	buffer map[string][]cmis.ChangeEvent
	order  []string
}

func NewChangeLogIngester(session Session, db *DB, deps *ItemDependencies, ignore *SyncIgnoreList, cfg *config.Config, localRoot string) *ChangeLogIngester {
	return &ChangeLogIngester{
		session:   session,
		db:        db,
		deps:      deps,
		ignore:    ignore,
		cfg:       cfg,
		localRoot: localRoot,
		buffer:    make(map[string][]cmis.ChangeEvent),
	}
}

// Start reads the change feed and produces the ingest verdict. The
// persisted token is never advanced here; that happens only after the
// processor reports success for every emitted triplet.
func (ci *ChangeLogIngester) Start(ctx context.Context) (*IngestResult, error) {
	lastLocal, err := ci.db.ChangeLogToken()
	if err != nil {
		return nil, fmt.Errorf("read local token: %w", err)
	}
	if lastLocal == "" {
		return escalate("no prior token"), nil
	}

	info, err := ci.session.GetRepositoryInfo(ctx)
	if err != nil {
		return escalate(fmt.Sprintf("repository info: %v", err)), nil
	}
	if !info.Capabilities.Changes {
		return escalate("change log unsupported"), nil
	}
	if info.LatestChangeLogToken == lastLocal {
		return &IngestResult{Outcome: IngestSynced}, nil
	}

	newToken, result, err := ci.fill(ctx, lastLocal)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	return ci.dispatch(ctx, newToken)
}

// fill drains the change feed into the buffer. It returns a non-nil
// result when the ingest must escalate instead.
func (ci *ChangeLogIngester) fill(ctx context.Context, token string) (string, *IngestResult, error) {
	page := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		changes, err := ci.session.GetContentChanges(ctx, token, ci.cfg.MaxChangesPerPage)
		if err != nil {
			return "", escalate(fmt.Sprintf("content changes: %v", err)), nil
		}

		events := changes.Events
		if ci.dropFirst(page) && len(events) > 0 {
			// the server replays the last-seen event as the first element
			// of the page
			events = events[1:]
		}
		for _, ev := range events {
			ci.record(ev)
		}

		if !changes.HasMore {
			return changes.LatestToken, nil, nil
		}
		if changes.LatestToken == "" {
			return "", escalate("server too old: more items but no token"), nil
		}
		token = changes.LatestToken
		page++
	}
}

func (ci *ChangeLogIngester) dropFirst(page int) bool {
	switch ci.cfg.DropFirstEventPerPage {
	case config.DropFirstNonFirstOnly:
		return page > 0
	default:
		return true
	}
}

// record appends an event to the object's list, collapsing an Updated
// that follows the previous event for the same object within the
// coalesce window. Events without a timestamp are recorded
// unconditionally.
func (ci *ChangeLogIngester) record(ev cmis.ChangeEvent) {
	list, seen := ci.buffer[ev.ObjectID]
	if !seen {
		ci.order = append(ci.order, ev.ObjectID)
	}

	if ev.Type == cmis.ChangeUpdated && len(list) > 0 && !ev.Time.IsZero() {
		last := list[len(list)-1]
		if !last.Time.IsZero() && ev.Time.Sub(last.Time) < coalesceWindow {
			list[len(list)-1] = ev
			ci.buffer[ev.ObjectID] = list
			return
		}
	}

	ci.buffer[ev.ObjectID] = append(list, ev)
}

// dispatch converts the buffered per-object event lists into triplets.
func (ci *ChangeLogIngester) dispatch(ctx context.Context, newToken string) (*IngestResult, error) {
	triplets := make([]*SyncTriplet, 0, len(ci.order))
	produced := mapset.NewThreadUnsafeSet[string]()
	tentativeParents := mapset.NewThreadUnsafeSet[string]()

	for _, rawID := range ci.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		events := ci.buffer[rawID]
		for _, ev := range events {
			if ev.Type == cmis.ChangeUpdated {
				// the incremental path intentionally does not handle
				// content updates
				return escalate("update detected for " + rawID), nil
			}
		}

		// legacy servers embed the remote path before the id; keep only
		// the trailing segment
		id := rawID
		if idx := strings.LastIndex(id, "/"); idx >= 0 {
			id = id[idx+1:]
		}

		switch events[len(events)-1].Type {
		case cmis.ChangeCreated, cmis.ChangeSecurity:
			triplet, err := ci.fetchCreated(ctx, id)
			if err != nil {
				return escalate(fmt.Sprintf("fetch %s: %v", id, err)), nil
			}
			if triplet != nil {
				triplets = append(triplets, triplet)
				produced.Add(triplet.Name)
			}

		case cmis.ChangeDeleted:
			triplet, err := ci.resolveDeleted(id)
			if err != nil {
				return nil, err
			}
			if triplet != nil {
				triplets = append(triplets, triplet)
				produced.Add(triplet.Name)
				if parent := parentKey(triplet.Name); parent != "" {
					// the parent folder must not be deleted before its
					// contents are processed
					ci.deps.Add(parent, triplet.Name)
					tentativeParents.Add(parent)
				}
			}
		}
	}

	// a tentative parent that never surfaced as a change of its own will
	// not be processed and must not block the graph
	for parent := range tentativeParents.Iter() {
		if !produced.Contains(parent) {
			ci.deps.RemoveAll(parent)
		}
	}

	slog.Debug("changelog ingest", "objects", len(ci.order), "triplets", len(triplets), "newToken", newToken)

	return &IngestResult{
		Outcome:  IngestIncremental,
		Triplets: triplets,
		NewToken: newToken,
	}, nil
}

// fetchCreated resolves a Created (or trailing Security) event into a
// remote-only triplet. Returns nil when the object is gone, outside the
// sync root, or filtered.
func (ci *ChangeLogIngester) fetchCreated(ctx context.Context, id string) (*SyncTriplet, error) {
	obj, err := ci.session.GetObject(ctx, id)
	if err != nil {
		if cmis.IsNotFound(err) {
			// already deleted again on the server; the Deleted event will
			// follow in a later run
			return nil, nil
		}
		return nil, err
	}

	rel, ok := relFromRemotePath(ci.cfg.RemoteRoot, obj.Path)
	if !ok || rel == "" {
		return nil, nil
	}

	name := canonicalName(rel, obj.IsFolder())
	if ci.ignore.ShouldIgnore(name) {
		return nil, nil
	}

	return &SyncTriplet{
		Name:     name,
		IsFolder: obj.IsFolder(),
		Remote:   remoteViewOf(obj),
	}, nil
}

// resolveDeleted turns a Deleted event into a triplet carrying the DB
// view and a synthesized local view of the path on disk. Returns nil for
// objects that were never synced.
func (ci *ChangeLogIngester) resolveDeleted(id string) (*SyncTriplet, error) {
	entry, err := ci.db.GetByRemoteID(id)
	if err != nil {
		return nil, fmt.Errorf("lookup deleted %s: %w", id, err)
	}
	if entry == nil {
		return nil, nil
	}

	triplet := &SyncTriplet{
		Name:     entry.LocalRelPath,
		IsFolder: entry.IsFolder(),
		DB:       entry,
	}

	absPath := filepath.Join(ci.localRoot, filepath.FromSlash(strings.TrimSuffix(entry.LocalRelPath, "/")))
	local := &LocalView{AbsPath: absPath}
	if info, err := os.Stat(absPath); err == nil {
		local.Size = info.Size()
		local.ModTime = info.ModTime()
	}
	triplet.Local = local

	return triplet, nil
}
