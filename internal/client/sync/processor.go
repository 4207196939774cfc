package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/filehaven/cmisync/internal/cmis"
	"github.com/filehaven/cmisync/internal/queue"
	"github.com/filehaven/cmisync/internal/utils"
)

type action int

const (
	actionUploadNew action = iota
	actionUpload
	actionDownloadNew
	actionDownload
	actionRefresh
	actionAdopt
	actionConflict
	actionCaseRename
	actionDeleteRemote
	actionDeleteLocal
	actionPurge
)

func (a action) String() string {
	switch a {
	case actionUploadNew:
		return "upload-new"
	case actionUpload:
		return "upload"
	case actionDownloadNew:
		return "download-new"
	case actionDownload:
		return "download"
	case actionRefresh:
		return "refresh"
	case actionAdopt:
		return "adopt"
	case actionConflict:
		return "conflict"
	case actionCaseRename:
		return "case-rename"
	case actionDeleteRemote:
		return "delete-remote"
	case actionDeleteLocal:
		return "delete-local"
	case actionPurge:
		return "purge"
	default:
		return "unknown"
	}
}

const (
	maxTransientRetries = 3
	retryBackoffBase    = 200 * time.Millisecond
)

// Processor consumes full triplets from a bounded queue with a fixed
// worker pool, decides the action per triplet and executes it. After each
// operation the database is updated and the item's edge is removed from
// the dependency graph. Deletion triplets for folders are gated on the
// graph; a not-ready triplet is parked and retried once the workers have
// drained the queue.
type Processor struct {
	session    Session
	db         *DB
	deps       *ItemDependencies
	status     *SyncStatus
	hasher     *Hasher
	localRoot  string
	remoteRoot string
	rootID     string
	tmpDir     string
	workers    int

	deferred *queue.PriorityQueue[*SyncTriplet]

	// set once the inbound queue has closed; folder deletions are parked
	// until then so every child has had a chance to register and drain
	draining bool

	// canonical folder name ("" for the sync root) -> remote folder id
	folderIDs   map[string]string
	folderIDsMu sync.Mutex
}

func NewProcessor(session Session, db *DB, deps *ItemDependencies, status *SyncStatus, hasher *Hasher, localRoot, remoteRoot, rootID string, workers int) *Processor {
	return &Processor{
		session:    session,
		db:         db,
		deps:       deps,
		status:     status,
		hasher:     hasher,
		localRoot:  localRoot,
		remoteRoot: remoteRoot,
		rootID:     rootID,
		tmpDir:     filepath.Join(localRoot, ".cmisync", "tmp"),
		workers:    workers,
		deferred:   queue.NewPriorityQueue[*SyncTriplet](),
		folderIDs:  map[string]string{"": rootID},
	}
}

// Run processes triplets until in is closed and every parked triplet has
// drained. Per-item failures are recorded against the status and the
// dependency graph; only cancellation and deadlock are returned.
func (p *Processor) Run(ctx context.Context, in <-chan *SyncTriplet) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range in {
				if ctx.Err() != nil {
					continue // drain without executing
				}
				p.process(ctx, t)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	// the queue is closed; every child is registered, so readiness of
	// parked folder deletions is now meaningful
	p.draining = true
	for p.deferred.Len() > 0 {
		progressed := false
		for _, t := range p.deferred.DequeueAll() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if p.process(ctx, t) {
				progressed = true
			}
		}
		if !progressed {
			return fmt.Errorf("dependency stall: %d triplets still blocked", p.deferred.Len())
		}
	}

	return ctx.Err()
}

// process handles one triplet. It returns false when the triplet was
// parked for later instead of being completed.
func (p *Processor) process(ctx context.Context, t *SyncTriplet) bool {
	if !t.Valid() {
		slog.Warn("processor: invalid triplet", "name", t.Name)
		return true
	}
	if p.status.IsCompleted(t.Name) {
		// at-most-once per key
		return true
	}

	if t.IsFolder && isDeletion(t) {
		if p.deps.HasFailed(t.Name) {
			p.finish(t, OutcomeFail, errors.New("skipped: child operation failed"))
			return true
		}
		if !p.draining || !p.deps.IsReady(t.Name) {
			t.attempts++
			p.deferred.Enqueue(t, t.attempts)
			return false
		}
	}

	act, err := p.classify(t)
	if err != nil {
		p.finish(t, OutcomeFail, err)
		return true
	}

	p.status.SetSyncing(t.Name)
	if err := p.executeWithRetry(ctx, t, act); err != nil {
		p.finish(t, OutcomeFail, fmt.Errorf("%s: %w", act, err))
		return true
	}

	outcome := OutcomeSucceed
	switch act {
	case actionConflict, actionCaseRename:
		p.status.SetConflicted(t.Name)
	default:
		p.status.SetCompleted(t.Name)
	}
	p.deps.Remove(parentKey(t.Name), t.Name, outcome)
	slog.Info("sync", "op", act.String(), "key", t.Name)
	return true
}

// isDeletion reports whether the triplet resolves to a delete or purge.
func isDeletion(t *SyncTriplet) bool {
	return t.DB != nil && (t.Remote == nil || t.Local == nil)
}

func (p *Processor) finish(t *SyncTriplet, outcome Outcome, err error) {
	p.status.SetError(t.Name, err)
	p.deps.Remove(parentKey(t.Name), t.Name, outcome)
	slog.Error("sync", "key", t.Name, "outcome", outcome.String(), "error", err)
}

// classify maps the presence and equality of the three views onto an
// action. Checksums decide document equality; mtime alone is never
// authoritative. Folder equivalence is structural.
func (p *Processor) classify(t *SyncTriplet) (action, error) {
	hasLocal := t.Local != nil
	hasDB := t.DB != nil
	hasRemote := t.Remote != nil

	switch {
	case hasLocal && !hasDB && !hasRemote:
		if t.CaseCollision {
			return actionCaseRename, nil
		}
		return actionUploadNew, nil

	case !hasLocal && !hasDB && hasRemote:
		return actionDownloadNew, nil

	case hasLocal && hasDB && hasRemote:
		if t.IsFolder {
			return actionRefresh, nil
		}
		localSum, err := p.hasher.Checksum(t.Local.AbsPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// vanished between crawl and processing; treat as locally
				// deleted next run
				return actionRefresh, nil
			}
			return 0, err
		}
		localChanged := localSum != t.DB.Checksum
		remoteChanged := t.Remote.Checksum != t.DB.Checksum
		switch {
		case localChanged && remoteChanged:
			return actionConflict, nil
		case localChanged:
			return actionUpload, nil
		case remoteChanged:
			return actionDownload, nil
		default:
			return actionRefresh, nil
		}

	case hasLocal && !hasDB && hasRemote:
		if t.IsFolder {
			return actionAdopt, nil
		}
		localSum, err := p.hasher.Checksum(t.Local.AbsPath)
		if err != nil {
			return 0, err
		}
		if localSum == t.Remote.Checksum {
			return actionAdopt, nil
		}
		return actionConflict, nil

	case !hasLocal && hasDB && hasRemote:
		return actionDeleteRemote, nil

	case hasLocal && hasDB && !hasRemote:
		return actionDeleteLocal, nil

	case !hasLocal && hasDB && !hasRemote:
		return actionPurge, nil
	}

	return 0, fmt.Errorf("unclassifiable triplet %q", t.Name)
}

func (p *Processor) executeWithRetry(ctx context.Context, t *SyncTriplet, act action) error {
	var lastErr error
	for attempt := 0; attempt < maxTransientRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = p.execute(ctx, t, act)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
		// a timeout is retried once, then fails the item
		if cmis.IsTimeout(lastErr) && attempt >= 1 {
			return lastErr
		}

		slog.Warn("sync retry", "op", act.String(), "key", t.Name, "attempt", attempt+1, "error", lastErr)
		select {
		case <-time.After(retryBackoffBase << attempt):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (p *Processor) execute(ctx context.Context, t *SyncTriplet, act action) error {
	switch act {
	case actionUploadNew:
		return p.uploadNew(ctx, t)
	case actionUpload:
		return p.upload(ctx, t)
	case actionDownloadNew, actionDownload:
		return p.download(ctx, t)
	case actionRefresh, actionAdopt:
		return p.refresh(ctx, t)
	case actionConflict:
		return p.conflict(ctx, t)
	case actionCaseRename:
		_, err := keepBoth(t.Local.AbsPath, time.Now())
		return err
	case actionDeleteRemote:
		return p.deleteRemote(ctx, t)
	case actionDeleteLocal:
		return p.deleteLocal(t)
	case actionPurge:
		return p.db.RecordDelete(t.Name)
	}
	return fmt.Errorf("unknown action %d", act)
}

// ensureRemoteFolder resolves (creating when needed) the remote folder
// for a canonical folder name and returns its id. Results are cached for
// the run.
func (p *Processor) ensureRemoteFolder(ctx context.Context, folderName string) (string, error) {
	folderName = strings.TrimSuffix(folderName, "/")
	p.folderIDsMu.Lock()
	defer p.folderIDsMu.Unlock()
	return p.ensureRemoteFolderLocked(ctx, folderName)
}

func (p *Processor) ensureRemoteFolderLocked(ctx context.Context, folderName string) (string, error) {
	if id, ok := p.folderIDs[folderName]; ok {
		return id, nil
	}

	parent := ""
	base := folderName
	if idx := strings.LastIndex(folderName, "/"); idx >= 0 {
		parent = folderName[:idx]
		base = folderName[idx+1:]
	}

	parentID, err := p.ensureRemoteFolderLocked(ctx, parent)
	if err != nil {
		return "", err
	}

	remotePath := remotePathFor(p.remoteRoot, folderName)
	obj, err := p.session.GetObjectByPath(ctx, remotePath)
	if err != nil {
		if !cmis.IsNotFound(err) {
			return "", err
		}
		obj, err = p.session.CreateFolder(ctx, parentID, base)
		if err != nil {
			return "", err
		}
	}

	p.folderIDs[folderName] = obj.ID
	return obj.ID, nil
}

func (p *Processor) uploadNew(ctx context.Context, t *SyncTriplet) error {
	if t.IsFolder {
		id, err := p.ensureRemoteFolder(ctx, t.Name)
		if err != nil {
			return err
		}
		return p.db.RecordUpload(&Entry{
			LocalRelPath:  t.Name,
			RemoteID:      id,
			RemoteRelPath: strings.TrimSuffix(t.Name, "/"),
			ModTime:       t.Local.ModTime,
			Kind:          EntryFolder,
		})
	}

	parentID, err := p.ensureRemoteFolder(ctx, parentKey(t.Name))
	if err != nil {
		return err
	}
	obj, err := p.session.CreateDocument(ctx, parentID, baseName(t.Name), t.Local.AbsPath)
	if err != nil {
		return err
	}
	return p.recordDocument(t, obj.ID)
}

func (p *Processor) upload(ctx context.Context, t *SyncTriplet) error {
	obj, err := p.session.UploadContent(ctx, t.DB.RemoteID, t.Local.AbsPath)
	if err != nil {
		return err
	}
	slog.Debug("uploaded", "key", t.Name, "size", humanize.Bytes(uint64(t.Local.Size)))
	return p.recordDocument(t, obj.ID)
}

func (p *Processor) recordDocument(t *SyncTriplet, remoteID string) error {
	checksum, err := p.hasher.Checksum(t.Local.AbsPath)
	if err != nil {
		return err
	}
	return p.db.RecordUpload(&Entry{
		LocalRelPath:  t.Name,
		RemoteID:      remoteID,
		RemoteRelPath: t.Name,
		Checksum:      checksum,
		ModTime:       t.Local.ModTime,
		Kind:          EntryDocument,
	})
}

func (p *Processor) download(ctx context.Context, t *SyncTriplet) error {
	absPath := AbsPathOf(p.localRoot, t.Name)

	if t.IsFolder {
		if err := utils.EnsureDir(absPath); err != nil {
			return err
		}
		return p.db.RecordDownload(&Entry{
			LocalRelPath:  t.Name,
			RemoteID:      t.Remote.ID,
			RemoteRelPath: strings.TrimSuffix(t.Name, "/"),
			ModTime:       t.Remote.ModTime,
			Kind:          EntryFolder,
		})
	}

	if err := p.fetchContent(ctx, t.Remote, absPath); err != nil {
		return err
	}
	slog.Debug("downloaded", "key", t.Name, "size", humanize.Bytes(uint64(t.Remote.Size)))

	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	checksum := t.Remote.Checksum
	if checksum == "" {
		if checksum, err = p.hasher.Checksum(absPath); err != nil {
			return err
		}
	}
	return p.db.RecordDownload(&Entry{
		LocalRelPath:  t.Name,
		RemoteID:      t.Remote.ID,
		RemoteRelPath: t.Name,
		Checksum:      checksum,
		ModTime:       info.ModTime(),
		Kind:          EntryDocument,
	})
}

// fetchContent downloads into a temp file, verifies integrity against the
// server checksum and moves the file into place atomically.
func (p *Processor) fetchContent(ctx context.Context, remote *RemoteView, destPath string) error {
	if err := utils.EnsureDir(p.tmpDir); err != nil {
		return fmt.Errorf("ensure temp dir: %w", err)
	}
	tempFile, err := os.CreateTemp(p.tmpDir, filepath.Base(destPath)+".cmisync.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if err := p.session.DownloadContent(ctx, remote.ID, tempPath); err != nil {
		return err
	}

	if remote.Checksum != "" {
		computed, err := fileChecksum(tempPath)
		if err != nil {
			return err
		}
		if computed != remote.Checksum {
			return fmt.Errorf("integrity check failed for %q: expected %q got %q", destPath, remote.Checksum, computed)
		}
	}

	if err := utils.EnsureParent(destPath); err != nil {
		return err
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		return fmt.Errorf("move into place: %w", err)
	}
	success = true
	return nil
}

// refresh records the current metadata without moving content; used for
// unchanged items and for adopting identical copies never seen before.
func (p *Processor) refresh(_ context.Context, t *SyncTriplet) error {
	entry := &Entry{
		LocalRelPath:  t.Name,
		RemoteRelPath: strings.TrimSuffix(t.Name, "/"),
		Kind:          EntryDocument,
	}
	if t.IsFolder {
		entry.Kind = EntryFolder
	} else {
		entry.RemoteRelPath = t.Name
	}

	switch {
	case t.Remote != nil:
		entry.RemoteID = t.Remote.ID
		entry.Checksum = t.Remote.Checksum
		entry.ModTime = t.Remote.ModTime
	case t.DB != nil:
		entry.RemoteID = t.DB.RemoteID
		entry.RemoteRelPath = t.DB.RemoteRelPath
		entry.Checksum = t.DB.Checksum
		entry.ModTime = t.DB.ModTime
	}
	if t.Local != nil && !t.IsFolder && entry.Checksum == "" {
		checksum, err := p.hasher.Checksum(t.Local.AbsPath)
		if err == nil {
			entry.Checksum = checksum
		}
	}

	return p.db.RecordDownload(entry)
}

// conflict keeps both sides: the local file is renamed with a conflict
// suffix, then the server copy is downloaded under the original name.
func (p *Processor) conflict(ctx context.Context, t *SyncTriplet) error {
	movedTo, err := keepBoth(t.Local.AbsPath, time.Now())
	if err != nil {
		return err
	}
	slog.Warn("sync conflict", "key", t.Name, "movedTo", movedTo)

	if err := p.download(ctx, t); err != nil {
		return err
	}
	return nil
}

func (p *Processor) deleteRemote(ctx context.Context, t *SyncTriplet) error {
	if err := p.session.DeleteObject(ctx, t.DB.RemoteID); err != nil && !cmis.IsNotFound(err) {
		return err
	}
	return p.db.RecordDelete(t.Name)
}

func (p *Processor) deleteLocal(t *SyncTriplet) error {
	absPath := t.Local.AbsPath
	if absPath == "" {
		absPath = AbsPathOf(p.localRoot, t.Name)
	}

	err := os.Remove(absPath)
	switch {
	case err == nil, errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("delete local %q: %w", absPath, err)
	}
	return p.db.RecordDelete(t.Name)
}
