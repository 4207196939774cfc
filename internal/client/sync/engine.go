package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/filehaven/cmisync/internal/client/config"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var ErrSyncAlreadyRunning = errors.New("sync already running")

// SyncEngine drives one reconciliation pass at a time: incremental via
// the change log when a prior token exists and the feed is usable,
// otherwise a full crawler-driven sync. The change-log token is persisted
// only when the whole run completed without failures.
type SyncEngine struct {
	session   Session
	db        *DB
	cfg       *config.Config
	ignore    *SyncIgnoreList
	hasher    *Hasher
	localRoot string
	workers   int

	running chan struct{}
}

func NewSyncEngine(session Session, db *DB, cfg *config.Config, ignore *SyncIgnoreList) *SyncEngine {
	return &SyncEngine{
		session:   session,
		db:        db,
		cfg:       cfg,
		ignore:    ignore,
		hasher:    NewHasher(),
		localRoot: cfg.DataDir,
		workers:   runtime.NumCPU(),
		running:   make(chan struct{}, 1),
	}
}

// RunSync performs one sync pass. Concurrent calls return
// ErrSyncAlreadyRunning.
func (se *SyncEngine) RunSync(ctx context.Context) error {
	select {
	case se.running <- struct{}{}:
		defer func() { <-se.running }()
	default:
		return ErrSyncAlreadyRunning
	}

	runID := uuid.NewString()[:8]
	tStart := time.Now()
	log := slog.With("run", runID)

	info, err := se.session.GetRepositoryInfo(ctx)
	if err != nil {
		return fmt.Errorf("repository info: %w", err)
	}
	lowercase := se.cfg.IgnoreSameLowercase && !info.CaseSensitive

	root, err := se.session.GetObjectByPath(ctx, se.cfg.RemoteRoot)
	if err != nil {
		return fmt.Errorf("resolve remote root %q: %w", se.cfg.RemoteRoot, err)
	}

	status := NewSyncStatus()
	deps := NewItemDependencies()

	// incremental first; any escalation falls back to the crawlers
	ingest, err := se.runChangeLog(ctx, deps, status, root.ID, lowercase, log)
	if err != nil {
		return err
	}
	switch ingest {
	case IngestSynced:
		log.Debug("sync tokens equal, nothing to do")
		return nil
	case IngestIncremental:
		// handled inside runChangeLog
	case IngestEscalate:
		if err := se.runFull(ctx, deps, status, root.ID, info.LatestChangeLogToken, lowercase, log); err != nil {
			return err
		}
	}

	completed, conflicted, errored := status.Counts()
	log.Info("sync done",
		"completed", completed,
		"conflicted", conflicted,
		"errored", errored,
		"took", time.Since(tStart),
	)
	if status.HasErrors() {
		return fmt.Errorf("sync finished with %d failed items; token not advanced", errored)
	}
	return nil
}

// runChangeLog attempts the incremental path and returns its outcome.
// On IngestIncremental the triplets are fully processed here.
func (se *SyncEngine) runChangeLog(ctx context.Context, deps *ItemDependencies, status *SyncStatus, rootID string, lowercase bool, log *slog.Logger) (IngestOutcome, error) {
	ingester := NewChangeLogIngester(se.session, se.db, deps, se.ignore, se.cfg, se.localRoot)
	result, err := ingester.Start(ctx)
	if err != nil {
		return 0, err
	}

	switch result.Outcome {
	case IngestSynced:
		return IngestSynced, nil

	case IngestEscalate:
		log.Info("changelog escalation", "reason", result.Reason)
		return IngestEscalate, nil

	case IngestIncremental:
		log.Info("changelog sync", "triplets", len(result.Triplets), "newToken", result.NewToken)

		full := make(chan *SyncTriplet, se.workers*4)
		assembler := NewAssembler(se.session, se.db, deps, se.cfg.RemoteRoot, lowercase)
		processor := NewProcessor(se.session, se.db, deps, status, se.hasher, se.localRoot, se.cfg.RemoteRoot, rootID, se.workers)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer close(full)
			return assembler.PassThrough(gctx, result.Triplets, full)
		})
		g.Go(func() error {
			return processor.Run(gctx, full)
		})
		if err := g.Wait(); err != nil {
			return 0, err
		}

		if !deps.Empty() {
			return 0, errors.New("dependency graph not drained after changelog run")
		}
		if !status.HasErrors() {
			if err := se.db.SetChangeLogToken(result.NewToken); err != nil {
				return 0, err
			}
		}
		return IngestIncremental, nil
	}

	return 0, fmt.Errorf("unexpected ingest outcome %d", result.Outcome)
}

// runFull is the crawler-driven path: local and remote crawlers feed the
// assembler, the assembler feeds the processor pool. The server token
// captured before the crawl is persisted on success, so events that
// arrive during the crawl replay on the next incremental run.
func (se *SyncEngine) runFull(ctx context.Context, deps *ItemDependencies, status *SyncStatus, rootID, serverToken string, lowercase bool, log *slog.Logger) error {
	log.Info("full sync start", "root", se.localRoot)

	semi := make(chan *SyncTriplet, se.workers*4)
	full := make(chan *SyncTriplet, se.workers*4)
	remoteDone := make(chan error, 1)

	buffer := NewRemoteBuffer()
	localCrawler := NewLocalCrawler(se.localRoot, se.db, se.ignore)
	remoteCrawler := NewRemoteCrawler(se.session, se.db, se.ignore, buffer, rootID, lowercase)
	assembler := NewAssembler(se.session, se.db, deps, se.cfg.RemoteRoot, lowercase)
	processor := NewProcessor(se.session, se.db, deps, status, se.hasher, se.localRoot, se.cfg.RemoteRoot, rootID, se.workers)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(semi)
		return localCrawler.Crawl(gctx, semi)
	})

	g.Go(func() error {
		remoteDone <- remoteCrawler.Crawl(gctx)
		close(remoteDone)
		return nil
	})

	g.Go(func() error {
		defer close(full)
		return assembler.Assemble(gctx, semi, buffer, remoteCrawler.Dependencies(), remoteDone, full)
	})

	g.Go(func() error {
		return processor.Run(gctx, full)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if !deps.Empty() {
		return errors.New("dependency graph not drained after full run")
	}
	if !status.HasErrors() && serverToken != "" {
		if err := se.db.SetChangeLogToken(serverToken); err != nil {
			return err
		}
	}
	return nil
}
