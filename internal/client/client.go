// Package client wires the daemon together: config, session, database,
// sync engine, file watcher and the poll loop.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/filehaven/cmisync/internal/client/config"
	"github.com/filehaven/cmisync/internal/client/sync"
	"github.com/filehaven/cmisync/internal/cmis"
	"github.com/filehaven/cmisync/internal/db"
	"github.com/filehaven/cmisync/internal/utils"
	"github.com/gofrs/flock"
)

type Client struct {
	cfg     *config.Config
	session *cmis.Session
	syncDB  *sync.DB
	engine  *sync.SyncEngine
	watcher *sync.FileWatcher
	lock    *flock.Flock
}

func New(cfg *config.Config) (*Client, error) {
	internalDir := filepath.Join(cfg.DataDir, ".cmisync")
	if err := utils.EnsureDir(internalDir); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	lock := flock.New(filepath.Join(internalDir, "cmisync.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another cmisync instance is already syncing %s", cfg.DataDir)
	}

	session, err := cmis.NewSession(&cmis.SessionOpts{
		ServerURL: cfg.ServerURL,
		RepoID:    cfg.RepoID,
		Username:  cfg.Email,
	})
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	database, err := db.NewSqliteDB(db.WithPath(filepath.Join(internalDir, "sync.db")))
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	syncDB, err := sync.NewDB(database)
	if err != nil {
		database.Close()
		lock.Unlock()
		return nil, err
	}

	ignore := sync.NewSyncIgnoreList(cfg.DataDir)
	ignore.Load()

	return &Client{
		cfg:     cfg,
		session: session,
		syncDB:  syncDB,
		engine:  sync.NewSyncEngine(session, syncDB, cfg, ignore),
		watcher: sync.NewFileWatcher(cfg.DataDir),
		lock:    lock,
	}, nil
}

// Start runs the daemon until ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	defer c.Close()

	if c.cfg.SyncAtStartup {
		if err := c.runOnce(ctx); err != nil {
			return err
		}
	}

	if err := c.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer c.watcher.Stop()

	// a timer, not a ticker, so a slow pass doesn't queue up ticks
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			if err := c.runOnce(ctx); err != nil {
				return err
			}
			timer.Reset(c.cfg.PollInterval)

		case path, ok := <-c.watcher.Events():
			if !ok {
				return nil
			}
			slog.Debug("file activity", "path", path)
			if err := c.runOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// runOnce performs one sync pass, treating per-run failures as
// retryable on the next pass and everything else as fatal.
func (c *Client) runOnce(ctx context.Context) error {
	err := c.engine.RunSync(ctx)
	switch {
	case err == nil, errors.Is(err, sync.ErrSyncAlreadyRunning):
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, sync.ErrDatabase):
		// a corrupt database can't be retried into health
		return err
	default:
		slog.Error("sync pass failed", "error", err)
		// per-item failures were already recorded; a failed pass retries
		// on the next poll
		return nil
	}
}

func (c *Client) Close() {
	c.session.Close()
	c.syncDB.Close()
	c.lock.Unlock()
}
