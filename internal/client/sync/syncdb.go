package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
    local_rel_path  TEXT PRIMARY KEY,
    remote_id       TEXT NOT NULL,
    remote_rel_path TEXT NOT NULL,
    checksum        TEXT NOT NULL DEFAULT '',
    mtime           TEXT NOT NULL, -- RFC3339Nano
    kind            TEXT NOT NULL CHECK (kind IN ('folder', 'document'))
);

CREATE INDEX IF NOT EXISTS idx_entries_remote_id ON entries(remote_id);

CREATE TABLE IF NOT EXISTS sync_state (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const tokenKey = "change_log_token"

// ErrDatabase marks sync database failures. They are fatal for the run:
// the loop aborts and the token is not advanced.
var ErrDatabase = errors.New("sync database failure")

func dbErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrDatabase, err))
}

// EntryKind discriminates folder rows from document rows.
type EntryKind string

const (
	EntryFolder   EntryKind = "folder"
	EntryDocument EntryKind = "document"
)

// Entry is one persisted row of the sync database: the DB view of a
// triplet. LocalRelPath is the canonical name (folders keep the trailing
// `/`); RemoteRelPath is the item's path under the remote root, which
// differs from LocalRelPath only after a server-side rename that has not
// been mirrored yet.
type Entry struct {
	LocalRelPath  string
	RemoteID      string
	RemoteRelPath string
	Checksum      string
	ModTime       time.Time
	Kind          EntryKind
}

// IsFolder reports whether the row describes a folder.
func (e *Entry) IsFolder() bool {
	return e.Kind == EntryFolder
}

type entryRow struct {
	LocalRelPath  string `db:"local_rel_path"`
	RemoteID      string `db:"remote_id"`
	RemoteRelPath string `db:"remote_rel_path"`
	Checksum      string `db:"checksum"`
	MTime         string `db:"mtime"`
	Kind          string `db:"kind"`
}

func (r *entryRow) toEntry() (*Entry, error) {
	mtime, err := time.Parse(time.RFC3339Nano, r.MTime)
	if err != nil {
		return nil, fmt.Errorf("corrupt mtime for %q: %w", r.LocalRelPath, err)
	}
	return &Entry{
		LocalRelPath:  r.LocalRelPath,
		RemoteID:      r.RemoteID,
		RemoteRelPath: r.RemoteRelPath,
		Checksum:      r.Checksum,
		ModTime:       mtime,
		Kind:          EntryKind(r.Kind),
	}, nil
}

// DB is the sync database facade: per-object rows plus the persisted
// change-log token. Writes are serialized; reads may be concurrent.
type DB struct {
	db *sqlx.DB
	mu sync.RWMutex
}

// NewDB initializes the schema on the given connection.
func NewDB(database *sqlx.DB) (*DB, error) {
	if _, err := database.Exec(schema); err != nil {
		return nil, fmt.Errorf("init sync db schema: %w", err)
	}
	return &DB{db: database}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// ChangeLogToken returns the persisted token, or "" when none was stored.
func (d *DB) ChangeLogToken() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var token string
	err := d.db.Get(&token, "SELECT value FROM sync_state WHERE key = ?", tokenKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", dbErr("get change log token", err)
	}
	return token, nil
}

// SetChangeLogToken persists the token. Called only after a run completed
// without failures, so the token never regresses past unapplied events.
func (d *DB) SetChangeLogToken(token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(
		"INSERT OR REPLACE INTO sync_state (key, value) VALUES (?, ?)", tokenKey, token)
	if err != nil {
		return dbErr("set change log token", err)
	}
	return nil
}

// Get returns the row for a canonical name, or nil when absent.
func (d *DB) Get(localRelPath string) (*Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getWhere("local_rel_path = ?", localRelPath)
}

// GetByRemoteID returns the row for a remote object id, or nil when the
// object was never synced.
func (d *DB) GetByRemoteID(remoteID string) (*Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getWhere("remote_id = ?", remoteID)
}

func (d *DB) getWhere(where string, arg string) (*Entry, error) {
	var row entryRow
	err := d.db.Get(&row, "SELECT * FROM entries WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("query entry", err)
	}
	return row.toEntry()
}

// Checksum returns the stored checksum for a canonical name, or "".
func (d *DB) Checksum(localRelPath string) (string, error) {
	entry, err := d.Get(localRelPath)
	if err != nil || entry == nil {
		return "", err
	}
	return entry.Checksum, nil
}

// AllLocalPaths returns every recorded canonical name. The local crawler
// walks this after the filesystem walk so items deleted on disk still
// surface as triplets.
func (d *DB) AllLocalPaths() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var paths []string
	if err := d.db.Select(&paths, "SELECT local_rel_path FROM entries ORDER BY local_rel_path"); err != nil {
		return nil, dbErr("all local paths", err)
	}
	return paths, nil
}

// Count returns the number of rows.
func (d *DB) Count() (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var count int
	if err := d.db.Get(&count, "SELECT COUNT(*) FROM entries"); err != nil {
		return 0, dbErr("count entries", err)
	}
	return count, nil
}

func (d *DB) upsert(e *Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
INSERT OR REPLACE INTO entries (local_rel_path, remote_id, remote_rel_path, checksum, mtime, kind)
VALUES (?, ?, ?, ?, ?, ?)`,
		e.LocalRelPath, e.RemoteID, e.RemoteRelPath, e.Checksum,
		e.ModTime.UTC().Format(time.RFC3339Nano), string(e.Kind))
	if err != nil {
		return dbErr(fmt.Sprintf("upsert entry %q", e.LocalRelPath), err)
	}
	return nil
}

// RecordUpload replaces the row after a successful upload.
func (d *DB) RecordUpload(e *Entry) error {
	return d.upsert(e)
}

// RecordDownload replaces the row after a successful download.
func (d *DB) RecordDownload(e *Entry) error {
	return d.upsert(e)
}

// RecordDelete drops the row for a canonical name.
func (d *DB) RecordDelete(localRelPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec("DELETE FROM entries WHERE local_rel_path = ?", localRelPath)
	if err != nil {
		return dbErr(fmt.Sprintf("delete entry %q", localRelPath), err)
	}
	return nil
}

// RecordRename moves a row to a new canonical name. Folder rows carry
// their subtree along.
func (d *DB) RecordRename(oldRelPath, newRelPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Beginx()
	if err != nil {
		return dbErr("rename entry: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"UPDATE entries SET local_rel_path = ? WHERE local_rel_path = ?", newRelPath, oldRelPath); err != nil {
		return dbErr(fmt.Sprintf("rename entry %q", oldRelPath), err)
	}

	if strings.HasSuffix(oldRelPath, "/") {
		if _, err := tx.Exec(`
UPDATE entries SET local_rel_path = ? || substr(local_rel_path, ?)
WHERE local_rel_path LIKE ? || '%' AND local_rel_path != ?`,
			newRelPath, len(oldRelPath)+1, oldRelPath, newRelPath); err != nil {
			return dbErr(fmt.Sprintf("rename subtree %q", oldRelPath), err)
		}
	}

	return tx.Commit()
}
