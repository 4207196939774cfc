package sync

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/filehaven/cmisync/internal/cmis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, fake *fakeSession) (*SyncEngine, *DB, string) {
	t.Helper()
	dataDir := t.TempDir()
	cfg := testConfig(t, dataDir)

	d := newTestDB(t)
	ignore := NewSyncIgnoreList(dataDir)
	ignore.Load()

	return NewSyncEngine(fake, d, cfg, ignore), d, dataDir
}

func TestEngine_RemoteOnlyCreate(t *testing.T) {
	fake := newFakeSession()
	fake.addFolder("fold-a", "/a")
	content := []byte("0123456789")
	fake.addDocument("doc-b", "/a/b.txt", content)

	engine, d, dataDir := newTestEngine(t, fake)
	require.NoError(t, engine.RunSync(context.Background()))

	got, err := os.ReadFile(AbsPathOf(dataDir, "a/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	entry, err := d.Get("a/b.txt")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "doc-b", entry.RemoteID)

	token, err := d.ChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, "T1", token)
}

func TestEngine_LocalOnlyCreate(t *testing.T) {
	fake := newFakeSession()
	engine, d, dataDir := newTestEngine(t, fake)

	writeLocal(t, dataDir, "a/b.txt", []byte("local doc"))

	require.NoError(t, engine.RunSync(context.Background()))

	assert.Contains(t, fake.createdFolders, "/a")
	assert.Contains(t, fake.createdDocs, "/a/b.txt")

	entry, err := d.Get("a/b.txt")
	require.NoError(t, err)
	require.NotNil(t, entry)

	token, err := d.ChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, "T1", token)
}

func TestEngine_ChangeLogRemoteDeleteOfPopulatedFolder(t *testing.T) {
	fake := newFakeSession()
	engine, d, dataDir := newTestEngine(t, fake)
	engine.cfg.DropFirstEventPerPage = "non-first-only"

	// prior sync state: folder x with two files, everywhere
	writeLocal(t, dataDir, "x/y.txt", []byte("y"))
	writeLocal(t, dataDir, "x/z.txt", []byte("z"))
	for _, row := range []*Entry{
		{LocalRelPath: "x/", RemoteID: "fold-x", RemoteRelPath: "x", ModTime: time.Now(), Kind: EntryFolder},
		{LocalRelPath: "x/y.txt", RemoteID: "doc-y", RemoteRelPath: "x/y.txt", ModTime: time.Now(), Kind: EntryDocument},
		{LocalRelPath: "x/z.txt", RemoteID: "doc-z", RemoteRelPath: "x/z.txt", ModTime: time.Now(), Kind: EntryDocument},
	} {
		require.NoError(t, d.RecordUpload(row))
	}
	require.NoError(t, d.SetChangeLogToken("T0"))

	// the server deleted everything, folder event in the middle
	fake.pages = []*cmis.ChangeList{{
		Events: []cmis.ChangeEvent{
			{ObjectID: "doc-y", Type: cmis.ChangeDeleted, Time: time.Unix(100, 0)},
			{ObjectID: "fold-x", Type: cmis.ChangeDeleted, Time: time.Unix(101, 0)},
			{ObjectID: "doc-z", Type: cmis.ChangeDeleted, Time: time.Unix(102, 0)},
		},
		LatestToken: "T1",
	}}

	require.NoError(t, engine.RunSync(context.Background()))

	assert.NoFileExists(t, AbsPathOf(dataDir, "x/y.txt"))
	assert.NoFileExists(t, AbsPathOf(dataDir, "x/z.txt"))
	assert.NoDirExists(t, AbsPathOf(dataDir, "x/"))

	count, err := d.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	token, err := d.ChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, "T1", token)
}

func TestEngine_FullSyncRemoteDeletedFolder(t *testing.T) {
	fake := newFakeSession()
	engine, d, dataDir := newTestEngine(t, fake)

	// the folder tree was synced once, then removed on the server; with
	// no prior token the run escalates to a full crawl
	writeLocal(t, dataDir, "x/y.txt", []byte("y"))
	writeLocal(t, dataDir, "x/z.txt", []byte("z"))
	for _, row := range []*Entry{
		{LocalRelPath: "x/", RemoteID: "fold-x", RemoteRelPath: "x", ModTime: time.Now(), Kind: EntryFolder},
		{LocalRelPath: "x/y.txt", RemoteID: "doc-y", RemoteRelPath: "x/y.txt", ModTime: time.Now(), Kind: EntryDocument},
		{LocalRelPath: "x/z.txt", RemoteID: "doc-z", RemoteRelPath: "x/z.txt", ModTime: time.Now(), Kind: EntryDocument},
	} {
		require.NoError(t, d.RecordUpload(row))
	}

	require.NoError(t, engine.RunSync(context.Background()))

	assert.NoDirExists(t, AbsPathOf(dataDir, "x/"))

	count, err := d.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEngine_UpdateDuringChangelogEscalatesToFullSync(t *testing.T) {
	fake := newFakeSession()
	engine, d, dataDir := newTestEngine(t, fake)
	engine.cfg.DropFirstEventPerPage = "non-first-only"

	content := []byte("v2 content")
	obj := fake.addDocument("doc-b", "/b.txt", content)

	// previously synced at v1
	writeLocal(t, dataDir, "b.txt", []byte("v1"))
	require.NoError(t, d.RecordUpload(&Entry{
		LocalRelPath: "b.txt", RemoteID: "doc-b", RemoteRelPath: "b.txt",
		Checksum: md5hex([]byte("v1")), ModTime: time.Now(), Kind: EntryDocument,
	}))
	require.NoError(t, d.SetChangeLogToken("T0"))

	fake.pages = []*cmis.ChangeList{{
		Events: []cmis.ChangeEvent{
			{ObjectID: "doc-b", Type: cmis.ChangeUpdated, Time: time.Unix(100, 0)},
		},
		LatestToken: "T1",
	}}

	require.NoError(t, engine.RunSync(context.Background()))

	// the full crawl applied the remote update
	got, err := os.ReadFile(AbsPathOf(dataDir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	entry, err := d.Get("b.txt")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, obj.Checksum, entry.Checksum)

	token, err := d.ChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, "T1", token)
}

func TestEngine_NoChanges_TokenStays(t *testing.T) {
	fake := newFakeSession()
	engine, d, _ := newTestEngine(t, fake)
	require.NoError(t, d.SetChangeLogToken("T1"))

	require.NoError(t, engine.RunSync(context.Background()))

	token, err := d.ChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, "T1", token)
}

func TestEngine_Unchanged_RefreshesWithoutTransfers(t *testing.T) {
	fake := newFakeSession()
	engine, d, dataDir := newTestEngine(t, fake)

	content := []byte("stable")
	obj := fake.addDocument("doc-b", "/b.txt", content)
	writeLocal(t, dataDir, "b.txt", content)
	require.NoError(t, d.RecordUpload(&Entry{
		LocalRelPath: "b.txt", RemoteID: "doc-b", RemoteRelPath: "b.txt",
		Checksum: obj.Checksum, ModTime: time.Now(), Kind: EntryDocument,
	}))

	require.NoError(t, engine.RunSync(context.Background()))

	assert.Empty(t, fake.uploads)
	assert.Empty(t, fake.deletes)

	entry, err := d.Get("b.txt")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, obj.Checksum, entry.Checksum)
}

func TestEngine_ConcurrentRunRejected(t *testing.T) {
	fake := newFakeSession()
	engine, _, _ := newTestEngine(t, fake)

	engine.running <- struct{}{}
	defer func() { <-engine.running }()

	err := engine.RunSync(context.Background())
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)
}
