package sync

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/filehaven/cmisync/internal/cmis"
)

// fakeSession is an in-memory repository for pipeline tests.
type fakeSession struct {
	mu gosync.Mutex

	info    *cmis.RepositoryInfo
	objects map[string]*cmis.Object // by id
	content map[string][]byte       // by id

	// change feed pages served in order; the last page is re-served when
	// callers ask again
	pages []*cmis.ChangeList

	createdFolders []string
	createdDocs    []string
	uploads        []string
	deletes        []string

	nextID int
}

func newFakeSession() *fakeSession {
	fs := &fakeSession{
		info: &cmis.RepositoryInfo{
			ID:                   "repo",
			Name:                 "test repo",
			RootFolderID:         "root",
			LatestChangeLogToken: "T1",
			CaseSensitive:        true,
			Capabilities:         cmis.Capabilities{Changes: true, ContentHashes: true},
		},
		objects: make(map[string]*cmis.Object),
		content: make(map[string][]byte),
	}
	fs.objects["root"] = &cmis.Object{ID: "root", Name: "", Path: "/", Kind: cmis.KindFolder}
	return fs
}

// addFolder registers a remote folder at path ("/a").
func (f *fakeSession) addFolder(id, path string) *cmis.Object {
	obj := &cmis.Object{
		ID:         id,
		Name:       path[strings.LastIndex(path, "/")+1:],
		Path:       path,
		Kind:       cmis.KindFolder,
		ModifiedAt: time.Unix(1700000000, 0),
	}
	f.objects[id] = obj
	return obj
}

// addDocument registers a remote document with content.
func (f *fakeSession) addDocument(id, path string, content []byte) *cmis.Object {
	obj := &cmis.Object{
		ID:         id,
		Name:       path[strings.LastIndex(path, "/")+1:],
		Path:       path,
		Kind:       cmis.KindDocument,
		Size:       int64(len(content)),
		Checksum:   fmt.Sprintf("%x", md5.Sum(content)),
		ModifiedAt: time.Unix(1700000000, 0),
	}
	f.objects[id] = obj
	f.content[id] = content
	return obj
}

func notFound(what string) error {
	return cmis.NewAPIError(cmis.CodeObjectNotFound, what+" not found")
}

func (f *fakeSession) GetRepositoryInfo(_ context.Context) (*cmis.RepositoryInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := *f.info
	return &info, nil
}

func (f *fakeSession) GetContentChanges(_ context.Context, token string, _ int) (*cmis.ChangeList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pages) == 0 {
		return &cmis.ChangeList{LatestToken: f.info.LatestChangeLogToken}, nil
	}
	page := f.pages[0]
	if len(f.pages) > 1 {
		f.pages = f.pages[1:]
	}
	return page, nil
}

func (f *fakeSession) GetObject(_ context.Context, id string) (*cmis.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return nil, notFound("object " + id)
	}
	clone := *obj
	return &clone, nil
}

func (f *fakeSession) GetObjectByPath(_ context.Context, path string) (*cmis.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range f.objects {
		if obj.Path == path {
			clone := *obj
			return &clone, nil
		}
	}
	return nil, notFound("path " + path)
}

func (f *fakeSession) GetChildren(_ context.Context, folderID string) ([]*cmis.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.objects[folderID]
	if !ok {
		return nil, notFound("folder " + folderID)
	}
	prefix := parent.Path
	if prefix != "/" {
		prefix += "/"
	}

	var children []*cmis.Object
	for _, obj := range f.objects {
		if obj.ID == folderID || !strings.HasPrefix(obj.Path, prefix) {
			continue
		}
		if strings.Contains(strings.TrimPrefix(obj.Path, prefix), "/") {
			continue
		}
		clone := *obj
		children = append(children, &clone)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })
	return children, nil
}

func (f *fakeSession) CreateFolder(_ context.Context, parentID, name string) (*cmis.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.objects[parentID]
	if !ok {
		return nil, notFound("folder " + parentID)
	}
	path := parent.Path + "/" + name
	if parent.Path == "/" {
		path = "/" + name
	}
	f.nextID++
	obj := &cmis.Object{
		ID:         fmt.Sprintf("f%d", f.nextID),
		Name:       name,
		Path:       path,
		Kind:       cmis.KindFolder,
		ModifiedAt: time.Unix(1700000100, 0),
	}
	f.objects[obj.ID] = obj
	f.createdFolders = append(f.createdFolders, path)
	clone := *obj
	return &clone, nil
}

func (f *fakeSession) CreateDocument(_ context.Context, parentID, name, filePath string) (*cmis.Object, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.objects[parentID]
	if !ok {
		return nil, notFound("folder " + parentID)
	}
	path := parent.Path + "/" + name
	if parent.Path == "/" {
		path = "/" + name
	}
	f.nextID++
	obj := &cmis.Object{
		ID:         fmt.Sprintf("d%d", f.nextID),
		Name:       name,
		Path:       path,
		Kind:       cmis.KindDocument,
		Size:       int64(len(content)),
		Checksum:   fmt.Sprintf("%x", md5.Sum(content)),
		ModifiedAt: time.Unix(1700000100, 0),
	}
	f.objects[obj.ID] = obj
	f.content[obj.ID] = content
	f.createdDocs = append(f.createdDocs, path)
	clone := *obj
	return &clone, nil
}

func (f *fakeSession) UploadContent(_ context.Context, id, filePath string) (*cmis.Object, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return nil, notFound("object " + id)
	}
	obj.Size = int64(len(content))
	obj.Checksum = fmt.Sprintf("%x", md5.Sum(content))
	f.content[id] = content
	f.uploads = append(f.uploads, obj.Path)
	clone := *obj
	return &clone, nil
}

func (f *fakeSession) DownloadContent(_ context.Context, id, destPath string) error {
	f.mu.Lock()
	content, ok := f.content[id]
	f.mu.Unlock()
	if !ok {
		return notFound("content " + id)
	}
	return os.WriteFile(destPath, content, 0o644)
}

func (f *fakeSession) DeleteObject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return notFound("object " + id)
	}
	delete(f.objects, id)
	delete(f.content, id)
	f.deletes = append(f.deletes, obj.Path)
	return nil
}

func (f *fakeSession) Rename(_ context.Context, id, name string) (*cmis.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return nil, notFound("object " + id)
	}
	obj.Name = name
	clone := *obj
	return &clone, nil
}

var _ Session = (*fakeSession)(nil)
