package sync

import (
	"context"

	"github.com/filehaven/cmisync/internal/cmis"
)

// Session is the slice of the repository API the pipeline depends on.
// *cmis.Session satisfies it; tests substitute a fake.
type Session interface {
	GetRepositoryInfo(ctx context.Context) (*cmis.RepositoryInfo, error)
	GetContentChanges(ctx context.Context, token string, max int) (*cmis.ChangeList, error)
	GetObject(ctx context.Context, id string) (*cmis.Object, error)
	GetObjectByPath(ctx context.Context, path string) (*cmis.Object, error)
	GetChildren(ctx context.Context, folderID string) ([]*cmis.Object, error)
	CreateFolder(ctx context.Context, parentID, name string) (*cmis.Object, error)
	CreateDocument(ctx context.Context, parentID, name, filePath string) (*cmis.Object, error)
	UploadContent(ctx context.Context, id, filePath string) (*cmis.Object, error)
	DownloadContent(ctx context.Context, id, destPath string) error
	DeleteObject(ctx context.Context, id string) error
	Rename(ctx context.Context, id, name string) (*cmis.Object, error)
}

var _ Session = (*cmis.Session)(nil)
