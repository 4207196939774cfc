package cmis

import (
	"context"
	"fmt"

	"github.com/filehaven/cmisync/internal/utils"
)

// CreateDocument creates a document under parentID with the content of the
// local file at filePath.
func (s *Session) CreateDocument(ctx context.Context, parentID, name, filePath string) (obj *Object, err error) {
	if !utils.FileExists(filePath) {
		return nil, fmt.Errorf("create document %q: source file missing: %s", name, filePath)
	}

	res, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("parentId", parentID).
		SetQueryParam("name", name).
		SetRetryCount(0).
		SetFile("content", filePath).
		SetSuccessResult(&obj).
		Post(v1Document)

	if err := handleAPIError(res, err, "create document"); err != nil {
		return nil, err
	}

	return obj, nil
}

// UploadContent replaces the content stream of an existing document.
func (s *Session) UploadContent(ctx context.Context, id, filePath string) (obj *Object, err error) {
	if !utils.FileExists(filePath) {
		return nil, fmt.Errorf("upload content %q: source file missing: %s", id, filePath)
	}

	res, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetRetryCount(0).
		SetFile("content", filePath).
		SetSuccessResult(&obj).
		Put(v1Content + "/{id}")

	if err := handleAPIError(res, err, "upload content"); err != nil {
		return nil, err
	}

	return obj, nil
}

// DownloadContent streams a document's content to destPath.
// The response body is written directly to the file.
func (s *Session) DownloadContent(ctx context.Context, id, destPath string) error {
	if err := utils.EnsureParent(destPath); err != nil {
		return fmt.Errorf("download content %q: %w", id, err)
	}

	res, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		DisableAutoReadResponse().
		SetOutputFile(destPath).
		Get(v1Content + "/{id}")

	return handleAPIError(res, err, "download content")
}
