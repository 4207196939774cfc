package cmis

import (
	"context"
)

// GetObject fetches an object by its id.
func (s *Session) GetObject(ctx context.Context, id string) (obj *Object, err error) {
	res, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&obj).
		Get(v1Object + "/{id}")

	if err := handleAPIError(res, err, "get object"); err != nil {
		return nil, err
	}

	return obj, nil
}

// GetObjectByPath fetches an object by its repository path.
func (s *Session) GetObjectByPath(ctx context.Context, path string) (obj *Object, err error) {
	res, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("path", path).
		SetSuccessResult(&obj).
		Get(v1ObjectByPath)

	if err := handleAPIError(res, err, "get object by path"); err != nil {
		return nil, err
	}

	return obj, nil
}

// GetChildren lists the direct children of a folder in server order.
func (s *Session) GetChildren(ctx context.Context, folderID string) ([]*Object, error) {
	var children childrenResponse
	res, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", folderID).
		SetSuccessResult(&children).
		Get(v1Children + "/{id}")

	if err := handleAPIError(res, err, "get children"); err != nil {
		return nil, err
	}

	return children.Objects, nil
}

// CreateFolder creates a folder under parentID.
func (s *Session) CreateFolder(ctx context.Context, parentID, name string) (obj *Object, err error) {
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(&createFolderRequest{ParentID: parentID, Name: name}).
		SetSuccessResult(&obj).
		Post(v1Folder)

	if err := handleAPIError(res, err, "create folder"); err != nil {
		return nil, err
	}

	return obj, nil
}

// DeleteObject removes an object. Deleting a folder requires it to be empty.
func (s *Session) DeleteObject(ctx context.Context, id string) error {
	res, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Delete(v1Object + "/{id}")

	return handleAPIError(res, err, "delete object")
}

// Rename changes an object's name in place.
func (s *Session) Rename(ctx context.Context, id, name string) (obj *Object, err error) {
	res, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetBody(&renameRequest{Name: name}).
		SetSuccessResult(&obj).
		Post(v1Object + "/{id}/rename")

	if err := handleAPIError(res, err, "rename object"); err != nil {
		return nil, err
	}

	return obj, nil
}
