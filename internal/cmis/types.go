package cmis

import "time"

// ObjectKind is the base type of a repository object.
type ObjectKind string

const (
	KindFolder   ObjectKind = "folder"
	KindDocument ObjectKind = "document"
)

// Object is the server's view of a folder or document.
type Object struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	Kind        ObjectKind `json:"kind"`
	Size        int64      `json:"size,omitempty"`
	Checksum    string     `json:"checksum,omitempty"`
	ModifiedAt  time.Time  `json:"modifiedAt"`
	ChangeToken string     `json:"changeToken,omitempty"`
}

// IsFolder reports whether the object is a folder.
func (o *Object) IsFolder() bool {
	return o.Kind == KindFolder
}

// ChangeType classifies a change-log event.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeUpdated  ChangeType = "updated"
	ChangeDeleted  ChangeType = "deleted"
	ChangeSecurity ChangeType = "security"
)

// ChangeEvent is a single entry of the repository change log.
// Time is zero when the server does not report event timestamps.
type ChangeEvent struct {
	ObjectID string     `json:"objectId"`
	Type     ChangeType `json:"changeType"`
	Time     time.Time  `json:"changeTime,omitempty"`
}

// ChangeList is one page of the change log.
type ChangeList struct {
	Events      []ChangeEvent `json:"events"`
	LatestToken string        `json:"latestToken"`
	HasMore     bool          `json:"hasMoreItems"`
}

// Capabilities advertises optional repository features.
type Capabilities struct {
	Changes       bool `json:"changes"`
	ContentHashes bool `json:"contentHashes"`
}

// RepositoryInfo describes the remote repository.
type RepositoryInfo struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	RootFolderID         string       `json:"rootFolderId"`
	LatestChangeLogToken string       `json:"latestChangeLogToken"`
	CaseSensitive        bool         `json:"caseSensitive"`
	Capabilities         Capabilities `json:"capabilities"`
}

type childrenResponse struct {
	Objects []*Object `json:"objects"`
}

type createFolderRequest struct {
	ParentID string `json:"parentId"`
	Name     string `json:"name"`
}

type renameRequest struct {
	Name string `json:"name"`
}
