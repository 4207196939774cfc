// Package cmis is a thin client for a CMIS-like content repository API:
// folders and documents addressed by stable object ids and hierarchical
// paths, plus a token-cursored change log.
package cmis

import (
	"context"
	"time"

	"github.com/filehaven/cmisync/internal/version"
	"github.com/imroc/req/v3"
)

const (
	v1Repo         = "/api/v1/repo"
	v1Object       = "/api/v1/object"
	v1ObjectByPath = "/api/v1/object-by-path"
	v1Children     = "/api/v1/children"
	v1Changes      = "/api/v1/changes"
	v1Folder       = "/api/v1/folder"
	v1Document     = "/api/v1/document"
	v1Content      = "/api/v1/content"

	defaultCallTimeout = 60 * time.Second
)

// SessionOpts configures a repository session.
type SessionOpts struct {
	ServerURL string
	RepoID    string
	Username  string
	Password  string
	// CallTimeout bounds every API call. Zero means defaultCallTimeout.
	CallTimeout time.Duration
}

// Session is an authenticated connection to one repository.
type Session struct {
	client *req.Client
	repoID string
}

// NewSession creates a repository session.
func NewSession(opts *SessionOpts) (*Session, error) {
	if opts.ServerURL == "" {
		return nil, ErrNoServerURL
	}
	if opts.RepoID == "" {
		return nil, ErrNoRepoID
	}

	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	client := req.C().
		SetBaseURL(opts.ServerURL).
		SetTimeout(timeout).
		SetCommonRetryCount(2).
		SetCommonRetryBackoffInterval(500*time.Millisecond, 5*time.Second).
		SetCommonQueryParam("repo", opts.RepoID).
		SetCommonErrorResult(&APIError{}).
		SetUserAgent("CmiSync/" + version.Version).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if opts.Username != "" {
		client.SetCommonBasicAuth(opts.Username, opts.Password)
	}

	return &Session{
		client: client,
		repoID: opts.RepoID,
	}, nil
}

// Close releases the underlying transport.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

// RepoID returns the repository id the session is bound to.
func (s *Session) RepoID() string {
	return s.repoID
}

// GetRepositoryInfo fetches the repository descriptor, including the latest
// change-log token and case sensitivity.
func (s *Session) GetRepositoryInfo(ctx context.Context) (info *RepositoryInfo, err error) {
	res, err := s.client.R().
		SetContext(ctx).
		SetSuccessResult(&info).
		Get(v1Repo)

	if err := handleAPIError(res, err, "repository info"); err != nil {
		return nil, err
	}

	return info, nil
}

// GetChangeLogToken returns the server's current change-log token.
func (s *Session) GetChangeLogToken(ctx context.Context) (string, error) {
	info, err := s.GetRepositoryInfo(ctx)
	if err != nil {
		return "", err
	}
	return info.LatestChangeLogToken, nil
}
