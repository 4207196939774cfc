package cmis

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL = errors.New("cmis: server url missing")
	ErrNoRepoID    = errors.New("cmis: repository id missing")
)

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeAccessDenied   = "E_ACCESS_DENIED"   // access denied
	CodeUnknownError   = "E_UNKNOWN_ERR"     // unknown error

	// Object errors
	CodeObjectNotFound = "E_OBJECT_NOT_FOUND" // the object or path does not exist
	CodeNameTaken      = "E_NAME_TAKEN"       // a sibling with the same name exists

	// Change log errors
	CodeChangeLogUnsupported = "E_CHANGELOG_UNSUPPORTED" // repository has no usable change log
)

// APIError represents errors returned by the repository API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// IsNotFound reports whether err carries the object-not-found code.
// During change-log processing of deletions this is a normal signal,
// not a failure.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeObjectNotFound
}

// IsTimeout reports whether err is a deadline or network timeout.
// The processor retries these once, then fails the item.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// handleAPIError folds the transport error and the response error state
// into a single wrapped error.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	// got a response, but api returned an error
	if resp.IsErrorState() {
		if err, ok := resp.ErrorResult().(*APIError); ok {
			return fmt.Errorf("%s %w", operation, err)
		}

		return fmt.Errorf("api error: %s %s", operation, resp.Dump())
	}

	return nil
}
