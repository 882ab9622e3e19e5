// Package dropbox provides an HTTP client for the Dropbox API v2 with
// bearer authentication, token lifecycle management, and error
// classification. Per the single-shot call model, requests are never
// retried; failures surface to the caller unmodified.
package dropbox

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the client's own failure modes.
var (
	// ErrInvalidAPI is returned when a request names an API category
	// other than APIControl or APIContent.
	ErrInvalidAPI = errors.New("dropbox: invalid API type")

	// ErrNoToken is returned when no token source was configured and no
	// cached token exists.
	ErrNoToken = errors.New("dropbox: no token available")

	// ErrRefreshFailed is returned when a cached token is expired and
	// the silent refresh against the token endpoint fails. It is never
	// converted into an interactive re-authorization automatically; the
	// caller decides whether to force a fresh login.
	ErrRefreshFailed = errors.New("dropbox: token refresh failed")

	// ErrFileNotFound is returned by Upload when the local file does
	// not exist. Checked before any request is built.
	ErrFileNotFound = errors.New("dropbox: local file not found")
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, dropbox.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("dropbox: bad request")
	ErrUnauthorized = errors.New("dropbox: unauthorized")
	ErrForbidden    = errors.New("dropbox: forbidden")
	ErrNotFound     = errors.New("dropbox: not found")
	ErrConflict     = errors.New("dropbox: conflict")
	ErrThrottled    = errors.New("dropbox: throttled")
	ErrServerError  = errors.New("dropbox: server error")

	// ErrHTTPFailure covers every non-2xx status without a sentinel of
	// its own, so errors.Is always has something to match.
	ErrHTTPFailure = errors.New("dropbox: http failure")
)

// APIError wraps a sentinel error with the HTTP status code and the API
// error summary for debugging. Dropbox puts a human-readable
// "error_summary" in JSON error bodies; the raw body is kept when it is
// not JSON.
type APIError struct {
	StatusCode int
	Summary    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dropbox: HTTP %d: %s", e.StatusCode, e.Summary)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrHTTPFailure
	}
}
