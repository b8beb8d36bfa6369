package drive

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	// ErrNotFound is returned when a file id does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrUnauthorized is returned when the credentials are rejected.
	ErrUnauthorized = errors.New("not authorized for Google Drive")

	// ErrMissingCredentials is returned when layout.credentials cannot be used.
	ErrMissingCredentials = errors.New("missing Google Drive credentials")
)

// StoreError wraps a failed Drive call.
type StoreError struct {
	Op     string
	Status int // HTTP status, 0 when the call never got a response
	Err    error
}

func (e *StoreError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("drive: %s failed (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("drive: %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// wrapError classifies err for callers and for the retry loop.
func wrapError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		serr := &StoreError{Op: op, Status: apiErr.Code, Err: err}
		switch apiErr.Code {
		case http.StatusNotFound:
			serr.Err = fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			if !isRateLimited(apiErr) {
				serr.Err = fmt.Errorf("%w: %v", ErrUnauthorized, err)
			}
		}
		return serr
	}
	return &StoreError{Op: op, Err: err}
}

// isRetryable reports whether a call that failed with err may succeed when repeated.
func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 || isRateLimited(apiErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Drive reports quota exhaustion as 403 with a rate limit reason.
func isRateLimited(apiErr *googleapi.Error) bool {
	if apiErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
