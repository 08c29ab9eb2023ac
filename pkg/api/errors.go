package api

import (
	"errors"
	"fmt"
)

// Failure classes of a portal API call.
var (
	ErrTransport        = errors.New("transport failure")
	ErrMalformedPayload = errors.New("malformed payload")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsStatus reports whether err carries a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

var (
	ErrEmptyMessage          = errors.New("message is empty")
	ErrSendInFlight          = errors.New("a send is already in flight")
	ErrUploadInFlight        = errors.New("an upload is already in flight")
	ErrUnsupportedAttachment = errors.New("unsupported attachment kind")
	ErrNotFailed             = errors.New("message has not failed")
	ErrUnknownMessage        = errors.New("message not in timeline")
	ErrNoActiveThread        = errors.New("no thread is open")
	ErrStaleThread           = errors.New("thread is no longer open")
	ErrNotAdmin              = errors.New("only group admins can do that")
	ErrCreatorImmutable      = errors.New("the group creator cannot be removed, demoted or leave")
	ErrGroupTooSmall         = errors.New("a group needs at least two members besides the creator")
	ErrUnknownGroup          = errors.New("group not found")
)
