package post_archiver

import (
	"errors"
	"fmt"
)

var (
	ErrStorageNotConfigured = errors.New("storage is not configured")
	ErrNoVideoStream        = errors.New("no video stream found")
)

// ValidationError rejects a post before any side effect has happened.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid post: %s: %s", e.Field, e.Message)
}

type SinkErrorKind string

const (
	SinkUnauthorized SinkErrorKind = "unauthorized"
	SinkInvalid      SinkErrorKind = "invalid"
	SinkFailed       SinkErrorKind = "failed"
)

// SinkError is returned by the document and storage clients, distinguishing authorization failures from rejected
// input from everything else.
type SinkError struct {
	Sink   string
	Op     string
	Kind   SinkErrorKind
	Status int
	Err    error
}

func (e *SinkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %s (HTTP %d): %v", e.Sink, e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Sink, e.Op, e.Kind, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// SinkKindForStatus classifies an HTTP status code returned by a sink API.
func SinkKindForStatus(status int) SinkErrorKind {
	switch {
	case status == 401 || status == 403:
		return SinkUnauthorized
	case status == 400 || status == 409 || status == 422:
		return SinkInvalid
	default:
		return SinkFailed
	}
}

// IsSinkKind returns true if err is a *SinkError of the given kind.
func IsSinkKind(err error, kind SinkErrorKind) bool {
	var sinkErr *SinkError
	return errors.As(err, &sinkErr) && sinkErr.Kind == kind
}
