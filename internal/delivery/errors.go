package delivery

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoDestination is returned when no server URL is configured.
	ErrNoDestination = errors.New("server url is not set, cannot send spans to server")

	// ErrSenderClosed is returned once the asynchronous path has been shut down
	// and can no longer schedule requests.
	ErrSenderClosed = errors.New("cannot schedule new requests after sender shutdown")
)

// maxErrorBody is how much of a failed response body is kept for diagnostics.
const maxErrorBody = 200

// StatusError is a non-success HTTP response.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s - %s", status, e.Body)
}

// BatchError records the failure of one batch.
type BatchError struct {
	// Index is 1-based, matching log output.
	Index int
	Total int
	Spans int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d/%d (%d spans): %v", e.Index, e.Total, e.Spans, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// SendError aggregates every failed batch of one send operation.
type SendError struct {
	Batches []*BatchError
	Total   int
}

func (e *SendError) Error() string {
	parts := make([]string, len(e.Batches))
	for i, b := range e.Batches {
		parts[i] = b.Error()
	}
	return fmt.Sprintf("failed to send %d of %d batches: %s", len(e.Batches), e.Total, strings.Join(parts, "; "))
}

// Unwrap exposes the batch errors to errors.Is and errors.As.
func (e *SendError) Unwrap() []error {
	errs := make([]error, len(e.Batches))
	for i, b := range e.Batches {
		errs[i] = b
	}
	return errs
}

// FailedSpans returns the number of spans in failed batches.
func (e *SendError) FailedSpans() int {
	n := 0
	for _, b := range e.Batches {
		n += b.Spans
	}
	return n
}
