package presage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyVideo is returned when asked to upload a zero-length video.
var ErrEmptyVideo = errors.New("video is empty")

// SlotRequestError represents a non-2xx response from the upload-url endpoint.
type SlotRequestError struct {
	StatusCode int
	Body       string
}

func (e *SlotRequestError) Error() string {
	return fmt.Sprintf("upload url request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx).
func (e *SlotRequestError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// SlotCountError is returned when the service hands back a number of upload
// slots that does not match the number of chunks the video splits into.
type SlotCountError struct {
	Want int
	Got  int
}

func (e *SlotCountError) Error() string {
	return fmt.Sprintf("upload url response has %d slots, want %d", e.Got, e.Want)
}

// ChunkUploadError represents a failed PUT of a single chunk to its slot URL.
// StatusCode is zero when the response was 2xx but carried no ETag.
type ChunkUploadError struct {
	PartNumber int
	StatusCode int
	Reason     string
}

func (e *ChunkUploadError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("chunk upload failed (part %d): %s", e.PartNumber, e.Reason)
	}
	return fmt.Sprintf("chunk upload failed (part %d, status %d)", e.PartNumber, e.StatusCode)
}

func (e *ChunkUploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// FinalizeError represents a non-2xx response from the complete endpoint.
type FinalizeError struct {
	StatusCode int
	Body       string
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("upload complete failed: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *FinalizeError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// AuthError is returned when the service rejects the API key.
type AuthError struct {
	Body string
}

func (e *AuthError) Error() string {
	return "unauthorized: check your API key"
}

func (e *AuthError) IsRetryable() bool {
	return false
}

// RetrieveError represents a retrieve-data response that is neither ready,
// pending nor unauthorized.
type RetrieveError struct {
	StatusCode int
	Body       string
}

func (e *RetrieveError) Error() string {
	return fmt.Sprintf("retrieve failed: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *RetrieveError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// TimeoutError is returned when the analysis is still pending at the poll
// deadline.
type TimeoutError struct {
	Timeout  time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("processing timed out after %s (%d attempts)", e.Timeout, e.Attempts)
}

func (e *TimeoutError) IsRetryable() bool {
	return true
}

// Kind names the class of a client error for logs and metrics.
func Kind(err error) string {
	var (
		slotErr     *SlotRequestError
		countErr    *SlotCountError
		chunkErr    *ChunkUploadError
		finalizeErr *FinalizeError
		authErr     *AuthError
		retrieveErr *RetrieveError
		timeoutErr  *TimeoutError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &slotErr):
		return "slot_request"
	case errors.As(err, &countErr):
		return "slot_count"
	case errors.As(err, &chunkErr):
		return "chunk_upload"
	case errors.As(err, &finalizeErr):
		return "finalize"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &retrieveErr):
		return "retrieve"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.Is(err, ErrEmptyVideo):
		return "empty_video"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "transport"
	}
}
