package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the item finished its pass.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type ErrorKind string

const (
	KindNone      ErrorKind = ""
	KindTimeout   ErrorKind = "timeout"
	KindNetwork   ErrorKind = "network"
	KindService   ErrorKind = "service"
	KindSource    ErrorKind = "source"
	KindStorage   ErrorKind = "storage"
	KindCancelled ErrorKind = "cancelled"
)

type QueueItem struct {
	ID         string    `json:"id"`
	SourceRef  string    `json:"source_ref"`
	ResultRef  string    `json:"result_ref,omitempty"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Attempts   int       `json:"attempts"`
}

// FinishedImage is what the finishing server sends back for one source.
type FinishedImage struct {
	Data        []byte
	ContentType string
	Filename    string
}

var (
	ErrTimeout   = errors.New("request timed out")
	ErrNetwork   = errors.New("unable to connect to server")
	ErrSource    = errors.New("source image unavailable")
	ErrStorage   = errors.New("result storage failed")
	ErrCancelled = errors.New("batch cancelled")

	ErrEmptyBatch   = errors.New("batch has no items")
	ErrBusy         = errors.New("batch already running")
	ErrItemNotFound = errors.New("item not found")
	ErrNotRetryable = errors.New("item is not in a terminal state")
)

// ServiceError is a non-2xx answer from the finishing server. Message is the
// server's own text and is shown to the user unchanged.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server returned status %d", e.StatusCode)
}

// Classify maps an item error onto the kind recorded next to its message.
func Classify(err error) ErrorKind {
	var svc *ServiceError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.As(err, &svc):
		return KindService
	case errors.Is(err, ErrSource):
		return KindSource
	case errors.Is(err, ErrStorage):
		return KindStorage
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindService
	}
}

// Message renders the text stored on a failed item.
func Message(err error) string {
	var svc *ServiceError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "Request timed out. Please try again."
	case errors.Is(err, ErrNetwork):
		return "Unable to connect to server. Please check your connection."
	case errors.As(err, &svc):
		return svc.Error()
	default:
		return err.Error()
	}
}
