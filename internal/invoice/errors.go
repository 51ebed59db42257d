package invoice

import (
	"context"
	"errors"

	"github.com/zombor/invoice-pipeline/internal/document"
	"github.com/zombor/invoice-pipeline/internal/scanning"
)

var (
	// ErrNoFile rejects a request that carries no blob
	ErrNoFile = errors.New("no file provided")

	// ErrNotFound is returned when no record has the requested ID
	ErrNotFound = errors.New("invoice not found")

	// ErrPersistence is returned when the invoice store fails
	ErrPersistence = errors.New("persistence error")
)

// ErrorKind is the failure taxonomy reported on Failed items
type ErrorKind string

const (
	KindUnsupportedFileType  ErrorKind = "UnsupportedFileType"
	KindArchiveCorrupt       ErrorKind = "ArchiveCorrupt"
	KindModelTimeout         ErrorKind = "ModelTimeout"
	KindModelInvalidResponse ErrorKind = "ModelInvalidResponse"
	KindNetworkError         ErrorKind = "NetworkError"
	KindPersistenceError     ErrorKind = "PersistenceError"
	KindCancelled            ErrorKind = "Cancelled"
	KindInternal             ErrorKind = "Internal"
)

const internalMessage = "unexpected error processing item"

// Error is the diagnostic attached to an ItemResult
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Classify maps a stage error onto the taxonomy. Unrecognized errors
// become Internal with a generic message.
func Classify(err error) *Error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Message: "batch cancelled before the item started"}
	case errors.Is(err, document.ErrUnsupported), errors.Is(err, scanning.ErrUnreadableImage):
		return &Error{Kind: KindUnsupportedFileType, Message: err.Error()}
	case errors.Is(err, document.ErrArchiveCorrupt):
		return &Error{Kind: KindArchiveCorrupt, Message: err.Error()}
	case errors.Is(err, scanning.ErrTimeout):
		return &Error{Kind: KindModelTimeout, Message: err.Error()}
	case errors.Is(err, scanning.ErrInvalidResponse):
		return &Error{Kind: KindModelInvalidResponse, Message: err.Error()}
	case errors.Is(err, scanning.ErrNetwork):
		return &Error{Kind: KindNetworkError, Message: err.Error()}
	case errors.Is(err, ErrPersistence):
		return &Error{Kind: KindPersistenceError, Message: err.Error()}
	default:
		return &Error{Kind: KindInternal, Message: internalMessage}
	}
}
