package scanning

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrTimeout is returned when a model call exceeds its deadline
	ErrTimeout = errors.New("model timeout")

	// ErrNetwork is returned when a model endpoint cannot be reached or rejects the call
	ErrNetwork = errors.New("model network error")

	// ErrInvalidResponse is returned when a model reply is not a valid invoice object
	ErrInvalidResponse = errors.New("model invalid response")

	// ErrUnreadableImage is returned when an image or page cannot be decoded or rendered
	ErrUnreadableImage = errors.New("unreadable image")
)

// classifyCallError tags a failed model call with ErrTimeout or ErrNetwork.
// Cancellation of the caller's context is passed through unchanged.
func classifyCallError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrNetwork), errors.Is(err, ErrInvalidResponse):
		return err
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	// Gemini surfaces deadlines as gRPC status codes.
	if status.Code(err) == codes.DeadlineExceeded {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// classifyDecodeError separates a reply body cut off by a deadline from a malformed one
func classifyDecodeError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return classifyCallError(err)
	}
	return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
}
