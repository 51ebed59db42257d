package scanning

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// limitedModel throttles calls to a shared external endpoint
type limitedModel struct {
	Model
	limiter *rate.Limiter
}

// NewLimited wraps a Model so every Generate call first waits on limiter.
// The limiter should be shared by all adapters that reach the same endpoint.
func NewLimited(model Model, limiter *rate.Limiter) Model {
	if limiter == nil {
		return model
	}
	return &limitedModel{Model: model, limiter: limiter}
}

func (l *limitedModel) Generate(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", fmt.Errorf("waiting for rate limiter: %w", ctx.Err())
		}
		// Wait fails early when the deadline would pass before a token frees up.
		return "", fmt.Errorf("%w: waiting for rate limiter: %v", ErrTimeout, err)
	}
	return l.Model.Generate(ctx, req)
}
