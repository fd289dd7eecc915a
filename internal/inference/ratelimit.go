package inference

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited caps the request rate a process sends to its model backend.
type RateLimited struct {
	model   Model
	limiter *rate.Limiter
}

// NewRateLimited returns model unchanged when requestsPerSecond is not positive.
func NewRateLimited(model Model, requestsPerSecond float64, burst int) Model {
	if requestsPerSecond <= 0 {
		return model
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{model: model, limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

func (m *RateLimited) Infer(ctx context.Context, prompt Prompt) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for model rate limit: %w", err)
	}
	return m.model.Infer(ctx, prompt)
}
