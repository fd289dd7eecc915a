package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/parseqri/parseqri/internal/observability"
)

type RetryConfig struct {
	// Attempts includes the first call.
	Attempts int
	// Delay is the wait before the first retry. It doubles on each retry.
	Delay time.Duration
	// AttemptTimeout bounds a single call. Zero leaves only the caller's deadline.
	AttemptTimeout time.Duration
	Logger         *slog.Logger
}

// Retrying retries transient model failures with exponential backoff.
type Retrying struct {
	model  Model
	cfg    RetryConfig
	logger *slog.Logger
}

func NewRetrying(model Model, cfg RetryConfig) *Retrying {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Retrying{model: model, cfg: cfg, logger: logger}
}

func (r *Retrying) Infer(ctx context.Context, prompt Prompt) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		out, err := r.attempt(ctx, prompt)
		if err == nil && strings.TrimSpace(out) == "" {
			err = ErrEmptyResponse
		}
		if err == nil {
			observability.ObserveInferenceAttempt("ok")
			return out, nil
		}
		lastErr = err

		if !retryable(ctx, err) {
			observability.ObserveInferenceAttempt("failed")
			return "", err
		}
		if attempt == r.cfg.Attempts {
			break
		}
		observability.ObserveInferenceAttempt("retry")

		wait := r.cfg.Delay * time.Duration(1<<(attempt-1))
		r.logger.Warn("model call failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	observability.ObserveInferenceAttempt("failed")
	return "", fmt.Errorf("model call failed after %d attempts: %w", r.cfg.Attempts, lastErr)
}

func (r *Retrying) attempt(ctx context.Context, prompt Prompt) (string, error) {
	if r.cfg.AttemptTimeout <= 0 {
		return r.model.Infer(ctx, prompt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	return r.model.Infer(attemptCtx, prompt)
}

// retryable reports whether err is worth another attempt. The caller's own
// cancellation or deadline never is; a per-attempt deadline is.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if status := httpStatus(err); status != 0 {
		return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
	}
	return true
}

func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
