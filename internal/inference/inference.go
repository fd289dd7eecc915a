// Package inference wraps chat models behind a single prompt-in, text-out
// call. Retries and rate limiting live here and nowhere else in the pipeline.
package inference

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a model answers with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

type Prompt struct {
	System string
	User   string
}

type Model interface {
	Infer(ctx context.Context, prompt Prompt) (string, error)
}

// Func adapts a plain function to Model.
type Func func(ctx context.Context, prompt Prompt) (string, error)

func (f Func) Infer(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}
