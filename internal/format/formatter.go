// Package format turns executed rows into an answer and, for visualization
// questions, a chart hint.
package format

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parseqri/parseqri/internal/inference"
	"github.com/parseqri/parseqri/internal/observability"
	"github.com/parseqri/parseqri/internal/pipeline"
)

const phrasingPrompt = "You are a data analyst. Answer the user's question in one short paragraph using only the rows provided. " +
	"Include specific numbers. Do not mention SQL."

const defaultPhrasingRows = 20

type Options struct {
	// Model phrases answers when set. The deterministic summary is used
	// whenever it is nil or fails.
	Model        inference.Model
	PhrasingRows int
	Logger       *slog.Logger
}

type Formatter struct {
	model        inference.Model
	phrasingRows int
	logger       *slog.Logger
}

func New(opts Options) *Formatter {
	rows := opts.PhrasingRows
	if rows <= 0 {
		rows = defaultPhrasingRows
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Formatter{model: opts.Model, phrasingRows: rows, logger: logger}
}

func (f *Formatter) Format(ctx context.Context, question string, rs pipeline.ResultSet, intent pipeline.Intent) (pipeline.Formatted, error) {
	out := pipeline.Formatted{Answer: Summarize(question, rs)}
	if intent == pipeline.IntentVisualization {
		out.ChartHint = ChooseChart(rs)
	}
	if f.model == nil || len(rs.Rows) == 0 {
		return out, nil
	}

	phrased, err := f.phrase(ctx, question, rs)
	switch {
	case err == nil:
		out.Answer = phrased
	case ctx.Err() != nil:
		return pipeline.Formatted{}, err
	default:
		f.logger.Warn("answer phrasing failed, using summary", slog.Any("error", err))
	}
	return out, nil
}

func (f *Formatter) phrase(ctx context.Context, question string, rs pipeline.ResultSet) (string, error) {
	sample := rs.Rows
	if len(sample) > f.phrasingRows {
		sample = sample[:f.phrasingRows]
	}
	payload, err := json.Marshal(sample)
	if err != nil {
		return "", fmt.Errorf("marshal rows: %w", err)
	}
	answer, err := f.model.Infer(ctx, inference.Prompt{
		System: phrasingPrompt,
		User: fmt.Sprintf("Question: %s\nRows returned: %d (showing %d)\nRows (JSON):\n%s",
			strings.TrimSpace(question), len(rs.Rows), len(sample), payload),
	})
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", inference.ErrEmptyResponse
	}
	return answer, nil
}
