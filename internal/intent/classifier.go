// Package intent labels questions as data retrieval or visualization.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/parseqri/parseqri/internal/inference"
	"github.com/parseqri/parseqri/internal/observability"
	"github.com/parseqri/parseqri/internal/pipeline"
)

var (
	visualizationPattern = regexp.MustCompile(`\b(charts?|graphs?|plots?|plotted|visuali[sz]e|visuali[sz]ation|visually|visual|pie|bar|histogram|scatter|heatmap|dashboard|diagram|trends?|compare|comparison|distribution|over time|breakdown)\b`)
	retrievalPattern     = regexp.MustCompile(`\b(list|count|how many|find|show me all|get|fetch|retrieve|lookup|look up)\b`)
)

const systemPrompt = "You decide whether a question about a dataset is best answered with a chart. " +
	"Answer with a single word: yes if the question asks for a comparison, distribution, trend or pattern " +
	"that is easier to understand visually, no if a table or a sentence answers it."

// Classifier resolves most questions with keyword patterns and asks the model
// only when neither pattern set matches. Model may be nil. A model that cannot
// be reached fails the stage; an answer that is neither yes nor no counts as
// data retrieval.
type Classifier struct {
	model  inference.Model
	logger *slog.Logger
}

func New(model inference.Model, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Classifier{model: model, logger: logger}
}

func (c *Classifier) Classify(ctx context.Context, question string) (pipeline.Intent, error) {
	if intent, ok := ByPattern(question); ok {
		return intent, nil
	}
	if c.model == nil {
		return pipeline.IntentDataRetrieval, nil
	}

	answer, err := c.model.Infer(ctx, inference.Prompt{
		System: systemPrompt,
		User:   "Question: " + strings.TrimSpace(question),
	})
	if err != nil {
		return "", pipeline.Classify(pipeline.StageIntent, fmt.Errorf("classify intent: %w", err), pipeline.KindConnection)
	}
	intent, ok := parseAnswer(answer)
	if !ok {
		c.logger.Debug("intent answer not recognised, using data_retrieval", slog.String("answer", answer))
	}
	return intent, nil
}

// ByPattern classifies question from keywords alone. ok is false when the
// question matches neither set.
func ByPattern(question string) (pipeline.Intent, bool) {
	q := strings.ToLower(strings.Join(strings.Fields(question), " "))
	if visualizationPattern.MatchString(q) {
		return pipeline.IntentVisualization, true
	}
	if retrievalPattern.MatchString(q) {
		return pipeline.IntentDataRetrieval, true
	}
	return "", false
}

func parseAnswer(answer string) (pipeline.Intent, bool) {
	a := strings.ToLower(strings.TrimSpace(answer))
	a = strings.TrimLeft(a, "\"'*` ")
	switch {
	case strings.HasPrefix(a, "yes"):
		return pipeline.IntentVisualization, true
	case strings.HasPrefix(a, "no"):
		return pipeline.IntentDataRetrieval, true
	default:
		return pipeline.IntentDataRetrieval, false
	}
}
