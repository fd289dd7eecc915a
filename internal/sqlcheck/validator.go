// Package sqlcheck validates generated SQL against a single table's schema
// before anything is executed.
package sqlcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parseqri/parseqri/internal/inference"
	"github.com/parseqri/parseqri/internal/observability"
	"github.com/parseqri/parseqri/internal/pipeline"
)

const reviewPrompt = "You review SQL for a DuckDB table. Check syntax and that every column exists. " +
	`Reply with JSON only, in the form {"valid": true|false, "issues": ["..."]}.`

// Validator runs the deterministic rules and, when a reviewer model is set,
// asks it for a second opinion on statements the rules accept. The reviewer
// can add issues but never clears one.
type Validator struct {
	reviewer inference.Model
	logger   *slog.Logger
}

func New(reviewer inference.Model, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Validator{reviewer: reviewer, logger: logger}
}

func (v *Validator) Validate(ctx context.Context, sql, tableRef string, schema pipeline.Schema) (pipeline.Validation, error) {
	clean := Sanitize(sql)
	issues := Check(clean, tableRef, schema)
	if len(issues) == 0 && v.reviewer != nil {
		extra, err := v.review(ctx, clean, tableRef, schema)
		switch {
		case err == nil:
			issues = append(issues, extra...)
		case ctx.Err() != nil:
			return pipeline.Validation{}, err
		default:
			v.logger.Warn("sql review skipped", slog.Any("error", err))
		}
	}
	return pipeline.Validation{Valid: len(issues) == 0, Issues: issues, SQL: clean}, nil
}

type reviewVerdict struct {
	Valid  *bool           `json:"valid"`
	Issues json.RawMessage `json:"issues"`
}

func (v *Validator) review(ctx context.Context, sql, tableRef string, schema pipeline.Schema) ([]string, error) {
	var cols strings.Builder
	for _, col := range schema {
		fmt.Fprintf(&cols, "- %s: %s\n", col.Name, col.Type)
	}
	answer, err := v.reviewer.Infer(ctx, inference.Prompt{
		System: reviewPrompt,
		User:   fmt.Sprintf("Table: %s\nColumns:\n%sQuery: %s", tableRef, cols.String(), sql),
	})
	if err != nil {
		return nil, err
	}
	verdict, err := parseVerdict(answer)
	if err != nil {
		return nil, err
	}
	if *verdict.Valid {
		return nil, nil
	}
	issues := verdictIssues(verdict.Issues)
	if len(issues) == 0 {
		issues = []string{"statement rejected on review"}
	}
	for i := range issues {
		issues[i] = "review: " + issues[i]
	}
	return issues, nil
}

func parseVerdict(answer string) (reviewVerdict, error) {
	start := strings.IndexByte(answer, '{')
	end := strings.LastIndexByte(answer, '}')
	if start < 0 || end <= start {
		return reviewVerdict{}, errors.New("review answer has no JSON object")
	}
	var verdict reviewVerdict
	if err := json.Unmarshal([]byte(answer[start:end+1]), &verdict); err != nil {
		return reviewVerdict{}, fmt.Errorf("decode review answer: %w", err)
	}
	if verdict.Valid == nil {
		return reviewVerdict{}, errors.New("review answer has no valid field")
	}
	return verdict, nil
}

func verdictIssues(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := list[:0]
		for _, issue := range list {
			if issue = strings.TrimSpace(issue); issue != "" {
				out = append(out, issue)
			}
		}
		return out
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && strings.TrimSpace(single) != "" {
		return []string{strings.TrimSpace(single)}
	}
	return nil
}
