package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parseqri/parseqri/internal/inference"
	"github.com/parseqri/parseqri/internal/observability"
	"github.com/parseqri/parseqri/internal/pipeline"
)

type ColumnContext struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type TableContext struct {
	TableName   string          `json:"table_name"`
	Description string          `json:"description,omitempty"`
	Columns     []ColumnContext `json:"columns"`
	SampleRows  [][]any         `json:"sample_rows,omitempty"`
}

// Sampler returns a few rows of a tenant table for prompt context.
type Sampler interface {
	Sample(ctx context.Context, tenantID, table string, n int) ([][]any, error)
}

type Options struct {
	Sampler    Sampler
	SampleRows int
	Logger     *slog.Logger
}

// Generator asks a model for one read-only statement against a single table.
type Generator struct {
	model      inference.Model
	sampler    Sampler
	sampleRows int
	logger     *slog.Logger
}

func NewGenerator(model inference.Model, opts Options) (*Generator, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Generator{
		model:      model,
		sampler:    opts.Sampler,
		sampleRows: opts.SampleRows,
		logger:     logger,
	}, nil
}

func (g *Generator) Generate(ctx context.Context, req pipeline.GenerateRequest) (string, error) {
	table := BuildTableContext(req.TableRef, req.Schema, req.Metadata)
	if g.sampler != nil && g.sampleRows > 0 {
		rows, err := g.sampler.Sample(ctx, req.TenantID, req.TableRef, g.sampleRows)
		switch {
		case err == nil:
			table.SampleRows = rows
		case ctx.Err() != nil:
			return "", err
		default:
			g.logger.Debug("sample rows unavailable for prompt", slog.String("table", req.TableRef), slog.Any("error", err))
		}
	}

	prompt, err := buildPrompt(req.Question, table)
	if err != nil {
		return "", err
	}
	raw, err := g.model.Infer(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}
	sql := stripMarkdownSQL(raw)
	if strings.TrimSpace(sql) == "" {
		return "", fmt.Errorf("model returned empty SQL")
	}
	return sql, nil
}
