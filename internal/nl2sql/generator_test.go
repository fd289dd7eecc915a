package nl2sql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/parseqri/parseqri/internal/inference"
	"github.com/parseqri/parseqri/internal/metadata"
	"github.com/parseqri/parseqri/internal/pipeline"
)

func TestStripMarkdownSQL(t *testing.T) {
	tests := map[string]string{
		"```sql\nSELECT 1;\n```":                            "SELECT 1;",
		"```\nSELECT 2\n```":                                "SELECT 2",
		"Here you go:\n```sql\nSELECT 3\n```\nThanks":       "SELECT 3",
		"  SELECT * FROM customer WHERE country = 'Japan' ": "SELECT * FROM customer WHERE country = 'Japan'",
		"```sql SELECT 4```":                                "SELECT 4",
	}
	for in, want := range tests {
		if got := stripMarkdownSQL(in); got != want {
			t.Fatalf("stripMarkdownSQL(%q) = %q, want %q", in, got, want)
		}
	}
}

type fakeSampler struct {
	rows [][]any
	err  error
}

func (f fakeSampler) Sample(context.Context, string, string, int) ([][]any, error) {
	return f.rows, f.err
}

func TestGeneratorBuildsPromptFromSchemaMetadataAndSamples(t *testing.T) {
	var got inference.Prompt
	model := inference.Func(func(_ context.Context, p inference.Prompt) (string, error) {
		got = p
		return "```sql\nSELECT * FROM customer WHERE country = 'Japan'\n```", nil
	})
	gen, err := NewGenerator(model, Options{Sampler: fakeSampler{rows: [][]any{{1, "Aiko", "Japan"}}}, SampleRows: 3})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	sql, err := gen.Generate(context.Background(), pipeline.GenerateRequest{
		TenantID: "u1",
		Question: "Show me all customers from Japan",
		TableRef: "customer",
		Schema:   pipeline.Schema{{Name: "customer_id", Type: "BIGINT"}, {Name: "name", Type: "VARCHAR"}, {Name: "country", Type: "VARCHAR"}},
		Metadata: []metadata.Record{
			{TenantID: "u1", Table: "customer", Column: "country", Description: "country of residence"},
			{TenantID: "u1", Table: "customer", Description: "customer master data"},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if sql != "SELECT * FROM customer WHERE country = 'Japan'" {
		t.Fatalf("Generate() = %q", sql)
	}
	for _, want := range []string{`"table_name":"customer"`, "country of residence", "customer master data", `"Aiko"`, "Show me all customers from Japan"} {
		if !strings.Contains(got.User, want) {
			t.Fatalf("prompt missing %q:\n%s", want, got.User)
		}
	}
	if !strings.Contains(got.System, "DuckDB") {
		t.Fatalf("system prompt = %q", got.System)
	}
}

func TestGeneratorToleratesSampleFailure(t *testing.T) {
	model := inference.Func(func(context.Context, inference.Prompt) (string, error) { return "SELECT 1", nil })
	gen, _ := NewGenerator(model, Options{Sampler: fakeSampler{err: errors.New("no files")}, SampleRows: 3})
	if _, err := gen.Generate(context.Background(), pipeline.GenerateRequest{TableRef: "t", Schema: pipeline.Schema{{Name: "a"}}}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestGeneratorRejectsEmptyOutput(t *testing.T) {
	model := inference.Func(func(context.Context, inference.Prompt) (string, error) { return "```sql\n```", nil })
	gen, _ := NewGenerator(model, Options{})
	if _, err := gen.Generate(context.Background(), pipeline.GenerateRequest{TableRef: "t"}); err == nil {
		t.Fatal("expected error for empty SQL")
	}
}

func TestGeneratorWrapsModelErrors(t *testing.T) {
	cause := errors.New("connection refused")
	model := inference.Func(func(context.Context, inference.Prompt) (string, error) { return "", cause })
	gen, _ := NewGenerator(model, Options{})
	if _, err := gen.Generate(context.Background(), pipeline.GenerateRequest{TableRef: "t"}); !errors.Is(err, cause) {
		t.Fatalf("error = %v", err)
	}
}

func TestNewGeneratorRequiresModel(t *testing.T) {
	if _, err := NewGenerator(nil, Options{}); err == nil {
		t.Fatal("expected error")
	}
}
