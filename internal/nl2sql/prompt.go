package nl2sql

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parseqri/parseqri/internal/inference"
	"github.com/parseqri/parseqri/internal/metadata"
	"github.com/parseqri/parseqri/internal/pipeline"
)

const systemPrompt = "You convert natural language questions about one table into a single DuckDB SQL query. " +
	"DuckDB uses PostgreSQL-like SQL syntax. " +
	"Return ONLY SQL. No markdown, no explanation."

// BuildTableContext merges the resolved schema with any metadata descriptions
// found for its columns.
func BuildTableContext(table string, schema pipeline.Schema, records []metadata.Record) TableContext {
	descriptions := map[string]string{}
	var tableDescription string
	for _, r := range records {
		if !strings.EqualFold(r.Table, table) {
			continue
		}
		if r.Column == "" {
			tableDescription = r.Description
			continue
		}
		descriptions[strings.ToLower(r.Column)] = r.Description
	}
	columns := make([]ColumnContext, 0, len(schema))
	for _, col := range schema {
		columns = append(columns, ColumnContext{
			Name:        col.Name,
			Type:        col.Type,
			Description: descriptions[strings.ToLower(col.Name)],
		})
	}
	return TableContext{TableName: table, Description: tableDescription, Columns: columns}
}

func buildPrompt(question string, table TableContext) (inference.Prompt, error) {
	tableJSON, err := json.Marshal(table)
	if err != nil {
		return inference.Prompt{}, fmt.Errorf("marshal table context: %w", err)
	}
	user := fmt.Sprintf(
		"Table: %s\nSchema and sample context (JSON):\n%s\n\nUser request:\n%s\n\nRules:\n"+
			"- Use only the table %q and only its listed columns.\n"+
			"- Produce one SELECT statement. Never modify data.\n"+
			"- Quote text values with single quotes.\n"+
			"- Do not add LIMIT unless the user asks for a specific number of rows.\n"+
			"- Output a single SQL query only.",
		table.TableName,
		string(tableJSON),
		strings.TrimSpace(question),
		table.TableName,
	)
	return inference.Prompt{System: systemPrompt, User: user}, nil
}

// stripMarkdownSQL returns the first fenced block of value, or value itself
// when it carries no fence.
func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}
	body := trimmed[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.Contains(body[:nl], " ") {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "sql")
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
