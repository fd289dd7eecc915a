// Package pipeline turns a natural-language question into executed SQL and an
// answer by driving a fixed sequence of stages per request.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/parseqri/parseqri/internal/metadata"
)

type Intent string

const (
	IntentDataRetrieval Intent = "data_retrieval"
	IntentVisualization Intent = "visualization"
)

func (i Intent) Valid() bool {
	return i == IntentDataRetrieval || i == IntentVisualization
}

type ChartHint string

const (
	ChartNone ChartHint = ""
	ChartBar  ChartHint = "bar"
	ChartLine ChartHint = "line"
	ChartPie  ChartHint = "pie"
)

func (h ChartHint) Valid() bool {
	return h == ChartBar || h == ChartLine || h == ChartPie
}

type Stage string

const (
	StageInit       Stage = "init"
	StageCacheCheck Stage = "cache_check"
	StageMetadata   Stage = "metadata_retrieve"
	StageIntent     Stage = "intent_classify"
	StageSchema     Stage = "schema_resolve"
	StageGenerate   Stage = "sql_generate"
	StageValidate   Stage = "sql_validate"
	StageExecute    Stage = "execute"
	StageFormat     Stage = "format"
	StageCacheStore Stage = "cache_store"
	StageDone       Stage = "done"
)

type Column struct {
	Name string
	Type string
}

// Schema is the ordered column list of one table.
type Schema []Column

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, col := range s {
		names[i] = col.Name
	}
	return names
}

// Lookup finds a column by case-insensitive name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, col := range s {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return Column{}, false
}

type Row map[string]any

// ResultSet is what the executor hands back. Columns preserves the select
// order that Row maps lose.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// QueryContext is the per-request unit of work. Stages mutate it through the
// setters below, which hold the ordering invariants.
type QueryContext struct {
	RequestID        string
	Question         string
	TenantID         string
	TableRef         string
	Schema           Schema
	RelevantMetadata []metadata.Record
	Intent           Intent
	SQL              string
	SQLValid         bool
	SQLIssues        string
	Columns          []string
	Rows             []Row
	Answer           string
	ChartHint        ChartHint
	CacheHit         bool
	Stage            Stage

	issues []string
}

func (qc *QueryContext) setIntent(intent Intent) error {
	if !intent.Valid() {
		return fmt.Errorf("invalid intent %q", intent)
	}
	if qc.Intent != "" && qc.Intent != intent {
		return fmt.Errorf("intent already set to %q", qc.Intent)
	}
	qc.Intent = intent
	return nil
}

func (qc *QueryContext) setValidation(sql string, valid bool, issues []string) error {
	if strings.TrimSpace(sql) == "" {
		if valid {
			return fmt.Errorf("cannot mark empty sql as valid")
		}
	} else {
		qc.SQL = sql
	}
	qc.SQLValid = valid
	qc.issues = issues
	qc.SQLIssues = strings.Join(issues, "; ")
	return nil
}

func (qc *QueryContext) setResult(rs ResultSet) error {
	if !qc.SQLValid {
		return fmt.Errorf("rows cannot be set before sql is validated")
	}
	qc.Columns = rs.Columns
	qc.Rows = rs.Rows
	return nil
}

func (qc *QueryContext) setChartHint(hint ChartHint) {
	if qc.Intent != IntentVisualization || !hint.Valid() {
		qc.ChartHint = ChartNone
		return
	}
	qc.ChartHint = hint
}
