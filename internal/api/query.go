package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/parseqri/parseqri/internal/auth"
	"github.com/parseqri/parseqri/internal/pipeline"
)

const maxQuestionLength = 2000

type queryRequest struct {
	Question string `json:"question"`
	Table    string `json:"table"`
}

type queryResponse struct {
	RequestID string           `json:"request_id"`
	Answer    string           `json:"answer"`
	SQL       string           `json:"sql"`
	Intent    string           `json:"intent"`
	ChartHint string           `json:"chart_hint,omitempty"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	CacheHit  bool             `json:"cache_hit"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}
	tenantID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	request.Question = strings.TrimSpace(request.Question)
	request.Table = strings.TrimSpace(request.Table)
	if request.Question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if len(request.Question) > maxQuestionLength {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_TOO_LONG", "question exceeds the maximum length", false, map[string]any{"max_length": maxQuestionLength})
		return
	}
	if request.Table == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_REQUIRED", "table is required", false, nil)
		return
	}

	qc, err := deps.Pipeline.Process(r.Context(), request.Question, tenantID, request.Table)
	if err != nil {
		extra := map[string]any{"table": request.Table}
		if qc != nil {
			extra["request_id"] = qc.RequestID
			if qc.SQL != "" {
				extra["sql"] = qc.SQL
			}
		}
		writePipelineError(r.Context(), w, err, extra)
		return
	}
	writeJSON(w, http.StatusOK, newQueryResponse(qc))
}

func newQueryResponse(qc *pipeline.QueryContext) queryResponse {
	rows := make([]map[string]any, 0, len(qc.Rows))
	for _, row := range qc.Rows {
		rows = append(rows, map[string]any(row))
	}
	columns := qc.Columns
	if columns == nil {
		columns = []string{}
	}
	response := queryResponse{
		RequestID: qc.RequestID,
		Answer:    qc.Answer,
		SQL:       qc.SQL,
		Intent:    string(qc.Intent),
		Columns:   columns,
		Rows:      rows,
		CacheHit:  qc.CacheHit,
	}
	if qc.ChartHint != pipeline.ChartNone {
		response.ChartHint = string(qc.ChartHint)
	}
	return response
}
