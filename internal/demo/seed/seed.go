package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/parseqri/parseqri/internal/observability"
)

const tableDescription = "Demo order lines with product, customer, country and revenue"

// Service loads a synthetic sales table into a tenant through the public API
// and optionally asks a few questions about it.
type Service struct {
	cfg       Config
	log       *slog.Logger
	http      *http.Client
	generator *Generator
}

type connectRequest struct {
	Table       string `json:"table"`
	Description string `json:"description,omitempty"`
}

type connectResponse struct {
	Files           []string `json:"files"`
	MetadataRecords int      `json:"metadata_records"`
	MetadataError   string   `json:"metadata_error"`
}

type columnDescription struct {
	Column      string `json:"column"`
	Description string `json:"description"`
}

type metadataRequest struct {
	Description string              `json:"description,omitempty"`
	Columns     []columnDescription `json:"columns"`
}

type queryRequest struct {
	Question string `json:"question"`
	Table    string `json:"table"`
}

type queryResponse struct {
	Answer   string `json:"answer"`
	SQL      string `json:"sql"`
	CacheHit bool   `json:"cache_hit"`
}

// Report summarizes one Run.
type Report struct {
	Files   []string
	Rows    int
	Answers map[string]string
}

func NewService(cfg Config, logger *slog.Logger, client *http.Client) (*Service, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if strings.TrimSpace(cfg.TenantID) == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(cfg.TableName) == "" {
		return nil, fmt.Errorf("table name is required")
	}
	if cfg.CustomerCardinality <= 0 {
		cfg.CustomerCardinality = 1
	}

	if logger == nil {
		logger = observability.DiscardLogger()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &Service{
		cfg:       cfg,
		log:       logger,
		http:      client,
		generator: NewGenerator(cfg.Seed, cfg.CustomerCardinality),
	}, nil
}

func (s *Service) Run(ctx context.Context) (Report, error) {
	report := Report{Answers: map[string]string{}}
	for i := 0; i < s.cfg.FileCount; i++ {
		name := fmt.Sprintf("part-%04d.parquet", i)
		rows := s.generator.Rows(s.cfg.RowsPerFile)
		if err := s.uploadFile(ctx, name, rows); err != nil {
			return report, err
		}
		report.Files = append(report.Files, name)
		report.Rows += len(rows)
	}

	if err := s.connect(ctx); err != nil {
		return report, err
	}
	if err := s.describe(ctx); err != nil {
		return report, err
	}

	for _, question := range s.cfg.Questions {
		answer, err := s.ask(ctx, question)
		if err != nil {
			return report, err
		}
		report.Answers[question] = answer
	}
	return report, nil
}

func (s *Service) uploadFile(ctx context.Context, name string, rows []SaleRow) error {
	data, err := EncodeParquet(rows)
	if err != nil {
		return err
	}
	path := "/v1/tables/" + url.PathEscape(s.cfg.TableName) + "/files/" + url.PathEscape(name)
	status, body, err := s.do(ctx, http.MethodPut, path, "application/vnd.apache.parquet", bytes.NewReader(data), nil)
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if status != http.StatusCreated {
		return fmt.Errorf("upload %s status %d: %s", name, status, strings.TrimSpace(string(body)))
	}
	s.log.Info("uploaded demo data file",
		slog.String("tenant_id", s.cfg.TenantID),
		slog.String("table", s.cfg.TableName),
		slog.String("file", name),
		slog.Int("rows", len(rows)),
		slog.Int("bytes", len(data)),
	)
	return nil
}

func (s *Service) connect(ctx context.Context) error {
	var response connectResponse
	status, body, err := s.doJSON(ctx, http.MethodPost, "/v1/tables", connectRequest{
		Table:       s.cfg.TableName,
		Description: tableDescription,
	}, &response)
	if err != nil {
		return fmt.Errorf("connect demo table: %w", err)
	}
	if status != http.StatusCreated {
		return fmt.Errorf("connect demo table status %d: %s", status, strings.TrimSpace(string(body)))
	}
	if response.MetadataError != "" {
		s.log.Warn("demo table connected without metadata", slog.String("error", response.MetadataError))
	}
	s.log.Info("connected demo table",
		slog.String("table", s.cfg.TableName),
		slog.Int("files", len(response.Files)),
		slog.Int("metadata_records", response.MetadataRecords),
	)
	return nil
}

func (s *Service) describe(ctx context.Context) error {
	columns := make([]string, 0, len(ColumnDescriptions))
	for column := range ColumnDescriptions {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	request := metadataRequest{Description: tableDescription}
	for _, column := range columns {
		request.Columns = append(request.Columns, columnDescription{Column: column, Description: ColumnDescriptions[column]})
	}

	path := "/v1/tables/" + url.PathEscape(s.cfg.TableName) + "/metadata"
	status, body, err := s.doJSON(ctx, http.MethodPost, path, request, nil)
	if err != nil {
		return fmt.Errorf("describe demo table: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("describe demo table status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return nil
}

func (s *Service) ask(ctx context.Context, question string) (string, error) {
	var response queryResponse
	status, body, err := s.doJSON(ctx, http.MethodPost, "/v1/query", queryRequest{Question: question, Table: s.cfg.TableName}, &response)
	if err != nil {
		return "", fmt.Errorf("ask %q: %w", question, err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("ask %q status %d: %s", question, status, strings.TrimSpace(string(body)))
	}
	s.log.Info("demo question answered",
		slog.String("question", question),
		slog.String("sql", response.SQL),
		slog.Bool("cache_hit", response.CacheHit),
	)
	return response.Answer, nil
}

func (s *Service) doJSON(ctx context.Context, method, path string, requestBody any, responseBody any) (int, []byte, error) {
	raw, err := json.Marshal(requestBody)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request body: %w", err)
	}
	return s.do(ctx, method, path, "application/json", bytes.NewReader(raw), responseBody)
}

func (s *Service) do(ctx context.Context, method, path, contentType string, payload io.Reader, responseBody any) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBaseURL+path, payload)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Tenant-ID", s.cfg.TenantID)
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}

	if responseBody != nil && resp.StatusCode < 300 && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, responseBody); err != nil {
			return resp.StatusCode, body, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, body, nil
}
