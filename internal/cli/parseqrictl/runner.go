package parseqrictl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parseqri/parseqri/internal/auth"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Token      string
	TenantID   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// MetadataFile is the YAML layout accepted by the describe command.
type MetadataFile struct {
	Description string            `yaml:"description"`
	Columns     map[string]string `yaml:"columns"`
}

type apiRequest struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	size        int64
}

type usageError string

func (e usageError) Error() string { return string(e) }

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("parseqrictl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "parseqri API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	token := fs.String("token", defaults.Token, "bearer token for authenticated requests")
	tenantID := fs.String("tenant-id", defaults.TenantID, "Tenant ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 10s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	command := strings.TrimSpace(fs.Arg(0))
	if command == "token" {
		return runToken(fs.Args()[1:], *tenantID, stdout, stderr)
	}

	request, err := buildRequest(command, fs.Args()[1:], stderr)
	if err != nil {
		if _, ok := err.(usageError); ok {
			_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
			writeUsage(stderr)
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	credentials := headers{apiKey: *apiKey, token: *token, tenantID: *tenantID}
	endpoint := strings.TrimRight(*baseURL, "/") + request.path
	code, responseBody, err := doRequest(ctx, client, endpoint, request, credentials)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if command == "ask" {
		if answer, ok := answerText(responseBody); ok {
			_, _ = fmt.Fprintln(stdout, answer)
		}
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(command string, args []string, stderr io.Writer) (apiRequest, error) {
	switch command {
	case "health":
		return apiRequest{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return apiRequest{method: http.MethodGet, path: "/v1/ready"}, nil
	case "tables":
		return apiRequest{method: http.MethodGet, path: "/v1/tables"}, nil
	case "table", "drop", "sync":
		if len(args) != 1 {
			return apiRequest{}, usageError(fmt.Sprintf("%s requires exactly one table name", command))
		}
		path := "/v1/tables/" + url.PathEscape(args[0])
		switch command {
		case "drop":
			return apiRequest{method: http.MethodDelete, path: path}, nil
		case "sync":
			return apiRequest{method: http.MethodPost, path: path + "/metadata/sync"}, nil
		}
		return apiRequest{method: http.MethodGet, path: path}, nil
	case "connect":
		return connectRequest(args, stderr)
	case "upload":
		return uploadRequest(args)
	case "describe":
		return describeRequest(args)
	case "ask":
		if len(args) < 2 {
			return apiRequest{}, usageError("ask requires a table name and a question")
		}
		return jsonRequest(http.MethodPost, "/v1/query", map[string]any{
			"table":    args[0],
			"question": strings.Join(args[1:], " "),
		})
	default:
		return apiRequest{}, usageError(fmt.Sprintf("unknown command %q", command))
	}
}

func connectRequest(args []string, stderr io.Writer) (apiRequest, error) {
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	description := fs.String("description", "", "table description")
	if err := fs.Parse(args); err != nil {
		return apiRequest{}, usageError(err.Error())
	}
	if fs.NArg() < 1 {
		return apiRequest{}, usageError("connect requires a table name")
	}
	payload := map[string]any{"table": fs.Arg(0)}
	if *description != "" {
		payload["description"] = *description
	}
	if paths := fs.Args()[1:]; len(paths) > 0 {
		payload["object_paths"] = paths
	}
	return jsonRequest(http.MethodPost, "/v1/tables", payload)
}

func uploadRequest(args []string) (apiRequest, error) {
	if len(args) != 2 {
		return apiRequest{}, usageError("upload requires a table name and a parquet file")
	}
	file, err := os.Open(args[1])
	if err != nil {
		return apiRequest{}, fmt.Errorf("open %s: %w", args[1], err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return apiRequest{}, fmt.Errorf("stat %s: %w", args[1], err)
	}
	return apiRequest{
		method:      http.MethodPut,
		path:        "/v1/tables/" + url.PathEscape(args[0]) + "/files/" + url.PathEscape(filepath.Base(args[1])),
		body:        file,
		contentType: "application/vnd.apache.parquet",
		size:        info.Size(),
	}, nil
}

func describeRequest(args []string) (apiRequest, error) {
	if len(args) != 2 {
		return apiRequest{}, usageError("describe requires a table name and a metadata YAML file")
	}
	raw, err := os.ReadFile(args[1])
	if err != nil {
		return apiRequest{}, fmt.Errorf("read %s: %w", args[1], err)
	}
	var file MetadataFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return apiRequest{}, fmt.Errorf("parse %s: %w", args[1], err)
	}
	names := make([]string, 0, len(file.Columns))
	for name := range file.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	columns := make([]map[string]string, 0, len(names))
	for _, name := range names {
		columns = append(columns, map[string]string{"column": name, "description": file.Columns[name]})
	}
	return jsonRequest(http.MethodPost, "/v1/tables/"+url.PathEscape(args[0])+"/metadata", map[string]any{
		"description": file.Description,
		"columns":     columns,
	})
}

func runToken(args []string, tenantID string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	secret := fs.String("secret", os.Getenv("PARSEQRI_AUTH_JWT_SECRET"), "HS256 signing secret")
	roles := fs.String("roles", auth.RoleQueryReader, "comma separated roles")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	roleList := make([]string, 0)
	for _, role := range strings.Split(*roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roleList = append(roleList, role)
		}
	}
	signed, err := auth.GenerateToken(strings.TrimSpace(tenantID), roleList, *secret, *ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, signed)
	return 0
}

func jsonRequest(method, path string, payload any) (apiRequest, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return apiRequest{}, err
	}
	return apiRequest{
		method:      method,
		path:        path,
		body:        bytes.NewReader(body),
		contentType: "application/json",
		size:        int64(len(body)),
	}, nil
}

type headers struct {
	apiKey   string
	token    string
	tenantID string
}

func doRequest(ctx context.Context, client *http.Client, endpoint string, request apiRequest, h headers) (int, []byte, error) {
	if closer, ok := request.body.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	req, err := http.NewRequestWithContext(ctx, request.method, endpoint, request.body)
	if err != nil {
		return 0, nil, err
	}
	if request.body != nil {
		req.ContentLength = request.size
		req.Header.Set("Content-Type", request.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(h.apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(h.apiKey))
	}
	if strings.TrimSpace(h.token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(h.token))
	}
	if strings.TrimSpace(h.tenantID) != "" {
		req.Header.Set("X-Tenant-ID", strings.TrimSpace(h.tenantID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func answerText(raw []byte) (string, bool) {
	var response struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(raw, &response); err != nil || response.Answer == "" {
		return "", false
	}
	return response.Answer, true
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: parseqrictl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                                  GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                                   GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  tables                                  GET /v1/tables")
	_, _ = fmt.Fprintln(w, "  table <table>                           GET /v1/tables/{table}")
	_, _ = fmt.Fprintln(w, "  drop <table>                            DELETE /v1/tables/{table}")
	_, _ = fmt.Fprintln(w, "  upload <table> <file.parquet>           PUT /v1/tables/{table}/files/{file}")
	_, _ = fmt.Fprintln(w, "  connect [-description d] <table> [key]  POST /v1/tables")
	_, _ = fmt.Fprintln(w, "  describe <table> <metadata.yaml>        POST /v1/tables/{table}/metadata")
	_, _ = fmt.Fprintln(w, "  sync <table>                            POST /v1/tables/{table}/metadata/sync")
	_, _ = fmt.Fprintln(w, "  ask <table> <question...>               POST /v1/query")
	_, _ = fmt.Fprintln(w, "  token [-secret s] [-roles r] [-ttl d]   print a signed bearer token for -tenant-id")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
