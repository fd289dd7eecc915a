package api

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type openAPIDocument struct {
	Paths map[string]map[string]any `yaml:"paths"`
}

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	content, err := os.ReadFile(filepath.Join(repoRoot, "api", "openapi.yaml"))
	if err != nil {
		t.Fatalf("read openapi file error = %v", err)
	}
	var doc openAPIDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		t.Fatalf("parse openapi file error = %v", err)
	}

	patterns := []string{"GET /v1/health", "GET /v1/ready", "GET /v1/metrics"}
	for pattern := range protectedRoutes {
		patterns = append(patterns, pattern)
	}
	for _, pattern := range patterns {
		method, path, found := strings.Cut(pattern, " ")
		if !found {
			t.Fatalf("route pattern %q has no method", pattern)
		}
		operations, ok := doc.Paths[path]
		if !ok {
			t.Fatalf("openapi missing path %s", path)
		}
		if _, ok := operations[strings.ToLower(method)]; !ok {
			t.Fatalf("openapi missing %s %s", method, path)
		}
	}
}
