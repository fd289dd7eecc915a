package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("parseqri-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Cache.Backend != CacheBackendMemory {
		t.Fatalf("Cache.Backend = %q", cfg.Cache.Backend)
	}
	if cfg.Cache.MaxEntries != 10000 {
		t.Fatalf("Cache.MaxEntries = %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.TTL != 0 {
		t.Fatalf("Cache.TTL = %s, want no expiry", cfg.Cache.TTL)
	}
	if cfg.Metadata.TopK != 5 {
		t.Fatalf("Metadata.TopK = %d", cfg.Metadata.TopK)
	}
	if cfg.AI.Provider != ProviderOllama {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.RetryAttempts != 3 {
		t.Fatalf("AI.RetryAttempts = %d", cfg.AI.RetryAttempts)
	}
	if cfg.Pipeline.RowLimit != 200 {
		t.Fatalf("Pipeline.RowLimit = %d", cfg.Pipeline.RowLimit)
	}
	if cfg.Pipeline.SchemaCacheTTL != 5*time.Minute || cfg.Pipeline.MaxUploadBytes != 512<<20 {
		t.Fatalf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Maintenance.IntegrityInterval != 15*time.Minute || cfg.Maintenance.CachePruneInterval != 10*time.Minute {
		t.Fatalf("Maintenance = %+v", cfg.Maintenance)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("parseqri-api", mapLookup(map[string]string{"PARSEQRI_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Cache.Backend != CacheBackendPostgres {
		t.Fatalf("Cache.Backend = %q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL != 7*24*time.Hour {
		t.Fatalf("Cache.TTL = %s", cfg.Cache.TTL)
	}
}

func TestLoadTestProfileDisablesModel(t *testing.T) {
	cfg, err := Load("parseqri-api", mapLookup(map[string]string{"PARSEQRI_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.Enabled {
		t.Fatal("AI.Enabled should default to false in test")
	}
	if cfg.Metadata.Embedder != EmbedderHash {
		t.Fatalf("Metadata.Embedder = %q", cfg.Metadata.Embedder)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"PARSEQRI_PROFILE":                           "test",
		"PARSEQRI_SERVICE_NAME":                      "parseqri-custom",
		"PARSEQRI_HTTP_ADDR":                         ":9999",
		"PARSEQRI_HTTP_READ_TIMEOUT":                 "2s",
		"PARSEQRI_LOG_LEVEL":                         "error",
		"PARSEQRI_AUTH_REQUIRED":                     "true",
		"PARSEQRI_AUTH_STATIC_KEYS":                  "k1:u1:query_reader",
		"PARSEQRI_AUTH_JWT_SECRET":                   "shh",
		"PARSEQRI_CATALOG_DSN":                       "postgres://example",
		"PARSEQRI_CATALOG_MAX_OPEN_CONNS":            "42",
		"PARSEQRI_CATALOG_STATEMENT_TIMEOUT":         "3s",
		"PARSEQRI_OBJECTSTORE_BUCKET":                "parseqri-prod",
		"PARSEQRI_CACHE_BACKEND":                     "REDIS",
		"PARSEQRI_CACHE_REDIS_URL":                   "redis://localhost:6379/2",
		"PARSEQRI_CACHE_TTL":                         "1h",
		"PARSEQRI_METADATA_PATH":                     "/var/lib/parseqri/metadata",
		"PARSEQRI_METADATA_TOP_K":                    "8",
		"PARSEQRI_METADATA_EMBEDDER":                 "model",
		"PARSEQRI_AI_ENABLED":                        "true",
		"PARSEQRI_AI_PROVIDER":                       "openai",
		"PARSEQRI_AI_BASE_URL":                       "https://api.example.com/v1",
		"PARSEQRI_AI_API_KEY":                        "secret-key",
		"PARSEQRI_AI_MODEL":                          "gpt-4o-mini",
		"PARSEQRI_AI_TEMPERATURE":                    "0.3",
		"PARSEQRI_AI_TIMEOUT":                        "21s",
		"PARSEQRI_AI_RETRY_ATTEMPTS":                 "5",
		"PARSEQRI_AI_RETRY_DELAY":                    "250ms",
		"PARSEQRI_AI_REQUESTS_PER_SECOND":            "2.5",
		"PARSEQRI_PIPELINE_STAGE_TIMEOUT":            "10s",
		"PARSEQRI_PIPELINE_EXECUTE_TIMEOUT":          "20s",
		"PARSEQRI_PIPELINE_ROW_LIMIT":                "50",
		"PARSEQRI_PIPELINE_SCHEMA_CACHE_TTL":         "0s",
		"PARSEQRI_PIPELINE_MAX_UPLOAD_BYTES":         "1048576",
		"PARSEQRI_PIPELINE_VALIDATOR_SECOND_OPINION": "true",
		"PARSEQRI_PIPELINE_MODEL_PHRASING":           "true",
		"PARSEQRI_MAINTENANCE_INTEGRITY_INTERVAL":    "1h",
		"PARSEQRI_MAINTENANCE_CACHE_PRUNE_INTERVAL":  "90s",
	})
	cfg, err := Load("parseqri-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "parseqri-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:u1:query_reader" || cfg.Auth.JWTSecret != "shh" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.Catalog.DSN != "postgres://example" || cfg.Catalog.MaxOpenConns != 42 || cfg.Catalog.StatementTimeout != 3*time.Second {
		t.Fatalf("Catalog = %+v", cfg.Catalog)
	}
	if cfg.ObjectStore.Bucket != "parseqri-prod" {
		t.Fatalf("ObjectStore.Bucket = %q", cfg.ObjectStore.Bucket)
	}
	if cfg.Cache.Backend != CacheBackendRedis {
		t.Fatalf("Cache.Backend = %q", cfg.Cache.Backend)
	}
	if cfg.Cache.RedisURL != "redis://localhost:6379/2" || cfg.Cache.TTL != time.Hour {
		t.Fatalf("Cache = %+v", cfg.Cache)
	}
	if cfg.Metadata.Path != "/var/lib/parseqri/metadata" || cfg.Metadata.TopK != 8 {
		t.Fatalf("Metadata = %+v", cfg.Metadata)
	}
	if cfg.Metadata.Embedder != EmbedderModel {
		t.Fatalf("Metadata.Embedder = %q", cfg.Metadata.Embedder)
	}
	if !cfg.AI.Enabled || cfg.AI.Provider != ProviderOpenAI {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.BaseURL != "https://api.example.com/v1" || cfg.AI.APIKey != "secret-key" || cfg.AI.Model != "gpt-4o-mini" {
		t.Fatalf("AI endpoint = %+v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.3 || cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI tuning = %+v", cfg.AI)
	}
	if cfg.AI.RetryAttempts != 5 || cfg.AI.RetryDelay != 250*time.Millisecond {
		t.Fatalf("AI retry = %d/%s", cfg.AI.RetryAttempts, cfg.AI.RetryDelay)
	}
	if cfg.AI.RequestsPerSecond != 2.5 {
		t.Fatalf("AI.RequestsPerSecond = %f", cfg.AI.RequestsPerSecond)
	}
	if cfg.Pipeline.StageTimeout != 10*time.Second || cfg.Pipeline.ExecuteTimeout != 20*time.Second {
		t.Fatalf("Pipeline timeouts = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.RowLimit != 50 || !cfg.Pipeline.ValidatorSecondOpinion || !cfg.Pipeline.ModelPhrasing {
		t.Fatalf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.SchemaCacheTTL != 0 || cfg.Pipeline.MaxUploadBytes != 1<<20 {
		t.Fatalf("Pipeline schema/upload = %+v", cfg.Pipeline)
	}
	if cfg.Maintenance.IntegrityInterval != time.Hour || cfg.Maintenance.CachePruneInterval != 90*time.Second {
		t.Fatalf("Maintenance = %+v", cfg.Maintenance)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"PARSEQRI_PROFILE": "oops"},
		{"PARSEQRI_HTTP_READ_TIMEOUT": "NaN"},
		{"PARSEQRI_CATALOG_MAX_OPEN_CONNS": "oops"},
		{"PARSEQRI_AI_TEMPERATURE": "bad"},
		{"PARSEQRI_AUTH_REQUIRED": "not-bool"},
		{"PARSEQRI_LOG_LEVEL": "verbose"},
		{"PARSEQRI_CACHE_BACKEND": "memcached"},
		{"PARSEQRI_CACHE_BACKEND": "badger"},
		{"PARSEQRI_CACHE_BACKEND": "redis"},
		{"PARSEQRI_CACHE_TTL": "-1s"},
		{"PARSEQRI_AI_PROVIDER": "watson"},
		{"PARSEQRI_AI_RETRY_ATTEMPTS": "0"},
		{"PARSEQRI_METADATA_EMBEDDER": "word2vec"},
		{"PARSEQRI_METADATA_TOP_K": "0"},
		{"PARSEQRI_PIPELINE_STAGE_TIMEOUT": "0s"},
		{"PARSEQRI_PIPELINE_ROW_LIMIT": "-5"},
		{"PARSEQRI_PIPELINE_MAX_UPLOAD_BYTES": "lots"},
		{"PARSEQRI_PIPELINE_SCHEMA_CACHE_TTL": "-1m"},
		{"PARSEQRI_MAINTENANCE_INTEGRITY_INTERVAL": "0s"},
		{"PARSEQRI_MAINTENANCE_CACHE_PRUNE_INTERVAL": "soon"},
	}
	for _, env := range tests {
		_, err := Load("parseqri-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
