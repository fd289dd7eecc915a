package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	APIBaseURL          string
	APIKey              string
	TenantID            string
	TableName           string
	FileCount           int
	RowsPerFile         int
	HTTPTimeout         time.Duration
	CustomerCardinality int
	Seed                int64
	// Questions are asked once the table is connected. Empty skips the
	// question round, which is useful when model inference is disabled.
	Questions []string
}

func DefaultConfig() Config {
	return Config{
		APIBaseURL:          "http://localhost:8080",
		TenantID:            "tenant-dev",
		TableName:           "sales",
		FileCount:           3,
		RowsPerFile:         500,
		HTTPTimeout:         30 * time.Second,
		CustomerCardinality: 200,
		Seed:                time.Now().UTC().UnixNano(),
		Questions: []string{
			"What is the total revenue per country?",
			"How many orders were placed through each channel?",
		},
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "PARSEQRI_DEMO_API_URL", &cfg.APIBaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "PARSEQRI_DEMO_API_KEY", &cfg.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "PARSEQRI_DEMO_TENANT_ID", &cfg.TenantID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "PARSEQRI_DEMO_TABLE", &cfg.TableName); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "PARSEQRI_DEMO_FILE_COUNT", &cfg.FileCount); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "PARSEQRI_DEMO_ROWS_PER_FILE", &cfg.RowsPerFile); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "PARSEQRI_DEMO_HTTP_TIMEOUT", &cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "PARSEQRI_DEMO_CUSTOMER_CARDINALITY", &cfg.CustomerCardinality); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "PARSEQRI_DEMO_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if raw, ok := lookup("PARSEQRI_DEMO_QUESTIONS"); ok {
		cfg.Questions = splitQuestions(raw)
	}

	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return Config{}, fmt.Errorf("PARSEQRI_DEMO_API_URL is required")
	}
	if strings.TrimSpace(cfg.TenantID) == "" {
		return Config{}, fmt.Errorf("PARSEQRI_DEMO_TENANT_ID is required")
	}
	if strings.TrimSpace(cfg.TableName) == "" {
		return Config{}, fmt.Errorf("PARSEQRI_DEMO_TABLE is required")
	}
	if cfg.FileCount <= 0 {
		return Config{}, fmt.Errorf("PARSEQRI_DEMO_FILE_COUNT must be > 0")
	}
	if cfg.RowsPerFile <= 0 {
		return Config{}, fmt.Errorf("PARSEQRI_DEMO_ROWS_PER_FILE must be > 0")
	}
	if cfg.HTTPTimeout <= 0 {
		return Config{}, fmt.Errorf("PARSEQRI_DEMO_HTTP_TIMEOUT must be > 0")
	}
	if cfg.CustomerCardinality <= 0 {
		return Config{}, fmt.Errorf("PARSEQRI_DEMO_CUSTOMER_CARDINALITY must be > 0")
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.TenantID = strings.TrimSpace(cfg.TenantID)
	cfg.TableName = strings.TrimSpace(cfg.TableName)
	return cfg, nil
}

// splitQuestions separates questions on "|" since they often contain commas.
func splitQuestions(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, "|") {
		if q := strings.TrimSpace(part); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
