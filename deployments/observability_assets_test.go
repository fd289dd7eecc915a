package deployments

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Record string            `yaml:"record"`
			Alert  string            `yaml:"alert"`
			Expr   string            `yaml:"expr"`
			Labels map[string]string `yaml:"labels"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

func TestPrometheusRecordingRulesContainExpectedRecords(t *testing.T) {
	rules := loadRules(t, "parseqri_recording_rules.yaml")

	records := map[string]string{}
	for _, group := range rules.Groups {
		for _, rule := range group.Rules {
			if rule.Record != "" {
				records[rule.Record] = rule.Expr
			}
		}
	}
	requiredRecords := []string{
		"parseqri:slo_query_latency_ms_p95",
		"parseqri:slo_stage_latency_ms_p95",
		"parseqri:slo_pipeline_error_rate_5m",
		"parseqri:slo_validation_rejections_15m",
		"parseqri:slo_cache_hit_ratio_15m",
		"parseqri:slo_inference_failures_15m",
		"parseqri:slo_http_error_rate_5m",
		"parseqri:slo_integrity_failures_30m",
		"parseqri:slo_integrity_missing_files_30m",
	}
	for _, name := range requiredRecords {
		expr, ok := records[name]
		if !ok {
			t.Fatalf("recording rules missing record %q", name)
		}
		if strings.TrimSpace(expr) == "" {
			t.Fatalf("record %q has an empty expression", name)
		}
	}
}

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	rules := loadRules(t, "parseqri_rules.yaml")
	recorded := map[string]struct{}{}
	for _, group := range loadRules(t, "parseqri_recording_rules.yaml").Groups {
		for _, rule := range group.Rules {
			recorded[rule.Record] = struct{}{}
		}
	}

	alerts := map[string]bool{}
	for _, group := range rules.Groups {
		for _, rule := range group.Rules {
			if rule.Alert == "" {
				continue
			}
			alerts[rule.Alert] = true
			if rule.Labels["severity"] == "" {
				t.Fatalf("alert %q has no severity label", rule.Alert)
			}
			for _, field := range strings.FieldsFunc(rule.Expr, func(r rune) bool { return r == ' ' || r == '(' || r == ')' }) {
				if strings.HasPrefix(field, "parseqri:") {
					if _, ok := recorded[field]; !ok {
						t.Fatalf("alert %q references unknown record %q", rule.Alert, field)
					}
				}
			}
		}
	}
	requiredAlerts := []string{
		"ParseQriQueryLatencyP95High",
		"ParseQriPipelineErrorRateHigh",
		"ParseQriValidationRejectionsSpike",
		"ParseQriInferenceFailing",
		"ParseQriCacheHitRatioLow",
		"ParseQriIntegrityRunFailed",
		"ParseQriIntegrityMissingFilesDetected",
	}
	for _, name := range requiredAlerts {
		if !alerts[name] {
			t.Fatalf("rules missing alert %q", name)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	content := readAsset(t, "observability", "prometheus", "prometheus-scrape.example.yaml")

	var scrape struct {
		RuleFiles     []string `yaml:"rule_files"`
		ScrapeConfigs []struct {
			JobName     string `yaml:"job_name"`
			MetricsPath string `yaml:"metrics_path"`
		} `yaml:"scrape_configs"`
	}
	if err := yaml.Unmarshal(content, &scrape); err != nil {
		t.Fatalf("parse scrape example: %v", err)
	}
	if len(scrape.ScrapeConfigs) == 0 || scrape.ScrapeConfigs[0].JobName != "parseqri-api" || scrape.ScrapeConfigs[0].MetricsPath != "/v1/metrics" {
		t.Fatalf("scrape configs = %+v", scrape.ScrapeConfigs)
	}
	want := map[string]bool{"parseqri_recording_rules.yaml": false, "parseqri_rules.yaml": false}
	for _, file := range scrape.RuleFiles {
		want[file] = true
	}
	for file, found := range want {
		if !found {
			t.Fatalf("scrape example missing rule file %q", file)
		}
	}
}

func TestComposeDefinesBackingServices(t *testing.T) {
	content := readAsset(t, "docker-compose.yml")

	var compose struct {
		Services map[string]any `yaml:"services"`
	}
	if err := yaml.Unmarshal(content, &compose); err != nil {
		t.Fatalf("parse compose file: %v", err)
	}
	for _, name := range []string{"postgres", "minio", "redis", "ollama", "prometheus"} {
		if _, ok := compose.Services[name]; !ok {
			t.Fatalf("compose file missing service %q", name)
		}
	}
}

func loadRules(t *testing.T, name string) ruleFile {
	t.Helper()
	var rules ruleFile
	if err := yaml.Unmarshal(readAsset(t, "observability", "prometheus", name), &rules); err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	if len(rules.Groups) == 0 {
		t.Fatalf("%s has no rule groups", name)
	}
	return rules
}

func readAsset(t *testing.T, parts ...string) []byte {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	path := filepath.Join(append([]string{filepath.Dir(thisFile)}, parts...)...)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}
