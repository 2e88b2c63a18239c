package deployments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestGrafanaDashboardJSONIsValid(t *testing.T) {
	content := readAsset(t, "observability", "grafana", "nlq_pipeline_dashboard.json")

	var decoded map[string]any
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("dashboard JSON parse error: %v", err)
	}

	title, _ := decoded["title"].(string)
	if strings.TrimSpace(title) == "" {
		t.Fatal("dashboard title is required")
	}
	panels, ok := decoded["panels"].([]any)
	if !ok || len(panels) == 0 {
		t.Fatal("dashboard must include at least one panel")
	}
}

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	text := string(readAsset(t, "observability", "prometheus", "nlq_rules.yaml"))

	for _, alertName := range []string{
		"NLQGenerationLatencyP95High",
		"NLQQuestionFailuresHigh",
		"NLQInvalidSQLRatioHigh",
		"NLQModelRunningOnCPU",
		"NLQHTTPErrorRateHigh",
	} {
		if !strings.Contains(text, "alert: "+alertName) {
			t.Fatalf("rules missing alert %q", alertName)
		}
	}
	for _, metricName := range []string{
		"nlq:generation_latency_seconds_p95",
		"nlq:question_failure_ratio_15m",
		"nlq:invalid_sql_ratio_15m",
		"nlq_model_accelerated",
		"nlq:http_error_rate_5m",
	} {
		if !strings.Contains(text, metricName) {
			t.Fatalf("rules missing metric reference %q", metricName)
		}
	}
}

func TestPrometheusRecordingRulesUseExportedMetrics(t *testing.T) {
	text := string(readAsset(t, "observability", "prometheus", "nlq_recording_rules.yaml"))

	for _, record := range []string{
		"nlq:generation_latency_seconds_p95",
		"nlq:query_latency_seconds_p95",
		"nlq:question_failure_ratio_15m",
		"nlq:invalid_sql_ratio_15m",
		"nlq:correction_acceptance_ratio_1h",
		"nlq:raw_queries_5m",
		"nlq:http_error_rate_5m",
	} {
		if !strings.Contains(text, "record: "+record) {
			t.Fatalf("recording rules missing record %q", record)
		}
	}
	for _, metric := range []string{
		"nlq_generation_latency_seconds_bucket",
		"nlq_query_latency_seconds_bucket",
		"nlq_questions_total",
		"nlq_corrections_total",
		"nlq_raw_queries_total",
		"nlq_http_requests_total",
	} {
		if !strings.Contains(text, metric) {
			t.Fatalf("recording rules never read %q", metric)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	text := string(readAsset(t, "observability", "prometheus", "prometheus-scrape.example.yaml"))

	for _, token := range []string{
		"metrics_path: /metrics",
		"nlq_rules.yaml",
		"nlq_recording_rules.yaml",
		"job_name: nlq-api",
	} {
		if !strings.Contains(text, token) {
			t.Fatalf("scrape example missing %q", token)
		}
	}
}

func TestComposeDefinesRuntimeServices(t *testing.T) {
	text := string(readAsset(t, "docker-compose.yml"))
	for _, service := range []string{"ollama:", "postgres:", "minio:", "prometheus:"} {
		if !strings.Contains(text, "  "+service) {
			t.Fatalf("compose file missing service %q", service)
		}
	}
}

func readAsset(t *testing.T, parts ...string) []byte {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	path := filepath.Join(append([]string{filepath.Dir(filename)}, parts...)...)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}
