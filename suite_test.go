package opensearchpipelinetest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakePipeline stands in for all three stages at once: the collector ingest
// path, the processor health and metrics endpoints, and OpenSearch
func fakePipeline(t *testing.T, indexedDocs int) *httptest.Server {
	t.Helper()

	doc := map[string]interface{}{
		"@timestamp":         "2026-08-29T10:00:00Z",
		"service_name":       "test-service",
		"service_version":    "1.0.0",
		"message":            "User authentication successful for user_id=12345",
		"severity_text":      "INFO",
		"pipeline_processed": true,
		"processed_at":       "2026-08-29T10:00:01Z",
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/logs":
			w.WriteHeader(http.StatusOK)

		case r.URL.Path == "/health":
			io.WriteString(w, `{"status": "UP"}`)

		case r.URL.Path == "/metrics":
			io.WriteString(w, sampleMetrics)

		case r.URL.Path == "/_index_template":
			io.WriteString(w, `{"index_templates": [{"name": "logs-template"}]}`)

		case strings.HasSuffix(r.URL.Path, "/_refresh"):
			io.WriteString(w, `{"_shards": {"total": 1, "successful": 1}}`)

		case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
			io.WriteString(w, `{"deleted": 5}`)

		case strings.HasSuffix(r.URL.Path, "/_search"):
			docs := make([]map[string]interface{}, indexedDocs)
			for i := range docs {
				docs[i] = doc
			}
			io.WriteString(w, searchBody(docs...))

		default:
			// Readiness probes against the server root
			io.WriteString(w, `{}`)
		}
	}))
}

func fastConfig(serverURL string) *Config {
	cfg := DefaultConfig()
	cfg.Endpoint = serverURL
	cfg.CollectorEndpoint = serverURL
	cfg.ProcessorEndpoint = serverURL
	cfg.MetricsEndpoint = serverURL + "/metrics"
	cfg.ProcessingWait = time.Millisecond
	cfg.ReadinessAttempts = 2
	cfg.ReadinessInterval = time.Millisecond
	return cfg
}

func TestSuiteRunAllStepsPass(t *testing.T) {
	server := fakePipeline(t, 5)
	defer server.Close()

	var out bytes.Buffer
	suite, err := NewSuite(fastConfig(server.URL), NewReporterTo(&out), zap.NewNop())
	if err != nil {
		t.Fatalf("NewSuite failed: %v", err)
	}

	if !suite.Run(context.Background(), 5, true) {
		t.Fatalf("expected full run to pass, output:\n%s", out.String())
	}

	got := out.String()
	for _, step := range []string{"Service Check", "Index Template", "Send Test Logs", "Log Search", "Log Transformation", "Processor Metrics", "Cleanup"} {
		if !strings.Contains(got, step) {
			t.Errorf("expected step %q in summary, output:\n%s", step, got)
		}
	}
	if strings.Contains(got, "FAIL") {
		t.Errorf("expected no failed steps, output:\n%s", got)
	}
}

func TestSuiteRunFailsWhenTooFewLogsIndexed(t *testing.T) {
	server := fakePipeline(t, 2)
	defer server.Close()

	var out bytes.Buffer
	suite, err := NewSuite(fastConfig(server.URL), NewReporterTo(&out), zap.NewNop())
	if err != nil {
		t.Fatalf("NewSuite failed: %v", err)
	}

	if suite.Run(context.Background(), 5, false) {
		t.Fatalf("expected run to fail with only 2 indexed logs, output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Expected at least 5 logs, but found 2") {
		t.Errorf("expected count mismatch message, output:\n%s", out.String())
	}
}

func TestSuiteRunFailsWhenServicesDown(t *testing.T) {
	cfg := fastConfig("http://localhost:1")

	var out bytes.Buffer
	suite, err := NewSuite(cfg, NewReporterTo(&out), zap.NewNop())
	if err != nil {
		t.Fatalf("NewSuite failed: %v", err)
	}

	if suite.Run(context.Background(), 5, false) {
		t.Fatal("expected run to fail when no services are reachable")
	}
}

func TestSuiteRunFailsWhenCancelled(t *testing.T) {
	server := fakePipeline(t, 5)
	defer server.Close()

	cfg := fastConfig(server.URL)
	cfg.ReadinessInterval = time.Second

	var out bytes.Buffer
	suite, err := NewSuite(cfg, NewReporterTo(&out), zap.NewNop())
	if err != nil {
		t.Fatalf("NewSuite failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if suite.Run(ctx, 5, false) {
		t.Fatal("expected run to fail on cancelled context")
	}
}

func TestSuiteCheckServices(t *testing.T) {
	server := fakePipeline(t, 0)
	defer server.Close()

	var out bytes.Buffer
	suite, err := NewSuite(fastConfig(server.URL), NewReporterTo(&out), zap.NewNop())
	if err != nil {
		t.Fatalf("NewSuite failed: %v", err)
	}

	if !suite.CheckServices(context.Background()) {
		t.Fatalf("expected all services ready, output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "All services are running") {
		t.Errorf("expected readiness confirmation, output:\n%s", out.String())
	}
}

func TestSuiteVerifyTransformationMissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, searchBody(map[string]interface{}{
			"service_name": "test-service",
			"message":      "no timestamp or severity here",
		}))
	}))
	defer server.Close()

	var out bytes.Buffer
	suite, err := NewSuite(fastConfig(server.URL), NewReporterTo(&out), zap.NewNop())
	if err != nil {
		t.Fatalf("NewSuite failed: %v", err)
	}

	if suite.verifyTransformation(context.Background()) {
		t.Fatal("expected transformation verification to fail")
	}
	if !strings.Contains(out.String(), "Missing required fields") {
		t.Errorf("expected missing fields message, output:\n%s", out.String())
	}
}
