package opensearchpipelinetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrorScenario names a malformed-payload case used to exercise the
// processor's error handling and dead letter queue
type ErrorScenario struct {
	Name        string
	Description string
}

// ErrorScenarios is the fixed catalog of error handling test cases
var ErrorScenarios = []ErrorScenario{
	{"valid", "Valid log processing"},
	{"invalid_timestamp", "Invalid timestamp handling"},
	{"missing_required_fields", "Missing required fields"},
	{"grok_parse_failure", "Grok parsing failure"},
	{"field_mapping_error", "Field mapping error"},
	{"unicode_encoding_error", "Unicode encoding error"},
	{"oversized_document", "Oversized document handling"},
	{"invalid_json_structure", "Invalid JSON structure"},
}

// ScenarioResult is the outcome of sending one scenario payload
type ScenarioResult struct {
	Scenario ErrorScenario
	Sent     bool
}

// ErrorTester sends deliberately malformed OTLP payloads and checks how
// the pipeline absorbs them. Payloads are built as raw JSON trees because
// several scenarios cannot be represented as valid OTLP structures.
type ErrorTester struct {
	config     *Config
	collector  *CollectorClient
	opensearch *OpenSearchClient
	metrics    *MetricsScraper
	reporter   *Reporter
	logger     *zap.Logger
}

// NewErrorTester wires up the tester components from a validated config
func NewErrorTester(cfg *Config, reporter *Reporter, logger *zap.Logger) (*ErrorTester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opensearch, err := NewOpenSearchClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenSearch client: %w", err)
	}

	return &ErrorTester{
		config:     cfg,
		collector:  NewCollectorClient(cfg.CollectorEndpoint, 10*time.Second, logger),
		opensearch: opensearch,
		metrics:    NewMetricsScraper(cfg.MetricsEndpoint, 10*time.Second, logger),
		reporter:   reporter,
		logger:     logger,
	}, nil
}

// BuildScenarioPayload constructs the raw payload for one scenario. The
// message overrides the default body when non-empty.
func BuildScenarioPayload(scenario, message string) map[string]interface{} {
	if scenario == "invalid_json_structure" {
		return map[string]interface{}{
			"invalid": "json structure without proper OTLP format",
		}
	}

	if message == "" {
		message = "Test log message"
	}

	traceID := strings.ReplaceAll(uuid.NewString(), "-", "")
	spanID := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	logRecord := map[string]interface{}{
		"timeUnixNano": fmt.Sprintf("%d", time.Now().UnixNano()),
		"severityText": "INFO",
		"body":         map[string]interface{}{"stringValue": message},
		"attributes":   []interface{}{},
		"traceId":      traceID,
		"spanId":       spanID,
	}

	switch scenario {
	case "valid":
		logRecord["attributes"] = []interface{}{
			map[string]interface{}{"key": "user.id", "value": map[string]interface{}{"stringValue": "12345"}},
			map[string]interface{}{"key": "request.method", "value": map[string]interface{}{"stringValue": "GET"}},
		}

	case "invalid_timestamp":
		logRecord["timeUnixNano"] = "invalid-timestamp"

	case "missing_required_fields":
		delete(logRecord, "severityText")
		delete(logRecord, "body")

	case "oversized_document":
		// 11MB body, past the typical 10MB document limit
		logRecord["body"] = map[string]interface{}{"stringValue": strings.Repeat("x", 11*1024*1024)}

	case "grok_parse_failure":
		logRecord["body"] = map[string]interface{}{
			"stringValue": "This is a completely unstructured log message with no recognizable pattern @@##$$%%",
		}
		logRecord["attributes"] = []interface{}{
			map[string]interface{}{"key": "log.format", "value": map[string]interface{}{"stringValue": "unstructured"}},
		}

	case "field_mapping_error":
		logRecord["attributes"] = []interface{}{
			map[string]interface{}{"key": "timestamp", "value": map[string]interface{}{"stringValue": "not-a-timestamp"}},
			map[string]interface{}{"key": "message", "value": map[string]interface{}{"intValue": 12345}},
		}

	case "unicode_encoding_error":
		logRecord["body"] = map[string]interface{}{
			"stringValue": "Test with problematic unicode: \x00\x01\x02\xff\xfe",
		}
		logRecord["attributes"] = []interface{}{
			map[string]interface{}{"key": "unicode.test", "value": map[string]interface{}{"stringValue": "��"}},
		}
	}

	return map[string]interface{}{
		"resourceLogs": []interface{}{
			map[string]interface{}{
				"resource": map[string]interface{}{
					"attributes": []interface{}{
						map[string]interface{}{"key": "service.name", "value": map[string]interface{}{"stringValue": "error-test-service"}},
						map[string]interface{}{"key": "service.version", "value": map[string]interface{}{"stringValue": "1.0.0"}},
					},
				},
				"scopeLogs": []interface{}{
					map[string]interface{}{
						"logRecords": []interface{}{logRecord},
					},
				},
			},
		},
	}
}

// CheckServices probes collector, processor, and OpenSearch health; any
// status below 400 counts as healthy
func (t *ErrorTester) CheckServices(ctx context.Context) bool {
	client := &http.Client{Timeout: 5 * time.Second}
	services := []struct {
		url  string
		name string
	}{
		{t.config.CollectorEndpoint, "OTLP Collector"},
		{t.config.ProcessorEndpoint + "/health", "Processor"},
		{t.config.Endpoint + "/_cluster/health", "OpenSearch"},
	}

	allHealthy := true
	for _, svc := range services {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.url, nil)
		if err != nil {
			t.reporter.Errorf("%s is not accessible: %v", svc.name, err)
			allHealthy = false
			continue
		}

		resp, err := client.Do(req)
		if err != nil {
			t.reporter.Errorf("%s is not accessible: %v", svc.name, err)
			allHealthy = false
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 400 {
			t.reporter.Successf("%s is healthy", svc.name)
		} else {
			t.reporter.Errorf("%s returned status %d", svc.name, resp.StatusCode)
			allHealthy = false
		}
	}

	return allHealthy
}

// sendScenario builds and posts one scenario payload
func (t *ErrorTester) sendScenario(ctx context.Context, scenario, message, label string) bool {
	payload := BuildScenarioPayload(scenario, message)

	body, err := json.Marshal(payload)
	if err != nil {
		t.reporter.Errorf("%s: failed to marshal payload: %v", label, err)
		return false
	}

	if err := t.collector.SendRaw(ctx, body); err != nil {
		t.reporter.Errorf("%s: failed to send log: %v", label, err)
		return false
	}

	t.reporter.Successf("%s: log sent successfully", label)
	return true
}

// RunScenarios sends every scenario in the catalog with a short gap
// between them, returning per-scenario outcomes
func (t *ErrorTester) RunScenarios(ctx context.Context) []ScenarioResult {
	t.reporter.Infof("Starting error handling tests...")

	results := make([]ScenarioResult, 0, len(ErrorScenarios))
	for i, scenario := range ErrorScenarios {
		t.reporter.Infof("--- Running test: %s ---", scenario.Description)

		sent := t.sendScenario(ctx, scenario.Name, "", scenario.Description)
		results = append(results, ScenarioResult{Scenario: scenario, Sent: sent})

		if i < len(ErrorScenarios)-1 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(2 * time.Second):
			}
		}
	}

	return results
}

// DLQValidation holds the post-run pipeline state inspection
type DLQValidation struct {
	IndexedLogs int64
	DLQMetrics  map[string]string
}

// ValidateDLQ waits out the processing interval, then inspects OpenSearch
// and the processor's DLQ metrics and health
func (t *ErrorTester) ValidateDLQ(ctx context.Context) DLQValidation {
	t.reporter.Infof("--- Validating DLQ functionality ---")
	t.reporter.Infof("Waiting %s for log processing...", t.config.ProcessingWait)
	select {
	case <-ctx.Done():
	case <-time.After(t.config.ProcessingWait):
	}

	validation := DLQValidation{DLQMetrics: map[string]string{}}

	resp, err := t.opensearch.Search(ctx, map[string]interface{}{
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
		"sort": []interface{}{
			map[string]interface{}{t.config.TimeField: map[string]interface{}{"order": "desc"}},
		},
		"size": 100,
	})
	if err != nil {
		t.reporter.Errorf("Failed to query OpenSearch: %v", err)
	} else {
		validation.IndexedLogs = resp.Hits.Total.Value
		t.reporter.Successf("Found %d logs in OpenSearch", validation.IndexedLogs)
	}

	validation.DLQMetrics = t.metrics.DLQMetrics(ctx)
	t.reporter.Successf("Retrieved %d DLQ-related metrics", len(validation.DLQMetrics))

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.config.ProcessorEndpoint+"/health", nil)
	if err == nil {
		if healthResp, err := client.Do(req); err == nil {
			healthResp.Body.Close()
			if healthResp.StatusCode == http.StatusOK {
				t.reporter.Successf("Processor is healthy after error tests")
			} else {
				t.reporter.Warningf("Processor health check returned %d", healthResp.StatusCode)
			}
		} else {
			t.reporter.Errorf("Processor health check failed: %v", err)
		}
	}

	return validation
}

// RunLoadTest sends a mixed stream of valid and error payloads. The first
// errorRate fraction of the stream rotates through the recoverable error
// scenarios; sends are paced with a rate limiter.
func (t *ErrorTester) RunLoadTest(ctx context.Context, numLogs int, errorRate float64) DLQValidation {
	t.reporter.Infof("--- Running load test with %d logs (error rate: %.1f%%) ---", numLogs, errorRate*100)

	loadScenarios := []string{"invalid_timestamp", "grok_parse_failure", "field_mapping_error"}
	limiter := rate.NewLimiter(rate.Limit(100), 10)

	sentCount := 0
	errorCount := 0

	for i := 0; i < numLogs; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.reporter.Warningf("Load test interrupted: %v", err)
			break
		}

		scenario := "valid"
		message := fmt.Sprintf("Load test valid log %d", i)
		if float64(i)/float64(numLogs) < errorRate {
			scenario = loadScenarios[i%len(loadScenarios)]
			message = fmt.Sprintf("Load test error log %d", i)
			errorCount++
		}

		payload := BuildScenarioPayload(scenario, message)
		body, err := json.Marshal(payload)
		if err != nil {
			t.logger.Error("Failed to marshal load test payload", zap.Int("index", i), zap.Error(err))
			continue
		}

		if err := t.collector.SendRaw(ctx, body); err != nil {
			t.logger.Warn("Load test send failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		sentCount++
	}

	t.reporter.Infof("Load test completed: %d/%d logs sent, %d error logs", sentCount, numLogs, errorCount)

	return t.ValidateDLQ(ctx)
}
