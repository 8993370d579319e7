package opensearchpipelinetest

import (
	"bytes"
	"strings"
	"testing"
)

func TestReporterTags(t *testing.T) {
	var out bytes.Buffer
	r := NewReporterTo(&out)

	r.Infof("checking %s", "services")
	r.Successf("done")
	r.Warningf("slow")
	r.Errorf("broken")

	got := out.String()
	for _, want := range []string{"[INFO] checking services", "[SUCCESS] done", "[WARNING] slow", "[ERROR] broken"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, got)
		}
	}
}

func TestSummaryAllPassed(t *testing.T) {
	var out bytes.Buffer
	r := NewReporterTo(&out)

	r.Record("Service Check", true)
	r.Record("Log Search", true)

	if !r.Summary() {
		t.Error("expected Summary to report success when all checks passed")
	}
	if !strings.Contains(out.String(), "Service Check") {
		t.Error("expected check names in summary output")
	}
}

func TestSummaryWithFailure(t *testing.T) {
	var out bytes.Buffer
	r := NewReporterTo(&out)

	r.Record("Service Check", true)
	r.Record("Log Search", false)

	if r.Summary() {
		t.Error("expected Summary to report failure when any check failed")
	}

	got := out.String()
	if !strings.Contains(got, "PASS") || !strings.Contains(got, "FAIL") {
		t.Errorf("expected both PASS and FAIL labels, got:\n%s", got)
	}
}

func TestPrintDocs(t *testing.T) {
	var out bytes.Buffer
	r := NewReporterTo(&out)

	docs := []map[string]interface{}{
		{
			"@timestamp":    "2026-08-29T10:00:00Z",
			"service_name":  "test-service",
			"severity_text": "INFO",
			"message":       "order processed",
			"trace_id":      "abcdef0123456789abcdef0123456789",
		},
		{
			"service_name": "test-service",
			"body":         "fallback body",
		},
	}

	r.PrintDocs(docs, 10)

	got := out.String()
	if !strings.Contains(got, "Found 2 log entries:") {
		t.Errorf("expected entry count header, got:\n%s", got)
	}
	if !strings.Contains(got, "order processed") {
		t.Error("expected message in output")
	}
	if !strings.Contains(got, "Trace ID: abcdef0123456789abcdef0123456789") {
		t.Error("expected trace ID line")
	}
	if !strings.Contains(got, "fallback body") {
		t.Error("expected body fallback when message is absent")
	}
	if !strings.Contains(got, "N/A") {
		t.Error("expected N/A for missing timestamp")
	}
}

func TestPrintDocsTruncates(t *testing.T) {
	var out bytes.Buffer
	r := NewReporterTo(&out)

	docs := make([]map[string]interface{}, 5)
	for i := range docs {
		docs[i] = map[string]interface{}{"message": "m"}
	}

	r.PrintDocs(docs, 2)

	if !strings.Contains(out.String(), "... and 3 more logs") {
		t.Errorf("expected truncation notice, got:\n%s", out.String())
	}
}

func TestPrintDocsEmpty(t *testing.T) {
	var out bytes.Buffer
	NewReporterTo(&out).PrintDocs(nil, 10)

	if !strings.Contains(out.String(), "No logs found.") {
		t.Errorf("expected empty notice, got:\n%s", out.String())
	}
}
