package opensearchpipelinetest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, serverURL string) *OpenSearchClient {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Endpoint = serverURL
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validation failed: %v", err)
	}

	client, err := NewOpenSearchClient(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func searchBody(docs ...map[string]interface{}) string {
	hits := make([]map[string]interface{}, 0, len(docs))
	for i, doc := range docs {
		hits = append(hits, map[string]interface{}{
			"_index":  "logs-2026.08.29",
			"_id":     string(rune('a' + i)),
			"_source": doc,
		})
	}

	body, _ := json.Marshal(map[string]interface{}{
		"took": 3,
		"hits": map[string]interface{}{
			"total": map[string]interface{}{"value": len(docs), "relation": "eq"},
			"hits":  hits,
		},
	})
	return string(body)
}

func TestSearch(t *testing.T) {
	var gotPath, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		io.WriteString(w, searchBody(
			map[string]interface{}{"service_name": "test-service", "message": "hello"},
			map[string]interface{}{"service_name": "test-service", "message": "world"},
		))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Search(context.Background(), map[string]interface{}{
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if gotPath != "/logs-*/_search" {
		t.Errorf("expected search against /logs-*/_search, got %s", gotPath)
	}
	if !strings.Contains(gotBody, "match_all") {
		t.Errorf("expected query body, got %s", gotBody)
	}
	if resp.Hits.Total.Value != 2 {
		t.Errorf("expected 2 total hits, got %d", resp.Hits.Total.Value)
	}
	if len(resp.Hits.Hits) != 2 {
		t.Errorf("expected 2 hits, got %d", len(resp.Hits.Hits))
	}
}

func TestSearchNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error": "search_phase_execution_exception"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Search(context.Background(), map[string]interface{}{})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status in error, got: %v", err)
	}

	// The convenience wrappers convert the failure into (false, nil)
	ok, docs := client.SearchByService(context.Background(), "test-service", 10)
	if ok || docs != nil {
		t.Errorf("expected (false, nil) on failed search, got (%v, %v)", ok, docs)
	}
}

func TestHitsTotalScalarAndObject(t *testing.T) {
	var scalar HitsTotal
	if err := json.Unmarshal([]byte(`5`), &scalar); err != nil {
		t.Fatalf("failed to unmarshal scalar total: %v", err)
	}
	if scalar.Value != 5 {
		t.Errorf("expected scalar total 5, got %d", scalar.Value)
	}

	var object HitsTotal
	if err := json.Unmarshal([]byte(`{"value": 7, "relation": "eq"}`), &object); err != nil {
		t.Fatalf("failed to unmarshal object total: %v", err)
	}
	if object.Value != 7 || object.Relation != "eq" {
		t.Errorf("expected total 7/eq, got %d/%s", object.Value, object.Relation)
	}
}

func TestSearchBySeverityUppercases(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		io.WriteString(w, searchBody())
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ok, _ := client.SearchBySeverity(context.Background(), "error", 10)
	if !ok {
		t.Fatal("expected search to succeed")
	}
	if !strings.Contains(gotBody, `"severity_text":"ERROR"`) {
		t.Errorf("expected uppercased severity in query, got %s", gotBody)
	}
}

func TestStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "aggs") {
			io.WriteString(w, `{
				"took": 2,
				"hits": {"total": {"value": 5}, "hits": []},
				"aggregations": {
					"severity_distribution": {"buckets": [
						{"key": "INFO", "doc_count": 3},
						{"key": "ERROR", "doc_count": 2}
					]},
					"service_distribution": {"buckets": [
						{"key": "test-service", "doc_count": 5}
					]}
				}
			}`)
			return
		}
		io.WriteString(w, `{"took": 1, "hits": {"total": {"value": 5}, "hits": []}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	stats, err := client.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.TotalLogs != 5 {
		t.Errorf("expected 5 total logs, got %d", stats.TotalLogs)
	}
	if stats.SeverityDistribution["INFO"] != 3 || stats.SeverityDistribution["ERROR"] != 2 {
		t.Errorf("unexpected severity distribution: %v", stats.SeverityDistribution)
	}
	if stats.ServiceDistribution["test-service"] != 5 {
		t.Errorf("unexpected service distribution: %v", stats.ServiceDistribution)
	}
}

func TestStatsToleratesAggregationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "aggs") {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error": "fielddata disabled"}`)
			return
		}
		io.WriteString(w, `{"took": 1, "hits": {"total": {"value": 9}, "hits": []}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	stats, err := client.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats should tolerate aggregation failure, got: %v", err)
	}

	if stats.TotalLogs != 9 {
		t.Errorf("expected 9 total logs, got %d", stats.TotalLogs)
	}
	if len(stats.SeverityDistribution) != 0 || len(stats.ServiceDistribution) != 0 {
		t.Errorf("expected empty distributions, got %v / %v",
			stats.SeverityDistribution, stats.ServiceDistribution)
	}
}

func TestVerifyFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, searchBody(
			map[string]interface{}{"message": "a", "severity_text": "INFO"},
			map[string]interface{}{"message": "b", "severity_text": "WARN"},
			map[string]interface{}{"message": "c"},
		))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.VerifyFields(context.Background(), []string{"message", "severity_text"}, 10)
	if err != nil {
		t.Fatalf("VerifyFields failed: %v", err)
	}

	if result.TotalChecked != 3 {
		t.Errorf("expected 3 checked documents, got %d", result.TotalChecked)
	}

	msg := result.Fields["message"]
	if msg.Present != 3 || msg.Missing != 0 {
		t.Errorf("message: expected 3 present / 0 missing, got %d/%d", msg.Present, msg.Missing)
	}
	if len(msg.SampleValues) != 3 {
		t.Errorf("expected 3 sample values, got %v", msg.SampleValues)
	}

	sev := result.Fields["severity_text"]
	if sev.Present != 2 || sev.Missing != 1 {
		t.Errorf("severity_text: expected 2 present / 1 missing, got %d/%d", sev.Present, sev.Missing)
	}
	if sev.Present+sev.Missing != result.TotalChecked {
		t.Errorf("present + missing must equal total checked")
	}
}

func TestVerifyFieldsNoDocuments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, searchBody())
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.VerifyFields(context.Background(), []string{"message"}, 10); err == nil {
		t.Fatal("expected error when no documents exist")
	}
}

func TestDeleteByService(t *testing.T) {
	var gotPath, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		io.WriteString(w, `{"deleted": 5}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if !client.DeleteByService(context.Background(), "test-service") {
		t.Fatal("expected delete to succeed")
	}

	if gotPath != "/logs-*/_delete_by_query" {
		t.Errorf("expected _delete_by_query path, got %s", gotPath)
	}
	if !strings.Contains(gotBody, `"service_name":"test-service"`) {
		t.Errorf("expected service term query, got %s", gotBody)
	}
}

func TestDeleteByServiceFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if client.DeleteByService(context.Background(), "test-service") {
		t.Fatal("expected delete to report failure on non-200 status")
	}
}

func TestBasicAuthAttached(t *testing.T) {
	var gotUser, gotPass string
	var gotAuth bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotAuth = r.BasicAuth()
		io.WriteString(w, `{"cluster_name": "test"}`)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Endpoint = server.URL
	cfg.Username = "admin"
	cfg.Password = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validation failed: %v", err)
	}

	client, err := NewOpenSearchClient(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if !gotAuth || gotUser != "admin" || gotPass != "secret" {
		t.Errorf("expected basic auth admin/secret, got %s/%s (present=%v)", gotUser, gotPass, gotAuth)
	}
}

func TestClusterHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_cluster/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"cluster_name": "test", "status": "yellow"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	health, err := client.ClusterHealth(context.Background())
	if err != nil {
		t.Fatalf("ClusterHealth failed: %v", err)
	}
	if health != "yellow" {
		t.Errorf("expected status yellow, got %q", health)
	}
}

func TestSearchByTimeRangeDefaultsEndToNow(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		io.WriteString(w, searchBody())
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ok, _ := client.SearchByTimeRange(context.Background(), "2026-08-29T00:00:00Z", "", 10)
	if !ok {
		t.Fatal("expected search to succeed")
	}
	if !strings.Contains(gotBody, `"gte":"2026-08-29T00:00:00Z"`) {
		t.Errorf("expected range start in query, got %s", gotBody)
	}
	if !strings.Contains(gotBody, `"lte":"`) || strings.Contains(gotBody, `"lte":""`) {
		t.Errorf("expected non-empty range end defaulting to now, got %s", gotBody)
	}
}

func TestHasIndexTemplatesFallsBackToIndices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/_index_template":
			io.WriteString(w, `{"index_templates": []}`)
		case strings.HasPrefix(r.URL.Path, "/_cat/indices"):
			io.WriteString(w, `[{"index": "logs-2026.08.29", "health": "green", "status": "open", "docs.count": "42", "store.size": "1mb"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if !client.HasIndexTemplates(context.Background()) {
		t.Error("expected fallback to existing indices")
	}

	indices := client.Indices(context.Background())
	if len(indices) != 1 || indices[0].Index != "logs-2026.08.29" || indices[0].DocsCount != "42" {
		t.Errorf("unexpected index listing: %+v", indices)
	}
}
