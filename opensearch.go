package opensearchpipelinetest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OpenSearchClient handles verification queries against the document store
// at the end of the pipeline
type OpenSearchClient struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenSearchClient creates a new OpenSearch client
func NewOpenSearchClient(cfg *Config, logger *zap.Logger) (*OpenSearchClient, error) {
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
	}

	// LoadTLSConfig handles insecure_skip_verify even without cert files
	tlsConfig, err := cfg.TLS.LoadTLSConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS config: %w", err)
	}

	httpClient.Transport = &http.Transport{
		TLSClientConfig: tlsConfig,
	}

	return &OpenSearchClient{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SearchResponse represents the response from OpenSearch
type SearchResponse struct {
	Took         int                    `json:"took"`
	TimedOut     bool                   `json:"timed_out"`
	Shards       ShardInfo              `json:"_shards"`
	Hits         Hits                   `json:"hits"`
	Aggregations map[string]interface{} `json:"aggregations,omitempty"`
}

// ShardInfo contains information about shard success/failure
type ShardInfo struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Hits contains the search results
type Hits struct {
	Total    HitsTotal `json:"total"`
	MaxScore *float64  `json:"max_score"`
	Hits     []Hit     `json:"hits"`
}

// HitsTotal contains the total number of hits. Depending on the engine
// version the wire form is either a bare number or an object with a value
// field; both decode into the canonical Value.
type HitsTotal struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

// UnmarshalJSON accepts both `"total": 5` and `"total": {"value": 5}`
func (t *HitsTotal) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		t.Relation = ""
		return json.Unmarshal(trimmed, &t.Value)
	}

	type alias HitsTotal
	var obj alias
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	*t = HitsTotal(obj)
	return nil
}

// Hit represents a single search result
type Hit struct {
	Index  string                 `json:"_index"`
	ID     string                 `json:"_id"`
	Score  *float64               `json:"_score"`
	Source map[string]interface{} `json:"_source"`
}

// IndexInfo is one row of the _cat/indices listing
type IndexInfo struct {
	Index     string `json:"index"`
	Health    string `json:"health"`
	Status    string `json:"status"`
	DocsCount string `json:"docs.count"`
	StoreSize string `json:"store.size"`
}

// LogStatistics summarizes the indexed log corpus
type LogStatistics struct {
	TotalLogs            int64
	SeverityDistribution map[string]int64
	ServiceDistribution  map[string]int64
}

// FieldStats tallies presence of one required field across sampled docs
type FieldStats struct {
	Present      int
	Missing      int
	SampleValues []string
}

// FieldVerification is the result of sampling documents for required fields
type FieldVerification struct {
	TotalChecked int
	Fields       map[string]*FieldStats
}

// ValidSeverities are the severity labels accepted by severity search
var ValidSeverities = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// do executes a single request against OpenSearch and returns the status
// code and body. Basic auth is attached when configured.
func (c *OpenSearchClient) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	url := c.config.Endpoint + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.config.UsesBasicAuth() {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// Ping checks that OpenSearch answers at its root path
func (c *OpenSearchClient) Ping(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return fmt.Errorf("failed to ping OpenSearch: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("ping failed with status %d: %s", status, string(body))
	}
	return nil
}

// ClusterHealth returns the status color reported by /_cluster/health
func (c *OpenSearchClient) ClusterHealth(ctx context.Context) (string, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/_cluster/health", nil)
	if err != nil {
		return "", fmt.Errorf("failed to get cluster health: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("cluster health returned status %d: %s", status, string(body))
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return "", fmt.Errorf("failed to decode cluster health: %w", err)
	}
	return health.Status, nil
}

// Search executes a query body against the configured index pattern
func (c *OpenSearchClient) Search(ctx context.Context, query map[string]interface{}) (*SearchResponse, error) {
	reqBody, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	c.logger.Debug("Executing OpenSearch query",
		zap.String("index_pattern", c.config.IndexPattern),
		zap.String("request_body", string(reqBody)),
	)

	path := fmt.Sprintf("/%s/_search", c.config.IndexPattern)
	status, body, err := c.do(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", status, string(body))
	}

	var searchResp SearchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	c.logger.Debug("Query executed successfully",
		zap.Int64("total_hits", searchResp.Hits.Total.Value),
		zap.Int("returned_hits", len(searchResp.Hits.Hits)),
		zap.Int("took_ms", searchResp.Took),
	)

	return &searchResp, nil
}

// sources extracts the _source documents from a search response
func sources(resp *SearchResponse) []map[string]interface{} {
	docs := make([]map[string]interface{}, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs
}

// searchDocs runs a query and converts any failure into (false, nil)
func (c *OpenSearchClient) searchDocs(ctx context.Context, query map[string]interface{}, what string) (bool, []map[string]interface{}) {
	resp, err := c.Search(ctx, query)
	if err != nil {
		c.logger.Error("Search failed", zap.String("search", what), zap.Error(err))
		return false, nil
	}
	return true, sources(resp)
}

// SearchByService returns the newest documents for a service name
func (c *OpenSearchClient) SearchByService(ctx context.Context, serviceName string, limit int) (bool, []map[string]interface{}) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"service_name": serviceName},
		},
		"size": limit,
		"sort": []interface{}{
			map[string]interface{}{c.config.TimeField: map[string]interface{}{"order": "desc"}},
		},
	}
	return c.searchDocs(ctx, query, "by_service")
}

// SearchBySeverity returns the newest documents at a severity level
func (c *OpenSearchClient) SearchBySeverity(ctx context.Context, severity string, limit int) (bool, []map[string]interface{}) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"severity_text": strings.ToUpper(severity)},
		},
		"size": limit,
		"sort": []interface{}{
			map[string]interface{}{c.config.TimeField: map[string]interface{}{"order": "desc"}},
		},
	}
	return c.searchDocs(ctx, query, "by_severity")
}

// SearchByTraceID returns all documents for one trace, oldest first
func (c *OpenSearchClient) SearchByTraceID(ctx context.Context, traceID string) (bool, []map[string]interface{}) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"trace_id": traceID},
		},
		"size": 100,
		"sort": []interface{}{
			map[string]interface{}{c.config.TimeField: map[string]interface{}{"order": "asc"}},
		},
	}
	return c.searchDocs(ctx, query, "by_trace_id")
}

// SearchByTimeRange returns the newest documents in [start, end]. An empty
// end defaults to now.
func (c *OpenSearchClient) SearchByTimeRange(ctx context.Context, start, end string, limit int) (bool, []map[string]interface{}) {
	if end == "" {
		end = time.Now().UTC().Format(time.RFC3339)
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				c.config.TimeField: map[string]interface{}{
					"gte": start,
					"lte": end,
				},
			},
		},
		"size": limit,
		"sort": []interface{}{
			map[string]interface{}{c.config.TimeField: map[string]interface{}{"order": "desc"}},
		},
	}
	return c.searchDocs(ctx, query, "by_time_range")
}

// Stats returns the total document count plus severity and service
// distributions from terms aggregations. A failed aggregation query leaves
// the distributions empty rather than failing the whole call.
func (c *OpenSearchClient) Stats(ctx context.Context) (*LogStatistics, error) {
	countResp, err := c.Search(ctx, map[string]interface{}{
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get log statistics: %w", err)
	}

	stats := &LogStatistics{
		TotalLogs:            countResp.Hits.Total.Value,
		SeverityDistribution: map[string]int64{},
		ServiceDistribution:  map[string]int64{},
	}

	aggResp, err := c.Search(ctx, map[string]interface{}{
		"size": 0,
		"aggs": map[string]interface{}{
			"severity_distribution": map[string]interface{}{
				"terms": map[string]interface{}{"field": "severity_text", "size": 10},
			},
			"service_distribution": map[string]interface{}{
				"terms": map[string]interface{}{"field": "service_name", "size": 10},
			},
		},
	})
	if err != nil {
		c.logger.Warn("Aggregation query failed, distributions unavailable", zap.Error(err))
		return stats, nil
	}

	stats.SeverityDistribution = bucketCounts(aggResp.Aggregations, "severity_distribution")
	stats.ServiceDistribution = bucketCounts(aggResp.Aggregations, "service_distribution")

	return stats, nil
}

// bucketCounts flattens a terms aggregation into key -> doc_count
func bucketCounts(aggregations map[string]interface{}, name string) map[string]int64 {
	counts := map[string]int64{}

	aggMap, ok := aggregations[name].(map[string]interface{})
	if !ok {
		return counts
	}

	buckets, ok := aggMap["buckets"].([]interface{})
	if !ok {
		return counts
	}

	for i, bucket := range buckets {
		bucketMap, ok := bucket.(map[string]interface{})
		if !ok {
			continue
		}

		key := ""
		if keyVal, ok := bucketMap["key"].(string); ok {
			key = keyVal
		} else if keyVal, ok := bucketMap["key"].(float64); ok {
			key = fmt.Sprintf("%.0f", keyVal)
		} else {
			key = fmt.Sprintf("bucket_%d", i)
		}

		if docCount, ok := bucketMap["doc_count"].(float64); ok {
			counts[key] = int64(docCount)
		}
	}

	return counts
}

// VerifyFields samples up to sampleSize documents and tallies, per required
// field, how many sampled documents carry a non-null value. This is a
// coverage statistic over the sample, not a per-document guarantee.
func (c *OpenSearchClient) VerifyFields(ctx context.Context, requiredFields []string, sampleSize int) (*FieldVerification, error) {
	resp, err := c.Search(ctx, map[string]interface{}{
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
		"size":  sampleSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve logs for field verification: %w", err)
	}

	if len(resp.Hits.Hits) == 0 {
		return nil, fmt.Errorf("no logs found for verification")
	}

	result := &FieldVerification{
		TotalChecked: len(resp.Hits.Hits),
		Fields:       make(map[string]*FieldStats, len(requiredFields)),
	}
	for _, field := range requiredFields {
		result.Fields[field] = &FieldStats{}
	}

	for _, hit := range resp.Hits.Hits {
		for _, field := range requiredFields {
			stats := result.Fields[field]
			if value, ok := hit.Source[field]; ok && value != nil {
				stats.Present++
				if len(stats.SampleValues) < 3 {
					stats.SampleValues = append(stats.SampleValues, fmt.Sprintf("%v", value))
				}
			} else {
				stats.Missing++
			}
		}
	}

	return result, nil
}

// DeleteByService removes all documents for a service via _delete_by_query
func (c *OpenSearchClient) DeleteByService(ctx context.Context, serviceName string) bool {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"service_name": serviceName},
		},
	}

	reqBody, err := json.Marshal(query)
	if err != nil {
		c.logger.Error("Failed to marshal delete query", zap.Error(err))
		return false
	}

	path := fmt.Sprintf("/%s/_delete_by_query", c.config.IndexPattern)
	status, body, err := c.do(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		c.logger.Error("Delete by query failed", zap.Error(err))
		return false
	}

	if status != http.StatusOK {
		c.logger.Error("Delete by query returned unexpected status",
			zap.Int("status", status),
			zap.String("body", string(body)),
		)
		return false
	}

	return true
}

// Refresh makes recently indexed documents searchable
func (c *OpenSearchClient) Refresh(ctx context.Context) bool {
	path := fmt.Sprintf("/%s/_refresh", c.config.IndexPattern)
	status, _, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		c.logger.Warn("Index refresh failed", zap.Error(err))
		return false
	}
	return status == http.StatusOK
}

// Indices lists the log indices matching the configured pattern
func (c *OpenSearchClient) Indices(ctx context.Context) []IndexInfo {
	path := fmt.Sprintf("/_cat/indices/%s?format=json", c.config.IndexPattern)
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil || status != http.StatusOK {
		c.logger.Warn("Failed to list indices", zap.Int("status", status), zap.Error(err))
		return nil
	}

	var indices []IndexInfo
	if err := json.Unmarshal(body, &indices); err != nil {
		c.logger.Warn("Failed to decode index listing", zap.Error(err))
		return nil
	}

	return indices
}

// HasIndexTemplates reports whether an index template is installed, falling
// back to checking that matching indices exist at all
func (c *OpenSearchClient) HasIndexTemplates(ctx context.Context) bool {
	status, body, err := c.do(ctx, http.MethodGet, "/_index_template", nil)
	if err == nil && status == http.StatusOK {
		var templates struct {
			IndexTemplates []json.RawMessage `json:"index_templates"`
		}
		if err := json.Unmarshal(body, &templates); err == nil && len(templates.IndexTemplates) > 0 {
			return true
		}
	}

	return len(c.Indices(ctx)) > 0
}
