package opensearchpipelinetest

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MetricsScraper fetches the processor's plaintext metrics endpoint and
// selects lines by substring. The metrics text is Prometheus-like but the
// scraper deliberately performs no exposition-format parsing: the contract
// is a heuristic line filter plus a first-space split, nothing more.
type MetricsScraper struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// Pipeline throughput counter names checked for processing activity
const (
	metricRecordsIn  = "log_pipeline_recordsIn_total"
	metricRecordsOut = "log_pipeline_recordsOut_total"
)

// NewMetricsScraper creates a scraper for the given metrics URL
func NewMetricsScraper(endpoint string, timeout time.Duration, logger *zap.Logger) *MetricsScraper {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &MetricsScraper{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Scrape fetches the raw metrics text. Transport failures and non-200
// responses are logged and reported as an empty result.
func (s *MetricsScraper) Scrape(ctx context.Context) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		s.logger.Error("Failed to create metrics request", zap.Error(err))
		return "", false
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("Failed to fetch metrics", zap.String("endpoint", s.endpoint), zap.Error(err))
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("Metrics endpoint returned unexpected status",
			zap.String("endpoint", s.endpoint),
			zap.Int("status", resp.StatusCode),
		)
		return "", false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Error("Failed to read metrics response", zap.Error(err))
		return "", false
	}

	return string(body), true
}

// FilterMetrics selects non-comment lines containing any of the keywords
// (case-insensitive) and splits each on the first space into name -> value.
// Lines without a space are skipped.
func FilterMetrics(metricsText string, keywords []string) map[string]string {
	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw)
	}

	selected := map[string]string{}
	for _, line := range strings.Split(metricsText, "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}

		lowerLine := strings.ToLower(line)
		matched := false
		for _, kw := range lowered {
			if strings.Contains(lowerLine, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		name, value, found := strings.Cut(line, " ")
		if !found {
			continue
		}
		selected[name] = value
	}

	return selected
}

// PipelineActivity reports whether the processor's throughput counters are
// present in the metrics text, based on substring occurrence counts
func PipelineActivity(metricsText string) bool {
	recordsIn := strings.Count(metricsText, metricRecordsIn)
	recordsOut := strings.Count(metricsText, metricRecordsOut)
	return recordsIn > 0 && recordsOut > 0
}

// ThroughputLines returns the non-comment metric lines mentioning the
// pipeline throughput or timing counters, for display in reports
func ThroughputLines(metricsText string) []string {
	var lines []string
	for _, line := range strings.Split(metricsText, "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, "recordsIn_total") ||
			strings.Contains(line, "recordsOut_total") ||
			strings.Contains(line, "processingTime") {
			lines = append(lines, line)
		}
	}
	return lines
}

// DLQMetrics fetches and filters dead-letter-queue and error related
// metrics from the processor
func (s *MetricsScraper) DLQMetrics(ctx context.Context) map[string]string {
	text, ok := s.Scrape(ctx)
	if !ok {
		return map[string]string{}
	}

	metrics := FilterMetrics(text, []string{"dlq", "error"})
	s.logger.Debug("Collected DLQ-related metrics", zap.Int("count", len(metrics)))
	return metrics
}
