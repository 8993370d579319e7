package opensearchpipelinetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/collector/pdata/plog"
	"go.uber.org/zap"
)

// CollectorClient posts OTLP log payloads to the collector's HTTP ingest
// path. A send is a single blocking POST; success is HTTP 200 and nothing
// else. There are no retries and no batching beyond what the caller builds.
type CollectorClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewCollectorClient creates a client for the given collector base URL
func NewCollectorClient(endpoint string, timeout time.Duration, logger *zap.Logger) *CollectorClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &CollectorClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// SendLogs serializes the batch to OTLP JSON and posts it to /v1/logs
func (c *CollectorClient) SendLogs(ctx context.Context, logs plog.Logs) error {
	body, err := OTLPJSON(logs)
	if err != nil {
		return err
	}

	c.logger.Debug("Sending logs to collector",
		zap.String("endpoint", c.endpoint),
		zap.Int("log_records", logs.LogRecordCount()),
		zap.Int("payload_bytes", len(body)),
	)

	return c.SendRaw(ctx, body)
}

// SendRaw posts a pre-serialized payload to /v1/logs. Used by the error
// scenario tester, whose payloads are deliberately malformed and cannot be
// represented as plog.Logs.
func (c *CollectorClient) SendRaw(ctx context.Context, body []byte) error {
	url := fmt.Sprintf("%s/v1/logs", c.endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send logs to collector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("collector rejected logs with status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// WaitForReady polls a URL until it answers HTTP 200 or the attempt budget
// is exhausted. The poll is a plain bounded loop: one GET per interval.
func WaitForReady(ctx context.Context, client *http.Client, url, name string, attempts int, interval time.Duration, logger *zap.Logger) bool {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			logger.Error("Failed to create readiness request", zap.String("service", name), zap.Error(err))
			return false
		}

		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				logger.Debug("Service is ready", zap.String("service", name), zap.Int("attempt", attempt))
				return true
			}
		}

		logger.Debug("Service not ready yet",
			zap.String("service", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
		)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}

	logger.Error("Service failed to become ready",
		zap.String("service", name),
		zap.Int("attempts", attempts),
	)
	return false
}
