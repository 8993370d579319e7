package opensearchpipelinetest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/collector/config/confighttp"
	"go.opentelemetry.io/collector/confmap"
	"go.opentelemetry.io/collector/confmap/provider/fileprovider"
)

// Config defines the endpoints and verification settings for the pipeline
// test tool. The pipeline under test has three stages:
//
//  1. OTLP Collector: receives synthesized log payloads over OTLP/HTTP
//  2. Processor: transforms records and exposes health + metrics endpoints
//  3. OpenSearch: indexes the processed records for verification queries
//
// The embedded ClientConfig carries the OpenSearch endpoint plus HTTP
// client settings (timeout, TLS); the remaining endpoints are plain URLs.
type Config struct {
	// ClientConfig configures the OpenSearch HTTP client (endpoint,
	// timeout, TLS, headers, etc.)
	confighttp.ClientConfig `mapstructure:",squash"`

	// CollectorEndpoint is the base URL of the OTLP collector.
	// Logs are posted to <endpoint>/v1/logs.
	CollectorEndpoint string `mapstructure:"collector_endpoint"`

	// ProcessorEndpoint is the base URL of the processor stage.
	// Health is checked at <endpoint>/health.
	ProcessorEndpoint string `mapstructure:"processor_endpoint"`

	// MetricsEndpoint is the full URL of the processor's plaintext
	// metrics endpoint
	MetricsEndpoint string `mapstructure:"metrics_endpoint"`

	// Username for OpenSearch basic authentication (optional)
	Username string `mapstructure:"username"`

	// Password for OpenSearch basic authentication (optional)
	Password string `mapstructure:"password"`

	// IndexPattern is the OpenSearch index pattern holding pipeline output
	// Example: "logs-*"
	IndexPattern string `mapstructure:"index_pattern"`

	// TimeField is the document field used for time-based queries
	// Default: "@timestamp"
	TimeField string `mapstructure:"time_field"`

	// ServiceName is the service.name resource attribute stamped on
	// synthesized logs and used to find them again during verification
	ServiceName string `mapstructure:"service_name"`

	// ServiceVersion is the service.version resource attribute
	ServiceVersion string `mapstructure:"service_version"`

	// ProcessingWait is how long to wait after sending logs before
	// querying OpenSearch. The pipeline offers no completion signal, so
	// the wait is a fixed guess.
	ProcessingWait time.Duration `mapstructure:"processing_wait"`

	// ReadinessAttempts bounds the readiness poll loop per service
	ReadinessAttempts int `mapstructure:"readiness_attempts"`

	// ReadinessInterval is the delay between readiness attempts
	ReadinessInterval time.Duration `mapstructure:"readiness_interval"`
}

// DefaultConfig returns the configuration matching a local docker-compose
// deployment of the pipeline.
func DefaultConfig() *Config {
	return &Config{
		ClientConfig: confighttp.ClientConfig{
			Endpoint: "http://localhost:9200",
			Timeout:  30 * time.Second,
		},
		CollectorEndpoint: "http://localhost:4318",
		ProcessorEndpoint: "http://localhost:4900",
		MetricsEndpoint:   "http://localhost:9600/metrics",
		IndexPattern:      "logs-*",
		TimeField:         "@timestamp",
		ServiceName:       "test-service",
		ServiceVersion:    "1.0.0",
		ProcessingWait:    15 * time.Second,
		ReadinessAttempts: 30,
		ReadinessInterval: 2 * time.Second,
	}
}

// Validate checks the configuration and fills defaults for optional fields
func (cfg *Config) Validate() error {
	if cfg.Endpoint == "" {
		return errors.New("opensearch endpoint must be specified")
	}

	if cfg.CollectorEndpoint == "" {
		return errors.New("collector_endpoint must be specified")
	}

	if cfg.ProcessorEndpoint == "" {
		return errors.New("processor_endpoint must be specified")
	}

	if cfg.Username != "" && cfg.Password == "" {
		return errors.New("password must be specified when username is set")
	}

	// Set defaults
	if cfg.IndexPattern == "" {
		cfg.IndexPattern = "logs-*"
	}

	if cfg.TimeField == "" {
		cfg.TimeField = "@timestamp"
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "test-service"
	}

	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "1.0.0"
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	if cfg.ProcessingWait == 0 {
		cfg.ProcessingWait = 15 * time.Second
	}

	if cfg.ReadinessAttempts == 0 {
		cfg.ReadinessAttempts = 30
	}

	if cfg.ReadinessInterval == 0 {
		cfg.ReadinessInterval = 2 * time.Second
	}

	return nil
}

// UsesBasicAuth returns true if OpenSearch requests should carry basic
// authentication
func (cfg *Config) UsesBasicAuth() bool {
	return cfg.Username != "" && cfg.Password != ""
}

// LoadConfig reads a YAML configuration file and merges it over the
// defaults. An empty path returns the defaults unchanged.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	resolver, err := confmap.NewResolver(confmap.ResolverSettings{
		URIs:              []string{path},
		ProviderFactories: []confmap.ProviderFactory{fileprovider.NewFactory()},
		DefaultScheme:     "file",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config resolver: %w", err)
	}

	conf, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config file %s: %w", path, err)
	}

	if err := conf.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file %s: %w", path, err)
	}

	return cfg, nil
}
