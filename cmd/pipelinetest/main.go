package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	pipelinetest "github.com/opensearchpipelinetest"
)

var (
	configPath         string
	collectorEndpoint  string
	processorEndpoint  string
	metricsEndpoint    string
	opensearchEndpoint string
	indexPattern       string
	verbose            bool

	cfg      *pipelinetest.Config
	logger   *zap.Logger
	reporter = pipelinetest.NewReporter()
)

// errFailed marks a run where checks failed; the message is already on the
// reporter so cobra should not print it again
var errFailed = errors.New("checks failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pipelinetest",
		Short: "Test and verification tool for the OTLP log pipeline",
		Long: "pipelinetest exercises a three-stage log pipeline: it synthesizes OTLP\n" +
			"log payloads, posts them to the collector, and verifies the processed\n" +
			"documents in OpenSearch along with the processor's metrics.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&collectorEndpoint, "collector-endpoint", "", "OTLP collector base URL (default http://localhost:4318)")
	root.PersistentFlags().StringVar(&processorEndpoint, "processor-endpoint", "", "Processor base URL (default http://localhost:4900)")
	root.PersistentFlags().StringVar(&metricsEndpoint, "metrics-endpoint", "", "Processor metrics URL (default http://localhost:9600/metrics)")
	root.PersistentFlags().StringVar(&opensearchEndpoint, "opensearch-endpoint", "", "OpenSearch base URL (default http://localhost:9200)")
	root.PersistentFlags().StringVar(&indexPattern, "index-pattern", "", "OpenSearch index pattern (default logs-*)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newGenerateCommand())
	root.AddCommand(newSendCommand())
	root.AddCommand(newIntegrationCommand())
	root.AddCommand(newErrorsCommand())
	root.AddCommand(newMetricsCommand())
	root.AddCommand(newVerifyCommand())

	return root
}

// setup builds the logger, loads the configuration, and applies flag
// overrides. Runs before every subcommand.
func setup(ctx context.Context) error {
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	var err error
	logger, err = zapCfg.Build()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	cfg, err = pipelinetest.LoadConfig(ctx, configPath)
	if err != nil {
		return err
	}

	if collectorEndpoint != "" {
		cfg.CollectorEndpoint = collectorEndpoint
	}
	if processorEndpoint != "" {
		cfg.ProcessorEndpoint = processorEndpoint
	}
	if metricsEndpoint != "" {
		cfg.MetricsEndpoint = metricsEndpoint
	}
	if opensearchEndpoint != "" {
		cfg.Endpoint = opensearchEndpoint
	}
	if indexPattern != "" {
		cfg.IndexPattern = indexPattern
	}

	return cfg.Validate()
}

func prettyJSON(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, fmt.Errorf("failed to indent JSON: %w", err)
	}
	return buf.Bytes(), nil
}

func marshalStructured(records []pipelinetest.StructuredLog, pretty bool) ([]byte, error) {
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(records, "", "  ")
	} else {
		data, err = json.Marshal(records)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal structured logs: %w", err)
	}
	return data, nil
}

func newGenerateCommand() *cobra.Command {
	var (
		format         string
		numLogs        int
		serviceName    string
		serviceVersion string
		output         string
		pretty         bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate log payloads without sending them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serviceName == "" {
				serviceName = cfg.ServiceName
			}
			if serviceVersion == "" {
				serviceVersion = cfg.ServiceVersion
			}

			gen := pipelinetest.NewGenerator(serviceName, serviceVersion, logger)

			var data []byte
			var err error
			switch format {
			case "otlp":
				logs := gen.Generate(numLogs, pipelinetest.NewTraceID())
				data, err = pipelinetest.OTLPJSON(logs)
				if err != nil {
					return fmt.Errorf("failed to marshal OTLP payload: %w", err)
				}
				if pretty {
					data, err = prettyJSON(data)
					if err != nil {
						return err
					}
				}
			case "structured":
				records := gen.GenerateStructured(numLogs)
				data, err = marshalStructured(records, pretty)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q (expected otlp or structured)", format)
			}

			if output == "" || output == "-" {
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			reporter.Successf("Wrote %d logs to %s", numLogs, output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "otlp", "Payload format: otlp or structured")
	cmd.Flags().IntVar(&numLogs, "num-logs", 5, "Number of log records to generate")
	cmd.Flags().StringVar(&serviceName, "service-name", "", "service.name resource attribute")
	cmd.Flags().StringVar(&serviceVersion, "service-version", "", "service.version resource attribute")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")

	return cmd
}

func newSendCommand() *cobra.Command {
	var (
		numLogs    int
		traceIDHex string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Generate logs and post them to the collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			traceID := pipelinetest.NewTraceID()
			if traceIDHex != "" {
				var err error
				traceID, err = pipelinetest.ParseTraceID(traceIDHex)
				if err != nil {
					return err
				}
			}

			gen := pipelinetest.NewGenerator(cfg.ServiceName, cfg.ServiceVersion, logger)
			collector := pipelinetest.NewCollectorClient(cfg.CollectorEndpoint, 10*time.Second, logger)

			reporter.Infof("Sending %d logs to %s...", numLogs, cfg.CollectorEndpoint)
			logs := gen.Generate(numLogs, traceID)
			if err := collector.SendLogs(cmd.Context(), logs); err != nil {
				reporter.Errorf("Failed to send logs: %v", err)
				return errFailed
			}

			reporter.Successf("Sent %d logs (trace ID %s)", numLogs, traceID)
			return nil
		},
	}

	cmd.Flags().IntVar(&numLogs, "num-logs", 10, "Number of log records to send")
	cmd.Flags().StringVar(&traceIDHex, "trace-id", "", "Trace ID to stamp on the batch (32 hex chars, random by default)")

	return cmd
}

func newIntegrationCommand() *cobra.Command {
	var (
		numLogs int
		cleanup bool
	)

	cmd := &cobra.Command{
		Use:   "integration",
		Short: "Run the end-to-end pipeline integration suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			suite, err := pipelinetest.NewSuite(cfg, reporter, logger)
			if err != nil {
				return err
			}
			if !suite.Run(cmd.Context(), numLogs, cleanup) {
				return errFailed
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&numLogs, "num-logs", 4, "Number of test logs to send")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Delete the test documents after verification")

	return cmd
}

func newErrorsCommand() *cobra.Command {
	var (
		loadTest        bool
		numLogs         int
		errorRate       float64
		skipHealthCheck bool
	)

	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Send malformed payloads to exercise error handling and the DLQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			tester, err := pipelinetest.NewErrorTester(cfg, reporter, logger)
			if err != nil {
				return err
			}

			if !skipHealthCheck && !tester.CheckServices(cmd.Context()) {
				reporter.Errorf("Services are not healthy. Ensure the pipeline is running.")
				return errFailed
			}

			if loadTest {
				tester.RunLoadTest(cmd.Context(), numLogs, errorRate)
				return nil
			}

			results := tester.RunScenarios(cmd.Context())
			tester.ValidateDLQ(cmd.Context())

			allSent := true
			reporter.Rule()
			reporter.Infof("Error scenario results:")
			for _, result := range results {
				reporter.Record(result.Scenario.Description, result.Sent)
				if !result.Sent {
					allSent = false
				}
			}
			reporter.Summary()

			if !allSent {
				return errFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&loadTest, "load-test", false, "Run the mixed valid/error load test instead of the scenario catalog")
	cmd.Flags().IntVar(&numLogs, "num-logs", 100, "Number of logs for the load test")
	cmd.Flags().Float64Var(&errorRate, "error-rate", 0.1, "Fraction of load test logs that are error payloads")
	cmd.Flags().BoolVar(&skipHealthCheck, "skip-health-check", false, "Skip the initial service health check")

	return cmd
}

func newMetricsCommand() *cobra.Command {
	var keywords []string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Scrape and filter the processor's metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			scraper := pipelinetest.NewMetricsScraper(cfg.MetricsEndpoint, 10*time.Second, logger)

			text, ok := scraper.Scrape(cmd.Context())
			if !ok {
				reporter.Errorf("Failed to fetch metrics from %s", cfg.MetricsEndpoint)
				return errFailed
			}

			if len(keywords) == 0 {
				fmt.Fprint(cmd.OutOrStdout(), text)
				return nil
			}

			selected := pipelinetest.FilterMetrics(text, keywords)
			if len(selected) == 0 {
				reporter.Warningf("No metrics matched keywords %v", keywords)
				return nil
			}

			names := make([]string, 0, len(selected))
			for name := range selected {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", name, selected[name])
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "Only show metric lines containing one of these substrings")

	return cmd
}

func newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Query OpenSearch to verify indexed pipeline output",
	}

	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newSearchServiceCommand())
	cmd.AddCommand(newSearchSeverityCommand())
	cmd.AddCommand(newSearchTraceCommand())
	cmd.AddCommand(newSearchTimeCommand())
	cmd.AddCommand(newStatsCommand())
	cmd.AddCommand(newVerifyFieldsCommand())
	cmd.AddCommand(newDeleteServiceCommand())

	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check OpenSearch connectivity and list log indices",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := pipelinetest.NewOpenSearchClient(cfg, logger)
			if err != nil {
				return err
			}

			if err := client.Ping(cmd.Context()); err != nil {
				reporter.Errorf("OpenSearch is not reachable: %v", err)
				return errFailed
			}
			reporter.Successf("Connected to OpenSearch at %s", cfg.Endpoint)

			if health, err := client.ClusterHealth(cmd.Context()); err != nil {
				reporter.Warningf("Could not read cluster health: %v", err)
			} else {
				reporter.Infof("Cluster health: %s", health)
			}

			indices := client.Indices(cmd.Context())
			if len(indices) == 0 {
				reporter.Warningf("No indices matching %q found", cfg.IndexPattern)
				return nil
			}

			reporter.Infof("Indices matching %q:", cfg.IndexPattern)
			for _, idx := range indices {
				reporter.Printf("  %-40s health=%-8s status=%-8s docs=%-10s size=%s\n",
					idx.Index, idx.Health, idx.Status, idx.DocsCount, idx.StoreSize)
			}
			return nil
		},
	}
}

func newSearchServiceCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search-service [service-name]",
		Short: "Search indexed logs by service name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serviceName := cfg.ServiceName
			if len(args) == 1 {
				serviceName = args[0]
			}

			client, err := pipelinetest.NewOpenSearchClient(cfg, logger)
			if err != nil {
				return err
			}

			reporter.Infof("Searching for logs from service %q...", serviceName)
			ok, docs := client.SearchByService(cmd.Context(), serviceName, limit)
			if !ok {
				reporter.Errorf("Search failed")
				return errFailed
			}

			reporter.PrintDocs(docs, limit)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of documents to show")

	return cmd
}

func newSearchSeverityCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search-severity <severity>",
		Short: "Search indexed logs by severity label",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			severity := strings.ToUpper(args[0])
			valid := false
			for _, s := range pipelinetest.ValidSeverities {
				if severity == s {
					valid = true
					break
				}
			}
			if !valid {
				return fmt.Errorf("invalid severity %q (expected one of %s)",
					args[0], strings.Join(pipelinetest.ValidSeverities, ", "))
			}

			client, err := pipelinetest.NewOpenSearchClient(cfg, logger)
			if err != nil {
				return err
			}

			reporter.Infof("Searching for %s logs...", severity)
			ok, docs := client.SearchBySeverity(cmd.Context(), severity, limit)
			if !ok {
				reporter.Errorf("Search failed")
				return errFailed
			}

			reporter.PrintDocs(docs, limit)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of documents to show")

	return cmd
}

func newSearchTraceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search-trace <trace-id>",
		Short: "Search indexed logs by trace ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := pipelinetest.NewOpenSearchClient(cfg, logger)
			if err != nil {
				return err
			}

			reporter.Infof("Searching for logs with trace ID %s...", args[0])
			ok, docs := client.SearchByTraceID(cmd.Context(), args[0])
			if !ok {
				reporter.Errorf("Search failed")
				return errFailed
			}

			reporter.PrintDocs(docs, len(docs))
			return nil
		},
	}
}

func newSearchTimeCommand() *cobra.Command {
	var (
		start string
		end   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search-time",
		Short: "Search indexed logs within a time range",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := pipelinetest.NewOpenSearchClient(cfg, logger)
			if err != nil {
				return err
			}

			reporter.Infof("Searching for logs between %s and %s...", start, endOrNow(end))
			ok, docs := client.SearchByTimeRange(cmd.Context(), start, end, limit)
			if !ok {
				reporter.Errorf("Search failed")
				return errFailed
			}

			reporter.PrintDocs(docs, limit)
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "now-1h", "Range start (RFC3339 or date math like now-1h)")
	cmd.Flags().StringVar(&end, "end", "", "Range end (default: now)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of documents to show")

	return cmd
}

func endOrNow(end string) string {
	if end == "" {
		return "now"
	}
	return end
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show indexed log counts by severity and service",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := pipelinetest.NewOpenSearchClient(cfg, logger)
			if err != nil {
				return err
			}

			stats, err := client.Stats(cmd.Context())
			if err != nil {
				reporter.Errorf("Failed to collect statistics: %v", err)
				return errFailed
			}

			reporter.Infof("Log statistics for %q:", cfg.IndexPattern)
			reporter.Printf("  Total logs: %d\n", stats.TotalLogs)
			printDistribution("Severity distribution", stats.SeverityDistribution)
			printDistribution("Service distribution", stats.ServiceDistribution)
			return nil
		},
	}
}

func printDistribution(title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}

	reporter.Printf("  %s:\n", title)
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		reporter.Printf("    %-20s %d\n", key, counts[key])
	}
}

func newVerifyFieldsCommand() *cobra.Command {
	var (
		fields     []string
		sampleSize int
	)

	cmd := &cobra.Command{
		Use:   "verify-fields",
		Short: "Sample documents and check required fields are present",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(fields) == 0 {
				fields = pipelinetest.RequiredDocumentFields
			}

			client, err := pipelinetest.NewOpenSearchClient(cfg, logger)
			if err != nil {
				return err
			}

			reporter.Infof("Verifying fields %v across %d sampled documents...", fields, sampleSize)
			verification, err := client.VerifyFields(cmd.Context(), fields, sampleSize)
			if err != nil {
				reporter.Errorf("Field verification failed: %v", err)
				return errFailed
			}

			if verification.TotalChecked == 0 {
				reporter.Warningf("No documents found to verify")
				return errFailed
			}

			reporter.Infof("Checked %d documents:", verification.TotalChecked)
			allPresent := true
			for _, field := range fields {
				stats := verification.Fields[field]
				if stats == nil {
					continue
				}
				if stats.Missing == 0 {
					reporter.Successf("%s: present in all %d documents (samples: %v)",
						field, stats.Present, stats.SampleValues)
				} else {
					reporter.Errorf("%s: missing in %d of %d documents",
						field, stats.Missing, verification.TotalChecked)
					allPresent = false
				}
			}

			if !allPresent {
				return errFailed
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&fields, "fields", nil, "Fields to verify (default: the required document fields)")
	cmd.Flags().IntVar(&sampleSize, "sample-size", 10, "Number of documents to sample")

	return cmd
}

func newDeleteServiceCommand() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "delete-service <service-name>",
		Short: "Delete all indexed documents for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				reporter.Warningf("Would delete all documents for service %q in %s. Re-run with --confirm to proceed.",
					args[0], cfg.IndexPattern)
				return nil
			}

			client, err := pipelinetest.NewOpenSearchClient(cfg, logger)
			if err != nil {
				return err
			}

			reporter.Infof("Deleting logs for service %q...", args[0])
			if !client.DeleteByService(cmd.Context(), args[0]) {
				reporter.Errorf("Delete failed")
				return errFailed
			}

			reporter.Successf("Deleted logs for service %q", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "Actually perform the deletion")

	return cmd
}
