package opensearchpipelinetest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Reporter prints operator-facing progress and pass/fail lines. Structured
// diagnostics go through zap; this is the human-readable surface.
type Reporter struct {
	out     io.Writer
	results []StepResult
}

// StepResult is one named check outcome accumulated for the summary
type StepResult struct {
	Name   string
	Passed bool
}

var (
	infoTag    = color.New(color.FgBlue).Sprint("[INFO]")
	successTag = color.New(color.FgGreen).Sprint("[SUCCESS]")
	warningTag = color.New(color.FgYellow).Sprint("[WARNING]")
	errorTag   = color.New(color.FgRed).Sprint("[ERROR]")

	passLabel = color.New(color.FgGreen).Sprint("PASS")
	failLabel = color.New(color.FgRed).Sprint("FAIL")
)

// NewReporter creates a reporter writing to stdout
func NewReporter() *Reporter {
	return &Reporter{out: os.Stdout}
}

// NewReporterTo creates a reporter writing to the given writer
func NewReporterTo(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

// Infof prints an informational progress line
func (r *Reporter) Infof(format string, args ...any) {
	fmt.Fprintf(r.out, "%s %s\n", infoTag, fmt.Sprintf(format, args...))
}

// Successf prints a success line
func (r *Reporter) Successf(format string, args ...any) {
	fmt.Fprintf(r.out, "%s %s\n", successTag, fmt.Sprintf(format, args...))
}

// Warningf prints a warning line
func (r *Reporter) Warningf(format string, args ...any) {
	fmt.Fprintf(r.out, "%s %s\n", warningTag, fmt.Sprintf(format, args...))
}

// Errorf prints a failure line
func (r *Reporter) Errorf(format string, args ...any) {
	fmt.Fprintf(r.out, "%s %s\n", errorTag, fmt.Sprintf(format, args...))
}

// Printf prints an unprefixed line
func (r *Reporter) Printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// Rule prints a horizontal separator
func (r *Reporter) Rule() {
	fmt.Fprintln(r.out, strings.Repeat("=", 70))
}

// Record stores a named check outcome for the summary
func (r *Reporter) Record(name string, passed bool) {
	r.results = append(r.results, StepResult{Name: name, Passed: passed})
}

// Results returns the accumulated check outcomes
func (r *Reporter) Results() []StepResult {
	return r.results
}

// Summary prints the accumulated results and returns true only when every
// recorded check passed
func (r *Reporter) Summary() bool {
	r.Rule()
	r.Infof("Test Results Summary:")

	allPassed := true
	for _, result := range r.results {
		label := passLabel
		if !result.Passed {
			label = failLabel
			allPassed = false
		}
		fmt.Fprintf(r.out, "  %s - %s\n", label, result.Name)
	}

	r.Rule()
	return allPassed
}

// PrintDocs pretty prints up to maxDocs retrieved log documents
func (r *Reporter) PrintDocs(docs []map[string]interface{}, maxDocs int) {
	if len(docs) == 0 {
		fmt.Fprintln(r.out, "No logs found.")
		return
	}

	fmt.Fprintf(r.out, "Found %d log entries:\n", len(docs))
	fmt.Fprintln(r.out, strings.Repeat("-", 80))

	for i, doc := range docs {
		if i >= maxDocs {
			break
		}

		timestamp := docString(doc, "@timestamp")
		service := docString(doc, "service_name")
		severity := docString(doc, "severity_text")
		message := docString(doc, "message")
		if message == "N/A" {
			message = docString(doc, "body")
		}

		fmt.Fprintf(r.out, "%d. [%s] %s - %s\n", i+1, timestamp, severity, service)
		fmt.Fprintf(r.out, "   Message: %s\n", message)

		if traceID, ok := doc["trace_id"].(string); ok && traceID != "" {
			fmt.Fprintf(r.out, "   Trace ID: %s\n", traceID)
		}

		fmt.Fprintln(r.out)
	}

	if len(docs) > maxDocs {
		fmt.Fprintf(r.out, "... and %d more logs\n", len(docs)-maxDocs)
	}
}

func docString(doc map[string]interface{}, field string) string {
	if value, ok := doc[field]; ok && value != nil {
		return fmt.Sprintf("%v", value)
	}
	return "N/A"
}
