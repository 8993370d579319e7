package opensearchpipelinetest

import (
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.uber.org/zap"
)

// AttributeGenerator produces a fresh attribute value for each record
type AttributeGenerator func() string

// LogTemplate pairs a severity with a message template and a set of
// attribute sources. Attribute values are either string literals or
// AttributeGenerator funcs invoked once per generated record. Attribute
// names that appear as {name} placeholders in the message template are
// substituted into the message.
//
// Severity pairs are the exact (number, label) combinations the processor's
// field mapping expects; they intentionally do not all line up with the
// plog severity constants.
type LogTemplate struct {
	SeverityNumber  plog.SeverityNumber
	SeverityText    string
	MessageTemplate string
	Attributes      map[string]any
}

// StructuredLog is the flat (non-OTLP) output form of a generated record
type StructuredLog struct {
	Timestamp      string            `json:"timestamp"`
	ServiceName    string            `json:"service_name"`
	ServiceVersion string            `json:"service_version"`
	SeverityText   string            `json:"severity_text"`
	SeverityNumber int               `json:"severity_number"`
	Message        string            `json:"message"`
	Attributes     map[string]string `json:"attributes"`
	TraceID        string            `json:"trace_id"`
	SpanID         string            `json:"span_id"`
}

// Generator synthesizes log batches for the pipeline under test
type Generator struct {
	serviceName    string
	serviceVersion string
	logger         *zap.Logger
}

// NewGenerator creates a generator that stamps the given service identity
// onto every batch
func NewGenerator(serviceName, serviceVersion string, logger *zap.Logger) *Generator {
	return &Generator{
		serviceName:    serviceName,
		serviceVersion: serviceVersion,
		logger:         logger,
	}
}

// Templates returns the fixed message template catalog
func (g *Generator) Templates() []LogTemplate {
	return []LogTemplate{
		{
			SeverityNumber:  plog.SeverityNumber(9),
			SeverityText:    "INFO",
			MessageTemplate: "User authentication successful for user_id={user_id}",
			Attributes: map[string]any{
				"user.id":    AttributeGenerator(func() string { return fmt.Sprintf("%d", randRange(10000, 99999)) }),
				"action":     "login",
				"ip_address": AttributeGenerator(func() string { return fmt.Sprintf("192.168.1.%d", randRange(1, 254)) }),
				"user_agent": "Mozilla/5.0 (compatible; TestClient/1.0)",
			},
		},
		{
			SeverityNumber:  plog.SeverityNumber(13),
			SeverityText:    "ERROR",
			MessageTemplate: "Database connection failed: {error_reason}",
			Attributes: map[string]any{
				"database.name": AttributeGenerator(func() string { return choice("user_db", "product_db", "order_db") }),
				"error.type":    AttributeGenerator(func() string { return choice("connection_timeout", "auth_failed", "network_error") }),
				"retry_count":   AttributeGenerator(func() string { return fmt.Sprintf("%d", randRange(1, 5)) }),
				"error_reason":  AttributeGenerator(func() string { return choice("timeout after 30s", "authentication failed", "host unreachable") }),
			},
		},
		{
			SeverityNumber:  plog.SeverityNumber(5),
			SeverityText:    "DEBUG",
			MessageTemplate: "Processing request with correlation_id={correlation_id}",
			Attributes: map[string]any{
				"correlation_id":       AttributeGenerator(func() string { return uuid.NewString()[:8] }),
				"request.method":       AttributeGenerator(func() string { return choice("GET", "POST", "PUT", "DELETE") }),
				"request.path":         AttributeGenerator(func() string { return choice("/api/v1/users", "/api/v1/orders", "/api/v1/products") }),
				"response.status_code": AttributeGenerator(func() string { return choice("200", "201", "400", "404", "500") }),
			},
		},
		{
			SeverityNumber:  plog.SeverityNumber(17),
			SeverityText:    "FATAL",
			MessageTemplate: "Critical system failure: {failure_type}",
			Attributes: map[string]any{
				"memory.used":      AttributeGenerator(func() string { return fmt.Sprintf("%d%%", randRange(85, 99)) }),
				"system.component": AttributeGenerator(func() string { return choice("application_server", "database", "cache_layer") }),
				"failure_type":     AttributeGenerator(func() string { return choice("out of memory", "disk full", "service unavailable") }),
			},
		},
		{
			SeverityNumber:  plog.SeverityNumber(12),
			SeverityText:    "WARN",
			MessageTemplate: "High response time detected: {response_time}ms for endpoint {endpoint}",
			Attributes: map[string]any{
				"response_time": AttributeGenerator(func() string { return fmt.Sprintf("%d", randRange(1000, 5000)) }),
				"endpoint":      AttributeGenerator(func() string { return choice("/api/search", "/api/checkout", "/api/report") }),
				"threshold":     "1000ms",
				"client_id":     AttributeGenerator(func() string { return fmt.Sprintf("client_%d", randRange(1000, 9999)) }),
			},
		},
		{
			SeverityNumber:  plog.SeverityNumber(9),
			SeverityText:    "INFO",
			MessageTemplate: "Order {order_id} processed successfully for customer {customer_id}",
			Attributes: map[string]any{
				"order_id":       AttributeGenerator(func() string { return fmt.Sprintf("ORD-%d", randRange(100000, 999999)) }),
				"customer_id":    AttributeGenerator(func() string { return fmt.Sprintf("CUST-%d", randRange(10000, 99999)) }),
				"order_amount":   AttributeGenerator(func() string { return fmt.Sprintf("$%d.%d", randRange(10, 1000), randRange(10, 99)) }),
				"payment_method": AttributeGenerator(func() string { return choice("credit_card", "paypal", "bank_transfer") }),
			},
		},
	}
}

// resolvedRecord is one template instantiation with concrete values
type resolvedRecord struct {
	severityNumber plog.SeverityNumber
	severityText   string
	message        string
	attributes     map[string]string
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// resolveTemplate invokes attribute generators and substitutes message
// placeholders. Substitution is all-or-nothing: if any placeholder in the
// message has no matching attribute, the template text is kept verbatim.
// That branch hides data-generation mistakes, so it is logged rather than
// swallowed.
func (g *Generator) resolveTemplate(tmpl LogTemplate) resolvedRecord {
	attrs := make(map[string]string, len(tmpl.Attributes))
	for key, value := range tmpl.Attributes {
		switch v := value.(type) {
		case AttributeGenerator:
			attrs[key] = v()
		case func() string:
			attrs[key] = v()
		case string:
			attrs[key] = v
		default:
			attrs[key] = fmt.Sprintf("%v", v)
		}
	}

	message, ok := formatMessage(tmpl.MessageTemplate, attrs)
	if !ok {
		g.logger.Warn("message placeholder unresolved, keeping template verbatim",
			zap.String("template", tmpl.MessageTemplate),
		)
	}

	return resolvedRecord{
		severityNumber: tmpl.SeverityNumber,
		severityText:   tmpl.SeverityText,
		message:        message,
		attributes:     attrs,
	}
}

// formatMessage substitutes every {name} placeholder from values. When any
// placeholder has no value the template is returned unchanged and ok is
// false; there is never a partially substituted result.
func formatMessage(template string, values map[string]string) (string, bool) {
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if _, ok := values[match[1]]; !ok {
			return template, false
		}
	}

	result := placeholderPattern.ReplaceAllStringFunc(template, func(ph string) string {
		return values[ph[1:len(ph)-1]]
	})
	return result, true
}

// Generate produces a batch of numLogs records under a single resource and
// scope. All records share one trace ID; a zero traceID means a random one
// is created for the batch. Span IDs are independent per record.
func (g *Generator) Generate(numLogs int, traceID pcommon.TraceID) plog.Logs {
	if traceID.IsEmpty() {
		traceID = NewTraceID()
	}

	logs := plog.NewLogs()
	rl := logs.ResourceLogs().AppendEmpty()

	resourceAttrs := rl.Resource().Attributes()
	resourceAttrs.PutStr("service.name", g.serviceName)
	resourceAttrs.PutStr("service.version", g.serviceVersion)
	resourceAttrs.PutStr("host.name", fmt.Sprintf("host-%02d", randRange(1, 10)))
	resourceAttrs.PutStr("container.name", g.serviceName+"-container")
	resourceAttrs.PutStr("deployment.environment", choice("development", "staging", "production"))

	sl := rl.ScopeLogs().AppendEmpty()
	sl.Scope().SetName(g.serviceName + "-logger")
	sl.Scope().SetVersion("1.0.0")

	templates := g.Templates()
	base := time.Now()

	for i := 0; i < numLogs; i++ {
		record := g.resolveTemplate(templates[rand.IntN(len(templates))])

		lr := sl.LogRecords().AppendEmpty()
		ts := pcommon.NewTimestampFromTime(base.Add(time.Duration(i) * time.Millisecond))
		lr.SetTimestamp(ts)
		lr.SetObservedTimestamp(ts)
		lr.SetSeverityNumber(record.severityNumber)
		lr.SetSeverityText(record.severityText)
		lr.Body().SetStr(record.message)
		for key, value := range record.attributes {
			lr.Attributes().PutStr(key, value)
		}
		lr.SetTraceID(traceID)
		lr.SetSpanID(NewSpanID())
		lr.SetFlags(plog.LogRecordFlags(1))
	}

	return logs
}

// GenerateStructured produces flat log entries instead of an OTLP tree.
// Unlike Generate, every entry carries its own trace ID.
func (g *Generator) GenerateStructured(numLogs int) []StructuredLog {
	templates := g.Templates()
	entries := make([]StructuredLog, 0, numLogs)

	for i := 0; i < numLogs; i++ {
		record := g.resolveTemplate(templates[rand.IntN(len(templates))])

		entries = append(entries, StructuredLog{
			Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
			ServiceName:    g.serviceName,
			ServiceVersion: g.serviceVersion,
			SeverityText:   record.severityText,
			SeverityNumber: int(record.severityNumber),
			Message:        record.message,
			Attributes:     record.attributes,
			TraceID:        NewTraceID().String(),
			SpanID:         NewSpanID().String(),
		})
	}

	return entries
}

// OTLPJSON serializes a log batch into the OTLP/HTTP JSON wire form
// (resourceLogs -> scopeLogs -> logRecords)
func OTLPJSON(logs plog.Logs) ([]byte, error) {
	marshaler := &plog.JSONMarshaler{}
	body, err := marshaler.MarshalLogs(logs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal logs: %w", err)
	}
	return body, nil
}

// NewTraceID returns a random 16-byte trace ID
func NewTraceID() pcommon.TraceID {
	return pcommon.TraceID(uuid.New())
}

// NewSpanID returns a random 8-byte span ID
func NewSpanID() pcommon.SpanID {
	u := uuid.New()
	var sid [8]byte
	copy(sid[:], u[:8])
	return pcommon.SpanID(sid)
}

// ParseTraceID decodes a 32-character hex trace ID
func ParseTraceID(s string) (pcommon.TraceID, error) {
	var tid pcommon.TraceID
	b, err := hex.DecodeString(s)
	if err != nil {
		return tid, fmt.Errorf("invalid trace ID %q: %w", s, err)
	}
	if len(b) != 16 {
		return tid, fmt.Errorf("invalid trace ID %q: expected 16 bytes, got %d", s, len(b))
	}
	copy(tid[:], b)
	return tid, nil
}

func choice(options ...string) string {
	return options[rand.IntN(len(options))]
}

// randRange returns a random int in [lo, hi], both bounds inclusive
func randRange(lo, hi int) int {
	return lo + rand.IntN(hi-lo+1)
}
