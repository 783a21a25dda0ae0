// pkg/telemetry/telemetry.go
package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/CodeMonkeyCybersecurity/horae"

var (
	mu       sync.RWMutex
	tracer   trace.Tracer
	shutdown = func(context.Context) error { return nil }
)

// Init configures OpenTelemetry; call this early in main().
// When enabled is false (and ~/.horae/telemetry_on does not exist) a noop
// provider is installed.
func Init(service string, enabled bool) error {
	mu.Lock()
	defer mu.Unlock()

	if !enabled && !optedIn() {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		tracer = tp.Tracer(service)
		return nil
	}

	// Create telemetry log directory
	telemetryDir := "/var/log/horae"
	if err := os.MkdirAll(telemetryDir, 0755); err != nil {
		// Fallback to user home if system directory fails
		telemetryDir = filepath.Join(os.Getenv("HOME"), ".horae", "telemetry")
		if err := os.MkdirAll(telemetryDir, 0755); err != nil {
			return cerr.Wrap(err, "failed to create telemetry directory")
		}
	}

	// Open telemetry file for appending (JSONL format)
	telemetryFile := filepath.Join(telemetryDir, "telemetry.jsonl")
	file, err := os.OpenFile(telemetryFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return cerr.Wrap(err, "failed to open telemetry file")
	}

	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(file),
		stdouttrace.WithoutTimestamps(), // Spans already have timestamps
	)
	if err != nil {
		file.Close()
		return cerr.Wrap(err, "failed to create file exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(
			sdkresource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName(service),
				attribute.String("host.name", hostname()),
				attribute.String("horae.install_id", AnonTelemetryID()),
			),
		),
	)

	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(service)
	shutdown = func(ctx context.Context) error {
		defer file.Close()
		return tp.Shutdown(ctx)
	}
	return nil
}

// Shutdown flushes pending spans.
func Shutdown(ctx context.Context) error {
	mu.RLock()
	fn := shutdown
	mu.RUnlock()
	return fn(ctx)
}

// Start a telemetry span with optional attributes.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	mu.RLock()
	t := tracer
	mu.RUnlock()
	if t == nil {
		t = otel.Tracer(instrumentationName)
	}
	return t.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Meter returns the process meter. Without a registered MeterProvider the
// instruments it creates are no-ops.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

func optedIn() bool {
	path := filepath.Join(os.Getenv("HOME"), ".horae", "telemetry_on")
	_, err := os.Stat(path)
	return err == nil
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// TruncateArgs joins args, capped at 256 bytes.
func TruncateArgs(args []string) string {
	full := strings.Join(args, " ")
	if len(full) > 256 {
		return full[:256] + "..."
	}
	return full
}

// AnonTelemetryID returns a stable anonymous id, creating it on first use.
func AnonTelemetryID() string {
	path := filepath.Join(os.Getenv("HOME"), ".horae", "telemetry_id")

	if data, err := os.ReadFile(path); err == nil {
		return strings.TrimSpace(string(data))
	}

	id := "anon-" + uuid.New().String()
	_ = os.MkdirAll(filepath.Dir(path), 0700)
	_ = os.WriteFile(path, []byte(id), 0600)

	return id
}
