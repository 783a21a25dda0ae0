// pkg/horae_io/context.go

package horae_io

import (
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_err"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

type RuntimeContext struct {
	Ctx        context.Context
	Log        *zap.Logger
	Timestamp  time.Time
	Span       trace.Span
	Command    string
	Component  string
	Attributes map[string]string
}

// NewContext sets up tracing and a command-scoped logger.
func NewContext(parent context.Context, cmdName string) *RuntimeContext {
	ctx, span := telemetry.Start(parent, cmdName)
	traceID := logger.GenerateTraceID()
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	comp := resolveComponent(3)
	log := logger.L().With(
		zap.String("component", comp),
		zap.String("command", cmdName),
		zap.String("trace_id", traceID),
	).Named(comp)

	return &RuntimeContext{
		Ctx:        ctx,
		Span:       span,
		Log:        log,
		Timestamp:  time.Now(),
		Component:  comp,
		Command:    cmdName,
		Attributes: make(map[string]string),
	}
}

// HandlePanic recovers panics, logs them, and converts to an error.
func (rc *RuntimeContext) HandlePanic(errPtr *error) {
	if r := recover(); r != nil {
		*errPtr = cerr.AssertionFailedf("panic: %v", r)
		rc.Log.Error("panic recovered", zap.Any("panic", r))
	}
}

// End logs outcome, emits a telemetry span with key attributes, and flushes.
func (rc *RuntimeContext) End(errPtr *error) {
	defer rc.Span.End()

	var err error
	if errPtr != nil {
		err = *errPtr
	}
	duration := time.Since(rc.Timestamp)
	success := err == nil

	if success {
		rc.Log.Info("Command completed", zap.Duration("duration", duration))
	} else {
		rc.Log.Error("Command failed", zap.Duration("duration", duration), zap.Error(err))
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
		attribute.Int64("duration_ms", duration.Milliseconds()),
		attribute.String("os", runtime.GOOS),
		attribute.String("args", telemetry.TruncateArgs(os.Args[1:])),
		attribute.String("version", Version),
		attribute.String("error_type", classifyError(err)),
		attribute.Int("exit_code", horae_err.GetExitCode(err)),
	}
	for k, v := range rc.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	rc.Span.SetAttributes(attrs...)

	logger.Sync()
}

func resolveComponent(skip int) string {
	_, file, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	parts := strings.Split(file, "/")
	if len(parts) < 2 {
		return strings.TrimSuffix(file, ".go")
	}
	return parts[len(parts)-2]
}

func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if horae_err.IsExpectedUserError(err) {
		return "user"
	}
	var ce *horae_err.ClassifiedError
	if cerr.As(err, &ce) {
		return ce.Category.String()
	}
	return "system"
}
