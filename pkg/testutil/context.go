package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_io"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"
)

// NewTestContext creates a RuntimeContext suitable for testing. The context is
// cancelled when the test finishes.
func NewTestContext(t *testing.T) *horae_io.RuntimeContext {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, span := noop.NewTracerProvider().Tracer("test").Start(ctx, t.Name())
	return &horae_io.RuntimeContext{
		Ctx:        ctx,
		Log:        zaptest.NewLogger(t),
		Timestamp:  time.Now(),
		Span:       span,
		Component:  "test",
		Command:    t.Name(),
		Attributes: make(map[string]string),
	}
}
