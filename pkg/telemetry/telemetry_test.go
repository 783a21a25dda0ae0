package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartWithoutInit(t *testing.T) {
	ctx, span := Start(nil, "probe") //nolint:staticcheck // nil ctx is tolerated
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, Init("horae-test", false))

	_, span := Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, Shutdown(context.Background()))
}

func TestTruncateArgs(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "start --env dev", TruncateArgs([]string{"start", "--env", "dev"}))

	long := TruncateArgs([]string{strings.Repeat("x", 300)})
	assert.Len(t, long, 259)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestAnonTelemetryIDIsStable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	first := AnonTelemetryID()
	assert.True(t, strings.HasPrefix(first, "anon-"))
	assert.Equal(t, first, AnonTelemetryID())
}
