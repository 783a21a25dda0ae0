package output

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/depcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/depgraph"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/integration"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/orchestrator"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()
	tests := map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON, "yml": FormatYAML, "yaml": FormatYAML}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestWriteDispatch(t *testing.T) {
	t.Parallel()
	summary := depcheck.StatusSummary{
		TotalCount:   1,
		HealthyCount: 1,
		Services: map[registry.ServiceType]healthcheck.HealthCheckResult{
			registry.ServiceRedis: {ServiceType: registry.ServiceRedis, ServiceName: "redis", Success: true, HealthStatus: healthcheck.StatusHealthy},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, summary, nil))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.EqualValues(t, 1, decoded["healthy_count"])
	assert.Contains(t, decoded["services"], "redis")

	buf.Reset()
	require.NoError(t, Write(&buf, FormatYAML, summary, nil))
	var y map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &y))
	assert.Equal(t, 1, y["total_count"])

	buf.Reset()
	called := false
	require.NoError(t, Write(&buf, FormatText, summary, func(io.Writer) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.Zero(t, buf.Len())
}

func TestDisplayName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Auth Service", DisplayName("auth_service"))
	assert.Equal(t, "Database Postgres", DisplayName("database_postgres"))
	assert.Equal(t, "Redis", DisplayName("redis"))
}

func TestPlainStylesHaveNoEscapes(t *testing.T) {
	t.Parallel()
	s := PlainStyles()
	assert.Equal(t, "HEALTHY", s.Status(healthcheck.StatusHealthy))
	assert.Equal(t, "FAILED", s.Verdict(false))
	assert.Equal(t, "OK", s.Verdict(true))
	assert.False(t, NewStyles(&bytes.Buffer{}).color)
}

func TestRenderStatus(t *testing.T) {
	t.Parallel()
	summary := depcheck.StatusSummary{
		TotalCount:     2,
		HealthyCount:   1,
		UnhealthyCount: 1,
		Services: map[registry.ServiceType]healthcheck.HealthCheckResult{
			registry.ServiceAuth:  {HealthStatus: healthcheck.StatusUnhealthy, ErrorMessage: "no handle registered"},
			registry.ServiceRedis: {HealthStatus: healthcheck.StatusHealthy, ResponseTimeMs: 3},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, RenderStatus(&buf, PlainStyles(), summary))
	out := buf.String()
	assert.Contains(t, out, "Auth Service")
	assert.Contains(t, out, "no handle registered")
	assert.Contains(t, out, "1/2 healthy, 0 degraded, 1 unhealthy")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Redis")), bytes.Index(buf.Bytes(), []byte("Auth Service")))
}

func TestRenderGraph(t *testing.T) {
	t.Parallel()
	resolver, err := depgraph.NewDefaultResolver(zaptest.NewLogger(t))
	require.NoError(t, err)
	order, err := resolver.ResolveStartupOrder([]registry.ServiceType{registry.ServiceBackend})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderGraph(&buf, PlainStyles(), resolver.ValidateGraph(), order))
	out := buf.String()
	assert.Contains(t, out, "Dependency graph OK")
	assert.Contains(t, out, "Startup order")
	assert.Contains(t, out, "database_postgres")
	assert.Contains(t, out, "backend_service")
}

func TestRenderAnalysis(t *testing.T) {
	t.Parallel()
	resolver, err := depgraph.NewDefaultResolver(zaptest.NewLogger(t))
	require.NoError(t, err)
	analysis, err := resolver.DependencyAnalysis(registry.ServiceBackend)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderAnalysis(&buf, PlainStyles(), analysis))
	out := buf.String()
	assert.Contains(t, out, "Backend Service")
	assert.Contains(t, out, "depends on")
	assert.Contains(t, out, "REQUIRED")
	assert.Contains(t, out, "Transitive: ")
	assert.NotContains(t, out, "cycle:")
}

func TestRenderStartup(t *testing.T) {
	t.Parallel()
	result := &orchestrator.StartupOrchestrationResult{
		RunID:           "run-1",
		StagesCompleted: []orchestrator.State{orchestrator.StateContainerCoordination},
		Containers:      &integration.ContainerResult{Success: true, ExternallyManaged: true},
		DependencyValidation: &depcheck.DependencyValidationResult{
			ServiceResults: []depcheck.ServiceValidationResult{{
				ServiceType: registry.ServiceDatabasePostgres,
				Phase:       registry.Phase1Core,
				Blocking:    true,
				Status:      healthcheck.StatusUnhealthy,
				Attempts:    2,
				Error:       "dial tcp 127.0.0.1:5432: connect: connection refused",
			}},
		},
		Errors: []*orchestrator.StageError{
			orchestrator.NewStageError(orchestrator.StateDependencyValidation, "database_postgres", "required dependency failed", nil),
		},
		Warnings: []string{"analytics degraded"},
		Duration: 1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	require.NoError(t, RenderStartup(&buf, PlainStyles(), result))
	out := buf.String()
	assert.Contains(t, out, "Result:   FAILED (1.5s)")
	assert.Contains(t, out, "externally managed")
	assert.Contains(t, out, "Database Postgres")
	assert.Contains(t, out, "warning: analytics degraded")
	assert.Contains(t, out, "error: DEPENDENCY_VALIDATION failed for 'database_postgres'")
	assert.Contains(t, out, "fix:")
}

func TestRenderRestart(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, RenderRestart(&buf, PlainStyles(), integration.RestartResult{
		Service: registry.ServiceRedis, Success: true, Message: "restarted", Container: "redis",
	}))
	assert.Equal(t, "OK Redis (redis): restarted\n", buf.String())
}
