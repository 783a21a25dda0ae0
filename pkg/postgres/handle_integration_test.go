//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "horae",
				"POSTGRES_PASSWORD": "horae",
				"POSTGRES_DB":       "horae",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(c) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("host=%s port=%s user=horae password=horae dbname=horae sslmode=disable", host, port.Port())
}

func TestHandleAgainstPostgres(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	h, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	require.NoError(t, h.Ping(ctx))

	tables, err := h.Tables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)

	_, err = h.DB().ExecContext(ctx, `create table threads(id serial primary key)`)
	require.NoError(t, err)
	tables, err = h.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"threads"}, tables)

	v := healthcheck.NewValidator(registry.EnvironmentTesting, zaptest.NewLogger(t))
	res := v.ValidateServiceHealth(ctx, h, registry.ServiceDatabasePostgres)
	assert.Equal(t, healthcheck.StatusHealthy, res.HealthStatus, res.ErrorMessage)
}

func TestOpenRejectsUnreachable(t *testing.T) {
	_, err := Open(context.Background(), "host=127.0.0.1 port=1 user=x dbname=x sslmode=disable connect_timeout=1")
	assert.Error(t, err)
}
