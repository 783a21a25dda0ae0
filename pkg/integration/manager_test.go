package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockCoordinator struct {
	mock.Mock
}

func (m *mockCoordinator) EnsureReady(ctx context.Context, names []string) (*ContainerReport, error) {
	args := m.Called(ctx, names)
	report, _ := args.Get(0).(*ContainerReport)
	return report, args.Error(1)
}

func (m *mockCoordinator) Restart(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func allServices() []registry.ServiceType { return registry.AllServiceTypes() }

func TestEnsureServiceIntegrationHealthy(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, zaptest.NewLogger(t))

	res := m.EnsureServiceIntegration(context.Background(), healthcheck.HandleMap(testutil.HealthyHandles()), allServices())

	assert.True(t, res.Success)
	assert.Empty(t, res.Warnings)
	assert.Empty(t, res.Errors)
	assert.ElementsMatch(t, allServices(), res.Integrated)
}

func TestEnsureServiceIntegrationChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(h healthcheck.HandleMap)
		validated   []registry.ServiceType
		wantSuccess bool
		wantWarn    string
		wantErr     string
		notIntegr   []registry.ServiceType
	}{
		{
			name: "backend with one core component",
			mutate: func(h healthcheck.HandleMap) {
				b := testutil.NewReadyBackend("supervisor")
				b.Database = &testutil.FakeDatabase{}
				h[registry.ServiceBackend] = b
			},
			validated:   []registry.ServiceType{registry.ServiceBackend},
			wantSuccess: true,
			wantWarn:    "backend_service integration",
			notIntegr:   []registry.ServiceType{registry.ServiceBackend},
		},
		{
			name: "backend without event bridge",
			mutate: func(h healthcheck.HandleMap) {
				h[registry.ServiceBackend].(*testutil.FakeBackend).Bridge = nil
			},
			validated:   []registry.ServiceType{registry.ServiceBackend, registry.ServiceWebsocket},
			wantSuccess: true,
			wantWarn:    "event bridge",
		},
		{
			name: "backend without cache client",
			mutate: func(h healthcheck.HandleMap) {
				h[registry.ServiceBackend].(*testutil.FakeBackend).Cache = nil
			},
			validated:   []registry.ServiceType{registry.ServiceBackend, registry.ServiceRedis},
			wantSuccess: true,
			wantWarn:    "cache client",
		},
		{
			name: "backend without database is fatal",
			mutate: func(h healthcheck.HandleMap) {
				h[registry.ServiceBackend].(*testutil.FakeBackend).Database = nil
			},
			validated:   []registry.ServiceType{registry.ServiceDatabasePostgres, registry.ServiceBackend},
			wantSuccess: false,
			wantErr:     "database handle",
		},
		{
			name: "cross checks skipped when websocket was not validated",
			mutate: func(h healthcheck.HandleMap) {
				h[registry.ServiceBackend].(*testutil.FakeBackend).Bridge = nil
			},
			validated:   []registry.ServiceType{registry.ServiceBackend},
			wantSuccess: true,
		},
		{
			name: "websocket without router",
			mutate: func(h healthcheck.HandleMap) {
				h[registry.ServiceWebsocket] = &testutil.FakeRealtime{Bridge: 1}
			},
			validated:   []registry.ServiceType{registry.ServiceWebsocket},
			wantSuccess: true,
			wantWarn:    "message router",
			notIntegr:   []registry.ServiceType{registry.ServiceWebsocket},
		},
		{
			name: "handle removed after validation",
			mutate: func(h healthcheck.HandleMap) {
				delete(h, registry.ServiceRedis)
			},
			validated:   []registry.ServiceType{registry.ServiceRedis},
			wantSuccess: true,
			wantWarn:    "disappeared",
			notIntegr:   []registry.ServiceType{registry.ServiceRedis},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handles := healthcheck.HandleMap(testutil.HealthyHandles())
			tt.mutate(handles)
			m := NewManager(nil, zaptest.NewLogger(t))

			res := m.EnsureServiceIntegration(context.Background(), handles, tt.validated)

			assert.Equal(t, tt.wantSuccess, res.Success, "errors: %v", res.Errors)
			if tt.wantWarn != "" {
				require.NotEmpty(t, res.Warnings)
				assert.Contains(t, res.Warnings[0], tt.wantWarn)
			} else {
				assert.Empty(t, res.Warnings)
			}
			if tt.wantErr != "" {
				require.Len(t, res.Errors, 1)
				assert.Contains(t, res.Errors[0], tt.wantErr)
				require.Error(t, res.Err())
				assert.Contains(t, res.Err().Error(), tt.wantErr)
			} else {
				assert.NoError(t, res.Err())
			}
			for _, s := range tt.notIntegr {
				assert.NotContains(t, res.Integrated, s)
			}
		})
	}
}

type explodingBackend struct{ testutil.FakeBackend }

func (explodingBackend) Subcomponent(string) (any, bool) { panic("nil map") }

func TestIntegrationCheckPanicIsContained(t *testing.T) {
	t.Parallel()
	handles := healthcheck.HandleMap{registry.ServiceBackend: &explodingBackend{}}
	m := NewManager(nil, zaptest.NewLogger(t))

	res := m.EnsureServiceIntegration(context.Background(), handles, []registry.ServiceType{registry.ServiceBackend})
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "panicked")
}

func TestEnsureContainerServicesReady(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	targets := []registry.ServiceType{registry.ServiceBackend, registry.ServiceRedis, registry.ServiceDatabasePostgres}

	t.Run("no coordinator", func(t *testing.T) {
		t.Parallel()
		res := NewManager(nil, zaptest.NewLogger(t)).EnsureContainerServicesReady(ctx, targets)
		assert.True(t, res.Success)
		assert.True(t, res.ExternallyManaged)
		assert.Equal(t, []string{"postgres", "redis"}, res.Targets)
	})

	t.Run("coordinator unavailable", func(t *testing.T) {
		t.Parallel()
		coord := &mockCoordinator{}
		coord.On("EnsureReady", mock.Anything, []string{"postgres", "redis"}).
			Return(nil, errors.Join(ErrCoordinatorUnavailable, errors.New("dial unix /var/run/docker.sock")))

		res := NewManager(coord, zaptest.NewLogger(t)).EnsureContainerServicesReady(ctx, targets)
		assert.True(t, res.Success)
		assert.True(t, res.ExternallyManaged)
		assert.Len(t, res.Warnings, 1)
		coord.AssertExpectations(t)
	})

	t.Run("coordinator failure", func(t *testing.T) {
		t.Parallel()
		coord := &mockCoordinator{}
		coord.On("EnsureReady", mock.Anything, mock.Anything).
			Return(&ContainerReport{Missing: []string{"redis"}}, errors.New("container redis not found"))

		res := NewManager(coord, zaptest.NewLogger(t)).EnsureContainerServicesReady(ctx, targets)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "not found")
		assert.Equal(t, []string{"redis"}, res.Report.Missing)
	})

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		coord := &mockCoordinator{}
		coord.On("EnsureReady", mock.Anything, []string{"pg-primary"}).
			Return(&ContainerReport{Ready: []string{"pg-primary"}, Started: []string{"pg-primary"}}, nil)

		m := NewManager(coord, zaptest.NewLogger(t), WithContainerNames(map[registry.ServiceType]string{
			registry.ServiceDatabasePostgres: "pg-primary",
		}))
		res := m.EnsureContainerServicesReady(ctx, targets)
		assert.True(t, res.Success)
		assert.False(t, res.ExternallyManaged)
		coord.AssertExpectations(t)
	})

	t.Run("nothing containerised", func(t *testing.T) {
		t.Parallel()
		coord := &mockCoordinator{}
		res := NewManager(coord, zaptest.NewLogger(t)).EnsureContainerServicesReady(ctx, []registry.ServiceType{registry.ServiceFrontend})
		assert.True(t, res.Success)
		coord.AssertNotCalled(t, "EnsureReady", mock.Anything, mock.Anything)
	})
}

func TestEmergencyServiceRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	coord := &mockCoordinator{}
	coord.On("Restart", mock.Anything, "redis").Return(nil)
	coord.On("Restart", mock.Anything, "postgres").Return(errors.New("no such container"))
	m := NewManager(coord, zaptest.NewLogger(t))

	res := m.EmergencyServiceRestart(ctx, registry.ServiceRedis)
	assert.True(t, res.Success)
	assert.Equal(t, "redis", res.Container)

	res = m.EmergencyServiceRestart(ctx, registry.ServiceDatabasePostgres)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no such container")

	res = m.EmergencyServiceRestart(ctx, registry.ServiceBackend)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not implemented")
	coord.AssertNotCalled(t, "Restart", mock.Anything, "backend_service")

	res = NewManager(nil, zaptest.NewLogger(t)).EmergencyServiceRestart(ctx, registry.ServiceRedis)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no container coordinator")
}
