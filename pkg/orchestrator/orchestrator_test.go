package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/depcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/depgraph"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/integration"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/retry"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	orch    *Orchestrator
	retrier *retry.Mechanism
}

func newFixture(t *testing.T, coordinator integration.ContainerCoordinator, opts ...Option) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	resolver, err := depgraph.NewDefaultResolver(logger)
	require.NoError(t, err)

	validator := healthcheck.NewValidator(registry.EnvironmentTesting, logger)
	retrier := retry.New(retry.ConfigForEnvironment(registry.EnvironmentTesting), logger)
	checker := depcheck.NewChecker(resolver, validator, retrier, logger)
	manager := integration.NewManager(coordinator, logger)
	return fixture{orch: New(checker, manager, retrier, logger, opts...), retrier: retrier}
}

func healthyHandles() healthcheck.HandleMap {
	return healthcheck.HandleMap(testutil.HealthyHandles())
}

// gatedPinger blocks every Ping until release is closed.
type gatedPinger struct {
	release chan struct{}
}

func (g *gatedPinger) Ping(ctx context.Context) error {
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flappingPinger answers healthy for the first healthyFor calls, then fails.
type flappingPinger struct {
	healthyFor int32
	calls      atomic.Int32
}

func (f *flappingPinger) Ping(context.Context) error {
	if f.calls.Add(1) <= f.healthyFor {
		return nil
	}
	return testutil.ErrConnectionRefused
}

func TestOrchestrateStartupHealthy(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	res, err := f.orch.OrchestrateStartup(context.Background(), healthyHandles(), Request{})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Success, "errors: %v", res.Errors)
	assert.True(t, res.Ready)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []State{
		StateContainerCoordination, StateDependencyValidation,
		StateIntegrationCoordination, StateFinalReadiness,
	}, res.StagesCompleted)
	assert.Equal(t, registry.AllPhases(), res.PhasesCompleted)
	assert.Len(t, res.ServicesStarted, int(registry.ServiceCount))
	assert.Empty(t, res.ServicesFailed)
	assert.True(t, res.Containers.ExternallyManaged)
	require.NotNil(t, res.Readiness)
	assert.InDelta(t, 1.0, res.Readiness.HealthRatio(), 0.001)
	assert.NoError(t, res.Err())

	var path []State
	for _, tr := range f.orch.Transitions() {
		assert.Equal(t, res.RunID, tr.RunID)
		path = append(path, tr.To)
	}
	assert.Equal(t, []State{
		StateContainerCoordination, StateDependencyValidation, StateIntegrationCoordination,
		StateFinalReadiness, StateDone, StateIdle,
	}, path)
	assert.Equal(t, StateIdle, f.orch.State())
	assert.False(t, f.orch.Active())
}

func TestConcurrentOrchestrationIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	gate := &gatedPinger{release: make(chan struct{})}
	handles := healthyHandles()
	handles[registry.ServiceFrontend] = gate

	type run struct {
		res *StartupOrchestrationResult
		err error
	}
	first := make(chan run, 1)
	go func() {
		res, err := f.orch.OrchestrateStartup(context.Background(), handles, Request{})
		first <- run{res, err}
	}()
	require.Eventually(t, f.orch.Active, time.Second, 5*time.Millisecond)

	res, err := f.orch.OrchestrateStartup(context.Background(), healthyHandles(), Request{})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrOrchestrationActive)

	close(gate.release)
	got := <-first
	require.NoError(t, got.err)
	assert.True(t, got.res.Success, "errors: %v", got.res.Errors)

	// the guard is released for the next run
	res, err = f.orch.OrchestrateStartup(context.Background(), healthyHandles(), Request{})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRequiredFailureStopsOrchestration(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	handles := healthyHandles()
	handles[registry.ServiceDatabasePostgres] = &testutil.FakeDatabase{FakePinger: testutil.FakePinger{Err: testutil.ErrConnectionRefused}}

	res, err := f.orch.OrchestrateStartup(context.Background(), handles, Request{Services: []registry.ServiceType{registry.ServiceBackend}})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.False(t, res.Ready)
	assert.Equal(t, []State{StateContainerCoordination}, res.StagesCompleted)
	assert.Contains(t, res.ServicesFailed, registry.ServiceDatabasePostgres)
	assert.Nil(t, res.Integration)
	assert.Nil(t, res.Readiness)
	require.NotNil(t, res.DependencyValidation)
	assert.False(t, res.DependencyValidation.OverallSuccess)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, StateDependencyValidation, res.Errors[0].Stage)
	assert.Contains(t, res.Errors[0].Error(), "critical failure")
	assert.Contains(t, res.Errors[0].Remediation, "connection")
	assert.Error(t, res.Err())
	assert.Equal(t, StateIdle, f.orch.State())
}

func TestStageTimeoutIsRecorded(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	handles := healthyHandles()
	handles[registry.ServiceFrontend] = &testutil.FakePinger{Delay: 10 * time.Second}

	start := time.Now()
	res, err := f.orch.OrchestrateStartup(context.Background(), handles, Request{Timeout: 400 * time.Millisecond})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, StateDependencyValidation, res.Errors[0].Stage)
	assert.Contains(t, res.Errors[0].Error(), "timed out")
	assert.ErrorIs(t, res.Errors[0], context.DeadlineExceeded)

	// the partial picture survives the timeout
	require.NotNil(t, res.DependencyValidation)
	sr, ok := res.DependencyValidation.Result(registry.ServiceFrontend)
	require.True(t, ok)
	assert.False(t, sr.Success)
	assert.Contains(t, res.ServicesStarted, registry.ServiceDatabasePostgres)
	assert.Equal(t, StateIdle, f.orch.State())
	assert.False(t, f.orch.Active())
}

func TestReadinessGateCatchesFlappingServices(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	handles := healthyHandles()
	handles[registry.ServiceFrontend] = &flappingPinger{healthyFor: 1}
	handles[registry.ServiceAnalytics] = &flappingPinger{healthyFor: 1}

	res, err := f.orch.OrchestrateStartup(context.Background(), handles, Request{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.False(t, res.Ready)
	assert.Contains(t, res.StagesCompleted, StateIntegrationCoordination)
	require.NotNil(t, res.Readiness)
	assert.Equal(t, 6, res.Readiness.HealthyCount)
	assert.Equal(t, 8, res.Readiness.TotalCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, StateFinalReadiness, res.Errors[0].Stage)
	assert.Contains(t, res.Errors[0].Error(), "readiness ratio 0.75 below threshold 0.80")
}

func TestReadinessIgnoresFailedAdvisoryServices(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	handles := healthyHandles()
	delete(handles, registry.ServiceAuth)

	res, err := f.orch.OrchestrateStartup(context.Background(), handles, Request{Services: []registry.ServiceType{registry.ServiceBackend}})
	require.NoError(t, err)

	require.NotNil(t, res.DependencyValidation)
	assert.True(t, res.DependencyValidation.OverallSuccess)
	assert.Contains(t, res.ServicesFailed, registry.ServiceAuth)
	assert.True(t, res.Success, "errors: %v", res.Errors)
	assert.True(t, res.Ready)
	require.NotNil(t, res.Readiness)
	assert.NotContains(t, res.Readiness.Services, registry.ServiceAuth)
	assert.Equal(t, 3, res.Readiness.TotalCount)
	assert.InDelta(t, 1.0, res.Readiness.HealthRatio(), 0.001)
	assert.NotEmpty(t, res.Warnings)
}

func TestReadinessThresholdOption(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, WithReadinessThreshold(0.7))
	handles := healthyHandles()
	handles[registry.ServiceFrontend] = &flappingPinger{healthyFor: 1}
	handles[registry.ServiceAnalytics] = &flappingPinger{healthyFor: 1}

	res, err := f.orch.OrchestrateStartup(context.Background(), handles, Request{})
	require.NoError(t, err)
	assert.True(t, res.Ready)
	assert.True(t, res.Success)
}

func TestContainerFailureAbortsBeforeValidation(t *testing.T) {
	t.Parallel()
	coord := &stubCoordinator{ensureErr: errors.New("container postgres not found")}
	f := newFixture(t, coord)

	res, err := f.orch.OrchestrateStartup(context.Background(), healthyHandles(), Request{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.StagesCompleted)
	assert.Nil(t, res.DependencyValidation)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, StateContainerCoordination, res.Errors[0].Stage)
	require.NotNil(t, res.Containers)
	assert.Equal(t, []string{"postgres", "redis"}, res.Containers.Targets)
}

func TestStructuralErrorIsReturned(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	res, err := f.orch.OrchestrateStartup(context.Background(), healthyHandles(), Request{Services: []registry.ServiceType{registry.ServiceType(42)}})
	require.Error(t, err)
	assert.ErrorIs(t, err, depgraph.ErrUndeclaredService)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, StateIdle, f.orch.State())
	assert.False(t, f.orch.Active())
}

func TestRunStageRecoversPanics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	_, finished, err := runStage(context.Background(), f.orch, "run", StateIntegrationCoordination, time.Second,
		func(context.Context) (int, error) { panic("nil backend") })
	assert.False(t, finished)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in INTEGRATION_COORDINATION")
}

func TestRunStageAbandonsStuckStage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	stuck := make(chan struct{})
	defer close(stuck)

	start := time.Now()
	_, finished, err := runStage(context.Background(), f.orch, "run", StateFinalReadiness, 20*time.Millisecond,
		func(context.Context) (int, error) { <-stuck; return 1, nil })
	assert.False(t, finished)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestOrchestratePhaseStartup(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	t.Run("declared members by default", func(t *testing.T) {
		t.Parallel()
		out, err := f.orch.OrchestratePhaseStartup(ctx, healthyHandles(), registry.Phase1Core, nil)
		require.NoError(t, err)
		assert.True(t, out.Success)
		require.Len(t, out.Results, 2)
		var got []registry.ServiceType
		for _, r := range out.Results {
			got = append(got, r.ServiceType)
		}
		assert.ElementsMatch(t, []registry.ServiceType{registry.ServiceDatabasePostgres, registry.ServiceRedis}, got)
	})

	t.Run("one failure fails the phase", func(t *testing.T) {
		t.Parallel()
		handles := healthyHandles()
		handles[registry.ServiceFrontend] = &testutil.FakePinger{Err: testutil.ErrConnectionRefused}
		out, err := f.orch.OrchestratePhaseStartup(ctx, handles, registry.Phase4Frontend,
			[]registry.ServiceType{registry.ServiceFrontend, registry.ServiceWebsocket})
		require.NoError(t, err)
		assert.False(t, out.Success)
	})

	t.Run("service from another phase", func(t *testing.T) {
		t.Parallel()
		_, err := f.orch.OrchestratePhaseStartup(ctx, healthyHandles(), registry.Phase1Core,
			[]registry.ServiceType{registry.ServiceBackend})
		assert.ErrorIs(t, err, ErrPhaseMismatch)
	})

	t.Run("invalid phase", func(t *testing.T) {
		t.Parallel()
		_, err := f.orch.OrchestratePhaseStartup(ctx, healthyHandles(), registry.DependencyPhase(9), nil)
		assert.ErrorIs(t, err, depgraph.ErrInvalidPhase)
	})
}

type stubCoordinator struct {
	ensureErr  error
	restartErr error
	restarted  []string
}

func (s *stubCoordinator) EnsureReady(_ context.Context, names []string) (*integration.ContainerReport, error) {
	if s.ensureErr != nil {
		return &integration.ContainerReport{}, s.ensureErr
	}
	return &integration.ContainerReport{Ready: names}, nil
}

func (s *stubCoordinator) Restart(_ context.Context, name string) error {
	s.restarted = append(s.restarted, name)
	return s.restartErr
}

func TestEmergencyRestartResetsBreaker(t *testing.T) {
	t.Parallel()
	coord := &stubCoordinator{}
	f := newFixture(t, coord)
	key := registry.ServiceRedis.String()

	threshold := retry.ConfigForEnvironment(registry.EnvironmentTesting).BreakerThreshold
	for i := 0; i < threshold; i++ {
		err := f.retrier.Execute(context.Background(), key, func(context.Context) error { return testutil.ErrConnectionRefused })
		require.Error(t, err)
	}
	state, ok := f.retrier.BreakerState(key)
	require.True(t, ok)
	require.Equal(t, gobreaker.StateOpen, state)

	res := f.orch.EmergencyServiceRestart(context.Background(), registry.ServiceRedis)
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, []string{"redis"}, coord.restarted)
	_, ok = f.retrier.BreakerState(key)
	assert.False(t, ok, "breaker is forgotten after restart")

	res = f.orch.EmergencyServiceRestart(context.Background(), registry.ServiceFrontend)
	assert.False(t, res.Success)
}

func TestStageBudget(t *testing.T) {
	t.Parallel()
	total := 100 * time.Second
	tests := []struct {
		stage State
		want  time.Duration
	}{
		{StateContainerCoordination, 15 * time.Second},
		{StateDependencyValidation, 60 * time.Second},
		{StateIntegrationCoordination, 15 * time.Second},
		{StateFinalReadiness, 10 * time.Second},
		{StateIdle, 0},
		{StateDone, 0},
	}
	var sum time.Duration
	for _, tt := range tests {
		got := StageBudget(tt.stage, total)
		assert.Equal(t, tt.want, got, string(tt.stage))
		sum += got
	}
	assert.Equal(t, total, sum)
}

func TestStageErrorRemediation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{errors.New("dial tcp: connection refused"), "network connectivity"},
		{errors.New("redis: circuit breaker open"), "horae restart"},
		{errors.New("context deadline exceeded"), "orchestration.timeout"},
		{errors.New("readiness ratio 0.50 below threshold"), "horae status"},
		{errors.New("something odd"), "dependency_validation"},
	}
	for _, tt := range tests {
		se := NewStageError(StateDependencyValidation, "", "stage failed", tt.err)
		assert.Contains(t, se.Remediation, tt.want, tt.err.Error())
		assert.ErrorIs(t, se, tt.err)
	}

	chain := &ErrorChain{}
	assert.NoError(t, chain.ErrOrNil())
	chain.Add(NewStageError(StateFinalReadiness, "readiness", "stage failed", errors.New("x")))
	chain.Add(NewStageError(StateDependencyValidation, "dependencies", "stage failed", errors.New("y")))
	require.Error(t, chain.ErrOrNil())
	assert.Len(t, chain.GetByStage(StateFinalReadiness), 1)
	assert.True(t, strings.HasPrefix(chain.Error(), "orchestration failed with 2 error(s)"))
}
