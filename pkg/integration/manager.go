// pkg/integration/manager.go

package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"go.uber.org/zap"
)

// BackendCoreComponents are the compute sub-components counted by the backend
// integration check; at least MinBackendComponents must be wired.
var BackendCoreComponents = []string{"supervisor", "llm_manager", "thread_service", "agent_service"}

const MinBackendComponents = 2

// DefaultContainerNames maps stateful services to compose service names.
func DefaultContainerNames() map[registry.ServiceType]string {
	return map[registry.ServiceType]string{
		registry.ServiceDatabasePostgres: "postgres",
		registry.ServiceRedis:            "redis",
	}
}

// Manager verifies wiring between services that already passed validation
// and coordinates the optional container layer.
type Manager struct {
	coordinator ContainerCoordinator
	containers  map[registry.ServiceType]string
	logger      *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithContainerNames overrides the service to container name mapping.
func WithContainerNames(names map[registry.ServiceType]string) Option {
	return func(m *Manager) {
		m.containers = make(map[registry.ServiceType]string, len(names))
		for k, v := range names {
			m.containers[k] = v
		}
	}
}

// NewManager returns a manager. coordinator may be nil, meaning containers are
// managed elsewhere.
func NewManager(coordinator ContainerCoordinator, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		coordinator: coordinator,
		containers:  DefaultContainerNames(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ContainerName returns the container backing s, if any.
func (m *Manager) ContainerName(s registry.ServiceType) (string, bool) {
	name, ok := m.containers[s]
	return name, ok && name != ""
}

type check struct {
	name  string
	fatal bool
	run   func() error
}

// EnsureServiceIntegration runs per-service and cross-service checks over the
// validated services. Failures are warnings unless the check is fatal.
func (m *Manager) EnsureServiceIntegration(ctx context.Context, handles healthcheck.Handles, validated []registry.ServiceType) IntegrationResult {
	start := time.Now()
	result := IntegrationResult{Success: true, Integrated: []registry.ServiceType{}, Warnings: []string{}, Errors: []string{}}

	present := make(map[registry.ServiceType]bool, len(validated))
	for _, s := range validated {
		present[s] = true
	}
	lookup := func(s registry.ServiceType) any {
		if handles == nil {
			return nil
		}
		h, _ := handles.Handle(s)
		return h
	}

	for _, s := range validated {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("integration interrupted: %v", ctx.Err()))
			break
		}
		c := serviceCheck(s, lookup(s))
		if err := runCheck(c); err != nil {
			m.recordFailure(&result, c, err)
			continue
		}
		result.Integrated = append(result.Integrated, s)
	}

	backend := lookup(registry.ServiceBackend)
	if present[registry.ServiceBackend] && backend != nil {
		for _, c := range crossChecks(backend, present) {
			if err := runCheck(c); err != nil {
				m.recordFailure(&result, c, err)
			}
		}
	}

	result.Success = len(result.Errors) == 0
	result.Duration = time.Since(start)
	m.logger.Info("Service integration verified",
		zap.Bool("success", result.Success),
		zap.Int("integrated", len(result.Integrated)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int("errors", len(result.Errors)))
	return result
}

func (m *Manager) recordFailure(result *IntegrationResult, c check, err error) {
	msg := fmt.Sprintf("%s: %v", c.name, err)
	if c.fatal {
		m.logger.Error("Integration check failed", zap.String("check", c.name), zap.Error(err))
		result.Errors = append(result.Errors, msg)
		return
	}
	m.logger.Warn("Integration check degraded", zap.String("check", c.name), zap.Error(err))
	result.Warnings = append(result.Warnings, msg)
}

// runCheck converts a panicking check into an error.
func runCheck(c check) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return c.run()
}

func serviceCheck(s registry.ServiceType, handle any) check {
	c := check{name: s.String() + " integration"}
	switch s {
	case registry.ServiceBackend:
		c.run = func() error { return checkBackendComponents(handle) }
	case registry.ServiceWebsocket:
		c.run = func() error {
			rt, ok := handle.(healthcheck.RealtimeHandle)
			if !ok || rt.MessageRouter() == nil {
				return errors.New("message router is not wired")
			}
			return nil
		}
	case registry.ServiceAuth:
		c.run = func() error {
			a, ok := handle.(healthcheck.AuthHandle)
			if !ok || a.Verifier() == nil {
				return errors.New("token verifier is not wired")
			}
			return nil
		}
	default:
		c.run = func() error {
			if handle == nil {
				return errors.New("handle disappeared after validation")
			}
			return nil
		}
	}
	return c
}

func checkBackendComponents(handle any) error {
	lookup, ok := handle.(healthcheck.SubcomponentLookup)
	if !ok {
		return fmt.Errorf("backend handle %T exposes no sub-components", handle)
	}
	var wired []string
	for _, name := range BackendCoreComponents {
		if c, found := lookup.Subcomponent(name); found && c != nil {
			wired = append(wired, name)
		}
	}
	if len(wired) < MinBackendComponents {
		return fmt.Errorf("only %d of %v wired, need %d", len(wired), BackendCoreComponents, MinBackendComponents)
	}
	return nil
}

func crossChecks(backend any, present map[registry.ServiceType]bool) []check {
	var checks []check
	if present[registry.ServiceWebsocket] {
		checks = append(checks, check{
			name: "backend->websocket event bridge",
			run: func() error {
				p, ok := backend.(EventBridgeProvider)
				if !ok || p.EventBridge() == nil {
					return errors.New("backend has no event bridge for realtime delivery")
				}
				return nil
			},
		})
	}
	if present[registry.ServiceRedis] {
		checks = append(checks, check{
			name: "backend->redis cache client",
			run: func() error {
				p, ok := backend.(CacheClientProvider)
				if !ok || p.CacheClient() == nil {
					return errors.New("backend has no cache client")
				}
				return nil
			},
		})
	}
	if present[registry.ServiceDatabasePostgres] {
		checks = append(checks, check{
			name:  "backend->database handle",
			fatal: true,
			run: func() error {
				p, ok := backend.(DatabaseProvider)
				if !ok || p.DatabaseHandle() == nil {
					return errors.New("backend has no database handle")
				}
				return nil
			},
		})
	}
	return checks
}

// EnsureContainerServicesReady asks the coordinator to bring up the containers
// backing targets. No coordinator, or an unreachable one, counts as success:
// the containers are assumed to be managed externally.
func (m *Manager) EnsureContainerServicesReady(ctx context.Context, targets []registry.ServiceType) ContainerResult {
	var names []string
	seen := make(map[string]bool)
	for _, s := range targets {
		if name, ok := m.ContainerName(s); ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	result := ContainerResult{Targets: names}

	if len(names) == 0 {
		result.Success = true
		return result
	}
	if m.coordinator == nil {
		m.logger.Debug("No container coordinator configured, assuming externally managed", zap.Strings("targets", names))
		result.Success = true
		result.ExternallyManaged = true
		return result
	}

	report, err := m.coordinator.EnsureReady(ctx, names)
	result.Report = report
	switch {
	case errors.Is(err, ErrCoordinatorUnavailable):
		m.logger.Warn("Container coordinator unavailable, assuming externally managed", zap.Error(err))
		result.Success = true
		result.ExternallyManaged = true
		result.Warnings = append(result.Warnings, err.Error())
	case err != nil:
		m.logger.Error("Container coordination failed", zap.Strings("targets", names), zap.Error(err))
		result.Error = err.Error()
	default:
		result.Success = true
		if report != nil && len(report.Started) > 0 {
			m.logger.Info("Started stopped containers", zap.Strings("containers", report.Started))
		}
	}
	return result
}

// EmergencyServiceRestart restarts the container behind a stateful service.
// Application services have no restart mechanism yet.
func (m *Manager) EmergencyServiceRestart(ctx context.Context, s registry.ServiceType) RestartResult {
	result := RestartResult{Service: s}

	name, ok := m.ContainerName(s)
	if !registry.IsStatefulInfrastructure(s) || !ok {
		result.Message = fmt.Sprintf("emergency restart not implemented for %s", s)
		return result
	}
	result.Container = name

	if m.coordinator == nil {
		result.Message = "no container coordinator configured"
		return result
	}

	m.logger.Warn("Emergency restart requested", zap.String("service", s.String()), zap.String("container", name))
	if err := m.coordinator.Restart(ctx, name); err != nil {
		m.logger.Error("Emergency restart failed", zap.String("service", s.String()), zap.Error(err))
		result.Message = fmt.Sprintf("restart of %s failed: %v", name, err)
		return result
	}
	result.Success = true
	result.Message = fmt.Sprintf("container %s restarted", name)
	return result
}
