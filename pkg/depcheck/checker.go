// pkg/depcheck/checker.go

package depcheck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/depgraph"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Checker validates services phase by phase, probing every service of a
// phase concurrently through the retry mechanism.
type Checker struct {
	resolver  *depgraph.Resolver
	validator *healthcheck.Validator
	retrier   *retry.Mechanism
	logger    *zap.Logger

	failFast     bool
	phaseTimeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithFailFast skips later phases once a blocking failure is seen.
func WithFailFast(enabled bool) Option {
	return func(c *Checker) { c.failFast = enabled }
}

// WithPhaseTimeout replaces the per-phase deadlines from the environment table.
func WithPhaseTimeout(d time.Duration) Option {
	return func(c *Checker) { c.phaseTimeout = d }
}

// NewChecker wires a checker. The environment is taken from the validator.
func NewChecker(resolver *depgraph.Resolver, validator *healthcheck.Validator, retrier *retry.Mechanism, logger *zap.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Checker{
		resolver:  resolver,
		validator: validator,
		retrier:   retrier,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolver exposes the graph the checker orders services with.
func (c *Checker) Resolver() *depgraph.Resolver { return c.resolver }

// Environment is the environment the validator was built for.
func (c *Checker) Environment() registry.EnvironmentType { return c.validator.Environment() }

// PhaseTimeout returns the deadline applied to validating phase.
func (c *Checker) PhaseTimeout(phase registry.DependencyPhase) time.Duration {
	if c.phaseTimeout > 0 {
		return c.phaseTimeout
	}
	return registry.PhaseTimeout(c.validator.Environment(), phase)
}

// ValidateServiceDependencies validates services plus their transitive
// REQUIRED dependencies (blocking) and their OPTIONAL/PREFERRED dependencies
// (advisory). An empty request validates every declared service. The only
// error returned is a structural graph error; probe failures live in the result.
func (c *Checker) ValidateServiceDependencies(ctx context.Context, handles healthcheck.Handles, services []registry.ServiceType, includeGoldenPath bool) (*DependencyValidationResult, error) {
	start := time.Now()

	requested := append([]registry.ServiceType(nil), services...)
	if includeGoldenPath {
		requested = append(requested, registry.GoldenPathServices()...)
	}
	if len(requested) == 0 {
		requested = c.resolver.Services()
	}

	groups, err := c.resolver.ResolveStartupOrder(requested)
	if err != nil {
		return nil, err
	}
	resolved := depgraph.StartupSequence(groups)
	advisory := c.resolver.AdvisoryDependencies(resolved)

	blocking := make(map[registry.ServiceType]bool, len(resolved))
	for _, s := range resolved {
		blocking[s] = true
	}
	byPhase := make(map[registry.DependencyPhase][]registry.ServiceType)
	for _, s := range append(resolved, advisory...) {
		p, _ := c.resolver.Phase(s)
		byPhase[p] = append(byPhase[p], s)
	}

	result := &DependencyValidationResult{
		OverallSuccess:   true,
		CriticalFailures: []string{},
		Warnings:         []string{},
		PhaseResults:     make(map[registry.DependencyPhase]bool),
		StartupOrder:     groups,
	}

	c.logger.Info("Validating service dependencies",
		zap.Int("requested", len(requested)),
		zap.Int("blocking", len(resolved)),
		zap.Int("advisory", len(advisory)),
		zap.Bool("golden_path", includeGoldenPath))

	skipping := false
	for _, phase := range registry.AllPhases() {
		members := byPhase[phase]
		if len(members) == 0 {
			continue
		}

		if skipping || ctx.Err() != nil {
			reason := "skipped: an earlier phase failed"
			if ctx.Err() != nil {
				reason = fmt.Sprintf("skipped: %v", ctx.Err())
			}
			for _, s := range members {
				result.ServiceResults = append(result.ServiceResults, syntheticResult(s, phase, blocking[s], reason))
			}
			result.PhaseResults[phase] = false
			result.OverallSuccess = false
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s %s", phase, reason))
			continue
		}

		outcome := c.ValidatePhase(ctx, handles, phase, members, func(s registry.ServiceType) bool { return blocking[s] })
		result.PhaseResults[phase] = outcome.Success
		for _, sr := range outcome.Results {
			result.ServiceResults = append(result.ServiceResults, sr)
			switch {
			case sr.BlockingFailure():
				result.OverallSuccess = false
				result.CriticalFailures = append(result.CriticalFailures, fmt.Sprintf("%s: %s", sr.ServiceType, sr.Error))
			case !sr.Success:
				result.Warnings = append(result.Warnings, fmt.Sprintf("optional dependency %s unavailable: %s", sr.ServiceType, sr.Error))
			case sr.Health.HealthStatus == healthcheck.StatusDegraded:
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s is degraded: %s", sr.ServiceType, sr.Health.ErrorMessage))
			}
		}
		if !outcome.Success && c.failFast {
			skipping = true
		}
	}

	result.Duration = time.Since(start)
	c.logger.Info("Service dependency validation finished",
		zap.Bool("success", result.OverallSuccess),
		zap.Int("critical_failures", len(result.CriticalFailures)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// ValidatePhase probes services concurrently under the phase deadline. One
// service failing never cancels its siblings. Any probe still running when the
// deadline passes is reported as a synthetic timed-out result. The phase
// succeeds iff no blocking service failed; a nil isBlocking treats every
// service as blocking.
func (c *Checker) ValidatePhase(ctx context.Context, handles healthcheck.Handles, phase registry.DependencyPhase, services []registry.ServiceType, isBlocking func(registry.ServiceType) bool) PhaseOutcome {
	if isBlocking == nil {
		isBlocking = func(registry.ServiceType) bool { return true }
	}
	start := time.Now()
	timeout := c.PhaseTimeout(phase)
	phaseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		results  = make([]ServiceValidationResult, len(services))
		finished = make([]bool, len(services))
		g        errgroup.Group
	)
	for i, s := range services {
		g.Go(func() error {
			sr := c.validateService(phaseCtx, handles, s, phase, isBlocking(s))
			mu.Lock()
			defer mu.Unlock()
			if phaseCtx.Err() == nil {
				results[i] = sr
				finished[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	outcome := PhaseOutcome{Phase: phase, Success: true}
	mu.Lock()
	for i, s := range services {
		if !finished[i] {
			outcome.TimedOut = true
			reason := fmt.Sprintf("timed out: phase %s exceeded %s", phase, timeout)
			if ctx.Err() != nil {
				reason = fmt.Sprintf("cancelled: %v", ctx.Err())
			}
			results[i] = syntheticResult(s, phase, isBlocking(s), reason)
		}
		if results[i].BlockingFailure() {
			outcome.Success = false
		}
	}
	mu.Unlock()
	outcome.Results = results
	outcome.Duration = time.Since(start)

	c.logger.Info("Phase validated",
		zap.String("phase", phase.String()),
		zap.Int("services", len(services)),
		zap.Bool("success", outcome.Success),
		zap.Bool("timed_out", outcome.TimedOut),
		zap.Duration("duration", outcome.Duration))
	return outcome
}

// validateService runs the probe for s through the retry mechanism. Advisory
// services get a single attempt so they never hold a phase open.
func (c *Checker) validateService(ctx context.Context, handles healthcheck.Handles, s registry.ServiceType, phase registry.DependencyPhase, blocking bool) ServiceValidationResult {
	cfg := retry.ConfigForService(s, c.validator.Environment())
	if !blocking {
		cfg.MaxAttempts = 1
	}

	var (
		attempts int
		last     healthcheck.HealthCheckResult
	)
	err := c.retrier.Execute(ctx, s.String(), func(ctx context.Context) error {
		attempts++
		last = c.validator.Check(ctx, handles, s)
		if last.Success {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", last.ErrorMessage, err)
		}
		return errors.New(last.ErrorMessage)
	}, retry.WithConfig(cfg))

	if attempts == 0 {
		// breaker open or budget empty before the first probe
		last = healthcheck.HealthCheckResult{
			ServiceType:  s,
			ServiceName:  s.String(),
			HealthStatus: healthcheck.StatusUnhealthy,
			ErrorMessage: fmt.Sprint(err),
			CheckedAt:    time.Now(),
		}
	}

	sr := ServiceValidationResult{
		ServiceType: s,
		Phase:       phase,
		Success:     err == nil,
		Blocking:    blocking,
		Status:      last.HealthStatus,
		Attempts:    attempts,
		Health:      last,
	}
	if err != nil {
		sr.Success = false
		sr.Error = err.Error()
		if !blocking {
			sr.Status = healthcheck.StatusDegraded
		}
	}
	return sr
}

func syntheticResult(s registry.ServiceType, phase registry.DependencyPhase, blocking bool, reason string) ServiceValidationResult {
	status := healthcheck.StatusUnhealthy
	if !blocking {
		status = healthcheck.StatusDegraded
	}
	return ServiceValidationResult{
		ServiceType: s,
		Phase:       phase,
		Blocking:    blocking,
		Status:      status,
		Health: healthcheck.HealthCheckResult{
			ServiceType:  s,
			ServiceName:  s.String(),
			HealthStatus: healthcheck.StatusUnhealthy,
			ErrorMessage: reason,
			CheckedAt:    time.Now(),
		},
		Error: reason,
	}
}

// GetServiceStatusSummary probes services once each, concurrently, with no
// retries and no circuit breakers. With no services it probes every type.
// Calling it twice with no state change yields the same counts.
func (c *Checker) GetServiceStatusSummary(ctx context.Context, handles healthcheck.Handles, services ...registry.ServiceType) StatusSummary {
	if len(services) == 0 {
		services = registry.AllServiceTypes()
	}

	results := make([]healthcheck.HealthCheckResult, len(services))
	var g errgroup.Group
	for i, s := range services {
		g.Go(func() error {
			results[i] = c.validator.Check(ctx, handles, s)
			return nil
		})
	}
	_ = g.Wait()

	summary := StatusSummary{
		Services:  make(map[registry.ServiceType]healthcheck.HealthCheckResult, len(services)),
		CheckedAt: time.Now(),
	}
	for _, r := range results {
		if _, dup := summary.Services[r.ServiceType]; dup {
			continue
		}
		summary.Services[r.ServiceType] = r
		summary.TotalCount++
		switch r.HealthStatus {
		case healthcheck.StatusHealthy:
			summary.HealthyCount++
		case healthcheck.StatusDegraded:
			summary.HealthyCount++
			summary.DegradedCount++
		default:
			summary.UnhealthyCount++
		}
	}
	return summary
}
