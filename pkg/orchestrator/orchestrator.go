// pkg/orchestrator/orchestrator.go
// Startup orchestration: container coordination, phased dependency
// validation, integration coordination and a final readiness gate.

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/depcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/depgraph"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/integration"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/retry"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const (
	// DefaultReadinessThreshold is the minimum healthy ratio after startup.
	DefaultReadinessThreshold = 0.8

	maxTransitions = 256
	// stageGrace lets a cancelled stage hand back its partial result.
	stageGrace = 250 * time.Millisecond
)

// ErrPhaseMismatch means a service was asked to start in a phase it is not
// declared in.
var ErrPhaseMismatch = cerr.New("service does not belong to phase")

// Orchestrator drives one startup at a time.
type Orchestrator struct {
	checker     *depcheck.Checker
	integration *integration.Manager
	retrier     *retry.Mechanism
	logger      *zap.Logger

	timeout            time.Duration
	readinessThreshold float64
	runs               metric.Int64Counter

	active      atomic.Bool
	mu          sync.Mutex
	state       State
	transitions []Transition
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout sets the overall orchestration budget.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithReadinessThreshold sets the healthy ratio the readiness gate requires.
func WithReadinessThreshold(ratio float64) Option {
	return func(o *Orchestrator) { o.readinessThreshold = ratio }
}

// WithMeter records orchestration runs on m.
func WithMeter(m metric.Meter) Option {
	return func(o *Orchestrator) {
		counter, err := m.Int64Counter("horae.orchestration.runs",
			metric.WithDescription("Completed startup orchestrations by outcome"))
		if err == nil {
			o.runs = counter
		}
	}
}

// New wires an orchestrator. The overall timeout defaults to the checker's
// environment.
func New(checker *depcheck.Checker, manager *integration.Manager, retrier *retry.Mechanism, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		checker:            checker,
		integration:        manager,
		retrier:            retrier,
		logger:             logger,
		timeout:            registry.Timing(checker.Environment()).OrchestrationTimeout,
		readinessThreshold: DefaultReadinessThreshold,
		runs:               noop.Int64Counter{},
		state:              StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Active reports whether an orchestration is running.
func (o *Orchestrator) Active() bool { return o.active.Load() }

// Transitions returns the recorded state history, oldest first.
func (o *Orchestrator) Transitions() []Transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Transition(nil), o.transitions...)
}

func (o *Orchestrator) transition(runID string, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, Transition{RunID: runID, From: o.state, To: to, At: time.Now()})
	if len(o.transitions) > maxTransitions {
		o.transitions = o.transitions[len(o.transitions)-maxTransitions:]
	}
	o.logger.Debug("Orchestrator state change",
		zap.String("run_id", runID),
		zap.String("from", string(o.state)),
		zap.String("to", string(to)))
	o.state = to
}

// OrchestrateStartup runs the four stages in order under one overall budget.
// A second call while one is running fails with ErrOrchestrationActive.
// Stage failures are recorded in the result; the only returned errors are
// ErrOrchestrationActive and structural graph errors. The orchestrator is
// back in IDLE when this returns, however the run ended.
func (o *Orchestrator) OrchestrateStartup(ctx context.Context, handles healthcheck.Handles, req Request) (result *StartupOrchestrationResult, err error) {
	if !o.active.CompareAndSwap(false, true) {
		return nil, ErrOrchestrationActive
	}

	result = &StartupOrchestrationResult{
		RunID:     uuid.NewString(),
		Errors:    []*StageError{},
		Warnings:  []string{},
		StartedAt: time.Now(),
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.timeout
	}
	log := o.logger.With(zap.String("run_id", result.RunID))

	ctx, span := telemetry.Start(ctx, "horae.orchestrate",
		attribute.String("run_id", result.RunID),
		attribute.Int64("timeout_ms", timeout.Milliseconds()))
	ctx, cancel := context.WithTimeout(ctx, timeout)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic recovered during orchestration", zap.Any("panic", r))
			result.addError(NewStageError(o.State(), "", "panic", cerr.AssertionFailedf("panic: %v", r)))
			result.Success = false
		}
		cancel()
		result.Duration = time.Since(result.StartedAt)
		o.transition(result.RunID, StateDone)
		o.transition(result.RunID, StateIdle)
		o.active.Store(false)

		outcome := "success"
		if !result.Success {
			outcome = "failure"
			span.SetStatus(codes.Error, "orchestration failed")
		}
		o.runs.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		span.SetAttributes(attribute.Bool("success", result.Success), attribute.Bool("ready", result.Ready))
		span.End()

		log.Info("Startup orchestration finished",
			zap.Bool("success", result.Success),
			zap.Bool("ready", result.Ready),
			zap.Int("errors", len(result.Errors)),
			zap.Int("warnings", len(result.Warnings)),
			zap.Duration("duration", result.Duration))
	}()

	// ASSESS: resolve what will be started before touching anything
	requested := append([]registry.ServiceType(nil), req.Services...)
	if req.IncludeGoldenPath {
		requested = append(requested, registry.GoldenPathServices()...)
	}
	if len(requested) == 0 {
		requested = o.checker.Resolver().Services()
	}
	groups, err := o.checker.Resolver().ResolveStartupOrder(requested)
	if err != nil {
		log.Error("Dependency graph rejected the request", zap.Error(err))
		result.addError(NewStageError(StateIdle, "dependency graph", "cannot resolve startup order", err))
		span.RecordError(err)
		return result, err
	}
	resolved := depgraph.StartupSequence(groups)
	targets := append(resolved, o.checker.Resolver().AdvisoryDependencies(resolved)...)

	log.Info("Starting orchestration",
		zap.Int("services", len(targets)),
		zap.Duration("timeout", timeout))

	// INTERVENE: stages run strictly in order; the first failure ends the run
	ok := o.coordinateContainers(ctx, result, timeout, targets) &&
		o.validateDependencies(ctx, handles, result, timeout, req) &&
		o.coordinateIntegration(ctx, handles, result, timeout) &&
		o.checkReadiness(ctx, handles, result, timeout)

	// EVALUATE
	result.Success = ok && len(result.Errors) == 0
	return result, nil
}

func (o *Orchestrator) coordinateContainers(ctx context.Context, result *StartupOrchestrationResult, total time.Duration, targets []registry.ServiceType) bool {
	cr, finished, err := runStage(ctx, o, result.RunID, StateContainerCoordination, StageBudget(StateContainerCoordination, total),
		func(ctx context.Context) (integration.ContainerResult, error) {
			cr := o.integration.EnsureContainerServicesReady(ctx, targets)
			if !cr.Success {
				return cr, cerr.New(cr.Error)
			}
			return cr, nil
		})
	if finished {
		result.Containers = &cr
		result.Warnings = append(result.Warnings, cr.Warnings...)
	}
	return o.finishStage(result, StateContainerCoordination, "containers", err)
}

func (o *Orchestrator) validateDependencies(ctx context.Context, handles healthcheck.Handles, result *StartupOrchestrationResult, total time.Duration, req Request) bool {
	dv, finished, err := runStage(ctx, o, result.RunID, StateDependencyValidation, StageBudget(StateDependencyValidation, total),
		func(ctx context.Context) (*depcheck.DependencyValidationResult, error) {
			dv, err := o.checker.ValidateServiceDependencies(ctx, handles, req.Services, req.IncludeGoldenPath)
			if err != nil {
				return nil, err
			}
			if !dv.OverallSuccess {
				return dv, fmt.Errorf("%d critical failure(s): %s", len(dv.CriticalFailures), strings.Join(dv.CriticalFailures, "; "))
			}
			return dv, nil
		})
	if finished && dv != nil {
		result.DependencyValidation = dv
		result.ServicesStarted = dv.ValidatedServices()
		result.ServicesFailed = dv.FailedServices()
		for _, phase := range registry.AllPhases() {
			if passed, ran := dv.PhaseResults[phase]; ran && passed {
				result.PhasesCompleted = append(result.PhasesCompleted, phase)
			}
		}
		result.Warnings = append(result.Warnings, dv.Warnings...)
	}
	return o.finishStage(result, StateDependencyValidation, "dependencies", err)
}

func (o *Orchestrator) coordinateIntegration(ctx context.Context, handles healthcheck.Handles, result *StartupOrchestrationResult, total time.Duration) bool {
	validated := result.ServicesStarted
	ir, finished, err := runStage(ctx, o, result.RunID, StateIntegrationCoordination, StageBudget(StateIntegrationCoordination, total),
		func(ctx context.Context) (integration.IntegrationResult, error) {
			ir := o.integration.EnsureServiceIntegration(ctx, handles, validated)
			if !ir.Success {
				return ir, ir.Err()
			}
			return ir, nil
		})
	if finished {
		result.Integration = &ir
		result.Warnings = append(result.Warnings, ir.Warnings...)
	}
	return o.finishStage(result, StateIntegrationCoordination, "integration", err)
}

// checkReadiness re-probes the services that passed validation. Advisory
// services that already failed stay warnings; a validated service that has
// since gone down is what this gate catches.
func (o *Orchestrator) checkReadiness(ctx context.Context, handles healthcheck.Handles, result *StartupOrchestrationResult, total time.Duration) bool {
	services := result.ServicesStarted
	if len(services) == 0 {
		result.Warnings = append(result.Warnings, "readiness: no validated services to re-probe")
		result.Ready = true
		return o.finishStage(result, StateFinalReadiness, "readiness", nil)
	}
	threshold := o.readinessThreshold

	summary, finished, err := runStage(ctx, o, result.RunID, StateFinalReadiness, StageBudget(StateFinalReadiness, total),
		func(ctx context.Context) (depcheck.StatusSummary, error) {
			summary := o.checker.GetServiceStatusSummary(ctx, handles, services...)
			if ratio := summary.HealthRatio(); ratio < threshold {
				return summary, fmt.Errorf("readiness ratio %.2f below threshold %.2f (%d/%d healthy)",
					ratio, threshold, summary.HealthyCount, summary.TotalCount)
			}
			return summary, nil
		})
	if finished {
		result.Readiness = &summary
	}
	result.Ready = finished && err == nil
	return o.finishStage(result, StateFinalReadiness, "readiness", err)
}

func (o *Orchestrator) finishStage(result *StartupOrchestrationResult, stage State, component string, err error) bool {
	if err != nil {
		se := NewStageError(stage, component, "stage failed", err)
		result.addError(se)
		o.logger.Error("Orchestration stage failed",
			zap.String("run_id", result.RunID),
			zap.String("stage", string(stage)),
			zap.Error(err),
			zap.String("remediation", se.Remediation))
		return false
	}
	result.StagesCompleted = append(result.StagesCompleted, stage)
	return true
}

// runStage runs fn under the stage budget in its own span. A panic in fn is
// recovered and returned as an error. When the budget runs out fn is given
// stageGrace to return its partial result before it is abandoned; finished
// reports whether fn's value is usable.
func runStage[T any](ctx context.Context, o *Orchestrator, runID string, stage State, budget time.Duration, fn func(context.Context) (T, error)) (value T, finished bool, err error) {
	o.transition(runID, stage)

	stageCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	stageCtx, span := telemetry.Start(stageCtx, "horae.stage."+strings.ToLower(string(stage)),
		attribute.String("run_id", runID),
		attribute.Int64("budget_ms", budget.Milliseconds()))
	defer span.End()

	type outcome struct {
		value T
		err   error
		// unusable is set when fn panicked or was abandoned
		unusable bool
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: cerr.AssertionFailedf("panic in %s: %v", stage, r), unusable: true}
			}
		}()
		v, err := fn(stageCtx)
		done <- outcome{value: v, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-stageCtx.Done():
		select {
		case out = <-done:
		case <-time.After(stageGrace):
			out = outcome{unusable: true}
		}
	}

	// an expired budget wins over whatever fn reported, except a panic
	if stageCtx.Err() != nil && (out.err == nil || !out.unusable) {
		out.err = expiredError(ctx, stageCtx, stage, budget)
	}

	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
	}
	return out.value, !out.unusable, out.err
}

func expiredError(parent, stageCtx context.Context, stage State, budget time.Duration) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s cancelled: %w", stage, parent.Err())
	}
	return fmt.Errorf("%s timed out after %s: %w", stage, budget, stageCtx.Err())
}

// OrchestratePhaseStartup validates the services of one phase concurrently
// under that phase's timeout. With no services it validates every service
// declared in phase. Success means every service validated.
func (o *Orchestrator) OrchestratePhaseStartup(ctx context.Context, handles healthcheck.Handles, phase registry.DependencyPhase, services []registry.ServiceType) (depcheck.PhaseOutcome, error) {
	if !phase.Valid() {
		return depcheck.PhaseOutcome{Phase: phase}, cerr.Wrapf(depgraph.ErrInvalidPhase, "phase %d", int(phase))
	}
	resolver := o.checker.Resolver()
	if len(services) == 0 {
		for _, s := range resolver.Services() {
			if p, _ := resolver.Phase(s); p == phase {
				services = append(services, s)
			}
		}
	}
	for _, s := range services {
		p, declared := resolver.Phase(s)
		if !declared {
			return depcheck.PhaseOutcome{Phase: phase}, cerr.Wrapf(depgraph.ErrUndeclaredService, "%s", s)
		}
		if p != phase {
			return depcheck.PhaseOutcome{Phase: phase}, cerr.WithHintf(
				cerr.Wrapf(ErrPhaseMismatch, "%s is declared in %s, not %s", s, p, phase),
				"start %s with phase %s", s, p)
		}
	}

	ctx, span := telemetry.Start(ctx, "horae.phase_startup",
		attribute.String("phase", phase.String()),
		attribute.Int("services", len(services)))
	defer span.End()

	outcome := o.checker.ValidatePhase(ctx, handles, phase, services, nil)
	span.SetAttributes(attribute.Bool("success", outcome.Success), attribute.Bool("timed_out", outcome.TimedOut))
	if !outcome.Success {
		span.SetStatus(codes.Error, "phase failed")
	}
	return outcome, nil
}

// EmergencyServiceRestart restarts the container behind s. After a
// successful restart the service's circuit breaker is reset so the next
// validation probes it immediately.
func (o *Orchestrator) EmergencyServiceRestart(ctx context.Context, s registry.ServiceType) integration.RestartResult {
	ctx, span := telemetry.Start(ctx, "horae.emergency_restart", attribute.String("service", s.String()))
	defer span.End()

	res := o.integration.EmergencyServiceRestart(ctx, s)
	if res.Success && o.retrier != nil {
		o.retrier.ResetBreaker(s.String())
		o.logger.Info("Circuit breaker reset after restart", zap.String("service", s.String()))
	}
	if !res.Success {
		span.SetStatus(codes.Error, res.Message)
	}
	return res
}
