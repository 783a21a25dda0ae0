// pkg/healthcheck/validator.go

package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const meterName = "github.com/CodeMonkeyCybersecurity/horae/pkg/healthcheck"

// Validator runs the probe registered for a service type and converts every
// outcome, including timeouts and panics, into a HealthCheckResult.
type Validator struct {
	env                  registry.EnvironmentType
	logger               *zap.Logger
	backendSubcomponents []string
	timeoutOverride      time.Duration
	duration             metric.Float64Histogram
	now                  func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithBackendSubcomponents replaces the sub-components the backend probe scores.
func WithBackendSubcomponents(names ...string) Option {
	return func(v *Validator) {
		v.backendSubcomponents = append([]string(nil), names...)
	}
}

// WithProbeTimeout overrides the per-service timeout from the environment table.
func WithProbeTimeout(d time.Duration) Option {
	return func(v *Validator) { v.timeoutOverride = d }
}

// WithMeter records probe durations on m instead of the global meter provider.
func WithMeter(m metric.Meter) Option {
	return func(v *Validator) { v.duration = newDurationHistogram(m, v.logger) }
}

// NewValidator builds a validator tuned for env.
func NewValidator(env registry.EnvironmentType, logger *zap.Logger, opts ...Option) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{
		env:                  env,
		logger:               logger,
		backendSubcomponents: DefaultBackendSubcomponents,
		now:                  time.Now,
	}
	v.duration = newDurationHistogram(otel.Meter(meterName), logger)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func newDurationHistogram(m metric.Meter, logger *zap.Logger) metric.Float64Histogram {
	h, err := m.Float64Histogram("horae.healthcheck.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration of service health probes"))
	if err != nil {
		logger.Debug("Probe duration histogram unavailable", zap.Error(err))
		return noop.Float64Histogram{}
	}
	return h
}

// Environment returns the environment the validator was built for.
func (v *Validator) Environment() registry.EnvironmentType { return v.env }

// TimeoutFor returns the probe deadline applied to s.
func (v *Validator) TimeoutFor(s registry.ServiceType) time.Duration {
	if v.timeoutOverride > 0 {
		return v.timeoutOverride
	}
	return registry.ConfigurationFor(s, v.env).Timeout
}

// Check looks up the handle for s and validates it. A missing handle is UNHEALTHY.
func (v *Validator) Check(ctx context.Context, handles Handles, s registry.ServiceType) HealthCheckResult {
	var handle any
	if handles != nil {
		handle, _ = handles.Handle(s)
	}
	return v.ValidateServiceHealth(ctx, handle, s)
}

// ValidateServiceHealth probes handle as service type s within the service's
// configured timeout. It never returns an error and never panics.
func (v *Validator) ValidateServiceHealth(ctx context.Context, handle any, s registry.ServiceType) HealthCheckResult {
	start := v.now()
	outcome := v.run(ctx, handle, s)
	elapsed := v.now().Sub(start)

	result := HealthCheckResult{
		ServiceType:    s,
		ServiceName:    s.String(),
		Success:        outcome.Status.Usable(),
		HealthStatus:   outcome.Status,
		ResponseTimeMs: float64(elapsed.Microseconds()) / 1000,
		Details:        outcome.Details,
		CheckedAt:      start,
	}
	if outcome.Err != nil {
		result.ErrorMessage = outcome.Err.Error()
	}

	v.duration.Record(ctx, result.ResponseTimeMs, metric.WithAttributes(
		attribute.String("service", s.String()),
		attribute.String("status", string(result.HealthStatus)),
	))

	fields := []zap.Field{
		zap.String("service", s.String()),
		zap.String("status", string(result.HealthStatus)),
		zap.Float64("response_time_ms", result.ResponseTimeMs),
	}
	if result.Success {
		v.logger.Debug("Health probe completed", fields...)
	} else {
		v.logger.Warn("Health probe failed", append(fields, zap.String("error", result.ErrorMessage))...)
	}
	return result
}

func (v *Validator) run(ctx context.Context, handle any, s registry.ServiceType) ProbeOutcome {
	if !s.Valid() {
		return unhealthyf("unknown service type %d", int(s))
	}
	if handle == nil {
		return unhealthyf("%s handle is not configured", s)
	}

	timeout := v.TimeoutFor(s)
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so a probe that ignores its context can still finish and exit.
	done := make(chan ProbeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				v.logger.Error("Health probe panicked",
					zap.String("service", s.String()),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				done <- unhealthyf("probe panicked: %v", r)
			}
		}()
		done <- probes[s](probeCtx, v, handle)
	}()

	select {
	case out := <-done:
		if out.Status == StatusHealthy {
			return out
		}
		// A probe that returns its context error is reported by why the context ended.
		if ctx.Err() != nil {
			return unhealthy(out.Details, fmt.Errorf("probe cancelled: %w", ctx.Err()))
		}
		if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			return timedOut(out.Details, timeout)
		}
		return out
	case <-probeCtx.Done():
		if ctx.Err() != nil {
			return unhealthy(nil, fmt.Errorf("probe cancelled: %w", ctx.Err()))
		}
		return timedOut(nil, timeout)
	}
}

func timedOut(details map[string]any, timeout time.Duration) ProbeOutcome {
	if details == nil {
		details = map[string]any{}
	}
	details["timed_out"] = true
	return unhealthy(details, fmt.Errorf("probe timed out after %s", timeout))
}
