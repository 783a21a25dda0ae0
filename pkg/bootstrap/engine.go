// pkg/bootstrap/engine.go
//
// Builds the startup engine from configuration: service handles, the
// dependency graph, probes, retries, the optional Docker coordinator and the
// orchestrator on top of them.

package bootstrap

import (
	"github.com/CodeMonkeyCybersecurity/horae/pkg/config"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/depcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/depgraph"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/docker"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_err"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/integration"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/orchestrator"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/postgres"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/rediscache"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/retry"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/telemetry"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Engine owns every component of one horae process.
type Engine struct {
	Environment  registry.EnvironmentType
	Targets      []registry.ServiceType
	Handles      healthcheck.HandleMap
	Resolver     *depgraph.Resolver
	Validator    *healthcheck.Validator
	Retrier      *retry.Mechanism
	Checker      *depcheck.Checker
	Integration  *integration.Manager
	Orchestrator *orchestrator.Orchestrator

	closers []func() error
	logger  *zap.Logger
}

type options struct {
	handles     healthcheck.HandleMap
	coordinator integration.ContainerCoordinator
	meter       metric.Meter
}

// Option customises Build.
type Option func(*options)

// WithHandles registers extra handles, e.g. in-process auth or backend
// components when horae is embedded. They take precedence over handles built
// from configuration.
func WithHandles(h healthcheck.HandleMap) Option {
	return func(o *options) { o.handles = h }
}

// WithCoordinator replaces the Docker coordinator built from configuration.
func WithCoordinator(c integration.ContainerCoordinator) Option {
	return func(o *options) { o.coordinator = c }
}

// WithMeter records engine metrics on m instead of telemetry.Meter().
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// Build wires the engine. Only configuration mistakes fail here; services
// that are down are reported by the probes.
func Build(cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *Engine, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{meter: telemetry.Meter()}
	for _, opt := range opts {
		opt(&o)
	}

	env, err := cfg.EnvironmentType()
	if err != nil {
		return nil, horae_err.NewStructuralError("invalid environment", err)
	}
	targets, err := cfg.ServiceTypes()
	if err != nil {
		return nil, horae_err.NewStructuralError("invalid services", err)
	}
	containerNames, err := cfg.ContainerNames()
	if err != nil {
		return nil, horae_err.NewStructuralError("invalid docker.containers", err)
	}

	e := &Engine{
		Environment: env,
		Targets:     targets,
		Handles:     healthcheck.HandleMap{},
		logger:      logger,
	}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	if err := e.openHandles(cfg); err != nil {
		return nil, err
	}
	for s, h := range o.handles {
		e.Handles[s] = h
	}

	e.Resolver, err = depgraph.NewDefaultResolver(logger.Named("depgraph"))
	if err != nil {
		return nil, horae_err.NewStructuralError("invalid dependency graph", err)
	}

	e.Validator = healthcheck.NewValidator(env, logger.Named("healthcheck"), healthcheck.WithMeter(o.meter))

	retryOpts := []retry.Option{retry.WithMeter(o.meter)}
	if cfg.Retry.BudgetPerSecond > 0 {
		burst := cfg.Retry.BudgetBurst
		if burst == 0 {
			burst = 1
		}
		retryOpts = append(retryOpts, retry.WithBudget(cfg.Retry.BudgetPerSecond, burst))
	}
	e.Retrier = retry.New(retry.ConfigForEnvironment(env), logger.Named("retry"), retryOpts...)

	e.Checker = depcheck.NewChecker(e.Resolver, e.Validator, e.Retrier, logger.Named("depcheck"),
		depcheck.WithFailFast(cfg.Orchestration.FailFast))

	coordinator := o.coordinator
	if coordinator == nil && cfg.Docker.Enabled {
		c, err := docker.NewCoordinator(cfg.Docker.Project, logger.Named("docker"))
		if err != nil {
			return nil, horae_err.NewNetworkError("failed to create docker client", err,
				"Check DOCKER_HOST or disable docker.enabled")
		}
		e.closers = append(e.closers, c.Close)
		coordinator = c
	}

	names := integration.DefaultContainerNames()
	for s, n := range containerNames {
		names[s] = n
	}
	e.Integration = integration.NewManager(coordinator, logger.Named("integration"), integration.WithContainerNames(names))

	orchOpts := []orchestrator.Option{orchestrator.WithMeter(o.meter)}
	if cfg.Orchestration.Timeout > 0 {
		orchOpts = append(orchOpts, orchestrator.WithTimeout(cfg.Orchestration.Timeout))
	}
	e.Orchestrator = orchestrator.New(e.Checker, e.Integration, e.Retrier, logger.Named("orchestrator"), orchOpts...)

	logger.Debug("Engine built",
		zap.String("environment", string(env)),
		zap.Int("handles", len(e.Handles)),
		zap.Bool("docker", coordinator != nil),
		zap.Int("targets", len(targets)))
	return e, nil
}

func (e *Engine) openHandles(cfg *config.Config) error {
	if cfg.Postgres.DSN != "" {
		h, err := postgres.Dial(cfg.Postgres.DSN)
		if err != nil {
			return horae_err.NewStructuralError("invalid postgres.dsn", err)
		}
		e.Handles[registry.ServiceDatabasePostgres] = h
		e.closers = append(e.closers, h.Close)
	}
	if cfg.Redis.URL != "" {
		h, err := rediscache.Dial(rediscache.Options{URL: cfg.Redis.URL, Password: cfg.Redis.Password})
		if err != nil {
			return horae_err.NewStructuralError("invalid redis.url", err)
		}
		e.Handles[registry.ServiceRedis] = h
		e.closers = append(e.closers, h.Close)
	}
	return nil
}

// StatusTargets is the configured services plus their REQUIRED dependencies,
// or every declared service when none is configured.
func (e *Engine) StatusTargets() []registry.ServiceType {
	if len(e.Targets) > 0 {
		return e.Resolver.RequiredClosure(e.Targets)
	}
	return e.Resolver.Services()
}

// Close releases handles and clients in reverse order of creation.
func (e *Engine) Close() error {
	var result error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	e.closers = nil
	if result != nil {
		e.logger.Warn("Engine close reported errors", zap.Error(result))
	}
	return result
}
