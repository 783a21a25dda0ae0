// pkg/docker/coordinator.go
// Compose-backed container coordination for stateful infrastructure
// Talks to the daemon through the Docker SDK, never the docker CLI.

package docker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/integration"
	"github.com/docker/go-connections/nat"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Coordinator brings compose services up and restarts them. It implements
// integration.ContainerCoordinator.
type Coordinator struct {
	project      string
	engine       engine
	logger       *zap.Logger
	stopTimeout  time.Duration
	readyTimeout time.Duration
	pollInterval time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStopTimeout is the grace period before a restart kills a container.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.stopTimeout = d }
}

// WithReadyTimeout bounds how long to wait for a container to run.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.readyTimeout = d }
}

// NewCoordinator connects to the Docker daemon from the environment.
func NewCoordinator(project string, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if project == "" {
		return nil, fmt.Errorf("compose project name is required")
	}
	eng, err := newDockerEngine()
	if err != nil {
		return nil, err
	}
	return newCoordinator(project, eng, logger, opts...), nil
}

func newCoordinator(project string, eng engine, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		project:      project,
		engine:       eng,
		logger:       logger,
		stopTimeout:  30 * time.Second,
		readyTimeout: 30 * time.Second,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the Docker client.
func (c *Coordinator) Close() error { return c.engine.Close() }

// EnsureReady starts any stopped container among names and waits for all of
// them to run. An unreachable daemon is reported as ErrCoordinatorUnavailable.
// ASSESS: Find containers by project and service labels
// INTERVENE: Start containers that are not running
// EVALUATE: Wait for running state, report published ports
func (c *Coordinator) EnsureReady(ctx context.Context, names []string) (*integration.ContainerReport, error) {
	report := &integration.ContainerReport{Ready: []string{}, Endpoints: map[string][]string{}}

	if err := c.engine.Ping(ctx); err != nil {
		return report, c.unavailable(err)
	}

	byService, err := c.containersByService(ctx)
	if err != nil {
		return report, err
	}

	c.logger.Info("Ensuring compose services are running",
		zap.String("project", c.project),
		zap.Strings("services", names))

	var result error
	for _, name := range names {
		ct, ok := byService[name]
		if !ok {
			report.Missing = append(report.Missing, name)
			result = multierror.Append(result, fmt.Errorf("no container for service %s in project %s", name, c.project))
			continue
		}

		if ct.State != "running" {
			c.logger.Info("Starting stopped container",
				zap.String("service", name),
				zap.String("container", ct.Name),
				zap.String("state", ct.State))
			if err := c.engine.Start(ctx, ct.ID); err != nil {
				result = multierror.Append(result, fmt.Errorf("failed to start container %s (service: %s): %w", ct.Name, name, err))
				continue
			}
			report.Started = append(report.Started, name)
		}

		st, err := c.waitForContainerRunning(ctx, ct.ID)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("container %s (service: %s) failed to start: %w", ct.Name, name, err))
			continue
		}
		report.Ready = append(report.Ready, name)
		if endpoints := formatPorts(st.Ports); len(endpoints) > 0 {
			report.Endpoints[name] = endpoints
		}
	}
	return report, result
}

// Restart restarts the container backing service name and waits for it to run.
func (c *Coordinator) Restart(ctx context.Context, name string) error {
	if err := c.engine.Ping(ctx); err != nil {
		return c.unavailable(err)
	}
	byService, err := c.containersByService(ctx)
	if err != nil {
		return err
	}
	ct, ok := byService[name]
	if !ok {
		return fmt.Errorf("no container for service %s in project %s", name, c.project)
	}

	c.logger.Info("Restarting container",
		zap.String("service", name),
		zap.String("container", ct.Name),
		zap.Duration("stop_timeout", c.stopTimeout))
	if err := c.engine.Restart(ctx, ct.ID, c.stopTimeout); err != nil {
		return fmt.Errorf("failed to restart container %s (service: %s): %w", ct.Name, name, err)
	}
	if _, err := c.waitForContainerRunning(ctx, ct.ID); err != nil {
		return fmt.Errorf("container %s (service: %s) failed to come back: %w", ct.Name, name, err)
	}
	c.logger.Info("Container restarted successfully", zap.String("service", name))
	return nil
}

func (c *Coordinator) unavailable(err error) error {
	if isUnreachable(err) {
		return fmt.Errorf("%w: %v", integration.ErrCoordinatorUnavailable, err)
	}
	return fmt.Errorf("docker daemon ping failed: %w", err)
}

func (c *Coordinator) containersByService(ctx context.Context) (map[string]containerInfo, error) {
	containers, err := c.engine.ListProjectContainers(ctx, c.project)
	if err != nil {
		return nil, err
	}
	out := make(map[string]containerInfo, len(containers))
	for _, ct := range containers {
		if ct.Service == "" {
			continue
		}
		// prefer a running replica when a service has several
		if existing, ok := out[ct.Service]; ok && existing.State == "running" {
			continue
		}
		out[ct.Service] = ct
	}
	return out, nil
}

// waitForContainerRunning polls container state until running (and healthy,
// when the image defines a healthcheck) or the ready timeout passes.
func (c *Coordinator) waitForContainerRunning(ctx context.Context, id string) (containerState, error) {
	deadline := time.Now().Add(c.readyTimeout)
	for {
		st, err := c.engine.Inspect(ctx, id)
		if err != nil {
			return st, err
		}
		switch {
		case st.Running && (st.Health == "" || st.Health == "healthy"):
			return st, nil
		case st.Health == "unhealthy":
			return st, fmt.Errorf("container reports unhealthy")
		case !st.Running && st.Status != "created" && st.Status != "restarting":
			return st, fmt.Errorf("container in unexpected state: %s", st.Status)
		}

		if time.Now().After(deadline) {
			return st, fmt.Errorf("timeout waiting for container to start after %s", c.readyTimeout)
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// formatPorts renders published bindings as "host:port->container/proto".
func formatPorts(ports nat.PortMap) []string {
	keys := make([]nat.Port, 0, len(ports))
	for p := range ports {
		keys = append(keys, p)
	}
	nat.Sort(keys, func(a, b nat.Port) bool { return a.Int() < b.Int() })

	var out []string
	for _, p := range keys {
		for _, b := range ports[p] {
			host := b.HostIP
			if host == "" {
				host = "0.0.0.0"
			}
			out = append(out, fmt.Sprintf("%s:%s->%s/%s", host, b.HostPort, p.Port(), p.Proto()))
		}
	}
	sort.Strings(out)
	return out
}
