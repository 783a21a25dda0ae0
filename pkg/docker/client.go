// pkg/docker/client.go

package docker

import (
	"context"
	"fmt"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	composeProjectLabel = "com.docker.compose.project"
	composeServiceLabel = "com.docker.compose.service"
	defaultPingTimeout  = 5 * time.Second
)

// containerInfo is the subset of a container summary the coordinator needs.
type containerInfo struct {
	ID      string
	Name    string
	Service string
	State   string
}

// containerState is the subset of an inspect response the coordinator needs.
type containerState struct {
	Running bool
	Status  string
	Health  string
	Ports   nat.PortMap
}

// engine is the slice of the Docker API used here, so tests can swap in a fake.
type engine interface {
	Ping(ctx context.Context) error
	ListProjectContainers(ctx context.Context, project string) ([]containerInfo, error)
	Start(ctx context.Context, id string) error
	Restart(ctx context.Context, id string, stopTimeout time.Duration) error
	Inspect(ctx context.Context, id string) (containerState, error)
	Close() error
}

type dockerEngine struct {
	cli *client.Client
}

// newDockerEngine establishes a Docker client using environment configuration
// with API version negotiation enabled.
func newDockerEngine() (*dockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &dockerEngine{cli: cli}, nil
}

func (e *dockerEngine) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	_, err := e.cli.Ping(pingCtx)
	return err
}

func (e *dockerEngine) ListProjectContainers(ctx context.Context, project string) ([]containerInfo, error) {
	projectFilter := filters.NewArgs(
		filters.Arg("label", fmt.Sprintf("%s=%s", composeProjectLabel, project)),
	)
	containers, err := e.cli.ContainerList(ctx, containertypes.ListOptions{
		All:     true, // Include stopped containers
		Filters: projectFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers for project %s: %w", project, err)
	}

	out := make([]containerInfo, 0, len(containers))
	for _, c := range containers {
		name := c.ID
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		out = append(out, containerInfo{
			ID:      c.ID,
			Name:    name,
			Service: c.Labels[composeServiceLabel],
			State:   c.State,
		})
	}
	return out, nil
}

func (e *dockerEngine) Start(ctx context.Context, id string) error {
	return e.cli.ContainerStart(ctx, id, containertypes.StartOptions{})
}

func (e *dockerEngine) Restart(ctx context.Context, id string, stopTimeout time.Duration) error {
	secs := int(stopTimeout.Seconds())
	return e.cli.ContainerRestart(ctx, id, containertypes.StopOptions{Timeout: &secs})
}

func (e *dockerEngine) Inspect(ctx context.Context, id string) (containerState, error) {
	inspect, err := e.cli.ContainerInspect(ctx, id)
	if err != nil {
		return containerState{}, fmt.Errorf("failed to inspect container: %w", err)
	}
	var st containerState
	if inspect.State != nil {
		st.Running = inspect.State.Running
		st.Status = inspect.State.Status
		if inspect.State.Health != nil {
			st.Health = inspect.State.Health.Status
		}
	}
	if inspect.NetworkSettings != nil {
		st.Ports = inspect.NetworkSettings.Ports
	}
	return st, nil
}

func (e *dockerEngine) Close() error { return e.cli.Close() }

// isUnreachable reports whether err means the daemon could not be contacted.
func isUnreachable(err error) bool {
	return client.IsErrConnectionFailed(err)
}
