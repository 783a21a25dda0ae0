// pkg/integration/types.go

package integration

import (
	"context"
	"errors"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
)

// ErrCoordinatorUnavailable means the container layer cannot be reached. It is
// treated as "externally managed", never as a failure.
var ErrCoordinatorUnavailable = cerr.New("container coordinator unavailable")

// ContainerReport describes what a coordinator found and did.
type ContainerReport struct {
	Ready     []string            `json:"ready" yaml:"ready"`
	Started   []string            `json:"started,omitempty" yaml:"started,omitempty"`
	Missing   []string            `json:"missing,omitempty" yaml:"missing,omitempty"`
	Endpoints map[string][]string `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// ContainerCoordinator is an optional container orchestration layer.
type ContainerCoordinator interface {
	EnsureReady(ctx context.Context, names []string) (*ContainerReport, error)
	Restart(ctx context.Context, name string) error
}

// Backend collaborators inspected by the cross-service checks.
type (
	EventBridgeProvider interface{ EventBridge() any }
	CacheClientProvider interface{ CacheClient() any }
	DatabaseProvider    interface{ DatabaseHandle() any }
)

// ContainerResult is the outcome of container coordination.
type ContainerResult struct {
	Success           bool             `json:"success" yaml:"success"`
	ExternallyManaged bool             `json:"externally_managed" yaml:"externally_managed"`
	Targets           []string         `json:"targets" yaml:"targets"`
	Report            *ContainerReport `json:"report,omitempty" yaml:"report,omitempty"`
	Warnings          []string         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error             string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// IntegrationResult is always returned, never raised. Only fatal checks add to Errors.
type IntegrationResult struct {
	Success    bool                   `json:"success" yaml:"success"`
	Integrated []registry.ServiceType `json:"integrated" yaml:"integrated"`
	Warnings   []string               `json:"warnings" yaml:"warnings"`
	Errors     []string               `json:"errors" yaml:"errors"`
	Duration   time.Duration          `json:"duration" yaml:"duration"`
}

// Err folds Errors into one error, or nil when integration succeeded.
func (r IntegrationResult) Err() error {
	var result error
	for _, msg := range r.Errors {
		result = multierror.Append(result, errors.New(msg))
	}
	return result
}

// RestartResult is the outcome of an emergency restart.
type RestartResult struct {
	Service   registry.ServiceType `json:"service" yaml:"service"`
	Success   bool                 `json:"success" yaml:"success"`
	Message   string               `json:"message" yaml:"message"`
	Container string               `json:"container,omitempty" yaml:"container,omitempty"`
}
