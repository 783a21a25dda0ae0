// pkg/healthcheck/types.go

package healthcheck

import (
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
)

// HealthStatus is the verdict of a single probe.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "HEALTHY"
	StatusDegraded  HealthStatus = "DEGRADED"
	StatusUnhealthy HealthStatus = "UNHEALTHY"
)

// Usable reports whether a service in this state can serve traffic.
func (s HealthStatus) Usable() bool {
	return s == StatusHealthy || s == StatusDegraded
}

// HealthCheckResult is created fresh per probe and never mutated after it is returned.
type HealthCheckResult struct {
	ServiceType    registry.ServiceType `json:"service_type" yaml:"service_type"`
	ServiceName    string               `json:"service_name" yaml:"service_name"`
	Success        bool                 `json:"success" yaml:"success"`
	HealthStatus   HealthStatus         `json:"health_status" yaml:"health_status"`
	ResponseTimeMs float64              `json:"response_time_ms" yaml:"response_time_ms"`
	Details        map[string]any       `json:"details,omitempty" yaml:"details,omitempty"`
	ErrorMessage   string               `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	CheckedAt      time.Time            `json:"checked_at" yaml:"checked_at"`
}

// ProbeOutcome is what a probe returns instead of raising. Err is kept for
// diagnostics only; Status alone decides the verdict.
type ProbeOutcome struct {
	Status  HealthStatus
	Details map[string]any
	Err     error
}

func healthy(details map[string]any) ProbeOutcome {
	return ProbeOutcome{Status: StatusHealthy, Details: details}
}

func degraded(details map[string]any, err error) ProbeOutcome {
	return ProbeOutcome{Status: StatusDegraded, Details: details, Err: err}
}

func unhealthy(details map[string]any, err error) ProbeOutcome {
	return ProbeOutcome{Status: StatusUnhealthy, Details: details, Err: err}
}

func unhealthyf(format string, args ...any) ProbeOutcome {
	return unhealthy(nil, fmt.Errorf(format, args...))
}
