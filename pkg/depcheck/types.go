// pkg/depcheck/types.go

package depcheck

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/depgraph"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
)

// ServiceValidationResult is the verdict for one service within a validation run.
// Status is the effective status: an advisory service that failed is
// recorded as DEGRADED so it never reads as a blocker.
type ServiceValidationResult struct {
	ServiceType registry.ServiceType          `json:"service_type" yaml:"service_type"`
	Phase       registry.DependencyPhase      `json:"phase" yaml:"phase"`
	Success     bool                          `json:"success" yaml:"success"`
	Blocking    bool                          `json:"blocking" yaml:"blocking"`
	Status      healthcheck.HealthStatus      `json:"status" yaml:"status"`
	Attempts    int                           `json:"attempts" yaml:"attempts"`
	Health      healthcheck.HealthCheckResult `json:"health" yaml:"health"`
	Error       string                        `json:"error,omitempty" yaml:"error,omitempty"`
}

// BlockingFailure reports whether this result stops startup.
func (r ServiceValidationResult) BlockingFailure() bool {
	return r.Blocking && !r.Success
}

// DependencyValidationResult is built during one validation pass and treated
// as immutable once returned.
type DependencyValidationResult struct {
	OverallSuccess   bool                              `json:"overall_success" yaml:"overall_success"`
	ServiceResults   []ServiceValidationResult         `json:"service_results" yaml:"service_results"`
	CriticalFailures []string                          `json:"critical_failures" yaml:"critical_failures"`
	Warnings         []string                          `json:"warnings" yaml:"warnings"`
	PhaseResults     map[registry.DependencyPhase]bool `json:"phase_results" yaml:"phase_results"`
	StartupOrder     []depgraph.PhaseGroup             `json:"startup_order" yaml:"startup_order"`
	Duration         time.Duration                     `json:"duration" yaml:"duration"`
}

// Result returns the validation result for s, if it was part of the run.
func (r *DependencyValidationResult) Result(s registry.ServiceType) (ServiceValidationResult, bool) {
	for _, sr := range r.ServiceResults {
		if sr.ServiceType == s {
			return sr, true
		}
	}
	return ServiceValidationResult{}, false
}

// ValidatedServices returns every service whose probe succeeded, in run order.
func (r *DependencyValidationResult) ValidatedServices() []registry.ServiceType {
	var out []registry.ServiceType
	for _, sr := range r.ServiceResults {
		if sr.Success {
			out = append(out, sr.ServiceType)
		}
	}
	return out
}

// FailedServices returns every service whose probe failed, blocking or not.
func (r *DependencyValidationResult) FailedServices() []registry.ServiceType {
	var out []registry.ServiceType
	for _, sr := range r.ServiceResults {
		if !sr.Success {
			out = append(out, sr.ServiceType)
		}
	}
	return out
}

// PhaseOutcome is the result of validating one phase.
type PhaseOutcome struct {
	Phase    registry.DependencyPhase  `json:"phase" yaml:"phase"`
	Success  bool                      `json:"success" yaml:"success"`
	TimedOut bool                      `json:"timed_out" yaml:"timed_out"`
	Results  []ServiceValidationResult `json:"results" yaml:"results"`
	Duration time.Duration             `json:"duration" yaml:"duration"`
}

// StatusSummary is a lightweight post-startup snapshot. HealthyCount includes
// degraded services; DegradedCount breaks them out.
type StatusSummary struct {
	TotalCount     int                                                    `json:"total_count" yaml:"total_count"`
	HealthyCount   int                                                    `json:"healthy_count" yaml:"healthy_count"`
	DegradedCount  int                                                    `json:"degraded_count" yaml:"degraded_count"`
	UnhealthyCount int                                                    `json:"unhealthy_count" yaml:"unhealthy_count"`
	Services       map[registry.ServiceType]healthcheck.HealthCheckResult `json:"services" yaml:"services"`
	CheckedAt      time.Time                                              `json:"checked_at" yaml:"checked_at"`
}

// HealthRatio is HealthyCount/TotalCount, or 0 for an empty summary.
func (s StatusSummary) HealthRatio() float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return float64(s.HealthyCount) / float64(s.TotalCount)
}
