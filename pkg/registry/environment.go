// pkg/registry/environment.go

package registry

import (
	"strings"
	"time"

	cerr "github.com/cockroachdb/errors"
)

// ErrUnknownEnvironment is returned for an environment selector that is not declared.
var ErrUnknownEnvironment = cerr.New("unknown environment")

// EnvironmentType selects the timing tables used for probes, retries and phases.
type EnvironmentType string

const (
	EnvironmentDevelopment EnvironmentType = "development"
	EnvironmentTesting     EnvironmentType = "testing"
	EnvironmentStaging     EnvironmentType = "staging"
	EnvironmentProduction  EnvironmentType = "production"
)

// ParseEnvironment normalises common aliases ("prod", "dev", "test").
func ParseEnvironment(s string) (EnvironmentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "development", "dev", "local":
		return EnvironmentDevelopment, nil
	case "testing", "test", "ci":
		return EnvironmentTesting, nil
	case "staging", "stage":
		return EnvironmentStaging, nil
	case "production", "prod":
		return EnvironmentProduction, nil
	default:
		return "", cerr.WithHint(
			cerr.Wrapf(ErrUnknownEnvironment, "%q", s),
			"use one of development, testing, staging, production",
		)
	}
}

// EnvironmentTiming is the per-environment base table every service
// configuration is derived from.
type EnvironmentTiming struct {
	ProbeTimeout            time.Duration
	MaxRetries              int
	BaseDelay               time.Duration
	MaxDelay                time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
	OrchestrationTimeout    time.Duration
	PhaseTimeouts           map[DependencyPhase]time.Duration
}

var environmentTimings = map[EnvironmentType]EnvironmentTiming{
	EnvironmentTesting: {
		ProbeTimeout:            5 * time.Second,
		MaxRetries:              2,
		BaseDelay:               50 * time.Millisecond,
		MaxDelay:                time.Second,
		CircuitBreakerThreshold: 2,
		CircuitBreakerCooldown:  2 * time.Second,
		OrchestrationTimeout:    60 * time.Second,
		PhaseTimeouts: map[DependencyPhase]time.Duration{
			Phase1Core: 20 * time.Second, Phase2Auth: 15 * time.Second,
			Phase3Backend: 15 * time.Second, Phase4Frontend: 10 * time.Second,
		},
	},
	EnvironmentDevelopment: {
		ProbeTimeout:            10 * time.Second,
		MaxRetries:              3,
		BaseDelay:               250 * time.Millisecond,
		MaxDelay:                5 * time.Second,
		CircuitBreakerThreshold: 3,
		CircuitBreakerCooldown:  10 * time.Second,
		OrchestrationTimeout:    2 * time.Minute,
		PhaseTimeouts: map[DependencyPhase]time.Duration{
			Phase1Core: 45 * time.Second, Phase2Auth: 30 * time.Second,
			Phase3Backend: 30 * time.Second, Phase4Frontend: 20 * time.Second,
		},
	},
	EnvironmentStaging: {
		ProbeTimeout:            15 * time.Second,
		MaxRetries:              5,
		BaseDelay:               time.Second,
		MaxDelay:                15 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerCooldown:  30 * time.Second,
		OrchestrationTimeout:    4 * time.Minute,
		PhaseTimeouts: map[DependencyPhase]time.Duration{
			Phase1Core: 90 * time.Second, Phase2Auth: 60 * time.Second,
			Phase3Backend: 60 * time.Second, Phase4Frontend: 45 * time.Second,
		},
	},
	EnvironmentProduction: {
		ProbeTimeout:            20 * time.Second,
		MaxRetries:              8,
		BaseDelay:               2 * time.Second,
		MaxDelay:                30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerCooldown:  60 * time.Second,
		OrchestrationTimeout:    8 * time.Minute,
		PhaseTimeouts: map[DependencyPhase]time.Duration{
			Phase1Core: 3 * time.Minute, Phase2Auth: 2 * time.Minute,
			Phase3Backend: 2 * time.Minute, Phase4Frontend: 90 * time.Second,
		},
	},
}

// Timing returns the base timing table for env. Unknown environments fall back
// to development.
func Timing(env EnvironmentType) EnvironmentTiming {
	t, ok := environmentTimings[env]
	if !ok {
		t = environmentTimings[EnvironmentDevelopment]
	}
	phases := make(map[DependencyPhase]time.Duration, len(t.PhaseTimeouts))
	for k, v := range t.PhaseTimeouts {
		phases[k] = v
	}
	t.PhaseTimeouts = phases
	return t
}

// PhaseTimeout returns the validation deadline for a single phase.
func PhaseTimeout(env EnvironmentType, phase DependencyPhase) time.Duration {
	t := Timing(env)
	if d, ok := t.PhaseTimeouts[phase]; ok {
		return d
	}
	return t.ProbeTimeout * 2
}

// ServiceConfiguration is the probe and retry tuning for one service in one environment.
type ServiceConfiguration struct {
	Service                 ServiceType     `json:"service" yaml:"service"`
	Environment             EnvironmentType `json:"environment" yaml:"environment"`
	Timeout                 time.Duration   `json:"timeout" yaml:"timeout"`
	MaxRetries              int             `json:"max_retries" yaml:"max_retries"`
	BaseDelay               time.Duration   `json:"base_delay" yaml:"base_delay"`
	MaxDelay                time.Duration   `json:"max_delay" yaml:"max_delay"`
	CircuitBreakerThreshold int             `json:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  time.Duration   `json:"circuit_breaker_cooldown" yaml:"circuit_breaker_cooldown"`
}

// ConfigurationFor derives the configuration for service s in env.
// Stateful core services get a 50% longer probe timeout and one extra retry
// because cold starts of databases dominate boot time.
func ConfigurationFor(s ServiceType, env EnvironmentType) ServiceConfiguration {
	t := Timing(env)
	cfg := ServiceConfiguration{
		Service:                 s,
		Environment:             env,
		Timeout:                 t.ProbeTimeout,
		MaxRetries:              t.MaxRetries,
		BaseDelay:               t.BaseDelay,
		MaxDelay:                t.MaxDelay,
		CircuitBreakerThreshold: t.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  t.CircuitBreakerCooldown,
	}
	if IsStatefulInfrastructure(s) {
		cfg.Timeout += t.ProbeTimeout / 2
		cfg.MaxRetries++
	}
	return cfg
}
