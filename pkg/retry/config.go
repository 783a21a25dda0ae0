// pkg/retry/config.go

package retry

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
)

const (
	DefaultBaseDelay = 100 * time.Millisecond
	DefaultMaxDelay  = 30 * time.Second
)

// Config is the retry and breaker tuning for one kind of operation.
type Config struct {
	MaxAttempts      int           `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay        time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay         time.Duration `json:"max_delay" yaml:"max_delay"`
	BreakerThreshold int           `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// ConfigForEnvironment derives the base retry table for env. Testing retries
// least and fastest, production most and slowest.
func ConfigForEnvironment(env registry.EnvironmentType) Config {
	t := registry.Timing(env)
	return Config{
		MaxAttempts:      t.MaxRetries,
		BaseDelay:        t.BaseDelay,
		MaxDelay:         t.MaxDelay,
		BreakerThreshold: t.CircuitBreakerThreshold,
		BreakerCooldown:  t.CircuitBreakerCooldown,
	}
}

// ConfigForService uses the per-service configuration, which gives stateful
// infrastructure one extra attempt.
func ConfigForService(s registry.ServiceType, env registry.EnvironmentType) Config {
	c := registry.ConfigurationFor(s, env)
	return Config{
		MaxAttempts:      c.MaxRetries,
		BaseDelay:        c.BaseDelay,
		MaxDelay:         c.MaxDelay,
		BreakerThreshold: c.CircuitBreakerThreshold,
		BreakerCooldown:  c.CircuitBreakerCooldown,
	}
}

// CalculateDelay returns min(MaxDelay, BaseDelay*2^(attempt-1)) and never
// less than BaseDelay. Large attempt numbers saturate instead of overflowing.
func (c Config) CalculateDelay(attempt int) time.Duration {
	base := c.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	ceiling := c.MaxDelay
	if ceiling <= 0 {
		ceiling = DefaultMaxDelay
	}
	if ceiling < base {
		ceiling = base
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay > ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}

func (c Config) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}
