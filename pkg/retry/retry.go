// pkg/retry/retry.go
//
// Progressive backoff with one circuit breaker per service key and an
// optional retry budget shared by every caller of the same Mechanism.

package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrCircuitOpen is returned without invoking the operation while a key's breaker is open.
	ErrCircuitOpen = cerr.New("circuit breaker open")
	// ErrBudgetExhausted stops retrying when the shared retry budget is empty.
	ErrBudgetExhausted = cerr.New("retry budget exhausted")
)

// ExhaustedError is returned once every attempt has failed. It unwraps to the
// last operation error.
type ExhaustedError struct {
	Key      string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempt(s): %v", e.Key, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Operation is any blocking call worth retrying.
type Operation func(ctx context.Context) error

// Mechanism retries operations. It is safe for concurrent use.
type Mechanism struct {
	defaults Config
	logger   *zap.Logger
	budget   *rate.Limiter
	attempts metric.Int64Counter
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option configures a Mechanism.
type Option func(*Mechanism)

// WithBudget shares a token bucket of retries across every key: perSecond
// tokens refill each second up to burst. First attempts never consume tokens.
func WithBudget(perSecond float64, burst int) Option {
	return func(m *Mechanism) {
		if perSecond > 0 && burst > 0 {
			m.budget = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithLimiter shares an existing limiter, e.g. between several mechanisms.
func WithLimiter(l *rate.Limiter) Option {
	return func(m *Mechanism) { m.budget = l }
}

// WithMeter counts attempts on m instead of the global meter provider.
func WithMeter(mt metric.Meter) Option {
	return func(m *Mechanism) { m.attempts = newAttemptCounter(mt, m.logger) }
}

// New returns a mechanism whose calls default to cfg.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Mechanism {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mechanism{
		defaults: cfg,
		logger:   logger,
		sleep:    sleepContext,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	m.attempts = newAttemptCounter(otel.Meter("github.com/CodeMonkeyCybersecurity/horae/pkg/retry"), logger)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func newAttemptCounter(mt metric.Meter, logger *zap.Logger) metric.Int64Counter {
	c, err := mt.Int64Counter("horae.retry.attempts",
		metric.WithDescription("Operation attempts made by the retry mechanism"))
	if err != nil {
		logger.Debug("Retry attempt counter unavailable", zap.Error(err))
		return noop.Int64Counter{}
	}
	return c
}

// Defaults returns the configuration calls use unless overridden.
func (m *Mechanism) Defaults() Config { return m.defaults }

type call struct {
	cfg     Config
	breaker bool
}

// CallOption adjusts a single Execute call.
type CallOption func(*call)

// WithConfig replaces the mechanism defaults for one call.
func WithConfig(cfg Config) CallOption {
	return func(c *call) { c.cfg = cfg }
}

// WithMaxAttempts overrides only the attempt count.
func WithMaxAttempts(n int) CallOption {
	return func(c *call) { c.cfg.MaxAttempts = n }
}

// WithoutCircuitBreaker bypasses the key's breaker entirely.
func WithoutCircuitBreaker() CallOption {
	return func(c *call) { c.breaker = false }
}

// Execute runs op until it succeeds or the attempts are spent, sleeping
// CalculateDelay(n) after the n-th failure. Every error is retryable. The
// key's breaker sees one outcome per Execute call, so a call that exhausts
// its attempts counts as a single failure. While the breaker is open the call
// fails immediately with ErrCircuitOpen.
func (m *Mechanism) Execute(ctx context.Context, key string, op Operation, opts ...CallOption) error {
	c := call{cfg: m.defaults, breaker: true}
	for _, opt := range opts {
		opt(&c)
	}

	if !c.breaker || c.cfg.BreakerThreshold <= 0 {
		return m.attempt(ctx, key, c.cfg, nil, op)
	}

	cb := m.breakerFor(key, c.cfg)
	var err error
	_, cbErr := cb.Execute(func() (interface{}, error) {
		err = m.attempt(ctx, key, c.cfg, cb, op)
		return nil, err
	})
	if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
		m.record(ctx, key, "rejected")
		return m.circuitOpen(key, 0, nil)
	}
	return err
}

// attempt is the retry loop of one Execute call. cb is only consulted
// between attempts: when another caller opened it meanwhile, the loop stops.
func (m *Mechanism) attempt(ctx context.Context, key string, cfg Config, cb *gobreaker.CircuitBreaker, op Operation) error {
	maxAttempts := cfg.attempts()

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if cb != nil && cb.State() == gobreaker.StateOpen {
				return m.circuitOpen(key, attempt-1, last)
			}
			if m.budget != nil && !m.budget.Allow() {
				m.logger.Warn("Retry budget exhausted",
					zap.String("key", key),
					zap.Int("attempts", attempt-1))
				return fmt.Errorf("%s: %w after %d attempt(s): %w", key, ErrBudgetExhausted, attempt-1, last)
			}
			delay := cfg.CalculateDelay(attempt - 1)
			m.logger.Debug("Retrying operation",
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("delay", delay),
				zap.Error(last))
			if err := m.sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s: retry interrupted after %d attempt(s): %w (last error: %v)", key, attempt-1, err, last)
			}
		}

		err := op(ctx)
		if err == nil {
			m.record(ctx, key, "success")
			if attempt > 1 {
				m.logger.Info("Operation succeeded after retry",
					zap.String("key", key),
					zap.Int("attempt", attempt))
			}
			return nil
		}
		m.record(ctx, key, "failure")
		last = err
	}

	m.logger.Warn("Retries exhausted",
		zap.String("key", key),
		zap.Int("attempts", maxAttempts),
		zap.Error(last))
	return &ExhaustedError{Key: key, Attempts: maxAttempts, Last: last}
}

func (m *Mechanism) circuitOpen(key string, attempts int, last error) error {
	m.logger.Debug("Circuit open, failing fast", zap.String("key", key), zap.Int("attempts", attempts))
	if last == nil {
		return fmt.Errorf("%s: %w", key, ErrCircuitOpen)
	}
	return fmt.Errorf("%s: %w after %d attempt(s): %w", key, ErrCircuitOpen, attempts, last)
}

func (m *Mechanism) record(ctx context.Context, key, outcome string) {
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key", key),
		attribute.String("outcome", outcome),
	))
}

// breakerFor returns the key's breaker, creating it with cfg on first use.
// Later calls with a different threshold keep the original breaker.
func (m *Mechanism) breakerFor(key string, cfg Config) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[key]; ok {
		return cb
	}

	threshold := uint32(cfg.BreakerThreshold)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Info("Circuit breaker state changed",
				zap.String("key", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// A caller giving up is not evidence against the service.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	m.breakers[key] = cb
	return cb
}

// BreakerState reports the state of key's breaker, if one exists.
func (m *Mechanism) BreakerState(key string) (gobreaker.State, bool) {
	m.mu.Lock()
	cb, ok := m.breakers[key]
	m.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed, false
	}
	return cb.State(), true
}

// BreakerStates returns every known breaker state keyed by service key.
func (m *Mechanism) BreakerStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.breakers))
	for k, cb := range m.breakers {
		out[k] = cb.State().String()
	}
	return out
}

// ResetBreaker forgets key's breaker so the next call starts closed.
func (m *Mechanism) ResetBreaker(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, key)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
