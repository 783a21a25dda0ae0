// Package testutil - in-memory fakes for every probe capability
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ========================================
// Helpers
// ========================================

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ========================================
// Generic endpoint
// ========================================

// FakePinger answers Ping after Delay. Hang ignores the context entirely.
type FakePinger struct {
	Err   error
	Delay time.Duration
	Hang  time.Duration
	calls atomic.Int32
}

func (p *FakePinger) Ping(ctx context.Context) error {
	p.calls.Add(1)
	if p.Hang > 0 {
		time.Sleep(p.Hang)
		return p.Err
	}
	if err := wait(ctx, p.Delay); err != nil {
		return err
	}
	return p.Err
}

// Calls returns how many times Ping ran.
func (p *FakePinger) Calls() int { return int(p.calls.Load()) }

// ========================================
// Database
// ========================================

// FakeDatabase implements a database handle with a fixed schema.
type FakeDatabase struct {
	FakePinger
	TableNames []string
	TablesErr  error
}

func (d *FakeDatabase) Tables(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.TablesErr != nil {
		return nil, d.TablesErr
	}
	return append([]string(nil), d.TableNames...), nil
}

// ========================================
// Cache
// ========================================

// FakeCache is a map-backed key-value store. Corrupt makes Get return a
// value different from the one written.
type FakeCache struct {
	SetErr  error
	GetErr  error
	DelErr  error
	Corrupt bool
	Delay   time.Duration

	mu   sync.Mutex
	data map[string]string
}

func (c *FakeCache) Set(ctx context.Context, key, value string, _ time.Duration) error {
	if err := wait(ctx, c.Delay); err != nil {
		return err
	}
	if c.SetErr != nil {
		return c.SetErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string]string)
	}
	c.data[key] = value
	return nil
}

func (c *FakeCache) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.GetErr != nil {
		return "", c.GetErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Corrupt {
		return c.data[key] + "-stale", nil
	}
	return c.data[key], nil
}

func (c *FakeCache) Del(_ context.Context, key string) error {
	if c.DelErr != nil {
		return c.DelErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Len returns the number of keys currently stored.
func (c *FakeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// ========================================
// Auth
// ========================================

// FakeAuth exposes whatever issuer and verifier it is given.
type FakeAuth struct {
	IssuerComponent   any
	VerifierComponent any
}

func (a *FakeAuth) Issuer() any   { return a.IssuerComponent }
func (a *FakeAuth) Verifier() any { return a.VerifierComponent }

// FakeTokens issues tokens of the form "token:<subject>" and verifies them.
type FakeTokens struct {
	IssueErr  error
	VerifyErr error
}

func (f *FakeTokens) IssueToken(_ context.Context, subject string) (string, error) {
	if f.IssueErr != nil {
		return "", f.IssueErr
	}
	return "token:" + subject, nil
}

func (f *FakeTokens) VerifyToken(_ context.Context, token string) (string, error) {
	if f.VerifyErr != nil {
		return "", f.VerifyErr
	}
	const prefix = "token:"
	if len(token) < len(prefix) || token[:len(prefix)] != prefix {
		return "", NewTestError("malformed token")
	}
	return token[len(prefix):], nil
}

// NewWiredAuth returns an auth handle whose issuer and verifier both work.
func NewWiredAuth() *FakeAuth {
	tokens := &FakeTokens{}
	return &FakeAuth{IssuerComponent: tokens, VerifierComponent: tokens}
}

// ========================================
// Backend
// ========================================

// Component is a sub-component that reports readiness.
type Component struct {
	IsReady bool
}

func (c *Component) Ready() bool { return c.IsReady }

// FakeBackend is a compute service with named sub-components and the
// collaborators the integration checks inspect.
type FakeBackend struct {
	Components map[string]any
	Bridge     any
	Cache      any
	Database   any
}

func (b *FakeBackend) Subcomponent(name string) (any, bool) {
	c, ok := b.Components[name]
	return c, ok
}

func (b *FakeBackend) EventBridge() any    { return b.Bridge }
func (b *FakeBackend) CacheClient() any    { return b.Cache }
func (b *FakeBackend) DatabaseHandle() any { return b.Database }

// NewReadyBackend returns a backend with every named sub-component ready.
func NewReadyBackend(names ...string) *FakeBackend {
	b := &FakeBackend{Components: make(map[string]any, len(names))}
	for _, n := range names {
		b.Components[n] = &Component{IsReady: true}
	}
	return b
}

// ========================================
// Realtime
// ========================================

// FakeRealtime is a websocket gateway.
type FakeRealtime struct {
	Router any
	Bridge any
}

func (r *FakeRealtime) MessageRouter() any { return r.Router }
func (r *FakeRealtime) EventBridge() any   { return r.Bridge }

// ========================================
// LLM
// ========================================

// FakeModels is a model catalog.
type FakeModels struct {
	Models []string
	Err    error
}

func (m *FakeModels) AvailableModels(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.Models, m.Err
}

// ========================================
// Flaky
// ========================================

// Flaky returns the first FailTimes calls as errors, then succeeds.
type Flaky struct {
	FailTimes int
	Err       error
	calls     atomic.Int32
}

func (f *Flaky) Ping(context.Context) error {
	n := int(f.calls.Add(1))
	if n <= f.FailTimes {
		if f.Err != nil {
			return f.Err
		}
		return NewTestError("transient failure")
	}
	return nil
}

// Calls returns how many times Ping ran.
func (f *Flaky) Calls() int { return int(f.calls.Load()) }
