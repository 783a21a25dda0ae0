// pkg/healthcheck/capabilities.go
//
// Capability contracts consumed by the probes. Concrete clients live outside
// this package; anything satisfying these interfaces can be probed.

package healthcheck

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
)

// Pinger is the minimal round-trip contract.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseHandle is a relational store that can also enumerate its schema.
type DatabaseHandle interface {
	Pinger
	Tables(ctx context.Context) ([]string, error)
}

// CacheHandle is a key-value store.
type CacheHandle interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

// AuthHandle exposes the token sub-components of an auth service.
// Either accessor may return nil when the component is not wired.
type AuthHandle interface {
	Issuer() any
	Verifier() any
}

type TokenIssuer interface {
	IssueToken(ctx context.Context, subject string) (string, error)
}

type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// SubcomponentLookup resolves named sub-components of a compute service.
type SubcomponentLookup interface {
	Subcomponent(name string) (any, bool)
}

// Readiness is optionally implemented by sub-components that can report
// whether they finished initialising.
type Readiness interface {
	Ready() bool
}

// RealtimeHandle is a websocket gateway.
type RealtimeHandle interface {
	MessageRouter() any
	EventBridge() any
}

// ModelCatalog lists the models an LLM manager can serve.
type ModelCatalog interface {
	AvailableModels(ctx context.Context) ([]string, error)
}

// Handles looks up the handle registered for a service type.
type Handles interface {
	Handle(s registry.ServiceType) (any, bool)
}

// HandleMap is the default Handles implementation. A nil value counts as absent.
type HandleMap map[registry.ServiceType]any

func (m HandleMap) Handle(s registry.ServiceType) (any, bool) {
	h, ok := m[s]
	if !ok || h == nil {
		return nil, false
	}
	return h, true
}
