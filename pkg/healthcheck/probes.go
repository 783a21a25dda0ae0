// pkg/healthcheck/probes.go

package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"github.com/google/uuid"
)

type probeFunc func(ctx context.Context, v *Validator, handle any) ProbeOutcome

// probes is indexed by service type. init refuses to start with a gap, so a
// new service type cannot be added without its probe.
var probes = [registry.ServiceCount]probeFunc{
	registry.ServiceDatabasePostgres: probeDatabase,
	registry.ServiceRedis:            probeCache,
	registry.ServiceAuth:             probeAuth,
	registry.ServiceBackend:          probeBackend,
	registry.ServiceWebsocket:        probeRealtime,
	registry.ServiceLLMManager:       probeModels,
	registry.ServiceFrontend:         probeEndpoint,
	registry.ServiceAnalytics:        probeEndpoint,
}

func init() {
	for i, p := range probes {
		if p == nil {
			panic(fmt.Sprintf("healthcheck: no probe registered for %s", registry.ServiceType(i)))
		}
	}
}

const (
	cacheProbeTTL     = 30 * time.Second
	cacheProbePrefix  = "horae:healthcheck:"
	authProbeSubject  = "horae-healthcheck"
	backendHealthyAt  = 0.8
	backendDegradedAt = 0.6
)

// DefaultBackendSubcomponents are the sub-components a compute service is expected to wire.
var DefaultBackendSubcomponents = []string{
	"supervisor",
	"thread_service",
	"agent_service",
	"llm_manager",
	"tool_dispatcher",
}

func probeDatabase(ctx context.Context, _ *Validator, handle any) ProbeOutcome {
	db, ok := handle.(DatabaseHandle)
	if !ok {
		return unhealthyf("handle %T does not implement DatabaseHandle", handle)
	}

	if err := db.Ping(ctx); err != nil {
		return unhealthy(map[string]any{"query": "failed"}, fmt.Errorf("database round-trip failed: %w", err))
	}

	details := map[string]any{"query": "ok"}
	tables, err := db.Tables(ctx)
	if err != nil {
		details["schema"] = "unknown"
		return degraded(details, fmt.Errorf("schema enumeration failed: %w", err))
	}
	details["table_count"] = len(tables)
	if len(tables) == 0 {
		details["schema"] = "not_initialized"
		return degraded(details, fmt.Errorf("schema has no tables"))
	}
	details["schema"] = "initialized"
	return healthy(details)
}

func probeCache(ctx context.Context, _ *Validator, handle any) ProbeOutcome {
	cache, ok := handle.(CacheHandle)
	if !ok {
		return unhealthyf("handle %T does not implement CacheHandle", handle)
	}

	key := cacheProbePrefix + uuid.NewString()
	want := uuid.NewString()
	details := map[string]any{"key": key}

	if err := cache.Set(ctx, key, want, cacheProbeTTL); err != nil {
		return unhealthy(details, fmt.Errorf("cache set failed: %w", err))
	}
	got, err := cache.Get(ctx, key)
	if err != nil {
		return unhealthy(details, fmt.Errorf("cache get failed: %w", err))
	}
	if got != want {
		details["round_trip"] = "mismatch"
		return unhealthy(details, fmt.Errorf("cache returned a different value than was written"))
	}
	details["round_trip"] = "ok"

	// The key carries a TTL, so a failed delete only leaves a short-lived entry.
	if err := cache.Del(ctx, key); err != nil {
		details["cleanup"] = "failed"
		return degraded(details, fmt.Errorf("cache delete failed: %w", err))
	}
	return healthy(details)
}

func probeAuth(ctx context.Context, _ *Validator, handle any) ProbeOutcome {
	a, ok := handle.(AuthHandle)
	if !ok {
		return unhealthyf("handle %T does not implement AuthHandle", handle)
	}

	issuerRaw, verifierRaw := a.Issuer(), a.Verifier()
	issuer, issuerOK := issuerRaw.(TokenIssuer)
	verifier, verifierOK := verifierRaw.(TokenVerifier)
	details := map[string]any{
		"issuer_present":       issuerRaw != nil,
		"verifier_present":     verifierRaw != nil,
		"issuer_operational":   issuerOK,
		"verifier_operational": verifierOK,
	}

	if issuerRaw == nil && verifierRaw == nil {
		return unhealthy(details, fmt.Errorf("token issuer and verifier are both missing"))
	}
	if !issuerOK || !verifierOK {
		return degraded(details, fmt.Errorf("auth service is only partially wired"))
	}

	token, err := issuer.IssueToken(ctx, authProbeSubject)
	if err != nil {
		details["round_trip"] = "issue_failed"
		return degraded(details, fmt.Errorf("issue token: %w", err))
	}
	subject, err := verifier.VerifyToken(ctx, token)
	if err != nil {
		details["round_trip"] = "verify_failed"
		return degraded(details, fmt.Errorf("verify token: %w", err))
	}
	if subject != authProbeSubject {
		details["round_trip"] = "subject_mismatch"
		return degraded(details, fmt.Errorf("verified subject %q, want %q", subject, authProbeSubject))
	}
	details["round_trip"] = "ok"
	return healthy(details)
}

func probeBackend(_ context.Context, v *Validator, handle any) ProbeOutcome {
	lookup, ok := handle.(SubcomponentLookup)
	if !ok {
		return unhealthyf("handle %T does not implement SubcomponentLookup", handle)
	}

	expected := v.backendSubcomponents
	var ready, missing []string
	for _, name := range expected {
		c, found := lookup.Subcomponent(name)
		if found && c != nil && componentReady(c) {
			ready = append(ready, name)
			continue
		}
		missing = append(missing, name)
	}

	score := 0.0
	if len(expected) > 0 {
		score = float64(len(ready)) / float64(len(expected))
	}
	details := map[string]any{
		"readiness_score": score,
		"ready":           ready,
		"missing":         missing,
	}

	switch {
	case score >= backendHealthyAt:
		return healthy(details)
	case score >= backendDegradedAt:
		return degraded(details, fmt.Errorf("%d of %d sub-components ready", len(ready), len(expected)))
	default:
		return unhealthy(details, fmt.Errorf("%d of %d sub-components ready", len(ready), len(expected)))
	}
}

func componentReady(c any) bool {
	if r, ok := c.(Readiness); ok {
		return r.Ready()
	}
	return true
}

func probeRealtime(_ context.Context, _ *Validator, handle any) ProbeOutcome {
	rt, ok := handle.(RealtimeHandle)
	if !ok {
		return unhealthyf("handle %T does not implement RealtimeHandle", handle)
	}

	router, bridge := rt.MessageRouter() != nil, rt.EventBridge() != nil
	details := map[string]any{"message_router": router, "event_bridge": bridge}
	switch {
	case router && bridge:
		return healthy(details)
	case router || bridge:
		return degraded(details, fmt.Errorf("realtime gateway is missing a capability"))
	default:
		return unhealthy(details, fmt.Errorf("realtime gateway has neither a message router nor an event bridge"))
	}
}

func probeModels(ctx context.Context, v *Validator, handle any) ProbeOutcome {
	catalog, ok := handle.(ModelCatalog)
	if !ok {
		return probeEndpoint(ctx, v, handle)
	}
	models, err := catalog.AvailableModels(ctx)
	if err != nil {
		return unhealthy(nil, fmt.Errorf("list models: %w", err))
	}
	details := map[string]any{"model_count": len(models)}
	if len(models) == 0 {
		return degraded(details, fmt.Errorf("no models available"))
	}
	return healthy(details)
}

// probeEndpoint pings handles that support it and otherwise only checks presence.
func probeEndpoint(ctx context.Context, _ *Validator, handle any) ProbeOutcome {
	p, ok := handle.(Pinger)
	if !ok {
		return healthy(map[string]any{"probe": "presence"})
	}
	if err := p.Ping(ctx); err != nil {
		return unhealthy(map[string]any{"probe": "ping"}, fmt.Errorf("ping: %w", err))
	}
	return healthy(map[string]any{"probe": "ping"})
}
