package testutil

import "github.com/CodeMonkeyCybersecurity/horae/pkg/registry"

// BackendSubcomponents mirrors the sub-components the backend probe expects by default.
var BackendSubcomponents = []string{"supervisor", "thread_service", "agent_service", "llm_manager", "tool_dispatcher"}

// HealthyHandles returns a handle for every service type that probes HEALTHY
// and passes every integration check. Convert with healthcheck.HandleMap(...).
func HealthyHandles() map[registry.ServiceType]any {
	cache := &FakeCache{}
	database := &FakeDatabase{TableNames: []string{"users", "threads", "messages"}}
	bridge := &Component{IsReady: true}

	backend := NewReadyBackend(BackendSubcomponents...)
	backend.Bridge = bridge
	backend.Cache = cache
	backend.Database = database

	return map[registry.ServiceType]any{
		registry.ServiceDatabasePostgres: database,
		registry.ServiceRedis:            cache,
		registry.ServiceAuth:             NewWiredAuth(),
		registry.ServiceBackend:          backend,
		registry.ServiceWebsocket:        &FakeRealtime{Router: &Component{IsReady: true}, Bridge: bridge},
		registry.ServiceLLMManager:       &FakeModels{Models: []string{"gpt-4o", "claude"}},
		registry.ServiceFrontend:         &FakePinger{},
		registry.ServiceAnalytics:        &FakePinger{},
	}
}
