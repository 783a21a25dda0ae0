// pkg/registry/dependencies.go

package registry

// defaultDependencies is the platform's declared boot topology.
var defaultDependencies = []ServiceDependency{
	// Phase 1: stateful infrastructure.
	{Service: ServiceDatabasePostgres, DependsOn: ServiceDatabasePostgres, Relation: RelationRequired, Phase: Phase1Core},
	{Service: ServiceRedis, DependsOn: ServiceRedis, Relation: RelationRequired, Phase: Phase1Core},

	// Phase 2: identity.
	{Service: ServiceAuth, DependsOn: ServiceDatabasePostgres, Relation: RelationRequired, Phase: Phase2Auth},
	{Service: ServiceAuth, DependsOn: ServiceRedis, Relation: RelationPreferred, Phase: Phase2Auth},

	// Phase 3: compute.
	{Service: ServiceBackend, DependsOn: ServiceDatabasePostgres, Relation: RelationRequired, Phase: Phase3Backend},
	{Service: ServiceBackend, DependsOn: ServiceRedis, Relation: RelationRequired, Phase: Phase3Backend},
	{Service: ServiceBackend, DependsOn: ServiceAuth, Relation: RelationPreferred, Phase: Phase3Backend},
	{Service: ServiceLLMManager, DependsOn: ServiceRedis, Relation: RelationOptional, Phase: Phase3Backend},
	{Service: ServiceAnalytics, DependsOn: ServiceDatabasePostgres, Relation: RelationRequired, Phase: Phase3Backend},
	{Service: ServiceAnalytics, DependsOn: ServiceRedis, Relation: RelationOptional, Phase: Phase3Backend},

	// Phase 4: edge.
	{Service: ServiceWebsocket, DependsOn: ServiceBackend, Relation: RelationRequired, Phase: Phase4Frontend},
	{Service: ServiceWebsocket, DependsOn: ServiceAuth, Relation: RelationRequired, Phase: Phase4Frontend},
	{Service: ServiceWebsocket, DependsOn: ServiceRedis, Relation: RelationPreferred, Phase: Phase4Frontend},
	{Service: ServiceFrontend, DependsOn: ServiceBackend, Relation: RelationRequired, Phase: Phase4Frontend},
	{Service: ServiceFrontend, DependsOn: ServiceWebsocket, Relation: RelationPreferred, Phase: Phase4Frontend},
	{Service: ServiceFrontend, DependsOn: ServiceAnalytics, Relation: RelationOptional, Phase: Phase4Frontend},
}

// DefaultDependencies returns a copy of the built-in dependency table.
func DefaultDependencies() []ServiceDependency {
	out := make([]ServiceDependency, len(defaultDependencies))
	copy(out, defaultDependencies)
	return out
}

// GoldenPathServices are the services every user-facing request crosses.
func GoldenPathServices() []ServiceType {
	return []ServiceType{ServiceDatabasePostgres, ServiceRedis, ServiceAuth, ServiceBackend}
}

// IsStatefulInfrastructure reports whether the service is backed by a
// container that can be restarted without application coordination.
func IsStatefulInfrastructure(s ServiceType) bool {
	return s == ServiceDatabasePostgres || s == ServiceRedis
}
