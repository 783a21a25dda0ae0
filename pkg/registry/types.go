// pkg/registry/types.go
//
// Static service model for the startup engine: service identities, dependency
// relations, scheduling phases and the edge records that bind them.

package registry

import (
	"fmt"
	"strings"

	cerr "github.com/cockroachdb/errors"
)

// ErrUnknownServiceType is returned when an identifier does not name a declared service.
var ErrUnknownServiceType = cerr.New("unknown service type")

// ServiceType identifies a logical platform service.
type ServiceType int

const (
	ServiceDatabasePostgres ServiceType = iota
	ServiceRedis
	ServiceAuth
	ServiceBackend
	ServiceWebsocket
	ServiceLLMManager
	ServiceFrontend
	ServiceAnalytics

	// ServiceCount must stay last; it sizes every per-service dispatch table.
	ServiceCount
)

var serviceTypeNames = [ServiceCount]string{
	ServiceDatabasePostgres: "database_postgres",
	ServiceRedis:            "redis",
	ServiceAuth:             "auth_service",
	ServiceBackend:          "backend_service",
	ServiceWebsocket:        "websocket_service",
	ServiceLLMManager:       "llm_manager",
	ServiceFrontend:         "frontend",
	ServiceAnalytics:        "analytics",
}

// AllServiceTypes returns every declared service type in declaration order.
func AllServiceTypes() []ServiceType {
	out := make([]ServiceType, 0, ServiceCount)
	for s := ServiceType(0); s < ServiceCount; s++ {
		out = append(out, s)
	}
	return out
}

// String returns the stable identifier used for sorting, logging and config.
func (s ServiceType) String() string {
	if s < 0 || s >= ServiceCount {
		return fmt.Sprintf("unknown(%d)", int(s))
	}
	return serviceTypeNames[s]
}

// Valid reports whether s is a declared service type.
func (s ServiceType) Valid() bool {
	return s >= 0 && s < ServiceCount
}

// MarshalText implements encoding.TextMarshaler so maps keyed by ServiceType
// render with readable keys in JSON and YAML.
func (s ServiceType) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, cerr.Wrapf(ErrUnknownServiceType, "service type %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ServiceType) UnmarshalText(text []byte) error {
	parsed, err := ParseServiceType(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseServiceType maps an identifier to its ServiceType. Matching is
// case-insensitive and accepts dashes in place of underscores.
func ParseServiceType(name string) (ServiceType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for i, n := range serviceTypeNames {
		if n == normalized {
			return ServiceType(i), nil
		}
	}
	return 0, cerr.WithHint(
		cerr.Wrapf(ErrUnknownServiceType, "%q", name),
		"valid services: "+strings.Join(serviceTypeNames[:], ", "),
	)
}

// ParseServiceTypes parses a list of identifiers, failing on the first unknown one.
func ParseServiceTypes(names []string) ([]ServiceType, error) {
	out := make([]ServiceType, 0, len(names))
	for _, n := range names {
		s, err := ParseServiceType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// DependencyRelation qualifies an edge between two services.
type DependencyRelation int

const (
	// RelationRequired edges block startup when the dependency fails.
	RelationRequired DependencyRelation = iota
	// RelationOptional edges are checked but never block.
	RelationOptional
	// RelationPreferred edges are checked but never block.
	RelationPreferred
)

func (r DependencyRelation) String() string {
	switch r {
	case RelationRequired:
		return "REQUIRED"
	case RelationOptional:
		return "OPTIONAL"
	case RelationPreferred:
		return "PREFERRED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r DependencyRelation) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Blocking reports whether a failure over this relation blocks startup.
func (r DependencyRelation) Blocking() bool {
	return r == RelationRequired
}

// DependencyPhase is a coarse scheduling lane. Services in one phase may be
// validated concurrently; a phase starts only after every earlier phase.
type DependencyPhase int

const (
	Phase1Core DependencyPhase = iota + 1
	Phase2Auth
	Phase3Backend
	Phase4Frontend
)

// AllPhases returns the phases in execution order.
func AllPhases() []DependencyPhase {
	return []DependencyPhase{Phase1Core, Phase2Auth, Phase3Backend, Phase4Frontend}
}

func (p DependencyPhase) String() string {
	switch p {
	case Phase1Core:
		return "PHASE_1_CORE"
	case Phase2Auth:
		return "PHASE_2_AUTH"
	case Phase3Backend:
		return "PHASE_3_BACKEND"
	case Phase4Frontend:
		return "PHASE_4_FRONTEND"
	default:
		return fmt.Sprintf("PHASE_UNKNOWN(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p DependencyPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Valid reports whether p is one of the declared phases.
func (p DependencyPhase) Valid() bool {
	return p >= Phase1Core && p <= Phase4Frontend
}

// ServiceDependency is one edge record of the static dependency table.
// A record whose Service equals DependsOn only declares phase membership.
type ServiceDependency struct {
	Service   ServiceType        `json:"service" yaml:"service"`
	DependsOn ServiceType        `json:"depends_on" yaml:"depends_on"`
	Relation  DependencyRelation `json:"relation" yaml:"relation"`
	Phase     DependencyPhase    `json:"phase" yaml:"phase"`
}

// IsPhaseDeclaration reports whether the record is a self reference.
func (d ServiceDependency) IsPhaseDeclaration() bool {
	return d.Service == d.DependsOn
}

func (d ServiceDependency) String() string {
	if d.IsPhaseDeclaration() {
		return fmt.Sprintf("%s in %s", d.Service, d.Phase)
	}
	return fmt.Sprintf("%s -> %s (%s, %s)", d.Service, d.DependsOn, d.Relation, d.Phase)
}
