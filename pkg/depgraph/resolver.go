// pkg/depgraph/resolver.go
//
// Dependency graph resolution for the startup engine. The graph is built once
// from the static dependency table and is read-only afterwards, so a Resolver
// is safe for concurrent use.

package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

var (
	// ErrCyclicDependency marks a cycle in the REQUIRED subgraph.
	ErrCyclicDependency = cerr.New("cyclic service dependency")
	// ErrUndeclaredService marks a reference to a service with no dependency record.
	ErrUndeclaredService = cerr.New("undeclared service")
	// ErrConflictingPhase marks a service whose records disagree on its phase.
	ErrConflictingPhase = cerr.New("conflicting phase declaration")
	// ErrInvalidPhase marks a record carrying an undeclared phase.
	ErrInvalidPhase = cerr.New("invalid dependency phase")
	// ErrConflictingRelation marks two records for one edge with different relations.
	ErrConflictingRelation = cerr.New("conflicting dependency relation")
)

// CycleError reports every cycle found during resolution.
type CycleError struct {
	Cycles [][]registry.ServiceType
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		parts = append(parts, FormatCycle(c))
	}
	return fmt.Sprintf("%s: %s", ErrCyclicDependency.Error(), strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrCyclicDependency.
func (e *CycleError) Unwrap() error { return ErrCyclicDependency }

// FormatCycle renders a cycle path as "a -> b -> a".
func FormatCycle(cycle []registry.ServiceType) string {
	names := make([]string, len(cycle))
	for i, s := range cycle {
		names[i] = s.String()
	}
	return strings.Join(names, " -> ")
}

type edge struct {
	to       registry.ServiceType
	relation registry.DependencyRelation
}

// Resolver answers ordering and introspection questions about the dependency graph.
type Resolver struct {
	phases     map[registry.ServiceType]registry.DependencyPhase
	edges      map[registry.ServiceType][]edge
	dependents map[registry.ServiceType][]edge
	logger     *zap.Logger
}

// PhaseGroup is the ordered set of services scheduled in one phase.
type PhaseGroup struct {
	Phase    registry.DependencyPhase `json:"phase" yaml:"phase"`
	Services []registry.ServiceType   `json:"services" yaml:"services"`
}

// NewResolver builds the graph from deps. Self records only assign phases and
// never become edges. Repeating an identical record is harmless. Malformed
// tables (undeclared targets, conflicting or invalid phases, one edge declared
// with two relations) are structural errors.
func NewResolver(deps []registry.ServiceDependency, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		phases:     make(map[registry.ServiceType]registry.DependencyPhase),
		edges:      make(map[registry.ServiceType][]edge),
		dependents: make(map[registry.ServiceType][]edge),
		logger:     logger,
	}

	// Pass 1: phase membership.
	for _, d := range deps {
		if !d.Phase.Valid() {
			return nil, cerr.WithHint(
				cerr.Wrapf(ErrInvalidPhase, "record %s", d),
				"phases run from PHASE_1_CORE to PHASE_4_FRONTEND",
			)
		}
		if existing, ok := r.phases[d.Service]; ok && existing != d.Phase {
			return nil, cerr.WithHintf(
				cerr.Wrapf(ErrConflictingPhase, "%s declared in %s and %s", d.Service, existing, d.Phase),
				"every record for %s must carry the same phase", d.Service,
			)
		}
		r.phases[d.Service] = d.Phase
	}

	// Pass 2: edges. A target must itself be declared so it has a phase.
	for _, d := range deps {
		if d.IsPhaseDeclaration() {
			continue
		}
		if _, ok := r.phases[d.DependsOn]; !ok {
			return nil, cerr.WithHintf(
				cerr.Wrapf(ErrUndeclaredService, "%s depends on %s", d.Service, d.DependsOn),
				"add a phase record for %s", d.DependsOn,
			)
		}
		if existing, ok := r.RelationBetween(d.Service, d.DependsOn); ok {
			if existing != d.Relation {
				return nil, cerr.WithHintf(
					cerr.Wrapf(ErrConflictingRelation, "%s -> %s declared %s and %s", d.Service, d.DependsOn, existing, d.Relation),
					"keep a single record for %s -> %s", d.Service, d.DependsOn,
				)
			}
			continue
		}
		r.edges[d.Service] = append(r.edges[d.Service], edge{to: d.DependsOn, relation: d.Relation})
		r.dependents[d.DependsOn] = append(r.dependents[d.DependsOn], edge{to: d.Service, relation: d.Relation})
	}

	for s := range r.edges {
		sortEdges(r.edges[s])
	}
	for s := range r.dependents {
		sortEdges(r.dependents[s])
	}

	logger.Debug("Dependency graph built",
		zap.Int("services", len(r.phases)),
		zap.Int("records", len(deps)))
	return r, nil
}

// NewDefaultResolver builds a resolver over the built-in dependency table.
func NewDefaultResolver(logger *zap.Logger) (*Resolver, error) {
	return NewResolver(registry.DefaultDependencies(), logger)
}

// Phase returns the declared phase of s.
func (r *Resolver) Phase(s registry.ServiceType) (registry.DependencyPhase, bool) {
	p, ok := r.phases[s]
	return p, ok
}

// Services returns every declared service sorted by identifier.
func (r *Resolver) Services() []registry.ServiceType {
	out := make([]registry.ServiceType, 0, len(r.phases))
	for s := range r.phases {
		out = append(out, s)
	}
	sortServices(out)
	return out
}

// RelationBetween returns the relation of the edge from -> to, if declared.
func (r *Resolver) RelationBetween(from, to registry.ServiceType) (registry.DependencyRelation, bool) {
	for _, e := range r.edges[from] {
		if e.to == to {
			return e.relation, true
		}
	}
	return 0, false
}

// ResolveStartupOrder expands services with their transitive REQUIRED
// dependencies, rejects cycles, and groups the result by phase. Services
// inside a phase are sorted by identifier so ordering is reproducible.
func (r *Resolver) ResolveStartupOrder(services []registry.ServiceType) ([]PhaseGroup, error) {
	for _, s := range services {
		if _, ok := r.phases[s]; !ok {
			return nil, cerr.WithHintf(
				cerr.Wrapf(ErrUndeclaredService, "requested service %s", s),
				"declared services: %s", joinServices(r.Services()),
			)
		}
	}

	expanded := r.RequiredClosure(services)

	if cycles := r.findCycles(expanded); len(cycles) > 0 {
		r.logger.Error("Startup order rejected: cyclic dependencies",
			zap.Int("cycle_count", len(cycles)),
			zap.String("first_cycle", FormatCycle(cycles[0])))
		return nil, cerr.WithHint(&CycleError{Cycles: cycles},
			"break the cycle by downgrading one REQUIRED edge to OPTIONAL or PREFERRED")
	}

	byPhase := make(map[registry.DependencyPhase][]registry.ServiceType)
	for _, s := range expanded {
		byPhase[r.phases[s]] = append(byPhase[r.phases[s]], s)
	}

	var groups []PhaseGroup
	for _, p := range registry.AllPhases() {
		members := byPhase[p]
		if len(members) == 0 {
			continue
		}
		sortServices(members)
		groups = append(groups, PhaseGroup{Phase: p, Services: members})
	}

	r.logger.Debug("Startup order resolved",
		zap.Int("requested", len(services)),
		zap.Int("resolved", len(expanded)),
		zap.Int("phases", len(groups)))
	return groups, nil
}

// StartupSequence flattens phase groups into a single ordered list.
func StartupSequence(groups []PhaseGroup) []registry.ServiceType {
	var out []registry.ServiceType
	for _, g := range groups {
		out = append(out, g.Services...)
	}
	return out
}

// RequiredClosure returns services plus every service reachable from them over
// REQUIRED edges, found breadth-first. The result is sorted by identifier.
func (r *Resolver) RequiredClosure(services []registry.ServiceType) []registry.ServiceType {
	seen := make(map[registry.ServiceType]bool, len(services))
	queue := make([]registry.ServiceType, 0, len(services))
	for _, s := range services {
		if !seen[s] {
			seen[s] = true
			queue = append(queue, s)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range r.edges[current] {
			if e.relation != registry.RelationRequired || seen[e.to] {
				continue
			}
			seen[e.to] = true
			queue = append(queue, e.to)
		}
	}

	out := make([]registry.ServiceType, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sortServices(out)
	return out
}

// AdvisoryDependencies returns OPTIONAL and PREFERRED dependencies of the
// resolved set that are not already part of it. They are checked during
// validation but never force inclusion.
func (r *Resolver) AdvisoryDependencies(resolved []registry.ServiceType) []registry.ServiceType {
	in := make(map[registry.ServiceType]bool, len(resolved))
	for _, s := range resolved {
		in[s] = true
	}
	extra := make(map[registry.ServiceType]bool)
	for _, s := range resolved {
		for _, e := range r.edges[s] {
			if e.relation.Blocking() || in[e.to] {
				continue
			}
			extra[e.to] = true
		}
	}
	out := make([]registry.ServiceType, 0, len(extra))
	for s := range extra {
		out = append(out, s)
	}
	sortServices(out)
	return out
}

// findCycles runs a depth-first search with a recursion stack over the REQUIRED
// subgraph restricted to nodes. A node met again while still on the stack
// closes a cycle; the cycle is the stack slice from its first occurrence.
func (r *Resolver) findCycles(nodes []registry.ServiceType) [][]registry.ServiceType {
	allowed := make(map[registry.ServiceType]bool, len(nodes))
	for _, n := range nodes {
		allowed[n] = true
	}

	visited := make(map[registry.ServiceType]bool)
	onStack := make(map[registry.ServiceType]bool)
	var stack []registry.ServiceType
	var cycles [][]registry.ServiceType
	seenCycle := make(map[string]bool)

	var visit func(s registry.ServiceType)
	visit = func(s registry.ServiceType) {
		visited[s] = true
		onStack[s] = true
		stack = append(stack, s)

		for _, e := range r.edges[s] {
			if e.relation != registry.RelationRequired || !allowed[e.to] {
				continue
			}
			if onStack[e.to] {
				start := indexOf(stack, e.to)
				cycle := append(append([]registry.ServiceType{}, stack[start:]...), e.to)
				key := canonicalCycleKey(cycle)
				if !seenCycle[key] {
					seenCycle[key] = true
					cycles = append(cycles, cycle)
				}
				continue
			}
			if !visited[e.to] {
				visit(e.to)
			}
		}

		stack = stack[:len(stack)-1]
		onStack[s] = false
	}

	sorted := append([]registry.ServiceType{}, nodes...)
	sortServices(sorted)
	for _, n := range sorted {
		if !visited[n] {
			visit(n)
		}
	}
	return cycles
}

func indexOf(stack []registry.ServiceType, s registry.ServiceType) int {
	for i, v := range stack {
		if v == s {
			return i
		}
	}
	return 0
}

// canonicalCycleKey rotates the open cycle so its smallest identifier comes
// first; the same loop found from different entry points dedupes.
func canonicalCycleKey(cycle []registry.ServiceType) string {
	open := cycle[:len(cycle)-1]
	minIdx := 0
	for i, s := range open {
		if s.String() < open[minIdx].String() {
			minIdx = i
		}
	}
	names := make([]string, 0, len(open))
	for i := range open {
		names = append(names, open[(minIdx+i)%len(open)].String())
	}
	return strings.Join(names, ",")
}

func sortServices(s []registry.ServiceType) {
	sort.Slice(s, func(i, j int) bool { return s[i].String() < s[j].String() })
}

func sortEdges(e []edge) {
	sort.Slice(e, func(i, j int) bool { return e[i].to.String() < e[j].to.String() })
}

func joinServices(s []registry.ServiceType) string {
	names := make([]string, len(s))
	for i, v := range s {
		names[i] = v.String()
	}
	return strings.Join(names, ", ")
}
