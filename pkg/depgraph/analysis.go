// pkg/depgraph/analysis.go

package depgraph

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// GraphStatistics summarises the declared graph.
type GraphStatistics struct {
	TotalServices    int                               `json:"total_services" yaml:"total_services"`
	TotalEdges       int                               `json:"total_edges" yaml:"total_edges"`
	RequiredEdges    int                               `json:"required_edges" yaml:"required_edges"`
	AdvisoryEdges    int                               `json:"advisory_edges" yaml:"advisory_edges"`
	ServicesPerPhase map[registry.DependencyPhase]int `json:"services_per_phase" yaml:"services_per_phase"`
	MaxDepth         int                               `json:"max_depth" yaml:"max_depth"`
}

// GraphValidation is the outcome of ValidateGraph. Valid is false iff the
// REQUIRED subgraph contains a cycle.
type GraphValidation struct {
	Valid            bool                     `json:"valid" yaml:"valid"`
	Issues           []string                 `json:"issues" yaml:"issues"`
	Warnings         []string                 `json:"warnings" yaml:"warnings"`
	RootServices     []registry.ServiceType   `json:"root_services" yaml:"root_services"`
	OrphanedServices []registry.ServiceType   `json:"orphaned_services" yaml:"orphaned_services"`
	Cycles           [][]registry.ServiceType `json:"cycles,omitempty" yaml:"cycles,omitempty"`
	Statistics       GraphStatistics          `json:"statistics" yaml:"statistics"`
}

// ValidateGraph checks every declared service, not only a requested subset.
// Root services (no dependencies) are informational; orphans (no dependencies
// and no dependents) and phase inversions are warnings; cycles are issues.
func (r *Resolver) ValidateGraph() GraphValidation {
	services := r.Services()
	result := GraphValidation{
		Valid:    true,
		Issues:   []string{},
		Warnings: []string{},
		Statistics: GraphStatistics{
			TotalServices:    len(services),
			ServicesPerPhase: make(map[registry.DependencyPhase]int),
		},
	}

	for _, s := range services {
		result.Statistics.ServicesPerPhase[r.phases[s]]++
		for _, e := range r.edges[s] {
			result.Statistics.TotalEdges++
			if e.relation == registry.RelationRequired {
				result.Statistics.RequiredEdges++
				if r.phases[e.to] > r.phases[s] {
					result.Warnings = append(result.Warnings, fmt.Sprintf(
						"phase inversion: %s (%s) requires %s which starts later in %s",
						s, r.phases[s], e.to, r.phases[e.to]))
				}
			} else {
				result.Statistics.AdvisoryEdges++
			}
		}

		hasDeps := len(r.edges[s]) > 0
		hasDependents := len(r.dependents[s]) > 0
		if !hasDeps {
			result.RootServices = append(result.RootServices, s)
		}
		if !hasDeps && !hasDependents {
			result.OrphanedServices = append(result.OrphanedServices, s)
			result.Warnings = append(result.Warnings, fmt.Sprintf("orphaned service: %s has no dependencies and no dependents", s))
		}
	}

	if cycles := r.findCycles(services); len(cycles) > 0 {
		result.Valid = false
		result.Cycles = cycles
		for _, c := range cycles {
			result.Issues = append(result.Issues, "circular dependency: "+FormatCycle(c))
		}
	} else {
		result.Statistics.MaxDepth = r.maxDepth(services)
	}

	r.logger.Debug("Dependency graph validated",
		zap.Bool("valid", result.Valid),
		zap.Int("issues", len(result.Issues)),
		zap.Int("warnings", len(result.Warnings)))
	return result
}

// maxDepth returns the longest REQUIRED chain length. Only call on an acyclic graph.
func (r *Resolver) maxDepth(services []registry.ServiceType) int {
	memo := make(map[registry.ServiceType]int, len(services))
	var depth func(s registry.ServiceType) int
	depth = func(s registry.ServiceType) int {
		if d, ok := memo[s]; ok {
			return d
		}
		best := 0
		for _, e := range r.edges[s] {
			if e.relation != registry.RelationRequired {
				continue
			}
			if d := depth(e.to) + 1; d > best {
				best = d
			}
		}
		memo[s] = best
		return best
	}
	max := 0
	for _, s := range services {
		if d := depth(s); d > max {
			max = d
		}
	}
	return max
}

// DependencyRef is one side of an edge seen from a given service.
type DependencyRef struct {
	Service  registry.ServiceType        `json:"service" yaml:"service"`
	Relation registry.DependencyRelation `json:"relation" yaml:"relation"`
}

// DependencyAnalysis is read-only introspection of a single service.
type DependencyAnalysis struct {
	Service    registry.ServiceType     `json:"service" yaml:"service"`
	Phase      registry.DependencyPhase `json:"phase" yaml:"phase"`
	Direct     []DependencyRef          `json:"direct_dependencies" yaml:"direct_dependencies"`
	Dependents []DependencyRef          `json:"dependents" yaml:"dependents"`
	Transitive []registry.ServiceType   `json:"transitive_dependencies" yaml:"transitive_dependencies"`
	Cycles     [][]registry.ServiceType `json:"cycles,omitempty" yaml:"cycles,omitempty"`
}

// DependencyAnalysis reports direct dependencies, dependents, transitive
// dependencies over every relation, and the cycles that pass through s.
func (r *Resolver) DependencyAnalysis(s registry.ServiceType) (*DependencyAnalysis, error) {
	phase, ok := r.phases[s]
	if !ok {
		return nil, cerr.Wrapf(ErrUndeclaredService, "analysis of %s", s)
	}

	a := &DependencyAnalysis{
		Service:    s,
		Phase:      phase,
		Direct:     []DependencyRef{},
		Dependents: []DependencyRef{},
		Transitive: []registry.ServiceType{},
	}
	for _, e := range r.edges[s] {
		a.Direct = append(a.Direct, DependencyRef{Service: e.to, Relation: e.relation})
	}
	for _, e := range r.dependents[s] {
		a.Dependents = append(a.Dependents, DependencyRef{Service: e.to, Relation: e.relation})
	}

	seen := map[registry.ServiceType]bool{s: true}
	queue := []registry.ServiceType{s}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range r.edges[current] {
			if seen[e.to] {
				continue
			}
			seen[e.to] = true
			a.Transitive = append(a.Transitive, e.to)
			queue = append(queue, e.to)
		}
	}
	sortServices(a.Transitive)

	for _, c := range r.findCycles(r.Services()) {
		for _, member := range c {
			if member == s {
				a.Cycles = append(a.Cycles, c)
				break
			}
		}
	}
	return a, nil
}
