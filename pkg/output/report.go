// pkg/output/report.go

package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/depcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/depgraph"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/integration"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/orchestrator"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
)

// printer remembers the first write error so renderers can stay linear.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) f(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) table(t *TableWriter) {
	if p.err != nil {
		return
	}
	p.err = t.Render()
}

// RenderStartup prints a startup report: stages, per-service results,
// readiness and any stage errors with their remediation.
func RenderStartup(w io.Writer, s Styles, r *orchestrator.StartupOrchestrationResult) error {
	p := &printer{w: w}
	p.f("%s %s\n", s.Title("Startup"), s.Muted("run "+r.RunID))
	p.f("Result:   %s (%s)\n", s.Verdict(r.Success), r.Duration.Round(time.Millisecond))

	stages := make([]string, 0, len(r.StagesCompleted))
	for _, st := range r.StagesCompleted {
		stages = append(stages, string(st))
	}
	p.f("Stages:   %s\n", joinOrNone(stages))

	if c := r.Containers; c != nil {
		switch {
		case c.ExternallyManaged:
			p.f("Containers: %s\n", s.Muted("externally managed"))
		case c.Report != nil:
			p.f("Containers: %d ready, %d started\n", len(c.Report.Ready), len(c.Report.Started))
		}
	}

	if dv := r.DependencyValidation; dv != nil && len(dv.ServiceResults) > 0 {
		p.f("\n")
		t := NewTableTo(w, s).WithHeaders("Service", "Phase", "Status", "Blocking", "Attempts", "Time", "Error")
		for _, sr := range dv.ServiceResults {
			t.AddRow(
				DisplayName(sr.ServiceType.String()),
				sr.Phase.String(),
				s.Status(sr.Status),
				yesNo(sr.Blocking),
				fmt.Sprintf("%d", sr.Attempts),
				fmt.Sprintf("%.0fms", sr.Health.ResponseTimeMs),
				truncate(sr.Error, 60),
			)
		}
		p.table(t)
	}

	if rd := r.Readiness; rd != nil {
		p.f("Readiness: %d/%d healthy (%.0f%%), %s\n",
			rd.HealthyCount, rd.TotalCount, rd.HealthRatio()*100, s.Verdict(r.Ready))
	}

	for _, warn := range r.Warnings {
		p.f("%s %s\n", s.Warning("warning:"), warn)
	}
	for _, e := range r.Errors {
		p.f("%s %s\n", s.Failure("error:"), e.Error())
		if e.Remediation != "" {
			p.f("  %s %s\n", s.Muted("fix:"), e.Remediation)
		}
	}
	return p.err
}

// RenderStatus prints one line per service in declaration order.
func RenderStatus(w io.Writer, s Styles, summary depcheck.StatusSummary) error {
	p := &printer{w: w}
	services := make([]registry.ServiceType, 0, len(summary.Services))
	for st := range summary.Services {
		services = append(services, st)
	}
	sort.Slice(services, func(i, j int) bool { return services[i] < services[j] })

	t := NewTableTo(w, s).WithHeaders("Service", "Status", "Time", "Error")
	for _, st := range services {
		res := summary.Services[st]
		t.AddRow(
			DisplayName(st.String()),
			s.Status(res.HealthStatus),
			fmt.Sprintf("%.0fms", res.ResponseTimeMs),
			truncate(res.ErrorMessage, 60),
		)
	}
	p.table(t)
	p.f("%d/%d healthy, %d degraded, %d unhealthy\n",
		summary.HealthyCount, summary.TotalCount, summary.DegradedCount, summary.UnhealthyCount)
	return p.err
}

// RenderGraph prints the graph validation and the resolved startup order.
func RenderGraph(w io.Writer, s Styles, v depgraph.GraphValidation, order []depgraph.PhaseGroup) error {
	p := &printer{w: w}
	p.f("%s %s\n", s.Title("Dependency graph"), s.Verdict(v.Valid))
	st := v.Statistics
	p.f("Services: %d  Edges: %d (%d required, %d advisory)  Max depth: %d\n",
		st.TotalServices, st.TotalEdges, st.RequiredEdges, st.AdvisoryEdges, st.MaxDepth)
	p.f("Roots:    %s\n", joinOrNone(serviceNames(v.RootServices)))
	p.f("Orphans:  %s\n", joinOrNone(serviceNames(v.OrphanedServices)))

	if len(order) > 0 {
		p.f("\n%s\n", s.Title("Startup order"))
		for _, g := range order {
			p.f("  %-18s %s\n", g.Phase.String(), strings.Join(serviceNames(g.Services), ", "))
		}
	}
	for _, issue := range v.Issues {
		p.f("%s %s\n", s.Failure("issue:"), issue)
	}
	for _, warn := range v.Warnings {
		p.f("%s %s\n", s.Warning("warning:"), warn)
	}
	return p.err
}

// RenderAnalysis prints the direct, reverse and transitive dependencies of
// one service.
func RenderAnalysis(w io.Writer, s Styles, a *depgraph.DependencyAnalysis) error {
	p := &printer{w: w}
	p.f("%s %s\n", s.Title(DisplayName(a.Service.String())), s.Muted(a.Phase.String()))

	t := NewTableTo(w, s).WithHeaders("Direction", "Service", "Relation")
	for _, d := range a.Direct {
		t.AddRow("depends on", d.Service.String(), d.Relation.String())
	}
	for _, d := range a.Dependents {
		t.AddRow("required by", d.Service.String(), d.Relation.String())
	}
	if len(a.Direct)+len(a.Dependents) > 0 {
		p.table(t)
	}
	p.f("Transitive: %s\n", joinOrNone(serviceNames(a.Transitive)))
	for _, c := range a.Cycles {
		p.f("%s %s\n", s.Failure("cycle:"), depgraph.FormatCycle(c))
	}
	return p.err
}

// RenderRestart prints the outcome of an emergency restart.
func RenderRestart(w io.Writer, s Styles, r integration.RestartResult) error {
	p := &printer{w: w}
	target := DisplayName(r.Service.String())
	if r.Container != "" {
		target += " " + s.Muted("("+r.Container+")")
	}
	p.f("%s %s: %s\n", s.Verdict(r.Success), target, r.Message)
	return p.err
}

func serviceNames(services []registry.ServiceType) []string {
	out := make([]string, 0, len(services))
	for _, st := range services {
		out = append(out, st.String())
	}
	return out
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
