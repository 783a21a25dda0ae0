/* cmd/graph.go */

package cmd

import (
	"io"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/depgraph"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_cli"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_err"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_io"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/output"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"github.com/spf13/cobra"
)

type graphReport struct {
	Validation   depgraph.GraphValidation `json:"validation" yaml:"validation"`
	StartupOrder []depgraph.PhaseGroup    `json:"startup_order" yaml:"startup_order"`
}

func newGraphCommand(a *app) *cobra.Command {
	var analyze string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Validate the dependency graph and print the startup order",
		Long: `Checks the declared dependency graph for cycles and phase problems and
prints the phase-ordered startup sequence for the selected services.
With --analyze, prints the dependencies and dependents of one service.`,
		Args: cobra.NoArgs,
		RunE: horae_cli.Wrap(func(rc *horae_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
			resolver, err := depgraph.NewDefaultResolver(rc.Log)
			if err != nil {
				return horae_err.NewStructuralError("invalid dependency graph", err)
			}

			if analyze != "" {
				s, err := registry.ParseServiceType(analyze)
				if err != nil {
					return horae_err.NewStructuralError("invalid --analyze", err)
				}
				analysis, err := resolver.DependencyAnalysis(s)
				if err != nil {
					return horae_err.NewStructuralError("dependency analysis failed", err)
				}
				return render(cmd, analysis, func(w io.Writer, st output.Styles) error {
					return output.RenderAnalysis(w, st, analysis)
				})
			}

			targets, err := a.cfg.ServiceTypes()
			if err != nil {
				return horae_err.NewStructuralError("invalid services", err)
			}
			if len(targets) == 0 {
				targets = resolver.Services()
			}

			report := graphReport{Validation: resolver.ValidateGraph()}
			if report.Validation.Valid {
				report.StartupOrder, err = resolver.ResolveStartupOrder(targets)
				if err != nil {
					return horae_err.NewStructuralError("cannot resolve startup order", err)
				}
			}

			if err := render(cmd, report, func(w io.Writer, st output.Styles) error {
				return output.RenderGraph(w, st, report.Validation, report.StartupOrder)
			}); err != nil {
				return err
			}
			if !report.Validation.Valid {
				return horae_err.NewStructuralError("dependency graph is invalid", nil, report.Validation.Issues...)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&analyze, "analyze", "", "print the dependency analysis of one service")
	return cmd
}
