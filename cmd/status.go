/* cmd/status.go */

package cmd

import (
	"fmt"
	"io"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_cli"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_err"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_io"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/output"
	"github.com/spf13/cobra"
)

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe every service once and print its health",
		Long: `Probes the selected services (and their required dependencies) once,
without retries or container actions. Exits 1 when any service is unhealthy.`,
		Args: cobra.NoArgs,
		RunE: horae_cli.Wrap(func(rc *horae_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
			e, err := a.buildEngine(rc)
			if err != nil {
				return err
			}

			summary := e.Checker.GetServiceStatusSummary(rc.Ctx, e.Handles, e.StatusTargets()...)
			if err := render(cmd, summary, func(w io.Writer, s output.Styles) error {
				return output.RenderStatus(w, s, summary)
			}); err != nil {
				return err
			}

			if summary.UnhealthyCount > 0 {
				return horae_err.NewDependencyError(
					fmt.Sprintf("%d of %d services unhealthy", summary.UnhealthyCount, summary.TotalCount), nil,
					"Run 'horae start' to bring dependencies up",
					"Check connection settings in horae.yaml")
			}
			return nil
		}),
	}
}
