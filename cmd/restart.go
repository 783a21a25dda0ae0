/* cmd/restart.go */

package cmd

import (
	"io"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_cli"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_err"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_io"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/output"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRestartCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <service>",
		Short: "Emergency restart of a stateful service container",
		Long: `Restarts the container backing a stateful service (database_postgres or
redis) through the Docker coordinator. Other services are not restarted.`,
		Args: cobra.ExactArgs(1),
		RunE: horae_cli.Wrap(func(rc *horae_io.RuntimeContext, cmd *cobra.Command, args []string) error {
			s, err := registry.ParseServiceType(args[0])
			if err != nil {
				return horae_err.NewStructuralError("invalid service", err)
			}
			e, err := a.buildEngine(rc)
			if err != nil {
				return err
			}

			rc.Log.Warn("Emergency restart requested", zap.String("service", s.String()))
			result := e.Orchestrator.EmergencyServiceRestart(rc.Ctx, s)
			if err := render(cmd, result, func(w io.Writer, st output.Styles) error {
				return output.RenderRestart(w, st, result)
			}); err != nil {
				return err
			}

			if !result.Success {
				return horae_err.NewDependencyError("restart of "+s.String()+" failed: "+result.Message, nil,
					"Enable docker.enabled and check docker.containers in horae.yaml")
			}
			return nil
		}),
	}
}
