/* cmd/start.go */

package cmd

import (
	"errors"
	"io"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_cli"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_err"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_io"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/orchestrator"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/output"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newStartCommand(a *app) *cobra.Command {
	var goldenPath bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Bring services up in dependency order and validate them",
		Long: `Runs a full startup orchestration: stateful containers first, then every
dependency phase in order, cross-service integration checks and a final
readiness probe. Exits non-zero if any blocking dependency fails.

Examples:
  horae start
  horae start -s backend_service --golden-path
  horae start -e production --timeout 10m -o json`,
		Args: cobra.NoArgs,
		RunE: horae_cli.Wrap(func(rc *horae_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
			e, err := a.buildEngine(rc)
			if err != nil {
				return err
			}

			rc.Log.Info("Starting services",
				zap.String("environment", string(e.Environment)),
				zap.Int("requested", len(e.Targets)),
				zap.Bool("golden_path", goldenPath))

			result, err := e.Orchestrator.OrchestrateStartup(rc.Ctx, e.Handles, orchestrator.Request{
				Services:          e.Targets,
				IncludeGoldenPath: goldenPath,
			})
			if err != nil {
				if errors.Is(err, orchestrator.ErrOrchestrationActive) {
					return horae_err.NewDependencyError("startup already running", err)
				}
				return horae_err.NewStructuralError("cannot resolve startup order", err,
					"Run 'horae graph' to inspect the dependency graph")
			}
			rc.Attributes["run_id"] = result.RunID

			if err := render(cmd, result, func(w io.Writer, s output.Styles) error {
				return output.RenderStartup(w, s, result)
			}); err != nil {
				return err
			}

			if !result.Success {
				return horae_err.NewDependencyError("startup orchestration failed", result.Err(), remediations(result)...)
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&goldenPath, "golden-path", false, "also validate the golden-path services (database, cache, auth, backend)")
	cli.AddStringFlag(cmd.Flags(), "timeout", "", "", "overall orchestration budget, e.g. 5m", "orchestration.timeout")
	cli.AddBoolFlag(cmd.Flags(), "fail-fast", "", false, "stop at the first blocking failure", "orchestration.fail_fast")
	return cmd
}

func remediations(result *orchestrator.StartupOrchestrationResult) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range result.Errors {
		if e.Remediation == "" || seen[e.Remediation] {
			continue
		}
		seen[e.Remediation] = true
		out = append(out, e.Remediation)
	}
	return out
}
