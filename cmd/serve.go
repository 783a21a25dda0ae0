/* cmd/serve.go */

package cmd

import (
	"github.com/CodeMonkeyCybersecurity/horae/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_cli"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_err"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_io"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/httpapi"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/orchestrator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(a *app) *cobra.Command {
	var skipStartup bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run startup orchestration and serve readiness endpoints",
		Long: `Starts the HTTP server (/healthz, /readyz, /status, /graph, /startup) and
runs a startup orchestration in the background. /readyz reports 503 until
the orchestration succeeds and the services still meet the readiness
threshold. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: horae_cli.Wrap(func(rc *horae_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
			e, err := a.buildEngine(rc)
			if err != nil {
				return err
			}
			server := httpapi.NewServer(e, rc.Log.Named("http"))

			g, ctx := errgroup.WithContext(rc.Ctx)
			g.Go(func() error {
				if err := server.ListenAndServe(ctx, a.cfg.HTTP.Listen); err != nil {
					return horae_err.NewNetworkError("HTTP server failed", err,
						"Check that "+a.cfg.HTTP.Listen+" is free, or set http.listen")
				}
				return nil
			})
			if !skipStartup {
				g.Go(func() error {
					result, err := e.Orchestrator.OrchestrateStartup(ctx, e.Handles, orchestrator.Request{Services: e.Targets})
					if err != nil {
						// Keep serving; /readyz stays 503.
						rc.Log.Error("Startup orchestration did not run", zap.Error(err))
						return nil
					}
					server.RecordStartup(result)
					if !result.Success {
						rc.Log.Warn("Startup orchestration failed, readiness stays down", zap.Error(result.Err()))
					}
					return nil
				})
			}
			return g.Wait()
		}),
	}

	cli.AddStringFlag(cmd.Flags(), "listen", "l", "", "listen address for the HTTP server", "http.listen")
	cmd.Flags().BoolVar(&skipStartup, "skip-startup", false, "serve status endpoints without running an orchestration")
	return cmd
}
