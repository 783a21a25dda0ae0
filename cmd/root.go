/* cmd/root.go */

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/bootstrap"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/config"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_cli"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_err"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_io"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/output"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	v          *viper.Viper
	cfgFile    string
	cfg        *config.Config
	engineOpts []bootstrap.Option
	// initLogging is false in tests, which keep the zaptest logger.
	initLogging bool
}

// NewRootCommand builds the horae command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{v: viper.New(), initLogging: true})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "horae",
		Short: "Dependency-aware startup orchestration for the platform services",
		Long: `horae resolves the service dependency graph, brings stateful containers up,
validates every dependency phase by phase and reports whether the platform is
ready to serve traffic.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		RunE: horae_cli.Wrap(func(rc *horae_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		}),
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ./horae.yaml, then /etc/horae/horae.yaml)")
	cli.AddStringFlag(pf, "environment", "e", "", "deployment environment (development, testing, staging, production)", "environment")
	cli.AddStringSliceFlag(pf, "services", "s", nil, "services to act on (default: all)", "services")
	cli.AddStringFlag(pf, "log-level", "", "", "log level (debug, info, warn, error)", "log.level")
	cli.AddBoolFlag(pf, "telemetry", "", false, "write traces to the local telemetry file", "telemetry.enabled")
	pf.StringP("output", "o", "text", "output format (text, json, yaml)")

	root.AddCommand(
		newStartCommand(a),
		newStatusCommand(a),
		newGraphCommand(a),
		newRestartCommand(a),
		newServeCommand(a),
		newVersionCommand(),
	)
	return root
}

// load binds flags, reads configuration and initialises logging and tracing.
func (a *app) load(cmd *cobra.Command) error {
	if err := cli.BindFlagsToViper(cmd, a.v); err != nil {
		return horae_err.NewInternalError("failed to bind flags", err)
	}
	if _, err := output.ParseFormat(cli.GetStringOrEmpty(cmd, "output")); err != nil {
		return horae_err.NewStructuralError("invalid --output", err)
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.initLogging {
		path := logger.InitializeWithFallback(logger.ParseLogLevel(cfg.Log.Level))
		if err := telemetry.Init("horae", cfg.Telemetry.Enabled); err != nil {
			logger.L().Warn("Telemetry disabled", zap.Error(err))
		}
		logger.L().Debug("Configuration loaded",
			zap.String("config_file", a.v.ConfigFileUsed()),
			zap.String("environment", cfg.Environment),
			zap.String("log_file", path))
	}
	return nil
}

// buildEngine wires the engine for this invocation and closes it when the
// command finishes.
func (a *app) buildEngine(rc *horae_io.RuntimeContext) (*bootstrap.Engine, error) {
	e, err := bootstrap.Build(a.cfg, rc.Log, a.engineOpts...)
	if err != nil {
		return nil, err
	}
	if !horae_cli.RegisterCleanup(rc.Ctx, e.Close) {
		rc.Log.Warn("No cleanup registry on context, engine closes with the process")
	}
	return e, nil
}

// render writes data in the --output format; text uses the given renderer.
func render(cmd *cobra.Command, data any, text func(io.Writer, output.Styles) error) error {
	format, err := output.ParseFormat(cli.GetStringOrEmpty(cmd, "output"))
	if err != nil {
		return horae_err.NewStructuralError("invalid --output", err)
	}
	w := cmd.OutOrStdout()
	return output.Write(w, format, data, func(w io.Writer) error {
		return text(w, output.NewStyles(w))
	})
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	// Console logging until the configuration names a level.
	logger.InitFallback()

	root := NewRootCommand()
	err := root.ExecuteContext(context.Background())
	if err != nil && !horae_err.IsExpectedUserError(err) {
		err = horae_err.Classify("horae", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if shutdownErr := telemetry.Shutdown(ctx); shutdownErr != nil {
		logger.L().Debug("Telemetry shutdown failed", zap.Error(shutdownErr))
	}

	code := horae_err.GetExitCode(err)
	if err != nil {
		if horae_err.IsExpectedUserError(err) {
			logger.L().Warn("CLI completed with user error", zap.Error(err))
		} else {
			logger.L().Error("CLI execution error", zap.Error(err), zap.Int("exit_code", code))
			reportError(os.Stderr, err)
		}
	}
	logger.Sync()
	return code
}

// reportError prints err for a human: classified errors with their fix
// list, anything else with its hints.
func reportError(w io.Writer, err error) {
	var classified *horae_err.ClassifiedError
	if errors.As(err, &classified) {
		fmt.Fprintf(w, "Error: %s\n", classified.Describe())
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	for _, hint := range cerr.GetAllHints(err) {
		fmt.Fprintf(w, "  hint: %s\n", hint)
	}
}
