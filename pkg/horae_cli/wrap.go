// pkg/horae_cli/wrap.go

package horae_cli

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_err"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_io"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/logger"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Wrap ensures panic recovery, telemetry, logging, signal handling and cleanup
func Wrap(fn func(rc *horae_io.RuntimeContext, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {

		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		handler := NewSignalHandler(parent)

		rc := horae_io.NewContext(handler.Context(), cmd.Name())
		defer rc.End(&err)

		defer func() {
			if cleanupErr := handler.Stop(); cleanupErr != nil {
				rc.Log.Warn("Cleanup completed with errors", zap.Error(cleanupErr))
			}
			if err != nil && handler.Interrupted() && !horae_err.IsExpectedUserError(err) {
				err = cerr.WithSecondaryError(horae_err.NewUserCancelledError(cmd.Name()), err)
			}
		}()

		// Panic recovery
		defer func() {
			if r := recover(); r != nil {
				err = horae_err.NewInternalError("panic recovered", cerr.AssertionFailedf("panic: %v", r))
				rc.Log.Error("Panic recovered", zap.Any("panic", r))
			}
		}()

		rc.Log.Debug("Command starting", zap.Strings("args", args))

		err = fn(rc, cmd, args)
		if err != nil && !horae_err.IsExpectedUserError(err) {
			err = cerr.WithStack(err)
		}
		return err
	}
}
