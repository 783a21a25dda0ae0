/* cmd/version.go */

package cmd

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_io"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the horae version",
		Args:  cobra.NoArgs,
		// Skip configuration loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "horae %s\n", horae_io.Version)
			return err
		},
	}
}
