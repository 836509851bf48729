// Package version provides the version command for moor.
package version

import (
	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/output"
	"github.com/spf13/cobra"
)

// NewCmdVersion creates the version command
func NewCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version information for moor.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return output.FprintPlain(cmd, "%s", app.Version)
		},
	}
}
