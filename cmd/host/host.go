// Package host provides commands for registering and preparing remote servers.
package host

import (
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/spf13/cobra"
)

func NewCmdHost() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "host",
		Aliases: []string{"hosts"},
		Short:   "Manage remote servers",
	}

	cmd.AddCommand(NewCmdHostAdd())
	cmd.AddCommand(NewCmdHostList())
	cmd.AddCommand(NewCmdHostShow())
	cmd.AddCommand(NewCmdHostTest())
	cmd.AddCommand(NewCmdHostInfo())
	cmd.AddCommand(NewCmdHostConfigure())
	cmd.AddCommand(NewCmdHostExec())
	cmd.AddCommand(NewCmdHostEstimate())
	cmd.AddCommand(NewCmdHostRemove())
	return cmd
}

// waitsOnJobs marks cmd as needing queue workers
func waitsOnJobs(cmd *cobra.Command) *cobra.Command {
	cmd.Annotations = map[string]string{utils.LocalWorkers: "true"}
	return cmd
}
