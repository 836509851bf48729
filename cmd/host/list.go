package host

import (
	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/output"
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/spf13/cobra"
)

func NewCmdHostList() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := app.GetServerService().List(cmd.Context(), utils.Caller())
			if err != nil {
				return utils.Fail("listing servers", err)
			}
			out, err := output.PrintServerList(list)
			if err != nil {
				return utils.Fail("printing server list", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}
}

func NewCmdHostShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show <server-id>",
		Short: "Show server details and last collected facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseID("server", args[0])
			if err != nil {
				return utils.Fail("showing server", err)
			}
			server, err := app.GetServerService().Get(cmd.Context(), utils.Caller(), id)
			if err != nil {
				return utils.Fail("showing server", err, "server_id", id)
			}
			out, err := output.PrintServerDetails(server)
			if err != nil {
				return utils.Fail("printing server details", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}
}

func NewCmdHostRemove() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <server-id>",
		Short: "Remove a registered server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseID("server", args[0])
			if err != nil {
				return utils.Fail("removing server", err)
			}
			if err := app.GetServerService().Delete(cmd.Context(), utils.Caller(), id); err != nil {
				return utils.Fail("removing server", err, "server_id", id)
			}
			return output.FprintSuccess(cmd, "Server %s removed", id)
		},
	}
}
