package host

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/output"
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/provision"
	"github.com/spf13/cobra"
)

func NewCmdHostTest() *cobra.Command {
	return waitsOnJobs(&cobra.Command{
		Use:   "test <server-id>",
		Short: "Test the SSH connection to a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseID("server", args[0])
			if err != nil {
				return utils.Fail("testing connection", err)
			}
			return printConnectionTest(cmd, id)
		},
	})
}

func NewCmdHostInfo() *cobra.Command {
	return waitsOnJobs(&cobra.Command{
		Use:   "info <server-id>",
		Short: "Collect operating system, CPU, memory and Docker facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseID("server", args[0])
			if err != nil {
				return utils.Fail("collecting server info", err)
			}
			info, err := app.GetServerService().CollectInfo(cmd.Context(), utils.Caller(), id)
			if err != nil {
				return utils.Fail("collecting server info", err, "server_id", id)
			}
			out, err := output.PrintTable([]string{}, output.PrintServerInfoRows(info))
			if err != nil {
				return utils.Fail("printing server info", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	})
}

func NewCmdHostConfigure() *cobra.Command {
	opts := provision.DefaultOptions()
	var skipDocker, skipFirewall bool

	cmd := &cobra.Command{
		Use:   "configure <server-id>",
		Short: "Prepare a server for deployments",
		Long: `Create the moor directories and service user, install Docker and configure the
firewall. Every step checks before acting, so running it again is safe.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseID("server", args[0])
			if err != nil {
				return utils.Fail("configuring server", err)
			}
			opts.InstallDocker = !skipDocker
			opts.SetupFirewall = !skipFirewall

			result, err := app.GetProvisioner().Configure(cmd.Context(), utils.Caller(), id, opts)
			if err != nil {
				var cfgErr *provision.ConfigurationError
				if errors.As(err, &cfgErr) {
					printLog(cmd, cfgErr.Log)
				}
				return utils.Fail("configuring server", err, "server_id", id)
			}
			printLog(cmd, result.Log)
			return output.FprintSuccess(cmd, "Server %s configured", id)
		},
	}

	cmd.Flags().BoolVar(&skipDocker, "skip-docker", false, "Do not install Docker")
	cmd.Flags().BoolVar(&skipFirewall, "skip-firewall", false, "Do not configure the firewall")
	return waitsOnJobs(cmd)
}

func printLog(cmd *cobra.Command, log []string) {
	for _, line := range log {
		_ = output.FprintPlain(cmd, "%s", line)
	}
}

func NewCmdHostExec() *cobra.Command {
	var (
		timeout time.Duration
		safe    bool
	)

	cmd := &cobra.Command{
		Use:   "exec <server-id> -- <command>",
		Short: "Run a command on a server",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseID("server", args[0])
			if err != nil {
				return utils.Fail("executing command", err)
			}
			command := strings.Join(args[1:], " ")

			result, err := app.GetServerService().ExecuteCommand(cmd.Context(), utils.Caller(), id, command, timeout, safe)
			if err != nil {
				return utils.Fail("executing command", err, "server_id", id)
			}
			if result.Command != nil {
				if result.Command.Stdout != "" {
					_, _ = cmd.OutOrStdout().Write([]byte(result.Command.Stdout))
				}
				if result.Command.Stderr != "" {
					_, _ = cmd.ErrOrStderr().Write([]byte(result.Command.Stderr))
				}
			}
			if !result.Success {
				if result.Error != "" {
					return utils.Fail("executing command", domain.External("execute_command", result.Error, nil), "server_id", id)
				}
				exitCode := -1
				if result.Command != nil {
					exitCode = result.Command.ExitCode
				}
				if safe {
					return output.FprintWarning(cmd, "Command exited with code %d", exitCode)
				}
				return utils.Fail("executing command", domain.External("execute_command", fmt.Sprintf("command exited with code %d", exitCode), nil), "server_id", id)
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Command timeout (defaults to the SSH command timeout)")
	cmd.Flags().BoolVar(&safe, "safe", false, "Report a failing command as output instead of an error")
	return waitsOnJobs(cmd)
}
