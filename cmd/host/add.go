package host

import (
	"os"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/output"
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/oar-cd/moor/servers"
	"github.com/spf13/cobra"
)

func NewCmdHostAdd() *cobra.Command {
	var (
		in        servers.RegisterServerInput
		keyFile   string
		clusterID string
		test      bool
	)

	cmd := &cobra.Command{
		Use:   "add <host>",
		Short: "Register a remote server",
		Long: `Register a server reachable over SSH. Credentials are encrypted before they are stored.

Either --key-file or --password is required. With --test the connection is checked right away
and the server status reflects the outcome.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Host = args[0]
			if keyFile != "" {
				key, err := os.ReadFile(keyFile)
				if err != nil {
					return utils.Fail("reading private key", err, "path", keyFile)
				}
				in.PrivateKey = string(key)
			}
			if clusterID != "" {
				id, err := utils.ParseID("cluster", clusterID)
				if err != nil {
					return utils.Fail("registering server", err)
				}
				in.ClusterID = &id
			}
			return runHostAdd(cmd, in, test)
		},
	}

	cmd.Flags().StringVarP(&in.Name, "name", "n", "", "Display name (defaults to the host)")
	cmd.Flags().IntVarP(&in.Port, "port", "p", 22, "SSH port")
	cmd.Flags().StringVarP(&in.Username, "user", "u", "root", "SSH user")
	cmd.Flags().StringVarP(&keyFile, "key-file", "i", "", "Path to the SSH private key")
	cmd.Flags().StringVar(&in.Password, "password", "", "SSH password")
	cmd.Flags().StringVar(&clusterID, "cluster", "", "Cluster the server belongs to")
	cmd.Flags().BoolVar(&test, "test", false, "Test the connection after registering")
	return waitsOnJobs(cmd)
}

func runHostAdd(cmd *cobra.Command, in servers.RegisterServerInput, test bool) error {
	caller := utils.Caller()
	service := app.GetServerService()

	server, err := service.Register(cmd.Context(), caller, in)
	if err != nil {
		return utils.Fail("registering server", err, "host", in.Host)
	}
	if err := output.FprintSuccess(cmd, "Server '%s' registered with ID %s", server.Name, server.ID); err != nil {
		return err
	}

	if test {
		if err := printConnectionTest(cmd, server.ID); err != nil {
			return err
		}
		if server, err = service.Get(cmd.Context(), caller, server.ID); err != nil {
			return utils.Fail("loading server", err)
		}
	}

	out, err := output.PrintServerDetails(server)
	if err != nil {
		return utils.Fail("printing server details", err)
	}
	return output.FprintPlain(cmd, "%s", out)
}

func printConnectionTest(cmd *cobra.Command, id uuid.UUID) error {
	outcome, err := app.GetServerService().TestConnection(cmd.Context(), utils.Caller(), id)
	if err != nil {
		return utils.Fail("testing connection", err, "server_id", id)
	}
	if !outcome.Connected {
		return output.FprintWarning(cmd, "Connection failed: %s", outcome.ErrorMessage)
	}
	docker := "Docker is not available"
	if outcome.DockerAvailable {
		docker = "Docker is available"
	}
	return output.FprintSuccess(cmd, "Connected. %s", docker)
}
