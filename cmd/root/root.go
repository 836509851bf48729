// Package root implements the command line interface for moor.
package root

import (
	"context"
	"fmt"
	"os"

	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/deploy"
	"github.com/oar-cd/moor/cmd/host"
	"github.com/oar-cd/moor/cmd/keys"
	"github.com/oar-cd/moor/cmd/output"
	"github.com/oar-cd/moor/cmd/server"
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/oar-cd/moor/cmd/version"
	"github.com/oar-cd/moor/cmd/worker"
	"github.com/oar-cd/moor/config"
	"github.com/oar-cd/moor/logging"
	"github.com/spf13/cobra"
)

// SkipInit marks commands that run without configuration or a database
const SkipInit = "moor/skip-init"

var stopLocalWorkers = func() {}

func Execute() {
	err := NewCmdRoot().Execute()
	stopLocalWorkers()
	app.Shutdown()
	if err != nil {
		utils.HandleCommandError(err)
	}
}

func NewCmdRoot() *cobra.Command {
	var (
		configPath string
		dataDir    string
	)

	cmd := &cobra.Command{
		Use:   "moor",
		Short: "Provision servers and deploy generated projects over SSH",
		Long: `Moor registers remote hosts, prepares them for Docker workloads and rolls out
generated multi-service projects to them through a durable job queue.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[SkipInit] == "true" {
				return nil
			}
			cfg, err := config.NewConfigForCLI(configPath, dataDir)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			return initialize(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	cmd.PersistentFlags().
		StringVarP(&dataDir, "data-dir", "d", "", "Data directory for the moor database and generated projects")
	cmd.PersistentFlags().VarP(logging.LogLevel, "log-level", "l", "Set log verbosity level")
	cmd.PersistentFlags().VarP(output.NoColor, "no-color", "c", "Disable colored terminal output")

	cmd.AddCommand(host.NewCmdHost())
	cmd.AddCommand(deploy.NewCmdDeploy())
	cmd.AddCommand(keys.NewCmdKeys())
	cmd.AddCommand(server.NewCmdServer())
	cmd.AddCommand(worker.NewCmdWorker())

	versionCmd := version.NewCmdVersion()
	versionCmd.Annotations = map[string]string{SkipInit: "true"}
	cmd.AddCommand(versionCmd)
	return cmd
}

// initialize sets up colors, logging and the application, then starts in-process workers
// for commands that wait on jobs when the queue lives in memory
func initialize(cmd *cobra.Command, cfg *config.Config) error {
	colorDisabled := !cfg.ColorEnabled
	if output.NoColor.IsSet() {
		colorDisabled = true
	}
	output.InitColors(colorDisabled)

	logLevel := cfg.LogLevel
	if logging.LogLevel.IsSet() {
		logLevel = logging.LogLevel.String()
	}
	logging.InitLoggingTo(os.Stderr, logLevel, cfg.LogFormat)

	if err := app.InitializeWithConfig(cfg); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if cfg.QueueBackend == config.QueueBackendMemory && cmd.Annotations[utils.LocalWorkers] == "true" {
		ctx, cancel := context.WithCancel(context.Background())
		group := app.StartBackground(ctx, false)
		stopLocalWorkers = func() {
			cancel()
			_ = group.Wait()
		}
	}
	return nil
}
