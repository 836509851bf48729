// Package worker implements the worker command, which consumes the job queues without serving
// the API.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/oar-cd/moor/config"
	"github.com/oar-cd/moor/domain"
	"github.com/spf13/cobra"
)

func NewCmdWorker() *cobra.Command {
	var withReconciler bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued SSH and deployment jobs",
		Long: `Runs the queue workers until interrupted. Several worker processes can share one Redis
queue; the in-memory queue only serves commands in the same process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, withReconciler)
		},
	}

	cmd.Flags().BoolVar(&withReconciler, "reconciler", false, "Also run the deployment reconciler")
	return cmd
}

func runWorker(ctx context.Context, withReconciler bool) error {
	cfg := app.GetConfig()
	if cfg.QueueBackend != config.QueueBackendRedis {
		slog.Warn("Worker started with the in-memory queue; it will not see jobs from other processes",
			"layer", "worker",
			"queue_backend", cfg.QueueBackend)
	}

	slog.Info("Starting workers",
		"layer", "worker",
		"concurrency", cfg.QueueConcurrency,
		"reconciler", withReconciler)

	err := app.StartBackground(ctx, withReconciler).Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return utils.Fail("running workers", domain.Infrastructure("run_workers", "worker stopped unexpectedly", err))
	}

	slog.Info("Workers stopped", "layer", "worker")
	return nil
}
