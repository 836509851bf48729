// Package server implements the server command, running the HTTP API together with the queue
// workers and the deployment reconciler.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/oar-cd/moor/api"
	"github.com/oar-cd/moor/app"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// NewCmdServer creates a command to run the API, the workers and the reconciler
func NewCmdServer() *cobra.Command {
	var withWorkers bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the moor API server",
		Long: `Starts the HTTP API. Unless --workers=false is given, the queue workers and the deployment
reconciler run in the same process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			go handleShutdown(ctx, cancel)
			return runServer(ctx, withWorkers)
		},
	}

	cmd.Flags().BoolVar(&withWorkers, "workers", true, "Run queue workers and the reconciler in this process")
	return cmd
}

func runServer(ctx context.Context, withWorkers bool) error {
	cfg := app.GetConfig()
	address := net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.HTTPPort))

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var background *errgroup.Group
	if withWorkers {
		background = app.StartBackground(ctx, true)
	}

	slog.Info("Starting moor server",
		"layer", "server",
		"address", address,
		"version", app.Version,
		"queue_backend", cfg.QueueBackend,
		"workers", withWorkers)

	err = serve(ctx, listener, api.NewRouter(app.Services()))
	cancel()

	if background != nil {
		if werr := background.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
			slog.Error("Background services failed", "layer", "server", "error", werr)
			err = errors.Join(err, werr)
		}
	}
	return err
}

// serve runs the HTTP server on listener until ctx ends, then shuts it down gracefully
func serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API listening", "layer", "server", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down web server", "layer", "server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown failed: %w", err)
	}

	slog.Info("Web server stopped", "layer", "server")
	return nil
}

// handleShutdown cancels on SIGINT or SIGTERM
func handleShutdown(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		slog.Info("Shutdown signal received", "layer", "server")
		cancel()
	case <-ctx.Done():
	}
}
