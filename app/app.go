// Package app provides the main application context for moor, wiring the database, the job
// queue, the workers and the services.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/oar-cd/moor/access"
	"github.com/oar-cd/moor/agent"
	"github.com/oar-cd/moor/api"
	"github.com/oar-cd/moor/codegen"
	"github.com/oar-cd/moor/config"
	"github.com/oar-cd/moor/db"
	"github.com/oar-cd/moor/deploy"
	"github.com/oar-cd/moor/encryption"
	"github.com/oar-cd/moor/inventory"
	"github.com/oar-cd/moor/provision"
	"github.com/oar-cd/moor/queue"
	"github.com/oar-cd/moor/repository"
	"github.com/oar-cd/moor/servers"
	"github.com/oar-cd/moor/sshexec"
	"github.com/oar-cd/moor/sshjobs"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// Version is set at build time via -ldflags
	Version = "dev"

	appConfig *config.Config
	database  *gorm.DB
	broker    queue.Broker
	jobClient *queue.Client

	sshProcessor    *sshjobs.Processor
	deployProcessor *deploy.Processor
	reconciler      *deploy.Reconciler

	serverService     api.ServerService
	provisioner       api.Provisioner
	deploymentService api.DeploymentService
	keyRotator        *servers.KeyRotator
)

// InitializeWithConfig initializes the app with a pre-configured Config
func InitializeWithConfig(cfg *config.Config) error {
	var err error

	appConfig = cfg

	if err := os.MkdirAll(appConfig.DataDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(appConfig.CodegenRoot, 0o755); err != nil {
		return err
	}

	database, err = db.InitDB(appConfig.DatabasePath)
	if err != nil {
		return err
	}

	vault, err := encryption.NewVault(appConfig.EncryptionKey, appConfig.IsProduction())
	if err != nil {
		return err
	}

	broker, err = newBroker(appConfig)
	if err != nil {
		return err
	}
	jobClient = queue.NewClient(broker, appConfig.JobPollInterval)

	// Repositories
	serverRepo := repository.NewServerRepository(database)
	clusterRepo := repository.NewClusterRepository(database)
	store := repository.NewDeploymentStore(database)

	policy := access.NewOwnerPolicy(serverRepo, clusterRepo, store.Deployments)
	lookup := inventory.NewLookup(serverRepo, clusterRepo)

	// SSH jobs
	executor := sshexec.NewExecutor(sshexec.Options{
		ConnectTimeout: appConfig.SSHConnectTimeout,
		CommandTimeout: appConfig.SSHCommandTimeout,
		KnownHostsPath: appConfig.SSHKnownHosts,
	})
	sshProcessor = sshjobs.NewProcessor(serverRepo, vault, executor, nil)
	sshClient := sshjobs.NewClient(jobClient, vault, appConfig.JobWaitTimeout)

	// Services
	serverService = servers.NewService(serverRepo, vault, sshClient, policy, appConfig.MaxServersPerOwner)
	provisioner = provision.NewWorkflow(sshClient, serverRepo, policy)
	keyRotator = servers.NewKeyRotator(serverRepo)

	runner := agent.NewComposeAgent(sshClient, lookup)
	deploymentService = deploy.NewOrchestrator(deploy.Collaborators{
		Store:          store,
		Infrastructure: lookup,
		Codegen:        codegen.NewDirectorySource(appConfig.CodegenRoot),
		Agent:          runner,
		Access:         policy,
		Jobs:           jobClient,
	}, appConfig.MaxDeploymentsPerProject)
	deployProcessor = deploy.NewProcessor(store, runner)
	reconciler = deploy.NewReconciler(store, jobClient, appConfig.ReconcilerInterval)

	slog.Debug("Application initialized",
		"layer", "app",
		"queue_backend", appConfig.QueueBackend,
		"database", appConfig.DatabasePath)
	return nil
}

func newBroker(cfg *config.Config) (queue.Broker, error) {
	switch cfg.QueueBackend {
	case config.QueueBackendRedis:
		client, err := queue.DialRedis(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return queue.NewRedisBroker(client, cfg.QueuePrefix, cfg.JobCompletedRetention), nil
	case config.QueueBackendMemory:
		return queue.NewMemoryBroker(cfg.JobCompletedRetention), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.QueueBackend)
	}
}

// Workers returns every queue worker: one per SSH queue and the deployment worker
func Workers() []*queue.Worker {
	concurrency := appConfig.QueueConcurrency
	workers := sshjobs.Workers(broker, sshProcessor, concurrency)
	return append(workers, deployProcessor.Worker(broker, concurrency))
}

// StartBackground runs the workers and, when withReconciler is set, the deployment reconciler
// until ctx ends. Wait on the returned group for them to drain.
func StartBackground(ctx context.Context, withReconciler bool) *errgroup.Group {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range Workers() {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	if withReconciler {
		g.Go(func() error {
			return reconciler.Start(ctx)
		})
	}
	return g
}

// Shutdown closes the broker, which owns the redis connection, and the database
func Shutdown() {
	if broker != nil {
		if err := broker.Close(); err != nil {
			slog.Error("Failed to close queue broker", "layer", "app", "operation", "shutdown", "error", err)
		}
	}
	if database != nil {
		if sqlDB, err := database.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func GetConfig() *config.Config {
	return appConfig
}

func GetJobClient() *queue.Client {
	return jobClient
}

func GetServerService() api.ServerService {
	return serverService
}

func GetProvisioner() api.Provisioner {
	return provisioner
}

func GetDeploymentService() api.DeploymentService {
	return deploymentService
}

func GetKeyRotator() *servers.KeyRotator {
	return keyRotator
}

func GetReconciler() *deploy.Reconciler {
	return reconciler
}

// Services bundles the API dependencies
func Services() api.Services {
	return api.Services{
		Servers:     serverService,
		Provisioner: provisioner,
		Deployments: deploymentService,
		Jobs:        jobClient,
		Version:     Version,
	}
}

// SetServerServiceForTesting allows overriding the server service for testing purposes
func SetServerServiceForTesting(service api.ServerService) {
	serverService = service
}

// SetProvisionerForTesting allows overriding the provisioner for testing purposes
func SetProvisionerForTesting(p api.Provisioner) {
	provisioner = p
}

// SetDeploymentServiceForTesting allows overriding the deployment service for testing purposes
func SetDeploymentServiceForTesting(service api.DeploymentService) {
	deploymentService = service
}

// SetConfigForTesting installs cfg without initializing anything else
func SetConfigForTesting(cfg *config.Config) {
	appConfig = cfg
}
