package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/config"
	"github.com/oar-cd/moor/deploy"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/queue"
	"github.com/oar-cd/moor/servers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:                  dir,
		DatabasePath:             filepath.Join(dir, "moor.db"),
		CodegenRoot:              filepath.Join(dir, "generated"),
		LogLevel:                 "silent",
		LogFormat:                "text",
		Environment:              config.EnvironmentDevelopment,
		QueueBackend:             config.QueueBackendMemory,
		QueueConcurrency:         1,
		SSHConnectTimeout:        time.Second,
		SSHCommandTimeout:        time.Second,
		JobWaitTimeout:           time.Second,
		JobPollInterval:          10 * time.Millisecond,
		JobCompletedRetention:    time.Minute,
		MaxServersPerOwner:       5,
		MaxDeploymentsPerProject: 5,
		ReconcilerInterval:       time.Hour,
	}
}

func TestInitializeWithConfig_WiresDeployments(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, InitializeWithConfig(cfg))
	t.Cleanup(Shutdown)

	ctx := context.Background()
	alice := domain.CallerMetadata{UserID: "alice"}

	server, err := GetServerService().Register(ctx, alice, servers.RegisterServerInput{
		Name: "web-1", Host: "10.0.0.5", Username: "root", Password: "secret",
	})
	require.NoError(t, err)

	projectID := uuid.New()
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.CodegenRoot, projectID.String(), "api"), 0o755))

	d, err := GetDeploymentService().Deploy(ctx, alice, deploy.DeployInput{ProjectID: projectID, ServerID: &server.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusPending, d.Status)
	require.NotNil(t, d.JobID)
	assert.Contains(t, d.Config.DockerComposeYML, "api:")

	state, err := GetJobClient().Status(ctx, deploy.DeploymentQueue, *d.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, state)

	_, err = GetDeploymentService().Get(ctx, domain.CallerMetadata{UserID: "mallory"}, d.ID)
	assert.True(t, domain.IsKind(err, domain.KindForbidden))
}

func TestStartBackground_StopsWithContext(t *testing.T) {
	require.NoError(t, InitializeWithConfig(testConfig(t)))
	t.Cleanup(Shutdown)

	assert.Len(t, Workers(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	g := StartBackground(ctx, true)
	cancel()

	assert.NoError(t, g.Wait())
}

func TestNewBroker_Unsupported(t *testing.T) {
	cfg := testConfig(t)
	cfg.QueueBackend = "kafka"

	_, err := newBroker(cfg)

	assert.EqualError(t, err, "unsupported queue backend: kafka")
}
