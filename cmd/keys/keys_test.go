package keys

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/test"
	"github.com/oar-cd/moor/config"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/servers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initApp(t *testing.T, key string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, app.InitializeWithConfig(&config.Config{
		DataDir:                  dir,
		DatabasePath:             filepath.Join(dir, "moor.db"),
		CodegenRoot:              filepath.Join(dir, "generated"),
		EncryptionKey:            key,
		Environment:              config.EnvironmentDevelopment,
		QueueBackend:             config.QueueBackendMemory,
		QueueConcurrency:         1,
		JobWaitTimeout:           time.Second,
		JobPollInterval:          10 * time.Millisecond,
		JobCompletedRetention:    time.Minute,
		MaxServersPerOwner:       5,
		MaxDeploymentsPerProject: 5,
		ReconcilerInterval:       time.Hour,
	}))
	t.Cleanup(app.Shutdown)
}

func TestKeysRotate(t *testing.T) {
	initApp(t, "old-key")
	_, err := app.GetServerService().Register(context.Background(), domain.CallerMetadata{UserID: "local"}, servers.RegisterServerInput{
		Name: "web-1", Host: "10.0.0.5", Username: "root", Password: "hunter2",
	})
	require.NoError(t, err)

	out, err := test.Run(NewCmdKeys(), "rotate", "--old-key", "old-key", "--new-key", "new-key")

	require.NoError(t, err)
	assert.Contains(t, out, "Rotated credentials of 1 servers")
}

func TestKeysRotate_WrongOldKey(t *testing.T) {
	initApp(t, "old-key")
	_, err := app.GetServerService().Register(context.Background(), domain.CallerMetadata{UserID: "local"}, servers.RegisterServerInput{
		Name: "web-1", Host: "10.0.0.5", Username: "root", Password: "hunter2",
	})
	require.NoError(t, err)

	out, err := test.Run(NewCmdKeysRotate(), "--old-key", "not-the-key", "--new-key", "new-key")

	require.NoError(t, err)
	assert.Contains(t, out, "Rotated credentials of 0 servers")
	assert.Contains(t, out, "1 servers could not be rotated")
}

func TestKeysRotate_SameKey(t *testing.T) {
	initApp(t, "old-key")

	_, err := test.Run(NewCmdKeysRotate(), "--old-key", "k", "--new-key", "k")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error: rotating keys failed: the new key must differ from the old key")
}
