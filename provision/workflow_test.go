package provision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/db"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/repository"
	"github.com/oar-cd/moor/sshexec"
	"github.com/oar-cd/moor/sshjobs"
	"github.com/oar-cd/moor/testing/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

// scriptedRunner answers commands from a table; unknown commands succeed with empty output
type scriptedRunner struct {
	mu        sync.Mutex
	responses map[string]*sshjobs.JobResult
	errors    map[string]error
	calls     []string
	safe      map[string]bool
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		responses: map[string]*sshjobs.JobResult{},
		errors:    map[string]error{},
		safe:      map[string]bool{},
	}
}

func (s *scriptedRunner) ExecuteCommand(_ context.Context, _ uuid.UUID, command string, _ time.Duration, safe bool, _ domain.CallerMetadata) (*sshjobs.JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, command)
	s.safe[command] = safe
	if err, ok := s.errors[command]; ok {
		return nil, err
	}
	if res, ok := s.responses[command]; ok {
		return res, nil
	}
	return succeeded(""), nil
}

func (s *scriptedRunner) called(command string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == command {
			return true
		}
	}
	return false
}

func succeeded(stdout string) *sshjobs.JobResult {
	return &sshjobs.JobResult{Success: true, Command: &sshjobs.CommandOutcome{Stdout: stdout}}
}

func failed(stderr string) *sshjobs.JobResult {
	return &sshjobs.JobResult{
		Command: &sshjobs.CommandOutcome{Stderr: stderr, ExitCode: 1},
		Error:   "command failed with code 1: " + stderr,
	}
}

func setup(t *testing.T, runner *scriptedRunner) (*Workflow, repository.ServerRepository, uuid.UUID) {
	t.Helper()
	database, err := db.InitDatabase(db.DBConfig{Path: ":memory:", LogLevel: logger.Silent})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrateAll(database))
	repo := repository.NewServerRepository(database)

	server := domain.NewServer("alice", "web", "10.0.0.2", 22, "root")
	pw := "ciphertext"
	server.Password = &pw
	require.NoError(t, repo.Create(&server))

	return NewWorkflow(runner, repo, &mocks.MockAccessControl{}), repo, server.ID
}

func hasLine(log []string, substr string) bool {
	for _, line := range log {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

var caller = domain.CallerMetadata{UserID: "alice"}

func TestConfigure_FreshServer(t *testing.T) {
	runner := newScriptedRunner()
	runner.responses[sshexec.CmdCheckDocker] = failed("docker: command not found")
	runner.responses[sshexec.CmdCheckUser] = succeeded(sshexec.UserNotExistsMarker)
	runner.responses[sshexec.CmdCheckUFW] = succeeded(sshexec.UFWNotInstalledMarker)
	w, repo, id := setup(t, runner)

	result, err := w.Configure(context.Background(), caller, id, DefaultOptions())

	require.NoError(t, err)
	assert.True(t, result.DockerInstalled)
	assert.True(t, result.DirectoriesCreated)
	assert.True(t, result.UserCreated)
	assert.True(t, result.FirewallConfigured)
	assert.True(t, runner.called(sshexec.CmdInstallDocker))
	assert.True(t, runner.called(sshexec.CmdCreateUser))
	assert.True(t, runner.called(sshexec.CmdInstallUFW))
	assert.True(t, runner.called(sshexec.CmdUFWAllowSwarm))
	assert.True(t, runner.safe[sshexec.CmdUFWAllowSSH], "firewall rules run in safe mode")
	assert.True(t, runner.safe[sshexec.CmdCheckDocker], "probes run in safe mode")
	assert.False(t, runner.safe[sshexec.CmdInstallDocker])
	assert.Equal(t, "Server configuration completed successfully", result.Log[len(result.Log)-1])

	server, err := repo.FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ServerStatusConnected, server.Status)
}

func TestConfigure_DockerPresentSkipsInstall(t *testing.T) {
	runner := newScriptedRunner()
	runner.responses[sshexec.CmdCheckDocker] = succeeded("Docker version 24.0.7, build afdd53b")
	runner.responses[sshexec.CmdCheckUser] = succeeded("1001")
	runner.responses[sshexec.CmdCheckUFW] = succeeded("/usr/sbin/ufw")
	w, _, id := setup(t, runner)

	result, err := w.Configure(context.Background(), caller, id, DefaultOptions())

	require.NoError(t, err)
	assert.False(t, runner.called(sshexec.CmdInstallDocker))
	assert.False(t, runner.called(sshexec.CmdCreateUser))
	assert.False(t, runner.called(sshexec.CmdInstallUFW))
	assert.False(t, result.DockerInstalled)
	assert.False(t, result.UserCreated)
	assert.True(t, hasLine(result.Log, "✓ Docker already installed: Docker version 24.0.7"))
	assert.True(t, hasLine(result.Log, "✓ User moor already exists"))
}

func TestConfigure_UFWInstallFailureSkipsRules(t *testing.T) {
	runner := newScriptedRunner()
	runner.responses[sshexec.CmdCheckDocker] = failed("not found")
	runner.responses[sshexec.CmdCheckUser] = succeeded(sshexec.UserNotExistsMarker)
	runner.responses[sshexec.CmdCheckUFW] = succeeded(sshexec.UFWNotInstalledMarker)
	runner.responses[sshexec.CmdInstallUFW] = failed("apt locked")
	w, _, id := setup(t, runner)

	result, err := w.Configure(context.Background(), caller, id, DefaultOptions())

	require.NoError(t, err)
	assert.True(t, result.DockerInstalled)
	assert.True(t, result.UserCreated)
	assert.True(t, result.DirectoriesCreated)
	assert.False(t, result.FirewallConfigured)
	for _, rule := range firewallRules {
		assert.False(t, runner.called(rule.command), rule.desc)
	}
	assert.False(t, runner.called(sshexec.CmdUFWEnable))
	assert.True(t, hasLine(result.Log, "⚠ Failed to install UFW, skipping firewall configuration"))
}

func TestConfigure_SoftFailuresContinue(t *testing.T) {
	runner := newScriptedRunner()
	runner.responses[sshexec.CmdCheckDocker] = succeeded("Docker version 25.0.0, build x")
	runner.responses[sshexec.CmdCheckUser] = succeeded("1001")
	runner.responses[sshexec.CmdCheckUFW] = succeeded("/usr/sbin/ufw")
	runner.responses[sshexec.CmdAddUserToDocker] = failed("no docker group")
	runner.responses[sshexec.CmdSetDirOwnership] = failed("chown failed")
	runner.responses[sshexec.CmdUFWAllowHTTP] = failed("rule exists")
	runner.errors[sshexec.CmdUFWEnable] = errors.New("job timeout")
	w, _, id := setup(t, runner)

	result, err := w.Configure(context.Background(), caller, id, DefaultOptions())

	require.NoError(t, err)
	assert.False(t, result.FirewallConfigured)
	assert.True(t, hasLine(result.Log, "⚠ Warning: failed to add user to docker group"))
	assert.True(t, hasLine(result.Log, "⚠ Warning: failed to set directory ownership"))
	assert.True(t, hasLine(result.Log, "⚠ Failed to add firewall rule: HTTP (80/tcp)"))
	assert.True(t, hasLine(result.Log, "✓ Firewall rule added: HTTPS (443/tcp)"))
	assert.True(t, hasLine(result.Log, "⚠ Failed to enable firewall"))
}

func TestConfigure_FatalStepReturnsLog(t *testing.T) {
	tests := []struct {
		name     string
		script   func(r *scriptedRunner)
		wantStep string
		notRun   string
	}{
		{
			name: "docker install",
			script: func(r *scriptedRunner) {
				r.responses[sshexec.CmdCheckDocker] = failed("not found")
				r.responses[sshexec.CmdInstallDocker] = failed("curl: could not resolve host")
			},
			wantStep: "install docker",
			notRun:   sshexec.CmdCreateDirectories,
		},
		{
			name: "directories",
			script: func(r *scriptedRunner) {
				r.responses[sshexec.CmdCheckDocker] = succeeded("Docker version 24.0.7")
				r.errors[sshexec.CmdCreateDirectories] = errors.New("ssh job failed")
			},
			wantStep: "create directories",
			notRun:   sshexec.CmdCheckUser,
		},
		{
			name: "user",
			script: func(r *scriptedRunner) {
				r.responses[sshexec.CmdCheckDocker] = succeeded("Docker version 24.0.7")
				r.responses[sshexec.CmdCheckUser] = succeeded(sshexec.UserNotExistsMarker)
				r.responses[sshexec.CmdCreateUser] = failed("useradd: permission denied")
			},
			wantStep: "create user",
			notRun:   sshexec.CmdAddUserToDocker,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newScriptedRunner()
			tt.script(runner)
			w, repo, id := setup(t, runner)

			result, err := w.Configure(context.Background(), caller, id, DefaultOptions())

			assert.Nil(t, result)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantStep, cfgErr.Step)
			assert.NotEmpty(t, cfgErr.Log)
			assert.True(t, domain.IsKind(err, domain.KindConfiguration))
			assert.Contains(t, err.Error(), "server configuration failed at step "+tt.wantStep)
			assert.False(t, runner.called(tt.notRun))

			server, err := repo.FindByID(id)
			require.NoError(t, err)
			assert.Equal(t, domain.ServerStatusError, server.Status)
		})
	}
}

func TestConfigure_OptionsDisableSteps(t *testing.T) {
	runner := newScriptedRunner()
	runner.responses[sshexec.CmdCheckUser] = succeeded("1001")
	w, _, id := setup(t, runner)

	result, err := w.Configure(context.Background(), caller, id, Options{})

	require.NoError(t, err)
	assert.False(t, runner.called(sshexec.CmdCheckDocker))
	assert.False(t, runner.called(sshexec.CmdCheckUFW))
	assert.True(t, result.DirectoriesCreated)
}

func TestConfigure_UnknownServer(t *testing.T) {
	w, _, _ := setup(t, newScriptedRunner())

	_, err := w.Configure(context.Background(), caller, uuid.New(), DefaultOptions())

	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestEstimateForServer_UsesStoredInfo(t *testing.T) {
	w, repo, id := setup(t, newScriptedRunner())
	server, err := repo.FindByID(id)
	require.NoError(t, err)
	server.Info = &domain.ServerInfo{CPUCores: 8, AvailableMemory: 8192 * bytesInMB, DockerInstalled: true}
	require.NoError(t, repo.Update(server))

	est, err := w.EstimateForServer(context.Background(), caller, id, RequirementsInput{Services: 2})

	require.NoError(t, err)
	require.NotNil(t, est.FitsCurrentServer)
	assert.True(t, *est.FitsCurrentServer)
}
