package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/db"
	"github.com/oar-cd/moor/deploy"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/queue"
	"github.com/oar-cd/moor/repository"
	"github.com/oar-cd/moor/sshjobs"
	"github.com/oar-cd/moor/testing/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

type recordedCommand struct {
	serverID uuid.UUID
	command  string
	safe     bool
}

// fakeRunner answers every command with the same outcome and records what was run
type fakeRunner struct {
	outcome  sshjobs.CommandOutcome
	err      error
	commands []recordedCommand
}

func (f *fakeRunner) ExecuteCommand(_ context.Context, serverID uuid.UUID, command string, _ time.Duration, safe bool, _ domain.CallerMetadata) (*sshjobs.JobResult, error) {
	f.commands = append(f.commands, recordedCommand{serverID: serverID, command: command, safe: safe})
	if f.err != nil {
		return nil, f.err
	}
	out := f.outcome
	return &sshjobs.JobResult{Success: out.ExitCode == 0, Command: &out}, nil
}

func serverDeployment(t *testing.T) *domain.Deployment {
	t.Helper()
	serverID := uuid.New()
	d := domain.NewDeployment(uuid.New(), "alice", nil, &serverID)
	cfg, err := deploy.BuildArtifacts(&deploy.GeneratedProject{
		ProjectName: "shop",
		Results:     []deploy.GeneratedService{{ServiceName: "api"}},
	}, d.ProjectID, d.ID, nil)
	require.NoError(t, err)
	d.Config = cfg
	return &d
}

func TestDeploy_UploadsArtifactsAndLaunchesCompose(t *testing.T) {
	runner := &fakeRunner{}
	a := NewComposeAgent(runner, &mocks.MockInfrastructure{})
	d := serverDeployment(t)

	ack, err := a.Deploy(context.Background(), d)

	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	require.Len(t, runner.commands, 1)
	cmd := runner.commands[0]
	assert.Equal(t, *d.ServerID, cmd.serverID)
	assert.True(t, cmd.safe)
	assert.Contains(t, cmd.command, "mkdir -p '/opt/moor/projects/shop'")
	assert.Contains(t, cmd.command, "base64 -d > '/opt/moor/projects/shop/docker-compose.yml'")
	assert.Contains(t, cmd.command, "base64 -d > '/opt/moor/projects/shop/api/Dockerfile'")
	assert.Contains(t, cmd.command, base64.StdEncoding.EncodeToString([]byte(d.Config.DockerComposeYML)))
	assert.Contains(t, cmd.command, base64.StdEncoding.EncodeToString([]byte(d.ID.String())))
	assert.Contains(t, cmd.command, "docker compose -p shop up -d --build --remove-orphans; echo $? > .moor-exit")
	assert.Contains(t, cmd.command, "'/var/log/moor/shop.log'")
}

func TestDeploy_ClusterRunsStackOnManager(t *testing.T) {
	runner := &fakeRunner{}
	managerID := uuid.New()
	infra := &mocks.MockInfrastructure{
		GetClusterFunc: func(_ context.Context, id uuid.UUID) (*domain.Cluster, error) {
			c := domain.NewCluster("alice", "prod", managerID)
			c.ID = id
			return &c, nil
		},
	}
	d := serverDeployment(t)
	clusterID := uuid.New()
	d.ServerID = nil
	d.ClusterID = &clusterID

	ack, err := NewComposeAgent(runner, infra).Deploy(context.Background(), d)

	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, managerID, runner.commands[0].serverID)
	assert.Contains(t, runner.commands[0].command, "docker stack deploy --with-registry-auth -c docker-compose.yml shop")
}

func TestDeploy_Failures(t *testing.T) {
	d := serverDeployment(t)

	rejected := &fakeRunner{outcome: sshjobs.CommandOutcome{ExitCode: 1, Stderr: "mkdir: permission denied"}}
	ack, err := NewComposeAgent(rejected, nil).Deploy(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, ack.Accepted)
	assert.Equal(t, "failed to start deployment (exit code 1): mkdir: permission denied", ack.Message)

	broken := &fakeRunner{err: errors.New("ssh job failed")}
	_, err = NewComposeAgent(broken, nil).Deploy(context.Background(), d)
	assert.EqualError(t, err, "ssh job failed")
}

func statusOutput(marker, exit, listing string) string {
	return marker + "\n" + sectionBreak + "\n" + exit + "\n" + sectionBreak + "\n" + listing
}

func TestGetDeploymentStatus(t *testing.T) {
	d := serverDeployment(t)
	id := d.ID.String()

	tests := []struct {
		name         string
		stdout       string
		wantStatus   domain.DeploymentStatus
		wantProgress int
		wantServices int
		wantMessage  string
	}{
		{
			name:       "rollout still running",
			stdout:     statusOutput(id, "", ""),
			wantStatus: domain.DeploymentStatusInProgress,
		},
		{
			name:        "rollout command failed",
			stdout:      statusOutput(id, "17", ""),
			wantStatus:  domain.DeploymentStatusFailed,
			wantMessage: "rollout exited with code 17",
		},
		{
			name: "all containers healthy",
			stdout: statusOutput(id, "0",
				`{"Service":"api","Name":"api-container","State":"running","Health":"healthy"}`+"\n"+
					`{"Service":"web","Name":"web-container","State":"running","Health":""}`),
			wantStatus:   domain.DeploymentStatusSuccess,
			wantProgress: 100,
			wantServices: 2,
		},
		{
			name: "health check pending",
			stdout: statusOutput(id, "0",
				`[{"Service":"api","Name":"api-container","State":"running","Health":"starting"},`+
					`{"Service":"web","Name":"web-container","State":"running","Health":"healthy"}]`),
			wantStatus:   domain.DeploymentStatusInProgress,
			wantProgress: 50,
			wantServices: 2,
		},
		{
			name: "container exited",
			stdout: statusOutput(id, "0",
				`{"Service":"api","Name":"api-container","State":"exited","ExitCode":1,"Status":"Exited (1)"}`),
			wantStatus:   domain.DeploymentStatusFailed,
			wantServices: 1,
			wantMessage:  "services not running: api",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{outcome: sshjobs.CommandOutcome{Stdout: tt.stdout}}

			status, err := NewComposeAgent(runner, nil).GetDeploymentStatus(context.Background(), d)

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantProgress, status.ProgressPercent)
			assert.Len(t, status.Services, tt.wantServices)
			assert.Equal(t, tt.wantMessage, status.ErrorMessage)
			assert.Contains(t, runner.commands[0].command, "docker compose -p shop ps -a --format json")
		})
	}
}

func TestGetDeploymentStatus_OtherDeploymentOnTarget(t *testing.T) {
	d := serverDeployment(t)
	runner := &fakeRunner{outcome: sshjobs.CommandOutcome{Stdout: statusOutput(uuid.NewString(), "0", "")}}

	_, err := NewComposeAgent(runner, nil).GetDeploymentStatus(context.Background(), d)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "now runs deployment")
}

func TestGetDeploymentStatus_StackReplicas(t *testing.T) {
	d := serverDeployment(t)
	clusterID := uuid.New()
	d.ServerID = nil
	d.ClusterID = &clusterID
	listing := `{"ID":"x1","Name":"shop_api","Mode":"replicated","Replicas":"2/2"}` + "\n" +
		`{"ID":"x2","Name":"shop_web","Mode":"replicated","Replicas":"0/1"}`
	runner := &fakeRunner{outcome: sshjobs.CommandOutcome{Stdout: statusOutput(d.ID.String(), "0", listing)}}

	status, err := NewComposeAgent(runner, &mocks.MockInfrastructure{}).GetDeploymentStatus(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusInProgress, status.Status)
	assert.Equal(t, 50, status.ProgressPercent)
	assert.Equal(t, "running", status.Services[0].Status)
	assert.Equal(t, "starting", status.Services[1].Status)
}

func TestCancelDeployment(t *testing.T) {
	d := serverDeployment(t)
	runner := &fakeRunner{}

	require.NoError(t, NewComposeAgent(runner, nil).CancelDeployment(context.Background(), d))
	assert.Equal(t, "cd '/opt/moor/projects/shop' && docker compose -p shop down --remove-orphans", runner.commands[0].command)

	failing := &fakeRunner{outcome: sshjobs.CommandOutcome{ExitCode: 1, Stderr: "no such project"}}
	err := NewComposeAgent(failing, nil).CancelDeployment(context.Background(), d)
	assert.EqualError(t, err, "failed to stop deployment (exit code 1): no such project")
}

func TestRollbackDeployment_LeavesLaunchToQueue(t *testing.T) {
	current := serverDeployment(t)
	target := serverDeployment(t)
	runner := &fakeRunner{}

	require.NoError(t, NewComposeAgent(runner, nil).RollbackDeployment(context.Background(), current, target))
	assert.Empty(t, runner.commands)

	broken := serverDeployment(t)
	broken.Config.DockerComposeYML = "services: ["
	err := NewComposeAgent(runner, nil).RollbackDeployment(context.Background(), current, broken)
	assert.Error(t, err)
	assert.Empty(t, runner.commands)
}

func launches(commands []recordedCommand) int {
	n := 0
	for _, c := range commands {
		if strings.Contains(c.command, "up -d --build") {
			n++
		}
	}
	return n
}

func TestRollback_LaunchesComposeOnce(t *testing.T) {
	ctx := context.Background()
	database, err := db.InitDatabase(db.DBConfig{Path: ":memory:", LogLevel: logger.Silent})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrateAll(database))
	store := repository.NewDeploymentStore(database)

	current := serverDeployment(t)
	current.Status = domain.DeploymentStatusSuccess
	require.NoError(t, store.CreateDeployment(current))
	entry := domain.NewDeploymentHistory(current)
	require.NoError(t, store.CreateHistory(&entry))

	runner := &fakeRunner{}
	composeAgent := NewComposeAgent(runner, &mocks.MockInfrastructure{})
	broker := queue.NewMemoryBroker(time.Minute)
	orch := deploy.NewOrchestrator(deploy.Collaborators{
		Store:  store,
		Agent:  composeAgent,
		Access: &mocks.MockAccessControl{},
		Jobs:   queue.NewClient(broker, 10*time.Millisecond),
	}, 0)

	next, err := orch.Rollback(ctx, domain.CallerMetadata{UserID: "alice"}, current.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, launches(runner.commands))

	job, err := broker.Dequeue(ctx, deploy.DeploymentQueue, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	processor := deploy.NewProcessor(store, composeAgent)
	processor.PollInterval = time.Millisecond
	processor.MaxPolls = 1
	_, err = processor.Handle(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, 1, launches(runner.commands))
	for _, c := range runner.commands {
		if strings.Contains(c.command, "up -d --build") {
			assert.Contains(t, c.command, base64.StdEncoding.EncodeToString([]byte(next.ID.String())))
		}
	}
}

func TestWriteFile_QuotesPathAndEncodesContent(t *testing.T) {
	cmd := writeFile("/tmp/it's here", "echo $HOME; rm -rf /\n")

	encoded := strings.Fields(cmd)[1]
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "echo $HOME; rm -rf /\n", string(decoded))
	assert.True(t, strings.HasSuffix(cmd, `> '/tmp/it'"'"'s here'`))
}
