package deploy_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/deploy"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/queue"
	"github.com/oar-cd/moor/repository"
	"github.com/oar-cd/moor/testing/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessor(store *repository.DeploymentStore, agent deploy.RunnerAgent) *deploy.Processor {
	p := deploy.NewProcessor(store, agent)
	p.PollInterval = time.Millisecond
	p.MaxPolls = 5
	return p
}

func pendingDeployment(t *testing.T, store *repository.DeploymentStore) *domain.Deployment {
	t.Helper()
	serverID := uuid.New()
	d := domain.NewDeployment(uuid.New(), "alice", nil, &serverID)
	d.Config = domain.DeploymentConfig{DockerComposeYML: "name: shop\nservices: {}\n"}
	require.NoError(t, store.CreateDeployment(&d))
	return &d
}

func deployJob(t *testing.T, id uuid.UUID) *queue.Job {
	t.Helper()
	client := queue.NewClient(queue.NewMemoryBroker(time.Minute), 0)
	jobID, err := client.Add(context.Background(), deploy.DeploymentQueue, deploy.JobDeploy, deploy.DeployJobPayload{DeploymentID: id}, queue.DefaultOptions())
	require.NoError(t, err)
	job, err := client.Get(context.Background(), deploy.DeploymentQueue, jobID)
	require.NoError(t, err)
	return job
}

func TestProcessor_FollowsAgentToSuccess(t *testing.T) {
	store := newStore(t)
	d := pendingDeployment(t, store)
	var polls atomic.Int32
	agent := &mocks.MockRunnerAgent{
		GetDeploymentStatusFunc: func(context.Context, *domain.Deployment) (*deploy.AgentStatus, error) {
			if polls.Add(1) < 3 {
				return &deploy.AgentStatus{
					Status:   domain.DeploymentStatusInProgress,
					Services: []domain.ServiceStatus{{ServiceName: "api", Status: "starting"}},
				}, nil
			}
			return &deploy.AgentStatus{
				Status:   domain.DeploymentStatusSuccess,
				Services: []domain.ServiceStatus{{ServiceName: "api", Status: "running"}},
			}, nil
		},
	}

	result, err := newProcessor(store, agent).Handle(context.Background(), deployJob(t, d.ID))

	require.NoError(t, err)
	assert.Equal(t, "success", result.(deploy.ProcessResult).Status)
	assert.Equal(t, int32(3), polls.Load())

	stored, err := store.FindDeployment(d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusSuccess, stored.Status)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)
	require.Len(t, stored.ServiceStatuses, 1)
	assert.Equal(t, "running", stored.ServiceStatuses[0].Status)
}

func TestProcessor_AgentRefusal(t *testing.T) {
	tests := []struct {
		name    string
		deploy  func(context.Context, *domain.Deployment) (*deploy.DeployAck, error)
		wantMsg string
	}{
		{
			name: "not accepted",
			deploy: func(context.Context, *domain.Deployment) (*deploy.DeployAck, error) {
				return &deploy.DeployAck{Accepted: false, Message: "target is busy"}, nil
			},
			wantMsg: "target is busy",
		},
		{
			name: "unreachable",
			deploy: func(context.Context, *domain.Deployment) (*deploy.DeployAck, error) {
				return nil, errors.New("dial tcp: connection refused")
			},
			wantMsg: "dial tcp: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			d := pendingDeployment(t, store)

			_, err := newProcessor(store, &mocks.MockRunnerAgent{DeployFunc: tt.deploy}).Handle(context.Background(), deployJob(t, d.ID))

			require.Error(t, err)
			assert.True(t, queue.IsPermanent(err))
			stored, err := store.FindDeployment(d.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.DeploymentStatusFailed, stored.Status)
			assert.Equal(t, tt.wantMsg, stored.ErrorMessage)
		})
	}
}

func TestProcessor_NoAgentFailsDeployment(t *testing.T) {
	store := newStore(t)
	d := pendingDeployment(t, store)

	_, err := newProcessor(store, nil).Handle(context.Background(), deployJob(t, d.ID))

	require.Error(t, err)
	stored, err := store.FindDeployment(d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusFailed, stored.Status)
}

func TestProcessor_TimesOutAfterMaxPolls(t *testing.T) {
	store := newStore(t)
	d := pendingDeployment(t, store)
	var polls atomic.Int32
	agent := &mocks.MockRunnerAgent{
		GetDeploymentStatusFunc: func(context.Context, *domain.Deployment) (*deploy.AgentStatus, error) {
			polls.Add(1)
			return &deploy.AgentStatus{Status: domain.DeploymentStatusInProgress}, nil
		},
	}
	p := newProcessor(store, agent)
	p.MaxPolls = 3

	_, err := p.Handle(context.Background(), deployJob(t, d.ID))

	require.NoError(t, err)
	assert.Equal(t, int32(3), polls.Load())
	stored, err := store.FindDeployment(d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusFailed, stored.Status)
	assert.Equal(t, "deployment did not finish after 3 status checks", stored.ErrorMessage)
}

func TestProcessor_SkipsDeploymentsThatAreNotPending(t *testing.T) {
	store := newStore(t)
	d := pendingDeployment(t, store)
	d.Status = domain.DeploymentStatusFailed
	require.NoError(t, store.UpdateDeployment(d))
	agent := &mocks.MockRunnerAgent{
		DeployFunc: func(context.Context, *domain.Deployment) (*deploy.DeployAck, error) {
			t.Fatal("agent must not be called")
			return nil, nil
		},
	}

	result, err := newProcessor(store, agent).Handle(context.Background(), deployJob(t, d.ID))

	require.NoError(t, err)
	assert.True(t, result.(deploy.ProcessResult).Skipped)
}

func TestProcessor_UnknownDeploymentIsPermanent(t *testing.T) {
	store := newStore(t)

	_, err := newProcessor(store, &mocks.MockRunnerAgent{}).Handle(context.Background(), deployJob(t, uuid.New()))

	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestProcessor_KeepsStateChangedDuringStatusCheck(t *testing.T) {
	tests := []struct {
		name        string
		interrupt   func(d *domain.Deployment)
		wantStatus  domain.DeploymentStatus
		wantMessage string
	}{
		{
			name: "cancelled",
			interrupt: func(d *domain.Deployment) {
				d.Status = domain.DeploymentStatusFailed
				d.ErrorMessage = "cancelled by user"
			},
			wantStatus:  domain.DeploymentStatusFailed,
			wantMessage: "cancelled by user",
		},
		{
			name: "rolled back",
			interrupt: func(d *domain.Deployment) {
				d.Status = domain.DeploymentStatusRollingBack
			},
			wantStatus: domain.DeploymentStatusRollingBack,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			d := pendingDeployment(t, store)
			var calls atomic.Int32
			agent := &mocks.MockRunnerAgent{
				GetDeploymentStatusFunc: func(_ context.Context, running *domain.Deployment) (*deploy.AgentStatus, error) {
					if calls.Add(1) > 1 {
						return &deploy.AgentStatus{Status: domain.DeploymentStatusSuccess}, nil
					}
					// The row changes hands while the agent is answering
					current, err := store.FindDeployment(running.ID)
					require.NoError(t, err)
					tt.interrupt(current)
					require.NoError(t, store.UpdateDeployment(current))
					return &deploy.AgentStatus{
						Status:   domain.DeploymentStatusInProgress,
						Services: []domain.ServiceStatus{{ServiceName: "api", Status: "starting"}},
					}, nil
				},
			}

			result, err := newProcessor(store, agent).Handle(context.Background(), deployJob(t, d.ID))

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus.String(), result.(deploy.ProcessResult).Status)
			assert.Equal(t, int32(1), calls.Load())
			stored, err := store.FindDeployment(d.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, tt.wantMessage, stored.ErrorMessage)
			assert.Empty(t, stored.ServiceStatuses)
		})
	}
}

func TestProcessor_FinalStateDoesNotOverwriteCancel(t *testing.T) {
	store := newStore(t)
	d := pendingDeployment(t, store)
	agent := &mocks.MockRunnerAgent{
		GetDeploymentStatusFunc: func(_ context.Context, running *domain.Deployment) (*deploy.AgentStatus, error) {
			current, err := store.FindDeployment(running.ID)
			require.NoError(t, err)
			current.Status = domain.DeploymentStatusFailed
			current.ErrorMessage = "cancelled by user"
			require.NoError(t, store.UpdateDeployment(current))
			return &deploy.AgentStatus{Status: domain.DeploymentStatusSuccess}, nil
		},
	}

	_, err := newProcessor(store, agent).Handle(context.Background(), deployJob(t, d.ID))

	require.NoError(t, err)
	stored, err := store.FindDeployment(d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusFailed, stored.Status)
	assert.Equal(t, "cancelled by user", stored.ErrorMessage)
}

func TestProcessor_StoresServiceStatusesWhileRunning(t *testing.T) {
	store := newStore(t)
	d := pendingDeployment(t, store)
	var calls atomic.Int32
	agent := &mocks.MockRunnerAgent{
		GetDeploymentStatusFunc: func(context.Context, *domain.Deployment) (*deploy.AgentStatus, error) {
			status := domain.DeploymentStatusInProgress
			if calls.Add(1) > 1 {
				status = domain.DeploymentStatusSuccess
			}
			return &deploy.AgentStatus{
				Status:   status,
				Services: []domain.ServiceStatus{{ServiceName: "api", Status: "running"}},
			}, nil
		},
	}

	_, err := newProcessor(store, agent).Handle(context.Background(), deployJob(t, d.ID))

	require.NoError(t, err)
	stored, err := store.FindDeployment(d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusSuccess, stored.Status)
	require.Len(t, stored.ServiceStatuses, 1)
	assert.Equal(t, "running", stored.ServiceStatuses[0].Status)
}

func TestProcessor_SettlesSupersededDeployment(t *testing.T) {
	tests := []struct {
		name       string
		final      domain.DeploymentStatus
		superseded domain.DeploymentStatus
	}{
		{"rollback succeeds", domain.DeploymentStatusSuccess, domain.DeploymentStatusRolledBack},
		{"rollback fails", domain.DeploymentStatusFailed, domain.DeploymentStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			old := pendingDeployment(t, store)
			old.Status = domain.DeploymentStatusRollingBack
			require.NoError(t, store.UpdateDeployment(old))

			rollback := pendingDeployment(t, store)
			rollback.RollbackOfID = &old.ID
			require.NoError(t, store.UpdateDeployment(rollback))

			agent := &mocks.MockRunnerAgent{
				GetDeploymentStatusFunc: func(context.Context, *domain.Deployment) (*deploy.AgentStatus, error) {
					return &deploy.AgentStatus{Status: tt.final, ErrorMessage: "boom"}, nil
				},
			}

			_, err := newProcessor(store, agent).Handle(context.Background(), deployJob(t, rollback.ID))
			require.NoError(t, err)

			settled, err := store.FindDeployment(old.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.superseded, settled.Status)
			assert.NotNil(t, settled.CompletedAt)
		})
	}
}

func TestProcessor_EndToEndThroughWorker(t *testing.T) {
	h := newHarness(t, 0)
	broker := queue.NewMemoryBroker(time.Minute)
	h.jobs = queue.NewClient(broker, 10*time.Millisecond)
	h.orch = deploy.NewOrchestrator(deploy.Collaborators{
		Store:          h.store,
		Infrastructure: h.infra,
		Codegen:        h.codegen,
		Agent:          h.agent,
		Access:         h.access,
		Jobs:           h.jobs,
	}, 0)

	worker := newProcessor(h.store, h.agent).Worker(broker, 1)
	worker.PollWait = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	d := h.deploy(t, uuid.New())

	var result deploy.ProcessResult
	require.NoError(t, h.jobs.Wait(context.Background(), deploy.DeploymentQueue, *d.JobID, 5*time.Second, &result))
	assert.Equal(t, "success", result.Status)

	stored, err := h.store.FindDeployment(d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusSuccess, stored.Status)
}
