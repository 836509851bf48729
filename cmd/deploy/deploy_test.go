package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/test"
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/oar-cd/moor/deploy"
	"github.com/oar-cd/moor/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useDeployments(t *testing.T, svc *test.MockDeploymentService) {
	t.Helper()
	app.SetDeploymentServiceForTesting(svc)
	t.Cleanup(func() { app.SetDeploymentServiceForTesting(nil) })
}

func fastPolling(t *testing.T) {
	t.Helper()
	prev := pollInterval
	pollInterval = time.Millisecond
	t.Cleanup(func() { pollInterval = prev })
}

func TestNewCmdDeploy_Subcommands(t *testing.T) {
	cmd := NewCmdDeploy()

	annotated := map[string]bool{}
	for _, c := range cmd.Commands() {
		annotated[c.Name()] = c.Annotations[utils.LocalWorkers] == "true"
	}
	assert.Equal(t, map[string]bool{
		"create":   true,
		"list":     false,
		"show":     false,
		"status":   true,
		"cancel":   true,
		"rollback": true,
	}, annotated)
}

func TestDeployCreate(t *testing.T) {
	projectID := uuid.New()
	serverID := uuid.New()
	clusterID := uuid.New()

	tests := []struct {
		name        string
		args        []string
		expectError string
		check       func(t *testing.T, in deploy.DeployInput)
	}{
		{
			name: "server target with env",
			args: []string{"--project", projectID.String(), "--server", serverID.String(), "-e", "PORT=8080", "-e", "MODE=prod"},
			check: func(t *testing.T, in deploy.DeployInput) {
				assert.Equal(t, projectID, in.ProjectID)
				require.NotNil(t, in.ServerID)
				assert.Equal(t, serverID, *in.ServerID)
				assert.Nil(t, in.ClusterID)
				assert.Equal(t, map[string]string{"PORT": "8080", "MODE": "prod"}, in.EnvVars)
			},
		},
		{
			name: "cluster target",
			args: []string{"-p", projectID.String(), "--cluster", clusterID.String()},
			check: func(t *testing.T, in deploy.DeployInput) {
				require.NotNil(t, in.ClusterID)
				assert.Equal(t, clusterID, *in.ClusterID)
				assert.Nil(t, in.ServerID)
			},
		},
		{
			name:        "missing project",
			args:        []string{"--server", serverID.String()},
			expectError: `required flag(s) "project" not set`,
		},
		{
			name:        "both targets",
			args:        []string{"-p", projectID.String(), "--server", serverID.String(), "--cluster", clusterID.String()},
			expectError: "none of the others can be",
		},
		{
			name:        "invalid server id",
			args:        []string{"-p", projectID.String(), "--server", "web-1"},
			expectError: "invalid server ID 'web-1'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got deploy.DeployInput
			useDeployments(t, &test.MockDeploymentService{
				DeployFunc: func(_ context.Context, _ domain.CallerMetadata, in deploy.DeployInput) (*domain.Deployment, error) {
					got = in
					return &domain.Deployment{ID: uuid.New(), ProjectID: in.ProjectID, ServerID: in.ServerID, ClusterID: in.ClusterID}, nil
				},
			})

			out, err := test.Run(NewCmdDeployCreate(), tt.args...)

			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, "queued")
			tt.check(t, got)
		})
	}
}

func TestDeployCreate_Wait(t *testing.T) {
	fastPolling(t)

	tests := []struct {
		name        string
		final       domain.DeploymentStatus
		expectError bool
	}{
		{name: "success", final: domain.DeploymentStatusSuccess},
		{name: "failed", final: domain.DeploymentStatusFailed, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := uuid.New()
			polls := 0
			useDeployments(t, &test.MockDeploymentService{
				DeployFunc: func(context.Context, domain.CallerMetadata, deploy.DeployInput) (*domain.Deployment, error) {
					return &domain.Deployment{ID: id, Status: domain.DeploymentStatusPending}, nil
				},
				GetFunc: func(context.Context, domain.CallerMetadata, uuid.UUID) (*domain.Deployment, error) {
					polls++
					d := &domain.Deployment{ID: id, Status: domain.DeploymentStatusInProgress}
					if polls >= 3 {
						d.Status = tt.final
						if tt.expectError {
							d.ErrorMessage = "health check failed"
						}
					}
					return d, nil
				},
			})

			out, err := test.Run(NewCmdDeployCreate(), "-p", uuid.NewString(), "-s", uuid.NewString(), "--wait")

			assert.Equal(t, 3, polls)
			assert.Contains(t, out, "Waiting for deployment")
			assert.Contains(t, out, tt.final.String())
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "deployment ended with status failed")
				assert.Contains(t, out, "health check failed")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDeployList(t *testing.T) {
	projectID := uuid.New()

	t.Run("passes paging and status", func(t *testing.T) {
		var (
			gotPage   domain.Page
			gotStatus *domain.DeploymentStatus
		)
		useDeployments(t, &test.MockDeploymentService{
			ListFunc: func(_ context.Context, _ domain.CallerMetadata, pid uuid.UUID, page domain.Page, status *domain.DeploymentStatus) ([]*domain.Deployment, int64, error) {
				assert.Equal(t, projectID, pid)
				gotPage, gotStatus = page, status
				return []*domain.Deployment{
					{ID: uuid.New(), Status: domain.DeploymentStatusFailed, CreatedAt: time.Now()},
				}, 7, nil
			},
		})

		out, err := test.Run(NewCmdDeployList(), "-p", projectID.String(), "--status", "failed", "--page", "2", "--limit", "5")

		require.NoError(t, err)
		assert.Equal(t, domain.Page{Page: 2, Limit: 5}, gotPage)
		require.NotNil(t, gotStatus)
		assert.Equal(t, domain.DeploymentStatusFailed, *gotStatus)
		assert.Contains(t, out, "1 of 7 deployments")
	})

	t.Run("empty", func(t *testing.T) {
		useDeployments(t, &test.MockDeploymentService{})

		out, err := test.Run(NewCmdDeployList(), "-p", projectID.String())

		require.NoError(t, err)
		assert.Equal(t, "No deployments found.\n", out)
	})

	t.Run("unknown status", func(t *testing.T) {
		useDeployments(t, &test.MockDeploymentService{})

		_, err := test.Run(NewCmdDeployList(), "-p", projectID.String(), "--status", "sleeping")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown status 'sleeping'")
	})
}

func TestDeployShowStatusCancel(t *testing.T) {
	id := uuid.New()
	serverID := uuid.New()
	jobID := "deploy-" + id.String()
	useDeployments(t, &test.MockDeploymentService{
		GetFunc: func(context.Context, domain.CallerMetadata, uuid.UUID) (*domain.Deployment, error) {
			return &domain.Deployment{
				ID:       id,
				ServerID: &serverID,
				Status:   domain.DeploymentStatusSuccess,
				JobID:    &jobID,
				Config: domain.DeploymentConfig{
					DockerImages: map[string]string{"web": "web:latest", "api": "api:latest"},
				},
			}, nil
		},
		StatusFunc: func(_ context.Context, _ domain.CallerMetadata, got uuid.UUID) (*deploy.StatusView, error) {
			return &deploy.StatusView{
				DeploymentID:    got,
				Status:          "in_progress",
				Stage:           "starting",
				ProgressPercent: 50,
				Source:          "agent",
				Services:        []domain.ServiceStatus{{ServiceName: "api", Status: "running"}},
			}, nil
		},
		CancelFunc: func(context.Context, domain.CallerMetadata, uuid.UUID) (*domain.Deployment, error) {
			return nil, domain.Validation("cancel_deployment", "deployment in status success cannot be cancelled")
		},
	})

	out, err := test.Run(NewCmdDeployShow(), id.String())
	require.NoError(t, err)
	assert.Contains(t, out, "server "+serverID.String())
	assert.Contains(t, out, jobID)
	assert.Contains(t, out, "api: api:latest")

	out, err = test.Run(NewCmdDeployStatus(), id.String())
	require.NoError(t, err)
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "Service api")

	_, err = test.Run(NewCmdDeployCancel(), id.String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be cancelled")
}

func TestDeployRollback(t *testing.T) {
	id := uuid.New()
	target := uuid.New()

	tests := []struct {
		name     string
		args     []string
		expected *uuid.UUID
	}{
		{name: "previous successful", args: []string{id.String()}},
		{name: "explicit target", args: []string{id.String(), "--target", target.String()}, expected: &target},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *uuid.UUID
			useDeployments(t, &test.MockDeploymentService{
				RollbackFunc: func(_ context.Context, _ domain.CallerMetadata, gotID uuid.UUID, targetID *uuid.UUID) (*domain.Deployment, error) {
					assert.Equal(t, id, gotID)
					got = targetID
					return &domain.Deployment{ID: uuid.New(), RollbackOfID: &id, Status: domain.DeploymentStatusPending}, nil
				},
			})

			out, err := test.Run(NewCmdDeployRollback(), tt.args...)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			assert.Contains(t, out, "Rollback deployment")
			assert.Contains(t, out, id.String())
		})
	}
}
