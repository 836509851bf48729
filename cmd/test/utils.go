// Package test provides fakes and helpers for testing moor CLI commands
package test

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/deploy"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/provision"
	"github.com/oar-cd/moor/servers"
	"github.com/oar-cd/moor/sshjobs"
	"github.com/spf13/cobra"
)

// MockServerService stands in for the server service in command tests. Unset Funcs return
// zero values.
type MockServerService struct {
	RegisterFunc        func(ctx context.Context, caller domain.CallerMetadata, in servers.RegisterServerInput) (*domain.Server, error)
	GetFunc             func(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.Server, error)
	ListFunc            func(ctx context.Context, caller domain.CallerMetadata) ([]*domain.Server, error)
	DeleteFunc          func(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) error
	TestConnectionFunc  func(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*sshjobs.ConnectionOutcome, error)
	TestCredentialsFunc func(ctx context.Context, caller domain.CallerMetadata, in servers.RegisterServerInput) (*sshjobs.ConnectionOutcome, error)
	CollectInfoFunc     func(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.ServerInfo, error)
	ExecuteCommandFunc  func(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID, command string, timeout time.Duration, safe bool) (*sshjobs.JobResult, error)
}

func (m *MockServerService) Register(ctx context.Context, caller domain.CallerMetadata, in servers.RegisterServerInput) (*domain.Server, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, caller, in)
	}
	s := domain.NewServer(caller.UserID, in.Name, in.Host, in.Port, in.Username)
	return &s, nil
}

func (m *MockServerService) Get(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.Server, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, caller, id)
	}
	return nil, domain.NotFound("get_server", "server", id)
}

func (m *MockServerService) List(ctx context.Context, caller domain.CallerMetadata) ([]*domain.Server, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, caller)
	}
	return nil, nil
}

func (m *MockServerService) Delete(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, caller, id)
	}
	return nil
}

func (m *MockServerService) TestConnection(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*sshjobs.ConnectionOutcome, error) {
	if m.TestConnectionFunc != nil {
		return m.TestConnectionFunc(ctx, caller, id)
	}
	return &sshjobs.ConnectionOutcome{Connected: true}, nil
}

func (m *MockServerService) TestCredentials(ctx context.Context, caller domain.CallerMetadata, in servers.RegisterServerInput) (*sshjobs.ConnectionOutcome, error) {
	if m.TestCredentialsFunc != nil {
		return m.TestCredentialsFunc(ctx, caller, in)
	}
	return &sshjobs.ConnectionOutcome{Connected: true}, nil
}

func (m *MockServerService) CollectInfo(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.ServerInfo, error) {
	if m.CollectInfoFunc != nil {
		return m.CollectInfoFunc(ctx, caller, id)
	}
	return &domain.ServerInfo{}, nil
}

func (m *MockServerService) ExecuteCommand(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID, command string, timeout time.Duration, safe bool) (*sshjobs.JobResult, error) {
	if m.ExecuteCommandFunc != nil {
		return m.ExecuteCommandFunc(ctx, caller, id, command, timeout, safe)
	}
	return &sshjobs.JobResult{Success: true, Command: &sshjobs.CommandOutcome{}}, nil
}

type MockProvisioner struct {
	ConfigureFunc         func(ctx context.Context, caller domain.CallerMetadata, serverID uuid.UUID, opts provision.Options) (*provision.Result, error)
	EstimateForServerFunc func(ctx context.Context, caller domain.CallerMetadata, serverID uuid.UUID, in provision.RequirementsInput) (*provision.RequirementsEstimate, error)
}

func (m *MockProvisioner) Configure(ctx context.Context, caller domain.CallerMetadata, serverID uuid.UUID, opts provision.Options) (*provision.Result, error) {
	if m.ConfigureFunc != nil {
		return m.ConfigureFunc(ctx, caller, serverID, opts)
	}
	return &provision.Result{}, nil
}

func (m *MockProvisioner) EstimateForServer(ctx context.Context, caller domain.CallerMetadata, serverID uuid.UUID, in provision.RequirementsInput) (*provision.RequirementsEstimate, error) {
	if m.EstimateForServerFunc != nil {
		return m.EstimateForServerFunc(ctx, caller, serverID, in)
	}
	est := provision.EstimateRequirements(in, nil)
	return &est, nil
}

type MockDeploymentService struct {
	DeployFunc   func(ctx context.Context, caller domain.CallerMetadata, in deploy.DeployInput) (*domain.Deployment, error)
	GetFunc      func(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.Deployment, error)
	ListFunc     func(ctx context.Context, caller domain.CallerMetadata, projectID uuid.UUID, page domain.Page, status *domain.DeploymentStatus) ([]*domain.Deployment, int64, error)
	StatusFunc   func(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*deploy.StatusView, error)
	CancelFunc   func(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.Deployment, error)
	RollbackFunc func(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID, targetID *uuid.UUID) (*domain.Deployment, error)
}

func (m *MockDeploymentService) Deploy(ctx context.Context, caller domain.CallerMetadata, in deploy.DeployInput) (*domain.Deployment, error) {
	if m.DeployFunc != nil {
		return m.DeployFunc(ctx, caller, in)
	}
	return &domain.Deployment{ID: uuid.New(), ProjectID: in.ProjectID, ServerID: in.ServerID, ClusterID: in.ClusterID}, nil
}

func (m *MockDeploymentService) Get(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.Deployment, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, caller, id)
	}
	return nil, domain.NotFound("get_deployment", "deployment", id)
}

func (m *MockDeploymentService) List(ctx context.Context, caller domain.CallerMetadata, projectID uuid.UUID, page domain.Page, status *domain.DeploymentStatus) ([]*domain.Deployment, int64, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, caller, projectID, page, status)
	}
	return nil, 0, nil
}

func (m *MockDeploymentService) Status(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*deploy.StatusView, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, caller, id)
	}
	return &deploy.StatusView{DeploymentID: id, Status: "pending"}, nil
}

func (m *MockDeploymentService) Cancel(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.Deployment, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, caller, id)
	}
	return &domain.Deployment{ID: id, Status: domain.DeploymentStatusFailed}, nil
}

func (m *MockDeploymentService) Rollback(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID, targetID *uuid.UUID) (*domain.Deployment, error) {
	if m.RollbackFunc != nil {
		return m.RollbackFunc(ctx, caller, id, targetID)
	}
	return &domain.Deployment{ID: uuid.New(), RollbackOfID: &id, Status: domain.DeploymentStatusPending}, nil
}

// Run executes cmd with args and returns what it wrote to stdout
func Run(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.Execute()
	return out.String(), err
}

// Trim trims trailing spaces left by tablewriter on each line to make the lines length-aligned
func Trim(input string) string {
	lines := strings.Split(input, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \n")
	}
	return strings.Join(lines, "\n")
}
