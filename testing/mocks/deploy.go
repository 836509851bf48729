package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/deploy"
	"github.com/oar-cd/moor/domain"
)

// MockRunnerAgent accepts every deployment and reports success unless a Func is set
type MockRunnerAgent struct {
	DeployFunc              func(ctx context.Context, d *domain.Deployment) (*deploy.DeployAck, error)
	CancelDeploymentFunc    func(ctx context.Context, d *domain.Deployment) error
	GetDeploymentStatusFunc func(ctx context.Context, d *domain.Deployment) (*deploy.AgentStatus, error)
	RollbackDeploymentFunc  func(ctx context.Context, current *domain.Deployment, target *domain.Deployment) error
}

func (m *MockRunnerAgent) Deploy(ctx context.Context, d *domain.Deployment) (*deploy.DeployAck, error) {
	if m.DeployFunc != nil {
		return m.DeployFunc(ctx, d)
	}
	return &deploy.DeployAck{Accepted: true}, nil
}

func (m *MockRunnerAgent) CancelDeployment(ctx context.Context, d *domain.Deployment) error {
	if m.CancelDeploymentFunc != nil {
		return m.CancelDeploymentFunc(ctx, d)
	}
	return nil
}

func (m *MockRunnerAgent) GetDeploymentStatus(ctx context.Context, d *domain.Deployment) (*deploy.AgentStatus, error) {
	if m.GetDeploymentStatusFunc != nil {
		return m.GetDeploymentStatusFunc(ctx, d)
	}
	return &deploy.AgentStatus{Status: domain.DeploymentStatusSuccess, ProgressPercent: 100}, nil
}

func (m *MockRunnerAgent) RollbackDeployment(ctx context.Context, current *domain.Deployment, target *domain.Deployment) error {
	if m.RollbackDeploymentFunc != nil {
		return m.RollbackDeploymentFunc(ctx, current, target)
	}
	return nil
}

// MockCodegen returns a single "api" service unless GenerateProjectFunc is set
type MockCodegen struct {
	GenerateProjectFunc func(ctx context.Context, projectID uuid.UUID) (*deploy.GeneratedProject, error)
}

func (m *MockCodegen) GenerateProject(ctx context.Context, projectID uuid.UUID) (*deploy.GeneratedProject, error) {
	if m.GenerateProjectFunc != nil {
		return m.GenerateProjectFunc(ctx, projectID)
	}
	return &deploy.GeneratedProject{
		ProjectName: "shop",
		Results: []deploy.GeneratedService{
			{ServiceName: "api", GeneratedCodePath: "/srv/generated/api"},
		},
	}, nil
}

// MockInfrastructure finds every server and cluster unless a Func is set
type MockInfrastructure struct {
	GetServerFunc  func(ctx context.Context, id uuid.UUID) (*domain.Server, error)
	GetClusterFunc func(ctx context.Context, id uuid.UUID) (*domain.Cluster, error)
}

func (m *MockInfrastructure) GetServer(ctx context.Context, id uuid.UUID) (*domain.Server, error) {
	if m.GetServerFunc != nil {
		return m.GetServerFunc(ctx, id)
	}
	server := domain.NewServer("", "mock", "10.0.0.1", 22, "moor")
	server.ID = id
	return &server, nil
}

func (m *MockInfrastructure) GetCluster(ctx context.Context, id uuid.UUID) (*domain.Cluster, error) {
	if m.GetClusterFunc != nil {
		return m.GetClusterFunc(ctx, id)
	}
	cluster := domain.NewCluster("", "mock", uuid.New())
	cluster.ID = id
	return &cluster, nil
}
