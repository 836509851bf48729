package deploy

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/queue"
)

// ErrCollaboratorUnavailable is returned by the null collaborators when nothing is wired in
var ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

// Infrastructure resolves deployment targets
type Infrastructure interface {
	GetServer(ctx context.Context, id uuid.UUID) (*domain.Server, error)
	GetCluster(ctx context.Context, id uuid.UUID) (*domain.Cluster, error)
}

// GeneratedService is one service directory produced by code generation
type GeneratedService struct {
	ServiceName       string
	GeneratedCodePath string
	DependsOn         []string
}

type GeneratedProject struct {
	ProjectName string
	Results     []GeneratedService
}

type Codegen interface {
	GenerateProject(ctx context.Context, projectID uuid.UUID) (*GeneratedProject, error)
}

// DeployAck is the agent's answer to a deploy request
type DeployAck struct {
	Accepted bool
	Message  string
}

// AgentStatus is the live rollout state reported by the runner agent
type AgentStatus struct {
	Status          domain.DeploymentStatus
	Stage           string
	ProgressPercent int
	Services        []domain.ServiceStatus
	ErrorMessage    string
}

// RunnerAgent applies deployments on their target
type RunnerAgent interface {
	Deploy(ctx context.Context, d *domain.Deployment) (*DeployAck, error)
	CancelDeployment(ctx context.Context, d *domain.Deployment) error
	GetDeploymentStatus(ctx context.Context, d *domain.Deployment) (*AgentStatus, error)
	RollbackDeployment(ctx context.Context, current *domain.Deployment, target *domain.Deployment) error
}

type AccessControl interface {
	VerifyDeploymentOwnership(ctx context.Context, id uuid.UUID, caller domain.CallerMetadata) error
	VerifyServerOwnership(ctx context.Context, id uuid.UUID, caller domain.CallerMetadata) error
	VerifyClusterOwnership(ctx context.Context, id uuid.UUID, caller domain.CallerMetadata) error
}

// Persistence stores deployments and their history. Missing rows surface as
// gorm.ErrRecordNotFound, checked with repository.IsNotFound.
type Persistence interface {
	CreateDeployment(d *domain.Deployment) error
	FindDeployment(id uuid.UUID) (*domain.Deployment, error)
	UpdateDeployment(d *domain.Deployment) error
	// UpdateDeploymentIf and UpdateServiceStatuses write only while the stored status
	// equals expected and report whether they did
	UpdateDeploymentIf(d *domain.Deployment, expected domain.DeploymentStatus) (bool, error)
	UpdateServiceStatuses(id uuid.UUID, statuses []domain.ServiceStatus, expected domain.DeploymentStatus) (bool, error)
	ListDeployments(projectID uuid.UUID, page domain.Page, filter domain.DeploymentFilter) ([]*domain.Deployment, int64, error)
	CountDeployments(projectID uuid.UUID) (int64, error)
	ListDeploymentsByStatus(status domain.DeploymentStatus, limit int) ([]*domain.Deployment, error)
	CreateHistory(h *domain.DeploymentHistory) error
	FindLatestHistory(deploymentID uuid.UUID) (*domain.DeploymentHistory, error)
	UpdateHistory(h *domain.DeploymentHistory) error
	ListHistory(deploymentID uuid.UUID) ([]*domain.DeploymentHistory, error)
}

// JobQueue is the part of queue.Client the orchestrator uses
type JobQueue interface {
	Add(ctx context.Context, queueName, name string, payload any, opts queue.Options) (string, error)
	Status(ctx context.Context, queueName, id string) (queue.State, error)
	Cancel(ctx context.Context, queueName, id string) error
}

// NoopRunnerAgent is used when no agent is configured
type NoopRunnerAgent struct{}

func (NoopRunnerAgent) Deploy(context.Context, *domain.Deployment) (*DeployAck, error) {
	return nil, ErrCollaboratorUnavailable
}

func (NoopRunnerAgent) CancelDeployment(context.Context, *domain.Deployment) error {
	return ErrCollaboratorUnavailable
}

func (NoopRunnerAgent) GetDeploymentStatus(context.Context, *domain.Deployment) (*AgentStatus, error) {
	return nil, ErrCollaboratorUnavailable
}

func (NoopRunnerAgent) RollbackDeployment(context.Context, *domain.Deployment, *domain.Deployment) error {
	return ErrCollaboratorUnavailable
}

type NoopCodegen struct{}

func (NoopCodegen) GenerateProject(context.Context, uuid.UUID) (*GeneratedProject, error) {
	return nil, ErrCollaboratorUnavailable
}

type UnavailableInfrastructure struct{}

func (UnavailableInfrastructure) GetServer(context.Context, uuid.UUID) (*domain.Server, error) {
	return nil, ErrCollaboratorUnavailable
}

func (UnavailableInfrastructure) GetCluster(context.Context, uuid.UUID) (*domain.Cluster, error) {
	return nil, ErrCollaboratorUnavailable
}
