// Package deploy turns generated projects into deployments on servers or clusters: it
// synthesizes compose artifacts, tracks deployment state and history, queues rollouts for
// the runner agent and rolls deployments back to earlier snapshots.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/repository"
)

const (
	DeploymentQueue = "deployment-queue"
	JobDeploy       = "deploy"

	SourceAgent    = "agent"
	SourceDatabase = "database"

	cancelledMessage = "cancelled by user"
)

// DeployJobPayload is the body of a deploy job
type DeployJobPayload struct {
	DeploymentID uuid.UUID `json:"deploymentId"`
}

type DeployInput struct {
	ProjectID uuid.UUID
	ClusterID *uuid.UUID
	ServerID  *uuid.UUID
	EnvVars   map[string]string
}

func (in DeployInput) validate() error {
	const op = "deploy"
	if in.ProjectID == uuid.Nil {
		return domain.Validation(op, "project id is required")
	}
	if (in.ClusterID == nil) == (in.ServerID == nil) {
		return domain.Validation(op, "exactly one of cluster id or server id is required")
	}
	return nil
}

// StatusView is the current state of a deployment, live from the agent when it answers
type StatusView struct {
	DeploymentID    uuid.UUID              `json:"deploymentId"`
	Status          string                 `json:"status"`
	Stage           string                 `json:"currentStage,omitempty"`
	ProgressPercent int                    `json:"progressPercent"`
	Services        []domain.ServiceStatus `json:"serviceStatuses"`
	ErrorMessage    string                 `json:"errorMessage,omitempty"`
	Source          string                 `json:"source"`
}

// Collaborators bundles what the orchestrator talks to. Nil optional collaborators are
// replaced with their null objects.
type Collaborators struct {
	Store          Persistence
	Infrastructure Infrastructure
	Codegen        Codegen
	Agent          RunnerAgent
	Access         AccessControl
	Jobs           JobQueue
}

type Orchestrator struct {
	store         Persistence
	infra         Infrastructure
	codegen       Codegen
	agent         RunnerAgent
	access        AccessControl
	jobs          JobQueue
	maxPerProject int
}

// NewOrchestrator builds the orchestrator. maxPerProject <= 0 disables the deployment limit.
func NewOrchestrator(c Collaborators, maxPerProject int) *Orchestrator {
	o := &Orchestrator{
		store:         c.Store,
		infra:         c.Infrastructure,
		codegen:       c.Codegen,
		agent:         c.Agent,
		access:        c.Access,
		jobs:          c.Jobs,
		maxPerProject: maxPerProject,
	}
	if o.infra == nil {
		o.infra = UnavailableInfrastructure{}
	}
	if o.codegen == nil {
		o.codegen = NoopCodegen{}
	}
	if o.agent == nil {
		o.agent = NoopRunnerAgent{}
	}
	return o
}

func (o *Orchestrator) Deploy(ctx context.Context, caller domain.CallerMetadata, in DeployInput) (*domain.Deployment, error) {
	const op = "deploy"
	if err := in.validate(); err != nil {
		return nil, err
	}

	if o.maxPerProject > 0 {
		count, err := o.store.CountDeployments(in.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to count deployments: %w", err)
		}
		if count >= int64(o.maxPerProject) {
			return nil, domain.Validation(op, "deployment limit of %d reached for project %s", o.maxPerProject, in.ProjectID)
		}
	}

	if err := o.checkTarget(ctx, caller, in); err != nil {
		return nil, err
	}

	generated, err := o.codegen.GenerateProject(ctx, in.ProjectID)
	if err != nil {
		if errors.Is(err, ErrCollaboratorUnavailable) {
			return nil, domain.External(op, "code generation is not available", err)
		}
		if isDomainError(err) {
			return nil, err
		}
		return nil, domain.External(op, "failed to load generated code", err)
	}

	d := domain.NewDeployment(in.ProjectID, caller.UserID, in.ClusterID, in.ServerID)
	if in.EnvVars != nil {
		d.EnvVars = maps.Clone(in.EnvVars)
	}
	if d.Config, err = BuildArtifacts(generated, in.ProjectID, d.ID, d.EnvVars); err != nil {
		return nil, err
	}

	// The job id is fixed up front so the row never has to be rewritten once a worker may own it
	jobID := uuid.NewString()
	d.JobID = &jobID
	if err := o.store.CreateDeployment(&d); err != nil {
		return nil, fmt.Errorf("failed to create deployment: %w", err)
	}

	o.enqueue(ctx, &d)

	history := domain.NewDeploymentHistory(&d)
	if err := o.store.CreateHistory(&history); err != nil {
		slog.Error("Failed to record deployment history",
			"layer", "service",
			"operation", op,
			"deployment_id", d.ID,
			"error", err)
	}

	slog.Info("Deployment created",
		"layer", "service",
		"operation", op,
		"deployment_id", d.ID,
		"project_id", d.ProjectID,
		"target_id", d.TargetID(),
		"services", len(d.Config.DockerImages))
	return &d, nil
}

// checkTarget verifies the target exists and belongs to the caller
func (o *Orchestrator) checkTarget(ctx context.Context, caller domain.CallerMetadata, in DeployInput) error {
	const op = "resolve_target"
	var err error
	if in.ServerID != nil {
		if _, err = o.infra.GetServer(ctx, *in.ServerID); err == nil {
			err = o.access.VerifyServerOwnership(ctx, *in.ServerID, caller)
		}
	} else {
		if _, err = o.infra.GetCluster(ctx, *in.ClusterID); err == nil {
			err = o.access.VerifyClusterOwnership(ctx, *in.ClusterID, caller)
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCollaboratorUnavailable):
		return domain.External(op, "infrastructure lookup is not available", err)
	case repository.IsNotFound(err):
		if in.ServerID != nil {
			return domain.NotFound(op, "server", *in.ServerID)
		}
		return domain.NotFound(op, "cluster", *in.ClusterID)
	}
	if isDomainError(err) {
		return err
	}
	return domain.External(op, "failed to resolve deployment target", err)
}

// enqueue submits the deploy job under the id already stored on d. A failed submission is
// left for the reconciler.
func (o *Orchestrator) enqueue(ctx context.Context, d *domain.Deployment) {
	if o.jobs == nil {
		slog.Warn("Deployment queue unavailable, deployment left pending",
			"layer", "service",
			"operation", "enqueue_deployment",
			"deployment_id", d.ID)
		return
	}

	opts := DeployJobOptions()
	if d.JobID != nil {
		opts.JobID = *d.JobID
	}
	if _, err := o.jobs.Add(ctx, DeploymentQueue, JobDeploy, DeployJobPayload{DeploymentID: d.ID}, opts); err != nil {
		slog.Warn("Failed to enqueue deployment job, deployment left pending",
			"layer", "service",
			"operation", "enqueue_deployment",
			"deployment_id", d.ID,
			"error", err)
	}
}

func (o *Orchestrator) Get(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.Deployment, error) {
	if err := o.access.VerifyDeploymentOwnership(ctx, id, caller); err != nil {
		return nil, err
	}
	return o.find("get_deployment", id)
}

func (o *Orchestrator) find(op string, id uuid.UUID) (*domain.Deployment, error) {
	d, err := o.store.FindDeployment(id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound(op, "deployment", id)
		}
		return nil, fmt.Errorf("failed to load deployment: %w", err)
	}
	return d, nil
}

// List returns one page of a project's deployments, newest first, and the total count
func (o *Orchestrator) List(
	ctx context.Context,
	caller domain.CallerMetadata,
	projectID uuid.UUID,
	page domain.Page,
	status *domain.DeploymentStatus,
) ([]*domain.Deployment, int64, error) {
	if projectID == uuid.Nil {
		return nil, 0, domain.Validation("list_deployments", "project id is required")
	}
	filter := domain.DeploymentFilter{Status: status}
	if !caller.HasRole(domain.RoleAdmin) {
		userID := caller.UserID
		filter.VisibleTo = &userID
	}
	deployments, total, err := o.store.ListDeployments(projectID, page.Normalize(), filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list deployments: %w", err)
	}
	return deployments, total, nil
}

// Cancel stops a deployment that has not finished. Queue and agent cleanup are best effort.
func (o *Orchestrator) Cancel(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.Deployment, error) {
	const op = "cancel_deployment"
	if err := o.access.VerifyDeploymentOwnership(ctx, id, caller); err != nil {
		return nil, err
	}
	d, err := o.find(op, id)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.DeploymentStatusPending && d.Status != domain.DeploymentStatusInProgress {
		return nil, domain.Validation(op, "cannot cancel deployment in status %s", d.Status)
	}

	if d.JobID != nil && o.jobs != nil {
		if err := o.jobs.Cancel(ctx, DeploymentQueue, *d.JobID); err != nil {
			slog.Warn("Failed to remove deployment job",
				"layer", "service",
				"operation", op,
				"deployment_id", d.ID,
				"job_id", *d.JobID,
				"error", err)
		}
	}
	if err := o.agent.CancelDeployment(ctx, d); err != nil {
		slog.Warn("Runner agent did not cancel deployment",
			"layer", "service",
			"operation", op,
			"deployment_id", d.ID,
			"error", err)
	}

	now := time.Now()
	previous := d.Status
	d.Status = domain.DeploymentStatusFailed
	d.CompletedAt = &now
	d.ErrorMessage = cancelledMessage
	cancelled, err := o.store.UpdateDeploymentIf(d, previous)
	if err != nil {
		return nil, fmt.Errorf("failed to update deployment: %w", err)
	}
	if !cancelled {
		return nil, domain.Validation(op, "deployment changed state while cancelling; retry")
	}

	slog.Info("Deployment cancelled",
		"layer", "service",
		"operation", op,
		"deployment_id", d.ID,
		"user_id", caller.UserID)
	return d, nil
}

// Status reports live rollout state from the agent, falling back to the stored row
func (o *Orchestrator) Status(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*StatusView, error) {
	const op = "deployment_status"
	if err := o.access.VerifyDeploymentOwnership(ctx, id, caller); err != nil {
		return nil, err
	}
	d, err := o.find(op, id)
	if err != nil {
		return nil, err
	}

	live, err := o.agent.GetDeploymentStatus(ctx, d)
	if err == nil && live != nil {
		services := live.Services
		if services == nil {
			services = d.ServiceStatuses
		}
		return &StatusView{
			DeploymentID:    d.ID,
			Status:          live.Status.String(),
			Stage:           live.Stage,
			ProgressPercent: live.ProgressPercent,
			Services:        orEmpty(services),
			ErrorMessage:    live.ErrorMessage,
			Source:          SourceAgent,
		}, nil
	}
	if err != nil && !errors.Is(err, ErrCollaboratorUnavailable) {
		slog.Debug("Agent status unavailable, using stored state",
			"layer", "service",
			"operation", op,
			"deployment_id", d.ID,
			"error", err)
	}

	return &StatusView{
		DeploymentID:    d.ID,
		Status:          d.Status.String(),
		ProgressPercent: storedProgress(d.Status),
		Services:        orEmpty(d.ServiceStatuses),
		ErrorMessage:    d.ErrorMessage,
		Source:          SourceDatabase,
	}, nil
}

func storedProgress(s domain.DeploymentStatus) int {
	switch s {
	case domain.DeploymentStatusSuccess, domain.DeploymentStatusRolledBack:
		return 100
	default:
		return 0
	}
}

func orEmpty(s []domain.ServiceStatus) []domain.ServiceStatus {
	if s == nil {
		return []domain.ServiceStatus{}
	}
	return s
}

func isDomainError(err error) bool {
	var de *domain.Error
	return errors.As(err, &de)
}
