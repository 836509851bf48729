package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/repository"
)

// Rollback redeploys an earlier snapshot in place of deployment id. Without a target the
// latest unused history entry of id is the snapshot, so each entry can back one rollback.
// With a target the snapshot is taken from the target row.
func (o *Orchestrator) Rollback(
	ctx context.Context,
	caller domain.CallerMetadata,
	id uuid.UUID,
	targetID *uuid.UUID,
) (*domain.Deployment, error) {
	const op = "rollback_deployment"
	if err := o.access.VerifyDeploymentOwnership(ctx, id, caller); err != nil {
		return nil, err
	}
	current, err := o.find(op, id)
	if err != nil {
		return nil, err
	}

	snapshot, source, err := o.resolveSnapshot(ctx, caller, current, targetID)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(domain.DeploymentStatusRollingBack) {
		return nil, domain.Validation(op, "cannot roll back deployment in status %s", current.Status)
	}

	next := domain.NewDeployment(current.ProjectID, current.OwnerID, snapshot.ClusterID, snapshot.ServerID)
	if snapshot.EnvVars != nil {
		next.EnvVars = maps.Clone(snapshot.EnvVars)
	}
	next.ServiceStatuses = append([]domain.ServiceStatus(nil), snapshot.ServiceStatuses...)
	next.Config = snapshot.Config
	next.RollbackOfID = &current.ID
	jobID := uuid.NewString()
	next.JobID = &jobID
	if err := o.store.CreateDeployment(&next); err != nil {
		return nil, fmt.Errorf("failed to create rollback deployment: %w", err)
	}

	history := domain.NewDeploymentHistory(&next)
	if err := o.store.CreateHistory(&history); err != nil {
		slog.Error("Failed to record deployment history",
			"layer", "service",
			"operation", op,
			"deployment_id", next.ID,
			"error", err)
	}

	if err := o.agent.RollbackDeployment(ctx, current, &next); err != nil {
		slog.Warn("Runner agent was not notified of rollback",
			"layer", "service",
			"operation", op,
			"deployment_id", current.ID,
			"rollback_id", next.ID,
			"error", err)
	}

	previous := current.Status
	current.Status = domain.DeploymentStatusRollingBack
	marked, err := o.store.UpdateDeploymentIf(current, previous)
	if err != nil {
		return nil, fmt.Errorf("failed to update deployment: %w", err)
	}
	if !marked {
		o.abandon(&next, "deployment "+current.ID.String()+" changed state before the rollback started")
		return nil, domain.Validation(op, "deployment changed state while starting the rollback; retry")
	}
	if source != nil {
		source.RolledBack = true
		if err := o.store.UpdateHistory(source); err != nil {
			return nil, fmt.Errorf("failed to mark history entry %s as rolled back: %w", source.ID, err)
		}
	}

	o.enqueue(ctx, &next)

	slog.Info("Deployment rollback started",
		"layer", "service",
		"operation", op,
		"deployment_id", current.ID,
		"rollback_id", next.ID,
		"snapshot_of", snapshot.DeploymentID,
		"user_id", caller.UserID)
	return &next, nil
}

// resolveSnapshot returns the snapshot to redeploy and the history entry to consume, which
// is nil when an explicit target has no unused entry left
func (o *Orchestrator) resolveSnapshot(
	ctx context.Context,
	caller domain.CallerMetadata,
	current *domain.Deployment,
	targetID *uuid.UUID,
) (domain.DeploymentSnapshot, *domain.DeploymentHistory, error) {
	const op = "rollback_deployment"

	if targetID == nil {
		entry, err := o.store.FindLatestHistory(current.ID)
		if err != nil {
			if repository.IsNotFound(err) {
				return domain.DeploymentSnapshot{}, nil, &domain.Error{
					Kind:    domain.KindNotFound,
					Op:      op,
					Message: "no previous deployment found for rollback",
				}
			}
			return domain.DeploymentSnapshot{}, nil, fmt.Errorf("failed to load deployment history: %w", err)
		}
		return entry.Snapshot, entry, nil
	}

	if err := o.access.VerifyDeploymentOwnership(ctx, *targetID, caller); err != nil {
		return domain.DeploymentSnapshot{}, nil, err
	}
	target, err := o.find(op, *targetID)
	if err != nil {
		return domain.DeploymentSnapshot{}, nil, err
	}
	if target.ProjectID != current.ProjectID {
		return domain.DeploymentSnapshot{}, nil, domain.Validation(op, "target deployment %s belongs to another project", target.ID)
	}

	entry, err := o.store.FindLatestHistory(target.ID)
	if err != nil && !repository.IsNotFound(err) {
		return domain.DeploymentSnapshot{}, nil, fmt.Errorf("failed to load deployment history: %w", err)
	}
	return domain.SnapshotOf(target), entry, nil
}

// abandon fails a rollback deployment that was created but will never be queued
func (o *Orchestrator) abandon(d *domain.Deployment, reason string) {
	now := time.Now()
	d.Status = domain.DeploymentStatusFailed
	d.CompletedAt = &now
	d.ErrorMessage = reason
	if _, err := o.store.UpdateDeploymentIf(d, domain.DeploymentStatusPending); err != nil {
		slog.Error("Failed to abandon rollback deployment",
			"layer", "service",
			"operation", "rollback_deployment",
			"deployment_id", d.ID,
			"error", err)
	}
}
