package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/queue"
)

const (
	DefaultReconcileInterval = time.Minute
	// DefaultPendingGrace leaves freshly created deployments to the request that created them
	DefaultPendingGrace = 30 * time.Second
	reconcileBatch      = 100
)

// Reconciler resubmits pending deployments whose deploy job never reached the queue or
// has since disappeared from it
type Reconciler struct {
	store    Persistence
	jobs     JobQueue
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
}

func NewReconciler(store Persistence, jobs JobQueue, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Reconciler{
		store:    store,
		jobs:     jobs,
		interval: interval,
		grace:    DefaultPendingGrace,
		now:      time.Now,
	}
}

func (r *Reconciler) Start(ctx context.Context) error {
	slog.Info("Deployment reconciler starting", "layer", "reconciler", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run initial pass immediately
	if _, err := r.ReconcileOnce(ctx); err != nil {
		slog.Error("Initial reconcile pass failed", "layer", "reconciler", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Deployment reconciler shutting down", "layer", "reconciler")
			return nil
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				slog.Error("Reconcile pass failed", "layer", "reconciler", "error", err)
			}
		}
	}
}

// ReconcileOnce runs one pass and returns how many deployments were resubmitted
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	if r.jobs == nil {
		return 0, errors.New("deployment queue is not configured")
	}

	pending, err := r.store.ListDeploymentsByStatus(domain.DeploymentStatusPending, reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending deployments: %w", err)
	}

	cutoff := r.now().Add(-r.grace)
	resubmitted := 0
	for _, d := range pending {
		if d.CreatedAt.After(cutoff) {
			continue
		}
		ok, err := r.reconcile(ctx, d)
		if err != nil {
			slog.Error("Failed to reconcile deployment",
				"layer", "reconciler",
				"deployment_id", d.ID,
				"error", err)
			continue
		}
		if ok {
			resubmitted++
		}
	}

	slog.Debug("Reconcile pass completed",
		"layer", "reconciler",
		"pending", len(pending),
		"resubmitted", resubmitted)
	return resubmitted, nil
}

func (r *Reconciler) reconcile(ctx context.Context, d *domain.Deployment) (bool, error) {
	if d.JobID != nil {
		state, err := r.jobs.Status(ctx, DeploymentQueue, *d.JobID)
		if err == nil {
			if state != queue.StateFailed {
				return false, nil
			}
			// A permanently failed job will not run again; replace it
			if err := r.jobs.Cancel(ctx, DeploymentQueue, *d.JobID); err != nil && !errors.Is(err, queue.ErrJobNotFound) {
				return false, fmt.Errorf("failed to drop failed job %s: %w", *d.JobID, err)
			}
		} else if !errors.Is(err, queue.ErrJobNotFound) {
			return false, fmt.Errorf("failed to look up job %s: %w", *d.JobID, err)
		}
	} else {
		jobID := uuid.NewString()
		d.JobID = &jobID
		assigned, err := r.store.UpdateDeploymentIf(d, domain.DeploymentStatusPending)
		if err != nil {
			return false, fmt.Errorf("failed to assign job id: %w", err)
		}
		if !assigned {
			return false, nil
		}
	}

	opts := DeployJobOptions()
	opts.JobID = *d.JobID
	if _, err := r.jobs.Add(ctx, DeploymentQueue, JobDeploy, DeployJobPayload{DeploymentID: d.ID}, opts); err != nil {
		return false, fmt.Errorf("failed to enqueue deployment: %w", err)
	}

	slog.Info("Resubmitted pending deployment",
		"layer", "reconciler",
		"deployment_id", d.ID,
		"job_id", *d.JobID)
	return true, nil
}
