package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/queue"
	"github.com/oar-cd/moor/repository"
)

const (
	DefaultStatusPollInterval = 5 * time.Second
	DefaultMaxStatusPolls     = 60
)

var (
	errStillRunning = errors.New("deployment still running")
	errSuperseded   = errors.New("deployment changed state while running")
)

// DeployJobOptions covers a full status polling window per attempt
func DeployJobOptions() queue.Options {
	opts := queue.DefaultOptions()
	opts.Timeout = DefaultStatusPollInterval*DefaultMaxStatusPolls + time.Minute
	return opts
}

// ProcessResult is stored as the deploy job's result
type ProcessResult struct {
	DeploymentID string `json:"deploymentId"`
	Status       string `json:"status"`
	Skipped      bool   `json:"skipped,omitempty"`
}

// Processor runs deploy jobs: it hands the deployment to the runner agent and follows it
// until the agent reports a final state
type Processor struct {
	store Persistence
	agent RunnerAgent

	PollInterval time.Duration
	MaxPolls     int
}

func NewProcessor(store Persistence, agent RunnerAgent) *Processor {
	if agent == nil {
		agent = NoopRunnerAgent{}
	}
	return &Processor{
		store:        store,
		agent:        agent,
		PollInterval: DefaultStatusPollInterval,
		MaxPolls:     DefaultMaxStatusPolls,
	}
}

// Worker consumes the deployment queue with p
func (p *Processor) Worker(broker queue.Broker, concurrency int) *queue.Worker {
	return &queue.Worker{
		Broker:      broker,
		Queue:       DeploymentQueue,
		Handler:     p.Handle,
		Concurrency: concurrency,
	}
}

func (p *Processor) Handle(ctx context.Context, job *queue.Job) (any, error) {
	const op = "process_deployment"
	var payload DeployJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, queue.Permanent(domain.Validation(op, "invalid deploy payload: %v", err))
	}

	d, err := p.store.FindDeployment(payload.DeploymentID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, queue.Permanent(domain.NotFound(op, "deployment", payload.DeploymentID))
		}
		return nil, fmt.Errorf("failed to load deployment: %w", err)
	}
	if d.Status != domain.DeploymentStatusPending {
		slog.Info("Skipping deployment that is not pending",
			"layer", "worker",
			"operation", op,
			"deployment_id", d.ID,
			"status", d.Status.String())
		return ProcessResult{DeploymentID: d.ID.String(), Status: d.Status.String(), Skipped: true}, nil
	}

	now := time.Now()
	d.Status = domain.DeploymentStatusInProgress
	d.StartedAt = &now
	started, err := p.store.UpdateDeploymentIf(d, domain.DeploymentStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to mark deployment in progress: %w", err)
	}
	if !started {
		slog.Info("Deployment left pending state before it started",
			"layer", "worker",
			"operation", op,
			"deployment_id", d.ID)
		return ProcessResult{DeploymentID: d.ID.String(), Status: p.currentStatus(d), Skipped: true}, nil
	}

	slog.Info("Deployment started",
		"layer", "worker",
		"operation", op,
		"deployment_id", d.ID,
		"target_id", d.TargetID(),
		"rollback_of", d.RollbackOfID)

	ack, err := p.agent.Deploy(ctx, d)
	if err == nil && (ack == nil || !ack.Accepted) {
		message := "deployment was not accepted by the runner agent"
		if ack != nil && ack.Message != "" {
			message = ack.Message
		}
		err = errors.New(message)
	}
	if err != nil {
		p.finish(d, domain.DeploymentStatusFailed, err.Error())
		return nil, queue.Permanent(domain.External(op, "runner agent rejected deployment", err))
	}

	final, err := p.follow(ctx, d)
	switch {
	case errors.Is(err, errSuperseded):
		status := p.currentStatus(d)
		slog.Info("Deployment left by processor after external state change",
			"layer", "worker",
			"operation", op,
			"deployment_id", d.ID,
			"status", status)
		return ProcessResult{DeploymentID: d.ID.String(), Status: status}, nil
	case err != nil:
		message := fmt.Sprintf("deployment did not finish after %d status checks", p.MaxPolls)
		if ctx.Err() != nil {
			message = fmt.Sprintf("deployment interrupted: %v", ctx.Err())
		}
		p.finish(d, domain.DeploymentStatusFailed, message)
		return ProcessResult{DeploymentID: d.ID.String(), Status: domain.DeploymentStatusFailed.String()}, nil
	}

	p.finish(d, final.Status, final.ErrorMessage)
	return ProcessResult{DeploymentID: d.ID.String(), Status: final.Status.String()}, nil
}

// follow polls the agent at a constant interval until it reports success or failure
func (p *Processor) follow(ctx context.Context, d *domain.Deployment) (*AgentStatus, error) {
	var final *AgentStatus
	poll := func() error {
		current, err := p.store.FindDeployment(d.ID)
		if err == nil && current.Status != domain.DeploymentStatusInProgress {
			return backoff.Permanent(errSuperseded)
		}

		status, err := p.agent.GetDeploymentStatus(ctx, d)
		if err != nil {
			if errors.Is(err, ErrCollaboratorUnavailable) {
				return backoff.Permanent(err)
			}
			slog.Debug("Deployment status check failed",
				"layer", "worker",
				"operation", "poll_deployment",
				"deployment_id", d.ID,
				"error", err)
			return err
		}

		if len(status.Services) > 0 {
			stored, err := p.store.UpdateServiceStatuses(d.ID, status.Services, domain.DeploymentStatusInProgress)
			switch {
			case err != nil:
				slog.Warn("Failed to store service statuses",
					"layer", "worker",
					"operation", "poll_deployment",
					"deployment_id", d.ID,
					"error", err)
			case !stored:
				return backoff.Permanent(errSuperseded)
			default:
				d.ServiceStatuses = status.Services
			}
		}

		switch status.Status {
		case domain.DeploymentStatusSuccess, domain.DeploymentStatusFailed:
			final = status
			return nil
		}
		return errStillRunning
	}

	interval := p.PollInterval
	if interval <= 0 {
		interval = DefaultStatusPollInterval
	}
	polls := p.MaxPolls
	if polls < 1 {
		polls = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(polls-1)),
		ctx,
	)
	if err := backoff.Retry(poll, b); err != nil {
		return nil, err
	}
	return final, nil
}

// finish records the final state of d and settles the deployment it rolled back
func (p *Processor) finish(d *domain.Deployment, status domain.DeploymentStatus, message string) {
	const op = "finish_deployment"
	if current, err := p.store.FindDeployment(d.ID); err == nil {
		current.ServiceStatuses = d.ServiceStatuses
		d = current
	}
	// A cancel or rollback that landed meanwhile owns the row
	if d.Status != domain.DeploymentStatusInProgress {
		slog.Warn("Ignoring final state for deployment that is no longer in progress",
			"layer", "worker",
			"operation", op,
			"deployment_id", d.ID,
			"from", d.Status.String(),
			"to", status.String())
		return
	}

	now := time.Now()
	d.Status = status
	d.CompletedAt = &now
	d.ErrorMessage = message
	recorded, err := p.store.UpdateDeploymentIf(d, domain.DeploymentStatusInProgress)
	if err != nil {
		slog.Error("Failed to record deployment result",
			"layer", "worker",
			"operation", op,
			"deployment_id", d.ID,
			"status", status.String(),
			"error", err)
		return
	}
	if !recorded {
		slog.Warn("Ignoring final state for deployment that is no longer in progress",
			"layer", "worker",
			"operation", op,
			"deployment_id", d.ID,
			"to", status.String())
		return
	}

	slog.Info("Deployment finished",
		"layer", "worker",
		"operation", op,
		"deployment_id", d.ID,
		"status", status.String(),
		"error_message", message)

	if d.RollbackOfID != nil {
		p.settleSuperseded(*d.RollbackOfID, status, d.ID.String())
	}
}

func (p *Processor) settleSuperseded(id uuid.UUID, rollbackStatus domain.DeploymentStatus, rollbackID string) {
	const op = "finish_rollback"
	superseded, err := p.store.FindDeployment(id)
	if err != nil {
		slog.Warn("Superseded deployment not found",
			"layer", "worker",
			"operation", op,
			"deployment_id", id,
			"error", err)
		return
	}
	if superseded.Status != domain.DeploymentStatusRollingBack {
		return
	}

	now := time.Now()
	if rollbackStatus == domain.DeploymentStatusSuccess {
		superseded.Status = domain.DeploymentStatusRolledBack
	} else {
		superseded.Status = domain.DeploymentStatusFailed
		superseded.ErrorMessage = "rollback deployment " + rollbackID + " failed"
	}
	superseded.CompletedAt = &now
	if _, err := p.store.UpdateDeploymentIf(superseded, domain.DeploymentStatusRollingBack); err != nil {
		slog.Error("Failed to settle superseded deployment",
			"layer", "worker",
			"operation", op,
			"deployment_id", superseded.ID,
			"error", err)
	}
}

func (p *Processor) currentStatus(d *domain.Deployment) string {
	if current, err := p.store.FindDeployment(d.ID); err == nil {
		return current.Status.String()
	}
	return d.Status.String()
}
