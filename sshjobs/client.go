package sshjobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/queue"
	"github.com/oar-cd/moor/sshexec"
)

const (
	DefaultWaitTimeout = 60 * time.Second
	// DefaultJobTimeout bounds one handler run; command jobs stretch it to fit their command
	DefaultJobTimeout = 2 * time.Minute
)

// Sealer encrypts credentials before they are written into a job record
type Sealer interface {
	EncryptString(plaintext string) (string, error)
}

// Client submits SSH jobs and waits for their results
type Client struct {
	jobs        *queue.Client
	sealer      Sealer
	opts        queue.Options
	waitTimeout time.Duration
}

func NewClient(jobs *queue.Client, sealer Sealer, waitTimeout time.Duration) *Client {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	opts := queue.DefaultOptions()
	opts.Timeout = DefaultJobTimeout
	return &Client{
		jobs:        jobs,
		sealer:      sealer,
		opts:        opts,
		waitTimeout: waitTimeout,
	}
}

// WithOptions returns a copy of the client that submits jobs with opts
func (c *Client) WithOptions(opts queue.Options) *Client {
	clone := *c
	clone.opts = opts
	return &clone
}

// CreateTestConnectionJob submits a connection test. Raw credentials are sealed before
// they reach the queue, and the job record is dropped whatever the outcome.
func (c *Client) CreateTestConnectionJob(ctx context.Context, payload TestConnectionPayload) (string, error) {
	if payload.ConnectionInfo != nil {
		sealed, err := c.seal(*payload.ConnectionInfo)
		if err != nil {
			return "", err
		}
		payload.ConnectionInfo = &sealed
	}
	opts := c.opts
	opts.RemoveOnComplete = true
	opts.RemoveOnFail = true
	return c.addWith(ctx, ConnectionQueue, JobTestConnection, payload, opts, 0)
}

func (c *Client) CreateExecuteCommandJob(ctx context.Context, payload ExecuteCommandPayload) (string, error) {
	return c.add(ctx, CommandQueue, JobExecuteCommand, payload, payload.Timeout)
}

func (c *Client) CreateCollectInfoJob(ctx context.Context, payload CollectInfoPayload) (string, error) {
	return c.add(ctx, InfoQueue, JobCollectInfo, payload, 0)
}

func (c *Client) seal(info sshexec.ConnectionInfo) (sshexec.ConnectionInfo, error) {
	const op = "seal_credentials"
	if info.PrivateKey == "" && info.Password == "" {
		return info, nil
	}
	if c.sealer == nil {
		return info, domain.Configuration(op, "no vault configured for connection credentials", nil)
	}
	var err error
	if info.PrivateKey, err = c.sealer.EncryptString(info.PrivateKey); err != nil {
		return info, domain.Security(op, "failed to encrypt private key", err)
	}
	if info.Password, err = c.sealer.EncryptString(info.Password); err != nil {
		return info, domain.Security(op, "failed to encrypt password", err)
	}
	return info, nil
}

func (c *Client) add(ctx context.Context, queueName, name string, payload any, commandTimeout time.Duration) (string, error) {
	return c.addWith(ctx, queueName, name, payload, c.opts, commandTimeout)
}

func (c *Client) addWith(ctx context.Context, queueName, name string, payload any, opts queue.Options, commandTimeout time.Duration) (string, error) {
	if commandTimeout > 0 && opts.Timeout > 0 && opts.Timeout < commandTimeout+sshexec.DefaultConnectTimeout {
		// The job must outlive the command it runs
		opts.Timeout = commandTimeout + sshexec.DefaultConnectTimeout
	}
	id, err := c.jobs.Add(ctx, queueName, name, payload, opts)
	if err != nil {
		return "", domain.Infrastructure("enqueue_"+name, "failed to submit job", err)
	}
	return id, nil
}

// WaitForResult blocks until the job finishes or timeout elapses
func (c *Client) WaitForResult(ctx context.Context, queueName, id string, timeout time.Duration) (*JobResult, error) {
	if timeout <= 0 {
		timeout = c.waitTimeout
	}
	var result JobResult
	if err := c.jobs.Wait(ctx, queueName, id, timeout, &result); err != nil {
		slog.Warn("SSH job did not produce a result",
			"layer", "service",
			"operation", "wait_for_result",
			"queue", queueName,
			"job_id", id,
			"error", err)
		return nil, domain.Infrastructure("wait_for_result", "ssh job "+id+" failed", err)
	}
	return &result, nil
}

// TestConnection tests a stored server when serverID is set, otherwise the raw connection details
func (c *Client) TestConnection(ctx context.Context, serverID *uuid.UUID, info *sshexec.ConnectionInfo, caller domain.CallerMetadata) (*JobResult, error) {
	id, err := c.CreateTestConnectionJob(ctx, TestConnectionPayload{
		ServerID:       serverID,
		ConnectionInfo: info,
		Metadata:       caller,
	})
	if err != nil {
		return nil, err
	}
	return c.WaitForResult(ctx, ConnectionQueue, id, 0)
}

// ExecuteCommand runs command on the server and waits for the command timeout plus the default wait
func (c *Client) ExecuteCommand(ctx context.Context, serverID uuid.UUID, command string, timeout time.Duration, safe bool, caller domain.CallerMetadata) (*JobResult, error) {
	id, err := c.CreateExecuteCommandJob(ctx, ExecuteCommandPayload{
		ServerID: serverID,
		Command:  command,
		Timeout:  timeout,
		Safe:     safe,
		Metadata: caller,
	})
	if err != nil {
		return nil, err
	}
	return c.WaitForResult(ctx, CommandQueue, id, timeout+c.waitTimeout)
}

func (c *Client) CollectInfo(ctx context.Context, serverID uuid.UUID, caller domain.CallerMetadata) (*JobResult, error) {
	id, err := c.CreateCollectInfoJob(ctx, CollectInfoPayload{ServerID: serverID, Metadata: caller})
	if err != nil {
		return nil, err
	}
	return c.WaitForResult(ctx, InfoQueue, id, 0)
}

// Workers builds one worker per SSH queue
func Workers(broker queue.Broker, processor *Processor, concurrency int) []*queue.Worker {
	workers := make([]*queue.Worker, 0, len(Queues))
	for _, name := range Queues {
		workers = append(workers, &queue.Worker{
			Broker:      broker,
			Queue:       name,
			Handler:     processor.Handler(name),
			Concurrency: concurrency,
		})
	}
	return workers
}
