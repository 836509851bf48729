package sshjobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/hostinfo"
	"github.com/oar-cd/moor/queue"
	"github.com/oar-cd/moor/repository"
	"github.com/oar-cd/moor/sshexec"
)

// ServerStore is the slice of the server repository the processor needs
type ServerStore interface {
	FindByID(id uuid.UUID) (*domain.Server, error)
}

type Decrypter interface {
	Decrypt(ciphertext *string) (*string, error)
}

type InfoCollector interface {
	Collect(ctx context.Context, runner hostinfo.SafeRunner) domain.ServerInfo
}

// Processor executes SSH jobs. Every job opens its own session and closes it before returning.
type Processor struct {
	servers   ServerStore
	vault     Decrypter
	executor  *sshexec.Executor
	collector InfoCollector
}

func NewProcessor(servers ServerStore, vault Decrypter, executor *sshexec.Executor, collector InfoCollector) *Processor {
	if collector == nil {
		collector = hostinfo.NewCollector()
	}
	return &Processor{
		servers:   servers,
		vault:     vault,
		executor:  executor,
		collector: collector,
	}
}

// Handler returns the queue handler for the given SSH queue
func (p *Processor) Handler(queueName string) queue.Handler {
	switch queueName {
	case ConnectionQueue:
		return p.HandleTestConnection
	case CommandQueue:
		return p.HandleExecuteCommand
	case InfoQueue:
		return p.HandleCollectInfo
	default:
		return func(context.Context, *queue.Job) (any, error) {
			return nil, queue.Permanent(fmt.Errorf("no handler for queue %s", queueName))
		}
	}
}

func (p *Processor) HandleTestConnection(ctx context.Context, job *queue.Job) (any, error) {
	var payload TestConnectionPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, queue.Permanent(err)
	}

	var info sshexec.ConnectionInfo
	switch {
	case payload.ServerID != nil:
		resolved, err := p.connectionInfo(*payload.ServerID)
		if err != nil {
			return nil, err
		}
		info = resolved
	case payload.ConnectionInfo != nil:
		opened, err := p.open(*payload.ConnectionInfo)
		if err != nil {
			return nil, err
		}
		info = opened
	default:
		return nil, queue.Permanent(domain.Validation("test_connection", "either serverId or connectionInfo is required"))
	}

	slog.Info("Testing SSH connection",
		"layer", "worker",
		"operation", "test_connection",
		"job_id", job.ID,
		"address", info.Address())

	session, err := p.executor.Connect(ctx, info)
	if err != nil {
		slog.Warn("SSH connection test failed",
			"layer", "worker",
			"operation", "test_connection",
			"job_id", job.ID,
			"address", info.Address(),
			"error", err)
		return &JobResult{
			Success:    false,
			Connection: &ConnectionOutcome{Connected: false, ErrorMessage: err.Error()},
			Error:      err.Error(),
		}, nil
	}
	defer p.executor.Disconnect(session)

	facts := p.collector.Collect(ctx, p.executor.Runner(session))
	return &JobResult{
		Success: true,
		Connection: &ConnectionOutcome{
			Connected:       true,
			DockerAvailable: facts.DockerInstalled,
			ServerInfo:      &facts,
		},
	}, nil
}

func (p *Processor) HandleExecuteCommand(ctx context.Context, job *queue.Job) (any, error) {
	var payload ExecuteCommandPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, queue.Permanent(err)
	}
	if payload.Command == "" {
		return nil, queue.Permanent(domain.Validation("execute_command", "command is required"))
	}

	info, err := p.connectionInfo(payload.ServerID)
	if err != nil {
		return nil, err
	}

	session, err := p.executor.Connect(ctx, info)
	if err != nil {
		return nil, err
	}
	defer p.executor.Disconnect(session)

	slog.Debug("Executing remote command",
		"layer", "worker",
		"operation", "execute_command",
		"job_id", job.ID,
		"server_id", payload.ServerID,
		"safe", payload.Safe)

	result, err := p.executor.ExecuteDetailed(ctx, session, payload.Command, payload.Timeout)
	if err != nil {
		if !errors.Is(err, sshexec.ErrCommandTimeout) {
			return nil, err
		}
		return &JobResult{
			Success: false,
			Command: &CommandOutcome{Stderr: err.Error(), ExitCode: -1},
			Error:   err.Error(),
		}, nil
	}

	out := &JobResult{
		Success: result.ExitCode == 0,
		Command: &CommandOutcome{
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			ExitCode: result.ExitCode,
		},
	}
	if result.ExitCode != 0 && !payload.Safe {
		out.Error = (&sshexec.CommandError{
			Command:  payload.Command,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}).Error()
	}
	return out, nil
}

func (p *Processor) HandleCollectInfo(ctx context.Context, job *queue.Job) (any, error) {
	var payload CollectInfoPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, queue.Permanent(err)
	}

	info, err := p.connectionInfo(payload.ServerID)
	if err != nil {
		return nil, err
	}

	session, err := p.executor.Connect(ctx, info)
	if err != nil {
		return nil, err
	}
	defer p.executor.Disconnect(session)

	facts := p.collector.Collect(ctx, p.executor.Runner(session))
	return &JobResult{Success: true, Info: &facts}, nil
}

// open decrypts credentials sealed by the client
func (p *Processor) open(info sshexec.ConnectionInfo) (sshexec.ConnectionInfo, error) {
	if p.vault == nil {
		return info, queue.Permanent(domain.Configuration("decrypt_credentials", "no vault configured for connection credentials", nil))
	}
	key, err := p.vault.Decrypt(&info.PrivateKey)
	if err != nil {
		return info, queue.Permanent(domain.Security("decrypt_credentials", "failed to decrypt private key", err))
	}
	password, err := p.vault.Decrypt(&info.Password)
	if err != nil {
		return info, queue.Permanent(domain.Security("decrypt_credentials", "failed to decrypt password", err))
	}
	info.PrivateKey = *key
	info.Password = *password
	return info, nil
}

// connectionInfo loads a server and decrypts its credentials. A missing server is retried,
// a decryption failure is not.
func (p *Processor) connectionInfo(serverID uuid.UUID) (sshexec.ConnectionInfo, error) {
	server, err := p.servers.FindByID(serverID)
	if err != nil {
		if repository.IsNotFound(err) {
			return sshexec.ConnectionInfo{}, domain.NotFound("resolve_server", "server", serverID)
		}
		return sshexec.ConnectionInfo{}, fmt.Errorf("failed to load server %s: %w", serverID, err)
	}

	key, err := p.vault.Decrypt(server.PrivateKey)
	if err != nil {
		return sshexec.ConnectionInfo{}, queue.Permanent(
			domain.Security("decrypt_credentials", fmt.Sprintf("failed to decrypt private key of server %s", serverID), err))
	}
	password, err := p.vault.Decrypt(server.Password)
	if err != nil {
		return sshexec.ConnectionInfo{}, queue.Permanent(
			domain.Security("decrypt_credentials", fmt.Sprintf("failed to decrypt password of server %s", serverID), err))
	}

	info := sshexec.ConnectionInfo{
		Host:     server.Host,
		Port:     server.Port,
		Username: server.Username,
	}
	if key != nil {
		info.PrivateKey = *key
	}
	if password != nil {
		info.Password = *password
	}
	if info.PrivateKey == "" && info.Password == "" {
		return sshexec.ConnectionInfo{}, queue.Permanent(
			domain.Validation("resolve_server", "server %s has neither a private key nor a password", serverID))
	}
	return info, nil
}
