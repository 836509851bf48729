// Package servers manages registered hosts: registration, connection tests, fact collection,
// remote commands and credential rotation.
package servers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/encryption"
	"github.com/oar-cd/moor/repository"
	"github.com/oar-cd/moor/sshexec"
	"github.com/oar-cd/moor/sshjobs"
)

// SSHJobs is the job client surface the service drives
type SSHJobs interface {
	TestConnection(ctx context.Context, serverID *uuid.UUID, info *sshexec.ConnectionInfo, caller domain.CallerMetadata) (*sshjobs.JobResult, error)
	CollectInfo(ctx context.Context, serverID uuid.UUID, caller domain.CallerMetadata) (*sshjobs.JobResult, error)
	ExecuteCommand(ctx context.Context, serverID uuid.UUID, command string, timeout time.Duration, safe bool, caller domain.CallerMetadata) (*sshjobs.JobResult, error)
}

type AccessControl interface {
	VerifyServerOwnership(ctx context.Context, id uuid.UUID, caller domain.CallerMetadata) error
}

type RegisterServerInput struct {
	Name       string
	Host       string
	Port       int
	Username   string
	PrivateKey string
	Password   string
	ClusterID  *uuid.UUID
}

func (in RegisterServerInput) validate() error {
	const op = "register_server"
	if strings.TrimSpace(in.Host) == "" {
		return domain.Validation(op, "host is required")
	}
	if strings.TrimSpace(in.Username) == "" {
		return domain.Validation(op, "username is required")
	}
	if in.Port < 0 || in.Port > 65535 {
		return domain.Validation(op, "port must be between 1 and 65535")
	}
	if in.PrivateKey == "" && in.Password == "" {
		return domain.Validation(op, "either a private key or a password is required")
	}
	return nil
}

type Service struct {
	repo       repository.ServerRepository
	vault      *encryption.Vault
	jobs       SSHJobs
	access     AccessControl
	maxServers int
}

// NewService builds the server service. maxServersPerOwner <= 0 disables the limit.
func NewService(repo repository.ServerRepository, vault *encryption.Vault, jobs SSHJobs, access AccessControl, maxServersPerOwner int) *Service {
	return &Service{
		repo:       repo,
		vault:      vault,
		jobs:       jobs,
		access:     access,
		maxServers: maxServersPerOwner,
	}
}

func (s *Service) Register(ctx context.Context, caller domain.CallerMetadata, in RegisterServerInput) (*domain.Server, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	if s.maxServers > 0 {
		count, err := s.repo.CountByOwner(caller.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to count servers: %w", err)
		}
		if count >= int64(s.maxServers) {
			return nil, domain.Validation("register_server", "server limit of %d reached", s.maxServers)
		}
	}

	name := in.Name
	if name == "" {
		name = in.Host
	}
	server := domain.NewServer(caller.UserID, name, in.Host, in.Port, in.Username)
	server.ClusterID = in.ClusterID

	var err error
	if server.PrivateKey, err = s.encrypt(in.PrivateKey); err != nil {
		return nil, err
	}
	if server.Password, err = s.encrypt(in.Password); err != nil {
		return nil, err
	}

	if err := s.repo.Create(&server); err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	slog.Info("Server registered",
		"layer", "service",
		"operation", "register_server",
		"server_id", server.ID,
		"host", server.Host,
		"owner_id", server.OwnerID)
	return &server, nil
}

func (s *Service) encrypt(secret string) (*string, error) {
	if secret == "" {
		return nil, nil
	}
	out, err := s.vault.EncryptString(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	return &out, nil
}

func (s *Service) Get(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.Server, error) {
	if err := s.access.VerifyServerOwnership(ctx, id, caller); err != nil {
		return nil, err
	}
	return s.find(id)
}

func (s *Service) find(id uuid.UUID) (*domain.Server, error) {
	server, err := s.repo.FindByID(id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound("get_server", "server", id)
		}
		return nil, fmt.Errorf("failed to get server %s: %w", id, err)
	}
	return server, nil
}

// List returns the caller's servers, or every server for admins
func (s *Service) List(_ context.Context, caller domain.CallerMetadata) ([]*domain.Server, error) {
	var (
		servers []*domain.Server
		err     error
	)
	if caller.HasRole(domain.RoleAdmin) {
		servers, err = s.repo.List()
	} else {
		servers, err = s.repo.ListByOwner(caller.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	return servers, nil
}

// TestConnection runs a connection test and records the outcome on the server
func (s *Service) TestConnection(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*sshjobs.ConnectionOutcome, error) {
	if err := s.access.VerifyServerOwnership(ctx, id, caller); err != nil {
		return nil, err
	}

	result, err := s.jobs.TestConnection(ctx, &id, nil, caller)
	if err != nil {
		s.markError(id, err)
		return nil, err
	}

	outcome := result.Connection
	if outcome == nil {
		outcome = &sshjobs.ConnectionOutcome{ErrorMessage: result.Error}
	}

	server, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if outcome.Connected {
		now := time.Now()
		server.Status = domain.ServerStatusConnected
		server.LastConnectedAt = &now
		if outcome.ServerInfo != nil {
			server.Info = outcome.ServerInfo
		}
	} else {
		server.Status = domain.ServerStatusError
	}
	if err := s.repo.Update(server); err != nil {
		return nil, fmt.Errorf("failed to update server %s: %w", id, err)
	}

	slog.Info("Server connection tested",
		"layer", "service",
		"operation", "test_connection",
		"server_id", id,
		"connected", outcome.Connected)
	return outcome, nil
}

// TestCredentials checks raw connection details before a server is registered
func (s *Service) TestCredentials(ctx context.Context, caller domain.CallerMetadata, in RegisterServerInput) (*sshjobs.ConnectionOutcome, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	info := &sshexec.ConnectionInfo{
		Host:       in.Host,
		Port:       in.Port,
		Username:   in.Username,
		PrivateKey: in.PrivateKey,
		Password:   in.Password,
	}
	result, err := s.jobs.TestConnection(ctx, nil, info, caller)
	if err != nil {
		return nil, err
	}
	if result.Connection == nil {
		return &sshjobs.ConnectionOutcome{ErrorMessage: result.Error}, nil
	}
	return result.Connection, nil
}

// CollectInfo refreshes the server's host facts
func (s *Service) CollectInfo(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) (*domain.ServerInfo, error) {
	if err := s.access.VerifyServerOwnership(ctx, id, caller); err != nil {
		return nil, err
	}

	result, err := s.jobs.CollectInfo(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if !result.Success || result.Info == nil {
		return nil, domain.External("collect_info", "server info collection failed", fmt.Errorf("%s", result.Error))
	}

	server, err := s.find(id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	server.Info = result.Info
	server.Status = domain.ServerStatusConnected
	server.LastConnectedAt = &now
	if err := s.repo.Update(server); err != nil {
		return nil, fmt.Errorf("failed to update server %s: %w", id, err)
	}
	return result.Info, nil
}

func (s *Service) ExecuteCommand(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID, command string, timeout time.Duration, safe bool) (*sshjobs.JobResult, error) {
	if strings.TrimSpace(command) == "" {
		return nil, domain.Validation("execute_command", "command is required")
	}
	if err := s.access.VerifyServerOwnership(ctx, id, caller); err != nil {
		return nil, err
	}
	return s.jobs.ExecuteCommand(ctx, id, command, timeout, safe, caller)
}

func (s *Service) Delete(ctx context.Context, caller domain.CallerMetadata, id uuid.UUID) error {
	if err := s.access.VerifyServerOwnership(ctx, id, caller); err != nil {
		return err
	}
	if err := s.repo.Delete(id); err != nil {
		if repository.IsNotFound(err) {
			return domain.NotFound("delete_server", "server", id)
		}
		return fmt.Errorf("failed to delete server %s: %w", id, err)
	}
	slog.Info("Server deleted", "layer", "service", "operation", "delete_server", "server_id", id)
	return nil
}

// SetStatus records a status change made outside a connection test
func (s *Service) SetStatus(id uuid.UUID, status domain.ServerStatus) error {
	server, err := s.find(id)
	if err != nil {
		return err
	}
	server.Status = status
	if status == domain.ServerStatusConnected {
		now := time.Now()
		server.LastConnectedAt = &now
	}
	if err := s.repo.Update(server); err != nil {
		return fmt.Errorf("failed to update server %s: %w", id, err)
	}
	return nil
}

func (s *Service) markError(id uuid.UUID, cause error) {
	if err := s.SetStatus(id, domain.ServerStatusError); err != nil {
		slog.Warn("Failed to record server error status",
			"layer", "service",
			"operation", "test_connection",
			"server_id", id,
			"cause", cause,
			"error", err)
	}
}
