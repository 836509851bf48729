// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/sshexec"
	"github.com/oar-cd/moor/sshjobs"
)

// MockSSHJobs implements the SSH job client surface used by services
type MockSSHJobs struct {
	TestConnectionFunc func(ctx context.Context, serverID *uuid.UUID, info *sshexec.ConnectionInfo, caller domain.CallerMetadata) (*sshjobs.JobResult, error)
	CollectInfoFunc    func(ctx context.Context, serverID uuid.UUID, caller domain.CallerMetadata) (*sshjobs.JobResult, error)
	ExecuteCommandFunc func(ctx context.Context, serverID uuid.UUID, command string, timeout time.Duration, safe bool, caller domain.CallerMetadata) (*sshjobs.JobResult, error)
}

func (m *MockSSHJobs) TestConnection(ctx context.Context, serverID *uuid.UUID, info *sshexec.ConnectionInfo, caller domain.CallerMetadata) (*sshjobs.JobResult, error) {
	if m.TestConnectionFunc != nil {
		return m.TestConnectionFunc(ctx, serverID, info, caller)
	}
	return &sshjobs.JobResult{Success: true, Connection: &sshjobs.ConnectionOutcome{Connected: true}}, nil
}

func (m *MockSSHJobs) CollectInfo(ctx context.Context, serverID uuid.UUID, caller domain.CallerMetadata) (*sshjobs.JobResult, error) {
	if m.CollectInfoFunc != nil {
		return m.CollectInfoFunc(ctx, serverID, caller)
	}
	info := domain.UnknownServerInfo()
	return &sshjobs.JobResult{Success: true, Info: &info}, nil
}

func (m *MockSSHJobs) ExecuteCommand(ctx context.Context, serverID uuid.UUID, command string, timeout time.Duration, safe bool, caller domain.CallerMetadata) (*sshjobs.JobResult, error) {
	if m.ExecuteCommandFunc != nil {
		return m.ExecuteCommandFunc(ctx, serverID, command, timeout, safe, caller)
	}
	return &sshjobs.JobResult{Success: true, Command: &sshjobs.CommandOutcome{}}, nil
}
