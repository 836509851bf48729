// Package sshjobs runs SSH work through three durable queues: connection tests, command
// execution and host fact collection.
package sshjobs

import (
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/sshexec"
)

const (
	ConnectionQueue = "ssh-connection-queue"
	CommandQueue    = "ssh-command-queue"
	InfoQueue       = "ssh-info-collection-queue"
)

const (
	JobTestConnection = "test-connection"
	JobExecuteCommand = "execute-command"
	JobCollectInfo    = "collect-info"
)

// Queues lists every SSH queue in the order workers are started
var Queues = []string{ConnectionQueue, CommandQueue, InfoQueue}

// TestConnectionPayload targets either a stored server or raw connection details
type TestConnectionPayload struct {
	ServerID       *uuid.UUID              `json:"serverId,omitempty"`
	ConnectionInfo *sshexec.ConnectionInfo `json:"connectionInfo,omitempty"`
	Metadata       domain.CallerMetadata   `json:"metadata"`
}

type ExecuteCommandPayload struct {
	ServerID uuid.UUID     `json:"serverId"`
	Command  string        `json:"command"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	// Safe reports a failing command as data without setting Error
	Safe     bool                  `json:"safe,omitempty"`
	Metadata domain.CallerMetadata `json:"metadata"`
}

type CollectInfoPayload struct {
	ServerID uuid.UUID             `json:"serverId"`
	Metadata domain.CallerMetadata `json:"metadata"`
}

type ConnectionOutcome struct {
	Connected       bool               `json:"connected"`
	DockerAvailable bool               `json:"dockerAvailable"`
	ServerInfo      *domain.ServerInfo `json:"serverInfo,omitempty"`
	ErrorMessage    string             `json:"errorMessage,omitempty"`
}

type CommandOutcome struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// JobResult is the value every SSH job completes with. Exactly one outcome is set.
type JobResult struct {
	Success    bool               `json:"success"`
	Connection *ConnectionOutcome `json:"connectionResult,omitempty"`
	Command    *CommandOutcome    `json:"commandResult,omitempty"`
	Info       *domain.ServerInfo `json:"serverInfo,omitempty"`
	Error      string             `json:"error,omitempty"`
}
