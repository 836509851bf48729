package domain

import "fmt"

// ServerStatus represents the connection state of a registered server
type ServerStatus int

const (
	ServerStatusPending ServerStatus = iota
	ServerStatusConnected
	ServerStatusDisconnected
	ServerStatusError
	ServerStatusInstalling
)

func (s ServerStatus) String() string {
	switch s {
	case ServerStatusPending:
		return "pending"
	case ServerStatusConnected:
		return "connected"
	case ServerStatusDisconnected:
		return "disconnected"
	case ServerStatusError:
		return "error"
	case ServerStatusInstalling:
		return "installing"
	default:
		return "pending"
	}
}

func ParseServerStatus(s string) (ServerStatus, error) {
	switch s {
	case "pending":
		return ServerStatusPending, nil
	case "connected":
		return ServerStatusConnected, nil
	case "disconnected":
		return ServerStatusDisconnected, nil
	case "error":
		return ServerStatusError, nil
	case "installing":
		return ServerStatusInstalling, nil
	default:
		return ServerStatusPending, fmt.Errorf("invalid server status: %q", s)
	}
}

// DeploymentStatus represents the status of a deployment
type DeploymentStatus int

const (
	DeploymentStatusPending DeploymentStatus = iota
	DeploymentStatusInProgress
	DeploymentStatusSuccess
	DeploymentStatusFailed
	DeploymentStatusRollingBack
	DeploymentStatusRolledBack
)

func (s DeploymentStatus) String() string {
	switch s {
	case DeploymentStatusPending:
		return "pending"
	case DeploymentStatusInProgress:
		return "in_progress"
	case DeploymentStatusSuccess:
		return "success"
	case DeploymentStatusFailed:
		return "failed"
	case DeploymentStatusRollingBack:
		return "rolling_back"
	case DeploymentStatusRolledBack:
		return "rolled_back"
	default:
		return "pending"
	}
}

func ParseDeploymentStatus(s string) (DeploymentStatus, error) {
	switch s {
	case "pending":
		return DeploymentStatusPending, nil
	case "in_progress":
		return DeploymentStatusInProgress, nil
	case "success":
		return DeploymentStatusSuccess, nil
	case "failed":
		return DeploymentStatusFailed, nil
	case "rolling_back":
		return DeploymentStatusRollingBack, nil
	case "rolled_back":
		return DeploymentStatusRolledBack, nil
	default:
		return DeploymentStatusPending, fmt.Errorf("invalid deployment status: %q", s)
	}
}

var deploymentTransitions = map[DeploymentStatus][]DeploymentStatus{
	DeploymentStatusPending: {
		DeploymentStatusInProgress,
		DeploymentStatusSuccess,
		DeploymentStatusFailed,
		DeploymentStatusRollingBack,
	},
	DeploymentStatusInProgress: {
		DeploymentStatusSuccess,
		DeploymentStatusFailed,
		DeploymentStatusRollingBack,
	},
	DeploymentStatusSuccess:     {DeploymentStatusRollingBack},
	DeploymentStatusFailed:      {DeploymentStatusRollingBack},
	DeploymentStatusRollingBack: {DeploymentStatusRolledBack, DeploymentStatusFailed},
}

// CanTransitionTo reports whether the deployment state machine allows moving to next
func (s DeploymentStatus) CanTransitionTo(next DeploymentStatus) bool {
	for _, allowed := range deploymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive is true while a rollout may still be running on the target
func (s DeploymentStatus) IsActive() bool {
	return s == DeploymentStatusPending || s == DeploymentStatusInProgress || s == DeploymentStatusRollingBack
}
