package domain

import (
	"time"

	"github.com/google/uuid"
)

const DefaultSSHPort = 22

// Server is a registered remote host. PrivateKey and Password hold vault ciphertext.
type Server struct {
	ID              uuid.UUID
	OwnerID         string
	ClusterID       *uuid.UUID
	Name            string
	Host            string
	Port            int
	Username        string
	PrivateKey      *string
	Password        *string
	Status          ServerStatus
	Info            *ServerInfo
	LastConnectedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func NewServer(ownerID, name, host string, port int, username string) Server {
	if port == 0 {
		port = DefaultSSHPort
	}
	return Server{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Name:     name,
		Host:     host,
		Port:     port,
		Username: username,
		Status:   ServerStatusPending,
	}
}

// HasCredentials reports whether at least one credential material is present
func (s *Server) HasCredentials() bool {
	return (s.PrivateKey != nil && *s.PrivateKey != "") || (s.Password != nil && *s.Password != "")
}

// ServerInfo is a point-in-time snapshot of host facts
type ServerInfo struct {
	OS              string  `json:"os"`
	Architecture    string  `json:"architecture"`
	CPUCores        int     `json:"cpuCores"`
	CPUUsage        float64 `json:"cpuUsage"`
	TotalMemory     uint64  `json:"totalMemory"`
	AvailableMemory uint64  `json:"availableMemory"`
	DockerInstalled bool    `json:"dockerInstalled"`
	DockerVersion   string  `json:"dockerVersion,omitempty"`
}

// UnknownServerInfo is returned when collection fails entirely
func UnknownServerInfo() ServerInfo {
	return ServerInfo{OS: "unknown", Architecture: "unknown"}
}

// Cluster groups servers behind a swarm manager
type Cluster struct {
	ID              uuid.UUID
	OwnerID         string
	Name            string
	ManagerServerID uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func NewCluster(ownerID, name string, managerServerID uuid.UUID) Cluster {
	return Cluster{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Name:            name,
		ManagerServerID: managerServerID,
	}
}
