package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentConfig is the artifact bundle a deployment rolls out
type DeploymentConfig struct {
	DockerComposeYML    string              `json:"dockerComposeYml"`
	Dockerfiles         map[string]string   `json:"dockerfiles,omitempty"`
	DockerImages        map[string]string   `json:"dockerImages,omitempty"`
	ServiceDependencies map[string][]string `json:"serviceDependencies,omitempty"`
}

// ServiceStatus is the per-service rollout state reported for a deployment
type ServiceStatus struct {
	ServiceID    string     `json:"serviceId,omitempty"`
	ServiceName  string     `json:"serviceName"`
	NodeID       string     `json:"nodeId,omitempty"`
	ServerID     string     `json:"serverId,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	DeployedAt   *time.Time `json:"deployedAt,omitempty"`
}

type Deployment struct {
	ID              uuid.UUID         `json:"id"`
	ProjectID       uuid.UUID         `json:"projectId"`
	OwnerID         string            `json:"ownerId,omitempty"`
	ClusterID       *uuid.UUID        `json:"clusterId,omitempty"`
	ServerID        *uuid.UUID        `json:"serverId,omitempty"`
	Status          DeploymentStatus  `json:"-"`
	EnvVars         map[string]string `json:"envVars,omitempty"`
	ServiceStatuses []ServiceStatus   `json:"serviceStatuses,omitempty"`
	Config          DeploymentConfig  `json:"config"`
	JobID           *string           `json:"jobId,omitempty"`
	RollbackOfID    *uuid.UUID        `json:"rollbackOfId,omitempty"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
	StartedAt       *time.Time        `json:"startedAt,omitempty"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

func NewDeployment(projectID uuid.UUID, ownerID string, clusterID, serverID *uuid.UUID) Deployment {
	return Deployment{
		ID:        uuid.New(),
		ProjectID: projectID,
		OwnerID:   ownerID,
		ClusterID: clusterID,
		ServerID:  serverID,
		Status:    DeploymentStatusPending,
		EnvVars:   map[string]string{},
	}
}

// TargetID returns the server or cluster the deployment points at
func (d *Deployment) TargetID() uuid.UUID {
	if d.ServerID != nil {
		return *d.ServerID
	}
	if d.ClusterID != nil {
		return *d.ClusterID
	}
	return uuid.Nil
}

// DeploymentHistory is an append-only snapshot of a deployment taken when it was created
type DeploymentHistory struct {
	ID           uuid.UUID
	DeploymentID uuid.UUID
	Snapshot     DeploymentSnapshot
	Version      string
	RolledBack   bool
	CreatedAt    time.Time
}

// DeploymentSnapshot is the serialized form of a deployment stored in history
type DeploymentSnapshot struct {
	DeploymentID    uuid.UUID         `json:"deploymentId"`
	ProjectID       uuid.UUID         `json:"projectId"`
	ClusterID       *uuid.UUID        `json:"clusterId,omitempty"`
	ServerID        *uuid.UUID        `json:"serverId,omitempty"`
	Status          string            `json:"status"`
	EnvVars         map[string]string `json:"envVars,omitempty"`
	ServiceStatuses []ServiceStatus   `json:"serviceStatuses,omitempty"`
	Config          DeploymentConfig  `json:"config"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// SnapshotOf captures the rollback-relevant state of d
func SnapshotOf(d *Deployment) DeploymentSnapshot {
	env := make(map[string]string, len(d.EnvVars))
	for k, v := range d.EnvVars {
		env[k] = v
	}
	return DeploymentSnapshot{
		DeploymentID:    d.ID,
		ProjectID:       d.ProjectID,
		ClusterID:       d.ClusterID,
		ServerID:        d.ServerID,
		Status:          d.Status.String(),
		EnvVars:         env,
		ServiceStatuses: append([]ServiceStatus(nil), d.ServiceStatuses...),
		Config:          d.Config,
		CreatedAt:       d.CreatedAt,
	}
}

func NewDeploymentHistory(d *Deployment) DeploymentHistory {
	return DeploymentHistory{
		ID:           uuid.New(),
		DeploymentID: d.ID,
		Snapshot:     SnapshotOf(d),
		Version:      d.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// DeploymentFilter narrows a deployment listing. A set VisibleTo keeps only rows owned
// by that user or by nobody.
type DeploymentFilter struct {
	Status    *DeploymentStatus
	VisibleTo *string
}

// Page selects a window of a paginated listing. Page is 1-based.
type Page struct {
	Page  int
	Limit int
}

func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	return p
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}
