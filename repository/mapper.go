// Package repository provides the data access layer for servers, clusters, deployments and deployment history.
package repository

import (
	"encoding/json"
	"log/slog"

	"github.com/oar-cd/moor/db"
	"github.com/oar-cd/moor/domain"
)

type ServerMapper struct{}

func (m *ServerMapper) ToDomain(s *db.ServerModel) *domain.Server {
	status, err := domain.ParseServerStatus(s.Status)
	if err != nil {
		slog.Warn("Unknown server status in database",
			"layer", "repository",
			"operation", "map_server",
			"server_id", s.ID,
			"status", s.Status)
		status = domain.ServerStatusError
	}

	var info *domain.ServerInfo
	if s.Info != nil && *s.Info != "" {
		var decoded domain.ServerInfo
		if err := json.Unmarshal([]byte(*s.Info), &decoded); err != nil {
			slog.Error("Failed to decode server info",
				"layer", "repository",
				"operation", "map_server",
				"server_id", s.ID,
				"error", err)
		} else {
			info = &decoded
		}
	}

	return &domain.Server{
		ID:              s.ID,
		OwnerID:         s.OwnerID,
		ClusterID:       s.ClusterID,
		Name:            s.Name,
		Host:            s.Host,
		Port:            s.Port,
		Username:        s.Username,
		PrivateKey:      s.PrivateKey,
		Password:        s.Password,
		Status:          status,
		Info:            info,
		LastConnectedAt: s.LastConnectedAt,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (m *ServerMapper) ToModel(s *domain.Server) *db.ServerModel {
	var info *string
	if s.Info != nil {
		encoded := mustJSON(s.Info)
		info = &encoded
	}

	return &db.ServerModel{
		BaseModel: db.BaseModel{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		},
		OwnerID:         s.OwnerID,
		ClusterID:       s.ClusterID,
		Name:            s.Name,
		Host:            s.Host,
		Port:            s.Port,
		Username:        s.Username,
		PrivateKey:      s.PrivateKey,
		Password:        s.Password,
		Status:          s.Status.String(),
		Info:            info,
		LastConnectedAt: s.LastConnectedAt,
	}
}

type ClusterMapper struct{}

func (m *ClusterMapper) ToDomain(c *db.ClusterModel) *domain.Cluster {
	return &domain.Cluster{
		ID:              c.ID,
		OwnerID:         c.OwnerID,
		Name:            c.Name,
		ManagerServerID: c.ManagerServerID,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func (m *ClusterMapper) ToModel(c *domain.Cluster) *db.ClusterModel {
	return &db.ClusterModel{
		BaseModel: db.BaseModel{
			ID:        c.ID,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		},
		OwnerID:         c.OwnerID,
		Name:            c.Name,
		ManagerServerID: c.ManagerServerID,
	}
}

type DeploymentMapper struct{}

func (m *DeploymentMapper) ToDomain(d *db.DeploymentModel) *domain.Deployment {
	status, err := domain.ParseDeploymentStatus(d.Status)
	if err != nil {
		slog.Warn("Unknown deployment status in database",
			"layer", "repository",
			"operation", "map_deployment",
			"deployment_id", d.ID,
			"status", d.Status)
		status = domain.DeploymentStatusFailed
	}

	out := &domain.Deployment{
		ID:           d.ID,
		ProjectID:    d.ProjectID,
		OwnerID:      d.OwnerID,
		ClusterID:    d.ClusterID,
		ServerID:     d.ServerID,
		Status:       status,
		EnvVars:      map[string]string{},
		JobID:        d.JobID,
		RollbackOfID: d.RollbackOfID,
		ErrorMessage: d.ErrorMessage,
		StartedAt:    d.StartedAt,
		CompletedAt:  d.CompletedAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}

	decodeJSON(d.ID.String(), "env_vars", d.EnvVars, &out.EnvVars)
	decodeJSON(d.ID.String(), "service_statuses", d.ServiceStatuses, &out.ServiceStatuses)
	decodeJSON(d.ID.String(), "config", d.Config, &out.Config)

	return out
}

func (m *DeploymentMapper) ToModel(d *domain.Deployment) *db.DeploymentModel {
	env := d.EnvVars
	if env == nil {
		env = map[string]string{}
	}
	statuses := d.ServiceStatuses
	if statuses == nil {
		statuses = []domain.ServiceStatus{}
	}

	return &db.DeploymentModel{
		BaseModel: db.BaseModel{
			ID:        d.ID,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		},
		ProjectID:       d.ProjectID,
		OwnerID:         d.OwnerID,
		ClusterID:       d.ClusterID,
		ServerID:        d.ServerID,
		Status:          d.Status.String(),
		EnvVars:         mustJSON(env),
		ServiceStatuses: mustJSON(statuses),
		Config:          mustJSON(d.Config),
		JobID:           d.JobID,
		RollbackOfID:    d.RollbackOfID,
		ErrorMessage:    d.ErrorMessage,
		StartedAt:       d.StartedAt,
		CompletedAt:     d.CompletedAt,
	}
}

type DeploymentHistoryMapper struct{}

func (m *DeploymentHistoryMapper) ToDomain(h *db.DeploymentHistoryModel) *domain.DeploymentHistory {
	out := &domain.DeploymentHistory{
		ID:           h.ID,
		DeploymentID: h.DeploymentID,
		Version:      h.Version,
		RolledBack:   h.RolledBack,
		CreatedAt:    h.CreatedAt,
	}
	decodeJSON(h.ID.String(), "snapshot", h.Snapshot, &out.Snapshot)
	return out
}

func (m *DeploymentHistoryMapper) ToModel(h *domain.DeploymentHistory) *db.DeploymentHistoryModel {
	return &db.DeploymentHistoryModel{
		ID:           h.ID,
		DeploymentID: h.DeploymentID,
		Snapshot:     mustJSON(h.Snapshot),
		Version:      h.Version,
		RolledBack:   h.RolledBack,
		CreatedAt:    h.CreatedAt,
	}
}

// mustJSON encodes values whose types are known to be JSON-safe
func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func decodeJSON(id, column, raw string, dst any) {
	if raw == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		slog.Error("Failed to decode JSON column",
			"layer", "repository",
			"operation", "decode_column",
			"id", id,
			"column", column,
			"error", err)
	}
}
