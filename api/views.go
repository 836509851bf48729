package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
)

// serverView never carries credential material
type serverView struct {
	ID              uuid.UUID          `json:"id"`
	OwnerID         string             `json:"ownerId,omitempty"`
	ClusterID       *uuid.UUID         `json:"clusterId,omitempty"`
	Name            string             `json:"name"`
	Host            string             `json:"host"`
	Port            int                `json:"port"`
	Username        string             `json:"username"`
	Status          string             `json:"status"`
	HasPrivateKey   bool               `json:"hasPrivateKey"`
	HasPassword     bool               `json:"hasPassword"`
	Info            *domain.ServerInfo `json:"serverInfo,omitempty"`
	LastConnectedAt *time.Time         `json:"lastConnectedAt,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

func toServerView(s *domain.Server) serverView {
	return serverView{
		ID:              s.ID,
		OwnerID:         s.OwnerID,
		ClusterID:       s.ClusterID,
		Name:            s.Name,
		Host:            s.Host,
		Port:            s.Port,
		Username:        s.Username,
		Status:          s.Status.String(),
		HasPrivateKey:   s.PrivateKey != nil && *s.PrivateKey != "",
		HasPassword:     s.Password != nil && *s.Password != "",
		Info:            s.Info,
		LastConnectedAt: s.LastConnectedAt,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

type deploymentView struct {
	*domain.Deployment
	Status string `json:"status"`
}

func toDeploymentView(d *domain.Deployment) deploymentView {
	return deploymentView{Deployment: d, Status: d.Status.String()}
}

type deploymentList struct {
	Deployments []deploymentView `json:"deployments"`
	Total       int64            `json:"total"`
	Page        int              `json:"page"`
	Limit       int              `json:"limit"`
}
