// Package access decides whether a caller may act on a server, cluster or deployment.
package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/repository"
)

// OwnerPolicy allows owners and admins. Resources without an owner are open to everyone.
type OwnerPolicy struct {
	servers     repository.ServerRepository
	clusters    repository.ClusterRepository
	deployments repository.DeploymentRepository
}

func NewOwnerPolicy(
	servers repository.ServerRepository,
	clusters repository.ClusterRepository,
	deployments repository.DeploymentRepository,
) *OwnerPolicy {
	return &OwnerPolicy{
		servers:     servers,
		clusters:    clusters,
		deployments: deployments,
	}
}

// Allowed reports whether caller may act on a resource owned by ownerID
func Allowed(ownerID string, caller domain.CallerMetadata) bool {
	return ownerID == "" || ownerID == caller.UserID || caller.HasRole(domain.RoleAdmin)
}

func (p *OwnerPolicy) VerifyServerOwnership(_ context.Context, id uuid.UUID, caller domain.CallerMetadata) error {
	server, err := p.servers.FindByID(id)
	if err != nil {
		return lookupError("server", id, err)
	}
	return verify("server", id, server.OwnerID, caller)
}

func (p *OwnerPolicy) VerifyClusterOwnership(_ context.Context, id uuid.UUID, caller domain.CallerMetadata) error {
	cluster, err := p.clusters.FindByID(id)
	if err != nil {
		return lookupError("cluster", id, err)
	}
	return verify("cluster", id, cluster.OwnerID, caller)
}

func (p *OwnerPolicy) VerifyDeploymentOwnership(_ context.Context, id uuid.UUID, caller domain.CallerMetadata) error {
	deployment, err := p.deployments.FindByID(id)
	if err != nil {
		return lookupError("deployment", id, err)
	}
	return verify("deployment", id, deployment.OwnerID, caller)
}

func verify(kind string, id uuid.UUID, ownerID string, caller domain.CallerMetadata) error {
	if Allowed(ownerID, caller) {
		return nil
	}
	slog.Warn("Access denied",
		"layer", "service",
		"operation", "verify_ownership",
		"resource", kind,
		"resource_id", id,
		"user_id", caller.UserID,
		"request_id", caller.RequestID)
	return domain.Forbidden("verify_ownership", "access to %s %s denied", kind, id)
}

func lookupError(kind string, id uuid.UUID, err error) error {
	if repository.IsNotFound(err) {
		return domain.NotFound("verify_ownership", kind, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
}
