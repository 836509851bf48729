// Package inventory resolves deployment targets from the server and cluster tables.
package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/repository"
)

type Lookup struct {
	servers  repository.ServerRepository
	clusters repository.ClusterRepository
}

func NewLookup(servers repository.ServerRepository, clusters repository.ClusterRepository) *Lookup {
	return &Lookup{servers: servers, clusters: clusters}
}

func (l *Lookup) GetServer(_ context.Context, id uuid.UUID) (*domain.Server, error) {
	server, err := l.servers.FindByID(id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound("get_server", "server", id)
		}
		return nil, fmt.Errorf("failed to load server: %w", err)
	}
	return server, nil
}

func (l *Lookup) GetCluster(_ context.Context, id uuid.UUID) (*domain.Cluster, error) {
	cluster, err := l.clusters.FindByID(id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound("get_cluster", "cluster", id)
		}
		return nil, fmt.Errorf("failed to load cluster: %w", err)
	}
	return cluster, nil
}
