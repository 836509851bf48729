package repository

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/db"
	"github.com/oar-cd/moor/domain"
	"gorm.io/gorm"
)

// IsNotFound reports whether err means the requested row does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

type ServerRepository interface {
	FindByID(id uuid.UUID) (*domain.Server, error)
	Create(server *domain.Server) error
	Update(server *domain.Server) error
	Delete(id uuid.UUID) error
	List() ([]*domain.Server, error)
	ListByOwner(ownerID string) ([]*domain.Server, error)
	CountByOwner(ownerID string) (int64, error)
}

type serverRepository struct {
	db     *gorm.DB
	mapper *ServerMapper
}

func NewServerRepository(db *gorm.DB) ServerRepository {
	return &serverRepository{
		db:     db,
		mapper: &ServerMapper{},
	}
}

func (r *serverRepository) FindByID(id uuid.UUID) (*domain.Server, error) {
	var m db.ServerModel
	if err := r.db.First(&m, "id = ?", id).Error; err != nil {
		if !IsNotFound(err) {
			slog.Error("Database operation failed",
				"layer", "repository",
				"operation", "find_server",
				"server_id", id,
				"error", err)
		}
		return nil, err // Pass through as-is
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *serverRepository) Create(server *domain.Server) error {
	m := r.mapper.ToModel(server)
	if err := r.db.Create(m).Error; err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "create_server",
			"server_id", server.ID,
			"host", server.Host,
			"error", err)
		return err
	}
	// Copy back the timestamps GORM populated
	*server = *r.mapper.ToDomain(m)
	return nil
}

func (r *serverRepository) Update(server *domain.Server) error {
	server.UpdatedAt = time.Now()
	m := r.mapper.ToModel(server)

	// Select("*") writes zero values too (cleared credentials, nil info); CreatedAt is immutable
	res := r.db.Model(&db.ServerModel{}).
		Where("id = ?", m.ID).
		Select("*").
		Omit("created_at").
		Updates(m)
	if res.Error != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "update_server",
			"server_id", server.ID,
			"error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *serverRepository) Delete(id uuid.UUID) error {
	res := r.db.Delete(&db.ServerModel{}, "id = ?", id)
	if res.Error != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "delete_server",
			"server_id", id,
			"error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *serverRepository) List() ([]*domain.Server, error) {
	var models []db.ServerModel
	if err := r.db.Order("created_at").Find(&models).Error; err != nil {
		return nil, err
	}
	return r.toDomainList(models), nil
}

func (r *serverRepository) ListByOwner(ownerID string) ([]*domain.Server, error) {
	var models []db.ServerModel
	if err := r.db.Where("owner_id = ?", ownerID).Order("created_at").Find(&models).Error; err != nil {
		return nil, err
	}
	return r.toDomainList(models), nil
}

func (r *serverRepository) CountByOwner(ownerID string) (int64, error) {
	var count int64
	err := r.db.Model(&db.ServerModel{}).Where("owner_id = ?", ownerID).Count(&count).Error
	return count, err
}

func (r *serverRepository) toDomainList(models []db.ServerModel) []*domain.Server {
	servers := make([]*domain.Server, len(models))
	for i := range models {
		servers[i] = r.mapper.ToDomain(&models[i])
	}
	return servers
}

type ClusterRepository interface {
	FindByID(id uuid.UUID) (*domain.Cluster, error)
	Create(cluster *domain.Cluster) error
	ListByOwner(ownerID string) ([]*domain.Cluster, error)
}

type clusterRepository struct {
	db     *gorm.DB
	mapper *ClusterMapper
}

func NewClusterRepository(db *gorm.DB) ClusterRepository {
	return &clusterRepository{
		db:     db,
		mapper: &ClusterMapper{},
	}
}

func (r *clusterRepository) FindByID(id uuid.UUID) (*domain.Cluster, error) {
	var m db.ClusterModel
	if err := r.db.First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *clusterRepository) Create(cluster *domain.Cluster) error {
	m := r.mapper.ToModel(cluster)
	if err := r.db.Create(m).Error; err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "create_cluster",
			"cluster_id", cluster.ID,
			"error", err)
		return err
	}
	*cluster = *r.mapper.ToDomain(m)
	return nil
}

func (r *clusterRepository) ListByOwner(ownerID string) ([]*domain.Cluster, error) {
	var models []db.ClusterModel
	if err := r.db.Where("owner_id = ?", ownerID).Order("created_at").Find(&models).Error; err != nil {
		return nil, err
	}

	clusters := make([]*domain.Cluster, len(models))
	for i := range models {
		clusters[i] = r.mapper.ToDomain(&models[i])
	}
	return clusters, nil
}
