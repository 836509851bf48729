package repository

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/db"
	"github.com/oar-cd/moor/domain"
	"gorm.io/gorm"
)

type DeploymentRepository interface {
	FindByID(id uuid.UUID) (*domain.Deployment, error)
	Create(deployment *domain.Deployment) error
	Update(deployment *domain.Deployment) error
	UpdateIfStatus(deployment *domain.Deployment, expected domain.DeploymentStatus) (bool, error)
	UpdateServiceStatuses(id uuid.UUID, statuses []domain.ServiceStatus, expected domain.DeploymentStatus) (bool, error)
	ListByProject(projectID uuid.UUID, page domain.Page, filter domain.DeploymentFilter) ([]*domain.Deployment, int64, error)
	CountByProject(projectID uuid.UUID) (int64, error)
	ListByStatus(status domain.DeploymentStatus, limit int) ([]*domain.Deployment, error)
}

type deploymentRepository struct {
	db     *gorm.DB
	mapper *DeploymentMapper
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepository{
		db:     db,
		mapper: &DeploymentMapper{},
	}
}

func (r *deploymentRepository) FindByID(id uuid.UUID) (*domain.Deployment, error) {
	var m db.DeploymentModel
	if err := r.db.First(&m, "id = ?", id).Error; err != nil {
		if !IsNotFound(err) {
			slog.Error("Database operation failed",
				"layer", "repository",
				"operation", "find_deployment",
				"deployment_id", id,
				"error", err)
		}
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *deploymentRepository) Create(deployment *domain.Deployment) error {
	m := r.mapper.ToModel(deployment)
	if err := r.db.Create(m).Error; err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "create_deployment",
			"deployment_id", deployment.ID,
			"project_id", deployment.ProjectID,
			"error", err)
		return err
	}
	// Update the domain object with the timestamps that GORM populated
	*deployment = *r.mapper.ToDomain(m)
	return nil
}

func (r *deploymentRepository) Update(deployment *domain.Deployment) error {
	deployment.UpdatedAt = time.Now()
	m := r.mapper.ToModel(deployment)

	res := r.db.Model(&db.DeploymentModel{}).
		Where("id = ?", m.ID).
		Select("*").
		Omit("created_at").
		Updates(m)
	if res.Error != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "update_deployment",
			"deployment_id", deployment.ID,
			"status", deployment.Status.String(),
			"error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateIfStatus writes the whole row only while the stored status still equals expected.
// It reports false when another writer moved the deployment on first.
func (r *deploymentRepository) UpdateIfStatus(deployment *domain.Deployment, expected domain.DeploymentStatus) (bool, error) {
	deployment.UpdatedAt = time.Now()
	m := r.mapper.ToModel(deployment)

	res := r.db.Model(&db.DeploymentModel{}).
		Where("id = ? AND status = ?", m.ID, expected.String()).
		Select("*").
		Omit("created_at").
		Updates(m)
	if res.Error != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "update_deployment",
			"deployment_id", deployment.ID,
			"expected_status", expected.String(),
			"status", deployment.Status.String(),
			"error", res.Error)
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateServiceStatuses replaces the per-service rollout state, leaving every other
// column alone, and only while the deployment is still in the expected status
func (r *deploymentRepository) UpdateServiceStatuses(
	id uuid.UUID,
	statuses []domain.ServiceStatus,
	expected domain.DeploymentStatus,
) (bool, error) {
	res := r.db.Model(&db.DeploymentModel{}).
		Where("id = ? AND status = ?", id, expected.String()).
		Updates(map[string]any{
			"service_statuses": mustJSON(statuses),
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "update_service_statuses",
			"deployment_id", id,
			"error", res.Error)
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *deploymentRepository) ListByProject(
	projectID uuid.UUID,
	page domain.Page,
	filter domain.DeploymentFilter,
) ([]*domain.Deployment, int64, error) {
	page = page.Normalize()

	filtered := func() *gorm.DB {
		q := r.db.Model(&db.DeploymentModel{}).Where("project_id = ?", projectID)
		if filter.Status != nil {
			q = q.Where("status = ?", filter.Status.String())
		}
		if filter.VisibleTo != nil {
			q = q.Where("(owner_id = ? OR owner_id = '')", *filter.VisibleTo)
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []db.DeploymentModel
	err := filtered().
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	return r.toDomainList(models), total, nil
}

func (r *deploymentRepository) CountByProject(projectID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.Model(&db.DeploymentModel{}).Where("project_id = ?", projectID).Count(&count).Error
	return count, err
}

func (r *deploymentRepository) ListByStatus(status domain.DeploymentStatus, limit int) ([]*domain.Deployment, error) {
	var models []db.DeploymentModel
	err := r.db.Where("status = ?", status.String()).
		Order("created_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return r.toDomainList(models), nil
}

func (r *deploymentRepository) toDomainList(models []db.DeploymentModel) []*domain.Deployment {
	deployments := make([]*domain.Deployment, len(models))
	for i := range models {
		deployments[i] = r.mapper.ToDomain(&models[i])
	}
	return deployments
}

type DeploymentHistoryRepository interface {
	Create(history *domain.DeploymentHistory) error
	// FindLatestByDeployment returns the newest entry for deploymentID that has not been used for a rollback
	FindLatestByDeployment(deploymentID uuid.UUID) (*domain.DeploymentHistory, error)
	Update(history *domain.DeploymentHistory) error
	ListByDeployment(deploymentID uuid.UUID) ([]*domain.DeploymentHistory, error)
}

type deploymentHistoryRepository struct {
	db     *gorm.DB
	mapper *DeploymentHistoryMapper
}

func NewDeploymentHistoryRepository(db *gorm.DB) DeploymentHistoryRepository {
	return &deploymentHistoryRepository{
		db:     db,
		mapper: &DeploymentHistoryMapper{},
	}
}

func (r *deploymentHistoryRepository) Create(history *domain.DeploymentHistory) error {
	m := r.mapper.ToModel(history)
	if err := r.db.Omit("Deployment").Create(m).Error; err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "create_deployment_history",
			"deployment_id", history.DeploymentID,
			"error", err)
		return err
	}
	*history = *r.mapper.ToDomain(m)
	return nil
}

func (r *deploymentHistoryRepository) FindLatestByDeployment(deploymentID uuid.UUID) (*domain.DeploymentHistory, error) {
	var m db.DeploymentHistoryModel
	err := r.db.
		Where("deployment_id = ? AND rolled_back = ?", deploymentID, false).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *deploymentHistoryRepository) Update(history *domain.DeploymentHistory) error {
	m := r.mapper.ToModel(history)
	res := r.db.Model(&db.DeploymentHistoryModel{}).
		Where("id = ?", m.ID).
		Select("snapshot", "version", "rolled_back").
		Updates(m)
	if res.Error != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "update_deployment_history",
			"history_id", history.ID,
			"error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *deploymentHistoryRepository) ListByDeployment(deploymentID uuid.UUID) ([]*domain.DeploymentHistory, error) {
	var models []db.DeploymentHistoryModel
	err := r.db.Where("deployment_id = ?", deploymentID).Order("created_at DESC").Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]*domain.DeploymentHistory, len(models))
	for i := range models {
		entries[i] = r.mapper.ToDomain(&models[i])
	}
	return entries, nil
}
