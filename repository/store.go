package repository

import (
	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"gorm.io/gorm"
)

// DeploymentStore joins the deployment and history repositories behind the persistence
// surface the deployment orchestrator needs
type DeploymentStore struct {
	Deployments DeploymentRepository
	History     DeploymentHistoryRepository
}

func NewDeploymentStore(db *gorm.DB) *DeploymentStore {
	return &DeploymentStore{
		Deployments: NewDeploymentRepository(db),
		History:     NewDeploymentHistoryRepository(db),
	}
}

func (s *DeploymentStore) CreateDeployment(d *domain.Deployment) error {
	return s.Deployments.Create(d)
}

func (s *DeploymentStore) FindDeployment(id uuid.UUID) (*domain.Deployment, error) {
	return s.Deployments.FindByID(id)
}

func (s *DeploymentStore) UpdateDeployment(d *domain.Deployment) error {
	return s.Deployments.Update(d)
}

func (s *DeploymentStore) UpdateDeploymentIf(d *domain.Deployment, expected domain.DeploymentStatus) (bool, error) {
	return s.Deployments.UpdateIfStatus(d, expected)
}

func (s *DeploymentStore) UpdateServiceStatuses(
	id uuid.UUID,
	statuses []domain.ServiceStatus,
	expected domain.DeploymentStatus,
) (bool, error) {
	return s.Deployments.UpdateServiceStatuses(id, statuses, expected)
}

func (s *DeploymentStore) ListDeployments(
	projectID uuid.UUID,
	page domain.Page,
	filter domain.DeploymentFilter,
) ([]*domain.Deployment, int64, error) {
	return s.Deployments.ListByProject(projectID, page, filter)
}

func (s *DeploymentStore) CountDeployments(projectID uuid.UUID) (int64, error) {
	return s.Deployments.CountByProject(projectID)
}

func (s *DeploymentStore) ListDeploymentsByStatus(status domain.DeploymentStatus, limit int) ([]*domain.Deployment, error) {
	return s.Deployments.ListByStatus(status, limit)
}

func (s *DeploymentStore) CreateHistory(h *domain.DeploymentHistory) error {
	return s.History.Create(h)
}

func (s *DeploymentStore) FindLatestHistory(deploymentID uuid.UUID) (*domain.DeploymentHistory, error) {
	return s.History.FindLatestByDeployment(deploymentID)
}

func (s *DeploymentStore) UpdateHistory(h *domain.DeploymentHistory) error {
	return s.History.Update(h)
}

func (s *DeploymentStore) ListHistory(deploymentID uuid.UUID) ([]*domain.DeploymentHistory, error) {
	return s.History.ListByDeployment(deploymentID)
}
