package db

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := InitDatabase(DBConfig{Path: ":memory:", LogLevel: logger.Silent})
	require.NoError(t, err)
	return database
}

func TestAutoMigrateAll_AppliesManualMigrationsOnce(t *testing.T) {
	database := newMemoryDB(t)

	require.NoError(t, AutoMigrateAll(database))
	require.NoError(t, AutoMigrateAll(database))

	names, err := AppliedMigrations(database)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"0001_create_history_lookup_index",
		"0002_create_deployment_project_status_index",
	}, names)

	assert.True(t, database.Migrator().HasIndex(&DeploymentHistoryModel{}, "idx_deployment_history_lookup"))
	assert.True(t, database.Migrator().HasIndex(&DeploymentModel{}, "idx_deployments_project_status_created"))
}

func TestRunMigrations_UpToTarget(t *testing.T) {
	database := newMemoryDB(t)
	require.NoError(t, database.AutoMigrate(AllModels()...))

	require.NoError(t, RunMigrations(database, 1))

	names, err := AppliedMigrations(database)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_create_history_lookup_index"}, names)
	assert.False(t, database.Migrator().HasIndex(&DeploymentModel{}, "idx_deployments_project_status_created"))
}

func TestDeploymentHistory_CascadesWithDeployment(t *testing.T) {
	database := newMemoryDB(t)
	require.NoError(t, AutoMigrateAll(database))

	deployment := DeploymentModel{
		BaseModel:       BaseModel{ID: uuid.New()},
		ProjectID:       uuid.New(),
		Status:          "pending",
		EnvVars:         "{}",
		ServiceStatuses: "[]",
		Config:          "{}",
	}
	require.NoError(t, database.Create(&deployment).Error)

	history := DeploymentHistoryModel{
		ID:           uuid.New(),
		DeploymentID: deployment.ID,
		Snapshot:     "{}",
		Version:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	require.NoError(t, database.Omit("Deployment").Create(&history).Error)

	require.NoError(t, database.Delete(&DeploymentModel{}, "id = ?", deployment.ID).Error)

	var count int64
	require.NoError(t, database.Model(&DeploymentHistoryModel{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestDeploymentModel_RejectsEmptyStatus(t *testing.T) {
	database := newMemoryDB(t)
	require.NoError(t, AutoMigrateAll(database))

	err := database.Create(&DeploymentModel{
		BaseModel:       BaseModel{ID: uuid.New()},
		ProjectID:       uuid.New(),
		EnvVars:         "{}",
		ServiceStatuses: "[]",
		Config:          "{}",
	}).Error
	assert.Error(t, err)
}
