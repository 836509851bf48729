package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Migration represents a single database migration
type Migration struct {
	ID   int
	Name string
	Up   func(*gorm.DB) error
}

// allMigrations is the ordered list of manual migrations applied after AutoMigrate
var allMigrations = []Migration{
	{
		ID:   1,
		Name: "0001_create_history_lookup_index",
		Up:   migration0001CreateHistoryLookupIndex,
	},
	{
		ID:   2,
		Name: "0002_create_deployment_project_status_index",
		Up:   migration0002CreateDeploymentProjectStatusIndex,
	},
}

// AllModels returns all the models that need to be migrated
func AllModels() []any {
	return []any{
		&MigrationModel{},
		&ServerModel{},
		&ClusterModel{},
		&DeploymentModel{},
		&DeploymentHistoryModel{},
	}
}

// AutoMigrateAll creates or updates all tables, then applies pending manual migrations
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return err
	}

	return RunMigrations(db, len(allMigrations))
}

// RunMigrations runs all migrations up to and including the specified ID.
// If targetID is 0 or negative, all migrations are run.
func RunMigrations(db *gorm.DB, targetID int) error {
	if targetID <= 0 {
		targetID = len(allMigrations)
	}

	for _, migration := range allMigrations {
		if migration.ID > targetID {
			break
		}

		applied, err := migrationApplied(db, migration.Name)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", migration.Name, err)
		}
		if applied {
			continue
		}

		if err := migration.Up(db); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Name, err)
		}

		if err := recordMigration(db, migration.Name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Name, err)
		}
	}

	return nil
}

// AppliedMigrations returns the names of applied migrations in application order
func AppliedMigrations(db *gorm.DB) ([]string, error) {
	var names []string
	err := db.Model(&MigrationModel{}).Order("id").Pluck("name", &names).Error
	return names, err
}

func migrationApplied(db *gorm.DB, name string) (bool, error) {
	var count int64
	err := db.Model(&MigrationModel{}).Where("name = ?", name).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func recordMigration(db *gorm.DB, name string) error {
	migration := MigrationModel{
		Name:      name,
		AppliedAt: time.Now(),
	}
	return db.Create(&migration).Error
}

// migration0001CreateHistoryLookupIndex backs the "latest non-rolled-back snapshot" query
func migration0001CreateHistoryLookupIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deployment_history_lookup
		ON deployment_history (deployment_id, rolled_back, created_at DESC)
	`).Error
}

// migration0002CreateDeploymentProjectStatusIndex backs paginated listing by project and status
func migration0002CreateDeploymentProjectStatusIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deployments_project_status_created
		ON deployments (project_id, status, created_at DESC)
	`).Error
}
