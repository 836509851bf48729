// Package db provides database models and utilities for moor.
package db

import (
	"time"

	"github.com/google/uuid"
)

type BaseModel struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type MigrationModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"not null;unique"`
	AppliedAt time.Time
}

func (MigrationModel) TableName() string {
	return "migrations"
}

type ServerModel struct {
	BaseModel
	OwnerID         string     `gorm:"not null;index"`
	ClusterID       *uuid.UUID `gorm:"type:char(36);index"`
	Name            string     `gorm:"not null"`
	Host            string     `gorm:"not null;check:host <> ''"`
	Port            int        `gorm:"not null"`
	Username        string     `gorm:"not null;check:username <> ''"`
	PrivateKey      *string    `gorm:"type:text"` // vault ciphertext
	Password        *string    `gorm:"type:text"` // vault ciphertext
	Status          string     `gorm:"not null;check:status <> ''"`
	Info            *string    `gorm:"type:text"` // JSON encoded ServerInfo
	LastConnectedAt *time.Time
}

func (ServerModel) TableName() string {
	return "servers"
}

type ClusterModel struct {
	BaseModel
	OwnerID         string    `gorm:"not null;index"`
	Name            string    `gorm:"not null"`
	ManagerServerID uuid.UUID `gorm:"type:char(36);not null"`
}

func (ClusterModel) TableName() string {
	return "clusters"
}

type DeploymentModel struct {
	BaseModel
	ProjectID       uuid.UUID  `gorm:"type:char(36);not null;index"`
	OwnerID         string     `gorm:"index"`
	ClusterID       *uuid.UUID `gorm:"type:char(36);index"`
	ServerID        *uuid.UUID `gorm:"type:char(36);index"`
	Status          string     `gorm:"not null;index;check:status <> ''"`
	EnvVars         string     `gorm:"type:text;not null"` // JSON object
	ServiceStatuses string     `gorm:"type:text;not null"` // JSON array
	Config          string     `gorm:"type:text;not null"` // JSON encoded DeploymentConfig
	JobID           *string
	RollbackOfID    *uuid.UUID `gorm:"type:char(36)"`
	ErrorMessage    string     `gorm:"type:text"`
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

func (DeploymentModel) TableName() string {
	return "deployments"
}

type DeploymentHistoryModel struct {
	ID           uuid.UUID `gorm:"type:char(36);primaryKey"`
	DeploymentID uuid.UUID `gorm:"type:char(36);not null;index"`
	Snapshot     string    `gorm:"type:text;not null"`
	Version      string    `gorm:"not null"`
	RolledBack   bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time

	Deployment DeploymentModel `gorm:"foreignKey:DeploymentID;constraint:OnDelete:CASCADE"`
}

func (DeploymentHistoryModel) TableName() string {
	return "deployment_history"
}
