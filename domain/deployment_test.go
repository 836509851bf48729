package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewDeploymentHistory(t *testing.T) {
	serverID := uuid.New()
	d := NewDeployment(uuid.New(), "user-1", nil, &serverID)
	d.CreatedAt = time.Date(2025, 3, 1, 10, 0, 0, 123, time.UTC)
	d.EnvVars["A"] = "1"
	d.Config = DeploymentConfig{DockerComposeYML: "services: {}\n"}

	h := NewDeploymentHistory(&d)

	assert.Equal(t, d.ID, h.DeploymentID)
	assert.False(t, h.RolledBack)
	assert.Equal(t, "2025-03-01T10:00:00.000000123Z", h.Version)
	assert.Equal(t, "pending", h.Snapshot.Status)
	assert.Equal(t, d.Config, h.Snapshot.Config)

	// the snapshot must not alias the live deployment
	d.EnvVars["A"] = "2"
	assert.Equal(t, "1", h.Snapshot.EnvVars["A"])
}

func TestDeployment_TargetID(t *testing.T) {
	serverID := uuid.New()
	clusterID := uuid.New()

	onServer := NewDeployment(uuid.New(), "", nil, &serverID)
	onCluster := NewDeployment(uuid.New(), "", &clusterID, nil)
	none := NewDeployment(uuid.New(), "", nil, nil)

	assert.Equal(t, serverID, onServer.TargetID())
	assert.Equal(t, clusterID, onCluster.TargetID())
	assert.Equal(t, uuid.Nil, none.TargetID())
}

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, Page{Page: 1, Limit: 20}, Page{}.Normalize())
	assert.Equal(t, Page{Page: 3, Limit: 100}, Page{Page: 3, Limit: 500}.Normalize())
	assert.Equal(t, 40, Page{Page: 3, Limit: 20}.Offset())
}

func TestServer_HasCredentials(t *testing.T) {
	empty := ""
	key := "ciphertext"

	s := NewServer("u", "web", "10.0.0.1", 0, "root")
	assert.Equal(t, DefaultSSHPort, s.Port)
	assert.False(t, s.HasCredentials())

	s.Password = &empty
	assert.False(t, s.HasCredentials())

	s.PrivateKey = &key
	assert.True(t, s.HasCredentials())
}
