package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/db"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func newPolicy(t *testing.T) (*OwnerPolicy, repository.ServerRepository) {
	t.Helper()
	database, err := db.InitDatabase(db.DBConfig{Path: ":memory:", LogLevel: logger.Silent})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrateAll(database))

	servers := repository.NewServerRepository(database)
	return NewOwnerPolicy(
		servers,
		repository.NewClusterRepository(database),
		repository.NewDeploymentRepository(database),
	), servers
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		name   string
		owner  string
		caller domain.CallerMetadata
		want   bool
	}{
		{"owner", "alice", domain.CallerMetadata{UserID: "alice"}, true},
		{"stranger", "alice", domain.CallerMetadata{UserID: "bob"}, false},
		{"admin", "alice", domain.CallerMetadata{UserID: "bob", Roles: []string{domain.RoleAdmin}}, true},
		{"unowned", "", domain.CallerMetadata{UserID: "bob"}, true},
		{"anonymous caller", "alice", domain.CallerMetadata{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allowed(tt.owner, tt.caller))
		})
	}
}

func TestVerifyServerOwnership(t *testing.T) {
	policy, servers := newPolicy(t)
	ctx := context.Background()

	server := domain.NewServer("alice", "web", "10.0.0.1", 22, "root")
	pw := "secret"
	server.Password = &pw
	require.NoError(t, servers.Create(&server))

	assert.NoError(t, policy.VerifyServerOwnership(ctx, server.ID, domain.CallerMetadata{UserID: "alice"}))

	err := policy.VerifyServerOwnership(ctx, server.ID, domain.CallerMetadata{UserID: "mallory"})
	assert.True(t, domain.IsKind(err, domain.KindForbidden))

	err = policy.VerifyServerOwnership(ctx, uuid.New(), domain.CallerMetadata{UserID: "alice"})
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestVerifyDeploymentOwnership_NotFound(t *testing.T) {
	policy, _ := newPolicy(t)

	err := policy.VerifyDeploymentOwnership(context.Background(), uuid.New(), domain.SystemCaller())

	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}
