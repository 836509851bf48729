package codegen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProject_ListsServicesWithManifest(t *testing.T) {
	root := t.TempDir()
	projectID := uuid.New()
	dir := filepath.Join(root, projectID.String())
	for _, svc := range []string{"users", "orders", ".cache"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, svc), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("generated"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`
name: Pet Shop
services:
  orders:
    depends_on: [users]
`), 0o644))

	project, err := NewDirectorySource(root).GenerateProject(context.Background(), projectID)

	require.NoError(t, err)
	assert.Equal(t, "Pet Shop", project.ProjectName)
	require.Len(t, project.Results, 2)
	assert.Equal(t, "orders", project.Results[0].ServiceName)
	assert.Equal(t, []string{"users"}, project.Results[0].DependsOn)
	assert.Equal(t, filepath.Join(dir, "orders"), project.Results[0].GeneratedCodePath)
	assert.Equal(t, "users", project.Results[1].ServiceName)
	assert.Empty(t, project.Results[1].DependsOn)
}

func TestGenerateProject_MissingProjectIsEmpty(t *testing.T) {
	project, err := NewDirectorySource(t.TempDir()).GenerateProject(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.Empty(t, project.Results)
}

func TestGenerateProject_BadManifest(t *testing.T) {
	root := t.TempDir()
	projectID := uuid.New()
	dir := filepath.Join(root, projectID.String())
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "api"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("services: [oops"), 0o644))

	_, err := NewDirectorySource(root).GenerateProject(context.Background(), projectID)

	assert.ErrorContains(t, err, "failed to parse project.yaml")
}
