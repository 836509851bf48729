// Package codegen reads generated projects from disk.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/deploy"
	"gopkg.in/yaml.v3"
)

// ManifestFile optionally names the project and declares service dependencies
const ManifestFile = "project.yaml"

type manifest struct {
	Name     string `yaml:"name"`
	Services map[string]struct {
		DependsOn []string `yaml:"depends_on"`
	} `yaml:"services"`
}

// DirectorySource serves generated code laid out as <root>/<projectID>/<service>/
type DirectorySource struct {
	root string
}

func NewDirectorySource(root string) *DirectorySource {
	return &DirectorySource{root: root}
}

// GenerateProject lists the service directories of a project. A project that was never
// generated yields no services.
func (s *DirectorySource) GenerateProject(_ context.Context, projectID uuid.UUID) (*deploy.GeneratedProject, error) {
	dir := filepath.Join(s.root, projectID.String())
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return &deploy.GeneratedProject{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read generated project %s: %w", projectID, err)
	}

	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	project := &deploy.GeneratedProject{ProjectName: m.Name}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		name := entry.Name()
		project.Results = append(project.Results, deploy.GeneratedService{
			ServiceName:       name,
			GeneratedCodePath: filepath.Join(dir, name),
			DependsOn:         m.Services[name].DependsOn,
		})
	}
	sort.Slice(project.Results, func(i, j int) bool {
		return project.Results[i].ServiceName < project.Results[j].ServiceName
	})
	return project, nil
}

func readManifest(dir string) (*manifest, error) {
	var m manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return &m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ManifestFile, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestFile, err)
	}
	return &m, nil
}
