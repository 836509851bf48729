package deploy

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/oar-cd/moor/domain"
	"gopkg.in/yaml.v3"
)

const (
	ImageRegistryPrefix = "moor"
	ServicePort         = 3000
	// SourceLabel records where the generated code of a service came from
	SourceLabel = "dev.moor.source"
)

// Compose is the subset of the compose file format that deployments produce
type Compose struct {
	Name     string                    `yaml:"name"`
	Services map[string]ComposeService `yaml:"services"`
}

type ComposeService struct {
	Image         string                       `yaml:"image"`
	Build         ComposeBuild                 `yaml:"build"`
	ContainerName string                       `yaml:"container_name,omitempty"`
	Restart       string                       `yaml:"restart"`
	Environment   map[string]string            `yaml:"environment,omitempty"`
	Labels        map[string]string            `yaml:"labels,omitempty"`
	Healthcheck   *ComposeHealthcheck          `yaml:"healthcheck,omitempty"`
	DependsOn     map[string]ComposeDependency `yaml:"depends_on,omitempty"`
}

type ComposeBuild struct {
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile"`
}

type ComposeHealthcheck struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	StartPeriod string   `yaml:"start_period"`
}

type ComposeDependency struct {
	Condition string `yaml:"condition"`
}

// ParseCompose decodes a compose document produced by BuildArtifacts
func ParseCompose(data string) (*Compose, error) {
	var c Compose
	if err := yaml.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to parse compose file: %w", err)
	}
	return &c, nil
}

// ProjectSlug is the compose project name for a generated project
func ProjectSlug(projectName string, projectID uuid.UUID) string {
	if s := slug.Make(projectName); s != "" {
		return s
	}
	return "project-" + projectID.String()[:8]
}

// ImageName tags a service image with the deployment it was built for
func ImageName(project, service string, deploymentID uuid.UUID) string {
	return fmt.Sprintf("%s/%s-%s:%s", ImageRegistryPrefix, project, service, deploymentID.String()[:8])
}

// BuildArtifacts synthesizes the compose file, one Dockerfile per service and the image map
// for a deployment of the generated project
func BuildArtifacts(
	project *GeneratedProject,
	projectID uuid.UUID,
	deploymentID uuid.UUID,
	envVars map[string]string,
) (domain.DeploymentConfig, error) {
	const op = "build_artifacts"
	if project == nil || len(project.Results) == 0 {
		return domain.DeploymentConfig{}, domain.Validation(op, "generated code is empty; regenerate the project before deploying")
	}

	projectSlug := ProjectSlug(project.ProjectName, projectID)

	// Resolve every service name first so dependencies can refer to any of them
	names := make(map[string]string, len(project.Results))
	for _, result := range project.Results {
		name := slug.Make(result.ServiceName)
		if name == "" {
			return domain.DeploymentConfig{}, domain.Validation(op, "invalid service name %q", result.ServiceName)
		}
		if _, dup := names[result.ServiceName]; dup {
			return domain.DeploymentConfig{}, domain.Validation(op, "duplicate service %q", result.ServiceName)
		}
		names[result.ServiceName] = name
	}

	compose := Compose{Name: projectSlug, Services: make(map[string]ComposeService, len(names))}
	cfg := domain.DeploymentConfig{
		Dockerfiles:         make(map[string]string, len(names)),
		DockerImages:        make(map[string]string, len(names)),
		ServiceDependencies: make(map[string][]string),
	}

	for _, result := range project.Results {
		name := names[result.ServiceName]
		if _, taken := compose.Services[name]; taken {
			return domain.DeploymentConfig{}, domain.Validation(op, "service %q collides with another service name", result.ServiceName)
		}

		deps := resolveDependencies(name, result.DependsOn, names)
		image := ImageName(projectSlug, name, deploymentID)

		compose.Services[name] = composeService(name, image, projectID, envVars, result.GeneratedCodePath, deps)
		cfg.Dockerfiles[name] = Dockerfile(name)
		cfg.DockerImages[name] = image
		if len(deps) > 0 {
			cfg.ServiceDependencies[name] = deps
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(compose); err != nil {
		return domain.DeploymentConfig{}, fmt.Errorf("failed to encode compose file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return domain.DeploymentConfig{}, fmt.Errorf("failed to encode compose file: %w", err)
	}
	cfg.DockerComposeYML = buf.String()
	return cfg, nil
}

// resolveDependencies maps dependency names to compose service names, dropping unknown
// services and self references
func resolveDependencies(self string, dependsOn []string, names map[string]string) []string {
	seen := map[string]bool{}
	var deps []string
	for _, dep := range dependsOn {
		name, ok := names[dep]
		if !ok {
			name = slug.Make(dep)
			if !knownService(name, names) {
				continue
			}
		}
		if name == self || seen[name] {
			continue
		}
		seen[name] = true
		deps = append(deps, name)
	}
	sort.Strings(deps)
	return deps
}

func knownService(name string, names map[string]string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func composeService(
	name, image string,
	projectID uuid.UUID,
	envVars map[string]string,
	sourcePath string,
	deps []string,
) ComposeService {
	env := make(map[string]string, len(envVars)+3)
	for k, v := range envVars {
		env[k] = v
	}
	env["NODE_ENV"] = "production"
	env["SERVICE_NAME"] = name
	env["PROJECT_ID"] = projectID.String()

	svc := ComposeService{
		Image: image,
		Build: ComposeBuild{
			Context:    "./" + name,
			Dockerfile: "Dockerfile",
		},
		ContainerName: name + "-container",
		Restart:       "unless-stopped",
		Environment:   env,
		Healthcheck: &ComposeHealthcheck{
			Test:        []string{"CMD", "curl", "-f", fmt.Sprintf("http://localhost:%d/health", ServicePort)},
			Interval:    "30s",
			Timeout:     "10s",
			Retries:     3,
			StartPeriod: "40s",
		},
	}
	if sourcePath != "" {
		svc.Labels = map[string]string{SourceLabel: sourcePath}
	}
	if len(deps) > 0 {
		svc.DependsOn = make(map[string]ComposeDependency, len(deps))
		for _, dep := range deps {
			svc.DependsOn[dep] = ComposeDependency{Condition: "service_healthy"}
		}
	}
	return svc
}

const dockerfileTemplate = `FROM node:20-alpine
RUN apk add --no-cache curl
WORKDIR /app
COPY package*.json ./
RUN npm ci --omit=dev
COPY . .
ENV SERVICE_NAME={{service}}
EXPOSE {{port}}
HEALTHCHECK --interval=30s --timeout=10s --retries=3 CMD curl -f http://localhost:{{port}}/health || exit 1
CMD ["node", "dist/main.js"]
`

// Dockerfile renders the default Dockerfile for a generated service
func Dockerfile(service string) string {
	return strings.NewReplacer(
		"{{service}}", service,
		"{{port}}", fmt.Sprint(ServicePort),
	).Replace(dockerfileTemplate)
}
