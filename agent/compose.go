// Package agent drives deployments on target hosts with Docker Compose, or Docker Stack
// on a cluster's manager, by running shell commands through the SSH job queue.
package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/deploy"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/sshjobs"
)

const (
	DefaultProjectsDir = "/opt/moor/projects"
	DefaultLogDir      = "/var/log/moor"

	composeFileName = "docker-compose.yml"
	markerFile      = ".moor-deployment"
	exitFile        = ".moor-exit"
	sectionBreak    = "---moor---"

	launchTimeout = 2 * time.Minute
	statusTimeout = 30 * time.Second
	stopTimeout   = 3 * time.Minute
)

// CommandRunner runs shell commands on registered servers
type CommandRunner interface {
	ExecuteCommand(ctx context.Context, serverID uuid.UUID, command string, timeout time.Duration, safe bool, caller domain.CallerMetadata) (*sshjobs.JobResult, error)
}

// ComposeAgent is a deploy.RunnerAgent for hosts reached over SSH
type ComposeAgent struct {
	commands    CommandRunner
	infra       deploy.Infrastructure
	projectsDir string
	logDir      string
}

func NewComposeAgent(commands CommandRunner, infra deploy.Infrastructure) *ComposeAgent {
	return &ComposeAgent{
		commands:    commands,
		infra:       infra,
		projectsDir: DefaultProjectsDir,
		logDir:      DefaultLogDir,
	}
}

// target is where and how a deployment runs
type target struct {
	serverID uuid.UUID
	stack    bool
	project  string
	dir      string
}

func (a *ComposeAgent) resolve(ctx context.Context, d *domain.Deployment) (*target, error) {
	compose, err := deploy.ParseCompose(d.Config.DockerComposeYML)
	if err != nil {
		return nil, err
	}
	project := compose.Name
	if project == "" {
		project = deploy.ProjectSlug("", d.ProjectID)
	}

	t := &target{project: project, dir: path.Join(a.projectsDir, project)}
	switch {
	case d.ServerID != nil:
		t.serverID = *d.ServerID
	case d.ClusterID != nil:
		cluster, err := a.infra.GetCluster(ctx, *d.ClusterID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cluster %s: %w", *d.ClusterID, err)
		}
		t.serverID = cluster.ManagerServerID
		t.stack = true
	default:
		return nil, fmt.Errorf("deployment %s has no target", d.ID)
	}
	return t, nil
}

func (a *ComposeAgent) run(ctx context.Context, t *target, command string, timeout time.Duration) (*sshjobs.CommandOutcome, error) {
	result, err := a.commands.ExecuteCommand(ctx, t.serverID, command, timeout, true, domain.SystemCaller())
	if err != nil {
		return nil, err
	}
	if result.Command == nil {
		return nil, fmt.Errorf("command on server %s returned no output: %s", t.serverID, result.Error)
	}
	return result.Command, nil
}

// Deploy uploads the artifacts and starts the rollout in the background on the target
func (a *ComposeAgent) Deploy(ctx context.Context, d *domain.Deployment) (*deploy.DeployAck, error) {
	t, err := a.resolve(ctx, d)
	if err != nil {
		return nil, err
	}

	out, err := a.run(ctx, t, a.launchScript(t, d), launchTimeout)
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		return &deploy.DeployAck{Accepted: false, Message: failureMessage("failed to start deployment", out)}, nil
	}

	slog.Info("Deployment launched on target",
		"layer", "agent",
		"operation", "deploy",
		"deployment_id", d.ID,
		"server_id", t.serverID,
		"project", t.project,
		"stack", t.stack)
	return &deploy.DeployAck{Accepted: true}, nil
}

func (a *ComposeAgent) launchScript(t *target, d *domain.Deployment) string {
	steps := []string{
		"mkdir -p " + shellQuote(t.dir),
		writeFile(path.Join(t.dir, composeFileName), d.Config.DockerComposeYML),
	}

	services := make([]string, 0, len(d.Config.Dockerfiles))
	for svc := range d.Config.Dockerfiles {
		services = append(services, svc)
	}
	sort.Strings(services)
	for _, svc := range services {
		dir := path.Join(t.dir, svc)
		steps = append(steps,
			"mkdir -p "+shellQuote(dir),
			writeFile(path.Join(dir, "Dockerfile"), d.Config.Dockerfiles[svc]))
	}

	steps = append(steps,
		writeFile(path.Join(t.dir, markerFile), d.ID.String()),
		"rm -f "+shellQuote(path.Join(t.dir, exitFile)),
	)

	var up string
	if t.stack {
		up = fmt.Sprintf("docker stack deploy --with-registry-auth -c %s %s", composeFileName, t.project)
	} else {
		up = fmt.Sprintf("docker compose -p %s up -d --build --remove-orphans", t.project)
	}
	logFile := path.Join(a.logDir, t.project+".log")
	steps = append(steps, fmt.Sprintf(
		"cd %s && (nohup sh -c %s > %s 2>&1 &)",
		shellQuote(t.dir),
		shellQuote(up+"; echo $? > "+exitFile),
		shellQuote(logFile),
	))
	return strings.Join(steps, " && ")
}

// GetDeploymentStatus reads the rollout state of d from the target
func (a *ComposeAgent) GetDeploymentStatus(ctx context.Context, d *domain.Deployment) (*deploy.AgentStatus, error) {
	t, err := a.resolve(ctx, d)
	if err != nil {
		return nil, err
	}

	var list string
	if t.stack {
		list = fmt.Sprintf("docker stack services %s --format '{{json .}}'", t.project)
	} else {
		list = fmt.Sprintf("docker compose -p %s ps -a --format json", t.project)
	}
	command := fmt.Sprintf(
		"cd %s && cat %s; echo; echo %s; cat %s 2>/dev/null; echo; echo %s; %s",
		shellQuote(t.dir), markerFile, sectionBreak, exitFile, sectionBreak, list,
	)

	out, err := a.run(ctx, t, command, statusTimeout)
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 && !strings.Contains(out.Stdout, sectionBreak) {
		return nil, fmt.Errorf("%s", failureMessage("failed to read deployment state", out))
	}

	report, err := parseStatusOutput(out.Stdout, t.stack)
	if err != nil {
		return nil, err
	}
	if report.deploymentID != d.ID.String() {
		return nil, fmt.Errorf("target %s now runs deployment %q", t.project, report.deploymentID)
	}
	return report.status(t.serverID.String()), nil
}

// CancelDeployment tears the project down on the target
func (a *ComposeAgent) CancelDeployment(ctx context.Context, d *domain.Deployment) error {
	t, err := a.resolve(ctx, d)
	if err != nil {
		return err
	}
	var command string
	if t.stack {
		command = "docker stack rm " + t.project
	} else {
		command = fmt.Sprintf("cd %s && docker compose -p %s down --remove-orphans", shellQuote(t.dir), t.project)
	}
	out, err := a.run(ctx, t, command, stopTimeout)
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("%s", failureMessage("failed to stop deployment", out))
	}
	return nil
}

// RollbackDeployment checks that the rollback deployment can be placed on a host. The
// launch itself happens when the queued rollback deployment is processed.
func (a *ComposeAgent) RollbackDeployment(ctx context.Context, current *domain.Deployment, target *domain.Deployment) error {
	t, err := a.resolve(ctx, target)
	if err != nil {
		return fmt.Errorf("rollback of %s cannot be placed: %w", current.ID, err)
	}
	slog.Info("Rollback queued for target host",
		"layer", "agent",
		"operation", "rollback_deployment",
		"deployment_id", current.ID,
		"rollback_id", target.ID,
		"server_id", t.serverID,
		"project", t.project)
	return nil
}

func failureMessage(prefix string, out *sshjobs.CommandOutcome) string {
	detail := strings.TrimSpace(out.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(out.Stdout)
	}
	if detail == "" {
		return fmt.Sprintf("%s (exit code %d)", prefix, out.ExitCode)
	}
	return fmt.Sprintf("%s (exit code %d): %s", prefix, out.ExitCode, detail)
}

// writeFile returns a command that writes content to p without any shell interpretation
func writeFile(p, content string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	return fmt.Sprintf("echo %s | base64 -d > %s", encoded, shellQuote(p))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
