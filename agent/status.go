package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/oar-cd/moor/deploy"
	"github.com/oar-cd/moor/domain"
)

// ContainerInfo is one entry of `docker compose ps --format json`
type ContainerInfo struct {
	Service  string `json:"Service"`
	Name     string `json:"Name"`
	State    string `json:"State"`
	Health   string `json:"Health"`
	Status   string `json:"Status"`
	ExitCode int    `json:"ExitCode"`
}

// StackService is one line of `docker stack services --format '{{json .}}'`
type StackService struct {
	ID       string `json:"ID"`
	Name     string `json:"Name"`
	Mode     string `json:"Mode"`
	Replicas string `json:"Replicas"`
	Image    string `json:"Image"`
}

type statusReport struct {
	deploymentID string
	// exitCode is nil while the background rollout is still running
	exitCode   *int
	containers []ContainerInfo
	services   []StackService
	stack      bool
}

// parseStatusOutput splits the status script output into marker, exit code and listing
func parseStatusOutput(stdout string, stack bool) (*statusReport, error) {
	sections := strings.SplitN(stdout, sectionBreak, 3)
	if len(sections) != 3 {
		return nil, fmt.Errorf("unexpected status output: %q", stdout)
	}

	report := &statusReport{
		deploymentID: strings.TrimSpace(sections[0]),
		stack:        stack,
	}
	if raw := strings.TrimSpace(sections[1]); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid rollout exit code %q", raw)
		}
		report.exitCode = &code
	}

	listing := strings.TrimSpace(sections[2])
	if stack {
		report.services = parseStackServices(listing)
	} else {
		report.containers = parseContainers(listing)
	}
	return report, nil
}

// parseContainers accepts both the JSON array and the one-object-per-line forms
func parseContainers(output string) []ContainerInfo {
	if output == "" {
		return nil
	}
	if strings.HasPrefix(output, "[") {
		var containers []ContainerInfo
		if err := json.Unmarshal([]byte(output), &containers); err != nil {
			slog.Warn("Failed to parse container list", "layer", "agent", "error", err)
			return nil
		}
		return containers
	}

	var containers []ContainerInfo
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var container ContainerInfo
		if err := json.Unmarshal([]byte(line), &container); err != nil {
			slog.Warn("Failed to parse container JSON", "layer", "agent", "line", line, "error", err)
			continue
		}
		containers = append(containers, container)
	}
	return containers
}

func parseStackServices(output string) []StackService {
	var services []StackService
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var svc StackService
		if err := json.Unmarshal([]byte(line), &svc); err != nil {
			slog.Warn("Failed to parse stack service JSON", "layer", "agent", "line", line, "error", err)
			continue
		}
		services = append(services, svc)
	}
	return services
}

func (r *statusReport) status(serverID string) *deploy.AgentStatus {
	if r.exitCode != nil && *r.exitCode != 0 {
		return &deploy.AgentStatus{
			Status:       domain.DeploymentStatusFailed,
			Stage:        "rollout",
			ErrorMessage: fmt.Sprintf("rollout exited with code %d", *r.exitCode),
			Services:     r.serviceStatuses(serverID),
		}
	}
	if r.exitCode == nil {
		return &deploy.AgentStatus{
			Status:   domain.DeploymentStatusInProgress,
			Stage:    "starting services",
			Services: r.serviceStatuses(serverID),
		}
	}

	statuses := r.serviceStatuses(serverID)
	if len(statuses) == 0 {
		return &deploy.AgentStatus{Status: domain.DeploymentStatusInProgress, Stage: "waiting for services"}
	}

	ready := 0
	var failed []string
	for _, s := range statuses {
		switch s.Status {
		case "running", "healthy":
			ready++
		case "exited", "dead", "unhealthy":
			failed = append(failed, s.ServiceName)
		}
	}

	progress := ready * 100 / len(statuses)
	switch {
	case len(failed) > 0:
		return &deploy.AgentStatus{
			Status:          domain.DeploymentStatusFailed,
			Stage:           "health check",
			ProgressPercent: progress,
			Services:        statuses,
			ErrorMessage:    "services not running: " + strings.Join(failed, ", "),
		}
	case ready == len(statuses):
		return &deploy.AgentStatus{
			Status:          domain.DeploymentStatusSuccess,
			Stage:           "running",
			ProgressPercent: 100,
			Services:        statuses,
		}
	default:
		return &deploy.AgentStatus{
			Status:          domain.DeploymentStatusInProgress,
			Stage:           "health check",
			ProgressPercent: progress,
			Services:        statuses,
		}
	}
}

func (r *statusReport) serviceStatuses(serverID string) []domain.ServiceStatus {
	if r.stack {
		statuses := make([]domain.ServiceStatus, 0, len(r.services))
		for _, svc := range r.services {
			statuses = append(statuses, domain.ServiceStatus{
				ServiceID:   svc.ID,
				ServiceName: svc.Name,
				ServerID:    serverID,
				Status:      replicaState(svc.Replicas),
			})
		}
		return statuses
	}

	statuses := make([]domain.ServiceStatus, 0, len(r.containers))
	for _, c := range r.containers {
		s := domain.ServiceStatus{
			ServiceID:   c.Name,
			ServiceName: c.Service,
			ServerID:    serverID,
			Status:      containerState(c),
		}
		if c.State == "exited" || c.State == "dead" {
			s.ErrorMessage = fmt.Sprintf("exit code %d: %s", c.ExitCode, c.Status)
		}
		statuses = append(statuses, s)
	}
	return statuses
}

// containerState folds the health check into the container state
func containerState(c ContainerInfo) string {
	if c.State != "running" {
		return c.State
	}
	switch c.Health {
	case "", "healthy":
		return "running"
	case "unhealthy":
		return "unhealthy"
	default:
		return "starting"
	}
}

// replicaState reads "current/desired" replica counts
func replicaState(replicas string) string {
	fields := strings.Fields(replicas)
	if len(fields) == 0 {
		return "unknown"
	}
	current, desired, ok := strings.Cut(fields[0], "/")
	if !ok {
		return "unknown"
	}
	if current == desired && current != "0" {
		return "running"
	}
	return "starting"
}
