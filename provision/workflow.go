// Package provision bootstraps a registered server: Docker, the moor service user, its
// directories and the firewall.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/repository"
	"github.com/oar-cd/moor/sshexec"
	"github.com/oar-cd/moor/sshjobs"
)

// Step timeouts
const (
	dockerCheckTimeout   = 30 * time.Second
	dockerInstallTimeout = 300 * time.Second
	setupTimeout         = 60 * time.Second
	ufwCheckTimeout      = 30 * time.Second
	ufwInstallTimeout    = 120 * time.Second
	firewallTimeout      = 30 * time.Second
)

const serviceUser = "moor"

// CommandRunner executes one command on a server through the command queue
type CommandRunner interface {
	ExecuteCommand(ctx context.Context, serverID uuid.UUID, command string, timeout time.Duration, safe bool, caller domain.CallerMetadata) (*sshjobs.JobResult, error)
}

type AccessControl interface {
	VerifyServerOwnership(ctx context.Context, id uuid.UUID, caller domain.CallerMetadata) error
}

type Options struct {
	InstallDocker bool
	SetupFirewall bool
}

func DefaultOptions() Options {
	return Options{InstallDocker: true, SetupFirewall: true}
}

type Result struct {
	DirectoriesCreated bool     `json:"directoriesCreated"`
	UserCreated        bool     `json:"userCreated"`
	DockerInstalled    bool     `json:"dockerInstalled"`
	FirewallConfigured bool     `json:"firewallConfigured"`
	Log                []string `json:"configurationLog"`
}

// ConfigurationError reports the fatal step and the log up to that point
type ConfigurationError struct {
	Step string
	Log  []string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("server configuration failed at step %s: %v", e.Step, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

type firewallRule struct {
	command string
	desc    string
}

var firewallRules = []firewallRule{
	{sshexec.CmdUFWAllowSSH, "SSH (22/tcp)"},
	{sshexec.CmdUFWAllowHTTP, "HTTP (80/tcp)"},
	{sshexec.CmdUFWAllowHTTPS, "HTTPS (443/tcp)"},
	{sshexec.CmdUFWAllowSwarm, "Docker Swarm (2377/tcp, 7946/tcp+udp, 4789/udp)"},
}

type Workflow struct {
	commands CommandRunner
	servers  repository.ServerRepository
	access   AccessControl
}

func NewWorkflow(commands CommandRunner, servers repository.ServerRepository, access AccessControl) *Workflow {
	return &Workflow{
		commands: commands,
		servers:  servers,
		access:   access,
	}
}

// run carries the state of one Configure call
type run struct {
	w        *Workflow
	ctx      context.Context
	caller   domain.CallerMetadata
	serverID uuid.UUID
	result   Result
}

func (r *run) logf(format string, a ...any) {
	r.result.Log = append(r.result.Log, fmt.Sprintf(format, a...))
}

// exec runs a command and reports whether it succeeded. A transport failure counts as a failed
// command and its reason is returned for the log.
func (r *run) exec(command string, timeout time.Duration, safe bool) (*sshjobs.CommandOutcome, bool, string) {
	res, err := r.w.commands.ExecuteCommand(r.ctx, r.serverID, command, timeout, safe, r.caller)
	if err != nil {
		return &sshjobs.CommandOutcome{}, false, err.Error()
	}
	out := res.Command
	if out == nil {
		out = &sshjobs.CommandOutcome{}
	}
	reason := res.Error
	if reason == "" {
		reason = out.Stderr
	}
	return out, res.Success, reason
}

func (r *run) fail(step, reason string) error {
	slog.Error("Server configuration step failed",
		"layer", "service",
		"operation", "configure_server",
		"server_id", r.serverID,
		"step", step,
		"error", reason)
	r.logf("✗ %s failed: %s", step, reason)
	return &ConfigurationError{
		Step: step,
		Log:  append([]string(nil), r.result.Log...),
		Err:  domain.Configuration("configure_server", step+" failed", errors.New(reason)),
	}
}

func (r *run) warn(step, line, reason string) {
	slog.Warn("Server configuration step degraded",
		"layer", "service",
		"operation", "configure_server",
		"server_id", r.serverID,
		"step", step,
		"error", reason)
	r.logf("%s", line)
}

// Configure runs the provisioning steps in order. Every step checks before acting, so running it
// again on a configured server only re-applies idempotent commands.
func (w *Workflow) Configure(ctx context.Context, caller domain.CallerMetadata, serverID uuid.UUID, opts Options) (*Result, error) {
	if err := w.access.VerifyServerOwnership(ctx, serverID, caller); err != nil {
		return nil, err
	}
	if _, err := w.servers.FindByID(serverID); err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound("configure_server", "server", serverID)
		}
		return nil, fmt.Errorf("failed to load server %s: %w", serverID, err)
	}

	w.setStatus(serverID, domain.ServerStatusInstalling)

	r := &run{w: w, ctx: ctx, caller: caller, serverID: serverID}
	if err := r.steps(opts); err != nil {
		w.setStatus(serverID, domain.ServerStatusError)
		return nil, err
	}
	w.setStatus(serverID, domain.ServerStatusConnected)

	slog.Info("Server configured",
		"layer", "service",
		"operation", "configure_server",
		"server_id", serverID,
		"docker_installed", r.result.DockerInstalled,
		"user_created", r.result.UserCreated,
		"firewall_configured", r.result.FirewallConfigured)
	return &r.result, nil
}

func (r *run) steps(opts Options) error {
	if opts.InstallDocker {
		if err := r.docker(); err != nil {
			return err
		}
	}

	r.logf("Creating directories...")
	if _, ok, reason := r.exec(sshexec.CmdCreateDirectories, setupTimeout, false); !ok {
		return r.fail("create directories", reason)
	}
	r.result.DirectoriesCreated = true
	r.logf("✓ Directories created")

	if err := r.user(); err != nil {
		return err
	}

	if _, ok, reason := r.exec(sshexec.CmdAddUserToDocker, setupTimeout, false); ok {
		r.logf("✓ User added to docker group")
	} else {
		r.warn("docker group", "⚠ Warning: failed to add user to docker group", reason)
	}

	if _, ok, reason := r.exec(sshexec.CmdSetDirOwnership, setupTimeout, false); ok {
		r.logf("✓ Directory ownership set")
	} else {
		r.warn("directory ownership", "⚠ Warning: failed to set directory ownership", reason)
	}

	if opts.SetupFirewall {
		r.firewall()
	}

	r.logf("Server configuration completed successfully")
	return nil
}

func (r *run) docker() error {
	r.logf("Checking Docker installation...")
	out, ok, _ := r.exec(sshexec.CmdCheckDocker, dockerCheckTimeout, true)
	if ok && strings.Contains(out.Stdout, "Docker version") {
		r.logf("✓ Docker already installed: %s", out.Stdout)
		return nil
	}

	r.logf("Installing Docker...")
	if _, ok, reason := r.exec(sshexec.CmdInstallDocker, dockerInstallTimeout, false); !ok {
		return r.fail("install docker", reason)
	}
	r.result.DockerInstalled = true
	r.logf("✓ Docker installed successfully")
	return nil
}

func (r *run) user() error {
	r.logf("Checking %s user...", serviceUser)
	out, ok, _ := r.exec(sshexec.CmdCheckUser, setupTimeout, true)
	if ok && out.Stdout != "" && !strings.Contains(out.Stdout, sshexec.UserNotExistsMarker) {
		r.logf("✓ User %s already exists", serviceUser)
		return nil
	}

	if _, ok, reason := r.exec(sshexec.CmdCreateUser, setupTimeout, false); !ok {
		return r.fail("create user", reason)
	}
	r.result.UserCreated = true
	r.logf("✓ User %s created", serviceUser)
	return nil
}

func (r *run) firewall() {
	r.logf("Configuring firewall...")
	out, ok, _ := r.exec(sshexec.CmdCheckUFW, ufwCheckTimeout, true)
	installed := ok && out.Stdout != "" && !strings.Contains(out.Stdout, sshexec.UFWNotInstalledMarker)

	if !installed {
		if _, ok, reason := r.exec(sshexec.CmdInstallUFW, ufwInstallTimeout, false); !ok {
			r.warn("install ufw", "⚠ Failed to install UFW, skipping firewall configuration", reason)
			return
		}
		r.logf("✓ UFW installed")
	}

	for _, rule := range firewallRules {
		if _, ok, reason := r.exec(rule.command, firewallTimeout, true); ok {
			r.logf("✓ Firewall rule added: %s", rule.desc)
		} else {
			r.warn("firewall rule", "⚠ Failed to add firewall rule: "+rule.desc, reason)
		}
	}

	if _, ok, reason := r.exec(sshexec.CmdUFWEnable, firewallTimeout, true); ok {
		r.result.FirewallConfigured = true
		r.logf("✓ Firewall enabled")
	} else {
		r.warn("enable firewall", "⚠ Failed to enable firewall", reason)
	}
}

func (w *Workflow) setStatus(id uuid.UUID, status domain.ServerStatus) {
	server, err := w.servers.FindByID(id)
	if err == nil {
		server.Status = status
		if status == domain.ServerStatusConnected {
			now := time.Now()
			server.LastConnectedAt = &now
		}
		err = w.servers.Update(server)
	}
	if err != nil {
		slog.Warn("Failed to update server status",
			"layer", "service",
			"operation", "configure_server",
			"server_id", id,
			"status", status.String(),
			"error", err)
	}
}

// EstimateForServer sizes a workload against the server's last collected facts
func (w *Workflow) EstimateForServer(ctx context.Context, caller domain.CallerMetadata, serverID uuid.UUID, in RequirementsInput) (*RequirementsEstimate, error) {
	if err := w.access.VerifyServerOwnership(ctx, serverID, caller); err != nil {
		return nil, err
	}
	server, err := w.servers.FindByID(serverID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound("estimate_requirements", "server", serverID)
		}
		return nil, fmt.Errorf("failed to load server %s: %w", serverID, err)
	}
	est := EstimateRequirements(in, server.Info)
	return &est, nil
}
