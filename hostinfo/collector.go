// Package hostinfo gathers OS, CPU, memory and Docker facts from a remote host.
package hostinfo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/sshexec"
	"golang.org/x/sync/errgroup"
)

// SafeRunner runs a command and returns "" when it fails
type SafeRunner interface {
	ExecuteSafe(ctx context.Context, cmd string, timeout time.Duration) string
}

var dockerVersionRe = regexp.MustCompile(`Docker version ([^,]+)`)

type Collector struct {
	// CommandTimeout bounds each probe; zero uses the executor default
	CommandTimeout time.Duration
}

func NewCollector() *Collector {
	return &Collector{}
}

// Collect runs the probe groups concurrently over one runner. It never fails: missing facts
// degrade to "unknown" or zero.
func (c *Collector) Collect(ctx context.Context, runner SafeRunner) domain.ServerInfo {
	var (
		osName, arch  string
		cores         int
		usage         float64
		total, avail  uint64
		dockerOK      bool
		dockerVersion string
	)

	g, gctx := errgroup.WithContext(ctx)
	goSafe(g, func() { osName, arch = c.collectOS(gctx, runner) })
	goSafe(g, func() { cores, usage = c.collectCPU(gctx, runner) })
	goSafe(g, func() { total, avail = c.collectMemory(gctx, runner) })
	goSafe(g, func() { dockerOK, dockerVersion = c.collectDocker(gctx, runner) })

	if err := g.Wait(); err != nil {
		slog.Error("Failed to collect server info",
			"layer", "hostinfo",
			"operation", "collect",
			"error", err)
		return domain.UnknownServerInfo()
	}

	return domain.ServerInfo{
		OS:              osName,
		Architecture:    arch,
		CPUCores:        cores,
		CPUUsage:        usage,
		TotalMemory:     total,
		AvailableMemory: avail,
		DockerInstalled: dockerOK,
		DockerVersion:   dockerVersion,
	}
}

// goSafe runs fn in the group and turns a panic into the group error
func goSafe(g *errgroup.Group, fn func()) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("probe panicked: %v", r)
			}
		}()
		fn()
		return nil
	})
}

func (c *Collector) collectOS(ctx context.Context, runner SafeRunner) (string, string) {
	var osName, arch string
	g, gctx := errgroup.WithContext(ctx)
	goSafe(g, func() { osName = runner.ExecuteSafe(gctx, sshexec.CmdUnameOS, c.CommandTimeout) })
	goSafe(g, func() { arch = runner.ExecuteSafe(gctx, sshexec.CmdUnameArch, c.CommandTimeout) })
	if err := g.Wait(); err != nil {
		panic(err)
	}

	if osName == "" {
		osName = "unknown"
	}
	if arch == "" {
		arch = "unknown"
	}
	return osName, arch
}

func (c *Collector) collectCPU(ctx context.Context, runner SafeRunner) (int, float64) {
	cores, _ := strconv.Atoi(strings.TrimSpace(runner.ExecuteSafe(ctx, sshexec.CmdNproc, c.CommandTimeout)))
	usage, err := strconv.ParseFloat(strings.TrimSpace(runner.ExecuteSafe(ctx, sshexec.CmdCPUUsage, c.CommandTimeout)), 64)
	if err != nil || math.IsNaN(usage) || math.IsInf(usage, 0) {
		usage = 0
	}
	return cores, math.Round(usage*100) / 100
}

func (c *Collector) collectMemory(ctx context.Context, runner SafeRunner) (uint64, uint64) {
	return ParseFreeOutput(runner.ExecuteSafe(ctx, sshexec.CmdFreeMemory, c.CommandTimeout))
}

func (c *Collector) collectDocker(ctx context.Context, runner SafeRunner) (bool, string) {
	versionOut := runner.ExecuteSafe(ctx, sshexec.CmdDockerVersion, c.CommandTimeout)
	version, ok := ParseDockerVersion(versionOut)
	if !ok {
		return false, ""
	}

	// The binary may exist while the daemon is unreachable
	if strings.TrimSpace(runner.ExecuteSafe(ctx, sshexec.CmdDockerPS, c.CommandTimeout)) != "ok" {
		return false, ""
	}
	return true, version
}

// ParseFreeOutput reads total and available bytes from the Mem: line of `free -b`
func ParseFreeOutput(out string) (total, available uint64) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Mem:") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) > 1 {
			total, _ = strconv.ParseUint(parts[1], 10, 64)
		}
		if len(parts) > 6 {
			available, _ = strconv.ParseUint(parts[6], 10, 64)
		}
		return total, available
	}
	return 0, 0
}

// ParseDockerVersion extracts "24.0.7" from "Docker version 24.0.7, build afdd53b"
func ParseDockerVersion(out string) (string, bool) {
	if !strings.Contains(out, "Docker version") {
		return "", false
	}
	m := dockerVersionRe.FindStringSubmatch(out)
	if m == nil {
		return "", true
	}
	return strings.TrimSpace(m[1]), true
}
