// Package output provides functions to print messages with optional color formatting
package output

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/oar-cd/moor/deploy"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/provision"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	Plain   = color.FgWhite
	Success = color.FgGreen
	Warning = color.FgYellow
	Error   = color.FgRed

	timeFormat = "2006-01-02 15:04:05"
)

var maybeColorize func(kind color.Attribute, tmpl string, a ...any) string

// InitColors sets up color functions based on environment
func InitColors(isColorDisabled bool) {
	if color.NoColor || isColorDisabled {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return fmt.Sprintf(tmpl, a...)
		}
	} else {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return color.New(kind).SprintfFunc()(tmpl, a...)
		}
	}
}

// PrintMessage formats a message with color (if enabled) and terminates it with a newline
func PrintMessage(kind color.Attribute, tmpl string, a ...any) string {
	if maybeColorize == nil || kind == Plain {
		return fmt.Sprintf(tmpl+"\n", a...)
	}
	return fmt.Sprintln(maybeColorize(kind, tmpl, a...))
}

func fprint(cmd *cobra.Command, kind color.Attribute, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.OutOrStdout(), PrintMessage(kind, tmpl, a...))
	return err
}

func FprintPlain(cmd *cobra.Command, tmpl string, a ...any) error {
	return fprint(cmd, Plain, tmpl, a...)
}

func FprintSuccess(cmd *cobra.Command, tmpl string, a ...any) error {
	return fprint(cmd, Success, tmpl, a...)
}

func FprintWarning(cmd *cobra.Command, tmpl string, a ...any) error {
	return fprint(cmd, Warning, tmpl, a...)
}

// StatusColor picks the color a deployment or server status is printed in
func StatusColor(status string) color.Attribute {
	switch status {
	case "success", "connected":
		return Success
	case "failed", "error", "disconnected":
		return Error
	case "pending", "in_progress", "rolling_back", "installing":
		return Warning
	default:
		return Plain
	}
}

func colorize(kind color.Attribute, s string) string {
	if maybeColorize == nil || kind == Plain {
		return s
	}
	return maybeColorize(kind, "%s", s)
}

func PrintTable(header []string, data [][]string) (string, error) {
	buf := strings.Builder{}

	table := tablewriter.NewTable(
		&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines: tw.Lines{
					ShowHeaderLine: tw.Off,
				},
				Separators: tw.Separators{
					BetweenColumns: tw.Off,
				},
			},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{PerColumn: []tw.Align{tw.AlignRight, tw.AlignLeft}},
			},
		}))

	if len(header) > 0 {
		table.Header(header)
	}

	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("bulk adding data to table: %w", err)
	}

	if err := table.Render(); err != nil {
		return "", fmt.Errorf("rendering table: %w", err)
	}

	return buf.String(), nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(timeFormat)
}

func formatBytes(b uint64) string {
	const mb = 1024 * 1024
	if b == 0 {
		return "-"
	}
	return fmt.Sprintf("%d MB", b/mb)
}

func PrintServerDetails(s *domain.Server) (string, error) {
	cluster := "-"
	if s.ClusterID != nil {
		cluster = s.ClusterID.String()
	}
	data := [][]string{
		{"ID", s.ID.String()},
		{"Name", s.Name},
		{"Address", fmt.Sprintf("%s@%s:%d", s.Username, s.Host, s.Port)},
		{"Cluster", cluster},
		{"Owner", s.OwnerID},
		{"Status", colorize(StatusColor(s.Status.String()), s.Status.String())},
		{"Last Connected", formatTime(s.LastConnectedAt)},
	}
	if s.Info != nil {
		data = append(data, PrintServerInfoRows(s.Info)...)
	}
	data = append(data,
		[]string{"Created At", formatTime(&s.CreatedAt)},
		[]string{"Updated At", formatTime(&s.UpdatedAt)},
	)

	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing server details table: %w", err)
	}
	return table, nil
}

// PrintServerInfoRows renders collected host facts as table rows
func PrintServerInfoRows(info *domain.ServerInfo) [][]string {
	docker := "not installed"
	if info.DockerInstalled {
		docker = info.DockerVersion
		if docker == "" {
			docker = "installed"
		}
	}
	return [][]string{
		{"OS", info.OS},
		{"Architecture", info.Architecture},
		{"CPU Cores", strconv.Itoa(info.CPUCores)},
		{"CPU Usage", fmt.Sprintf("%.1f%%", info.CPUUsage)},
		{"Memory", fmt.Sprintf("%s / %s available", formatBytes(info.TotalMemory), formatBytes(info.AvailableMemory))},
		{"Docker", docker},
	}
}

func PrintServerList(servers []*domain.Server) (string, error) {
	if len(servers) == 0 {
		return PrintMessage(Plain, "No servers found."), nil
	}

	header := []string{"ID", "Name", "Address", "Status", "Last Connected"}
	var data [][]string
	for _, s := range servers {
		data = append(data, []string{
			s.ID.String(),
			s.Name,
			fmt.Sprintf("%s:%d", s.Host, s.Port),
			colorize(StatusColor(s.Status.String()), s.Status.String()),
			formatTime(s.LastConnectedAt),
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing server list table: %w", err)
	}
	return table, nil
}

func target(d *domain.Deployment) string {
	switch {
	case d.ServerID != nil:
		return "server " + d.ServerID.String()
	case d.ClusterID != nil:
		return "cluster " + d.ClusterID.String()
	default:
		return "-"
	}
}

func PrintDeploymentDetails(d *domain.Deployment, short bool) (string, error) {
	data := [][]string{
		{"ID", d.ID.String()},
		{"Project", d.ProjectID.String()},
		{"Target", target(d)},
		{"Status", colorize(StatusColor(d.Status.String()), d.Status.String())},
	}
	if d.ErrorMessage != "" {
		data = append(data, []string{"Error", d.ErrorMessage})
	}
	if !short {
		if d.RollbackOfID != nil {
			data = append(data, []string{"Rollback Of", d.RollbackOfID.String()})
		}
		if d.JobID != nil {
			data = append(data, []string{"Job", *d.JobID})
		}
		images := make([]string, 0, len(d.Config.DockerImages))
		for svc, image := range d.Config.DockerImages {
			images = append(images, svc+": "+image)
		}
		sort.Strings(images)
		data = append(data,
			[]string{"Images", strings.Join(images, "\n")},
			[]string{"Started At", formatTime(d.StartedAt)},
			[]string{"Completed At", formatTime(d.CompletedAt)},
			[]string{"Created At", formatTime(&d.CreatedAt)},
		)
	}

	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing deployment details table: %w", err)
	}
	return table, nil
}

func PrintDeploymentList(deployments []*domain.Deployment, total int64) (string, error) {
	if len(deployments) == 0 {
		return PrintMessage(Plain, "No deployments found."), nil
	}

	header := []string{"ID", "Status", "Target", "Created At", "Completed At"}
	var data [][]string
	for _, d := range deployments {
		data = append(data, []string{
			d.ID.String(),
			colorize(StatusColor(d.Status.String()), d.Status.String()),
			target(d),
			formatTime(&d.CreatedAt),
			formatTime(d.CompletedAt),
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing deployment list table: %w", err)
	}
	return table + fmt.Sprintf("%d of %d deployments\n", len(deployments), total), nil
}

func PrintDeploymentStatus(view *deploy.StatusView) (string, error) {
	data := [][]string{
		{"Deployment", view.DeploymentID.String()},
		{"Status", colorize(StatusColor(view.Status), view.Status)},
		{"Progress", fmt.Sprintf("%d%%", view.ProgressPercent)},
		{"Source", view.Source},
	}
	if view.Stage != "" {
		data = append(data, []string{"Stage", view.Stage})
	}
	if view.ErrorMessage != "" {
		data = append(data, []string{"Error", view.ErrorMessage})
	}
	for _, svc := range view.Services {
		data = append(data, []string{"Service " + svc.ServiceName, colorize(StatusColor(svc.Status), svc.Status)})
	}

	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing deployment status table: %w", err)
	}
	return table, nil
}

func PrintEstimate(est *provision.RequirementsEstimate) (string, error) {
	data := [][]string{
		{"CPU Cores", fmt.Sprintf("%.2f", est.RequiredCPUCores)},
		{"Memory", fmt.Sprintf("%d MB", est.RequiredMemoryMB)},
		{"Disk", fmt.Sprintf("%d GB", est.RequiredDiskGB)},
		{"Servers", strconv.Itoa(est.RecommendedServers)},
	}
	if est.FitsCurrentServer != nil {
		fits := colorize(Success, "yes")
		if !*est.FitsCurrentServer {
			fits = colorize(Error, "no")
		}
		data = append(data, []string{"Fits Server", fits})
	}
	if est.HeadroomPercent != nil {
		data = append(data, []string{"Headroom", fmt.Sprintf("%.1f%%", *est.HeadroomPercent)})
	}
	if len(est.Notes) > 0 {
		data = append(data, []string{"Notes", strings.Join(est.Notes, "\n")})
	}

	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing estimate table: %w", err)
	}
	return table, nil
}

// CLI flag for disabling color output

// NoColor is a flag that can be used to disable colored output in the CLI.
var NoColor = &noColorFlag{set: false}

var _ pflag.Value = (*noColorFlag)(nil)

type noColorFlag struct {
	set bool
}

func (f *noColorFlag) Set(value string) error {
	// This is a boolean flag, so we ignore the value and just mark it as set
	f.set = true
	return nil
}

func (f *noColorFlag) String() string {
	if f.set {
		return "true"
	}
	return "false"
}

func (f *noColorFlag) Type() string {
	return "bool"
}

// IsSet returns true if the --no-color flag was explicitly set
func (f *noColorFlag) IsSet() bool {
	return f.set
}

// IsBoolFlag tells pflag this is a boolean flag (no argument required)
func (f *noColorFlag) IsBoolFlag() bool {
	return true
}
