// Package deploy provides commands for rolling out generated projects and managing their
// deployments.
package deploy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/output"
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/oar-cd/moor/domain"
	"github.com/spf13/cobra"
)

// pollInterval is how often --wait re-reads the deployment
var pollInterval = 2 * time.Second

func NewCmdDeploy() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deploy",
		Aliases: []string{"deployments"},
		Short:   "Deploy projects and manage their deployments",
	}

	cmd.AddCommand(NewCmdDeployCreate())
	cmd.AddCommand(NewCmdDeployList())
	cmd.AddCommand(NewCmdDeployShow())
	cmd.AddCommand(NewCmdDeployStatus())
	cmd.AddCommand(NewCmdDeployCancel())
	cmd.AddCommand(NewCmdDeployRollback())
	return cmd
}

func waitsOnJobs(cmd *cobra.Command) *cobra.Command {
	cmd.Annotations = map[string]string{utils.LocalWorkers: "true"}
	return cmd
}

// optionalID parses a flag value that may be empty
func optionalID(resource, input string) (*uuid.UUID, error) {
	if input == "" {
		return nil, nil
	}
	id, err := utils.ParseID(resource, input)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// waitForDeployment polls until the deployment leaves the active states
func waitForDeployment(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	caller := utils.Caller()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		d, err := app.GetDeploymentService().Get(ctx, caller, id)
		if err != nil {
			return nil, err
		}
		if !d.Status.IsActive() {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printDeployment(cmd *cobra.Command, d *domain.Deployment, short bool) error {
	out, err := output.PrintDeploymentDetails(d, short)
	if err != nil {
		return utils.Fail("printing deployment", err)
	}
	return output.FprintPlain(cmd, "%s", out)
}

// finish prints the deployment and, with wait set, blocks until it settles first
func finish(cmd *cobra.Command, d *domain.Deployment, wait bool) error {
	if !wait {
		return printDeployment(cmd, d, false)
	}
	_ = output.FprintPlain(cmd, "Waiting for deployment %s...", d.ID)
	settled, err := waitForDeployment(cmd.Context(), d.ID)
	if err != nil {
		return utils.Fail("waiting for deployment", err, "deployment_id", d.ID)
	}
	if err := printDeployment(cmd, settled, false); err != nil {
		return err
	}
	if settled.Status != domain.DeploymentStatusSuccess {
		return utils.Fail("deploying", domain.External("deploy", "deployment ended with status "+settled.Status.String(), nil),
			"deployment_id", settled.ID)
	}
	return nil
}
