package deploy

import (
	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/output"
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/oar-cd/moor/domain"
	"github.com/spf13/cobra"
)

func NewCmdDeployList() *cobra.Command {
	var (
		projectID string
		status    string
		page      domain.Page
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the deployments of a project, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "listing deployments"
			project, err := utils.ParseID("project", projectID)
			if err != nil {
				return utils.Fail(op, err)
			}
			var filter *domain.DeploymentStatus
			if status != "" {
				s, err := domain.ParseDeploymentStatus(status)
				if err != nil {
					return utils.Fail(op, domain.Validation("list_deployments", "unknown status '%s'", status))
				}
				filter = &s
			}

			deployments, total, err := app.GetDeploymentService().List(cmd.Context(), utils.Caller(), project, page.Normalize(), filter)
			if err != nil {
				return utils.Fail(op, err, "project_id", project)
			}
			out, err := output.PrintDeploymentList(deployments, total)
			if err != nil {
				return utils.Fail("printing deployment list", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID (required)")
	cmd.Flags().StringVar(&status, "status", "", "Only show deployments in this status")
	cmd.Flags().IntVar(&page.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&page.Limit, "limit", 10, "Deployments per page")
	if err := cmd.MarkFlagRequired("project"); err != nil {
		panic(err)
	}
	return cmd
}

func NewCmdDeployShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show <deployment-id>",
		Short: "Show a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseID("deployment", args[0])
			if err != nil {
				return utils.Fail("showing deployment", err)
			}
			d, err := app.GetDeploymentService().Get(cmd.Context(), utils.Caller(), id)
			if err != nil {
				return utils.Fail("showing deployment", err, "deployment_id", id)
			}
			return printDeployment(cmd, d, false)
		},
	}
}
