package deploy

import (
	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/output"
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/spf13/cobra"
)

func NewCmdDeployStatus() *cobra.Command {
	return waitsOnJobs(&cobra.Command{
		Use:   "status <deployment-id>",
		Short: "Show live deployment progress as reported by the target",
		Long: `Ask the agent on the target for the progress of an active deployment. Settled deployments
and unreachable targets are answered from the stored record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseID("deployment", args[0])
			if err != nil {
				return utils.Fail("getting deployment status", err)
			}
			view, err := app.GetDeploymentService().Status(cmd.Context(), utils.Caller(), id)
			if err != nil {
				return utils.Fail("getting deployment status", err, "deployment_id", id)
			}
			out, err := output.PrintDeploymentStatus(view)
			if err != nil {
				return utils.Fail("printing deployment status", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	})
}

func NewCmdDeployCancel() *cobra.Command {
	return waitsOnJobs(&cobra.Command{
		Use:   "cancel <deployment-id>",
		Short: "Cancel a pending or running deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseID("deployment", args[0])
			if err != nil {
				return utils.Fail("cancelling deployment", err)
			}
			d, err := app.GetDeploymentService().Cancel(cmd.Context(), utils.Caller(), id)
			if err != nil {
				return utils.Fail("cancelling deployment", err, "deployment_id", id)
			}
			if err := output.FprintSuccess(cmd, "Deployment %s cancelled", d.ID); err != nil {
				return err
			}
			return printDeployment(cmd, d, true)
		},
	})
}

func NewCmdDeployRollback() *cobra.Command {
	var (
		targetID string
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "rollback <deployment-id>",
		Short: "Roll back to an earlier successful deployment",
		Long: `Create a new deployment that restores the configuration of --target, or of the most recent
successful deployment of the same project before the given one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "rolling back deployment"
			id, err := utils.ParseID("deployment", args[0])
			if err != nil {
				return utils.Fail(op, err)
			}
			target, err := optionalID("deployment", targetID)
			if err != nil {
				return utils.Fail(op, err)
			}

			d, err := app.GetDeploymentService().Rollback(cmd.Context(), utils.Caller(), id, target)
			if err != nil {
				return utils.Fail(op, err, "deployment_id", id)
			}
			if err := output.FprintSuccess(cmd, "Rollback deployment %s queued", d.ID); err != nil {
				return err
			}
			return finish(cmd, d, wait)
		},
	}

	cmd.Flags().StringVarP(&targetID, "target", "t", "", "Deployment to restore (defaults to the previous successful one)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the rollback settles")
	return waitsOnJobs(cmd)
}
