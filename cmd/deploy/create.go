package deploy

import (
	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/output"
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/oar-cd/moor/deploy"
	"github.com/spf13/cobra"
)

func NewCmdDeployCreate() *cobra.Command {
	var (
		projectID string
		serverID  string
		clusterID string
		envVars   map[string]string
		wait      bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Deploy a generated project to a server or cluster",
		Long: `Deploy the generated code of a project. Exactly one of --server or --cluster is required.
The deployment is queued; use --wait to block until it succeeds or fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "creating deployment"
			project, err := utils.ParseID("project", projectID)
			if err != nil {
				return utils.Fail(op, err)
			}
			in := deploy.DeployInput{ProjectID: project, EnvVars: envVars}
			if in.ServerID, err = optionalID("server", serverID); err != nil {
				return utils.Fail(op, err)
			}
			if in.ClusterID, err = optionalID("cluster", clusterID); err != nil {
				return utils.Fail(op, err)
			}

			d, err := app.GetDeploymentService().Deploy(cmd.Context(), utils.Caller(), in)
			if err != nil {
				return utils.Fail(op, err, "project_id", project)
			}
			if err := output.FprintSuccess(cmd, "Deployment %s queued", d.ID); err != nil {
				return err
			}
			return finish(cmd, d, wait)
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID (required)")
	cmd.Flags().StringVarP(&serverID, "server", "s", "", "Target server ID")
	cmd.Flags().StringVar(&clusterID, "cluster", "", "Target cluster ID")
	cmd.Flags().StringToStringVarP(&envVars, "env", "e", nil, "Environment variables as KEY=VALUE")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the deployment settles")
	cmd.MarkFlagsMutuallyExclusive("server", "cluster")
	if err := cmd.MarkFlagRequired("project"); err != nil {
		panic(err)
	}
	return waitsOnJobs(cmd)
}
