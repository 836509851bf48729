package host

import (
	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/output"
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/oar-cd/moor/provision"
	"github.com/spf13/cobra"
)

func NewCmdHostEstimate() *cobra.Command {
	var (
		in       provision.RequirementsInput
		overhead float64
	)

	cmd := &cobra.Command{
		Use:   "estimate [server-id]",
		Short: "Estimate the resources a project needs",
		Long: `Estimate CPU, memory and disk for a number of services. With a server ID the estimate
is compared against the facts last collected from that server.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("overhead") {
				in.OverheadPercent = &overhead
			}

			var est *provision.RequirementsEstimate
			if len(args) == 0 {
				e := provision.EstimateRequirements(in, nil)
				est = &e
			} else {
				id, err := utils.ParseID("server", args[0])
				if err != nil {
					return utils.Fail("estimating requirements", err)
				}
				est, err = app.GetProvisioner().EstimateForServer(cmd.Context(), utils.Caller(), id, in)
				if err != nil {
					return utils.Fail("estimating requirements", err, "server_id", id)
				}
			}

			out, err := output.PrintEstimate(est)
			if err != nil {
				return utils.Fail("printing estimate", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}

	cmd.Flags().IntVarP(&in.Services, "services", "s", 1, "Number of services")
	cmd.Flags().IntVarP(&in.Replicas, "replicas", "r", 1, "Replicas per service")
	cmd.Flags().Float64Var(&in.AverageCPUCores, "cpu", 0, "Average CPU cores per replica")
	cmd.Flags().Float64Var(&in.AverageMemoryMB, "memory", 0, "Average memory per replica in MB")
	cmd.Flags().Float64Var(&in.AverageDiskGB, "disk", 0, "Average disk per replica in GB")
	cmd.Flags().Float64Var(&overhead, "overhead", 0.2, "Overhead fraction added on top, 0.2 is 20%")
	return cmd
}
