// Package keys provides commands for managing the credential encryption key.
package keys

import (
	"os"

	"github.com/oar-cd/moor/app"
	"github.com/oar-cd/moor/cmd/output"
	"github.com/oar-cd/moor/cmd/utils"
	"github.com/spf13/cobra"
)

func NewCmdKeys() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the credential encryption key",
	}
	cmd.AddCommand(NewCmdKeysRotate())
	return cmd
}

func NewCmdKeysRotate() *cobra.Command {
	var oldKey, newKey string

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Re-encrypt stored server credentials under a new key",
		Long: `Decrypt every stored private key and password with the old key and encrypt it with the new
one. Servers that fail are reported and left unchanged. Update MOOR_ENCRYPTION_KEY afterwards.

The keys default to MOOR_OLD_ENCRYPTION_KEY and MOOR_NEW_ENCRYPTION_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if oldKey == "" {
				oldKey = os.Getenv("MOOR_OLD_ENCRYPTION_KEY")
			}
			if newKey == "" {
				newKey = os.Getenv("MOOR_NEW_ENCRYPTION_KEY")
			}

			result, err := app.GetKeyRotator().RotateServerCredentials(cmd.Context(), oldKey, newKey)
			if err != nil {
				return utils.Fail("rotating keys", err)
			}

			if err := output.FprintSuccess(cmd, "Rotated credentials of %d servers", result.Rotated); err != nil {
				return err
			}
			if result.Skipped > 0 {
				_ = output.FprintPlain(cmd, "Skipped %d servers without credentials", result.Skipped)
			}
			if result.Failed > 0 {
				return output.FprintWarning(cmd, "%d servers could not be rotated and still use the old key", result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&oldKey, "old-key", "", "Current encryption key")
	cmd.Flags().StringVar(&newKey, "new-key", "", "New encryption key")
	return cmd
}
