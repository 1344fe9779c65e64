package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/toxcall/config"
	"github.com/opd-ai/toxcall/transport"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a node key pair",
	Long: `Generate a Curve25519 key pair.

The secret key goes in ` + config.EnvSecretKey + `; give the public key to
friends for their peer lists.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := transport.GenerateKeyPair()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s=%x\n", config.EnvSecretKey, kp.Private)
		fmt.Fprintf(out, "public_key=%x\n", kp.Public)
		return nil
	},
}
