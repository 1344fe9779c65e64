package commands

import (
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X ...commands.Version=...".
var Version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "toxcall",
	Short: "Peer-to-peer audio call node",
	Long: `toxcall runs an encrypted UDP audio call endpoint.

Friends are listed as number=host:port=hexkey entries. Calls are placed,
answered and hung up through the HTTP control API, and every state change
is streamed over a websocket at /events.`,
	SilenceUsage: true,
}

// Command returns the root command for mounting into a parent CLI.
func Command() *cobra.Command {
	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load (missing file is ignored)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)
}
