package cmd

import (
	"github.com/spf13/cobra"
)

// defaultCmd represents the command that runs when no subcommand is specified
var defaultCmd = &cobra.Command{
	Use:    "default",
	Short:  "Default command when no subcommand is provided",
	Long:   `Lists available updates, like running 'updates' without flags.`,
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		runUpdates(false)
	},
}

func init() {
	rootCmd.AddCommand(defaultCmd)
	rootCmd.Run = defaultCmd.Run
}
