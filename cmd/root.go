package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configDir is where LoadConfig looks for the .env file.
var configDir string

var rootCmd = &cobra.Command{
	Use:   "deftheim",
	Short: "Installs and manages Valheim mods from Thunderstore",
	Long: `deftheim resolves Thunderstore packages with their dependencies, installs them
into a local repository and links the enabled mods of the active profile into
the game's BepInEx plugins directory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory containing the .env file")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
