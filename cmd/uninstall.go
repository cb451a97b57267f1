package cmd

import (
	"context"
	"fmt"

	"github.com/deftorch/deftheim/logger"
	"github.com/deftorch/deftheim/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// uninstallCmd represents the uninstall command
var uninstallCmd = &cobra.Command{
	Use:   "uninstall <Owner-Name-Version>",
	Short: "Removes an installed package",
	Long: `Unlinks the package from the plugins directory, drops it from every profile
and deletes it from the local repository. Dependencies are left installed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := bootstrap(configDir, nil)
		defer a.close()

		if err := a.manager.Uninstall(context.Background(), args[0]); err != nil {
			logger.Log.Fatalw("Failed to uninstall package", zap.String("id", args[0]), zap.Error(err))
		}
		fmt.Printf("%s %s\n", ui.Success("Removed"), args[0])
	},
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
}
