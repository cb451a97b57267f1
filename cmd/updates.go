package cmd

import (
	"context"
	"fmt"

	"github.com/deftorch/deftheim/logger"
	"github.com/deftorch/deftheim/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// updatesCmd represents the updates command
var updatesCmd = &cobra.Command{
	Use:   "updates",
	Short: "Lists installed packages with a newer version in the cache",
	Long: `Compares every installed package against the newest version known to the
local cache. With --install the newer versions are installed next to the old
ones; switch profiles or uninstall the old version afterwards.`,
	Run: func(cmd *cobra.Command, args []string) {
		install, _ := cmd.Flags().GetBool("install")
		runUpdates(install)
	},
}

func init() {
	rootCmd.AddCommand(updatesCmd)

	updatesCmd.Flags().BoolP("install", "i", false, "install every available update")
}

func runUpdates(install bool) {
	a := bootstrap(configDir, nil)
	defer a.close()

	ctx := context.Background()
	updates, err := a.manager.ListAvailableUpdates(ctx)
	if err != nil {
		logger.Log.Fatalw("Failed to check for updates", zap.Error(err))
	}

	if len(updates) == 0 {
		fmt.Println(ui.Success("All installed packages are up to date."))
		return
	}

	for _, u := range updates {
		fmt.Printf("%s  %s -> %s\n", u.ID, u.CurrentVersion, ui.Success(u.LatestVersion))
	}
	if !install {
		return
	}

	for _, u := range updates {
		result, err := a.manager.InstallWithParallelDependencies(ctx, u.LatestID)
		if err != nil {
			logger.Log.Errorw("Update failed", zap.String("id", u.LatestID), zap.Error(err))
			fmt.Printf("%s %s: %v\n", ui.Failure("x"), u.LatestID, err)
			continue
		}
		fmt.Print(summarizeBatch(result))
	}
}
