package cmd

import (
	"context"
	"fmt"

	"github.com/deftorch/deftheim/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Downloads the Thunderstore package listing into the local cache",
	Run: func(cmd *cobra.Command, args []string) {
		a := bootstrap(configDir, nil)
		defer a.close()

		logger.Log.Infow("Fetching registry listing", zap.String("url", a.cfg.RegistryURL))
		summaries, err := a.manager.SyncRegistry(context.Background())
		if err != nil {
			logger.Log.Fatalw("Failed to sync registry", zap.Error(err))
		}

		deprecated := 0
		for _, s := range summaries {
			if s.Deprecated {
				deprecated++
			}
		}
		fmt.Printf("Cached %d packages (%d deprecated) from %s\n", len(summaries), deprecated, a.cfg.RegistryURL)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
