package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/deftorch/deftheim/logger"
	"github.com/deftorch/deftheim/manager"
	"github.com/deftorch/deftheim/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Registers packages already present in the repository",
	Long: `Scans the repository directory and records every package's manifest and
dependency edges in the local cache. Rows already in the cache are kept.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := bootstrap(configDir, nil)
		defer a.close()

		result, err := a.manager.ImportInstalled(context.Background())
		if err != nil {
			logger.Log.Fatalw("Failed to import installed packages", zap.Error(err))
		}
		fmt.Print(summarizeImport(result))
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func summarizeImport(result *manager.ImportResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Registered %d packages\n", len(result.Registered))
	for _, id := range result.NoManifest {
		fmt.Fprintf(&b, "  %s %s has no manifest.json\n", ui.Warning("?"), id)
	}

	failed := make([]string, 0, len(result.Failed))
	for id := range result.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		fmt.Fprintf(&b, "  %s %s: %v\n", ui.Failure("x"), id, result.Failed[id])
	}
	return b.String()
}
