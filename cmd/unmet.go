package cmd

import (
	"context"
	"fmt"

	"github.com/deftorch/deftheim/logger"
	"github.com/deftorch/deftheim/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// unmetCmd represents the unmet command
var unmetCmd = &cobra.Command{
	Use:   "unmet",
	Short: "Lists dependencies of installed packages that are not installed",
	Run: func(cmd *cobra.Command, args []string) {
		a := bootstrap(configDir, nil)
		defer a.close()

		unmet, err := a.manager.UnmetDependencies(context.Background())
		if err != nil {
			logger.Log.Fatalw("Failed to check dependencies", zap.Error(err))
		}
		if len(unmet) == 0 {
			fmt.Println(ui.Success("Every dependency is installed."))
			return
		}
		for _, u := range unmet {
			line := fmt.Sprintf("%s needs %s", u.ID, ui.Warning(u.Dependency))
			if u.Installed != "" {
				line += fmt.Sprintf(" (have %s)", u.Installed)
			}
			fmt.Println(line)
		}
	},
}

func init() {
	rootCmd.AddCommand(unmetCmd)
}
