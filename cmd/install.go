package cmd

import (
	"context"
	"fmt"

	"github.com/deftorch/deftheim/installer"
	"github.com/deftorch/deftheim/logger"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type installOptions struct {
	sequential bool
	locator    string
	activate   bool
}

var installFlags installOptions

// installCmd represents the install command
var installCmd = &cobra.Command{
	Use:   "install <Owner-Name-Version>",
	Short: "Installs a package and its dependencies",
	Long: `Resolves the dependency closure of a package from the local cache and installs
every package that is not installed yet. Dependencies are downloaded in
parallel unless --sequential is given. Run 'sync' first to fill the cache.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		useTUI, _ := cmd.Flags().GetBool("tui")
		if useTUI {
			p := tea.NewProgram(initialInstallModel(args[0], installFlags))
			if _, err := p.Run(); err != nil {
				logger.Log.Fatalw("Error running install UI", zap.Error(err))
			}
			return
		}

		result, err := runInstall(args[0], installFlags, nil)
		if err != nil {
			logger.Log.Fatalw("Install failed", zap.String("id", args[0]), zap.Error(err))
		}
		fmt.Print(summarizeBatch(result))
	},
}

func init() {
	rootCmd.AddCommand(installCmd)

	installCmd.Flags().BoolVar(&installFlags.sequential, "sequential", false, "install dependencies one at a time")
	installCmd.Flags().StringVar(&installFlags.locator, "locator", "", "download URL of the root package (implies --sequential)")
	installCmd.Flags().BoolVar(&installFlags.activate, "activate", false, "link the installed packages into the plugins directory")
	installCmd.Flags().Bool("tui", false, "show live progress")
}

func runInstall(id string, opts installOptions, reporter installer.Reporter) (*installer.BatchResult, error) {
	a := bootstrap(configDir, reporter)
	defer a.close()

	ctx := context.Background()
	var (
		result *installer.BatchResult
		err    error
	)
	switch {
	case opts.locator != "":
		result, err = a.manager.ResolveAndInstall(ctx, id, opts.locator)
	case opts.sequential:
		locator, lookupErr := a.store.LocatorOf(id)
		if lookupErr != nil {
			return nil, fmt.Errorf("no download locator for %s, run sync first: %w", id, lookupErr)
		}
		result, err = a.manager.ResolveAndInstall(ctx, id, locator)
	default:
		result, err = a.manager.InstallWithParallelDependencies(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	if opts.activate {
		for _, pkg := range append(append([]string{}, result.Installed...), result.Skipped...) {
			if err := a.manager.ActivateProfileEntry(pkg); err != nil {
				logger.Log.Warnw("Failed to activate package", zap.String("id", pkg), zap.Error(err))
			}
		}
	}
	return result, nil
}
