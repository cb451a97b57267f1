package cmd

import (
	"fmt"

	"github.com/deftorch/deftheim/db"
	"github.com/deftorch/deftheim/logger"
	"github.com/deftorch/deftheim/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manages mod profiles",
	Long: `A profile is a named set of installed packages. Switching profiles unlinks the
enabled packages of the previous profile and links those of the new one into
the plugins directory.`,
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Creates a profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		description, _ := cmd.Flags().GetString("description")
		color, _ := cmd.Flags().GetString("color")

		a := bootstrap(configDir, nil)
		defer a.close()

		p, err := a.manager.Profiles().Create(args[0], description, color)
		if err != nil {
			logger.Log.Fatalw("Failed to create profile", zap.Error(err))
		}
		fmt.Printf("Created profile %s (%s)\n", ui.Colorize(p.Name, p.Color), p.ID)
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists profiles",
	Run: func(cmd *cobra.Command, args []string) {
		a := bootstrap(configDir, nil)
		defer a.close()

		profiles, err := a.manager.Profiles().List()
		if err != nil {
			logger.Log.Fatalw("Failed to list profiles", zap.Error(err))
		}
		for _, p := range profiles {
			entries, err := a.manager.Profiles().Entries(p.ID)
			if err != nil {
				logger.Log.Fatalw("Failed to list profile entries", zap.String("profile", p.ID), zap.Error(err))
			}
			fmt.Println(formatProfile(p, entries))
		}
	},
}

func formatProfile(p db.Profile, entries []db.ProfilePackage) string {
	marker := " "
	if p.Active {
		marker = "*"
	}
	enabled := 0
	for _, e := range entries {
		if e.Enabled {
			enabled++
		}
	}
	return fmt.Sprintf("%s %s  %s  %d/%d enabled", marker, p.ID, ui.Colorize(p.Name, p.Color), enabled, len(entries))
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <profile-id>",
	Short: "Deletes a profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := bootstrap(configDir, nil)
		defer a.close()

		if err := a.manager.Profiles().Delete(args[0]); err != nil {
			logger.Log.Fatalw("Failed to delete profile", zap.String("profile", args[0]), zap.Error(err))
		}
	},
}

var profileSwitchCmd = &cobra.Command{
	Use:   "switch <profile-id>",
	Short: "Makes a profile active and links its enabled packages",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := bootstrap(configDir, nil)
		defer a.close()

		if err := a.manager.Profiles().Switch(args[0]); err != nil {
			logger.Log.Fatalw("Failed to switch profile", zap.String("profile", args[0]), zap.Error(err))
		}
		fmt.Printf("Switched to %s using %s links\n", args[0], a.manager.Profiles().Projector().Name())
	},
}

var profileAddCmd = &cobra.Command{
	Use:   "add <profile-id> <Owner-Name-Version>",
	Short: "Adds an installed package to a profile",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a := bootstrap(configDir, nil)
		defer a.close()

		if err := a.manager.Profiles().Add(args[0], args[1]); err != nil {
			logger.Log.Fatalw("Failed to add package to profile", zap.String("profile", args[0]), zap.String("id", args[1]), zap.Error(err))
		}
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <profile-id> <Owner-Name-Version>",
	Short: "Removes a package from a profile",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a := bootstrap(configDir, nil)
		defer a.close()

		if err := a.manager.Profiles().Remove(args[0], args[1]); err != nil {
			logger.Log.Fatalw("Failed to remove package from profile", zap.String("profile", args[0]), zap.String("id", args[1]), zap.Error(err))
		}
	},
}

func toggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <profile-id> <Owner-Name-Version>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			a := bootstrap(configDir, nil)
			defer a.close()

			if err := a.manager.Profiles().SetEnabled(args[0], args[1], enabled); err != nil {
				logger.Log.Fatalw("Failed to update profile entry", zap.String("profile", args[0]), zap.String("id", args[1]), zap.Error(err))
			}
		},
	}
}

func init() {
	rootCmd.AddCommand(profileCmd)

	profileCreateCmd.Flags().String("description", "", "profile description")
	profileCreateCmd.Flags().String("color", "", "profile color as #rrggbb")

	profileCmd.AddCommand(
		profileCreateCmd,
		profileListCmd,
		profileDeleteCmd,
		profileSwitchCmd,
		profileAddCmd,
		profileRemoveCmd,
		toggleCmd("enable", "Enables a package in a profile", true),
		toggleCmd("disable", "Disables a package in a profile", false),
	)
}
