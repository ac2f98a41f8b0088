package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yegors/voice-commander/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the delivery settings",
	Long: `Shows or changes where commands are sent and whether they are sent at
all. A running server picks up changes made through its API; changes made
here apply to the next start.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetURLCmd = &cobra.Command{
	Use:   "set-url <url>",
	Short: "Set the robot command endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSettings(cmd, func(store *settings.Store) error {
			return store.SetEndpoint(args[0])
		})
	},
}

var settingsEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Send translated commands to the endpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSettings(cmd, func(store *settings.Store) error {
			return store.SetDeliveryEnabled(true)
		})
	},
}

var settingsDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Translate only, do not send commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSettings(cmd, func(store *settings.Store) error {
			return store.SetDeliveryEnabled(false)
		})
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetURLCmd, settingsEnableCmd, settingsDisableCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	return withSettings(cmd, nil)
}

// withSettings opens the store, applies change if given and prints the result
func withSettings(cmd *cobra.Command, change func(*settings.Store) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		printError("failed to load config", err)
		return err
	}

	store, err := settings.Open(cfg.Settings.Path, log)
	if err != nil {
		return err
	}
	if change != nil {
		if err := change(store); err != nil {
			return err
		}
	}

	snap := store.Snapshot()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Settings file:  %s\n", cfg.Settings.Path)
	fmt.Fprintf(out, "Endpoint URL:   %s\n", snap.EndpointURL)
	fmt.Fprintf(out, "Send commands:  %t\n", snap.DeliveryEnabled)
	return nil
}
