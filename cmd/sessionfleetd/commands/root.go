// Package commands holds sessionfleetd's cobra command tree.
package commands

import (
	"github.com/spf13/cobra"
)

var configFile string

// Root builds the sessionfleetd root command.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "sessionfleetd",
		Short: "Multi-tenant WhatsApp-style session fleet controller",
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (defaults to environment-only configuration)")
	root.AddCommand(startCmd)
	root.AddCommand(purgeCmd)

	return root
}

// GetConfigFile returns the --config flag value, empty if unset.
func GetConfigFile() string {
	return configFile
}
