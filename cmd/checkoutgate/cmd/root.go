package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "checkoutgate",
		Short: "checkoutgate password-protects the checkout of a staging shop",
		Long: `A reverse proxy that puts a shared-password gate in front of the checkout
route of a development or staging web shop, so test environments cannot take
real orders. Configuration is read from a YAML file and CHECKOUTGATE_*
environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CHECKOUTGATE_CONFIG"), "Path to the YAML configuration file")

	root.AddCommand(
		newServerCmd(&configPath),
		newSettingsCmd(&configPath),
		newPurgeCmd(&configPath),
		newHashPasswordCmd(),
		newVersionCmd(),
	)
	return root
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
