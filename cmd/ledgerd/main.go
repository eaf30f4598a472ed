package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "ledgerd",
		Short:         "Ledger and transfer engine service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (default ./config.yaml when present)")

	root.AddCommand(serveCmd(&configFile))
	root.AddCommand(migrateCmd(&configFile))
	root.AddCommand(reapCmd(&configFile))
	root.AddCommand(cleanupIdempotencyCmd(&configFile))
	root.AddCommand(auditVerifyCmd(&configFile))
	return root
}
