// Package cmd defines and implements the CLI commands for the lnreqnw
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lnreqnw",
		Short: "Batch downloader and delivery service for web novels",
		Long: `lnreqnw accepts batches of novel URLs, fetches and packages each
novel with a bounded worker pool, and delivers the finished archives,
keeping a persistent ledger of what has already been handled.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./lnreqnw.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSubmitCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
