package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configFile is set by the --config flag.
var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rocket-nested",
	Short: "Metadata-driven records with nested relationship writes",
	Long: `rocket-nested stores records described by a YAML schema and writes
whole trees of related records (owned children and many-to-many links)
in a single transaction.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./app.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(applyCmd)
}
