// Command cinq-sync runs the Cinq offline queue and sync core: a local
// durable store for pending messages and actions, a sync engine draining
// them against the network, and a local HTTP API the UI talks to.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cinq-sync",
	Short: "Cinq offline queue and background sync",
	Long: "cinq-sync persists outgoing Cinq messages and actions while offline\n" +
		"and replays them against the network when connectivity returns.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (default ~/.cinq/config.toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
