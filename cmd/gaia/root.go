package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gaia",
	Short: "Gaia gateway - routing and real-time experiences for the Gaia Platform",
	Long: `Gaia is the edge gateway of the Gaia Platform.

It forwards client traffic to the auth, asset, chat and knowledge-base
services, relays streaming chat responses byte for byte, and hosts the
real-time experience WebSocket that merges NATS world updates with NPC
speech.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults plus GAIA_* environment when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}
