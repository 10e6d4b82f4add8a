// Package cli implements overlaynode's command-line control surface
// (SPEC_FULL.md §6): the pluggable, unspecified admin surface spec.md §6
// leaves open, built with cobra the way dh-cli and Otus wire their root
// commands.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verboseFlag bool
	logger      *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "overlaynode",
	Short: "Spawn and control a simulated source-routed overlay network",
	Long: `overlaynode spawns a simulated network of autonomous nodes from a
TOML topology description and exposes a small control surface over it:
adding edges, injecting requests, crashing drones, and shutting down.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verboseFlag {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	},
}

// Execute adds all child commands to the root command and runs it. Called
// once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}
