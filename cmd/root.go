// Package cmd implements the command-line interface for fedifetch.
// It provides the root command and subcommands for running, scheduling,
// and inspecting context fetches.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Teqed/FediFetcher-sub000/cmd/run"
	"github.com/Teqed/FediFetcher-sub000/cmd/schedule"
	"github.com/Teqed/FediFetcher-sub000/cmd/state"
)

// rootCmd represents the root command for the fedifetch CLI.
var rootCmd = &cobra.Command{
	Use:   "fedifetch",
	Short: "Pull missing thread context into your Mastodon server",
	Long: `fedifetch walks the conversations around posts your server already
knows about (timelines, replies, bookmarks, favourites, notifications)
and imports the posts it is missing through federated search, so
threads read complete instead of fragmented.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// init initializes the root command and its subcommands.
func init() {
	// Global flags
	rootCmd.PersistentFlags().String(
		"config",
		"",
		"config file (default is ./config.yaml or ./config/config.yaml)",
	)
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fedifetch version %s\n", "1.0.0")
		},
	})

	// Add subcommands
	rootCmd.AddCommand(run.Command())
	rootCmd.AddCommand(schedule.Command())
	rootCmd.AddCommand(state.Command())
}
