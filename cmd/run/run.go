// Package run implements the command that performs a single fetch pass.
package run

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Teqed/FediFetcher-sub000/cmd/common"
	"github.com/Teqed/FediFetcher-sub000/internal/runner"
)

// Command returns the run command for use in the root command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a single fetch pass",
		Long: `Run one complete fetch pass: collect seed posts and users from the
configured sources, walk their conversation threads, and import missing
posts into the home server. Exits non-zero when the run lock is held or
a fatal error occurs; individual mode failures are logged and do not
fail the run.`,
		RunE: runPass,
	}
}

// runPass executes one fetch pass and exits.
func runPass(cmd *cobra.Command, _ []string) error {
	deps, err := common.FromCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, cleanup := runner.Build(ctx, deps.Config, deps.Logger)
	defer cleanup()

	if _, runErr := r.Run(ctx); runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}
