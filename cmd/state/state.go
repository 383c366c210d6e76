// Package state implements the command that inspects the persisted
// seen-state.
package state

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Teqed/FediFetcher-sub000/cmd/common"
	"github.com/Teqed/FediFetcher-sub000/internal/statestore"
)

// recentShown caps how many entries per collection the table displays.
const recentShown = 3

// Command returns the state command for use in the root command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the persisted seen-state",
		Long: `Show the seen-state a fetch pass persists between runs: the users
already backfilled, the users recently checked, and the reply URLs
already resolved to their origin posts.`,
		RunE: showState,
	}
}

// showState loads the state directory and renders it as a table.
func showState(cmd *cobra.Command, _ []string) error {
	deps, err := common.FromCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	store := statestore.New(deps.Config.StateDir, deps.Logger)
	if loadErr := store.Load(deps.Config.RememberUsersHorizon()); loadErr != nil {
		return fmt.Errorf("failed to load state from %s: %w", store.Dir(), loadErr)
	}

	fmt.Printf("State directory: %s\n", store.Dir())

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Collection", "Entries", "Most Recent"})
	t.AppendRow(table.Row{
		statestore.FileKnownFollowings,
		store.KnownFollowings.Len(),
		newestOf(store.KnownFollowings.Items()),
	})
	t.AppendRow(table.Row{
		statestore.FileRecentlyChecked,
		store.RecentlyChecked.Len(),
		newestOf(store.RecentlyChecked.Items()),
	})
	t.AppendRow(table.Row{
		statestore.FileReplies,
		store.Replies.Len(),
		newestOf(store.Replies.Keys()),
	})
	t.Render()

	return nil
}

// newestOf renders the most recently added entries, newest first.
// Collections keep insertion order, so the newest entries sit at the end.
func newestOf(items []string) string {
	if len(items) == 0 {
		return "-"
	}

	n := min(len(items), recentShown)
	recent := make([]string, 0, n)
	for i := len(items) - 1; i >= len(items)-n; i-- {
		recent = append(recent, items[i])
	}
	return strings.Join(recent, "\n")
}
