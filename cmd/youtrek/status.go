package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ptmt/youtrek-sub001/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show cache and sync status",
	Long: `Display a summary of the local cache and the sync pipeline.

Shows:
  - Sync phase and login state
  - Cached issue counts (total, unread, edited offline)
  - Outbox occupancy and held conflicts
  - Cached boards, saved queries and result sets`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(loadConfig(), "[youtrek] ")
		defer a.Close()

		s, err := a.Status(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading status: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s\n\n", ui.Title.Render("YouTrek Status"))

		fmt.Printf("Sync:       %s\n", ui.Phase(s.Phase))
		if s.LoggedIn {
			fmt.Printf("Logged in:  yes\n")
		} else {
			fmt.Printf("Logged in:  %s\n", ui.Warning.Render("no (run 'youtrek login')"))
		}
		if s.Degraded {
			fmt.Printf("Cache:      %s\n", ui.Bad.Render("unavailable, running without persistence"))
			fmt.Println()
			return
		}

		fmt.Printf("Issues:     %d cached, %d unread, %d edited offline\n",
			s.Stats.Issues, s.Stats.UnreadIssues, s.Stats.DirtyIssues)
		fmt.Printf("Outbox:     %d pending\n", s.Stats.PendingMutations)
		if s.Conflicts > 0 {
			fmt.Printf("Conflicts:  %s\n", ui.Bad.Render(fmt.Sprintf("%d held for review", s.Conflicts)))
		}
		fmt.Printf("Metadata:   %d boards, %d saved queries, %d cached result sets\n",
			s.Stats.Boards, s.Stats.SavedQueries, s.Stats.QueryFingerprints)
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
