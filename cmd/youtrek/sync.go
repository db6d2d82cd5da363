package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/ptmt/youtrek-sub001/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle now",
	Long: `Run one full sync cycle and wait for it to finish.

A cycle fetches remote changes since the last sync (or everything, on
the first run or with --force), refreshes boards and saved queries, and
replays any edits queued while offline. Edits that collide with a
remote change are held for review; see 'youtrek conflicts'.

Example usage:
  youtrek sync                        # incremental sync
  youtrek sync --force                # re-fetch everything
  youtrek sync --since "last monday"  # backfill after a long offline stretch`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		sinceText, _ := cmd.Flags().GetString("since")

		if force && sinceText != "" {
			fmt.Fprintf(os.Stderr, "Error: --force re-fetches everything; combining it with --since makes no sense\n")
			os.Exit(1)
		}

		a := openApp(loadConfig(), "[youtrek] ")
		defer a.Close()

		if !a.LoggedIn() {
			fmt.Fprintf(os.Stderr, "Error: not logged in. Run 'youtrek login' first\n")
			os.Exit(1)
		}

		ctx := context.Background()
		start := time.Now()

		var err error
		if sinceText != "" {
			var since time.Time
			since, err = parseSince(sinceText)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Syncing changes since %s...\n", since.Format("2006-01-02 15:04"))
			err = a.SyncSince(ctx, since)
		} else {
			if force {
				fmt.Println("Re-fetching everything...")
			} else {
				fmt.Println("Syncing...")
			}
			err = a.SyncNow(ctx, force)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			os.Exit(1)
		}

		s, err := a.Status(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading status: %v\n", err)
			os.Exit(1)
		}

		elapsed := time.Since(start).Round(time.Millisecond)
		fmt.Printf("%s Sync complete in %v\n", ui.Good.Render("✓"), elapsed)
		fmt.Printf("   Issues:  %d cached, %d unread\n", s.Stats.Issues, s.Stats.UnreadIssues)
		if s.Stats.PendingMutations > 0 {
			fmt.Printf("   Outbox:  %d pending\n", s.Stats.PendingMutations)
		}
		if s.Conflicts > 0 {
			fmt.Printf("   %s\n", ui.Bad.Render(fmt.Sprintf("%d conflicts need review: youtrek conflicts", s.Conflicts)))
		}
	},
}

// parseSince turns a natural-language phrase like "last monday" or
// "yesterday" into a concrete time.
func parseSince(text string) (time.Time, error) {
	return parseSinceAt(text, time.Now())
}

func parseSinceAt(text string, base time.Time) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --since: %w", err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q; try something like \"last monday\" or \"yesterday\"", text)
	}
	return r.Time, nil
}

func init() {
	syncCmd.Flags().BoolP("force", "f", false, "Discard the watermarks and re-fetch everything")
	syncCmd.Flags().String("since", "", "Re-fetch changes after this time (natural language)")

	rootCmd.AddCommand(syncCmd)
}
