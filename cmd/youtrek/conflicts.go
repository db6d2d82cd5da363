package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/ptmt/youtrek-sub001/internal/types"
	"github.com/ptmt/youtrek-sub001/internal/ui"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "issues",
	Short:   "List edits held after a remote collision",
	Long: `List queued edits that could not be replayed because the issue
changed on the server after the edit was made locally.

Held edits stay queued and are never merged automatically. Resolve them
with 'youtrek conflicts resolve': keep your edit and retry it against
the new remote version, or drop it and accept the server's copy.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(loadConfig(), "[youtrek] ")
		defer a.Close()

		notices := a.Conflicts()
		if len(notices) == 0 {
			fmt.Println("No conflicts. All queued edits apply cleanly.")
			return
		}

		fmt.Println()
		for _, n := range notices {
			fmt.Println(ui.ConflictBlock(n))
		}
		fmt.Println(ui.Subtle.Render(fmt.Sprintf("%d conflicts. Run 'youtrek conflicts resolve' to review them.", len(notices))))
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Review held edits one by one",
	Long: `Walk through each held edit and decide what happens to it:

  keep my edit    retry it against the version that caused the conflict
  accept remote   drop the edit and take the server's copy
  decide later    leave it held`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(loadConfig(), "[youtrek] ")
		defer a.Close()

		notices := a.Conflicts()
		if len(notices) == 0 {
			fmt.Println("No conflicts. All queued edits apply cleanly.")
			return
		}

		ctx := context.Background()
		for _, n := range notices {
			choice, err := askResolution(n)
			if err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Println("Stopped; remaining conflicts stay held.")
					return
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			switch choice {
			case "retry":
				if err := a.RetryConflict(ctx, n.ID); err != nil {
					fmt.Fprintf(os.Stderr, "Error re-arming edit: %v\n", err)
					os.Exit(1)
				}
				fmt.Printf("%s Edit kept; it will replay on the next sync\n", ui.Good.Render("✓"))
			case "accept":
				if err := a.DiscardConflict(ctx, n.ID); err != nil {
					fmt.Fprintf(os.Stderr, "Error discarding edit: %v\n", err)
					os.Exit(1)
				}
				fmt.Printf("%s Edit dropped; the server version stays\n", ui.Good.Render("✓"))
			case "later":
				fmt.Println("Left held")
			}
		}
	},
}

// askResolution shows the resolution form for one held edit.
func askResolution(n *types.ConflictNotice) (string, error) {
	head := n.ReadableID
	if head == "" {
		head = n.IssueID
	}

	var choice string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("%s changed on the server after your edit", head)).
				Description(fmt.Sprintf("%s\n\nYour queued change:\n%s", n.Title, n.LocalChanges)).
				Options(
					huh.NewOption("Keep my edit and retry it", "retry"),
					huh.NewOption("Accept the server version", "accept"),
					huh.NewOption("Decide later", "later"),
				).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

func init() {
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
