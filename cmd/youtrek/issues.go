package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ptmt/youtrek-sub001/internal/app"
	"github.com/ptmt/youtrek-sub001/internal/types"
	"github.com/ptmt/youtrek-sub001/internal/ui"
)

var issuesCmd = &cobra.Command{
	Use:     "issues [search terms]",
	GroupID: "issues",
	Short:   "List cached issues",
	Long: `List issues from the local cache. Works offline: the listing is
served from the last synced result set for the query, falling back to a
direct scan of the cache.

Unread issues (changed since you last looked at them) are marked with a
dot; issues with queued local edits are marked [edited offline].

Example usage:
  youtrek issues                          # newest first, all projects
  youtrek issues login crash              # full-text search
  youtrek issues --project DEMO --unread  # unread issues in one project
  youtrek issues --sort priority --limit 10`,
	Run: func(cmd *cobra.Command, args []string) {
		projects, _ := cmd.Flags().GetStringSlice("project")
		sortField, _ := cmd.Flags().GetString("sort")
		asc, _ := cmd.Flags().GetBool("asc")
		limit, _ := cmd.Flags().GetInt("limit")
		skip, _ := cmd.Flags().GetInt("skip")
		unreadOnly, _ := cmd.Flags().GetBool("unread")

		q := types.IssueQuery{
			Projects: projects,
			Search:   strings.Join(args, " "),
			Sort:     sortField,
			Asc:      asc,
			Skip:     skip,
			Limit:    limit,
		}

		a := openApp(loadConfig(), "[youtrek] ")
		defer a.Close()

		ctx := context.Background()
		issues, err := a.Results(ctx, q)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing issues: %v\n", err)
			os.Exit(1)
		}

		shown := 0
		for _, issue := range issues {
			if unreadOnly && !issue.Unread() {
				continue
			}
			fmt.Println(ui.IssueLine(issue))
			shown++
		}

		if shown == 0 {
			fmt.Println("No issues in the cache match. Run 'youtrek sync' to fetch from the server.")
			return
		}
		fmt.Println(ui.Subtle.Render(fmt.Sprintf("%d issues", shown)))
	},
}

var issuesShowCmd = &cobra.Command{
	Use:   "show <issue>",
	Short: "Show one cached issue and mark it read",
	Long: `Show the cached copy of one issue, addressed by its readable ID
(DEMO-42) or internal ID. Viewing an issue marks it read, clearing the
unread dot until the next remote change.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(loadConfig(), "[youtrek] ")
		defer a.Close()

		ctx := context.Background()
		issue, err := findIssue(ctx, a, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printIssue(issue)

		pending, err := a.Store().PendingMutations(ctx)
		if err == nil {
			printed := false
			for _, m := range pending {
				if m.IssueID != issue.ID {
					continue
				}
				if !printed {
					fmt.Printf("\n%s\n", ui.Warning.Render("Queued changes:"))
					printed = true
				}
				for _, line := range strings.Split(m.LocalChanges, "\n") {
					fmt.Printf("  %s\n", line)
				}
			}
		}

		if err := a.MarkIssueSeen(ctx, issue.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error marking issue read: %v\n", err)
			os.Exit(1)
		}
	},
}

func findIssue(ctx context.Context, a *app.App, key string) (*types.Issue, error) {
	issues, err := a.Results(ctx, types.AllIssues())
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		if strings.EqualFold(issue.ReadableID, key) || issue.ID == key {
			return issue, nil
		}
	}
	return nil, fmt.Errorf("issue %s is not in the local cache", key)
}

func printIssue(issue *types.Issue) {
	fmt.Printf("%s  %s", ui.Key.Render(issue.ReadableID), ui.Title.Render(issue.Title))
	if issue.IsDirty {
		fmt.Printf("  %s", ui.Warning.Render("[edited offline]"))
	}
	fmt.Println()

	fmt.Printf("Project:   %s\n", issue.Project)
	if issue.Status != "" {
		fmt.Printf("Status:    %s\n", issue.Status)
	}
	if issue.Priority != "" {
		fmt.Printf("Priority:  %s\n", issue.Priority)
	}
	if !issue.Assignee.IsZero() {
		fmt.Printf("Assignee:  %s\n", issue.Assignee)
	}
	if !issue.Reporter.IsZero() {
		fmt.Printf("Reporter:  %s\n", issue.Reporter)
	}
	if len(issue.Tags) > 0 {
		fmt.Printf("Tags:      %s\n", strings.Join(issue.Tags, ", "))
	}
	fmt.Printf("Updated:   %s (%s)\n", issue.UpdatedAt.Local().Format("2006-01-02 15:04"), ui.RelativeTime(issue.UpdatedAt))

	for field, values := range issue.CustomFields {
		fmt.Printf("%s: %s\n", field, strings.Join(values, ", "))
	}
}

func init() {
	issuesCmd.Flags().StringSliceP("project", "p", nil, "Limit to these project keys (repeatable)")
	issuesCmd.Flags().String("sort", "", "Sort field: updated or priority (default updated)")
	issuesCmd.Flags().Bool("asc", false, "Sort ascending instead of descending")
	issuesCmd.Flags().IntP("limit", "n", 0, "Show at most this many issues (0 = all)")
	issuesCmd.Flags().Int("skip", 0, "Skip this many issues first")
	issuesCmd.Flags().Bool("unread", false, "Only issues changed since you last viewed them")

	issuesCmd.AddCommand(issuesShowCmd)
	rootCmd.AddCommand(issuesCmd)
}
