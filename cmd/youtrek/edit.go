package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ptmt/youtrek-sub001/internal/types"
	"github.com/ptmt/youtrek-sub001/internal/ui"
)

var issuesEditCmd = &cobra.Command{
	Use:   "edit <issue>",
	Short: "Edit an issue, online or not",
	Long: `Change fields on an issue. The edit applies to the local cache
immediately and is queued for the server; the next sync replays it. If
the issue changed remotely in the meantime the edit is held for review
instead of overwriting anything.

Example usage:
  youtrek issues edit DEMO-42 --status "In Progress"
  youtrek issues edit DEMO-42 --assignee jane --priority Critical
  youtrek issues edit DEMO-42 --tags auth --tags regression`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		title, _ := cmd.Flags().GetString("title")
		status, _ := cmd.Flags().GetString("status")
		priority, _ := cmd.Flags().GetString("priority")
		assignee, _ := cmd.Flags().GetString("assignee")
		tags, _ := cmd.Flags().GetStringSlice("tags")

		var patch types.IssuePatch
		if cmd.Flags().Changed("title") {
			patch.Changes = append(patch.Changes, types.FieldChange{Field: types.FieldTitle, Kind: types.FieldKindString, Value: title})
		}
		if cmd.Flags().Changed("status") {
			patch.Changes = append(patch.Changes, types.FieldChange{Field: types.FieldStatus, Kind: types.FieldKindEnum, Value: status})
		}
		if cmd.Flags().Changed("priority") {
			patch.Changes = append(patch.Changes, types.FieldChange{Field: types.FieldPriority, Kind: types.FieldKindEnum, Value: priority})
		}
		if cmd.Flags().Changed("assignee") {
			patch.Changes = append(patch.Changes, types.FieldChange{Field: types.FieldAssignee, Kind: types.FieldKindUser, Value: assignee})
		}
		if cmd.Flags().Changed("tags") {
			patch.Changes = append(patch.Changes, types.FieldChange{Field: types.FieldTags, Kind: types.FieldKindTags, Values: tags})
		}
		if len(patch.Changes) == 0 {
			fmt.Fprintf(os.Stderr, "Error: nothing to change; pass at least one of --title, --status, --priority, --assignee, --tags\n")
			os.Exit(1)
		}

		a := openApp(loadConfig(), "[youtrek] ")
		defer a.Close()

		ctx := context.Background()
		issue, err := findIssue(ctx, a, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		m, err := a.SubmitEdit(ctx, issue.ID, patch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error queueing edit: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Edit queued for %s:\n", ui.Good.Render("✓"), ui.Key.Render(issue.ReadableID))
		fmt.Println(m.LocalChanges)
		if a.LoggedIn() {
			fmt.Println(ui.Subtle.Render("It will reach the server on the next sync."))
		} else {
			fmt.Println(ui.Subtle.Render("You are offline; it will reach the server once you log in and sync."))
		}
	},
}

func init() {
	issuesEditCmd.Flags().String("title", "", "New title")
	issuesEditCmd.Flags().String("status", "", "New status, e.g. \"In Progress\"")
	issuesEditCmd.Flags().String("priority", "", "New priority, e.g. Critical")
	issuesEditCmd.Flags().String("assignee", "", "New assignee login")
	issuesEditCmd.Flags().StringSlice("tags", nil, "Replace the tag set (repeatable)")

	issuesCmd.AddCommand(issuesEditCmd)
}
