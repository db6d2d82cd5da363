package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

// snapshot is the export file layout. It is a stable human-readable
// view of the cache, not a dump of the internal schema.
type snapshot struct {
	ExportedAt   time.Time      `yaml:"exported_at"`
	Issues       []issueView    `yaml:"issues"`
	Boards       []boardView    `yaml:"boards,omitempty"`
	SavedQueries []queryView    `yaml:"saved_queries,omitempty"`
	Pending      []mutationView `yaml:"pending_edits,omitempty"`
}

type issueView struct {
	Key           string    `yaml:"key"`
	Title         string    `yaml:"title"`
	Project       string    `yaml:"project"`
	Status        string    `yaml:"status,omitempty"`
	Priority      string    `yaml:"priority,omitempty"`
	Assignee      string    `yaml:"assignee,omitempty"`
	Tags          []string  `yaml:"tags,omitempty"`
	UpdatedAt     time.Time `yaml:"updated_at"`
	Unread        bool      `yaml:"unread,omitempty"`
	EditedOffline bool      `yaml:"edited_offline,omitempty"`
}

type boardView struct {
	Name     string   `yaml:"name"`
	Projects []string `yaml:"projects,omitempty"`
}

type queryView struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`
}

type mutationView struct {
	Issue      string    `yaml:"issue"`
	Changes    string    `yaml:"changes"`
	CreatedAt  time.Time `yaml:"created_at"`
	Attempts   int       `yaml:"attempts,omitempty"`
	Conflicted bool      `yaml:"conflicted,omitempty"`
	LastError  string    `yaml:"last_error,omitempty"`
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "issues",
	Short:   "Write a YAML snapshot of the cache",
	Long: `Write the cached issues, boards, saved queries and queued edits as
YAML. Works fully offline; the snapshot reflects the cache, not the
server.

Example usage:
  youtrek export                      # to stdout
  youtrek export --out backup.yaml
  youtrek export | grep -A2 'key: DEMO-42'`,
	Run: func(cmd *cobra.Command, args []string) {
		outPath, _ := cmd.Flags().GetString("out")

		a := openApp(loadConfig(), "[youtrek] ")
		defer a.Close()

		ctx := context.Background()
		snap := snapshot{ExportedAt: time.Now().UTC()}

		issues, err := a.Store().ListIssues(ctx, types.AllIssues())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading issues: %v\n", err)
			os.Exit(1)
		}
		for _, issue := range issues {
			snap.Issues = append(snap.Issues, issueView{
				Key:           issue.ReadableID,
				Title:         issue.Title,
				Project:       issue.Project,
				Status:        issue.Status,
				Priority:      issue.Priority,
				Assignee:      issue.Assignee.String(),
				Tags:          issue.Tags,
				UpdatedAt:     issue.UpdatedAt,
				Unread:        issue.Unread(),
				EditedOffline: issue.IsDirty,
			})
		}

		boards, err := a.Boards(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading boards: %v\n", err)
			os.Exit(1)
		}
		for _, b := range boards {
			snap.Boards = append(snap.Boards, boardView{Name: b.Name, Projects: b.Projects})
		}

		queries, err := a.SavedQueries(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading saved queries: %v\n", err)
			os.Exit(1)
		}
		for _, q := range queries {
			snap.SavedQueries = append(snap.SavedQueries, queryView{Name: q.Name, Query: q.Query})
		}

		pending, err := a.Store().PendingMutations(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading outbox: %v\n", err)
			os.Exit(1)
		}
		byID := make(map[string]string, len(issues))
		for _, issue := range issues {
			byID[issue.ID] = issue.ReadableID
		}
		for _, m := range pending {
			key := byID[m.IssueID]
			if key == "" {
				key = m.IssueID
			}
			snap.Pending = append(snap.Pending, mutationView{
				Issue:      key,
				Changes:    m.LocalChanges,
				CreatedAt:  m.CreatedAt,
				Attempts:   m.RetryCount,
				Conflicted: m.Conflicted,
				LastError:  m.LastError,
			})
		}

		out := os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", outPath, err)
				os.Exit(1)
			}
			defer f.Close()
			out = f
		}

		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing snapshot: %v\n", err)
			os.Exit(1)
		}
		if err := enc.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing snapshot: %v\n", err)
			os.Exit(1)
		}

		if outPath != "" {
			fmt.Printf("Exported %d issues to %s\n", len(snap.Issues), outPath)
		}
	},
}

func init() {
	exportCmd.Flags().StringP("out", "o", "", "Write to this file instead of stdout")

	rootCmd.AddCommand(exportCmd)
}
