// Package ui holds the terminal styling for youtrek command output.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

var (
	Title   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	Key     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	Subtle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	Good    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	Bad     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	Unread  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
)

// AutoProfile matches the color output to the terminal: full color on
// capable TTYs, plain text when piped or when NO_COLOR is set. Called
// once from the command root.
func AutoProfile() {
	if termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.ColorProfile())
}

// IssueLine renders one issue as a single list row: key, title, state,
// and markers for unread and pending local edits.
func IssueLine(issue *types.Issue) string {
	var b strings.Builder

	if issue.Unread() {
		b.WriteString(Unread.Render("●"))
	} else {
		b.WriteString(" ")
	}
	b.WriteString(" ")
	b.WriteString(Key.Render(issue.ReadableID))
	b.WriteString("  ")
	b.WriteString(issue.Title)

	meta := []string{}
	if issue.Status != "" {
		meta = append(meta, issue.Status)
	}
	if issue.Priority != "" {
		meta = append(meta, issue.Priority)
	}
	if !issue.Assignee.IsZero() {
		meta = append(meta, issue.Assignee.String())
	}
	if len(meta) > 0 {
		b.WriteString("  ")
		b.WriteString(Subtle.Render("(" + strings.Join(meta, ", ") + ")"))
	}

	if issue.IsDirty {
		b.WriteString("  ")
		b.WriteString(Warning.Render("[edited offline]"))
	}

	return b.String()
}

// ConflictBlock renders one conflict notice for `youtrek conflicts`.
func ConflictBlock(n *types.ConflictNotice) string {
	var b strings.Builder

	head := n.ReadableID
	if head == "" {
		head = n.IssueID
	}
	b.WriteString(Bad.Render("conflict"))
	b.WriteString("  ")
	b.WriteString(Key.Render(head))
	if n.Title != "" {
		b.WriteString("  ")
		b.WriteString(n.Title)
	}
	b.WriteString("\n")
	b.WriteString(Subtle.Render(fmt.Sprintf("  mutation %s, %s", n.ID, RelativeTime(n.CreatedAt))))
	b.WriteString("\n")
	for _, line := range strings.Split(n.LocalChanges, "\n") {
		b.WriteString("    " + line + "\n")
	}
	return b.String()
}

// Phase renders a sync phase with a state-appropriate color.
func Phase(p types.SyncPhase) string {
	switch p {
	case types.PhaseIdle:
		return Good.Render(string(p))
	case types.PhaseBootstrapping, types.PhaseDeltaSyncing, types.PhaseReplayingOutbox:
		return Warning.Render(string(p))
	default:
		return Subtle.Render(string(p))
	}
}

// RelativeTime renders a past time as a coarse "3h ago" phrase for list
// output. Zero times render as a dash.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
