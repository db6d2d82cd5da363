package sync

import (
	"fmt"
	"time"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

// newConflictNotice describes a replay rejected because the issue moved
// remotely. LocalChanges carries the user's edit verbatim so the prompt
// can show exactly what is at stake.
func newConflictNotice(m *types.Mutation, local *types.Issue) *types.ConflictNotice {
	display := m.IssueID
	title := ""
	if local != nil {
		if local.ReadableID != "" {
			display = local.ReadableID
		}
		title = local.Title
	}
	changes := m.LocalChanges
	if changes == "" {
		changes = m.Patch.Render()
	}
	return &types.ConflictNotice{
		ID:           m.ID,
		IssueID:      m.IssueID,
		ReadableID:   display,
		Title:        title,
		Message:      fmt.Sprintf("%s changed on the server after your offline edit. Retry to reapply your version, or discard to accept the remote copy.", display),
		LocalChanges: changes,
		CreatedAt:    time.Now().UTC(),
	}
}
