package sync

import (
	"testing"
	"time"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Base: 5 * time.Second, Cap: 5 * time.Minute}

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{6, 5 * time.Minute}, // 320s caps at 300s
		{100, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.failures); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.failures, got, tt.want)
		}
	}
}

func TestPolicy_Due(t *testing.T) {
	p := Policy{Base: 5 * time.Second, Cap: 5 * time.Minute}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	fresh := &types.Mutation{ID: "m1"}
	if !p.Due(fresh, now) {
		t.Error("never-attempted mutation not due")
	}

	failing := &types.Mutation{ID: "m2", RetryCount: 2, LastAttemptAt: now.Add(-10 * time.Second)}
	if p.Due(failing, now) {
		t.Error("mutation due 10s after its second failure, want a 20s wait")
	}
	if !p.Due(failing, now.Add(15*time.Second)) {
		t.Error("mutation not due after the 20s wait elapsed")
	}

	if next := p.NextAttempt(failing); !next.Equal(now.Add(10 * time.Second)) {
		t.Errorf("NextAttempt() = %v, want %v", next, now.Add(10*time.Second))
	}
}

func TestNewConflictNotice(t *testing.T) {
	patch := types.SetTitle("Fixed printing")
	m := &types.Mutation{
		ID:           "m1",
		IssueID:      "2-1",
		Kind:         types.MutationUpdate,
		Patch:        patch,
		LocalChanges: patch.Render(),
		CreatedAt:    time.Now().UTC(),
	}
	local := testIssue("2-1", "DEMO-1", "Fixed printing", "DEMO", time.Now().UTC())

	n := newConflictNotice(m, local)
	if n.ID != "m1" || n.IssueID != "2-1" || n.ReadableID != "DEMO-1" {
		t.Errorf("notice = %+v", n)
	}
	if n.LocalChanges != "Title: Fixed printing" {
		t.Errorf("LocalChanges = %q, want the rendered patch verbatim", n.LocalChanges)
	}
	if n.Title != "Fixed printing" {
		t.Errorf("Title = %q", n.Title)
	}

	// Without a prerendered summary the notice renders the patch itself.
	m.LocalChanges = ""
	n = newConflictNotice(m, local)
	if n.LocalChanges != "Title: Fixed printing" {
		t.Errorf("LocalChanges fallback = %q", n.LocalChanges)
	}

	// A vanished local row still yields a usable notice.
	n = newConflictNotice(m, nil)
	if n.ReadableID != "2-1" || n.Title != "" {
		t.Errorf("notice without local copy = %+v", n)
	}
}
