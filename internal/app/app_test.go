package app

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ptmt/youtrek-sub001/internal/config"
	"github.com/ptmt/youtrek-sub001/internal/events"
	"github.com/ptmt/youtrek-sub001/internal/remote"
	"github.com/ptmt/youtrek-sub001/internal/storage"
	"github.com/ptmt/youtrek-sub001/internal/types"
)

// staticRemote serves a fixed issue set. ApplyPatch always succeeds and
// bumps the issue's version by one minute.
type staticRemote struct {
	issues []*types.Issue
	boards []*types.Board
	saved  []*types.SavedQuery
}

var _ remote.Service = (*staticRemote)(nil)

func (r *staticRemote) FetchAllIssues(ctx context.Context, project string) ([]*types.Issue, error) {
	var out []*types.Issue
	for _, is := range r.issues {
		if project == "" || is.Project == project {
			out = append(out, is.Clone())
		}
	}
	return out, nil
}

func (r *staticRemote) FetchIssues(ctx context.Context, project string, updatedSince time.Time) ([]*types.Issue, error) {
	all, _ := r.FetchAllIssues(ctx, project)
	var out []*types.Issue
	for _, is := range all {
		if !is.UpdatedAt.Before(updatedSince) {
			out = append(out, is)
		}
	}
	return out, nil
}

func (r *staticRemote) SearchIssues(ctx context.Context, query types.IssueQuery) ([]*types.Issue, error) {
	return r.FetchAllIssues(ctx, "")
}

func (r *staticRemote) FetchBoards(ctx context.Context) ([]*types.Board, error) {
	return r.boards, nil
}

func (r *staticRemote) FetchSavedQueries(ctx context.Context) ([]*types.SavedQuery, error) {
	return r.saved, nil
}

func (r *staticRemote) ApplyPatch(ctx context.Context, issueID string, patch types.IssuePatch, knownVersion time.Time) (*types.Issue, error) {
	for i, is := range r.issues {
		if is.ID == issueID {
			updated := is.Clone()
			patch.Apply(updated)
			updated.UpdatedAt = is.UpdatedAt.Add(time.Minute)
			r.issues[i] = updated
			return updated.Clone(), nil
		}
	}
	return nil, &remote.StatusError{Code: 404, Message: "issue not found"}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DatabasePath: filepath.Join(t.TempDir(), "youtrek.db"),
		SyncInterval: time.Hour,
		BackoffBase:  time.Nanosecond,
		BackoffCap:   time.Nanosecond,
	}
}

func newTestApp(t *testing.T, svc remote.Service) *App {
	t.Helper()
	a, err := New(testConfig(t), svc, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func testIssue(id, readable, title, project string, updatedAt time.Time) *types.Issue {
	return &types.Issue{
		ID:         id,
		ReadableID: readable,
		Title:      title,
		Project:    project,
		Status:     "Open",
		Priority:   "Normal",
		UpdatedAt:  updatedAt,
	}
}

func seedIssues(t *testing.T, a *App, issues ...*types.Issue) {
	t.Helper()
	if err := a.Store().UpsertIssues(context.Background(), issues); err != nil {
		t.Fatalf("failed to seed issues: %v", err)
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil, nil, log.New(io.Discard, "", 0)); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestNew_DegradedFallback(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to create blocker file: %v", err)
	}

	cfg := testConfig(t)
	cfg.DatabasePath = filepath.Join(blocker, "sub", "youtrek.db")

	a, err := New(cfg, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New should degrade, not fail: %v", err)
	}
	defer a.Close()

	if !a.Degraded() {
		t.Error("app should report degraded")
	}

	ctx := context.Background()
	issues, err := a.Results(ctx, types.AllIssues())
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("degraded Results returned %d issues, want 0", len(issues))
	}

	status, err := a.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Degraded {
		t.Error("Status.Degraded = false, want true")
	}
}

func TestResults_IndexedThenLocalFallback(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	t0 := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	seedIssues(t, a,
		testIssue("2-1", "DEMO-1", "Fix printing", "DEMO", t0),
		testIssue("2-2", "DEMO-2", "Update docs", "DEMO", t0.Add(time.Hour)),
		testIssue("3-1", "OPS-1", "Rotate certs", "OPS", t0.Add(2*time.Hour)))

	q := types.ProjectIssues("DEMO")

	// No fetch recorded yet: the local filter serves the query.
	issues, err := a.Results(ctx, q)
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("fallback Results returned %d issues, want 2", len(issues))
	}
	if issues[0].ID != "2-2" || issues[1].ID != "2-1" {
		t.Errorf("fallback order = %s, %s, want 2-2, 2-1", issues[0].ID, issues[1].ID)
	}

	// A recorded fetch becomes authoritative, including its order.
	fp := q.Normalize().Fingerprint()
	if err := a.Store().RecordQueryFetch(ctx, fp, []string{"2-1"}, t0.Add(3*time.Hour)); err != nil {
		t.Fatalf("RecordQueryFetch failed: %v", err)
	}

	issues, err = a.Results(ctx, q)
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if len(issues) != 1 || issues[0].ID != "2-1" {
		t.Errorf("indexed Results = %v, want just 2-1", issueIDs(issues))
	}
}

func TestObserveIssues_SnapshotAndLive(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	t0 := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	seedIssues(t, a, testIssue("2-1", "DEMO-1", "Fix printing", "DEMO", t0))

	q := types.AllIssues()
	snapshot, updates, cancel, err := a.ObserveIssues(ctx, q)
	if err != nil {
		t.Fatalf("ObserveIssues failed: %v", err)
	}
	defer cancel()

	if len(snapshot) != 1 || snapshot[0].ID != "2-1" {
		t.Errorf("snapshot = %v, want just 2-1", issueIDs(snapshot))
	}

	// The query is registered so sync cycles will refresh it.
	active := a.Hub().ActiveQueries()
	if len(active) != 1 {
		t.Fatalf("ActiveQueries = %d entries, want 1", len(active))
	}

	// A later fetch for the same fingerprint reaches the subscriber.
	fp := q.Normalize().Fingerprint()
	if err := a.Store().RecordQueryFetch(ctx, fp, []string{"2-1"}, t0.Add(time.Hour)); err != nil {
		t.Fatalf("RecordQueryFetch failed: %v", err)
	}
	a.Hub().PublishQueryUpdate(events.QueryUpdate{
		Fingerprint: fp,
		IssueIDs:    []string{"2-1"},
		At:          t0.Add(time.Hour),
	})

	select {
	case u := <-updates:
		if u.Fingerprint != fp {
			t.Errorf("update fingerprint = %s, want %s", u.Fingerprint, fp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for query update")
	}
}

func TestSubmitEdit_QueuesOffline(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	t0 := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	seedIssues(t, a, testIssue("2-1", "DEMO-1", "Fix printing", "DEMO", t0))

	q := types.AllIssues()
	fp := q.Normalize().Fingerprint()
	if err := a.Store().RecordQueryFetch(ctx, fp, []string{"2-1"}, t0); err != nil {
		t.Fatalf("RecordQueryFetch failed: %v", err)
	}

	_, updates, cancel, err := a.ObserveIssues(ctx, q)
	if err != nil {
		t.Fatalf("ObserveIssues failed: %v", err)
	}
	defer cancel()

	m, err := a.SubmitEdit(ctx, "2-1", types.SetTitle("Fix printing on A4"))
	if err != nil {
		t.Fatalf("SubmitEdit failed: %v", err)
	}
	if m.ID == "" {
		t.Error("mutation has no id")
	}
	if m.LocalChanges != "Title: Fix printing on A4" {
		t.Errorf("LocalChanges = %q", m.LocalChanges)
	}

	issue, err := a.Store().Issue(ctx, "2-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !issue.IsDirty {
		t.Error("issue should be dirty after SubmitEdit")
	}
	if issue.Title != "Fix printing on A4" {
		t.Errorf("optimistic title = %q", issue.Title)
	}

	pending, err := a.Store().PendingMutations(ctx)
	if err != nil {
		t.Fatalf("PendingMutations failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != m.ID {
		t.Errorf("outbox = %d entries, want the submitted mutation", len(pending))
	}

	// The edit's queries are re-published so views refresh.
	select {
	case u := <-updates:
		if u.Fingerprint != fp {
			t.Errorf("update fingerprint = %s, want %s", u.Fingerprint, fp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for query update after SubmitEdit")
	}
}

func TestSubmitEdit_Rejections(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	if _, err := a.SubmitEdit(ctx, "2-1", types.IssuePatch{}); err == nil {
		t.Error("expected error for empty patch")
	}

	_, err := a.SubmitEdit(ctx, "missing", types.SetTitle("x"))
	if !errors.Is(err, storage.ErrIssueNotFound) {
		t.Errorf("error = %v, want ErrIssueNotFound", err)
	}
}

func TestNotLoggedIn_SyncPublishesAdvisory(t *testing.T) {
	a := newTestApp(t, nil)

	advisories, cancel := a.Hub().ObserveAdvisories()
	defer cancel()

	if a.TriggerSync(false) {
		t.Error("TriggerSync should return false when not logged in")
	}

	select {
	case adv := <-advisories:
		if !strings.Contains(adv.Message, "youtrek login") {
			t.Errorf("advisory %q should point at youtrek login", adv.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for advisory")
	}

	if err := a.SyncNow(context.Background(), false); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("SyncNow error = %v, want ErrNotLoggedIn", err)
	}

	if err := a.DiscardConflict(context.Background(), "m1"); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("DiscardConflict error = %v, want ErrNotLoggedIn", err)
	}
}

func TestSyncNow_EndToEnd(t *testing.T) {
	t0 := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	svc := &staticRemote{
		issues: []*types.Issue{
			testIssue("2-1", "DEMO-1", "Fix printing", "DEMO", t0),
			testIssue("3-1", "OPS-1", "Rotate certs", "OPS", t0.Add(time.Hour)),
		},
		boards: []*types.Board{{ID: "b1", Name: "Demo Board"}},
		saved:  []*types.SavedQuery{{ID: "q1", Name: "My urgent", Query: "for: me priority: Urgent"}},
	}

	a := newTestApp(t, svc)
	ctx := context.Background()

	if !a.LoggedIn() {
		t.Fatal("app should report logged in")
	}
	if err := a.SyncNow(ctx, false); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	issues, err := a.Results(ctx, types.AllIssues())
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if len(issues) != 2 {
		t.Errorf("Results = %d issues, want 2", len(issues))
	}

	boards, err := a.Boards(ctx)
	if err != nil || len(boards) != 1 {
		t.Errorf("Boards = %v (err %v), want 1 board", boards, err)
	}
	saved, err := a.SavedQueries(ctx)
	if err != nil || len(saved) != 1 {
		t.Errorf("SavedQueries = %v (err %v), want 1 query", saved, err)
	}

	status, err := a.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Phase != types.PhaseIdle {
		t.Errorf("phase = %s, want idle", status.Phase)
	}
	if !status.LoggedIn || status.Degraded {
		t.Errorf("status flags = loggedIn %v degraded %v", status.LoggedIn, status.Degraded)
	}
	if status.Stats.Issues != 2 {
		t.Errorf("Stats.Issues = %d, want 2", status.Stats.Issues)
	}
}

func TestSubmitEdit_ReplaysOnNextSync(t *testing.T) {
	t0 := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	svc := &staticRemote{
		issues: []*types.Issue{testIssue("2-1", "DEMO-1", "Fix printing", "DEMO", t0)},
	}

	a := newTestApp(t, svc)
	ctx := context.Background()

	if err := a.SyncNow(ctx, false); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	if _, err := a.SubmitEdit(ctx, "2-1", types.SetTitle("Fix printing on A4")); err != nil {
		t.Fatalf("SubmitEdit failed: %v", err)
	}

	if err := a.SyncNow(ctx, false); err != nil {
		t.Fatalf("replay cycle failed: %v", err)
	}

	pending, err := a.Store().PendingMutations(ctx)
	if err != nil {
		t.Fatalf("PendingMutations failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("outbox has %d entries after replay, want 0", len(pending))
	}

	if svc.issues[0].Title != "Fix printing on A4" {
		t.Errorf("remote title = %q, want the replayed edit", svc.issues[0].Title)
	}

	issue, err := a.Store().Issue(ctx, "2-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if issue.IsDirty {
		t.Error("issue should be clean after successful replay")
	}
}

func TestMarkIssueSeen(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	t0 := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	seedIssues(t, a, testIssue("2-1", "DEMO-1", "Fix printing", "DEMO", t0))

	issue, err := a.Store().Issue(ctx, "2-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !issue.Unread() {
		t.Fatal("freshly cached issue should be unread")
	}

	if err := a.MarkIssueSeen(ctx, "2-1"); err != nil {
		t.Fatalf("MarkIssueSeen failed: %v", err)
	}

	issue, err = a.Store().Issue(ctx, "2-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if issue.Unread() {
		t.Error("issue should be read after MarkIssueSeen")
	}

	if err := a.MarkIssueSeen(ctx, "missing"); !errors.Is(err, storage.ErrIssueNotFound) {
		t.Errorf("error = %v, want ErrIssueNotFound", err)
	}
}

func TestAcknowledgeConflict_Unknown(t *testing.T) {
	a := newTestApp(t, nil)
	if a.AcknowledgeConflict("nope") {
		t.Error("acknowledging an unknown conflict should return false")
	}
	if len(a.Conflicts()) != 0 {
		t.Error("fresh app should have no conflicts")
	}
}

func issueIDs(issues []*types.Issue) []string {
	ids := make([]string, 0, len(issues))
	for _, is := range issues {
		ids = append(ids, is.ID)
	}
	return ids
}
