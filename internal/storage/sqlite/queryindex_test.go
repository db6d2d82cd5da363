package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ptmt/youtrek-sub001/internal/storage"
	"github.com/ptmt/youtrek-sub001/internal/types"
)

func TestRecordQueryFetch_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	mustUpsert(t, store,
		testIssue("2-1", "DEMO-1", "A", "DEMO", now),
		testIssue("2-2", "DEMO-2", "B", "DEMO", now),
		testIssue("2-3", "DEMO-3", "C", "DEMO", now),
	)

	fp := types.ProjectIssues("DEMO").Fingerprint()
	order := []string{"2-2", "2-3", "2-1"}
	if err := store.RecordQueryFetch(ctx, fp, order, now); err != nil {
		t.Fatalf("failed to record fetch: %v", err)
	}

	got, err := store.QueryMembership(ctx, fp)
	if err != nil {
		t.Fatalf("failed to load membership: %v", err)
	}
	if diff := cmp.Diff(order, got); diff != "" {
		t.Errorf("membership order mismatch (-want +got):\n%s", diff)
	}

	issues, err := store.QueryIssues(ctx, fp)
	if err != nil {
		t.Fatalf("failed to load query issues: %v", err)
	}
	for i, issue := range issues {
		if issue.ID != order[i] {
			t.Errorf("position %d = %s, want %s", i, issue.ID, order[i])
		}
	}
}

func TestRecordQueryFetch_EvictsDroppedMembers(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	mustUpsert(t, store,
		testIssue("2-1", "DEMO-1", "A", "DEMO", t0),
		testIssue("2-2", "DEMO-2", "B", "DEMO", t0),
		testIssue("2-3", "DEMO-3", "C", "DEMO", t0),
	)

	fp := types.ProjectIssues("DEMO").Fingerprint()
	if err := store.RecordQueryFetch(ctx, fp, []string{"2-1", "2-2", "2-3"}, t0); err != nil {
		t.Fatalf("failed to record first fetch: %v", err)
	}

	// The next authoritative fetch no longer contains 2-2.
	if err := store.RecordQueryFetch(ctx, fp, []string{"2-1", "2-3"}, t1); err != nil {
		t.Fatalf("failed to record second fetch: %v", err)
	}

	got, err := store.QueryMembership(ctx, fp)
	if err != nil {
		t.Fatalf("failed to load membership: %v", err)
	}
	if diff := cmp.Diff([]string{"2-1", "2-3"}, got); diff != "" {
		t.Errorf("membership after eviction (-want +got):\n%s", diff)
	}

	// Eviction removes the index row only. The cached issue itself stays.
	if _, err := store.Issue(ctx, "2-2"); err != nil {
		t.Errorf("evicted member lost its issue row: %v", err)
	}
}

func TestRecordQueryFetch_OtherFingerprintsUntouched(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	mustUpsert(t, store,
		testIssue("2-1", "DEMO-1", "A", "DEMO", t0),
		testIssue("3-1", "OPS-1", "B", "OPS", t0),
	)

	demoFP := types.ProjectIssues("DEMO").Fingerprint()
	opsFP := types.ProjectIssues("OPS").Fingerprint()
	if err := store.RecordQueryFetch(ctx, demoFP, []string{"2-1"}, t0); err != nil {
		t.Fatalf("failed to record DEMO fetch: %v", err)
	}
	if err := store.RecordQueryFetch(ctx, opsFP, []string{"3-1"}, t0); err != nil {
		t.Fatalf("failed to record OPS fetch: %v", err)
	}

	// Refreshing OPS much later must not evict anything under DEMO, even
	// though DEMO's rows are older than this fetch.
	if err := store.RecordQueryFetch(ctx, opsFP, []string{"3-1"}, t1); err != nil {
		t.Fatalf("failed to refresh OPS fetch: %v", err)
	}

	got, err := store.QueryMembership(ctx, demoFP)
	if err != nil {
		t.Fatalf("failed to load DEMO membership: %v", err)
	}
	if diff := cmp.Diff([]string{"2-1"}, got); diff != "" {
		t.Errorf("DEMO membership changed (-want +got):\n%s", diff)
	}
}

func TestRecordQueryFetch_EmptyResultClearsMembership(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	mustUpsert(t, store, testIssue("2-1", "DEMO-1", "A", "DEMO", t0))

	fp := types.ProjectIssues("DEMO").Fingerprint()
	if err := store.RecordQueryFetch(ctx, fp, []string{"2-1"}, t0); err != nil {
		t.Fatalf("failed to record fetch: %v", err)
	}
	if err := store.RecordQueryFetch(ctx, fp, nil, t0.Add(time.Minute)); err != nil {
		t.Fatalf("failed to record empty fetch: %v", err)
	}

	got, err := store.QueryMembership(ctx, fp)
	if err != nil {
		t.Fatalf("failed to load membership: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("membership = %v, want empty after empty authoritative fetch", got)
	}
}

func TestRecordQueryFetch_RequiresFingerprint(t *testing.T) {
	store := setupTestStore(t)

	err := store.RecordQueryFetch(context.Background(), "", []string{"2-1"}, time.Now())
	if err == nil {
		t.Fatal("expected error for empty fingerprint")
	}
}

func TestRecordQueryFetch_ReorderSameMembers(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	mustUpsert(t, store,
		testIssue("2-1", "DEMO-1", "A", "DEMO", t0),
		testIssue("2-2", "DEMO-2", "B", "DEMO", t0),
	)

	fp := types.ProjectIssues("DEMO").Fingerprint()
	if err := store.RecordQueryFetch(ctx, fp, []string{"2-1", "2-2"}, t0); err != nil {
		t.Fatalf("failed to record fetch: %v", err)
	}
	if err := store.RecordQueryFetch(ctx, fp, []string{"2-2", "2-1"}, t0.Add(time.Second)); err != nil {
		t.Fatalf("failed to record reordered fetch: %v", err)
	}

	got, err := store.QueryMembership(ctx, fp)
	if err != nil {
		t.Fatalf("failed to load membership: %v", err)
	}
	if diff := cmp.Diff([]string{"2-2", "2-1"}, got); diff != "" {
		t.Errorf("membership order not updated (-want +got):\n%s", diff)
	}
}

func TestFingerprintsFor(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	mustUpsert(t, store, testIssue("2-1", "DEMO-1", "A", "DEMO", t0))

	all := types.AllIssues().Fingerprint()
	demo := types.ProjectIssues("DEMO").Fingerprint()
	if err := store.RecordQueryFetch(ctx, all, []string{"2-1"}, t0); err != nil {
		t.Fatalf("failed to record fetch: %v", err)
	}
	if err := store.RecordQueryFetch(ctx, demo, []string{"2-1"}, t0); err != nil {
		t.Fatalf("failed to record fetch: %v", err)
	}

	got, err := store.FingerprintsFor(ctx, "2-1")
	if err != nil {
		t.Fatalf("failed to load fingerprints: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("fingerprints = %v, want both queries", got)
	}
}

// The bootstrap scenario end to end: a full fetch lands three issues under
// the canonical all-issues query, a later fetch omits one, and the omitted
// issue survives as a cached row reachable by id while leaving the query
// result.
func TestQueryIndex_FullFetchThenEviction(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	issues := []*types.Issue{
		testIssue("2-1", "DEMO-1", "A", "DEMO", t0),
		testIssue("2-2", "DEMO-2", "B", "DEMO", t0),
		testIssue("2-3", "DEMO-3", "C", "DEMO", t0),
	}
	mustUpsert(t, store, issues...)

	fp := types.AllIssues().Fingerprint()
	if err := store.RecordQueryFetch(ctx, fp, []string{"2-1", "2-2", "2-3"}, t0); err != nil {
		t.Fatalf("failed to record bootstrap fetch: %v", err)
	}

	got, err := store.QueryIssues(ctx, fp)
	if err != nil {
		t.Fatalf("failed to load query issues: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("bootstrap result = %d issues, want 3", len(got))
	}

	// 2-3 was resolved elsewhere and no longer matches.
	if err := store.RecordQueryFetch(ctx, fp, []string{"2-1", "2-2"}, t1); err != nil {
		t.Fatalf("failed to record refresh: %v", err)
	}

	got, err = store.QueryIssues(ctx, fp)
	if err != nil {
		t.Fatalf("failed to reload query issues: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("refreshed result = %d issues, want 2", len(got))
	}

	issue, err := store.Issue(ctx, "2-3")
	if err != nil {
		t.Fatalf("evicted issue must stay cached: %v", err)
	}
	if issue.Title != "C" {
		t.Errorf("cached copy title = %q, want %q", issue.Title, "C")
	}

	if _, err := store.Issue(ctx, "2-404"); !errors.Is(err, storage.ErrIssueNotFound) {
		t.Errorf("unknown id err = %v, want ErrIssueNotFound", err)
	}
}
