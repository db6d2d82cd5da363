package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL:    server.URL,
		Token:      "test-token",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

const issueWire = `{
	"id": "2-42",
	"idReadable": "DEMO-42",
	"summary": "Login form loses focus",
	"updated": 1741942800000,
	"project": {"shortName": "DEMO"},
	"reporter": {"login": "john.roe", "fullName": "John Roe"},
	"tags": [{"name": "regression"}, {"name": "ui"}],
	"customFields": [
		{"name": "State", "value": {"name": "In Progress"}},
		{"name": "Priority", "value": {"name": "Critical", "ordinal": 1}},
		{"name": "Assignee", "value": {"login": "jane.doe", "fullName": "Jane Doe"}},
		{"name": "Subsystem", "value": [{"name": "Auth"}, {"name": "UI"}]},
		{"name": "Estimation", "value": null}
	]
}`

func TestClient_FetchIssues_Mapping(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprintf(w, "[%s]", issueWire)
	}))

	issues, err := client.FetchAllIssues(context.Background(), "DEMO")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("authorization = %q, want bearer token", gotAuth)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(issues))
	}

	want := &types.Issue{
		ID:           "2-42",
		ReadableID:   "DEMO-42",
		Title:        "Login form loses focus",
		Project:      "DEMO",
		Status:       "In Progress",
		Priority:     "Critical",
		PriorityRank: 1,
		Assignee:     types.UserRef{Login: "jane.doe", FullName: "Jane Doe"},
		Reporter:     types.UserRef{Login: "john.roe", FullName: "John Roe"},
		Tags:         []string{"regression", "ui"},
		CustomFields: map[string][]string{"Subsystem": {"Auth", "UI"}},
		UpdatedAt:    time.UnixMilli(1741942800000).UTC(),
	}
	if diff := cmp.Diff(want, issues[0]); diff != "" {
		t.Errorf("mapped issue mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_FetchIssues_Paging(t *testing.T) {
	const total = 5
	var requests int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		top, _ := strconv.Atoi(r.URL.Query().Get("$top"))
		skip, _ := strconv.Atoi(r.URL.Query().Get("$skip"))

		var page []wireIssue
		for i := skip; i < total && i < skip+top; i++ {
			page = append(page, wireIssue{
				ID:         fmt.Sprintf("2-%d", i),
				IDReadable: fmt.Sprintf("DEMO-%d", i),
				Summary:    "x",
				Updated:    time.Now().UnixMilli(),
			})
		}
		writeJSON(t, w, page)
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{
		BaseURL:    server.URL,
		Token:      "tok",
		PageSize:   2,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}

	issues, err := client.FetchAllIssues(context.Background(), "")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(issues) != total {
		t.Errorf("issues = %d, want %d", len(issues), total)
	}
	// 2+2+1: the short last page stops the loop.
	if requests != 3 {
		t.Errorf("requests = %d, want 3", requests)
	}
}

func TestClient_FetchIssues_SinceInQuery(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		fmt.Fprint(w, "[]")
	}))

	since := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	if _, err := client.FetchIssues(context.Background(), "DEMO", since); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	want := "project: {DEMO} updated: 2025-03-14T09:00:00 .. * sort by: updated asc"
	if gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
}

func TestClient_SearchIssues_QuerySyntax(t *testing.T) {
	var gotQuery, gotTop, gotSkip string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotTop = r.URL.Query().Get("$top")
		gotSkip = r.URL.Query().Get("$skip")
		fmt.Fprint(w, "[]")
	}))

	q := types.IssueQuery{
		Projects: []string{"OPS", "DEMO"},
		Search:   "login  Crash",
		Sort:     types.SortPriority,
		Skip:     10,
		Limit:    25,
	}
	if _, err := client.SearchIssues(context.Background(), q); err != nil {
		t.Fatalf("search failed: %v", err)
	}

	want := "project: {DEMO}, {OPS} login crash sort by: priority desc"
	if gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
	if gotTop != "25" || gotSkip != "10" {
		t.Errorf("window = top %s skip %s, want 25/10", gotTop, gotSkip)
	}
}

func TestClient_ApplyPatch(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	var gotBody wireUpdate
	var posted bool

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, wireIssue{
				ID: "2-1", IDReadable: "DEMO-1", Summary: "Old title",
				Updated: base.UnixMilli(),
				Project: &wireProject{ShortName: "DEMO"},
			})
		case http.MethodPost:
			posted = true
			if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
				t.Errorf("failed to decode update body: %v", err)
			}
			writeJSON(t, w, wireIssue{
				ID: "2-1", IDReadable: "DEMO-1", Summary: "New title",
				Updated: base.Add(time.Second).UnixMilli(),
				Project: &wireProject{ShortName: "DEMO"},
				CustomFields: []wireCustomField{
					{Name: "State", Value: json.RawMessage(`{"name":"Fixed"}`)},
				},
			})
		}
	}))

	patch := types.IssuePatch{Changes: []types.FieldChange{
		{Field: types.FieldTitle, Kind: types.FieldKindString, Value: "New title"},
		{Field: types.FieldStatus, Kind: types.FieldKindEnum, Value: "Fixed"},
	}}

	updated, err := client.ApplyPatch(context.Background(), "2-1", patch, base)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !posted {
		t.Fatal("update was never sent")
	}
	if updated.Title != "New title" || updated.Status != "Fixed" {
		t.Errorf("updated = %q/%q, want the confirmed copy", updated.Title, updated.Status)
	}
	if !updated.UpdatedAt.After(base) {
		t.Errorf("updated version %v not advanced past %v", updated.UpdatedAt, base)
	}

	if gotBody.Summary == nil || *gotBody.Summary != "New title" {
		t.Errorf("summary in body = %v, want New title", gotBody.Summary)
	}
	if len(gotBody.CustomFields) != 1 || gotBody.CustomFields[0].Name != "State" {
		t.Errorf("custom fields in body = %+v, want the State field under its wire name", gotBody.CustomFields)
	}
}

func TestClient_ApplyPatch_Conflict(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	var posted bool

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posted = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(t, w, wireIssue{
			ID: "2-1", IDReadable: "DEMO-1", Summary: "Renamed remotely",
			Updated: base.Add(time.Hour).UnixMilli(),
			Project: &wireProject{ShortName: "DEMO"},
		})
	}))

	_, err := client.ApplyPatch(context.Background(), "2-1", types.SetTitle("Local title"), base)
	conflict, ok := AsConflict(err)
	if !ok {
		t.Fatalf("err = %v, want *ConflictError", err)
	}
	if posted {
		t.Error("stale edit must not be written")
	}
	if conflict.Remote == nil || conflict.Remote.Title != "Renamed remotely" {
		t.Errorf("conflict remote = %+v, want the current remote copy", conflict.Remote)
	}
	if IsRetryable(err) {
		t.Error("a conflict must not be classified retryable")
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantAuth  bool
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error": "invalid token"}`, true, false},
		{"forbidden", http.StatusForbidden, ``, true, false},
		{"not found", http.StatusNotFound, `{"error": "Issue not found"}`, false, false},
		{"bad request", http.StatusBadRequest, `{"error_description": "bad query"}`, false, false},
		{"throttled", http.StatusTooManyRequests, ``, false, true},
		{"server error", http.StatusInternalServerError, ``, false, true},
		{"bad gateway", http.StatusBadGateway, ``, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))

			_, err := client.FetchAllIssues(context.Background(), "")
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.Is(err, ErrUnauthorized); got != tt.wantAuth {
				t.Errorf("ErrUnauthorized = %t, want %t", got, tt.wantAuth)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %t, want %t (err: %v)", got, tt.retryable, err)
			}
		})
	}
}

func TestClient_ErrorMessageFromBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "invalid_query", "error_description": "Unknown attribute"}`)
	}))

	_, err := client.FetchAllIssues(context.Background(), "")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusBadRequest || se.Message != "Unknown attribute" {
		t.Errorf("status error = %d %q, want 400 with the description", se.Code, se.Message)
	}
}

func TestClient_TransportFailureIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	client, err := NewClient(Config{BaseURL: server.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	server.Close()

	_, err = client.FetchAllIssues(context.Background(), "")
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if !IsRetryable(err) {
		t.Errorf("transport failure should be retryable, got %v", err)
	}
}

func TestClient_FetchBoards(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{
			"id": "b1",
			"name": "DEMO Board",
			"favorite": true,
			"projects": [{"shortName": "DEMO"}],
			"sprints": [{"id": "s1", "name": "Sprint 1", "start": 1741942800000, "finish": 1742547600000, "archived": false}],
			"currentSprint": {"id": "s1"},
			"columnSettings": {
				"field": {"name": "State"},
				"columns": [
					{"presentation": "Open", "collapsed": false, "fieldValues": [{"name": "Open"}]},
					{"presentation": "", "collapsed": true, "fieldValues": [{"name": "Fixed"}]}
				]
			},
			"swimlaneSettings": {"field": {"name": "Priority"}, "values": [{"name": "Critical"}]},
			"orphansAtTheTop": true,
			"hideOrphansSwimlane": false
		}]`)
	}))

	boards, err := client.FetchBoards(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(boards) != 1 {
		t.Fatalf("boards = %d, want 1", len(boards))
	}

	b := boards[0]
	if b.ID != "b1" || b.Name != "DEMO Board" || !b.IsFavorite {
		t.Errorf("board header = %+v", b)
	}
	if len(b.Sprints) != 1 || b.Sprints[0].Start == nil {
		t.Fatalf("sprints = %+v, want one with a start time", b.Sprints)
	}
	if b.CurrentSprint() == nil || b.CurrentSprint().Name != "Sprint 1" {
		t.Errorf("current sprint = %+v", b.CurrentSprint())
	}
	if b.ColumnFieldName != "State" || len(b.Columns) != 2 {
		t.Fatalf("columns = %+v", b.Columns)
	}
	// A column without presentation falls back to its first field value.
	if b.Columns[1].Name != "Fixed" || !b.Columns[1].Collapsed {
		t.Errorf("column fallback = %+v", b.Columns[1])
	}
	if b.Swimlane == nil || b.Swimlane.FieldName != "Priority" {
		t.Errorf("swimlane = %+v", b.Swimlane)
	}
	if !b.OrphansAtTop || b.HideOrphans {
		t.Errorf("orphan flags = %t/%t", b.OrphansAtTop, b.HideOrphans)
	}
}

func TestClient_FetchSavedQueries(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id": "q1", "name": "Assigned to me", "query": "for: me #Unresolved"},
			{"id": "q2", "name": "Reported by me", "query": "by: me"}
		]`)
	}))

	queries, err := client.FetchSavedQueries(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(queries))
	}
	if queries[0].Name != "Assigned to me" || queries[0].Query != "for: me #Unresolved" {
		t.Errorf("query = %+v", queries[0])
	}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(Config{Token: "tok"}); err == nil {
		t.Error("expected error without base URL")
	}
	if _, err := NewClient(Config{BaseURL: "https://x.example"}); err == nil {
		t.Error("expected error without token")
	}
}

func TestDecodeValues(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []wireValue
	}{
		{"null", `null`, nil},
		{"empty", ``, nil},
		{"object", `{"name": "Major"}`, []wireValue{{Name: "Major"}}},
		{"array", `[{"name": "A"}, {"name": "B"}]`, []wireValue{{Name: "A"}, {Name: "B"}}},
		{"string", `"2025.1"`, []wireValue{{Name: "2025.1"}}},
		{"number", `42`, nil},
		{"garbage", `{broken`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeValues(json.RawMessage(tt.raw))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decodeValues(%s) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}
