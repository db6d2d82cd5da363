package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

// issueFields is the projection requested on every issue read. ordinal on
// enum values carries the priority rank.
const issueFields = "id,idReadable,summary,updated,project(shortName)," +
	"reporter(login,fullName),tags(name)," +
	"customFields(name,value(name,login,fullName,ordinal))"

const defaultPageSize = 100

// Config configures the YouTrack REST client.
type Config struct {
	// BaseURL is the installation root, e.g. https://example.youtrack.cloud.
	BaseURL string

	// Token is a permanent bearer token.
	Token string

	// PageSize bounds one fetch page; 0 uses the default.
	PageSize int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is the thin YouTrack REST adapter. It maps wire JSON to the
// domain types and classifies failures; caching, retries and conflict
// handling live above it.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
}

var _ Service = (*Client)(nil)

// NewClient builds a Client from the config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		pageSize: pageSize,
		http:     httpClient,
	}, nil
}

// FetchAllIssues pages through every issue of the partition.
func (c *Client) FetchAllIssues(ctx context.Context, project string) ([]*types.Issue, error) {
	return c.fetchByQuery(ctx, partitionQuery(project, time.Time{}))
}

// FetchIssues pages through the partition's issues updated at or after
// updatedSince.
func (c *Client) FetchIssues(ctx context.Context, project string, updatedSince time.Time) ([]*types.Issue, error) {
	return c.fetchByQuery(ctx, partitionQuery(project, updatedSince))
}

// SearchIssues evaluates the logical query remotely, honoring its page
// window when one is set.
func (c *Client) SearchIssues(ctx context.Context, query types.IssueQuery) ([]*types.Issue, error) {
	n := query.Normalize()
	if n.Limit > 0 {
		return c.fetchPage(ctx, searchQuery(n), n.Skip, n.Limit)
	}
	return c.fetchByQuery(ctx, searchQuery(n))
}

// fetchByQuery drains all pages for one tracker query string.
func (c *Client) fetchByQuery(ctx context.Context, query string) ([]*types.Issue, error) {
	var all []*types.Issue
	for skip := 0; ; skip += c.pageSize {
		page, err := c.fetchPage(ctx, query, skip, c.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < c.pageSize {
			return all, nil
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, query string, skip, top int) ([]*types.Issue, error) {
	params := url.Values{}
	params.Set("fields", issueFields)
	params.Set("$top", fmt.Sprint(top))
	params.Set("$skip", fmt.Sprint(skip))
	if query != "" {
		params.Set("query", query)
	}

	var page []wireIssue
	if err := c.doJSON(ctx, http.MethodGet, "/api/issues", params, nil, &page); err != nil {
		return nil, err
	}

	issues := make([]*types.Issue, 0, len(page))
	for _, w := range page {
		issues = append(issues, mapIssue(w))
	}
	return issues, nil
}

// FetchBoards returns all agile boards with their column and swimlane
// configuration.
func (c *Client) FetchBoards(ctx context.Context) ([]*types.Board, error) {
	params := url.Values{}
	params.Set("fields", "id,name,favorite,projects(shortName),"+
		"sprints(id,name,start,finish,archived),currentSprint(id),"+
		"columnSettings(field(name),columns(presentation,collapsed,fieldValues(name))),"+
		"swimlaneSettings(field(name),values(name)),"+
		"orphansAtTheTop,hideOrphansSwimlane")

	var wire []wireBoard
	if err := c.doJSON(ctx, http.MethodGet, "/api/agiles", params, nil, &wire); err != nil {
		return nil, err
	}

	fetchedAt := time.Now().UTC()
	boards := make([]*types.Board, 0, len(wire))
	for _, w := range wire {
		boards = append(boards, mapBoard(w, fetchedAt))
	}
	return boards, nil
}

// FetchSavedQueries returns the user's saved searches.
func (c *Client) FetchSavedQueries(ctx context.Context) ([]*types.SavedQuery, error) {
	params := url.Values{}
	params.Set("fields", "id,name,query")

	var wire []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Query string `json:"query"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/savedQueries", params, nil, &wire); err != nil {
		return nil, err
	}

	fetchedAt := time.Now().UTC()
	queries := make([]*types.SavedQuery, 0, len(wire))
	for _, w := range wire {
		queries = append(queries, &types.SavedQuery{
			ID:        w.ID,
			Name:      w.Name,
			Query:     w.Query,
			UpdatedAt: fetchedAt,
		})
	}
	return queries, nil
}

// ApplyPatch submits one local edit. The tracker applies updates
// last-write-wins, so the version check is a read before the write: when
// the remote copy has already moved past knownVersion the patch is
// rejected with *ConflictError and nothing is written. The window between
// the read and the write is accepted; the next delta sync reconciles it.
func (c *Client) ApplyPatch(ctx context.Context, issueID string, patch types.IssuePatch, knownVersion time.Time) (*types.Issue, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid patch for %s: %w", issueID, err)
	}

	current, err := c.fetchIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if current.UpdatedAt.After(knownVersion) {
		return nil, &ConflictError{IssueID: issueID, Remote: current}
	}

	params := url.Values{}
	params.Set("fields", issueFields)

	var updated wireIssue
	if err := c.doJSON(ctx, http.MethodPost, "/api/issues/"+url.PathEscape(issueID),
		params, buildUpdate(patch), &updated); err != nil {
		return nil, err
	}
	return mapIssue(updated), nil
}

func (c *Client) fetchIssue(ctx context.Context, issueID string) (*types.Issue, error) {
	params := url.Values{}
	params.Set("fields", issueFields)

	var w wireIssue
	if err := c.doJSON(ctx, http.MethodGet, "/api/issues/"+url.PathEscape(issueID),
		params, nil, &w); err != nil {
		return nil, err
	}
	return mapIssue(w), nil
}

// doJSON performs one request against the tracker and decodes the JSON
// response into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to tracker failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode tracker response: %w", err)
	}
	return nil
}

// readErrorMessage extracts the tracker's error description, falling back
// to the raw body.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Description != "" {
			return body.Description
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

// partitionQuery builds the tracker query for a project partition,
// optionally bounded below on update time. Second precision is enough:
// upserts are idempotent, so re-fetching the boundary row is harmless.
func partitionQuery(project string, updatedSince time.Time) string {
	var parts []string
	if project != "" {
		parts = append(parts, fmt.Sprintf("project: {%s}", project))
	}
	if !updatedSince.IsZero() {
		parts = append(parts, fmt.Sprintf("updated: %s .. *",
			updatedSince.UTC().Format("2006-01-02T15:04:05")))
	}
	parts = append(parts, "sort by: updated asc")
	return strings.Join(parts, " ")
}

// searchQuery renders a normalized logical query in tracker query syntax.
func searchQuery(n types.IssueQuery) string {
	var parts []string
	if len(n.Projects) > 0 {
		wrapped := make([]string, len(n.Projects))
		for i, p := range n.Projects {
			wrapped[i] = "{" + p + "}"
		}
		parts = append(parts, "project: "+strings.Join(wrapped, ", "))
	}
	if n.Search != "" {
		parts = append(parts, n.Search)
	}
	dir := "desc"
	if n.Asc {
		dir = "asc"
	}
	switch n.Sort {
	case types.SortPriority:
		parts = append(parts, "sort by: priority "+dir)
	default:
		parts = append(parts, "sort by: updated "+dir)
	}
	return strings.Join(parts, " ")
}
