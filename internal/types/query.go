package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Sort fields accepted by IssueQuery.
const (
	SortUpdated  = "updated"
	SortPriority = "priority"
)

// IssueQuery describes one logical issue listing: project filters, free-text
// search, sort order, and page window. The zero value means "all issues,
// newest update first".
type IssueQuery struct {
	Projects []string `json:"projects,omitempty"`
	Search   string   `json:"search,omitempty"`
	Sort     string   `json:"sort,omitempty"`
	Asc      bool     `json:"asc,omitempty"`
	Skip     int      `json:"skip,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// AllIssues is the canonical query covering every cached issue.
func AllIssues() IssueQuery {
	return IssueQuery{}
}

// ProjectIssues is the canonical query for one project partition. An empty
// project collapses to AllIssues.
func ProjectIssues(project string) IssueQuery {
	if project == "" {
		return AllIssues()
	}
	return IssueQuery{Projects: []string{project}}
}

// Normalize returns the canonical form of the query: projects trimmed,
// deduplicated and sorted; search whitespace collapsed and lowercased
// (tracker search is case-insensitive); defaults filled in. Two queries that
// mean the same thing normalize identically.
func (q IssueQuery) Normalize() IssueQuery {
	n := IssueQuery{
		Sort:  q.Sort,
		Asc:   q.Asc,
		Skip:  q.Skip,
		Limit: q.Limit,
	}
	seen := make(map[string]bool)
	for _, p := range q.Projects {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		n.Projects = append(n.Projects, p)
	}
	sort.Strings(n.Projects)
	n.Search = strings.ToLower(strings.Join(strings.Fields(q.Search), " "))
	if n.Sort == "" {
		n.Sort = SortUpdated
	}
	if n.Skip < 0 {
		n.Skip = 0
	}
	if n.Limit < 0 {
		n.Limit = 0
	}
	return n
}

// Fingerprint returns the stable hash identifying this logical query. It is
// the query_key used by the query index.
func (q IssueQuery) Fingerprint() string {
	n := q.Normalize()
	canon := fmt.Sprintf("projects=%s|search=%s|sort=%s|asc=%t|skip=%d|limit=%d",
		strings.Join(n.Projects, ","), n.Search, n.Sort, n.Asc, n.Skip, n.Limit)
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:8])
}

// String returns a short human description for logs and CLI output.
func (q IssueQuery) String() string {
	n := q.Normalize()
	var parts []string
	if len(n.Projects) > 0 {
		parts = append(parts, "project "+strings.Join(n.Projects, ","))
	}
	if n.Search != "" {
		parts = append(parts, fmt.Sprintf("search %q", n.Search))
	}
	if len(parts) == 0 {
		parts = append(parts, "all issues")
	}
	return strings.Join(parts, ", ")
}
