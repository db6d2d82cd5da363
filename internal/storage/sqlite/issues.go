package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ptmt/youtrek-sub001/internal/storage"
	"github.com/ptmt/youtrek-sub001/internal/types"
)

// issueColumns is the SELECT list matching scanIssue's field order.
const issueColumns = `id, readable_id, title, project_name, updated_at, last_seen_updated_at,
	assignee_login, assignee_name, reporter_login, reporter_name,
	priority, priority_rank, status, tags_json, custom_fields_json,
	is_dirty, local_updated_at`

// UpsertIssues writes a fetched batch inside one transaction.
//
// Dirty rows are skipped entirely: the optimistic local edit stays visible
// and updated_at stays frozen at the base version the pending edit was made
// against, so outbox replay still carries the right precondition. The
// user's read marker (last_seen_updated_at) is also preserved on update.
func (s *Store) UpsertIssues(ctx context.Context, batch []*types.Issue) error {
	for _, issue := range batch {
		if err := issue.Validate(); err != nil {
			return fmt.Errorf("invalid issue in batch: %w", err)
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO issues (
		id, readable_id, title, project_name, updated_at, last_seen_updated_at,
		assignee_login, assignee_name, reporter_login, reporter_name,
		priority, priority_rank, status, tags_json, custom_fields_json,
		is_dirty, local_updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)
	ON CONFLICT(id) DO UPDATE SET
		readable_id = excluded.readable_id,
		title = excluded.title,
		project_name = excluded.project_name,
		updated_at = excluded.updated_at,
		assignee_login = excluded.assignee_login,
		assignee_name = excluded.assignee_name,
		reporter_login = excluded.reporter_login,
		reporter_name = excluded.reporter_name,
		priority = excluded.priority,
		priority_rank = excluded.priority_rank,
		status = excluded.status,
		tags_json = excluded.tags_json,
		custom_fields_json = excluded.custom_fields_json
	WHERE issues.is_dirty = 0
	`

	for _, issue := range batch {
		tagsJSON, err := json.Marshal(issue.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags for %s: %w", issue.ID, err)
		}
		fieldsJSON, err := json.Marshal(issue.CustomFields)
		if err != nil {
			return fmt.Errorf("failed to marshal custom fields for %s: %w", issue.ID, err)
		}

		if _, err := tx.ExecContext(ctx, query,
			issue.ID,
			issue.ReadableID,
			issue.Title,
			issue.Project,
			formatTime(issue.UpdatedAt),
			timeToNullString(issue.LastSeenUpdatedAt),
			nullIfEmpty(issue.Assignee.Login),
			nullIfEmpty(issue.Assignee.FullName),
			nullIfEmpty(issue.Reporter.Login),
			nullIfEmpty(issue.Reporter.FullName),
			nullIfEmpty(issue.Priority),
			issue.PriorityRank,
			nullIfEmpty(issue.Status),
			string(tagsJSON),
			string(fieldsJSON),
		); err != nil {
			return fmt.Errorf("failed to upsert issue %s: %w", issue.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit issue batch: %w", err)
	}
	return nil
}

// Issue returns the cached issue, or storage.ErrIssueNotFound.
func (s *Store) Issue(ctx context.Context, id string) (*types.Issue, error) {
	row := s.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM issues WHERE id = ?", issueColumns), id)

	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", storage.ErrIssueNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load issue %s: %w", id, err)
	}
	return issue, nil
}

// ListIssues filters the cache directly: project membership and free-text
// search over title and readable id, ordered per the query's sort.
func (s *Store) ListIssues(ctx context.Context, q types.IssueQuery) ([]*types.Issue, error) {
	n := q.Normalize()

	var conditions []string
	var args []interface{}

	if len(n.Projects) > 0 {
		placeholders := strings.Repeat("?,", len(n.Projects))
		conditions = append(conditions,
			fmt.Sprintf("project_name IN (%s)", placeholders[:len(placeholders)-1]))
		for _, p := range n.Projects {
			args = append(args, p)
		}
	}
	if n.Search != "" {
		conditions = append(conditions, "(LOWER(title) LIKE ? OR LOWER(readable_id) LIKE ?)")
		pattern := "%" + n.Search + "%"
		args = append(args, pattern, pattern)
	}

	query := fmt.Sprintf("SELECT %s FROM issues", issueColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	dir := "DESC"
	if n.Asc {
		dir = "ASC"
	}
	switch n.Sort {
	case types.SortPriority:
		// rank ascends with importance descending; flip with Asc
		rankDir := "ASC"
		if n.Asc {
			rankDir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY priority_rank %s, updated_at DESC", rankDir)
	default:
		query += fmt.Sprintf(" ORDER BY updated_at %s", dir)
	}

	if n.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, n.Limit, n.Skip)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	return collectIssues(rows)
}

// MarkIssueSeen records the user's read marker for the issue.
func (s *Store) MarkIssueSeen(ctx context.Context, id string, seenAt time.Time) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE issues SET last_seen_updated_at = ? WHERE id = ?",
		formatTime(seenAt), id)
	if err != nil {
		return fmt.Errorf("failed to mark issue %s seen: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrIssueNotFound, id)
	}
	return nil
}

// AcceptRemoteVersion advances the issue's base version without touching
// user-visible fields.
func (s *Store) AcceptRemoteVersion(ctx context.Context, issueID string, version time.Time) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE issues SET updated_at = ? WHERE id = ?",
		formatTime(version), issueID)
	if err != nil {
		return fmt.Errorf("failed to advance version for %s: %w", issueID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrIssueNotFound, issueID)
	}
	return nil
}

// HasIssues reports whether any issue is cached.
func (s *Store) HasIssues(ctx context.Context) (bool, error) {
	var exists int
	err := s.conn.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM issues)").Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check for cached issues: %w", err)
	}
	return exists == 1, nil
}

// MaxUpdatedAt returns the newest cached remote update time for a project
// partition (zero when nothing is cached). Lexicographic MAX is safe
// because timestamps are stored fixed-width UTC.
func (s *Store) MaxUpdatedAt(ctx context.Context, project string) (time.Time, error) {
	var (
		max sql.NullString
		err error
	)
	if project == "" {
		err = s.conn.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM issues").Scan(&max)
	} else {
		err = s.conn.QueryRowContext(ctx,
			"SELECT MAX(updated_at) FROM issues WHERE project_name = ?", project).Scan(&max)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark for %q: %w", project, err)
	}
	return nullStringToTime(max), nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanIssue.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanIssue reads one issue row in issueColumns order.
func scanIssue(sc scanner) (*types.Issue, error) {
	var (
		issue                        types.Issue
		updatedAt                    string
		lastSeen                     sql.NullString
		assigneeLogin, assigneeName  sql.NullString
		reporterLogin, reporterName  sql.NullString
		priority, status             sql.NullString
		tagsJSON, customJSON         sql.NullString
		isDirty                      int
		localUpdatedAt               sql.NullString
	)

	err := sc.Scan(
		&issue.ID, &issue.ReadableID, &issue.Title, &issue.Project,
		&updatedAt, &lastSeen,
		&assigneeLogin, &assigneeName, &reporterLogin, &reporterName,
		&priority, &issue.PriorityRank, &status, &tagsJSON, &customJSON,
		&isDirty, &localUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	issue.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	issue.LastSeenUpdatedAt = nullStringToTime(lastSeen)
	issue.Assignee = types.UserRef{Login: assigneeLogin.String, FullName: assigneeName.String}
	issue.Reporter = types.UserRef{Login: reporterLogin.String, FullName: reporterName.String}
	issue.Priority = priority.String
	issue.Status = status.String
	issue.IsDirty = isDirty != 0
	issue.LocalUpdatedAt = nullStringToTime(localUpdatedAt)

	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &issue.Tags); err != nil {
			return nil, fmt.Errorf("corrupt tags for %s: %w", issue.ID, err)
		}
	}
	if customJSON.Valid && customJSON.String != "" {
		if err := json.Unmarshal([]byte(customJSON.String), &issue.CustomFields); err != nil {
			return nil, fmt.Errorf("corrupt custom fields for %s: %w", issue.ID, err)
		}
	}

	return &issue, nil
}

// collectIssues drains a multi-row result in issueColumns order.
func collectIssues(rows *sql.Rows) ([]*types.Issue, error) {
	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read issue rows: %w", err)
	}
	return issues, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// prefixedIssueColumns qualifies the issue SELECT list with a table alias
// for use in joins.
func prefixedIssueColumns(alias string) string {
	cols := strings.Split(issueColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
