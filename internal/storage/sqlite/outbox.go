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

// mutationColumns is the SELECT list matching scanMutation's field order.
const mutationColumns = `id, issue_id, kind, payload_json, local_changes,
	created_at, last_attempt_at, retry_count, last_error, conflicted`

// SubmitEdit atomically applies the mutation's patch to the cached issue
// and appends the outbox row. The issue row is marked dirty and its
// local_updated_at set; updated_at is left frozen as the replay
// precondition. The issue is never dirty without an outbox row, nor the
// reverse.
func (s *Store) SubmitEdit(ctx context.Context, m *types.Mutation) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid mutation: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM issues WHERE id = ?", issueColumns), m.IssueID)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", storage.ErrIssueNotFound, m.IssueID)
	}
	if err != nil {
		return fmt.Errorf("failed to load issue %s: %w", m.IssueID, err)
	}

	m.Patch.Apply(issue)

	tagsJSON, err := json.Marshal(issue.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags for %s: %w", issue.ID, err)
	}
	fieldsJSON, err := json.Marshal(issue.CustomFields)
	if err != nil {
		return fmt.Errorf("failed to marshal custom fields for %s: %w", issue.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `
	UPDATE issues SET
		title = ?, status = ?, priority = ?,
		assignee_login = ?, assignee_name = ?,
		tags_json = ?, custom_fields_json = ?,
		is_dirty = 1, local_updated_at = ?
	WHERE id = ?`,
		issue.Title,
		nullIfEmpty(issue.Status),
		nullIfEmpty(issue.Priority),
		nullIfEmpty(issue.Assignee.Login),
		nullIfEmpty(issue.Assignee.FullName),
		string(tagsJSON),
		string(fieldsJSON),
		formatTime(m.CreatedAt),
		issue.ID,
	); err != nil {
		return fmt.Errorf("failed to apply local edit to %s: %w", issue.ID, err)
	}

	payloadJSON, err := json.Marshal(m.Patch)
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO issue_mutations (
		id, issue_id, kind, payload_json, local_changes,
		created_at, retry_count, conflicted
	) VALUES (?, ?, ?, ?, ?, ?, 0, 0)`,
		m.ID,
		m.IssueID,
		string(m.Kind),
		string(payloadJSON),
		m.LocalChanges,
		formatTime(m.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to enqueue mutation %s: %w", m.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit local edit: %w", err)
	}
	return nil
}

// PendingMutations returns every queued mutation in creation order.
func (s *Store) PendingMutations(ctx context.Context) ([]*types.Mutation, error) {
	rows, err := s.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM issue_mutations ORDER BY created_at, id", mutationColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to load pending mutations: %w", err)
	}
	defer rows.Close()

	return collectMutations(rows)
}

// MutationHeads returns, per issue, the oldest queued mutation, excluding
// issues whose oldest mutation is conflicted. Only heads replay, so
// per-issue creation order can never be violated and a held conflict
// blocks exactly its own issue.
func (s *Store) MutationHeads(ctx context.Context) ([]*types.Mutation, error) {
	query := fmt.Sprintf(`
	SELECT %s FROM issue_mutations m
	WHERE m.conflicted = 0
	  AND NOT EXISTS (
		SELECT 1 FROM issue_mutations p
		WHERE p.issue_id = m.issue_id
		  AND (p.created_at < m.created_at
		       OR (p.created_at = m.created_at AND p.id < m.id))
	  )
	ORDER BY m.created_at, m.id`, prefixedMutationColumns("m"))

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load mutation heads: %w", err)
	}
	defer rows.Close()

	return collectMutations(rows)
}

// RemoveMutation deletes the mutation and clears the issue's dirty state
// when it was the last one referencing the issue.
func (s *Store) RemoveMutation(ctx context.Context, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	issueID, err := deleteMutationTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := clearDirtyIfUnreferencedTx(ctx, tx, issueID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mutation removal: %w", err)
	}
	return nil
}

// RecordAttemptFailure notes a retryable failure on the mutation.
func (s *Store) RecordAttemptFailure(ctx context.Context, id string, attemptAt time.Time, msg string) error {
	res, err := s.conn.ExecContext(ctx, `
	UPDATE issue_mutations
	SET retry_count = retry_count + 1, last_attempt_at = ?, last_error = ?
	WHERE id = ?`,
		formatTime(attemptAt), msg, id)
	if err != nil {
		return fmt.Errorf("failed to record failure for mutation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrMutationNotFound, id)
	}
	return nil
}

// MarkConflicted holds the mutation out of replay until the user resolves
// it. The retry counter is untouched: a conflict is not a retryable
// attempt.
func (s *Store) MarkConflicted(ctx context.Context, id string, msg string) error {
	res, err := s.conn.ExecContext(ctx, `
	UPDATE issue_mutations
	SET conflicted = 1, last_attempt_at = ?, last_error = ?
	WHERE id = ?`,
		formatTime(time.Now()), msg, id)
	if err != nil {
		return fmt.Errorf("failed to mark mutation %s conflicted: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrMutationNotFound, id)
	}
	return nil
}

// DiscardMutation resolves a conflict by accepting the remote side. The
// mutation is removed; when it was the issue's last one the dirty state is
// cleared and the supplied remote copy (if any) overwrites the row. With
// further mutations still queued only the base version advances, keeping
// their optimistic edits visible.
func (s *Store) DiscardMutation(ctx context.Context, id string, remote *types.Issue) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	issueID, err := deleteMutationTx(ctx, tx, id)
	if err != nil {
		return err
	}

	var remaining int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM issue_mutations WHERE issue_id = ?", issueID).Scan(&remaining); err != nil {
		return fmt.Errorf("failed to count mutations for %s: %w", issueID, err)
	}

	switch {
	case remaining == 0 && remote != nil:
		if err := forceWriteIssueTx(ctx, tx, remote); err != nil {
			return err
		}
	case remaining == 0:
		if _, err := tx.ExecContext(ctx,
			"UPDATE issues SET is_dirty = 0, local_updated_at = NULL WHERE id = ?", issueID); err != nil {
			return fmt.Errorf("failed to clear dirty flag for %s: %w", issueID, err)
		}
	case remote != nil:
		if _, err := tx.ExecContext(ctx,
			"UPDATE issues SET updated_at = ? WHERE id = ?",
			formatTime(remote.UpdatedAt), issueID); err != nil {
			return fmt.Errorf("failed to advance version for %s: %w", issueID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conflict discard: %w", err)
	}
	return nil
}

// RetryMutation re-arms a conflicted mutation: clears the hold and the
// attempt clock, and advances the issue's base version so the next replay
// runs against the current remote state.
func (s *Store) RetryMutation(ctx context.Context, id string, remoteVersion time.Time) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var issueID string
	err = tx.QueryRowContext(ctx,
		"SELECT issue_id FROM issue_mutations WHERE id = ?", id).Scan(&issueID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", storage.ErrMutationNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load mutation %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `
	UPDATE issue_mutations
	SET conflicted = 0, last_attempt_at = NULL, last_error = NULL
	WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to re-arm mutation %s: %w", id, err)
	}

	if !remoteVersion.IsZero() {
		if _, err := tx.ExecContext(ctx,
			"UPDATE issues SET updated_at = ? WHERE id = ?",
			formatTime(remoteVersion), issueID); err != nil {
			return fmt.Errorf("failed to advance version for %s: %w", issueID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conflict retry: %w", err)
	}
	return nil
}

// deleteMutationTx removes the mutation row and returns its issue id.
func deleteMutationTx(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var issueID string
	err := tx.QueryRowContext(ctx,
		"SELECT issue_id FROM issue_mutations WHERE id = ?", id).Scan(&issueID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", storage.ErrMutationNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load mutation %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM issue_mutations WHERE id = ?", id); err != nil {
		return "", fmt.Errorf("failed to delete mutation %s: %w", id, err)
	}
	return issueID, nil
}

// clearDirtyIfUnreferencedTx drops the dirty flag when no mutation
// references the issue anymore.
func clearDirtyIfUnreferencedTx(ctx context.Context, tx *sql.Tx, issueID string) error {
	var remaining int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM issue_mutations WHERE issue_id = ?", issueID).Scan(&remaining); err != nil {
		return fmt.Errorf("failed to count mutations for %s: %w", issueID, err)
	}
	if remaining > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE issues SET is_dirty = 0, local_updated_at = NULL WHERE id = ?", issueID); err != nil {
		return fmt.Errorf("failed to clear dirty flag for %s: %w", issueID, err)
	}
	return nil
}

// forceWriteIssueTx overwrites the cached row with the remote copy,
// ignoring the dirty guard (conflict discard accepted the remote side).
// The user's read marker survives.
func forceWriteIssueTx(ctx context.Context, tx *sql.Tx, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("invalid remote issue: %w", err)
	}

	tagsJSON, err := json.Marshal(issue.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags for %s: %w", issue.ID, err)
	}
	fieldsJSON, err := json.Marshal(issue.CustomFields)
	if err != nil {
		return fmt.Errorf("failed to marshal custom fields for %s: %w", issue.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO issues (
		id, readable_id, title, project_name, updated_at, last_seen_updated_at,
		assignee_login, assignee_name, reporter_login, reporter_name,
		priority, priority_rank, status, tags_json, custom_fields_json,
		is_dirty, local_updated_at
	) VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)
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
		custom_fields_json = excluded.custom_fields_json,
		is_dirty = 0,
		local_updated_at = NULL`,
		issue.ID,
		issue.ReadableID,
		issue.Title,
		issue.Project,
		formatTime(issue.UpdatedAt),
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
		return fmt.Errorf("failed to overwrite issue %s: %w", issue.ID, err)
	}
	return nil
}

// scanMutation reads one outbox row in mutationColumns order.
func scanMutation(sc scanner) (*types.Mutation, error) {
	var (
		m             types.Mutation
		kind          string
		payloadJSON   string
		createdAt     string
		lastAttemptAt sql.NullString
		lastError     sql.NullString
		conflicted    int
	)

	err := sc.Scan(
		&m.ID, &m.IssueID, &kind, &payloadJSON, &m.LocalChanges,
		&createdAt, &lastAttemptAt, &m.RetryCount, &lastError, &conflicted,
	)
	if err != nil {
		return nil, err
	}

	m.Kind = types.MutationKind(kind)
	if err := json.Unmarshal([]byte(payloadJSON), &m.Patch); err != nil {
		return nil, fmt.Errorf("corrupt patch payload for mutation %s: %w", m.ID, err)
	}
	m.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	m.LastAttemptAt = nullStringToTime(lastAttemptAt)
	m.LastError = lastError.String
	m.Conflicted = conflicted != 0

	return &m, nil
}

// collectMutations drains a multi-row result in mutationColumns order.
func collectMutations(rows *sql.Rows) ([]*types.Mutation, error) {
	var muts []*types.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		muts = append(muts, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mutation rows: %w", err)
	}
	return muts, nil
}

// prefixedMutationColumns qualifies the mutation SELECT list with a table
// alias.
func prefixedMutationColumns(alias string) string {
	cols := strings.Split(mutationColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
