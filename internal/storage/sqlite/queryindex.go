package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

// RecordQueryFetch makes a fetched result authoritative for one query
// fingerprint, in a single transaction:
//
//  1. upsert an index row per id with last_seen_at = fetchedAt and the
//     position in the supplied order as sort_index;
//  2. purge rows for this fingerprint whose last_seen_at predates
//     fetchedAt (entities no longer in the latest result).
//
// Rows under other fingerprints are never touched: an issue can be a
// member of many cached query results at once.
func (s *Store) RecordQueryFetch(ctx context.Context, fingerprint string, ids []string, fetchedAt time.Time) error {
	if fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
	INSERT INTO issue_queries (query_key, issue_id, last_seen_at, sort_index)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(query_key, issue_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at,
		sort_index = excluded.sort_index
	`

	seenAt := formatTime(fetchedAt)
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, upsert, fingerprint, id, seenAt, i); err != nil {
			return fmt.Errorf("failed to record %s for query %s: %w", id, fingerprint, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM issue_queries WHERE query_key = ? AND last_seen_at < ?",
		fingerprint, seenAt); err != nil {
		return fmt.Errorf("failed to evict stale entries for query %s: %w", fingerprint, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit query fetch: %w", err)
	}
	return nil
}

// QueryIssues returns the cached issues for a fingerprint in ascending
// sort-index order.
func (s *Store) QueryIssues(ctx context.Context, fingerprint string) ([]*types.Issue, error) {
	query := fmt.Sprintf(`
	SELECT %s FROM issues i
	JOIN issue_queries q ON q.issue_id = i.id
	WHERE q.query_key = ?
	ORDER BY q.sort_index`, prefixedIssueColumns("i"))

	rows, err := s.conn.QueryContext(ctx, query, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to load query results for %s: %w", fingerprint, err)
	}
	defer rows.Close()

	return collectIssues(rows)
}

// QueryMembership returns just the ordered issue ids for a fingerprint.
func (s *Store) QueryMembership(ctx context.Context, fingerprint string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT issue_id FROM issue_queries WHERE query_key = ? ORDER BY sort_index",
		fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to load membership for %s: %w", fingerprint, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan membership row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read membership rows: %w", err)
	}
	return ids, nil
}

// FingerprintsFor returns the fingerprints whose cached results currently
// include the issue.
func (s *Store) FingerprintsFor(ctx context.Context, issueID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT query_key FROM issue_queries WHERE issue_id = ? ORDER BY query_key",
		issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints for %s: %w", issueID, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fingerprint rows: %w", err)
	}
	return keys, nil
}
