package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

// ReplaceBoards replaces the cached board set wholesale: delete all, then
// insert the batch, inside one transaction. Boards are never patched in
// place; a mid-batch failure rolls the whole replacement back.
func (s *Store) ReplaceBoards(ctx context.Context, batch []*types.Board) error {
	for _, b := range batch {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("invalid board in batch: %w", err)
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM issue_boards"); err != nil {
		return fmt.Errorf("failed to clear boards: %w", err)
	}

	insert := `
	INSERT INTO issue_boards (
		id, name, is_favorite, project_names_json, sprints_json,
		current_sprint_id, column_field_name, columns_json, swimlane_json,
		orphans_at_top, hide_orphans_swimlane, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, b := range batch {
		projectsJSON, err := json.Marshal(b.Projects)
		if err != nil {
			return fmt.Errorf("failed to marshal projects for board %s: %w", b.ID, err)
		}
		sprintsJSON, err := json.Marshal(b.Sprints)
		if err != nil {
			return fmt.Errorf("failed to marshal sprints for board %s: %w", b.ID, err)
		}
		columnsJSON, err := json.Marshal(b.Columns)
		if err != nil {
			return fmt.Errorf("failed to marshal columns for board %s: %w", b.ID, err)
		}

		var swimlaneJSON sql.NullString
		if b.Swimlane != nil {
			raw, err := json.Marshal(b.Swimlane)
			if err != nil {
				return fmt.Errorf("failed to marshal swimlane for board %s: %w", b.ID, err)
			}
			swimlaneJSON = sql.NullString{String: string(raw), Valid: true}
		}

		if _, err := tx.ExecContext(ctx, insert,
			b.ID,
			b.Name,
			boolToInt(b.IsFavorite),
			string(projectsJSON),
			string(sprintsJSON),
			nullIfEmpty(b.CurrentSprintID),
			nullIfEmpty(b.ColumnFieldName),
			string(columnsJSON),
			swimlaneJSON,
			boolToInt(b.OrphansAtTop),
			boolToInt(b.HideOrphans),
			formatTime(b.UpdatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert board %s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit board replacement: %w", err)
	}
	return nil
}

// Boards returns all cached boards ordered by name.
func (s *Store) Boards(ctx context.Context) ([]*types.Board, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, name, is_favorite, project_names_json, sprints_json,
	       current_sprint_id, column_field_name, columns_json, swimlane_json,
	       orphans_at_top, hide_orphans_swimlane, updated_at
	FROM issue_boards ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load boards: %w", err)
	}
	defer rows.Close()

	var boards []*types.Board
	for rows.Next() {
		var (
			b             types.Board
			isFavorite    int
			projectsJSON  sql.NullString
			sprintsJSON   sql.NullString
			currentSprint sql.NullString
			columnField   sql.NullString
			columnsJSON   sql.NullString
			swimlaneJSON  sql.NullString
			orphansAtTop  int
			hideOrphans   int
			updatedAt     string
		)
		if err := rows.Scan(
			&b.ID, &b.Name, &isFavorite, &projectsJSON, &sprintsJSON,
			&currentSprint, &columnField, &columnsJSON, &swimlaneJSON,
			&orphansAtTop, &hideOrphans, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan board row: %w", err)
		}

		b.IsFavorite = isFavorite != 0
		b.OrphansAtTop = orphansAtTop != 0
		b.HideOrphans = hideOrphans != 0
		b.CurrentSprintID = currentSprint.String
		b.ColumnFieldName = columnField.String
		b.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return nil, err
		}

		if projectsJSON.Valid && projectsJSON.String != "" {
			if err := json.Unmarshal([]byte(projectsJSON.String), &b.Projects); err != nil {
				return nil, fmt.Errorf("corrupt projects for board %s: %w", b.ID, err)
			}
		}
		if sprintsJSON.Valid && sprintsJSON.String != "" {
			if err := json.Unmarshal([]byte(sprintsJSON.String), &b.Sprints); err != nil {
				return nil, fmt.Errorf("corrupt sprints for board %s: %w", b.ID, err)
			}
		}
		if columnsJSON.Valid && columnsJSON.String != "" {
			if err := json.Unmarshal([]byte(columnsJSON.String), &b.Columns); err != nil {
				return nil, fmt.Errorf("corrupt columns for board %s: %w", b.ID, err)
			}
		}
		if swimlaneJSON.Valid && swimlaneJSON.String != "" {
			if err := json.Unmarshal([]byte(swimlaneJSON.String), &b.Swimlane); err != nil {
				return nil, fmt.Errorf("corrupt swimlane for board %s: %w", b.ID, err)
			}
		}

		boards = append(boards, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read board rows: %w", err)
	}
	return boards, nil
}

// ReplaceSavedQueries replaces the cached saved-query set wholesale inside
// one transaction.
func (s *Store) ReplaceSavedQueries(ctx context.Context, batch []*types.SavedQuery) error {
	for _, sq := range batch {
		if err := sq.Validate(); err != nil {
			return fmt.Errorf("invalid saved query in batch: %w", err)
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM saved_queries"); err != nil {
		return fmt.Errorf("failed to clear saved queries: %w", err)
	}

	for _, sq := range batch {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO saved_queries (id, name, query, updated_at) VALUES (?, ?, ?, ?)",
			sq.ID, sq.Name, sq.Query, formatTime(sq.UpdatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert saved query %s: %w", sq.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit saved-query replacement: %w", err)
	}
	return nil
}

// SavedQueries returns all cached saved queries ordered by name.
func (s *Store) SavedQueries(ctx context.Context) ([]*types.SavedQuery, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, name, query, updated_at FROM saved_queries ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to load saved queries: %w", err)
	}
	defer rows.Close()

	var queries []*types.SavedQuery
	for rows.Next() {
		var (
			sq        types.SavedQuery
			updatedAt string
		)
		if err := rows.Scan(&sq.ID, &sq.Name, &sq.Query, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan saved query row: %w", err)
		}
		sq.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return nil, err
		}
		queries = append(queries, &sq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read saved query rows: %w", err)
	}
	return queries, nil
}
