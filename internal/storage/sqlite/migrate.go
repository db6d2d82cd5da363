package sqlite

import (
	"context"
	"fmt"
)

// columnMigration introduces one column. There is no schema-version table:
// each migration is gated by a column-existence check, so the set is
// idempotent and order-independent, and legacy cache files upgrade in place
// without a rewrite.
type columnMigration struct {
	table  string
	column string
	ddl    string
}

// migrations holds every column added since the base schema. Append only;
// never edit or reorder an entry that has shipped.
var migrations = []columnMigration{
	{
		// Unread tracking: last remote update time the user has looked at.
		table:  "issues",
		column: "last_seen_updated_at",
		ddl:    "ALTER TABLE issues ADD COLUMN last_seen_updated_at TEXT",
	},
	{
		// Conflicted outbox entries are held for explicit resolution
		// instead of being retried.
		table:  "issue_mutations",
		column: "conflicted",
		ddl:    "ALTER TABLE issue_mutations ADD COLUMN conflicted INTEGER NOT NULL DEFAULT 0",
	},
	{
		// Board option shipped after the first release.
		table:  "issue_boards",
		column: "hide_orphans_swimlane",
		ddl:    "ALTER TABLE issue_boards ADD COLUMN hide_orphans_swimlane INTEGER NOT NULL DEFAULT 0",
	},
}

// migrate applies every column migration whose column is missing.
func (s *Store) migrate(ctx context.Context) error {
	for _, m := range migrations {
		exists, err := s.columnExists(ctx, m.table, m.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := s.conn.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

// columnExists reports whether the table already has the column, via
// PRAGMA table_info introspection.
func (s *Store) columnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    interface{}
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("failed to scan table info for %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to read table info for %s: %w", table, err)
	}
	return false, nil
}
