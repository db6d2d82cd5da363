// Package sqlite implements the persistent YouTrek cache on embedded SQLite.
//
// The database uses the pure-Go ncruces/go-sqlite3 driver (wazero-compiled
// SQLite, no cgo) in WAL mode so readers are never blocked by the sync
// coordinator's writes.
//
// Layout:
//   - issues           cached issue mirrors (+ dirty flags for pending edits)
//   - issue_queries    query fingerprint -> ordered issue membership
//   - issue_mutations  the durable outbox
//   - issue_boards     agile boards, replaced wholesale on sync
//   - saved_queries    saved searches, replaced wholesale on sync
//
// Schema evolution is additive-only: migrate.go introduces new columns
// behind a column-existence check, so older cache files upgrade in place.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/ptmt/youtrek-sub001/internal/storage"
)

// timeFormat is a fixed-width UTC layout. Fixed width keeps lexicographic
// order identical to time order, which MAX(updated_at) and the eviction
// comparison rely on.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

var runtimeOnce sync.Once

// configureRuntime installs a shared wazero compilation cache so repeated
// opens (CLI invocations, tests) reuse the compiled SQLite module.
func configureRuntime() {
	runtimeOnce.Do(func() {
		sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().
			WithCompilationCache(wazero.NewCompilationCache())
	})
}

// Store is the SQLite-backed implementation of storage.Store.
type Store struct {
	conn *sql.DB
	path string
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if necessary) the cache database at path, applies
// the schema and any pending additive migrations, and returns the store.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
func Open(path string) (*Store, error) {
	configureRuntime()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	// WAL mode for concurrent reads during sync writes
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the on-disk location of the cache database.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}

	s.conn = nil
	return nil
}

// Stats returns cache and outbox occupancy counts.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM issues", &stats.Issues},
		{"SELECT COUNT(*) FROM issues WHERE last_seen_updated_at IS NULL OR updated_at > last_seen_updated_at", &stats.UnreadIssues},
		{"SELECT COUNT(*) FROM issues WHERE is_dirty = 1", &stats.DirtyIssues},
		{"SELECT COUNT(*) FROM issue_mutations", &stats.PendingMutations},
		{"SELECT COUNT(*) FROM issue_mutations WHERE conflicted = 1", &stats.Conflicted},
		{"SELECT COUNT(*) FROM issue_boards", &stats.Boards},
		{"SELECT COUNT(*) FROM saved_queries", &stats.SavedQueries},
		{"SELECT COUNT(DISTINCT query_key) FROM issue_queries", &stats.QueryFingerprints},
	}

	for _, c := range counts {
		if err := s.conn.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
	}

	return stats, nil
}

// formatTime renders a timestamp in the fixed-width UTC storage layout.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime reads a stored timestamp. Empty input yields the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// timeToNullString converts a timestamp for a nullable column; the zero
// time maps to NULL.
func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

// nullStringToTime reads a nullable timestamp column; NULL or garbage maps
// to the zero time.
func nullStringToTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
