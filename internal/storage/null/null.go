// Package null provides the degraded-mode stand-in for the cache store.
//
// When the SQLite cache cannot be opened or migrated the app swaps in
// null.Store instead of crashing: every read sees an empty cache and every
// write is accepted and dropped. The condition is reported once by the
// caller; nothing here logs or errors on normal operations.
package null

import (
	"context"
	"time"

	"github.com/ptmt/youtrek-sub001/internal/storage"
	"github.com/ptmt/youtrek-sub001/internal/types"
)

// Store discards writes and serves empty reads.
type Store struct{}

var _ storage.Store = (*Store)(nil)

// New returns the degraded-mode store.
func New() *Store {
	return &Store{}
}

func (s *Store) Close() error { return nil }

func (s *Store) UpsertIssues(ctx context.Context, batch []*types.Issue) error { return nil }

func (s *Store) Issue(ctx context.Context, id string) (*types.Issue, error) {
	return nil, storage.ErrIssueNotFound
}

func (s *Store) ListIssues(ctx context.Context, q types.IssueQuery) ([]*types.Issue, error) {
	return nil, nil
}

func (s *Store) QueryIssues(ctx context.Context, fingerprint string) ([]*types.Issue, error) {
	return nil, nil
}

func (s *Store) QueryMembership(ctx context.Context, fingerprint string) ([]string, error) {
	return nil, nil
}

func (s *Store) FingerprintsFor(ctx context.Context, issueID string) ([]string, error) {
	return nil, nil
}

func (s *Store) RecordQueryFetch(ctx context.Context, fingerprint string, ids []string, fetchedAt time.Time) error {
	return nil
}

func (s *Store) MarkIssueSeen(ctx context.Context, id string, seenAt time.Time) error { return nil }

func (s *Store) SubmitEdit(ctx context.Context, m *types.Mutation) error { return nil }

func (s *Store) PendingMutations(ctx context.Context) ([]*types.Mutation, error) { return nil, nil }

func (s *Store) MutationHeads(ctx context.Context) ([]*types.Mutation, error) { return nil, nil }

func (s *Store) RemoveMutation(ctx context.Context, id string) error { return nil }

func (s *Store) RecordAttemptFailure(ctx context.Context, id string, attemptAt time.Time, msg string) error {
	return nil
}

func (s *Store) MarkConflicted(ctx context.Context, id string, msg string) error { return nil }

func (s *Store) DiscardMutation(ctx context.Context, id string, remote *types.Issue) error {
	return nil
}

func (s *Store) RetryMutation(ctx context.Context, id string, remoteVersion time.Time) error {
	return nil
}

func (s *Store) AcceptRemoteVersion(ctx context.Context, issueID string, version time.Time) error {
	return nil
}

func (s *Store) HasIssues(ctx context.Context) (bool, error) { return false, nil }

func (s *Store) MaxUpdatedAt(ctx context.Context, project string) (time.Time, error) {
	return time.Time{}, nil
}

func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) { return &storage.Stats{}, nil }

func (s *Store) Boards(ctx context.Context) ([]*types.Board, error) { return nil, nil }

func (s *Store) ReplaceBoards(ctx context.Context, batch []*types.Board) error { return nil }

func (s *Store) SavedQueries(ctx context.Context) ([]*types.SavedQuery, error) { return nil, nil }

func (s *Store) ReplaceSavedQueries(ctx context.Context, batch []*types.SavedQuery) error {
	return nil
}
