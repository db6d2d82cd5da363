// Package storage defines the persistence contract for the YouTrek cache.
//
// The sqlite subpackage is the durable implementation; the null subpackage
// is the degraded-mode stand-in used when the on-disk cache cannot be
// opened. Callers hold a Store for the process lifetime: opened once at
// startup, closed on shutdown.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

var (
	// ErrIssueNotFound is returned when an operation references an issue
	// that is not in the local cache.
	ErrIssueNotFound = errors.New("issue not found in cache")

	// ErrMutationNotFound is returned when an outbox operation references
	// a mutation id that is not queued.
	ErrMutationNotFound = errors.New("mutation not found in outbox")
)

// Stats summarizes cache and outbox occupancy for status reporting.
type Stats struct {
	Issues            int `json:"issues"`
	UnreadIssues      int `json:"unread_issues"`
	DirtyIssues       int `json:"dirty_issues"`
	PendingMutations  int `json:"pending_mutations"`
	Conflicted        int `json:"conflicted"`
	Boards            int `json:"boards"`
	SavedQueries      int `json:"saved_queries"`
	QueryFingerprints int `json:"query_fingerprints"`
}

// Store is the persistence boundary of the core.
//
// Individual operations are safe for concurrent use; multi-row writes run
// inside a single transaction and roll back completely on error. The
// sequencing of sync-driven writes is owned by the sync coordinator, not by
// the store.
type Store interface {
	// Close releases the underlying resources.
	Close() error

	// UpsertIssues writes a fetched batch inside one transaction. Rows
	// whose cached copy is dirty are skipped: the optimistic local edit
	// and the base version it was made against both stay intact until the
	// outbox resolves.
	UpsertIssues(ctx context.Context, batch []*types.Issue) error

	// Issue returns the cached issue, or ErrIssueNotFound.
	Issue(ctx context.Context, id string) (*types.Issue, error)

	// ListIssues filters the cached issues directly by the query's
	// projects and search text, ordered per the query's sort. This is the
	// offline browse path; QueryIssues serves fingerprint-cached results.
	ListIssues(ctx context.Context, q types.IssueQuery) ([]*types.Issue, error)

	// QueryIssues returns the cached result rows for a query fingerprint
	// in ascending sort index order.
	QueryIssues(ctx context.Context, fingerprint string) ([]*types.Issue, error)

	// QueryMembership returns just the ordered issue ids for a fingerprint.
	QueryMembership(ctx context.Context, fingerprint string) ([]string, error)

	// FingerprintsFor returns the fingerprints whose cached results
	// currently include the issue.
	FingerprintsFor(ctx context.Context, issueID string) ([]string, error)

	// RecordQueryFetch makes a fetched result authoritative for the
	// fingerprint: entries for the supplied ids get lastSeenAt=fetchedAt
	// and their position as sort index, then entries for this fingerprint
	// with an older lastSeenAt are purged. Entries under other
	// fingerprints are untouched.
	RecordQueryFetch(ctx context.Context, fingerprint string, ids []string, fetchedAt time.Time) error

	// MarkIssueSeen records that the user has acknowledged the issue's
	// current update time (unread tracking).
	MarkIssueSeen(ctx context.Context, id string, seenAt time.Time) error

	// SubmitEdit atomically applies the mutation's patch to the cached
	// issue (marking it dirty) and appends the outbox row. The issue must
	// already be cached.
	SubmitEdit(ctx context.Context, m *types.Mutation) error

	// PendingMutations returns all queued mutations in creation order.
	PendingMutations(ctx context.Context) ([]*types.Mutation, error)

	// MutationHeads returns, per issue, the oldest queued mutation,
	// excluding issues whose oldest mutation is conflicted. Only heads are
	// ever eligible for replay, which enforces per-issue creation order.
	MutationHeads(ctx context.Context) ([]*types.Mutation, error)

	// RemoveMutation deletes a mutation and clears the issue's dirty flag
	// when no other mutation references it.
	RemoveMutation(ctx context.Context, id string) error

	// RecordAttemptFailure notes a retryable failure: bumps retryCount,
	// stores the error text and attempt time, leaves the row queued.
	RecordAttemptFailure(ctx context.Context, id string, attemptAt time.Time, msg string) error

	// MarkConflicted holds the mutation: it stays queued but is excluded
	// from replay until the user retries or discards it.
	MarkConflicted(ctx context.Context, id string, msg string) error

	// DiscardMutation resolves a conflict by accepting the remote side:
	// removes the mutation, clears dirty state, and overwrites the cached
	// row with the remote copy when one is supplied.
	DiscardMutation(ctx context.Context, id string, remote *types.Issue) error

	// RetryMutation re-arms a conflicted mutation against the current
	// remote version: clears the conflicted flag and the attempt clock and
	// advances the issue's base version so the next replay carries a fresh
	// precondition.
	RetryMutation(ctx context.Context, id string, remoteVersion time.Time) error

	// AcceptRemoteVersion advances an issue's base version without
	// touching user-visible fields. Used after a successful replay when
	// further mutations for the issue are still queued.
	AcceptRemoteVersion(ctx context.Context, issueID string, version time.Time) error

	// HasIssues reports whether any issue is cached (bootstrap check).
	HasIssues(ctx context.Context) (bool, error)

	// MaxUpdatedAt returns the newest remote update time durably cached
	// for a project partition (the delta-sync watermark). The zero time
	// means nothing is cached for the partition. An empty project spans
	// all partitions.
	MaxUpdatedAt(ctx context.Context, project string) (time.Time, error)

	// Stats returns cache and outbox occupancy counts.
	Stats(ctx context.Context) (*Stats, error)

	// Boards returns all cached boards ordered by name.
	Boards(ctx context.Context) ([]*types.Board, error)

	// ReplaceBoards replaces the cached board set wholesale
	// (delete-all-then-insert inside one transaction).
	ReplaceBoards(ctx context.Context, batch []*types.Board) error

	// SavedQueries returns all cached saved queries ordered by name.
	SavedQueries(ctx context.Context) ([]*types.SavedQuery, error)

	// ReplaceSavedQueries replaces the cached saved-query set wholesale.
	ReplaceSavedQueries(ctx context.Context, batch []*types.SavedQuery) error
}
