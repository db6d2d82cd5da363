// Package remote defines the collaborator interface to the issue tracker
// and its error taxonomy. The sync coordinator depends only on the Service
// interface; the YouTrack REST adapter in this package is the production
// implementation and tests substitute fakes.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

// Service is everything the cache core needs from the tracker.
type Service interface {
	// FetchAllIssues returns every issue of the project partition (empty
	// project means all projects), paging internally until exhausted.
	FetchAllIssues(ctx context.Context, project string) ([]*types.Issue, error)

	// FetchIssues returns the issues of the partition updated at or after
	// updatedSince. A zero updatedSince behaves like FetchAllIssues.
	FetchIssues(ctx context.Context, project string, updatedSince time.Time) ([]*types.Issue, error)

	// SearchIssues evaluates the query remotely and returns matches in
	// server order.
	SearchIssues(ctx context.Context, query types.IssueQuery) ([]*types.Issue, error)

	// FetchBoards returns all agile boards visible to the token.
	FetchBoards(ctx context.Context) ([]*types.Board, error)

	// FetchSavedQueries returns the user's saved searches.
	FetchSavedQueries(ctx context.Context) ([]*types.SavedQuery, error)

	// ApplyPatch submits one local edit. knownVersion is the issue version
	// the edit was made against; when the remote copy has moved past it the
	// call fails with *ConflictError carrying the current remote issue and
	// nothing is written.
	ApplyPatch(ctx context.Context, issueID string, patch types.IssuePatch, knownVersion time.Time) (*types.Issue, error)
}

// ErrUnauthorized reports a rejected or expired token.
var ErrUnauthorized = errors.New("unauthorized: check your token")

// ConflictError rejects a patch whose base version is stale. Remote is the
// tracker's current copy of the issue.
type ConflictError struct {
	IssueID string
	Remote  *types.Issue
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("issue %s changed remotely since the local edit", e.IssueID)
}

// StatusError is a non-2xx response that is not a conflict.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tracker returned status %d", e.Code)
	}
	return fmt.Sprintf("tracker returned status %d: %s", e.Code, e.Message)
}

// IsConflict reports whether err is a version-mismatch rejection.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// AsConflict unwraps the conflict detail from err, if any.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRetryable classifies an error from a Service call. Transport failures,
// timeouts, 429 and 5xx responses are worth retrying; everything else
// (auth, bad request, not found, conflicts) is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsConflict(err) {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// Remaining errors reaching here are transport-level (connection
	// refused, DNS, EOF mid-body) and wrapped by the adapter.
	return true
}
