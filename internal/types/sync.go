package types

import (
	"fmt"
	"time"
)

// SyncPhase is the externally observable state of the sync coordinator.
type SyncPhase string

const (
	PhaseIdle            SyncPhase = "idle"
	PhaseBootstrapping   SyncPhase = "bootstrapping"
	PhaseDeltaSyncing    SyncPhase = "deltaSyncing"
	PhaseReplayingOutbox SyncPhase = "replayingOutbox"
)

// IsValid reports whether the phase is one of the defined states.
func (p SyncPhase) IsValid() bool {
	switch p {
	case PhaseIdle, PhaseBootstrapping, PhaseDeltaSyncing, PhaseReplayingOutbox:
		return true
	}
	return false
}

// MutationKind is the kind of local edit held in the outbox.
type MutationKind string

// MutationUpdate is currently the only kind: a field-level update of an
// existing issue.
const MutationUpdate MutationKind = "update"

// IsValid reports whether the kind is one of the defined variants.
func (k MutationKind) IsValid() bool {
	return k == MutationUpdate
}

// Mutation is one durable outbox entry: a locally applied, not yet
// confirmed edit.
//
// Mutations for the same issue replay strictly in CreatedAt order. A
// mutation leaves the outbox only when the remote confirms the write, when
// the failure is non-retryable, or when the user discards it during
// conflict resolution. Conflicted entries are held and never retried
// automatically.
type Mutation struct {
	ID      string       `json:"id"`
	IssueID string       `json:"issue_id"`
	Kind    MutationKind `json:"kind"`
	Patch   IssuePatch   `json:"patch"`

	// LocalChanges is the human-readable rendering of the patch, captured
	// at submit time and shown verbatim in conflict notices.
	LocalChanges string `json:"local_changes"`

	CreatedAt     time.Time `json:"created_at"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	RetryCount    int       `json:"retry_count"`
	LastError     string    `json:"last_error,omitempty"`
	Conflicted    bool      `json:"conflicted,omitempty"`
}

// Validate checks the mutation is complete enough to enqueue.
func (m *Mutation) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.IssueID == "" {
		return fmt.Errorf("issue_id is required")
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid mutation kind %q", m.Kind)
	}
	if err := m.Patch.Validate(); err != nil {
		return fmt.Errorf("invalid patch: %w", err)
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// ConflictNotice is the user-facing artifact produced when a pending edit
// cannot be applied because the remote copy diverged. Ephemeral: held in
// memory until acknowledged, never persisted.
type ConflictNotice struct {
	ID           string    `json:"id"` // the conflicted mutation's id
	IssueID      string    `json:"issue_id"`
	ReadableID   string    `json:"readable_id,omitempty"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	LocalChanges string    `json:"local_changes"`
	CreatedAt    time.Time `json:"created_at"`
}
