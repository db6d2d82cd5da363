package types

import (
	"fmt"
	"time"
)

// Sprint is one sprint attached to an agile board.
type Sprint struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Start    *time.Time `json:"start,omitempty"`
	Finish   *time.Time `json:"finish,omitempty"`
	Archived bool       `json:"archived,omitempty"`
}

// BoardColumn is one column of a board, defined by the field values it
// collects (for example Status in {Open, In Progress}).
type BoardColumn struct {
	Name        string   `json:"name"`
	FieldValues []string `json:"field_values,omitempty"`
	Collapsed   bool     `json:"collapsed,omitempty"`
}

// Swimlane configures how a board groups rows. A nil Swimlane on a Board
// means no swimlanes.
type Swimlane struct {
	FieldName string   `json:"field_name"`
	Values    []string `json:"values,omitempty"`
}

// Board mirrors a remote agile board. Boards are read-through only: the
// cache replaces them wholesale on sync and never patches them locally.
type Board struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	IsFavorite      bool          `json:"is_favorite,omitempty"`
	Projects        []string      `json:"projects,omitempty"`
	Sprints         []Sprint      `json:"sprints,omitempty"`
	CurrentSprintID string        `json:"current_sprint_id,omitempty"`
	ColumnFieldName string        `json:"column_field_name,omitempty"`
	Columns         []BoardColumn `json:"columns,omitempty"`
	Swimlane        *Swimlane     `json:"swimlane,omitempty"`
	OrphansAtTop    bool          `json:"orphans_at_top,omitempty"`
	HideOrphans     bool          `json:"hide_orphans,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Validate checks that a fetched board is well-formed enough to cache.
func (b *Board) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id is required")
	}
	if b.Name == "" {
		return fmt.Errorf("name is required for board %s", b.ID)
	}
	return nil
}

// CurrentSprint returns the board's current sprint, or nil when none is set.
func (b *Board) CurrentSprint() *Sprint {
	for i := range b.Sprints {
		if b.Sprints[i].ID == b.CurrentSprintID {
			return &b.Sprints[i]
		}
	}
	return nil
}

// SavedQuery mirrors a remote saved search. Read-through only, replaced
// wholesale on sync.
type SavedQuery struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Query     string    `json:"query"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that a fetched saved query is well-formed enough to cache.
func (s *SavedQuery) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.Name == "" {
		return fmt.Errorf("name is required for saved query %s", s.ID)
	}
	return nil
}
