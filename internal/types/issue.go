package types

import (
	"fmt"
	"time"
)

// UserRef identifies a tracker user on an issue (assignee, reporter).
type UserRef struct {
	Login    string `json:"login"`
	FullName string `json:"full_name,omitempty"`
}

// String returns the display form: full name when known, login otherwise.
func (u UserRef) String() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Login
}

// IsZero reports whether the reference is empty (field unset on the issue).
func (u UserRef) IsZero() bool {
	return u.Login == "" && u.FullName == ""
}

// Issue is the local mirror of a remote issue.
//
// UpdatedAt is the last remote modification time this client has seen for
// the row and doubles as the version precondition for outbox replay. While
// IsDirty is set, UpdatedAt stays frozen at the value the pending edit was
// based on.
type Issue struct {
	ID         string `json:"id"`
	ReadableID string `json:"readable_id"`
	Title      string `json:"title"`
	Project    string `json:"project"`

	Status       string              `json:"status,omitempty"`
	Priority     string              `json:"priority,omitempty"`
	PriorityRank int                 `json:"priority_rank,omitempty"`
	Assignee     UserRef             `json:"assignee,omitempty"`
	Reporter     UserRef             `json:"reporter,omitempty"`
	Tags         []string            `json:"tags,omitempty"`
	CustomFields map[string][]string `json:"custom_fields,omitempty"`

	UpdatedAt         time.Time `json:"updated_at"`
	LastSeenUpdatedAt time.Time `json:"last_seen_updated_at,omitempty"`

	IsDirty        bool      `json:"is_dirty,omitempty"`
	LocalUpdatedAt time.Time `json:"local_updated_at,omitempty"`
}

// Validate checks that a fetched issue is well-formed enough to cache.
func (i *Issue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("id is required")
	}
	if i.ReadableID == "" {
		return fmt.Errorf("readable_id is required for %s", i.ID)
	}
	if i.Title == "" {
		return fmt.Errorf("title is required for %s", i.ReadableID)
	}
	if i.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required for %s", i.ReadableID)
	}
	return nil
}

// Unread reports whether the issue changed since the user last looked at it.
// Issues never seen at all count as unread.
func (i *Issue) Unread() bool {
	if i.LastSeenUpdatedAt.IsZero() {
		return true
	}
	return i.UpdatedAt.After(i.LastSeenUpdatedAt)
}

// HasTag reports whether the issue carries the given tag.
func (i *Issue) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without aliasing cached
// slices and maps.
func (i *Issue) Clone() *Issue {
	c := *i
	if i.Tags != nil {
		c.Tags = append([]string(nil), i.Tags...)
	}
	if i.CustomFields != nil {
		c.CustomFields = make(map[string][]string, len(i.CustomFields))
		for k, v := range i.CustomFields {
			c.CustomFields[k] = append([]string(nil), v...)
		}
	}
	return &c
}
