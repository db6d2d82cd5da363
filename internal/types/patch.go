package types

import (
	"fmt"
	"strings"
)

// FieldKind tags a FieldChange with the kind of field it edits, so the
// remote adapter knows how to encode it without reflection.
type FieldKind string

const (
	// FieldKindString is a plain text field (title).
	FieldKindString FieldKind = "string"

	// FieldKindEnum is a single-valued enumerated field (status, priority).
	FieldKindEnum FieldKind = "enum"

	// FieldKindUser is a user reference field (assignee).
	FieldKindUser FieldKind = "user"

	// FieldKindTags replaces the issue's tag set.
	FieldKindTags FieldKind = "tags"

	// FieldKindCustom replaces the value set of an arbitrary custom field.
	FieldKindCustom FieldKind = "custom"
)

// IsValid reports whether the kind is one of the defined variants.
func (k FieldKind) IsValid() bool {
	switch k {
	case FieldKindString, FieldKindEnum, FieldKindUser, FieldKindTags, FieldKindCustom:
		return true
	}
	return false
}

// Well-known field names. Custom fields use their server-side names.
const (
	FieldTitle    = "Title"
	FieldStatus   = "Status"
	FieldPriority = "Priority"
	FieldAssignee = "Assignee"
	FieldTags     = "Tags"
)

// FieldChange is one edited field within a patch. Value carries
// string/enum/user kinds, Values carries tags/custom kinds.
type FieldChange struct {
	Field  string    `json:"field"`
	Kind   FieldKind `json:"kind"`
	Value  string    `json:"value,omitempty"`
	Values []string  `json:"values,omitempty"`
}

// Render returns the human-readable "Field: value" line for this change,
// used verbatim in conflict notices.
func (c FieldChange) Render() string {
	switch c.Kind {
	case FieldKindTags, FieldKindCustom:
		if len(c.Values) == 0 {
			return fmt.Sprintf("%s: (none)", c.Field)
		}
		return fmt.Sprintf("%s: %s", c.Field, strings.Join(c.Values, ", "))
	default:
		if c.Value == "" {
			return fmt.Sprintf("%s: (none)", c.Field)
		}
		return fmt.Sprintf("%s: %s", c.Field, c.Value)
	}
}

// IssuePatch is the set of field changes one local edit applies to an issue.
type IssuePatch struct {
	Changes []FieldChange `json:"changes"`
}

// Validate checks the patch is non-empty and every change is well-formed.
func (p *IssuePatch) Validate() error {
	if len(p.Changes) == 0 {
		return fmt.Errorf("patch has no changes")
	}
	for _, c := range p.Changes {
		if c.Field == "" {
			return fmt.Errorf("change has no field name")
		}
		if !c.Kind.IsValid() {
			return fmt.Errorf("invalid field kind %q for %s", c.Kind, c.Field)
		}
	}
	return nil
}

// Apply writes the patch into the issue in place (the optimistic local
// update). Unknown enum fields fall through to the custom-field map.
func (p *IssuePatch) Apply(issue *Issue) {
	for _, c := range p.Changes {
		switch {
		case c.Kind == FieldKindString && c.Field == FieldTitle:
			issue.Title = c.Value
		case c.Kind == FieldKindEnum && c.Field == FieldStatus:
			issue.Status = c.Value
		case c.Kind == FieldKindEnum && c.Field == FieldPriority:
			issue.Priority = c.Value
		case c.Kind == FieldKindUser && c.Field == FieldAssignee:
			issue.Assignee = UserRef{Login: c.Value}
		case c.Kind == FieldKindTags:
			issue.Tags = append([]string(nil), c.Values...)
		default:
			if issue.CustomFields == nil {
				issue.CustomFields = make(map[string][]string)
			}
			if c.Kind == FieldKindCustom {
				issue.CustomFields[c.Field] = append([]string(nil), c.Values...)
			} else {
				issue.CustomFields[c.Field] = []string{c.Value}
			}
		}
	}
}

// Render returns the verbatim multi-line rendering of every change, one
// "Field: value" line per change in patch order.
func (p *IssuePatch) Render() string {
	lines := make([]string, 0, len(p.Changes))
	for _, c := range p.Changes {
		lines = append(lines, c.Render())
	}
	return strings.Join(lines, "\n")
}

// FieldNames returns the names of all changed fields in patch order.
func (p *IssuePatch) FieldNames() []string {
	names := make([]string, 0, len(p.Changes))
	for _, c := range p.Changes {
		names = append(names, c.Field)
	}
	return names
}

// SetTitle returns a patch changing only the title.
func SetTitle(title string) IssuePatch {
	return IssuePatch{Changes: []FieldChange{{Field: FieldTitle, Kind: FieldKindString, Value: title}}}
}

// SetEnum returns a patch changing a single-valued enum field such as
// Status or Priority.
func SetEnum(field, value string) IssuePatch {
	return IssuePatch{Changes: []FieldChange{{Field: field, Kind: FieldKindEnum, Value: value}}}
}

// SetAssignee returns a patch reassigning the issue to the given login.
func SetAssignee(login string) IssuePatch {
	return IssuePatch{Changes: []FieldChange{{Field: FieldAssignee, Kind: FieldKindUser, Value: login}}}
}

// SetTags returns a patch replacing the issue's tag set.
func SetTags(tags ...string) IssuePatch {
	return IssuePatch{Changes: []FieldChange{{Field: FieldTags, Kind: FieldKindTags, Values: tags}}}
}
