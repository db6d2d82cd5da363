package remote

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

// Wire shapes for the tracker's JSON. Timestamps are unix milliseconds;
// custom-field values are polymorphic (object, array of objects, scalar,
// or null) and sniffed by decodeValues.

type wireUser struct {
	Login    string `json:"login"`
	FullName string `json:"fullName"`
}

type wireTag struct {
	Name string `json:"name"`
}

type wireProject struct {
	ShortName string `json:"shortName"`
}

type wireCustomField struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type wireIssue struct {
	ID           string            `json:"id"`
	IDReadable   string            `json:"idReadable"`
	Summary      string            `json:"summary"`
	Updated      int64             `json:"updated"`
	Project      *wireProject      `json:"project"`
	Reporter     *wireUser         `json:"reporter"`
	Tags         []wireTag         `json:"tags"`
	CustomFields []wireCustomField `json:"customFields"`
}

type wireValue struct {
	Name     string `json:"name"`
	Login    string `json:"login"`
	FullName string `json:"fullName"`
	Ordinal  *int   `json:"ordinal"`
}

// decodeValues normalizes a polymorphic field value into a slice. A bare
// string becomes a single Name-only value; undecodable input yields nil
// (the field is then simply absent from the mapped issue).
func decodeValues(raw json.RawMessage) []wireValue {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	switch trimmed[0] {
	case '[':
		var vals []wireValue
		if err := json.Unmarshal(trimmed, &vals); err != nil {
			return nil
		}
		return vals
	case '{':
		var v wireValue
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil
		}
		return []wireValue{v}
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil
		}
		return []wireValue{{Name: s}}
	default:
		return nil
	}
}

// display picks the human-readable form of a value: enum values carry
// Name, users carry Login/FullName.
func (v wireValue) display() string {
	if v.Name != "" {
		return v.Name
	}
	if v.FullName != "" {
		return v.FullName
	}
	return v.Login
}

// Wire names for the well-known fields. The tracker calls the status
// field "State".
const (
	wireFieldState    = "State"
	wireFieldPriority = "Priority"
	wireFieldAssignee = "Assignee"
)

// mapIssue converts one wire issue to the domain model. Well-known custom
// fields land in dedicated columns; the rest keep their server-side names
// in the custom-field map.
func mapIssue(w wireIssue) *types.Issue {
	issue := &types.Issue{
		ID:         w.ID,
		ReadableID: w.IDReadable,
		Title:      w.Summary,
		UpdatedAt:  time.UnixMilli(w.Updated).UTC(),
	}
	if w.Project != nil {
		issue.Project = w.Project.ShortName
	}
	if w.Reporter != nil {
		issue.Reporter = types.UserRef{Login: w.Reporter.Login, FullName: w.Reporter.FullName}
	}
	for _, t := range w.Tags {
		if t.Name != "" {
			issue.Tags = append(issue.Tags, t.Name)
		}
	}

	for _, cf := range w.CustomFields {
		vals := decodeValues(cf.Value)
		if len(vals) == 0 {
			continue
		}
		switch cf.Name {
		case wireFieldState:
			issue.Status = vals[0].display()
		case wireFieldPriority:
			issue.Priority = vals[0].display()
			if vals[0].Ordinal != nil {
				issue.PriorityRank = *vals[0].Ordinal
			}
		case wireFieldAssignee:
			issue.Assignee = types.UserRef{Login: vals[0].Login, FullName: vals[0].FullName}
		default:
			names := make([]string, 0, len(vals))
			for _, v := range vals {
				if d := v.display(); d != "" {
					names = append(names, d)
				}
			}
			if len(names) > 0 {
				if issue.CustomFields == nil {
					issue.CustomFields = make(map[string][]string)
				}
				issue.CustomFields[cf.Name] = names
			}
		}
	}
	return issue
}

type wireSprint struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Start    *int64 `json:"start"`
	Finish   *int64 `json:"finish"`
	Archived bool   `json:"archived"`
}

type wireIDRef struct {
	ID string `json:"id"`
}

type wireNamed struct {
	Name string `json:"name"`
}

type wireBoardColumn struct {
	Presentation string      `json:"presentation"`
	Collapsed    bool        `json:"collapsed"`
	FieldValues  []wireNamed `json:"fieldValues"`
}

type wireColumnSettings struct {
	Field   *wireNamed        `json:"field"`
	Columns []wireBoardColumn `json:"columns"`
}

type wireSwimlaneSettings struct {
	Field  *wireNamed  `json:"field"`
	Values []wireNamed `json:"values"`
}

type wireBoard struct {
	ID                  string                `json:"id"`
	Name                string                `json:"name"`
	Favorite            bool                  `json:"favorite"`
	Projects            []wireProject         `json:"projects"`
	Sprints             []wireSprint          `json:"sprints"`
	CurrentSprint       *wireIDRef            `json:"currentSprint"`
	ColumnSettings      *wireColumnSettings   `json:"columnSettings"`
	SwimlaneSettings    *wireSwimlaneSettings `json:"swimlaneSettings"`
	OrphansAtTheTop     bool                  `json:"orphansAtTheTop"`
	HideOrphansSwimlane bool                  `json:"hideOrphansSwimlane"`
}

func mapBoard(w wireBoard, fetchedAt time.Time) *types.Board {
	b := &types.Board{
		ID:           w.ID,
		Name:         w.Name,
		IsFavorite:   w.Favorite,
		OrphansAtTop: w.OrphansAtTheTop,
		HideOrphans:  w.HideOrphansSwimlane,
		UpdatedAt:    fetchedAt,
	}
	for _, p := range w.Projects {
		if p.ShortName != "" {
			b.Projects = append(b.Projects, p.ShortName)
		}
	}
	for _, s := range w.Sprints {
		sprint := types.Sprint{ID: s.ID, Name: s.Name, Archived: s.Archived}
		if s.Start != nil {
			t := time.UnixMilli(*s.Start).UTC()
			sprint.Start = &t
		}
		if s.Finish != nil {
			t := time.UnixMilli(*s.Finish).UTC()
			sprint.Finish = &t
		}
		b.Sprints = append(b.Sprints, sprint)
	}
	if w.CurrentSprint != nil {
		b.CurrentSprintID = w.CurrentSprint.ID
	}
	if cs := w.ColumnSettings; cs != nil {
		if cs.Field != nil {
			b.ColumnFieldName = cs.Field.Name
		}
		for _, col := range cs.Columns {
			column := types.BoardColumn{Name: col.Presentation, Collapsed: col.Collapsed}
			for _, fv := range col.FieldValues {
				column.FieldValues = append(column.FieldValues, fv.Name)
			}
			if column.Name == "" && len(column.FieldValues) > 0 {
				column.Name = column.FieldValues[0]
			}
			b.Columns = append(b.Columns, column)
		}
	}
	if sw := w.SwimlaneSettings; sw != nil && sw.Field != nil && sw.Field.Name != "" {
		lane := &types.Swimlane{FieldName: sw.Field.Name}
		for _, v := range sw.Values {
			lane.Values = append(lane.Values, v.Name)
		}
		b.Swimlane = lane
	}
	return b
}

type wireFieldUpdate struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

type wireUpdate struct {
	Summary      *string           `json:"summary,omitempty"`
	Tags         []wireTag         `json:"tags,omitempty"`
	CustomFields []wireFieldUpdate `json:"customFields,omitempty"`
}

// buildUpdate renders a patch as the tracker's update body. The title maps
// to summary, tags to the tag list, and everything else to customFields
// with the wire spelling of well-known names. Empty values clear the field
// with an explicit null.
func buildUpdate(patch types.IssuePatch) wireUpdate {
	var body wireUpdate
	for _, c := range patch.Changes {
		switch {
		case c.Kind == types.FieldKindString && c.Field == types.FieldTitle:
			title := c.Value
			body.Summary = &title
		case c.Kind == types.FieldKindTags:
			body.Tags = make([]wireTag, 0, len(c.Values))
			for _, tag := range c.Values {
				body.Tags = append(body.Tags, wireTag{Name: tag})
			}
		case c.Kind == types.FieldKindUser:
			var value interface{}
			if c.Value != "" {
				value = wireUser{Login: c.Value}
			}
			body.CustomFields = append(body.CustomFields,
				wireFieldUpdate{Name: wireName(c.Field), Value: value})
		case c.Kind == types.FieldKindCustom:
			vals := make([]wireNamed, 0, len(c.Values))
			for _, v := range c.Values {
				vals = append(vals, wireNamed{Name: v})
			}
			body.CustomFields = append(body.CustomFields,
				wireFieldUpdate{Name: wireName(c.Field), Value: vals})
		default:
			var value interface{}
			if c.Value != "" {
				value = wireNamed{Name: c.Value}
			}
			body.CustomFields = append(body.CustomFields,
				wireFieldUpdate{Name: wireName(c.Field), Value: value})
		}
	}
	return body
}

// wireName translates a domain field name to the tracker's spelling.
func wireName(field string) string {
	if field == types.FieldStatus {
		return wireFieldState
	}
	return field
}
