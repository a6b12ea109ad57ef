package agenda

import (
	"encoding/json"
	"errors"
	"slices"

	"legalagenda/internal/dates"
	"legalagenda/internal/model"
)

// Query is the complete, serializable description of an agenda view. Nothing
// about the view lives outside it.
type Query struct {
	Scope model.Scope `json:"scope"`

	// From and To bound the window (inclusive). When Day is set the window
	// collapses to that day and the selected-day ordering applies.
	From dates.Date  `json:"from"`
	To   dates.Date  `json:"to"`
	Day  *dates.Date `json:"day,omitempty"`

	// Categories filters by hearing, deadline, task or event. A category
	// also matches its kind, so "event" includes procedural deadlines.
	Categories []string       `json:"categories,omitempty"`
	Statuses   []model.Status `json:"statuses,omitempty"`

	// Overdue also reaches back before From: any unfinished row that started
	// earlier is considered. Virtual occurrences stay within the window.
	Overdue  bool `json:"overdue,omitempty"`
	DueToday bool `json:"due_today,omitempty"`

	// IncludeVirtual adds unmaterialized occurrences of active rules.
	IncludeVirtual bool `json:"include_virtual"`
}

// Normalize returns q with Day applied to the window and filter lists sorted,
// so that equal views produce equal keys.
func (q Query) Normalize() Query {
	if q.Day != nil {
		d := *q.Day
		q.Day = &d
		q.From, q.To = d, d
	}
	if len(q.Categories) > 0 {
		q.Categories = slices.Clone(q.Categories)
		slices.Sort(q.Categories)
		q.Categories = slices.Compact(q.Categories)
	}
	if len(q.Statuses) > 0 {
		q.Statuses = slices.Clone(q.Statuses)
		slices.Sort(q.Statuses)
		q.Statuses = slices.Compact(q.Statuses)
	}
	return q
}

func (q Query) Validate() error {
	if q.Scope.OfficeID == "" {
		return errors.New("agenda: query needs an office id")
	}
	if q.From.IsZero() || q.To.IsZero() {
		return errors.New("agenda: query needs a window")
	}
	if q.To.Before(q.From) {
		return errors.New("agenda: window end is before window start")
	}
	return nil
}

// Key is a stable cache key for the normalized query.
func (q Query) Key() string {
	b, err := json.Marshal(q.Normalize())
	if err != nil {
		// Every field is plain data; Marshal cannot fail here.
		panic(err)
	}
	return string(b)
}

func (q Query) wantsCategory(item model.AgendaItem) bool {
	if len(q.Categories) == 0 {
		return true
	}
	return slices.Contains(q.Categories, item.Category()) || slices.Contains(q.Categories, string(item.Kind))
}

func (q Query) wantsStatus(s model.Status) bool {
	return len(q.Statuses) == 0 || slices.Contains(q.Statuses, s)
}
