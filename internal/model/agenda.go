package model

import (
	"fmt"
	"time"

	"legalagenda/internal/dates"
)

// AgendaItem is the consolidated read model over tasks, hearings and events.
// Virtual items are computed occurrences that have no row yet; their ID is
// the virtual occurrence id.
type AgendaItem struct {
	ID            string      `json:"id"`
	Kind          Kind        `json:"kind"`
	Subtype       Subtype     `json:"subtype,omitempty"`
	Title         string      `json:"title"`
	Start         time.Time   `json:"start"`
	End           *time.Time  `json:"end,omitempty"`
	AllDay        bool        `json:"all_day"`
	Location      string      `json:"location,omitempty"`
	AssigneeName  string      `json:"assignee_name,omitempty"`
	CaseNumber    string      `json:"case_number,omitempty"`
	Status        Status      `json:"status"`
	Priority      Priority    `json:"priority,omitempty"`
	FixedDeadline *dates.Date `json:"fixed_deadline,omitempty"`
	RecurrenceID  string      `json:"recurrence_id,omitempty"`
	SourceDate    *dates.Date `json:"source_date,omitempty"`
	Virtual       bool        `json:"virtual"`
}

// Category returns the display family used for kind priority and type
// filters: hearing, deadline, task or event.
func (a AgendaItem) Category() string {
	if a.Kind == KindEvent && a.Subtype == SubtypeProceduralDeadline {
		return "deadline"
	}
	return string(a.Kind)
}

// CarriesUrgency reports whether urgency is computed for the item (tasks and
// procedural deadlines only).
func (a AgendaItem) CarriesUrgency() bool {
	return a.Kind == KindTask || a.Subtype == SubtypeProceduralDeadline
}

// Validate enforces that only tasks and procedural deadlines carry a fixed deadline.
func (a AgendaItem) Validate() error {
	if a.FixedDeadline != nil && !a.CarriesUrgency() {
		return fmt.Errorf("agenda item %s: fixed deadline not allowed on %s/%s", a.ID, a.Kind, a.Subtype)
	}
	return nil
}

func TaskItem(t Task) AgendaItem {
	return AgendaItem{
		ID:            t.ID,
		Kind:          KindTask,
		Subtype:       t.Subtype,
		Title:         t.Title,
		Start:         t.Start,
		Location:      t.Location,
		AssigneeName:  t.AssigneeName,
		CaseNumber:    t.CaseNumber,
		Status:        t.Status,
		Priority:      t.Priority,
		FixedDeadline: t.FixedDeadline,
		RecurrenceID:  t.RecurrenceID,
		SourceDate:    t.SourceDate,
	}
}

func EventItem(e Event) AgendaItem {
	return AgendaItem{
		ID:           e.ID,
		Kind:         KindEvent,
		Subtype:      e.Subtype,
		Title:        e.Title,
		Start:        e.Start,
		End:          e.End,
		AllDay:       e.AllDay,
		Location:     e.Location,
		AssigneeName: e.AssigneeName,
		CaseNumber:   e.CaseNumber,
		Status:       e.Status,
		Priority:     e.Priority,
		RecurrenceID: e.RecurrenceID,
		SourceDate:   e.SourceDate,
	}
}

func HearingItem(h Hearing) AgendaItem {
	return AgendaItem{
		ID:           h.ID,
		Kind:         KindHearing,
		Title:        h.Title,
		Start:        h.At,
		Location:     h.Location,
		AssigneeName: h.AssigneeName,
		CaseNumber:   h.CaseNumber,
		Status:       h.Status,
	}
}
