// Package agenda consolidates tasks, hearings, events and unmaterialized
// recurrence occurrences into one ordered, filtered list. It is a read-only
// projection and never writes.
package agenda

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"legalagenda/internal/clock"
	"legalagenda/internal/dates"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
	"legalagenda/internal/occurrence"
	"legalagenda/internal/recurrence"
	"legalagenda/internal/store"
)

// Urgency ranks used by the selected-day ordering.
const (
	UrgencyOverdue  = 0
	UrgencyDueToday = 1
	UrgencyNone     = 99
)

// Reader is the slice of the store the consolidator reads from.
// *store.Queries satisfies it.
type Reader interface {
	ListTasks(ctx context.Context, officeID string, from, to dates.Date) ([]model.Task, error)
	ListEvents(ctx context.Context, officeID string, from, to dates.Date) ([]model.Event, error)
	ListHearings(ctx context.Context, officeID string, from, to dates.Date) ([]model.Hearing, error)
	ListOpenTasksBefore(ctx context.Context, officeID string, before dates.Date) ([]model.Task, error)
	ListOpenEventsBefore(ctx context.Context, officeID string, before dates.Date) ([]model.Event, error)
	ListOpenHearingsBefore(ctx context.Context, officeID string, before dates.Date) ([]model.Hearing, error)
	ListActiveRules(ctx context.Context, officeID string) ([]model.RecurrenceRule, error)
	OccurrenceDates(ctx context.Context, officeID string, from, to dates.Date) (map[store.OccurrenceKey]bool, error)
	TaskTemplate(ctx context.Context, id string) (model.Task, error)
	EventTemplate(ctx context.Context, id string) (model.Event, error)
}

type Consolidator struct {
	reader   Reader
	expander *recurrence.Expander
	clock    clock.Clock
	loc      *time.Location
}

func NewConsolidator(r Reader, exp *recurrence.Expander, clk clock.Clock, loc *time.Location) *Consolidator {
	if clk == nil {
		clk = clock.Real()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Consolidator{reader: r, expander: exp, clock: clk, loc: loc}
}

// Entry is an agenda item with its computed urgency.
type Entry struct {
	model.AgendaItem
	Urgency int `json:"urgency"`
}

// List merges persisted rows with virtual occurrences, applies the query's
// filters and orders the result.
func (c *Consolidator) List(ctx context.Context, q Query) ([]Entry, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	office := q.Scope.OfficeID

	tasks, err := c.reader.ListTasks(ctx, office, q.From, q.To)
	if err != nil {
		return nil, err
	}
	events, err := c.reader.ListEvents(ctx, office, q.From, q.To)
	if err != nil {
		return nil, err
	}
	hearings, err := c.reader.ListHearings(ctx, office, q.From, q.To)
	if err != nil {
		return nil, err
	}

	if q.Overdue {
		// Overdue rows usually start before the window; unfinished ones are
		// pulled in from any earlier date.
		earlierTasks, err := c.reader.ListOpenTasksBefore(ctx, office, q.From)
		if err != nil {
			return nil, err
		}
		earlierEvents, err := c.reader.ListOpenEventsBefore(ctx, office, q.From)
		if err != nil {
			return nil, err
		}
		earlierHearings, err := c.reader.ListOpenHearingsBefore(ctx, office, q.From)
		if err != nil {
			return nil, err
		}
		tasks = append(earlierTasks, tasks...)
		events = append(earlierEvents, events...)
		hearings = append(earlierHearings, hearings...)
	}

	items := make([]model.AgendaItem, 0, len(tasks)+len(events)+len(hearings))
	for _, t := range tasks {
		items = append(items, model.TaskItem(t))
	}
	for _, e := range events {
		items = append(items, model.EventItem(e))
	}
	for _, h := range hearings {
		items = append(items, model.HearingItem(h))
	}

	if q.IncludeVirtual {
		virtual, err := c.virtualItems(ctx, office, q.From, q.To)
		if err != nil {
			return nil, err
		}
		items = append(items, virtual...)
	}

	today := dates.OfIn(c.clock.Now(), c.loc)
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		if !q.wantsCategory(it) || !q.wantsStatus(it.Status) {
			continue
		}
		overdue, dueToday := c.classify(it, today)
		if q.Overdue && !overdue {
			continue
		}
		if q.DueToday && !dueToday {
			continue
		}
		u := UrgencyNone
		if it.CarriesUrgency() {
			switch {
			case overdue:
				u = UrgencyOverdue
			case dueToday:
				u = UrgencyDueToday
			}
		}
		out = append(out, Entry{AgendaItem: it, Urgency: u})
	}

	if q.Day != nil {
		slices.SortStableFunc(out, compareSelectedDay)
	} else {
		slices.SortStableFunc(out, compareChronological)
	}
	return out, nil
}

// virtualItems expands every active rule over the window and drops the dates
// that already have a row, tombstoned rows included.
func (c *Consolidator) virtualItems(ctx context.Context, office string, from, to dates.Date) ([]model.AgendaItem, error) {
	rules, err := c.reader.ListActiveRules(ctx, office)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	taken, err := c.reader.OccurrenceDates(ctx, office, from, to)
	if err != nil {
		return nil, err
	}

	w := recurrence.Window{From: from, To: to}
	out := make([]model.AgendaItem, 0)
	for _, rule := range rules {
		seq, err := c.expander.Expand(rule, w)
		if err != nil {
			appLog.Error("agenda: skipping rule", err, "rule_id", rule.ID)
			continue
		}
		project, err := c.projector(ctx, rule)
		if err != nil {
			return nil, err
		}
		if project == nil {
			continue
		}
		for occ := range seq {
			if taken[store.OccurrenceKey{RecurrenceID: occ.RecurrenceID, Date: occ.Date}] {
				continue
			}
			it := project(occ.Date)
			it.ID = occurrence.FormatVirtual(rule.ID, occ.Date)
			it.Virtual = true
			out = append(out, it)
		}
	}
	return out, nil
}

// projector loads the rule's template once and returns a function building
// the item for a date. A rule whose template is gone yields nil.
func (c *Consolidator) projector(ctx context.Context, rule model.RecurrenceRule) (func(dates.Date) model.AgendaItem, error) {
	switch rule.EntityKind {
	case model.KindTask:
		tmpl, err := c.reader.TaskTemplate(ctx, rule.TemplateID)
		if err != nil {
			return nil, templateErr(rule, err)
		}
		return func(d dates.Date) model.AgendaItem {
			return model.TaskItem(occurrence.ProjectTask(tmpl, rule.ID, d, c.loc))
		}, nil
	case model.KindEvent:
		tmpl, err := c.reader.EventTemplate(ctx, rule.TemplateID)
		if err != nil {
			return nil, templateErr(rule, err)
		}
		return func(d dates.Date) model.AgendaItem {
			return model.EventItem(occurrence.ProjectEvent(tmpl, rule.ID, d, c.loc))
		}, nil
	default:
		appLog.Warn("agenda: rule with unsupported kind", "rule_id", rule.ID, "kind", string(rule.EntityKind))
		return nil, nil
	}
}

func templateErr(rule model.RecurrenceRule, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		appLog.Warn("agenda: rule template missing", "rule_id", rule.ID, "template_id", rule.TemplateID)
		return nil
	}
	return fmt.Errorf("agenda: template of rule %s: %w", rule.ID, err)
}

// classify reports whether an unfinished item is overdue or due today. The
// fixed deadline is compared when present, the start day otherwise.
func (c *Consolidator) classify(it model.AgendaItem, today dates.Date) (overdue, dueToday bool) {
	if it.Status.Done() {
		return false, false
	}
	ref := dates.OfIn(it.Start, c.loc)
	if it.FixedDeadline != nil {
		ref = *it.FixedDeadline
	}
	return ref.Before(today), ref == today
}

// KindRank orders categories for the selected-day view.
func KindRank(it model.AgendaItem) int {
	switch it.Category() {
	case "hearing":
		return 0
	case "deadline":
		return 1
	case "task":
		return 2
	default:
		return 3
	}
}

func compareSelectedDay(a, b Entry) int {
	return cmp.Or(
		cmp.Compare(a.Urgency, b.Urgency),
		cmp.Compare(KindRank(a.AgendaItem), KindRank(b.AgendaItem)),
		a.Start.Compare(b.Start),
		cmp.Compare(a.ID, b.ID),
	)
}

func compareChronological(a, b Entry) int {
	return cmp.Or(
		a.Start.Compare(b.Start),
		cmp.Compare(KindRank(a.AgendaItem), KindRank(b.AgendaItem)),
		cmp.Compare(a.ID, b.ID),
	)
}
