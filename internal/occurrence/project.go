package occurrence

import (
	"time"

	"legalagenda/internal/dates"
	"legalagenda/internal/model"
)

// ProjectTask builds the occurrence of a recurring task template on date d:
// same time-of-day, the fixed deadline keeps its distance from the start, and
// the copy starts pending with no completion stamp. ID is left empty.
func ProjectTask(tmpl model.Task, ruleID string, d dates.Date, loc *time.Location) model.Task {
	out := tmpl
	out.ID = ""
	out.Status = model.StatusPending
	out.CompletedAt = nil
	out.DeletedAt = nil
	out.RecurrenceID = ruleID
	src := d
	out.SourceDate = &src

	start := tmpl.Start.In(loc)
	out.Start = d.At(start.Hour(), start.Minute(), start.Second(), 0, loc)

	if tmpl.FixedDeadline != nil {
		lead := dates.DaysBetween(dates.Of(start), *tmpl.FixedDeadline)
		deadline := d.AddDays(lead)
		out.FixedDeadline = &deadline
	}
	return out
}

// ProjectEvent builds the occurrence of a recurring event template on date d,
// preserving its duration.
func ProjectEvent(tmpl model.Event, ruleID string, d dates.Date, loc *time.Location) model.Event {
	out := tmpl
	out.ID = ""
	if out.Status == "" || out.Status.Done() {
		out.Status = model.StatusScheduled
	}
	out.DeletedAt = nil
	out.RecurrenceID = ruleID
	src := d
	out.SourceDate = &src

	start := tmpl.Start.In(loc)
	out.Start = d.At(start.Hour(), start.Minute(), start.Second(), 0, loc)
	if tmpl.End != nil {
		end := out.Start.Add(tmpl.End.Sub(tmpl.Start))
		out.End = &end
	}
	return out
}
