package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"legalagenda/internal/model"
)

const productID = "-//legalagenda//agenda export//EN"

// Export serializes agenda items as a VCALENDAR. All-day items are written
// as DATE values; every event carries its category (hearing, deadline, task
// or event). Virtual occurrences are included with their virtual id as UID.
func Export(name string, items []model.AgendaItem, stamp time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	cal.SetXWRTimezone(loc.String())

	for _, it := range items {
		ev := cal.AddEvent(it.ID)
		ev.SetDtStampTime(stamp.UTC())
		ev.SetSummary(it.Title)
		if it.Location != "" {
			ev.SetLocation(it.Location)
		}
		if it.CaseNumber != "" {
			ev.AddProperty(PropertyCaseNumber, it.CaseNumber)
		}
		ev.AddProperty(ical.ComponentPropertyCategories, strings.ToUpper(it.Category()))
		if desc := describe(it); desc != "" {
			ev.SetDescription(desc)
		}

		start := it.Start.In(loc)
		if it.AllDay {
			ev.SetAllDayStartAt(start)
			end := start.AddDate(0, 0, 1)
			if it.End != nil && it.End.After(it.Start) {
				end = it.End.In(loc)
			}
			ev.SetAllDayEndAt(end)
		} else {
			ev.SetStartAt(start)
			if it.End != nil {
				ev.SetEndAt(it.End.In(loc))
			}
		}

		switch it.Status {
		case model.StatusCancelled:
			ev.SetStatus(ical.ObjectStatusCancelled)
		default:
			ev.SetStatus(ical.ObjectStatusConfirmed)
		}
	}
	return cal.Serialize()
}

func describe(it model.AgendaItem) string {
	var lines []string
	if it.FixedDeadline != nil {
		lines = append(lines, "Deadline: "+it.FixedDeadline.String())
	}
	if it.AssigneeName != "" {
		lines = append(lines, "Assignee: "+it.AssigneeName)
	}
	if it.Status != "" {
		lines = append(lines, "Status: "+string(it.Status))
	}
	return strings.Join(lines, "\n")
}
