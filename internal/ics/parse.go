package ics

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
)

// PropertyCaseNumber carries the case number on exported and imported
// VEVENTs. Feeds without it get the number scraped from the description.
const PropertyCaseNumber = "X-CASE-NUMBER"

// cnjNumber matches the unified Brazilian case number format
// NNNNNNN-DD.AAAA.J.TR.OOOO.
var cnjNumber = regexp.MustCompile(`\d{7}-\d{2}\.\d{4}\.\d\.\d{2}\.\d{4}`)

// ParseHearings maps the VEVENTs of a court feed to hearings. Each hearing is
// keyed by its UID (plus RECURRENCE-ID for overridden instances) so repeated
// imports update instead of duplicating. Events that cannot be read are
// logged and skipped.
func ParseHearings(feed Feed, body []byte, loc *time.Location) ([]model.Hearing, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("hearing feed parse failed", err, "feed", feed.ID, "url", redactURL(feed.URL))
		return nil, err
	}

	out := make([]model.Hearing, 0)
	for _, ve := range cal.Events() {
		h, err := parseHearing(feed, ve, loc)
		if err != nil {
			appLog.Warn("hearing vevent skipped", "feed", feed.ID, "reason", err.Error())
			continue
		}
		out = append(out, h)
	}
	appLog.Info("hearing feed parsed", "feed", feed.ID, "hearings", len(out))
	return out, nil
}

func parseHearing(feed Feed, ve *ical.VEvent, loc *time.Location) (model.Hearing, error) {
	h := model.Hearing{FeedID: feed.ID, Status: model.StatusScheduled}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return h, errors.New("missing UID")
	}
	h.ExternalUID = uid.Value
	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil && rid.Value != "" {
		h.ExternalUID += "#" + rid.Value
	}

	h.Title = propValue(ve, ical.ComponentPropertySummary)
	if h.Title == "" {
		h.Title = "Hearing"
	}
	h.Location = propValue(ve, ical.ComponentPropertyLocation)
	h.CaseNumber = propValue(ve, PropertyCaseNumber)
	if h.CaseNumber == "" {
		h.CaseNumber = cnjNumber.FindString(propValue(ve, ical.ComponentPropertyDescription))
	}
	if strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), string(ical.ObjectStatusCancelled)) {
		h.Status = model.StatusCancelled
	}

	at, err := startOf(ve, loc)
	if err != nil {
		return h, fmt.Errorf("uid %s: %w", h.ExternalUID, err)
	}
	h.At = at

	if ve.GetProperty(ical.ComponentPropertyRrule) != nil {
		// Hearings are single sessions; only the first instance is kept.
		appLog.Warn("recurring hearing imported as single session", "feed", feed.ID, "uid", h.ExternalUID)
	}
	return h, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return strings.TrimSpace(prop.Value)
	}
	return ""
}

// startOf reads DTSTART. All-day values (VALUE=DATE or no time part) become
// midnight in loc; timed values keep their instant.
func startOf(ve *ical.VEvent, loc *time.Location) (time.Time, error) {
	prop := ve.GetProperty(ical.ComponentPropertyDtStart)
	if prop == nil {
		return time.Time{}, errors.New("missing DTSTART")
	}
	allDay := !strings.Contains(prop.Value, "T")
	if vs, ok := prop.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}
	if allDay {
		return time.ParseInLocation("20060102", strings.TrimSpace(prop.Value), loc)
	}
	start, err := ve.GetStartAt()
	if err != nil {
		return time.Time{}, err
	}
	return start.In(loc), nil
}
