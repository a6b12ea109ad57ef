package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"legalagenda/internal/dates"
	"legalagenda/internal/model"
)

var loc = time.FixedZone("BRT", -3*3600)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(strings.TrimLeft(s, "\n"), "\n", "\r\n"))
}

var courtFeed = crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//TRT2//Pauta//PT
BEGIN:VEVENT
UID:hearing-1@trt2
DTSTAMP:20240101T000000Z
DTSTART:20240115T130000Z
SUMMARY:Instruction hearing
LOCATION:Room 3
DESCRIPTION:Case 0001234-56.2023.5.02.0001 first session
END:VEVENT
BEGIN:VEVENT
UID:hearing-2@trt2
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240116
SUMMARY:Conciliation
STATUS:CANCELLED
X-CASE-NUMBER:1111111-22.2024.5.02.0002
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20240101T000000Z
DTSTART:20240117T130000Z
SUMMARY:No uid
END:VEVENT
END:VCALENDAR
`)

func TestParseHearings(t *testing.T) {
	hs, err := ParseHearings(Feed{ID: "trt2"}, courtFeed, loc)
	if err != nil {
		t.Fatalf("ParseHearings: %v", err)
	}
	if len(hs) != 2 {
		t.Fatalf("got %d hearings, want 2 (event without uid skipped)", len(hs))
	}

	first := hs[0]
	if first.ExternalUID != "hearing-1@trt2" || first.FeedID != "trt2" {
		t.Fatalf("first = %+v", first)
	}
	if want := time.Date(2024, 1, 15, 10, 0, 0, 0, loc); !first.At.Equal(want) {
		t.Fatalf("At = %v, want %v", first.At, want)
	}
	if first.CaseNumber != "0001234-56.2023.5.02.0001" {
		t.Fatalf("case number scraped = %q", first.CaseNumber)
	}
	if first.Status != model.StatusScheduled || first.Location != "Room 3" {
		t.Fatalf("first = %+v", first)
	}

	second := hs[1]
	if second.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", second.Status)
	}
	if second.CaseNumber != "1111111-22.2024.5.02.0002" {
		t.Fatalf("case number = %q", second.CaseNumber)
	}
	if want := time.Date(2024, 1, 16, 0, 0, 0, 0, loc); !second.At.Equal(want) {
		t.Fatalf("all-day At = %v, want %v", second.At, want)
	}
}

func TestParseHearingsRejectsEmptyBody(t *testing.T) {
	if _, err := ParseHearings(Feed{ID: "x"}, nil, loc); err == nil {
		t.Fatal("empty body accepted")
	}
}

func TestFetchUsesValidatorsAndCache(t *testing.T) {
	var hits, conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(courtFeed)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	feed := Feed{ID: "trt2", URL: srv.URL + "/pauta.ics?token=secret"}
	ctx := context.Background()

	first, err := f.Fetch(ctx, feed)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.FromCache || len(first.Body) == 0 {
		t.Fatalf("first fetch FromCache=%v len=%d", first.FromCache, len(first.Body))
	}

	second, err := f.Fetch(ctx, feed)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.FromCache || string(second.Body) != string(first.Body) {
		t.Fatal("304 did not reuse the cached body")
	}
	if conditional.Load() != 1 {
		t.Fatalf("conditional requests = %d, want 1", conditional.Load())
	}

	// Source goes away: the cached body still serves.
	srv.Close()
	third, err := f.Fetch(ctx, feed)
	if err != nil {
		t.Fatalf("fetch with server down: %v", err)
	}
	if !third.FromCache {
		t.Fatal("network failure did not fall back to cache")
	}
}

func TestFetchErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	results, errs := f.FetchAll(context.Background(), []Feed{{ID: "a", URL: srv.URL}, {ID: "b"}})
	if len(results) != 0 || len(errs) != 2 {
		t.Fatalf("results=%d errs=%d", len(results), len(errs))
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://pje.example.jus.br/feeds/private.ics?token=abcd")
	if got != "https://pje.example.jus.br/...(redacted)" {
		t.Fatalf("redactURL = %q", got)
	}
	if strings.Contains(redactURL("not a url"), "not a url") {
		t.Fatal("unparseable url leaked")
	}
}

type memorySink struct {
	office string
	got    []model.Hearing
	err    error
}

func (m *memorySink) UpsertHearings(_ context.Context, officeID string, hs []model.Hearing) (int, int, error) {
	if m.err != nil {
		return 0, 0, m.err
	}
	m.office = officeID
	m.got = append(m.got, hs...)
	return len(hs), 0, nil
}

func TestSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.ics" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(courtFeed)
	}))
	defer srv.Close()

	sink := &memorySink{}
	s := NewSyncer(NewFetcher(t.TempDir(), srv.Client()), sink, loc)
	rep, err := s.Sync(context.Background(), "office-1", []Feed{
		{ID: "trt2", URL: srv.URL + "/trt2.ics"},
		{ID: "broken", URL: srv.URL + "/broken.ics"},
	})
	if err == nil {
		t.Fatal("broken feed error not reported")
	}
	if rep.Created != 2 || rep.Failed != 1 || rep.Feeds != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if sink.office != "office-1" || len(sink.got) != 2 {
		t.Fatalf("sink = %+v", sink)
	}

	sink.err = errors.New("disk full")
	rep, err = s.Sync(context.Background(), "office-1", []Feed{{ID: "trt2", URL: srv.URL + "/trt2.ics"}})
	if err == nil || rep.Failed != 1 {
		t.Fatalf("sink failure: rep=%+v err=%v", rep, err)
	}
}

func TestExport(t *testing.T) {
	deadline := dates.New(2024, 1, 12)
	end := time.Date(2024, 1, 10, 11, 0, 0, 0, loc)
	items := []model.AgendaItem{
		{ID: "task-1", Kind: model.KindTask, Title: "File appeal", Start: time.Date(2024, 1, 10, 9, 0, 0, 0, loc),
			FixedDeadline: &deadline, Status: model.StatusPending, CaseNumber: "0001234-56.2023.5.02.0001"},
		{ID: "ev-1", Kind: model.KindEvent, Subtype: model.SubtypeProceduralDeadline, Title: "Reply due",
			Start: time.Date(2024, 1, 11, 0, 0, 0, 0, loc), AllDay: true, Status: model.StatusScheduled},
		{ID: "h-1", Kind: model.KindHearing, Title: "Hearing", Start: time.Date(2024, 1, 10, 10, 0, 0, 0, loc),
			End: &end, Status: model.StatusCancelled},
	}
	out := Export("Office agenda", items, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), loc)

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatalf("exported calendar does not parse: %v", err)
	}
	events := cal.Events()
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}

	byUID := map[string]*ical.VEvent{}
	for _, ev := range events {
		byUID[ev.Id()] = ev
	}
	if got := propValue(byUID["ev-1"], ical.ComponentPropertyCategories); got != "DEADLINE" {
		t.Fatalf("category = %q, want DEADLINE", got)
	}
	dtstart := byUID["ev-1"].GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil || strings.Contains(dtstart.Value, "T") {
		t.Fatalf("all-day DTSTART = %+v, want a DATE value", dtstart)
	}
	if got := propValue(byUID["task-1"], PropertyCaseNumber); got != "0001234-56.2023.5.02.0001" {
		t.Fatalf("case number = %q", got)
	}
	if !strings.Contains(propValue(byUID["task-1"], ical.ComponentPropertyDescription), "2024-01-12") {
		t.Fatal("deadline missing from description")
	}
	if got := propValue(byUID["h-1"], ical.ComponentPropertyStatus); got != string(ical.ObjectStatusCancelled) {
		t.Fatalf("status = %q", got)
	}
}
