package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"legalagenda/internal/dates"
	"legalagenda/internal/model"
)

var saoPaulo = mustLoad("America/Sao_Paulo")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("BRT", -3*3600)
	}
	return loc
}

func openTest(t *testing.T) *Store {
	t.Helper()
	fixed := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "agenda.db"), Options{
		Location: saoPaulo,
		Now:      func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedRule(t *testing.T, st *Store) (model.RecurrenceRule, model.Task) {
	t.Helper()
	ctx := context.Background()
	deadline := dates.New(2024, 1, 3)
	tmpl, err := st.InsertTask(ctx, model.Task{
		OfficeID:      "office-1",
		Title:         "Weekly review",
		Start:         time.Date(2024, 1, 1, 9, 0, 0, 0, saoPaulo),
		FixedDeadline: &deadline,
	})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	rule, err := st.InsertRule(ctx, model.RecurrenceRule{
		OfficeID:   "office-1",
		EntityKind: model.KindTask,
		TemplateID: tmpl.ID,
		Frequency:  model.FrequencyWeekly,
		Anchor:     dates.New(2024, 1, 1),
	})
	if err != nil {
		t.Fatalf("InsertRule: %v", err)
	}
	if err := st.LinkTaskToRule(ctx, tmpl.ID, rule.ID, rule.Anchor); err != nil {
		t.Fatalf("LinkTaskToRule: %v", err)
	}
	return rule, tmpl
}

func TestTaskRoundTrip(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	_, tmpl := seedRule(t, st)
	got, err := st.GetTask(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !got.Start.Equal(tmpl.Start) {
		t.Fatalf("start = %v, want %v", got.Start, tmpl.Start)
	}
	if got.Start.Location() != saoPaulo {
		t.Fatalf("start location = %v, want %v", got.Start.Location(), saoPaulo)
	}
	if got.FixedDeadline == nil || got.FixedDeadline.String() != "2024-01-03" {
		t.Fatalf("deadline = %v", got.FixedDeadline)
	}
	if got.Status != model.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if got.SourceDate == nil || got.SourceDate.String() != "2024-01-01" {
		t.Fatalf("source date = %v", got.SourceDate)
	}

	if _, err := st.GetTask(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetTask(missing) err = %v, want ErrNotFound", err)
	}
}

func TestInsertTaskOccurrenceIsIdempotent(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	rule, tmpl := seedRule(t, st)

	d := dates.New(2024, 1, 8)
	occ := tmpl
	occ.ID = ""
	occ.RecurrenceID = rule.ID
	occ.SourceDate = &d
	occ.Start = d.At(9, 0, 0, 0, saoPaulo)

	first, deleted, err := st.InsertTaskOccurrence(ctx, occ)
	if err != nil || deleted {
		t.Fatalf("first insert: id=%q deleted=%v err=%v", first, deleted, err)
	}
	second, _, err := st.InsertTaskOccurrence(ctx, occ)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if first != second {
		t.Fatalf("ids differ: %q vs %q", first, second)
	}

	tasks, err := st.ListTasks(ctx, "office-1", d, d)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d rows on %s, want 1", len(tasks), d)
	}
}

func TestConcurrentOccurrenceInsertsConverge(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	rule, tmpl := seedRule(t, st)
	d := dates.New(2024, 1, 15)

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			occ := tmpl
			occ.ID = ""
			occ.RecurrenceID = rule.ID
			occ.SourceDate = &d
			occ.Start = d.At(9, 0, 0, 0, saoPaulo)
			ids[i], _, errs[i] = st.InsertTaskOccurrence(ctx, occ)
		}()
	}
	wg.Wait()

	for i := range workers {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got %q, worker 0 got %q", i, ids[i], ids[0])
		}
	}
}

func TestTombstoneKeepsOccurrenceDate(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	rule, tmpl := seedRule(t, st)

	if err := st.TombstoneTask(ctx, tmpl.ID); err != nil {
		t.Fatalf("TombstoneTask: %v", err)
	}
	if _, err := st.GetTask(ctx, tmpl.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetTask after tombstone err = %v", err)
	}

	taken, err := st.OccurrenceDates(ctx, "office-1", dates.New(2024, 1, 1), dates.New(2024, 1, 31))
	if err != nil {
		t.Fatalf("OccurrenceDates: %v", err)
	}
	if !taken[OccurrenceKey{RecurrenceID: rule.ID, Date: rule.Anchor}] {
		t.Fatalf("tombstoned date missing from %v", taken)
	}

	id, deleted, found, err := st.FindOccurrence(ctx, model.KindTask, rule.ID, rule.Anchor)
	if err != nil || !found || !deleted || id != tmpl.ID {
		t.Fatalf("FindOccurrence = (%q, %v, %v, %v)", id, deleted, found, err)
	}
}

func TestDeactivateRuleIsTerminal(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	rule, _ := seedRule(t, st)

	if err := st.DeactivateRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeactivateRule: %v", err)
	}
	if err := st.DeactivateRule(ctx, rule.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second DeactivateRule err = %v, want ErrNotFound", err)
	}
	got, err := st.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Active || got.DeactivatedAt == nil {
		t.Fatalf("rule still active: %+v", got)
	}
	active, err := st.ListActiveRules(ctx, "office-1")
	if err != nil {
		t.Fatalf("ListActiveRules: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active rules = %d, want 0", len(active))
	}
}

func TestInTxRollsBack(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	_, tmpl := seedRule(t, st)

	boom := errors.New("boom")
	err := st.InTx(ctx, func(q *Queries) error {
		if err := q.SetTaskStatus(ctx, tmpl.ID, model.StatusCompleted, nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v, want boom", err)
	}
	got, err := st.GetTask(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Fatalf("status = %q after rollback, want pending", got.Status)
	}
}

func TestTimerAndTimesheet(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	_, tmpl := seedRule(t, st)

	started := time.Date(2024, 1, 5, 9, 0, 0, 0, saoPaulo)
	tm, err := st.InsertTimer(ctx, model.Timer{
		OfficeID:  "office-1",
		UserID:    "user-1",
		TaskID:    tmpl.ID,
		Status:    model.TimerRunning,
		StartedAt: started,
		ResumedAt: &started,
	})
	if err != nil {
		t.Fatalf("InsertTimer: %v", err)
	}

	active, err := st.ActiveTimerForTask(ctx, tmpl.ID)
	if err != nil || active == nil || active.ID != tm.ID {
		t.Fatalf("ActiveTimerForTask = %v, %v", active, err)
	}

	ended := started.Add(90 * time.Minute)
	tm.Status = model.TimerFinalized
	tm.Accumulated = 90 * time.Minute
	tm.ResumedAt = nil
	tm.EndedAt = &ended
	if err := st.UpdateTimer(ctx, tm); err != nil {
		t.Fatalf("UpdateTimer: %v", err)
	}
	if err := st.UpdateTimer(ctx, tm); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("updating an ended timer err = %v, want ErrNotFound", err)
	}
	if active, _ := st.ActiveTimerForTask(ctx, tmpl.ID); active != nil {
		t.Fatalf("ended timer still active: %+v", active)
	}

	entry := model.TimesheetEntry{
		OfficeID: "office-1", UserID: "user-1", TaskID: tmpl.ID, TimerID: tm.ID,
		WorkDate: dates.New(2024, 1, 5), Minutes: 90, Billable: true,
	}
	if _, err := st.InsertTimesheetEntry(ctx, entry); err != nil {
		t.Fatalf("InsertTimesheetEntry: %v", err)
	}
	if _, err := st.InsertTimesheetEntry(ctx, entry); !errors.Is(err, model.ErrPersistence) {
		t.Fatalf("second entry for one timer err = %v, want ErrPersistence", err)
	}
	entries, err := st.ListTimesheetEntries(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("ListTimesheetEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Minutes != 90 || !entries[0].Billable {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestHearingUpsertKeepsLocalStatus(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	h := model.Hearing{
		OfficeID:    "office-1",
		Title:       "Audiência de instrução",
		At:          time.Date(2024, 2, 1, 14, 0, 0, 0, saoPaulo),
		ExternalUID: "trt2-123@court",
	}
	created, err := st.UpsertHearingByUID(ctx, h)
	if err != nil || !created {
		t.Fatalf("first upsert = %v, %v", created, err)
	}
	list, err := st.ListHearings(ctx, "office-1", dates.New(2024, 2, 1), dates.New(2024, 2, 1))
	if err != nil || len(list) != 1 {
		t.Fatalf("ListHearings = %v, %v", list, err)
	}
	if err := st.SetHearingStatus(ctx, list[0].ID, model.StatusHeld); err != nil {
		t.Fatalf("SetHearingStatus: %v", err)
	}

	h.Location = "Sala 3"
	created, err = st.UpsertHearingByUID(ctx, h)
	if err != nil || created {
		t.Fatalf("second upsert = %v, %v", created, err)
	}
	got, err := st.GetHearing(ctx, list[0].ID)
	if err != nil {
		t.Fatalf("GetHearing: %v", err)
	}
	if got.Status != model.StatusHeld || got.Location != "Sala 3" {
		t.Fatalf("hearing after resync = %+v", got)
	}
}

func TestComputeDeadline(t *testing.T) {
	cases := []struct {
		name       string
		intimation dates.Date
		days       int
		business   bool
		want       string
	}{
		// 2024-01-05 is a Friday.
		{"business skips weekend", dates.New(2024, 1, 5), 5, true, "2024-01-12"},
		{"business one day over weekend", dates.New(2024, 1, 5), 1, true, "2024-01-08"},
		{"calendar lands on weekday", dates.New(2024, 1, 5), 5, false, "2024-01-10"},
		{"calendar weekend pushed to monday", dates.New(2024, 1, 5), 1, false, "2024-01-08"},
		{"zero days on weekday", dates.New(2024, 1, 3), 0, false, "2024-01-03"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputeDeadline(tc.intimation, tc.days, tc.business).String(); got != tc.want {
				t.Fatalf("ComputeDeadline = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCalculateDeadlineRunsInDatabase(t *testing.T) {
	st := openTest(t)
	got, err := st.CalculateDeadline(context.Background(), dates.New(2024, 1, 5), 15, true)
	if err != nil {
		t.Fatalf("CalculateDeadline: %v", err)
	}
	if got.String() != "2024-01-26" {
		t.Fatalf("CalculateDeadline = %s, want 2024-01-26", got)
	}
}

func TestCalculateDeadlineBoundsTheTerm(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	start := dates.New(2024, 1, 1)

	if _, err := st.CalculateDeadline(ctx, start, MaxDeadlineDays, true); err != nil {
		t.Fatalf("term at the bound: %v", err)
	}
	for _, days := range []int{-1, MaxDeadlineDays + 1, 20_000_000} {
		_, err := st.CalculateDeadline(ctx, start, days, true)
		if !errors.Is(err, ErrDeadlineTerm) {
			t.Fatalf("days=%d: err = %v, want ErrDeadlineTerm", days, err)
		}
		if errors.Is(err, model.ErrPersistence) {
			t.Fatalf("days=%d reported as a persistence failure", days)
		}
	}

	// The SQL function applies the same bound to direct callers.
	var out any
	err := st.db.QueryRowContext(ctx, `SELECT calcular_prazo('2024-01-01', ?, 1)`, MaxDeadlineDays+1).Scan(&out)
	if err == nil || !strings.Contains(err.Error(), ErrDeadlineTerm.Error()) {
		t.Fatalf("calcular_prazo past the bound: out=%v err=%v", out, err)
	}
}
