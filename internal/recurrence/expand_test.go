package recurrence

import (
	"testing"
	"time"

	"legalagenda/internal/dates"
	"legalagenda/internal/model"
)

func weeklyRule() model.RecurrenceRule {
	return model.RecurrenceRule{
		ID:         "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
		EntityKind: model.KindTask,
		Frequency:  model.FrequencyWeekly,
		Interval:   1,
		Anchor:     dates.New(2024, time.January, 1),
		Active:     true,
	}
}

func collect(t *testing.T, e *Expander, rule model.RecurrenceRule, w Window) []dates.Date {
	t.Helper()
	seq, err := e.Expand(rule, w)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	var out []dates.Date
	for occ := range seq {
		if occ.RecurrenceID != rule.ID {
			t.Fatalf("occurrence carries rule %q", occ.RecurrenceID)
		}
		out = append(out, occ.Date)
	}
	return out
}

func TestExpandWeeklyWithinWindow(t *testing.T) {
	e := NewExpander(time.UTC, 0)
	got := collect(t, e, weeklyRule(), Window{From: dates.New(2024, 1, 10), To: dates.New(2024, 1, 31)})
	want := []dates.Date{dates.New(2024, 1, 15), dates.New(2024, 1, 22), dates.New(2024, 1, 29)}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestExpandIsRestartable(t *testing.T) {
	e := NewExpander(time.UTC, 0)
	seq, err := e.Expand(weeklyRule(), Window{From: dates.New(2024, 1, 1), To: dates.New(2024, 3, 1)})
	if err != nil {
		t.Fatal(err)
	}
	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	first, second := count(), count()
	if first == 0 || first != second {
		t.Fatalf("restart produced %d then %d occurrences", first, second)
	}
}

func TestExpandStopsEarly(t *testing.T) {
	e := NewExpander(time.UTC, 0)
	rule := weeklyRule()
	rule.Frequency = model.FrequencyDaily
	seq, err := e.Expand(rule, Window{From: dates.New(2024, 1, 1), To: dates.New(2030, 1, 1)})
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Fatalf("n = %d", n)
	}
}

func TestExpandRespectsUntil(t *testing.T) {
	e := NewExpander(time.UTC, 0)
	rule := weeklyRule()
	until := dates.New(2024, 1, 15)
	rule.Until = &until
	got := collect(t, e, rule, Window{From: dates.New(2024, 1, 1), To: dates.New(2024, 12, 31)})
	if len(got) != 3 || got[2] != until {
		t.Fatalf("got %v", got)
	}
}

func TestExpandInactiveRuleYieldsNothing(t *testing.T) {
	e := NewExpander(time.UTC, 0)
	rule := weeklyRule()
	rule.Active = false
	if got := collect(t, e, rule, Window{From: dates.New(2024, 1, 1), To: dates.New(2030, 1, 1)}); len(got) != 0 {
		t.Fatalf("deactivated rule produced %v", got)
	}
}

func TestExpandCap(t *testing.T) {
	e := NewExpander(time.UTC, 5)
	rule := weeklyRule()
	rule.Frequency = model.FrequencyDaily
	got := collect(t, e, rule, Window{From: dates.New(2024, 1, 1), To: dates.New(2024, 12, 31)})
	if len(got) != 5 {
		t.Fatalf("cap not applied: %d", len(got))
	}
}

func TestExpandInLocation(t *testing.T) {
	sp, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	e := NewExpander(sp, 0)
	rule := weeklyRule()
	rule.Frequency = model.FrequencyMonthly
	rule.Anchor = dates.New(2024, 1, 31)
	got := collect(t, e, rule, Window{From: dates.New(2024, 1, 1), To: dates.New(2024, 5, 31)})
	// Months without a 31st are skipped.
	want := []dates.Date{dates.New(2024, 1, 31), dates.New(2024, 3, 31), dates.New(2024, 5, 31)}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestOccurs(t *testing.T) {
	e := NewExpander(time.UTC, 0)
	ok, err := e.Occurs(weeklyRule(), dates.New(2024, 1, 8))
	if err != nil || !ok {
		t.Fatalf("Occurs(Jan 8) = %v, %v", ok, err)
	}
	ok, err = e.Occurs(weeklyRule(), dates.New(2024, 1, 9))
	if err != nil || ok {
		t.Fatalf("Occurs(Jan 9) = %v, %v", ok, err)
	}
}

func TestCollectOrdersAcrossRules(t *testing.T) {
	e := NewExpander(time.UTC, 0)
	a := weeklyRule()
	b := weeklyRule()
	b.ID = "1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed"
	b.Anchor = dates.New(2024, 1, 3)
	occ, err := e.Collect([]model.RecurrenceRule{a, b}, Window{From: dates.New(2024, 1, 1), To: dates.New(2024, 1, 14)})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(occ); i++ {
		if occ[i].Date.Before(occ[i-1].Date) {
			t.Fatalf("not ordered: %v", occ)
		}
	}
	if len(occ) != 4 {
		t.Fatalf("expected 4 occurrences, got %d", len(occ))
	}
}

func TestValidateRule(t *testing.T) {
	rule := weeklyRule()
	if err := ValidateRule(rule); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}
	rule.Frequency = "hourly"
	if err := ValidateRule(rule); err == nil {
		t.Fatal("unsupported frequency accepted")
	}
	rule = weeklyRule()
	rule.EntityKind = model.KindHearing
	if err := ValidateRule(rule); err == nil {
		t.Fatal("hearing rule accepted")
	}
}
