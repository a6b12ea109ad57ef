package cache

import (
	"errors"
	"testing"
	"time"

	"legalagenda/internal/clock"
)

func TestReadThroughAndTTL(t *testing.T) {
	clk := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(time.Minute, clk)

	loads := 0
	load := func() (string, error) {
		loads++
		return "row", nil
	}
	for range 3 {
		if v, err := Entity(c, "task-1", load); err != nil || v != "row" {
			t.Fatalf("Entity = %q, %v", v, err)
		}
	}
	if loads != 1 {
		t.Fatalf("loads = %d, want 1", loads)
	}

	clk.Advance(2 * time.Minute)
	if _, err := Entity(c, "task-1", load); err != nil {
		t.Fatal(err)
	}
	if loads != 2 {
		t.Fatalf("loads after expiry = %d, want 2", loads)
	}
}

func TestInvalidateDropsBothReadModels(t *testing.T) {
	c := New(time.Hour, nil)
	if _, err := Entity(c, "task-1", func() (int, error) { return 1, nil }); err != nil {
		t.Fatal(err)
	}
	if _, err := Entity(c, "task-2", func() (int, error) { return 2, nil }); err != nil {
		t.Fatal(err)
	}
	if _, err := Agenda(c, "week", func() ([]string, error) { return []string{"task-1"}, nil }); err != nil {
		t.Fatal(err)
	}

	c.Invalidate("task-1")
	entities, agendas := c.Len()
	if entities != 1 || agendas != 0 {
		t.Fatalf("after invalidate: %d entities, %d snapshots", entities, agendas)
	}
}

func TestStaleLoadDoesNotPopulate(t *testing.T) {
	c := New(time.Hour, nil)
	_, err := Agenda(c, "week", func() (string, error) {
		// A write lands while this load is in flight.
		c.Invalidate("task-1")
		return "stale", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, agendas := c.Len(); agendas != 0 {
		t.Fatal("snapshot loaded before an invalidation was cached")
	}
}

func TestLoadErrorIsNotCached(t *testing.T) {
	c := New(time.Hour, nil)
	boom := errors.New("boom")
	if _, err := Entity(c, "x", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if entities, _ := c.Len(); entities != 0 {
		t.Fatal("failed load was cached")
	}
}
