package timekeeping

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"legalagenda/internal/clock"
	"legalagenda/internal/dates"
	"legalagenda/internal/lifecycle"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
	"legalagenda/internal/store"
)

var loc = time.FixedZone("BRT", -3*3600)

var scope = model.Scope{OfficeID: "office-1", UserID: "lawyer-1"}

type env struct {
	st  *store.Store
	r   *Reconciler
	clk *clock.FakeClock
}

func setup(t *testing.T) env {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "agenda.db"), store.Options{Location: loc})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	clk := clock.Fake(time.Date(2024, 5, 2, 9, 0, 0, 0, loc))
	return env{st: st, r: New(st, clk, loc), clk: clk}
}

func (e env) task(t *testing.T, caseID string) model.Task {
	t.Helper()
	task, err := e.st.InsertTask(context.Background(), model.Task{
		OfficeID: scope.OfficeID, Title: "prepare brief", Start: e.clk.Now(), CaseID: caseID,
	})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	return task
}

func (e env) status(t *testing.T, id string) model.Status {
	t.Helper()
	task, err := e.st.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return task.Status
}

func TestMinutes(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 1},
		{10 * time.Second, 1},
		{time.Minute, 1},
		{time.Minute + time.Millisecond, 2},
		{89*time.Minute + 30*time.Second, 90},
	}
	for _, tc := range cases {
		if got := Minutes(tc.d); got != tc.want {
			t.Errorf("Minutes(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestTimerLifecycle(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "case-1")

	tm, err := e.r.StartTimer(ctx, scope, task.ID)
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	again, err := e.r.StartTimer(ctx, scope, task.ID)
	if err != nil || again.ID != tm.ID {
		t.Fatalf("second StartTimer = %v, %v", again.ID, err)
	}

	e.clk.Advance(20 * time.Minute)
	if _, err := e.r.PauseTimer(ctx, tm.ID); err != nil {
		t.Fatalf("PauseTimer: %v", err)
	}
	e.clk.Advance(time.Hour)
	if _, err := e.r.ResumeTimer(ctx, tm.ID); err != nil {
		t.Fatalf("ResumeTimer: %v", err)
	}
	e.clk.Advance(10*time.Minute + 5*time.Second)

	entry, err := e.r.FinalizeTimer(ctx, scope, tm.ID, "research", true)
	if err != nil {
		t.Fatalf("FinalizeTimer: %v", err)
	}
	if entry.Minutes != 31 || entry.TimerID != tm.ID || entry.CaseID != "case-1" {
		t.Fatalf("entry = %+v", entry)
	}
	if _, err := e.r.DiscardTimer(ctx, tm.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("discarding a finalized timer err = %v", err)
	}
}

func TestFinalizeAndLogHoursNeedLink(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "")

	tm, err := e.r.StartTimer(ctx, scope, task.ID)
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if _, err := e.r.FinalizeTimer(ctx, scope, tm.ID, "", true); !errors.Is(err, model.ErrMissingLink) {
		t.Fatalf("FinalizeTimer err = %v, want ErrMissingLink", err)
	}
	if _, err := e.r.LogHours(ctx, scope, task.ID, HoursInput{Minutes: 30}); !errors.Is(err, model.ErrMissingLink) {
		t.Fatalf("LogHours err = %v, want ErrMissingLink", err)
	}
	// The refused finalize left the timer running.
	active, err := e.st.ActiveTimerForTask(ctx, task.ID)
	if err != nil || active == nil || active.Status != model.TimerRunning {
		t.Fatalf("timer after refused finalize = %+v, %v", active, err)
	}
}

func TestLogHours(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "case-9")

	entry, err := e.r.LogHours(ctx, scope, task.ID, HoursInput{Minutes: 45, Billable: true, Description: "call"})
	if err != nil {
		t.Fatalf("LogHours: %v", err)
	}
	if entry.WorkDate != dates.New(2024, 5, 2) || entry.UserID != scope.UserID {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestUnlinkedTaskCompletesDirectly(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "")
	if _, err := e.r.StartTimer(ctx, scope, task.ID); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	t.Cleanup(func() { appLog.SetOutput(os.Stderr) })

	a, err := e.r.PrepareCompletion(ctx, scope, task.ID)
	if err != nil {
		t.Fatalf("PrepareCompletion: %v", err)
	}
	if a.Plan != CompleteDirect || a.State() != StateIdle {
		t.Fatalf("plan = %s state = %s", a.Plan, a.State())
	}
	if err := a.CompleteDirect(ctx); err != nil {
		t.Fatalf("CompleteDirect: %v", err)
	}
	if a.State() != StateDone || a.Outcome() != OutcomeCompletedDirect {
		t.Fatalf("state = %s outcome = %s", a.State(), a.Outcome())
	}
	if e.status(t, task.ID) != model.StatusCompleted {
		t.Fatal("task not completed")
	}
	if active, _ := e.st.ActiveTimerForTask(ctx, task.ID); active != nil {
		t.Fatalf("timer survived completion: %+v", active)
	}
	if !strings.Contains(buf.String(), "[WARN] timer discarded on completion of unlinked task") {
		t.Fatalf("missing discard warning in log:\n%s", buf.String())
	}
	if err := a.CompleteDirect(ctx); !errors.Is(err, model.ErrAttemptClosed) {
		t.Fatalf("second CompleteDirect err = %v", err)
	}
}

func TestLinkedTaskRequiresTimeEntry(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "case-1")

	a, err := e.r.PrepareCompletion(ctx, scope, task.ID)
	if err != nil {
		t.Fatalf("PrepareCompletion: %v", err)
	}
	if a.Plan != RequireTimeEntry || a.State() != StateAwaitingConfirmation {
		t.Fatalf("plan = %s state = %s", a.Plan, a.State())
	}
	if err := a.CompleteDirect(ctx); !errors.Is(err, model.ErrMissingLink) {
		t.Fatalf("CompleteDirect on linked task err = %v", err)
	}
	if e.status(t, task.ID) != model.StatusPending {
		t.Fatal("linked task completed without time entry")
	}
}

func TestEnterHoursFinalizesTimer(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "case-1")
	tm, err := e.r.StartTimer(ctx, scope, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	e.clk.Advance(42 * time.Minute)

	a, err := e.r.PrepareCompletion(ctx, scope, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	paused, err := e.st.GetTimer(ctx, tm.ID)
	if err != nil || paused.Status != model.TimerPaused {
		t.Fatalf("timer while awaiting = %+v, %v", paused, err)
	}
	// Time spent in the dialog is not billed.
	e.clk.Advance(30 * time.Minute)

	entry, err := a.EnterHours(ctx, HoursInput{Billable: true, Description: "brief"})
	if err != nil {
		t.Fatalf("EnterHours: %v", err)
	}
	if entry.Minutes != 42 || entry.TimerID != tm.ID {
		t.Fatalf("entry = %+v", entry)
	}
	if a.State() != StateDone || a.Outcome() != OutcomeHoursEntered {
		t.Fatalf("state = %s outcome = %s", a.State(), a.Outcome())
	}
	if e.status(t, task.ID) != model.StatusCompleted {
		t.Fatal("task not completed")
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close after success: %v", err)
	}
	if a.Outcome() != OutcomeHoursEntered {
		t.Fatalf("Close changed outcome to %s", a.Outcome())
	}
	if _, ok := e.r.Attempt(a.ID); ok {
		t.Fatal("finished attempt still registered")
	}
}

func TestEnterHoursWithoutTimerNeedsMinutes(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "case-1")

	a, err := e.r.PrepareCompletion(ctx, scope, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.EnterHours(ctx, HoursInput{}); err == nil {
		t.Fatal("EnterHours without minutes accepted")
	}
	if a.State() != StateAwaitingConfirmation {
		t.Fatalf("state after failed entry = %s", a.State())
	}
	entry, err := a.EnterHours(ctx, HoursInput{Minutes: 15})
	if err != nil {
		t.Fatalf("EnterHours: %v", err)
	}
	if entry.Minutes != 15 || entry.TimerID != "" {
		t.Fatalf("entry = %+v", entry)
	}
	entries, err := e.st.ListTimesheetEntries(ctx, task.ID)
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %v, %v", entries, err)
	}
}

func TestCompleteWithoutHoursDiscardsTimer(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "case-1")
	tm, err := e.r.StartTimer(ctx, scope, task.ID)
	if err != nil {
		t.Fatal(err)
	}

	a, err := e.r.PrepareCompletion(ctx, scope, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.CompleteWithoutHours(ctx); err != nil {
		t.Fatalf("CompleteWithoutHours: %v", err)
	}
	got, err := e.st.GetTimer(ctx, tm.ID)
	if err != nil || got.Status != model.TimerDiscarded {
		t.Fatalf("timer = %+v, %v", got, err)
	}
	entries, err := e.st.ListTimesheetEntries(ctx, task.ID)
	if err != nil || len(entries) != 0 {
		t.Fatalf("entries = %v, %v", entries, err)
	}
	if e.status(t, task.ID) != model.StatusCompleted {
		t.Fatal("task not completed")
	}
}

func TestCancelRestoresRunningTimer(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "case-1")
	tm, err := e.r.StartTimer(ctx, scope, task.ID)
	if err != nil {
		t.Fatal(err)
	}

	a, err := e.r.PrepareCompletion(ctx, scope, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.Outcome() != OutcomeCancelled {
		t.Fatalf("outcome = %s", a.Outcome())
	}
	got, err := e.st.GetTimer(ctx, tm.ID)
	if err != nil || got.Status != model.TimerRunning {
		t.Fatalf("timer after cancel = %+v, %v", got, err)
	}
	if e.status(t, task.ID) != model.StatusPending {
		t.Fatal("cancelled attempt changed the task")
	}
	if _, err := a.EnterHours(ctx, HoursInput{Minutes: 5}); !errors.Is(err, model.ErrAttemptClosed) {
		t.Fatalf("EnterHours after cancel err = %v", err)
	}
}

func TestPurgeClosesAbandonedAttempts(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	oldTask := e.task(t, "case-1")
	newTask := e.task(t, "case-2")
	oldTimer, err := e.r.StartTimer(ctx, scope, oldTask.ID)
	if err != nil {
		t.Fatal(err)
	}
	newTimer, err := e.r.StartTimer(ctx, scope, newTask.ID)
	if err != nil {
		t.Fatal(err)
	}

	abandoned, err := e.r.PrepareCompletion(ctx, scope, oldTask.ID)
	if err != nil {
		t.Fatal(err)
	}
	e.clk.Advance(90 * time.Minute)
	pending, err := e.r.PrepareCompletion(ctx, scope, newTask.ID)
	if err != nil {
		t.Fatal(err)
	}
	e.clk.Advance(40 * time.Minute)

	if n := e.r.Purge(ctx, 2*time.Hour); n != 1 {
		t.Fatalf("Purge closed %d attempts, want 1", n)
	}
	if _, ok := e.r.Attempt(abandoned.ID); ok {
		t.Fatal("abandoned attempt still registered")
	}
	if abandoned.Outcome() != OutcomeCancelled {
		t.Fatalf("abandoned outcome = %s", abandoned.Outcome())
	}
	got, err := e.st.GetTimer(ctx, oldTimer.ID)
	if err != nil || got.Status != model.TimerRunning {
		t.Fatalf("abandoned timer = %+v, %v", got, err)
	}

	if _, ok := e.r.Attempt(pending.ID); !ok {
		t.Fatal("recent attempt was purged")
	}
	got, err = e.st.GetTimer(ctx, newTimer.ID)
	if err != nil || got.Status != model.TimerPaused {
		t.Fatalf("recent timer = %+v, %v", got, err)
	}
	if e.status(t, oldTask.ID) != model.StatusPending {
		t.Fatal("purge changed the task")
	}
	if n := e.r.Purge(ctx, 2*time.Hour); n != 0 {
		t.Fatalf("second Purge closed %d", n)
	}
}

func TestCancelLeavesPausedTimerPaused(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "case-1")
	tm, err := e.r.StartTimer(ctx, scope, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.r.PauseTimer(ctx, tm.ID); err != nil {
		t.Fatal(err)
	}

	a, err := e.r.PrepareCompletion(ctx, scope, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, err := e.st.GetTimer(ctx, tm.ID)
	if err != nil || got.Status != model.TimerPaused {
		t.Fatalf("timer after cancel = %+v, %v", got, err)
	}
}

func TestCloseRacingSuccessIsNoop(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "case-1")

	a, err := e.r.PrepareCompletion(ctx, scope, task.ID)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var completeErr, closeErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		completeErr = a.CompleteWithoutHours(ctx)
	}()
	go func() {
		defer wg.Done()
		closeErr = a.Close(ctx)
	}()
	wg.Wait()

	if closeErr != nil {
		t.Fatalf("Close: %v", closeErr)
	}
	switch a.Outcome() {
	case OutcomeCompletedWithoutHours:
		if completeErr != nil {
			t.Fatalf("complete: %v", completeErr)
		}
		if e.status(t, task.ID) != model.StatusCompleted {
			t.Fatal("outcome says completed but task is not")
		}
	case OutcomeCancelled:
		if !errors.Is(completeErr, model.ErrAttemptClosed) {
			t.Fatalf("complete after cancel err = %v", completeErr)
		}
		if e.status(t, task.ID) != model.StatusPending {
			t.Fatal("outcome says cancelled but task changed")
		}
	default:
		t.Fatalf("outcome = %q", a.Outcome())
	}
}

func TestLifecycleMoveDrivesTimer(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "case-1")
	m := lifecycle.New(e.st, e.clk, e.r)

	if _, err := m.Move(ctx, scope, task.ID, model.StatusInProgress); err != nil {
		t.Fatalf("Move(in_progress): %v", err)
	}
	active, err := e.st.ActiveTimerForTask(ctx, task.ID)
	if err != nil || active == nil || active.Status != model.TimerRunning {
		t.Fatalf("timer after start = %+v, %v", active, err)
	}
	e.clk.Advance(5 * time.Minute)
	if _, err := m.Move(ctx, scope, task.ID, model.StatusPending); err != nil {
		t.Fatalf("Move(pending): %v", err)
	}
	active, err = e.st.ActiveTimerForTask(ctx, task.ID)
	if err != nil || active == nil || active.Status != model.TimerPaused || active.Accumulated != 5*time.Minute {
		t.Fatalf("timer after pause = %+v, %v", active, err)
	}
}

func TestPrepareCompletionOfCompletedTask(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	task := e.task(t, "")
	a, err := e.r.PrepareCompletion(ctx, scope, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.CompleteDirect(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.r.PrepareCompletion(ctx, scope, task.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}
