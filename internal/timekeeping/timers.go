// Package timekeeping owns the timer lifecycle and reconciles it with task
// completion. It is the only code that turns a timer into a timesheet entry.
package timekeeping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"legalagenda/internal/clock"
	"legalagenda/internal/dates"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
	"legalagenda/internal/store"
)

type Reconciler struct {
	store *store.Store
	clock clock.Clock
	loc   *time.Location

	mu       sync.Mutex
	attempts map[string]*Attempt
}

func New(st *store.Store, clk clock.Clock, loc *time.Location) *Reconciler {
	if clk == nil {
		clk = clock.Real()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Reconciler{store: st, clock: clk, loc: loc, attempts: make(map[string]*Attempt)}
}

func (r *Reconciler) now() time.Time { return r.clock.Now().In(r.loc) }

// Minutes converts tracked time into billable minutes: rounded up to the
// next whole minute, never less than one.
func Minutes(d time.Duration) int {
	m := int((d + time.Minute - 1) / time.Minute)
	return max(1, m)
}

// StartTimer starts tracking time on a task. An existing paused timer is
// resumed and an existing running timer is returned as is.
func (r *Reconciler) StartTimer(ctx context.Context, scope model.Scope, taskID string) (model.Timer, error) {
	var out model.Timer
	err := r.store.InTx(ctx, func(q *store.Queries) error {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		out, err = r.startOrResume(ctx, q, scope, task)
		return err
	})
	if err != nil {
		return model.Timer{}, err
	}
	appLog.Info("timer started", "timer_id", out.ID, "task_id", taskID)
	return out, nil
}

// StartOrResume implements lifecycle.TimerControl.
func (r *Reconciler) StartOrResume(ctx context.Context, q *store.Queries, scope model.Scope, task model.Task) error {
	_, err := r.startOrResume(ctx, q, scope, task)
	return err
}

func (r *Reconciler) startOrResume(ctx context.Context, q *store.Queries, scope model.Scope, task model.Task) (model.Timer, error) {
	active, err := q.ActiveTimerForTask(ctx, task.ID)
	if err != nil {
		return model.Timer{}, err
	}
	now := r.now()
	if active != nil {
		if active.Status == model.TimerPaused {
			active.Status = model.TimerRunning
			active.ResumedAt = &now
			if err := q.UpdateTimer(ctx, *active); err != nil {
				return model.Timer{}, err
			}
		}
		return *active, nil
	}
	return q.InsertTimer(ctx, model.Timer{
		OfficeID:       task.OfficeID,
		UserID:         scope.UserID,
		TaskID:         task.ID,
		CaseID:         task.CaseID,
		ConsultationID: task.ConsultationID,
		Status:         model.TimerRunning,
		StartedAt:      now,
		ResumedAt:      &now,
	})
}

// Pause implements lifecycle.TimerControl. A task with no running timer is
// left alone.
func (r *Reconciler) Pause(ctx context.Context, q *store.Queries, taskID string) error {
	active, err := q.ActiveTimerForTask(ctx, taskID)
	if err != nil || active == nil || active.Status != model.TimerRunning {
		return err
	}
	return r.pause(ctx, q, active)
}

func (r *Reconciler) pause(ctx context.Context, q *store.Queries, t *model.Timer) error {
	now := r.now()
	t.Accumulated = t.Elapsed(now)
	t.Status = model.TimerPaused
	t.ResumedAt = nil
	return q.UpdateTimer(ctx, *t)
}

func (r *Reconciler) resume(ctx context.Context, q *store.Queries, t *model.Timer) error {
	now := r.now()
	t.Status = model.TimerRunning
	t.ResumedAt = &now
	return q.UpdateTimer(ctx, *t)
}

// discard ends the timer without an entry. The tracked time is lost.
func (r *Reconciler) discard(ctx context.Context, q *store.Queries, t *model.Timer) error {
	now := r.now()
	t.Accumulated = t.Elapsed(now)
	t.Status = model.TimerDiscarded
	t.ResumedAt = nil
	t.EndedAt = &now
	return q.UpdateTimer(ctx, *t)
}

// finalize ends the timer and writes its timesheet entry. minutes overrides
// the tracked time when positive.
func (r *Reconciler) finalize(ctx context.Context, q *store.Queries, scope model.Scope, t *model.Timer, minutes int, description string, billable bool) (model.TimesheetEntry, error) {
	if t.CaseID == "" && t.ConsultationID == "" {
		return model.TimesheetEntry{}, fmt.Errorf("timer %s: %w", t.ID, model.ErrMissingLink)
	}
	now := r.now()
	t.Accumulated = t.Elapsed(now)
	t.Status = model.TimerFinalized
	t.ResumedAt = nil
	t.EndedAt = &now
	if err := q.UpdateTimer(ctx, *t); err != nil {
		return model.TimesheetEntry{}, err
	}
	if minutes <= 0 {
		minutes = Minutes(t.Accumulated)
	}
	return q.InsertTimesheetEntry(ctx, model.TimesheetEntry{
		OfficeID:       t.OfficeID,
		UserID:         firstNonEmpty(scope.UserID, t.UserID),
		TaskID:         t.TaskID,
		CaseID:         t.CaseID,
		ConsultationID: t.ConsultationID,
		TimerID:        t.ID,
		WorkDate:       dates.OfIn(t.StartedAt, r.loc),
		Minutes:        minutes,
		Billable:       billable,
		Description:    description,
	})
}

// withTimer loads an active timer by id and runs fn on it in a transaction.
func (r *Reconciler) withTimer(ctx context.Context, timerID string, fn func(q *store.Queries, t *model.Timer) error) (model.Timer, error) {
	var out model.Timer
	err := r.store.InTx(ctx, func(q *store.Queries) error {
		t, err := q.GetTimer(ctx, timerID)
		if err != nil {
			return err
		}
		if t.Status.Ended() {
			return fmt.Errorf("%w: timer %s is %s", model.ErrInvalidTransition, timerID, t.Status)
		}
		if err := fn(q, &t); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func (r *Reconciler) PauseTimer(ctx context.Context, timerID string) (model.Timer, error) {
	t, err := r.withTimer(ctx, timerID, func(q *store.Queries, t *model.Timer) error {
		if t.Status != model.TimerRunning {
			return nil
		}
		return r.pause(ctx, q, t)
	})
	if err == nil {
		appLog.Info("timer paused", "timer_id", timerID)
	}
	return t, err
}

func (r *Reconciler) ResumeTimer(ctx context.Context, timerID string) (model.Timer, error) {
	t, err := r.withTimer(ctx, timerID, func(q *store.Queries, t *model.Timer) error {
		if t.Status != model.TimerPaused {
			return nil
		}
		return r.resume(ctx, q, t)
	})
	if err == nil {
		appLog.Info("timer resumed", "timer_id", timerID)
	}
	return t, err
}

func (r *Reconciler) DiscardTimer(ctx context.Context, timerID string) (model.Timer, error) {
	t, err := r.withTimer(ctx, timerID, func(q *store.Queries, t *model.Timer) error {
		return r.discard(ctx, q, t)
	})
	if err == nil {
		appLog.Info("timer discarded", "timer_id", timerID, "elapsed", t.Accumulated.String())
	}
	return t, err
}

// FinalizeTimer ends the timer and records its time. The timer must carry a
// billable link.
func (r *Reconciler) FinalizeTimer(ctx context.Context, scope model.Scope, timerID, description string, billable bool) (model.TimesheetEntry, error) {
	var entry model.TimesheetEntry
	_, err := r.withTimer(ctx, timerID, func(q *store.Queries, t *model.Timer) error {
		var err error
		entry, err = r.finalize(ctx, q, scope, t, 0, description, billable)
		return err
	})
	if err != nil {
		return model.TimesheetEntry{}, err
	}
	appLog.Info("timer finalized", "timer_id", timerID, "minutes", entry.Minutes)
	return entry, nil
}

// ActiveTimers lists running and paused timers of the scope's office,
// narrowed to the user when one is given.
func (r *Reconciler) ActiveTimers(ctx context.Context, scope model.Scope) ([]model.Timer, error) {
	return r.store.ListActiveTimers(ctx, scope.OfficeID, scope.UserID)
}

// HoursInput is a manual time entry.
type HoursInput struct {
	Minutes     int        `json:"minutes"`
	Description string     `json:"description"`
	Billable    bool       `json:"billable"`
	WorkDate    dates.Date `json:"work_date"`
}

// LogHours writes a manual timesheet entry against a task. The task must have
// a billable link.
func (r *Reconciler) LogHours(ctx context.Context, scope model.Scope, taskID string, in HoursInput) (model.TimesheetEntry, error) {
	if in.Minutes <= 0 {
		return model.TimesheetEntry{}, fmt.Errorf("log hours: minutes must be positive, got %d", in.Minutes)
	}
	var entry model.TimesheetEntry
	err := r.store.InTx(ctx, func(q *store.Queries) error {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		entry, err = r.manualEntry(ctx, q, scope, task, in)
		return err
	})
	if err != nil {
		return model.TimesheetEntry{}, err
	}
	appLog.Info("hours logged", "task_id", taskID, "minutes", entry.Minutes)
	return entry, nil
}

func (r *Reconciler) manualEntry(ctx context.Context, q *store.Queries, scope model.Scope, task model.Task, in HoursInput) (model.TimesheetEntry, error) {
	if !task.HasBillableLink() {
		return model.TimesheetEntry{}, fmt.Errorf("task %s: %w", task.ID, model.ErrMissingLink)
	}
	wd := in.WorkDate
	if wd.IsZero() {
		wd = dates.OfIn(r.now(), r.loc)
	}
	return q.InsertTimesheetEntry(ctx, model.TimesheetEntry{
		OfficeID:       task.OfficeID,
		UserID:         scope.UserID,
		TaskID:         task.ID,
		CaseID:         task.CaseID,
		ConsultationID: task.ConsultationID,
		WorkDate:       wd,
		Minutes:        in.Minutes,
		Billable:       in.Billable,
		Description:    in.Description,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
