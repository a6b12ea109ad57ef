package timekeeping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"legalagenda/internal/lifecycle"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
	"legalagenda/internal/store"
)

// Plan is what completing a task requires.
type Plan string

const (
	// CompleteDirect: no billable link, no time entry step.
	CompleteDirect Plan = "complete_direct"
	// RequireTimeEntry: the caller must present a time-entry step.
	RequireTimeEntry Plan = "require_time_entry"
)

// State of an in-flight completion. Read it synchronously with Attempt.State.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingConfirmation State = "awaiting-confirmation"
	StateCommitting           State = "committing"
	StateDone                 State = "done"
)

type Outcome string

const (
	OutcomeNone                  Outcome = ""
	OutcomeHoursEntered          Outcome = "hours_entered"
	OutcomeCompletedWithoutHours Outcome = "completed_without_hours"
	OutcomeCompletedDirect       Outcome = "completed_direct"
	OutcomeCancelled             Outcome = "cancelled"
)

// Attempt is one completion of one task. Exactly one terminal path runs;
// every later call fails with model.ErrAttemptClosed, except Close, which is
// a no-op once a success path has started.
type Attempt struct {
	ID     string
	TaskID string
	Plan   Plan

	r       *Reconciler
	scope   model.Scope
	created time.Time

	mu      sync.Mutex
	state   State
	outcome Outcome
	// pausedTimerID is the timer this attempt paused and must resume on cancel.
	pausedTimerID string
}

func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Attempt) Outcome() Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcome
}

// PrepareCompletion opens a completion attempt for the task. For linked tasks
// a running timer is paused while the time-entry step is pending.
func (r *Reconciler) PrepareCompletion(ctx context.Context, scope model.Scope, taskID string) (*Attempt, error) {
	a := &Attempt{ID: store.NewID(), TaskID: taskID, r: r, scope: scope, created: r.now()}
	err := r.store.InTx(ctx, func(q *store.Queries) error {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status == model.StatusCompleted {
			return fmt.Errorf("%w: task %s is already completed", model.ErrInvalidTransition, taskID)
		}
		if !task.HasBillableLink() {
			a.Plan = CompleteDirect
			a.state = StateIdle
			return nil
		}
		a.Plan = RequireTimeEntry
		a.state = StateAwaitingConfirmation
		active, err := q.ActiveTimerForTask(ctx, taskID)
		if err != nil || active == nil || active.Status != model.TimerRunning {
			return err
		}
		if err := r.pause(ctx, q, active); err != nil {
			return err
		}
		a.pausedTimerID = active.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.attempts[a.ID] = a
	r.mu.Unlock()
	appLog.Debug("completion prepared", "attempt_id", a.ID, "task_id", taskID, "plan", string(a.Plan))
	return a, nil
}

// Attempt returns an open attempt by id.
func (r *Reconciler) Attempt(id string) (*Attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	return a, ok
}

// Purge closes open attempts created more than maxAge ago and returns how many
// it closed. A client that never confirms nor dismisses would otherwise keep
// its attempt registered and its timer paused.
func (r *Reconciler) Purge(ctx context.Context, maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)
	var stale []*Attempt
	r.mu.Lock()
	for _, a := range r.attempts {
		if a.created.Before(cutoff) {
			stale = append(stale, a)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, a := range stale {
		switch a.State() {
		case StateIdle, StateAwaitingConfirmation:
		default:
			continue
		}
		if err := a.Close(ctx); err != nil {
			appLog.Warn("stale completion not closed", "attempt_id", a.ID, "task_id", a.TaskID, "error", err.Error())
			continue
		}
		n++
	}
	if n > 0 {
		appLog.Info("stale completions closed", "count", n, "max_age", maxAge.String())
	}
	return n
}

func (r *Reconciler) forget(id string) {
	r.mu.Lock()
	delete(r.attempts, id)
	r.mu.Unlock()
}

// begin moves the attempt from want to committing. The transition happens
// under the lock, so a concurrent Close sees committing and stands down.
func (a *Attempt) begin(want State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != want {
		if a.state == StateDone || a.state == StateCommitting {
			return fmt.Errorf("attempt %s: %w", a.ID, model.ErrAttemptClosed)
		}
		return fmt.Errorf("%w: attempt %s is %s, want %s", model.ErrInvalidTransition, a.ID, a.state, want)
	}
	a.state = StateCommitting
	return nil
}

// finish records the result of a committing step. On failure the attempt
// returns to from so the caller can retry or cancel.
func (a *Attempt) finish(from State, outcome Outcome, err error) {
	a.mu.Lock()
	if err != nil {
		a.state = from
		a.mu.Unlock()
		return
	}
	a.state = StateDone
	a.outcome = outcome
	a.mu.Unlock()
	a.r.forget(a.ID)
}

// EnterHours records the time and completes the task. An active timer is
// finalized into the entry (in.Minutes, when positive, overrides its tracked
// time); without a timer in.Minutes is required.
func (a *Attempt) EnterHours(ctx context.Context, in HoursInput) (model.TimesheetEntry, error) {
	if err := a.begin(StateAwaitingConfirmation); err != nil {
		return model.TimesheetEntry{}, err
	}
	var entry model.TimesheetEntry
	err := a.r.store.InTx(ctx, func(q *store.Queries) error {
		active, err := q.ActiveTimerForTask(ctx, a.TaskID)
		if err != nil {
			return err
		}
		if active != nil {
			entry, err = a.r.finalize(ctx, q, a.scope, active, in.Minutes, in.Description, in.Billable)
		} else {
			if in.Minutes <= 0 {
				return fmt.Errorf("enter hours: minutes must be positive, got %d", in.Minutes)
			}
			var task model.Task
			if task, err = q.GetTask(ctx, a.TaskID); err != nil {
				return err
			}
			entry, err = a.r.manualEntry(ctx, q, a.scope, task, in)
		}
		if err != nil {
			return err
		}
		_, err = lifecycle.Complete(ctx, q, a.TaskID, a.r.now())
		return err
	})
	a.finish(StateAwaitingConfirmation, OutcomeHoursEntered, err)
	if err != nil {
		return model.TimesheetEntry{}, err
	}
	appLog.Info("task completed with hours", "task_id", a.TaskID, "minutes", entry.Minutes, "timer_id", entry.TimerID)
	return entry, nil
}

// CompleteWithoutHours completes the task with no timesheet entry after the
// user explicitly declined to enter hours. An active timer is discarded.
func (a *Attempt) CompleteWithoutHours(ctx context.Context) error {
	if err := a.begin(StateAwaitingConfirmation); err != nil {
		return err
	}
	var discarded string
	err := a.r.store.InTx(ctx, func(q *store.Queries) error {
		active, err := q.ActiveTimerForTask(ctx, a.TaskID)
		if err != nil {
			return err
		}
		if active != nil {
			if err := a.r.discard(ctx, q, active); err != nil {
				return err
			}
			discarded = active.ID
		}
		_, err = lifecycle.Complete(ctx, q, a.TaskID, a.r.now())
		return err
	})
	a.finish(StateAwaitingConfirmation, OutcomeCompletedWithoutHours, err)
	if err != nil {
		return err
	}
	appLog.Info("task completed without hours", "task_id", a.TaskID, "discarded_timer", discarded)
	return nil
}

// CompleteDirect completes a task that has no billable link. A timer left on
// such a task is discarded without confirmation; this asymmetry with linked
// tasks is deliberate and logged.
func (a *Attempt) CompleteDirect(ctx context.Context) error {
	if a.Plan != CompleteDirect {
		return fmt.Errorf("%w: task %s needs a time entry step", model.ErrMissingLink, a.TaskID)
	}
	if err := a.begin(StateIdle); err != nil {
		return err
	}
	var discarded *model.Timer
	err := a.r.store.InTx(ctx, func(q *store.Queries) error {
		active, err := q.ActiveTimerForTask(ctx, a.TaskID)
		if err != nil {
			return err
		}
		if active != nil {
			if err := a.r.discard(ctx, q, active); err != nil {
				return err
			}
			discarded = active
		}
		_, err = lifecycle.Complete(ctx, q, a.TaskID, a.r.now())
		return err
	})
	a.finish(StateIdle, OutcomeCompletedDirect, err)
	if err != nil {
		return err
	}
	if discarded != nil {
		appLog.Warn("timer discarded on completion of unlinked task",
			"task_id", a.TaskID, "timer_id", discarded.ID, "elapsed", discarded.Accumulated.String())
	}
	appLog.Info("task completed", "task_id", a.TaskID)
	return nil
}

// Cancel ends the attempt without completing the task and resumes a timer
// the attempt paused. Pre-attempt state is restored exactly.
func (a *Attempt) Cancel(ctx context.Context) error {
	a.mu.Lock()
	from := a.state
	a.mu.Unlock()
	if from != StateAwaitingConfirmation && from != StateIdle {
		return fmt.Errorf("attempt %s: %w", a.ID, model.ErrAttemptClosed)
	}
	if err := a.begin(from); err != nil {
		return err
	}
	var err error
	if a.pausedTimerID != "" {
		err = a.r.store.InTx(ctx, func(q *store.Queries) error {
			t, err := q.GetTimer(ctx, a.pausedTimerID)
			if err != nil {
				return err
			}
			// Someone may have ended or resumed it meanwhile; only undo our pause.
			if t.Status != model.TimerPaused {
				return nil
			}
			return a.r.resume(ctx, q, &t)
		})
	}
	a.finish(from, OutcomeCancelled, err)
	if err != nil {
		return err
	}
	appLog.Info("completion cancelled", "task_id", a.TaskID, "attempt_id", a.ID)
	return nil
}

// Close is the dismiss handler of the time-entry step. When a success path
// has already started or finished it does nothing; otherwise it cancels.
func (a *Attempt) Close(ctx context.Context) error {
	switch a.State() {
	case StateCommitting, StateDone:
		return nil
	default:
		err := a.Cancel(ctx)
		if err != nil && a.State() != StateAwaitingConfirmation && a.State() != StateIdle {
			// Lost the race to a success path.
			return nil
		}
		return err
	}
}
