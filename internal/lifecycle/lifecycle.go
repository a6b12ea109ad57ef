// Package lifecycle owns the status and completedAt fields of tasks.
//
//	pending <-> in_progress      Move (timer side effects only)
//	pending/in_progress -> completed   Complete, reached through timekeeping
//	completed -> pending         Reopen
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"legalagenda/internal/clock"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
	"legalagenda/internal/store"
)

// TimerControl applies the timer side effects of a board move. Calls run
// inside the move's transaction.
type TimerControl interface {
	StartOrResume(ctx context.Context, q *store.Queries, scope model.Scope, task model.Task) error
	Pause(ctx context.Context, q *store.Queries, taskID string) error
}

type Machine struct {
	store  *store.Store
	clock  clock.Clock
	timers TimerControl
}

// New returns a Machine. timers may be nil, in which case moves never touch
// timers.
func New(st *store.Store, clk clock.Clock, timers TimerControl) *Machine {
	if clk == nil {
		clk = clock.Real()
	}
	return &Machine{store: st, clock: clk, timers: timers}
}

// Move switches a task between pending and in_progress. For tasks with a
// billable link, moving to in_progress starts or resumes the task's timer and
// moving to pending pauses it. Completion is not reachable through Move.
func (m *Machine) Move(ctx context.Context, scope model.Scope, taskID string, to model.Status) (model.Task, error) {
	if to != model.StatusPending && to != model.StatusInProgress {
		return model.Task{}, fmt.Errorf("%w: move to %q; use completion or reopen", model.ErrInvalidTransition, to)
	}
	var out model.Task
	err := m.store.InTx(ctx, func(q *store.Queries) error {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status == model.StatusCompleted {
			return fmt.Errorf("%w: task %s is completed; reopen it first", model.ErrInvalidTransition, taskID)
		}
		if task.Status != to {
			if err := q.SetTaskStatus(ctx, taskID, to, nil); err != nil {
				return err
			}
			task.Status = to
		}
		if m.timers != nil && task.HasBillableLink() {
			switch to {
			case model.StatusInProgress:
				err = m.timers.StartOrResume(ctx, q, scope, task)
			case model.StatusPending:
				err = m.timers.Pause(ctx, q, taskID)
			}
			if err != nil {
				return err
			}
		}
		out = task
		return nil
	})
	if err != nil {
		return model.Task{}, err
	}
	appLog.Info("task moved", "task_id", taskID, "status", string(to))
	return out, nil
}

// Reopen returns a completed task to pending and clears completedAt.
func (m *Machine) Reopen(ctx context.Context, taskID string) (model.Task, error) {
	var out model.Task
	err := m.store.InTx(ctx, func(q *store.Queries) error {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status != model.StatusCompleted {
			return fmt.Errorf("%w: task %s is %s, not completed", model.ErrInvalidTransition, taskID, task.Status)
		}
		if err := q.SetTaskStatus(ctx, taskID, model.StatusPending, nil); err != nil {
			return err
		}
		task.Status = model.StatusPending
		task.CompletedAt = nil
		out = task
		return nil
	})
	if err != nil {
		return model.Task{}, err
	}
	appLog.Info("task reopened", "task_id", taskID)
	return out, nil
}

// Complete marks the task completed at now inside q's transaction. It checks
// only the state transition; the time-entry precondition is the caller's.
func Complete(ctx context.Context, q *store.Queries, taskID string, now time.Time) (model.Task, error) {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.Status == model.StatusCompleted {
		return model.Task{}, fmt.Errorf("%w: task %s is already completed", model.ErrInvalidTransition, taskID)
	}
	if err := q.SetTaskStatus(ctx, taskID, model.StatusCompleted, &now); err != nil {
		return model.Task{}, err
	}
	task.Status = model.StatusCompleted
	task.CompletedAt = &now
	return task, nil
}

// CheckSchedulable rejects date changes on fixed tasks.
func CheckSchedulable(task model.Task) error {
	if task.IsFixed() {
		return fmt.Errorf("task %s: %w", task.ID, model.ErrImmutableSchedule)
	}
	return nil
}
