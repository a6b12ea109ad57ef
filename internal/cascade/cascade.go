// Package cascade guards task reschedules against passing a fixed deadline.
//
// Rescheduling is two-phase: Plan returns a Decision, and when the decision
// requires confirmation the caller must come back through Commit with the
// deadline the user accepted. A reschedule never silently pushes a task past
// its legal deadline.
package cascade

import (
	"context"
	"fmt"
	"time"

	"legalagenda/internal/dates"
	"legalagenda/internal/lifecycle"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
	"legalagenda/internal/store"
)

type Outcome string

const (
	Direct               Outcome = "direct"
	RequiresConfirmation Outcome = "requires_confirmation"
)

// Decision is the result of planning a reschedule.
type Decision struct {
	Outcome  Outcome   `json:"outcome"`
	TaskID   string    `json:"task_id"`
	NewStart time.Time `json:"new_start"`

	// Set only when Outcome is RequiresConfirmation.
	CurrentDeadline   *dates.Date `json:"current_deadline,omitempty"`
	SuggestedDeadline *dates.Date `json:"suggested_deadline,omitempty"`
	LeadDays          int         `json:"lead_days,omitempty"`
}

// DeadlineCalculator is the stored deadline function. The solver delegates
// legal-term arithmetic to it and never reimplements it.
type DeadlineCalculator interface {
	CalculateDeadline(ctx context.Context, intimation dates.Date, days int, business bool) (dates.Date, error)
}

type Solver struct {
	store *store.Store
	calc  DeadlineCalculator
	loc   *time.Location
}

func NewSolver(st *store.Store, calc DeadlineCalculator, loc *time.Location) *Solver {
	if loc == nil {
		loc = time.Local
	}
	return &Solver{store: st, calc: calc, loc: loc}
}

// PlanReschedule decides how task can move to newStart. It does not write.
func (s *Solver) PlanReschedule(task model.Task, newStart time.Time) (Decision, error) {
	if err := lifecycle.CheckSchedulable(task); err != nil {
		return Decision{}, err
	}
	d := Decision{Outcome: Direct, TaskID: task.ID, NewStart: newStart}
	if task.FixedDeadline == nil {
		return d, nil
	}
	deadline := *task.FixedDeadline
	startDay := dates.OfIn(newStart, s.loc)
	if !startDay.After(deadline) {
		return d, nil
	}

	lead := max(0, dates.DaysBetween(dates.OfIn(task.Start, s.loc), deadline))
	suggested := startDay.AddDays(lead)
	d.Outcome = RequiresConfirmation
	d.CurrentDeadline = &deadline
	d.SuggestedDeadline = &suggested
	d.LeadDays = lead
	return d, nil
}

// Plan loads the task and plans the move.
func (s *Solver) Plan(ctx context.Context, taskID string, newStart time.Time) (Decision, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return Decision{}, err
	}
	return s.PlanReschedule(task, newStart)
}

// Commit moves the task to newStart. When the move passes the fixed deadline
// confirmedDeadline is required and must not precede the new start day; start
// and deadline are then written in one transaction. The plan is recomputed
// against the current row, so a stale confirmation cannot slip through.
func (s *Solver) Commit(ctx context.Context, taskID string, newStart time.Time, confirmedDeadline *dates.Date) (Decision, error) {
	var decision Decision
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		decision, err = s.PlanReschedule(task, newStart)
		if err != nil {
			return err
		}

		deadline := task.FixedDeadline
		if decision.Outcome == RequiresConfirmation {
			if confirmedDeadline == nil {
				return fmt.Errorf("task %s: %w: confirm a deadline on or after %s", taskID, model.ErrDeadlineViolation, dates.OfIn(newStart, s.loc))
			}
			if confirmedDeadline.Before(dates.OfIn(newStart, s.loc)) {
				return fmt.Errorf("task %s: %w: confirmed deadline %s precedes new start", taskID, model.ErrDeadlineViolation, confirmedDeadline)
			}
			c := *confirmedDeadline
			deadline = &c
		}
		return q.UpdateTaskSchedule(ctx, taskID, newStart, deadline)
	})
	if err != nil {
		return Decision{}, err
	}

	kv := []any{"task_id", taskID, "start", newStart.Format(time.RFC3339), "outcome", string(decision.Outcome)}
	if decision.Outcome == RequiresConfirmation {
		kv = append(kv, "deadline", confirmedDeadline.String(), "suggested", decision.SuggestedDeadline.String())
	}
	appLog.Info("task rescheduled", kv...)
	return decision, nil
}

// CalculateLimit computes a legal limit date through the stored function.
func (s *Solver) CalculateLimit(ctx context.Context, intimation dates.Date, days int, business bool) (dates.Date, error) {
	if s.calc == nil {
		return dates.Date{}, fmt.Errorf("cascade: no deadline calculator configured")
	}
	return s.calc.CalculateDeadline(ctx, intimation, days, business)
}
