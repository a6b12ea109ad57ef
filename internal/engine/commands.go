package engine

import (
	"context"
	"fmt"
	"time"

	"legalagenda/internal/cascade"
	"legalagenda/internal/dates"
	"legalagenda/internal/lifecycle"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
	"legalagenda/internal/occurrence"
	"legalagenda/internal/recurrence"
	"legalagenda/internal/store"
	"legalagenda/internal/timekeeping"
)

// Series describes the recurrence of a new task or event. Anchor defaults to
// the start day of the template.
type Series struct {
	Frequency model.Frequency `json:"frequency"`
	Interval  int             `json:"interval"`
	Anchor    dates.Date      `json:"anchor"`
	Until     *dates.Date     `json:"until,omitempty"`
}

func (s *Service) newRule(scope model.Scope, kind model.Kind, templateID string, start time.Time, series Series) (model.RecurrenceRule, error) {
	rule := model.RecurrenceRule{
		OfficeID:   scope.OfficeID,
		EntityKind: kind,
		TemplateID: templateID,
		Frequency:  series.Frequency,
		Interval:   max(1, series.Interval),
		Anchor:     series.Anchor,
		Until:      series.Until,
	}
	if rule.Anchor.IsZero() {
		rule.Anchor = dates.OfIn(start, s.loc)
	}
	if err := recurrence.ValidateRule(rule); err != nil {
		return model.RecurrenceRule{}, err
	}
	return rule, nil
}

// CreateTask stores a task. With a series, the task becomes the template and
// first occurrence of a new recurrence rule, written in the same transaction.
func (s *Service) CreateTask(ctx context.Context, scope model.Scope, t model.Task, series *Series) (model.Task, error) {
	t.OfficeID = scope.OfficeID
	if t.FixedDeadline != nil && t.FixedDeadline.Before(dates.OfIn(t.Start, s.loc)) {
		return model.Task{}, fmt.Errorf("task %q: %w: deadline %s precedes start", t.Title, model.ErrDeadlineViolation, t.FixedDeadline)
	}
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		if t, err = q.InsertTask(ctx, t); err != nil {
			return err
		}
		if series == nil {
			return nil
		}
		rule, err := s.newRule(scope, model.KindTask, t.ID, t.Start, *series)
		if err != nil {
			return err
		}
		if rule, err = q.InsertRule(ctx, rule); err != nil {
			return err
		}
		t.RecurrenceID, t.SourceDate = rule.ID, &rule.Anchor
		return q.LinkTaskToRule(ctx, t.ID, rule.ID, rule.Anchor)
	})
	if err != nil {
		return model.Task{}, err
	}
	s.invalidate(t.ID)
	appLog.Info("task created", "task_id", t.ID, "recurrence_id", t.RecurrenceID)
	return t, nil
}

// CreateEvent is the event counterpart of CreateTask.
func (s *Service) CreateEvent(ctx context.Context, scope model.Scope, e model.Event, series *Series) (model.Event, error) {
	e.OfficeID = scope.OfficeID
	if e.End != nil && e.End.Before(e.Start) {
		return model.Event{}, fmt.Errorf("event %q: end before start", e.Title)
	}
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		if e, err = q.InsertEvent(ctx, e); err != nil {
			return err
		}
		if series == nil {
			return nil
		}
		rule, err := s.newRule(scope, model.KindEvent, e.ID, e.Start, *series)
		if err != nil {
			return err
		}
		if rule, err = q.InsertRule(ctx, rule); err != nil {
			return err
		}
		e.RecurrenceID, e.SourceDate = rule.ID, &rule.Anchor
		return q.LinkEventToRule(ctx, e.ID, rule.ID, rule.Anchor)
	})
	if err != nil {
		return model.Event{}, err
	}
	s.invalidate(e.ID)
	appLog.Info("event created", "event_id", e.ID, "recurrence_id", e.RecurrenceID)
	return e, nil
}

// CreateHearing stores a manually entered hearing.
func (s *Service) CreateHearing(ctx context.Context, scope model.Scope, h model.Hearing) (model.Hearing, error) {
	h.OfficeID = scope.OfficeID
	h, err := s.store.InsertHearing(ctx, h)
	if err != nil {
		return model.Hearing{}, err
	}
	s.invalidate(h.ID)
	appLog.Info("hearing created", "hearing_id", h.ID)
	return h, nil
}

// UpsertHearings imports hearings from a court feed. Rows are matched on
// their external uid within the office.
func (s *Service) UpsertHearings(ctx context.Context, officeID string, hs []model.Hearing) (created, updated int, err error) {
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		created, updated = 0, 0
		for _, h := range hs {
			h.OfficeID = officeID
			isNew, err := q.UpsertHearingByUID(ctx, h)
			if err != nil {
				return err
			}
			if isNew {
				created++
			} else {
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if created+updated > 0 {
		s.invalidate()
	}
	return created, updated, nil
}

// taskForCommand materializes id and returns the task row it names.
func (s *Service) taskForCommand(ctx context.Context, scope model.Scope, id string) (model.Task, error) {
	rowID, err := s.Materialize(ctx, scope, id)
	if err != nil {
		return model.Task{}, err
	}
	return s.GetTask(ctx, scope, rowID)
}

// movableTask is taskForCommand for date changes. A virtual occurrence of a
// fixed series is refused from its template, before any row is written.
func (s *Service) movableTask(ctx context.Context, scope model.Scope, id string) (model.Task, error) {
	ref, err := occurrence.Resolve(id)
	if err != nil {
		return model.Task{}, err
	}
	if v, ok := ref.(occurrence.Virtual); ok {
		rule, err := s.ruleInScope(ctx, scope, v.RecurrenceID)
		if err != nil {
			return model.Task{}, err
		}
		if rule.EntityKind == model.KindTask {
			tmpl, err := s.store.TaskTemplate(ctx, rule.TemplateID)
			if err != nil {
				return model.Task{}, err
			}
			if err := lifecycle.CheckSchedulable(tmpl); err != nil {
				return model.Task{}, err
			}
		}
	}
	return s.taskForCommand(ctx, scope, id)
}

// PlanReschedule is the first phase of a task move. A virtual id is
// materialized first so the decision names a real task.
func (s *Service) PlanReschedule(ctx context.Context, scope model.Scope, id string, newStart time.Time) (cascade.Decision, error) {
	task, err := s.movableTask(ctx, scope, id)
	if err != nil {
		return cascade.Decision{}, err
	}
	return s.solver.PlanReschedule(task, newStart)
}

// CommitReschedule writes a planned move. confirmedDeadline is required when
// the plan asked for confirmation.
func (s *Service) CommitReschedule(ctx context.Context, scope model.Scope, id string, newStart time.Time, confirmedDeadline *dates.Date) (cascade.Decision, error) {
	task, err := s.movableTask(ctx, scope, id)
	if err != nil {
		return cascade.Decision{}, err
	}
	d, err := s.solver.Commit(ctx, task.ID, newStart, confirmedDeadline)
	if err != nil {
		return cascade.Decision{}, err
	}
	s.invalidate(id, task.ID)
	return d, nil
}

// MoveEvent moves an event to newStart keeping its duration.
func (s *Service) MoveEvent(ctx context.Context, scope model.Scope, id string, newStart time.Time) (model.Event, error) {
	rowID, err := s.Materialize(ctx, scope, id)
	if err != nil {
		return model.Event{}, err
	}
	var out model.Event
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		e, err := q.GetEvent(ctx, rowID)
		if err != nil {
			return err
		}
		if e.OfficeID != scope.OfficeID {
			return fmt.Errorf("event %s: %w", rowID, model.ErrNotFound)
		}
		if e.End != nil {
			end := newStart.Add(e.End.Sub(e.Start))
			e.End = &end
		}
		e.Start = newStart
		out = e
		return q.UpdateEventSchedule(ctx, rowID, e.Start, e.End)
	})
	if err != nil {
		return model.Event{}, err
	}
	s.invalidate(id, rowID)
	appLog.Info("event moved", "event_id", rowID, "start", newStart.Format(time.RFC3339))
	return out, nil
}

// MoveStatus is the board move between pending and in_progress.
func (s *Service) MoveStatus(ctx context.Context, scope model.Scope, id string, to model.Status) (model.Task, error) {
	task, err := s.taskForCommand(ctx, scope, id)
	if err != nil {
		return model.Task{}, err
	}
	out, err := s.machine.Move(ctx, scope, task.ID, to)
	if err != nil {
		return model.Task{}, err
	}
	s.invalidate(id, task.ID)
	return out, nil
}

func (s *Service) Reopen(ctx context.Context, scope model.Scope, id string) (model.Task, error) {
	task, err := s.GetTask(ctx, scope, id)
	if err != nil {
		return model.Task{}, err
	}
	out, err := s.machine.Reopen(ctx, task.ID)
	if err != nil {
		return model.Task{}, err
	}
	s.invalidate(task.ID)
	return out, nil
}

// PrepareCompletion opens a completion attempt. The task is not completed
// until one of the attempt's success paths runs through the service.
func (s *Service) PrepareCompletion(ctx context.Context, scope model.Scope, id string) (*timekeeping.Attempt, error) {
	task, err := s.taskForCommand(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	a, err := s.reconciler.PrepareCompletion(ctx, scope, task.ID)
	if err != nil {
		return nil, err
	}
	// Preparing may pause a timer.
	s.invalidate(id, task.ID)
	return a, nil
}

// attempt returns an open attempt whose task belongs to the scope's office.
func (s *Service) attempt(ctx context.Context, scope model.Scope, attemptID string) (*timekeeping.Attempt, error) {
	a, ok := s.reconciler.Attempt(attemptID)
	if !ok {
		return nil, fmt.Errorf("completion attempt %s: %w", attemptID, model.ErrNotFound)
	}
	if _, err := s.GetTask(ctx, scope, a.TaskID); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) EnterHours(ctx context.Context, scope model.Scope, attemptID string, in timekeeping.HoursInput) (model.TimesheetEntry, error) {
	a, err := s.attempt(ctx, scope, attemptID)
	if err != nil {
		return model.TimesheetEntry{}, err
	}
	entry, err := a.EnterHours(ctx, in)
	if err != nil {
		return model.TimesheetEntry{}, err
	}
	s.invalidate(a.TaskID)
	return entry, nil
}

func (s *Service) CompleteWithoutHours(ctx context.Context, scope model.Scope, attemptID string) error {
	a, err := s.attempt(ctx, scope, attemptID)
	if err != nil {
		return err
	}
	if err := a.CompleteWithoutHours(ctx); err != nil {
		return err
	}
	s.invalidate(a.TaskID)
	return nil
}

func (s *Service) CompleteDirect(ctx context.Context, scope model.Scope, attemptID string) error {
	a, err := s.attempt(ctx, scope, attemptID)
	if err != nil {
		return err
	}
	if err := a.CompleteDirect(ctx); err != nil {
		return err
	}
	s.invalidate(a.TaskID)
	return nil
}

func (s *Service) CancelCompletion(ctx context.Context, scope model.Scope, attemptID string) error {
	a, err := s.attempt(ctx, scope, attemptID)
	if err != nil {
		return err
	}
	if err := a.Cancel(ctx); err != nil {
		return err
	}
	s.invalidate(a.TaskID)
	return nil
}

// PurgeCompletions closes attempts left open longer than maxAge.
func (s *Service) PurgeCompletions(ctx context.Context, maxAge time.Duration) int {
	n := s.reconciler.Purge(ctx, maxAge)
	if n > 0 {
		s.invalidate()
	}
	return n
}

// CloseCompletion is the dismiss path. An attempt that already finished is
// gone from the registry, which makes a late close a no-op.
func (s *Service) CloseCompletion(ctx context.Context, scope model.Scope, attemptID string) error {
	a, ok := s.reconciler.Attempt(attemptID)
	if !ok {
		return nil
	}
	if _, err := s.GetTask(ctx, scope, a.TaskID); err != nil {
		return err
	}
	if err := a.Close(ctx); err != nil {
		return err
	}
	s.invalidate(a.TaskID)
	return nil
}

// timerInScope hides timers of other offices.
func (s *Service) timerInScope(ctx context.Context, scope model.Scope, timerID string) error {
	t, err := s.store.GetTimer(ctx, timerID)
	if err != nil {
		return err
	}
	if t.OfficeID != scope.OfficeID {
		return fmt.Errorf("timer %s: %w", timerID, model.ErrNotFound)
	}
	return nil
}

func (s *Service) StartTimer(ctx context.Context, scope model.Scope, id string) (model.Timer, error) {
	task, err := s.taskForCommand(ctx, scope, id)
	if err != nil {
		return model.Timer{}, err
	}
	return s.reconciler.StartTimer(ctx, scope, task.ID)
}

func (s *Service) PauseTimer(ctx context.Context, scope model.Scope, timerID string) (model.Timer, error) {
	if err := s.timerInScope(ctx, scope, timerID); err != nil {
		return model.Timer{}, err
	}
	return s.reconciler.PauseTimer(ctx, timerID)
}

func (s *Service) ResumeTimer(ctx context.Context, scope model.Scope, timerID string) (model.Timer, error) {
	if err := s.timerInScope(ctx, scope, timerID); err != nil {
		return model.Timer{}, err
	}
	return s.reconciler.ResumeTimer(ctx, timerID)
}

func (s *Service) DiscardTimer(ctx context.Context, scope model.Scope, timerID string) (model.Timer, error) {
	if err := s.timerInScope(ctx, scope, timerID); err != nil {
		return model.Timer{}, err
	}
	return s.reconciler.DiscardTimer(ctx, timerID)
}

func (s *Service) FinalizeTimer(ctx context.Context, scope model.Scope, timerID, description string, billable bool) (model.TimesheetEntry, error) {
	if err := s.timerInScope(ctx, scope, timerID); err != nil {
		return model.TimesheetEntry{}, err
	}
	return s.reconciler.FinalizeTimer(ctx, scope, timerID, description, billable)
}

func (s *Service) ActiveTimers(ctx context.Context, scope model.Scope) ([]model.Timer, error) {
	return s.reconciler.ActiveTimers(ctx, scope)
}

func (s *Service) LogHours(ctx context.Context, scope model.Scope, id string, in timekeeping.HoursInput) (model.TimesheetEntry, error) {
	task, err := s.taskForCommand(ctx, scope, id)
	if err != nil {
		return model.TimesheetEntry{}, err
	}
	return s.reconciler.LogHours(ctx, scope, task.ID, in)
}

func (s *Service) TimesheetEntries(ctx context.Context, scope model.Scope, taskID string) ([]model.TimesheetEntry, error) {
	if _, err := s.GetTask(ctx, scope, taskID); err != nil {
		return nil, err
	}
	return s.store.ListTimesheetEntries(ctx, taskID)
}

// CalculateDeadline computes a legal limit date with the stored function.
func (s *Service) CalculateDeadline(ctx context.Context, intimation dates.Date, days int, business bool) (dates.Date, error) {
	if days < 0 || days > store.MaxDeadlineDays {
		return dates.Date{}, fmt.Errorf("deadline: %w: %d days (allowed 0..%d)", store.ErrDeadlineTerm, days, store.MaxDeadlineDays)
	}
	return s.solver.CalculateLimit(ctx, intimation, days, business)
}
