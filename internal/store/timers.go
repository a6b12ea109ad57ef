package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"legalagenda/internal/dates"
	"legalagenda/internal/model"
)

const timerColumns = `id, office_id, user_id, task_id, processo_id, consultivo_id, status, started_at, resumed_at, accumulated_ms, ended_at`

func (q *Queries) scanTimer(r rowScanner) (model.Timer, error) {
	var (
		t                      model.Timer
		taskID, caseID, consID sql.NullString
		status, started        string
		resumed, ended         sql.NullString
		accumulatedMs          int64
	)
	if err := r.Scan(&t.ID, &t.OfficeID, &t.UserID, &taskID, &caseID, &consID, &status, &started, &resumed, &accumulatedMs, &ended); err != nil {
		return model.Timer{}, err
	}
	t.TaskID = taskID.String
	t.CaseID = caseID.String
	t.ConsultationID = consID.String
	t.Status = model.TimerStatus(status)
	t.Accumulated = time.Duration(accumulatedMs) * time.Millisecond

	var err error
	if t.StartedAt, err = q.decTime(started); err != nil {
		return model.Timer{}, err
	}
	if t.ResumedAt, err = q.decTimePtr(resumed); err != nil {
		return model.Timer{}, err
	}
	if t.EndedAt, err = q.decTimePtr(ended); err != nil {
		return model.Timer{}, err
	}
	return t, nil
}

func (q *Queries) InsertTimer(ctx context.Context, t model.Timer) (model.Timer, error) {
	if t.ID == "" {
		t.ID = NewID()
	}
	_, err := q.q.ExecContext(ctx, `INSERT INTO timers(`+timerColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OfficeID, t.UserID, nullString(t.TaskID), nullString(t.CaseID), nullString(t.ConsultationID),
		string(t.Status), encTime(t.StartedAt), encTimePtr(t.ResumedAt), t.Accumulated.Milliseconds(), encTimePtr(t.EndedAt))
	if err != nil {
		return model.Timer{}, model.Persistence("insert timer", err)
	}
	return t, nil
}

func (q *Queries) GetTimer(ctx context.Context, id string) (model.Timer, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+timerColumns+` FROM timers WHERE id = ?`, id)
	t, err := q.scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Timer{}, fmt.Errorf("timer %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Timer{}, model.Persistence("get timer", err)
	}
	return t, nil
}

// ActiveTimerForTask returns the running or paused timer of a task, or nil.
func (q *Queries) ActiveTimerForTask(ctx context.Context, taskID string) (*model.Timer, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+timerColumns+` FROM timers
		WHERE task_id = ? AND ended_at IS NULL ORDER BY started_at DESC LIMIT 1`, taskID)
	t, err := q.scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Persistence("active timer", err)
	}
	return &t, nil
}

// UpdateTimer persists the mutable timer state. Ended timers are immutable.
func (q *Queries) UpdateTimer(ctx context.Context, t model.Timer) error {
	res, err := q.q.ExecContext(ctx, `UPDATE timers SET status = ?, resumed_at = ?, accumulated_ms = ?, ended_at = ?
		WHERE id = ? AND ended_at IS NULL`,
		string(t.Status), encTimePtr(t.ResumedAt), t.Accumulated.Milliseconds(), encTimePtr(t.EndedAt), t.ID)
	if err != nil {
		return model.Persistence("update timer", err)
	}
	return expectOne(res, "active timer", t.ID)
}

func (q *Queries) ListActiveTimers(ctx context.Context, officeID, userID string) ([]model.Timer, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+timerColumns+` FROM timers
		WHERE office_id = ? AND (? = '' OR user_id = ?) AND ended_at IS NULL ORDER BY started_at`, officeID, userID, userID)
	if err != nil {
		return nil, model.Persistence("list timers", err)
	}
	defer rows.Close()

	out := make([]model.Timer, 0)
	for rows.Next() {
		t, err := q.scanTimer(rows)
		if err != nil {
			return nil, model.Persistence("scan timer", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Persistence("list timers", err)
	}
	return out, nil
}

const entryColumns = `id, office_id, user_id, task_id, processo_id, consultivo_id, timer_id, work_date, minutes, billable, description, created_at`

// InsertTimesheetEntry writes an immutable entry. A timer can back at most
// one entry.
func (q *Queries) InsertTimesheetEntry(ctx context.Context, e model.TimesheetEntry) (model.TimesheetEntry, error) {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Minutes <= 0 {
		return model.TimesheetEntry{}, errors.New("store: timesheet entry needs positive minutes")
	}
	e.CreatedAt = q.now().In(q.loc)
	_, err := q.q.ExecContext(ctx, `INSERT INTO timesheet_entries(`+entryColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OfficeID, e.UserID, nullString(e.TaskID), nullString(e.CaseID), nullString(e.ConsultationID), nullString(e.TimerID),
		e.WorkDate.String(), e.Minutes, boolToInt(e.Billable), e.Description, encTime(e.CreatedAt))
	if err != nil {
		return model.TimesheetEntry{}, model.Persistence("insert timesheet entry", err)
	}
	return e, nil
}

func (q *Queries) ListTimesheetEntries(ctx context.Context, taskID string) ([]model.TimesheetEntry, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+entryColumns+` FROM timesheet_entries WHERE task_id = ? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, model.Persistence("list timesheet entries", err)
	}
	defer rows.Close()

	out := make([]model.TimesheetEntry, 0)
	for rows.Next() {
		var (
			e                             model.TimesheetEntry
			task, caseID, consID, timerID sql.NullString
			workDate, created             string
			billable                      int
		)
		if err := rows.Scan(&e.ID, &e.OfficeID, &e.UserID, &task, &caseID, &consID, &timerID, &workDate, &e.Minutes, &billable, &e.Description, &created); err != nil {
			return nil, model.Persistence("scan timesheet entry", err)
		}
		e.TaskID = task.String
		e.CaseID = caseID.String
		e.ConsultationID = consID.String
		e.TimerID = timerID.String
		e.Billable = billable != 0
		if e.WorkDate, err = dates.Parse(workDate); err != nil {
			return nil, model.Persistence("parse work date", err)
		}
		if e.CreatedAt, err = q.decTime(created); err != nil {
			return nil, model.Persistence("parse created_at", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Persistence("list timesheet entries", err)
	}
	return out, nil
}
