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

const taskColumns = `id, office_id, title, subtipo, status, priority, assignee_name, case_number, location,
	data_inicio, prazo_data_limite, completed_at, processo_id, consultivo_id, recorrencia_id, source_date, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (q *Queries) scanTask(r rowScanner) (model.Task, error) {
	var (
		t                                   model.Task
		subtype, status, priority, start    string
		deadline, completed, caseID, consID sql.NullString
		ruleID, sourceDate, deleted         sql.NullString
	)
	if err := r.Scan(&t.ID, &t.OfficeID, &t.Title, &subtype, &status, &priority, &t.AssigneeName, &t.CaseNumber, &t.Location,
		&start, &deadline, &completed, &caseID, &consID, &ruleID, &sourceDate, &deleted); err != nil {
		return model.Task{}, err
	}
	t.Subtype = model.Subtype(subtype)
	t.Status = model.Status(status)
	t.Priority = model.Priority(priority)
	t.CaseID = caseID.String
	t.ConsultationID = consID.String
	t.RecurrenceID = ruleID.String

	var err error
	if t.Start, err = q.decTime(start); err != nil {
		return model.Task{}, fmt.Errorf("task %s data_inicio: %w", t.ID, err)
	}
	if t.FixedDeadline, err = decDatePtr(deadline); err != nil {
		return model.Task{}, fmt.Errorf("task %s prazo_data_limite: %w", t.ID, err)
	}
	if t.CompletedAt, err = q.decTimePtr(completed); err != nil {
		return model.Task{}, err
	}
	if t.SourceDate, err = decDatePtr(sourceDate); err != nil {
		return model.Task{}, err
	}
	if t.DeletedAt, err = q.decTimePtr(deleted); err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func taskArgs(t model.Task) []any {
	return []any{
		t.ID, t.OfficeID, t.Title, string(t.Subtype), string(t.Status), string(t.Priority),
		t.AssigneeName, t.CaseNumber, t.Location,
		encTime(t.Start), encDatePtr(t.FixedDeadline), encTimePtr(t.CompletedAt),
		nullString(t.CaseID), nullString(t.ConsultationID), nullString(t.RecurrenceID), encDatePtr(t.SourceDate),
	}
}

const insertTaskSQL = `INSERT INTO tasks(id, office_id, title, subtipo, status, priority, assignee_name, case_number, location,
	data_inicio, prazo_data_limite, completed_at, processo_id, consultivo_id, recorrencia_id, source_date, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertTask stores a new task, assigning an id when empty.
func (q *Queries) InsertTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Status == "" {
		t.Status = model.StatusPending
	}
	now := q.stamp()
	args := append(taskArgs(t), now, now)
	if _, err := q.q.ExecContext(ctx, insertTaskSQL, args...); err != nil {
		return model.Task{}, model.Persistence("insert task", err)
	}
	return t, nil
}

// InsertTaskOccurrence inserts a materialized occurrence unless a row already
// holds its (recorrencia_id, source_date) pair, and returns the id of the row
// that holds the pair afterwards together with its tombstone state.
func (q *Queries) InsertTaskOccurrence(ctx context.Context, t model.Task) (string, bool, error) {
	if t.RecurrenceID == "" || t.SourceDate == nil {
		return "", false, errors.New("store: task occurrence needs recurrence id and source date")
	}
	if t.ID == "" {
		t.ID = NewID()
	}
	now := q.stamp()
	args := append(taskArgs(t), now, now)
	if _, err := q.q.ExecContext(ctx, insertTaskSQL+` ON CONFLICT(recorrencia_id, source_date) DO NOTHING`, args...); err != nil {
		return "", false, model.Persistence("insert task occurrence", err)
	}
	id, deleted, found, err := q.findOccurrence(ctx, "tasks", t.RecurrenceID, *t.SourceDate)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, model.Persistence("insert task occurrence", errors.New("row vanished after insert"))
	}
	return id, deleted, nil
}

// GetTask returns a live (not tombstoned) task.
func (q *Queries) GetTask(ctx context.Context, id string) (model.Task, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ? AND deleted_at IS NULL`, id)
	t, err := q.scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Task{}, model.Persistence("get task", err)
	}
	return t, nil
}

// ListTasks returns live tasks of an office whose start falls in [from, to].
func (q *Queries) ListTasks(ctx context.Context, officeID string, from, to dates.Date) ([]model.Task, error) {
	lo, hi := q.rangeBounds(from, to)
	rows, err := q.q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE office_id = ? AND deleted_at IS NULL AND data_inicio >= ? AND data_inicio < ?
		ORDER BY data_inicio, id`, officeID, lo, hi)
	if err != nil {
		return nil, model.Persistence("list tasks", err)
	}
	defer rows.Close()

	out := make([]model.Task, 0)
	for rows.Next() {
		t, err := q.scanTask(rows)
		if err != nil {
			return nil, model.Persistence("scan task", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Persistence("list tasks", err)
	}
	return out, nil
}

// doneStatuses are excluded from the open-row look-backs. Keep in step with
// model.Status.Done.
var doneStatuses = []any{string(model.StatusCompleted), string(model.StatusHeld), string(model.StatusCancelled)}

// ListOpenTasksBefore returns unfinished tasks starting before the given day.
// Overdue views use it to look back past their window.
func (q *Queries) ListOpenTasksBefore(ctx context.Context, officeID string, before dates.Date) ([]model.Task, error) {
	args := append([]any{officeID, encTime(before.In(q.loc))}, doneStatuses...)
	rows, err := q.q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE office_id = ? AND deleted_at IS NULL AND data_inicio < ? AND status NOT IN (?, ?, ?)
		ORDER BY data_inicio, id`, args...)
	if err != nil {
		return nil, model.Persistence("list open tasks", err)
	}
	defer rows.Close()

	out := make([]model.Task, 0)
	for rows.Next() {
		t, err := q.scanTask(rows)
		if err != nil {
			return nil, model.Persistence("scan task", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Persistence("list open tasks", err)
	}
	return out, nil
}

// UpdateTaskSchedule writes data_inicio and prazo_data_limite together.
func (q *Queries) UpdateTaskSchedule(ctx context.Context, id string, start time.Time, deadline *dates.Date) error {
	res, err := q.q.ExecContext(ctx, `UPDATE tasks SET data_inicio = ?, prazo_data_limite = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`, encTime(start), encDatePtr(deadline), q.stamp(), id)
	if err != nil {
		return model.Persistence("update task schedule", err)
	}
	return expectOne(res, "task", id)
}

// SetTaskStatus writes status and completed_at together.
func (q *Queries) SetTaskStatus(ctx context.Context, id string, status model.Status, completedAt *time.Time) error {
	res, err := q.q.ExecContext(ctx, `UPDATE tasks SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`, string(status), encTimePtr(completedAt), q.stamp(), id)
	if err != nil {
		return model.Persistence("set task status", err)
	}
	return expectOne(res, "task", id)
}

// DeleteTask hard-deletes a non-recurring task.
func (q *Queries) DeleteTask(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return model.Persistence("delete task", err)
	}
	return expectOne(res, "task", id)
}

// TombstoneTask hides an occurrence row while keeping its
// (recorrencia_id, source_date) pair occupied.
func (q *Queries) TombstoneTask(ctx context.Context, id string) error {
	now := q.stamp()
	res, err := q.q.ExecContext(ctx, `UPDATE tasks SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
	if err != nil {
		return model.Persistence("tombstone task", err)
	}
	return expectOne(res, "task", id)
}

// LinkTaskToRule marks an existing task as the template/first occurrence of a rule.
func (q *Queries) LinkTaskToRule(ctx context.Context, id, ruleID string, sourceDate dates.Date) error {
	res, err := q.q.ExecContext(ctx, `UPDATE tasks SET recorrencia_id = ?, source_date = ?, updated_at = ? WHERE id = ?`,
		ruleID, sourceDate.String(), q.stamp(), id)
	if err != nil {
		return model.Persistence("link task to rule", err)
	}
	return expectOne(res, "task", id)
}

func expectOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return model.Persistence("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, model.ErrNotFound)
	}
	return nil
}

// TaskTemplate returns a task row even when tombstoned. Recurrence templates
// stay usable after their own occurrence is deleted.
func (q *Queries) TaskTemplate(ctx context.Context, id string) (model.Task, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := q.scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task template %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Task{}, model.Persistence("get task template", err)
	}
	return t, nil
}
