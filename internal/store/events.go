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

const eventColumns = `id, office_id, title, subtipo, status, priority, assignee_name, case_number, location,
	all_day, data_inicio, data_fim, processo_id, recorrencia_id, source_date, deleted_at`

func (q *Queries) scanEvent(r rowScanner) (model.Event, error) {
	var (
		e                                model.Event
		subtype, status, priority, start string
		allDay                           int
		end, caseID, ruleID, sourceDate  sql.NullString
		deleted                          sql.NullString
	)
	if err := r.Scan(&e.ID, &e.OfficeID, &e.Title, &subtype, &status, &priority, &e.AssigneeName, &e.CaseNumber, &e.Location,
		&allDay, &start, &end, &caseID, &ruleID, &sourceDate, &deleted); err != nil {
		return model.Event{}, err
	}
	e.Subtype = model.Subtype(subtype)
	e.Status = model.Status(status)
	e.Priority = model.Priority(priority)
	e.AllDay = allDay != 0
	e.CaseID = caseID.String
	e.RecurrenceID = ruleID.String

	var err error
	if e.Start, err = q.decTime(start); err != nil {
		return model.Event{}, fmt.Errorf("event %s data_inicio: %w", e.ID, err)
	}
	if e.End, err = q.decTimePtr(end); err != nil {
		return model.Event{}, fmt.Errorf("event %s data_fim: %w", e.ID, err)
	}
	if e.SourceDate, err = decDatePtr(sourceDate); err != nil {
		return model.Event{}, err
	}
	if e.DeletedAt, err = q.decTimePtr(deleted); err != nil {
		return model.Event{}, err
	}
	return e, nil
}

func eventArgs(e model.Event) []any {
	return []any{
		e.ID, e.OfficeID, e.Title, string(e.Subtype), string(e.Status), string(e.Priority),
		e.AssigneeName, e.CaseNumber, e.Location, boolToInt(e.AllDay),
		encTime(e.Start), encTimePtr(e.End), nullString(e.CaseID), nullString(e.RecurrenceID), encDatePtr(e.SourceDate),
	}
}

const insertEventSQL = `INSERT INTO events(id, office_id, title, subtipo, status, priority, assignee_name, case_number, location,
	all_day, data_inicio, data_fim, processo_id, recorrencia_id, source_date, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertEvent(ctx context.Context, e model.Event) (model.Event, error) {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Status == "" {
		e.Status = model.StatusScheduled
	}
	now := q.stamp()
	args := append(eventArgs(e), now, now)
	if _, err := q.q.ExecContext(ctx, insertEventSQL, args...); err != nil {
		return model.Event{}, model.Persistence("insert event", err)
	}
	return e, nil
}

// InsertEventOccurrence is the event counterpart of InsertTaskOccurrence.
func (q *Queries) InsertEventOccurrence(ctx context.Context, e model.Event) (string, bool, error) {
	if e.RecurrenceID == "" || e.SourceDate == nil {
		return "", false, errors.New("store: event occurrence needs recurrence id and source date")
	}
	if e.ID == "" {
		e.ID = NewID()
	}
	now := q.stamp()
	args := append(eventArgs(e), now, now)
	if _, err := q.q.ExecContext(ctx, insertEventSQL+` ON CONFLICT(recorrencia_id, source_date) DO NOTHING`, args...); err != nil {
		return "", false, model.Persistence("insert event occurrence", err)
	}
	id, deleted, found, err := q.findOccurrence(ctx, "events", e.RecurrenceID, *e.SourceDate)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, model.Persistence("insert event occurrence", errors.New("row vanished after insert"))
	}
	return id, deleted, nil
}

func (q *Queries) GetEvent(ctx context.Context, id string) (model.Event, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ? AND deleted_at IS NULL`, id)
	e, err := q.scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, fmt.Errorf("event %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Event{}, model.Persistence("get event", err)
	}
	return e, nil
}

// ListEvents returns live events whose start falls in [from, to].
func (q *Queries) ListEvents(ctx context.Context, officeID string, from, to dates.Date) ([]model.Event, error) {
	lo, hi := q.rangeBounds(from, to)
	rows, err := q.q.QueryContext(ctx, `SELECT `+eventColumns+` FROM events
		WHERE office_id = ? AND deleted_at IS NULL AND data_inicio >= ? AND data_inicio < ?
		ORDER BY data_inicio, id`, officeID, lo, hi)
	if err != nil {
		return nil, model.Persistence("list events", err)
	}
	defer rows.Close()

	out := make([]model.Event, 0)
	for rows.Next() {
		e, err := q.scanEvent(rows)
		if err != nil {
			return nil, model.Persistence("scan event", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Persistence("list events", err)
	}
	return out, nil
}

// ListOpenEventsBefore returns unfinished events starting before the given day.
func (q *Queries) ListOpenEventsBefore(ctx context.Context, officeID string, before dates.Date) ([]model.Event, error) {
	args := append([]any{officeID, encTime(before.In(q.loc))}, doneStatuses...)
	rows, err := q.q.QueryContext(ctx, `SELECT `+eventColumns+` FROM events
		WHERE office_id = ? AND deleted_at IS NULL AND data_inicio < ? AND status NOT IN (?, ?, ?)
		ORDER BY data_inicio, id`, args...)
	if err != nil {
		return nil, model.Persistence("list open events", err)
	}
	defer rows.Close()

	out := make([]model.Event, 0)
	for rows.Next() {
		e, err := q.scanEvent(rows)
		if err != nil {
			return nil, model.Persistence("scan event", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Persistence("list open events", err)
	}
	return out, nil
}

func (q *Queries) UpdateEventSchedule(ctx context.Context, id string, start time.Time, end *time.Time) error {
	res, err := q.q.ExecContext(ctx, `UPDATE events SET data_inicio = ?, data_fim = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`, encTime(start), encTimePtr(end), q.stamp(), id)
	if err != nil {
		return model.Persistence("update event schedule", err)
	}
	return expectOne(res, "event", id)
}

func (q *Queries) SetEventStatus(ctx context.Context, id string, status model.Status) error {
	res, err := q.q.ExecContext(ctx, `UPDATE events SET status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		string(status), q.stamp(), id)
	if err != nil {
		return model.Persistence("set event status", err)
	}
	return expectOne(res, "event", id)
}

func (q *Queries) DeleteEvent(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return model.Persistence("delete event", err)
	}
	return expectOne(res, "event", id)
}

func (q *Queries) TombstoneEvent(ctx context.Context, id string) error {
	now := q.stamp()
	res, err := q.q.ExecContext(ctx, `UPDATE events SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
	if err != nil {
		return model.Persistence("tombstone event", err)
	}
	return expectOne(res, "event", id)
}

func (q *Queries) LinkEventToRule(ctx context.Context, id, ruleID string, sourceDate dates.Date) error {
	res, err := q.q.ExecContext(ctx, `UPDATE events SET recorrencia_id = ?, source_date = ?, updated_at = ? WHERE id = ?`,
		ruleID, sourceDate.String(), q.stamp(), id)
	if err != nil {
		return model.Persistence("link event to rule", err)
	}
	return expectOne(res, "event", id)
}

// EventTemplate is the event counterpart of TaskTemplate.
func (q *Queries) EventTemplate(ctx context.Context, id string) (model.Event, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := q.scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, fmt.Errorf("event template %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Event{}, model.Persistence("get event template", err)
	}
	return e, nil
}
