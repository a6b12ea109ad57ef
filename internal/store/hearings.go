package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"legalagenda/internal/dates"
	"legalagenda/internal/model"
)

const hearingColumns = `id, office_id, title, status, assignee_name, case_number, location, data_hora, processo_id, external_uid, feed_id`

func (q *Queries) scanHearing(r rowScanner) (model.Hearing, error) {
	var (
		h                   model.Hearing
		status, at          string
		caseID, uid, feedID sql.NullString
	)
	if err := r.Scan(&h.ID, &h.OfficeID, &h.Title, &status, &h.AssigneeName, &h.CaseNumber, &h.Location, &at, &caseID, &uid, &feedID); err != nil {
		return model.Hearing{}, err
	}
	h.Status = model.Status(status)
	h.CaseID = caseID.String
	h.ExternalUID = uid.String
	h.FeedID = feedID.String
	var err error
	if h.At, err = q.decTime(at); err != nil {
		return model.Hearing{}, fmt.Errorf("hearing %s data_hora: %w", h.ID, err)
	}
	return h, nil
}

func (q *Queries) InsertHearing(ctx context.Context, h model.Hearing) (model.Hearing, error) {
	if h.ID == "" {
		h.ID = NewID()
	}
	if h.Status == "" {
		h.Status = model.StatusScheduled
	}
	now := q.stamp()
	_, err := q.q.ExecContext(ctx, `INSERT INTO hearings(id, office_id, title, status, assignee_name, case_number, location,
		data_hora, processo_id, external_uid, feed_id, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.OfficeID, h.Title, string(h.Status), h.AssigneeName, h.CaseNumber, h.Location,
		encTime(h.At), nullString(h.CaseID), nullString(h.ExternalUID), nullString(h.FeedID), now, now)
	if err != nil {
		return model.Hearing{}, model.Persistence("insert hearing", err)
	}
	return h, nil
}

// UpsertHearingByUID inserts or refreshes a feed-imported hearing keyed by
// (office_id, external_uid). It reports whether a new row was created.
func (q *Queries) UpsertHearingByUID(ctx context.Context, h model.Hearing) (bool, error) {
	if h.ExternalUID == "" {
		return false, errors.New("store: hearing upsert needs an external uid")
	}
	var existing string
	err := q.q.QueryRowContext(ctx, `SELECT id FROM hearings WHERE office_id = ? AND external_uid = ?`, h.OfficeID, h.ExternalUID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err := q.InsertHearing(ctx, h)
		return err == nil, err
	case err != nil:
		return false, model.Persistence("lookup hearing", err)
	}

	// Status is owned locally once the hearing exists; the feed only moves
	// time, title and place.
	_, err = q.q.ExecContext(ctx, `UPDATE hearings SET title = ?, location = ?, data_hora = ?, case_number = ?, feed_id = ?, updated_at = ?
		WHERE id = ?`, h.Title, h.Location, encTime(h.At), h.CaseNumber, nullString(h.FeedID), q.stamp(), existing)
	if err != nil {
		return false, model.Persistence("update hearing", err)
	}
	return false, nil
}

func (q *Queries) GetHearing(ctx context.Context, id string) (model.Hearing, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+hearingColumns+` FROM hearings WHERE id = ?`, id)
	h, err := q.scanHearing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Hearing{}, fmt.Errorf("hearing %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Hearing{}, model.Persistence("get hearing", err)
	}
	return h, nil
}

func (q *Queries) ListHearings(ctx context.Context, officeID string, from, to dates.Date) ([]model.Hearing, error) {
	lo, hi := q.rangeBounds(from, to)
	rows, err := q.q.QueryContext(ctx, `SELECT `+hearingColumns+` FROM hearings
		WHERE office_id = ? AND data_hora >= ? AND data_hora < ? ORDER BY data_hora, id`, officeID, lo, hi)
	if err != nil {
		return nil, model.Persistence("list hearings", err)
	}
	defer rows.Close()

	out := make([]model.Hearing, 0)
	for rows.Next() {
		h, err := q.scanHearing(rows)
		if err != nil {
			return nil, model.Persistence("scan hearing", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Persistence("list hearings", err)
	}
	return out, nil
}

// ListOpenHearingsBefore returns hearings before the given day that were
// never held or cancelled.
func (q *Queries) ListOpenHearingsBefore(ctx context.Context, officeID string, before dates.Date) ([]model.Hearing, error) {
	args := append([]any{officeID, encTime(before.In(q.loc))}, doneStatuses...)
	rows, err := q.q.QueryContext(ctx, `SELECT `+hearingColumns+` FROM hearings
		WHERE office_id = ? AND data_hora < ? AND status NOT IN (?, ?, ?)
		ORDER BY data_hora, id`, args...)
	if err != nil {
		return nil, model.Persistence("list open hearings", err)
	}
	defer rows.Close()

	out := make([]model.Hearing, 0)
	for rows.Next() {
		h, err := q.scanHearing(rows)
		if err != nil {
			return nil, model.Persistence("scan hearing", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Persistence("list open hearings", err)
	}
	return out, nil
}

func (q *Queries) SetHearingStatus(ctx context.Context, id string, status model.Status) error {
	res, err := q.q.ExecContext(ctx, `UPDATE hearings SET status = ?, updated_at = ? WHERE id = ?`, string(status), q.stamp(), id)
	if err != nil {
		return model.Persistence("set hearing status", err)
	}
	return expectOne(res, "hearing", id)
}
