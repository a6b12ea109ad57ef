package store

import (
	"database/sql"
	"time"

	"legalagenda/internal/dates"
)

// Timestamps are stored as fixed-width UTC text so that lexical order equals
// chronological order in range queries.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func encTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func encTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encTime(*t), Valid: true}
}

func encDatePtr(d *dates.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (q *Queries) decTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(q.loc), nil
}

func (q *Queries) decTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := q.decTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decDatePtr(ns sql.NullString) (*dates.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := dates.Parse(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// rangeBounds converts an inclusive day window into [start, end) timestamps.
func (q *Queries) rangeBounds(from, to dates.Date) (string, string) {
	return encTime(from.In(q.loc)), encTime(to.AddDays(1).In(q.loc))
}

// stamp returns the current time encoded for created/updated columns.
func (q *Queries) stamp() string {
	return encTime(q.now())
}
