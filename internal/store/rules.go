package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"legalagenda/internal/dates"
	"legalagenda/internal/model"
)

const ruleColumns = `id, office_id, entity_kind, template_id, frequency, interval_n, anchor_date, until_date, active, created_at, deactivated_at`

func (q *Queries) scanRule(r rowScanner) (model.RecurrenceRule, error) {
	var (
		rule                     model.RecurrenceRule
		kind, freq, anchor, made string
		active                   int
		until, deactivated       sql.NullString
	)
	if err := r.Scan(&rule.ID, &rule.OfficeID, &kind, &rule.TemplateID, &freq, &rule.Interval, &anchor, &until, &active, &made, &deactivated); err != nil {
		return model.RecurrenceRule{}, err
	}
	rule.EntityKind = model.Kind(kind)
	rule.Frequency = model.Frequency(freq)
	rule.Active = active != 0

	var err error
	if rule.Anchor, err = dates.Parse(anchor); err != nil {
		return model.RecurrenceRule{}, fmt.Errorf("rule %s anchor: %w", rule.ID, err)
	}
	if rule.Until, err = decDatePtr(until); err != nil {
		return model.RecurrenceRule{}, err
	}
	if rule.CreatedAt, err = q.decTime(made); err != nil {
		return model.RecurrenceRule{}, err
	}
	if rule.DeactivatedAt, err = q.decTimePtr(deactivated); err != nil {
		return model.RecurrenceRule{}, err
	}
	return rule, nil
}

func (q *Queries) InsertRule(ctx context.Context, rule model.RecurrenceRule) (model.RecurrenceRule, error) {
	if rule.ID == "" {
		rule.ID = NewID()
	}
	if rule.Interval <= 0 {
		rule.Interval = 1
	}
	rule.Active = true
	rule.CreatedAt = q.now().In(q.loc)
	_, err := q.q.ExecContext(ctx, `INSERT INTO recurrence_rules(`+ruleColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, 1, ?, NULL)`,
		rule.ID, rule.OfficeID, string(rule.EntityKind), rule.TemplateID, string(rule.Frequency), rule.Interval,
		rule.Anchor.String(), encDatePtr(rule.Until), encTime(rule.CreatedAt))
	if err != nil {
		return model.RecurrenceRule{}, model.Persistence("insert rule", err)
	}
	return rule, nil
}

// GetRule returns the rule whether active or not.
func (q *Queries) GetRule(ctx context.Context, id string) (model.RecurrenceRule, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules WHERE id = ?`, id)
	rule, err := q.scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RecurrenceRule{}, fmt.Errorf("rule %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.RecurrenceRule{}, model.Persistence("get rule", err)
	}
	return rule, nil
}

func (q *Queries) ListActiveRules(ctx context.Context, officeID string) ([]model.RecurrenceRule, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules WHERE office_id = ? AND active = 1 ORDER BY id`, officeID)
	if err != nil {
		return nil, model.Persistence("list rules", err)
	}
	defer rows.Close()

	out := make([]model.RecurrenceRule, 0)
	for rows.Next() {
		rule, err := q.scanRule(rows)
		if err != nil {
			return nil, model.Persistence("scan rule", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Persistence("list rules", err)
	}
	return out, nil
}

// DeactivateRule stops future expansion. Deactivation is terminal: a rule
// that is already inactive is left untouched and reported as not found.
func (q *Queries) DeactivateRule(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `UPDATE recurrence_rules SET active = 0, deactivated_at = ? WHERE id = ? AND active = 1`, q.stamp(), id)
	if err != nil {
		return model.Persistence("deactivate rule", err)
	}
	return expectOne(res, "active rule", id)
}

// OccurrenceKey identifies a materialized occurrence.
type OccurrenceKey struct {
	RecurrenceID string
	Date         dates.Date
}

// OccurrenceDates returns every (rule, source date) pair already held by a
// task or event row in [from, to], tombstoned rows included. Consumers use it
// to suppress virtual occurrences that have a row.
func (q *Queries) OccurrenceDates(ctx context.Context, officeID string, from, to dates.Date) (map[OccurrenceKey]bool, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT recorrencia_id, source_date FROM tasks
			WHERE office_id = ? AND recorrencia_id IS NOT NULL AND source_date >= ? AND source_date <= ?
		UNION
		SELECT recorrencia_id, source_date FROM events
			WHERE office_id = ? AND recorrencia_id IS NOT NULL AND source_date >= ? AND source_date <= ?`,
		officeID, from.String(), to.String(), officeID, from.String(), to.String())
	if err != nil {
		return nil, model.Persistence("occurrence dates", err)
	}
	defer rows.Close()

	out := make(map[OccurrenceKey]bool)
	for rows.Next() {
		var ruleID, raw string
		if err := rows.Scan(&ruleID, &raw); err != nil {
			return nil, model.Persistence("scan occurrence date", err)
		}
		d, err := dates.Parse(raw)
		if err != nil {
			return nil, model.Persistence("parse occurrence date", err)
		}
		out[OccurrenceKey{RecurrenceID: ruleID, Date: d}] = true
	}
	if err := rows.Err(); err != nil {
		return nil, model.Persistence("occurrence dates", err)
	}
	return out, nil
}

// FindOccurrence looks up the row holding (ruleID, date) in the table that
// stores kind.
func (q *Queries) FindOccurrence(ctx context.Context, kind model.Kind, ruleID string, d dates.Date) (id string, deleted, found bool, err error) {
	switch kind {
	case model.KindTask:
		return q.findOccurrence(ctx, "tasks", ruleID, d)
	case model.KindEvent:
		return q.findOccurrence(ctx, "events", ruleID, d)
	default:
		return "", false, false, fmt.Errorf("store: kind %q has no occurrences", kind)
	}
}

func (q *Queries) findOccurrence(ctx context.Context, table, ruleID string, d dates.Date) (string, bool, bool, error) {
	var (
		id      string
		deleted sql.NullString
	)
	err := q.q.QueryRowContext(ctx, `SELECT id, deleted_at FROM `+table+` WHERE recorrencia_id = ? AND source_date = ?`,
		ruleID, d.String()).Scan(&id, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, false, nil
	}
	if err != nil {
		return "", false, false, model.Persistence("find occurrence", err)
	}
	return id, deleted.Valid, true, nil
}
