// Package materialize turns virtual occurrences into persisted rows.
package materialize

import (
	"context"
	"errors"
	"fmt"

	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
	"legalagenda/internal/occurrence"
	"legalagenda/internal/recurrence"
	"legalagenda/internal/store"
)

// Materializer converts a virtual occurrence into a concrete task or event row
// exactly once per (rule, date). Convergence under concurrent callers comes
// from the store's unique index, not from locking here.
type Materializer struct {
	store    *store.Store
	expander *recurrence.Expander
}

func New(st *store.Store, exp *recurrence.Expander) *Materializer {
	return &Materializer{store: st, expander: exp}
}

// Materialize normalizes any agenda id into a concrete row id. Ids without
// the virtual prefix are returned unchanged.
func (m *Materializer) Materialize(ctx context.Context, id string) (string, error) {
	if !occurrence.IsVirtual(id) {
		return id, nil
	}
	ref, err := occurrence.Resolve(id)
	if err != nil {
		return "", err
	}
	return m.Resolve(ctx, ref)
}

// Resolve returns the concrete id behind ref, materializing it if needed.
func (m *Materializer) Resolve(ctx context.Context, ref occurrence.Ref) (string, error) {
	switch r := ref.(type) {
	case occurrence.Concrete:
		return r.ID, nil
	case occurrence.Virtual:
		var id string
		err := m.store.InTx(ctx, func(q *store.Queries) error {
			var err error
			id, err = m.materialize(ctx, q, r)
			return err
		})
		if err != nil {
			return "", err
		}
		return id, nil
	default:
		return "", fmt.Errorf("materialize: unknown ref %T", ref)
	}
}

func (m *Materializer) materialize(ctx context.Context, q *store.Queries, v occurrence.Virtual) (string, error) {
	rule, err := q.GetRule(ctx, v.RecurrenceID)
	if errors.Is(err, model.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", model.ErrRecurrenceNotFound, v.RecurrenceID)
	}
	if err != nil {
		return "", err
	}
	if !rule.Active {
		return "", fmt.Errorf("%w: %s is inactive", model.ErrRecurrenceNotFound, rule.ID)
	}

	id, deleted, found, err := q.FindOccurrence(ctx, rule.EntityKind, rule.ID, v.Date)
	if err != nil {
		return "", err
	}
	if found {
		if deleted {
			return "", fmt.Errorf("occurrence %s: %w", v, model.ErrNotFound)
		}
		appLog.Debug("occurrence already materialized", "virtual_id", v.String(), "id", id)
		return id, nil
	}

	ok, err := m.expander.Occurs(rule, v.Date)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s is not an occurrence of rule %s", model.ErrInvalidVirtualID, v.Date, rule.ID)
	}

	loc := q.Location()
	switch rule.EntityKind {
	case model.KindTask:
		tmpl, err := q.TaskTemplate(ctx, rule.TemplateID)
		if err != nil {
			return "", templateErr(rule, err)
		}
		id, deleted, err = q.InsertTaskOccurrence(ctx, occurrence.ProjectTask(tmpl, rule.ID, v.Date, loc))
	case model.KindEvent:
		tmpl, err := q.EventTemplate(ctx, rule.TemplateID)
		if err != nil {
			return "", templateErr(rule, err)
		}
		id, deleted, err = q.InsertEventOccurrence(ctx, occurrence.ProjectEvent(tmpl, rule.ID, v.Date, loc))
	default:
		return "", fmt.Errorf("%w: rule %s has kind %q", model.ErrRecurrenceNotFound, rule.ID, rule.EntityKind)
	}
	if err != nil {
		return "", err
	}
	if deleted {
		return "", fmt.Errorf("occurrence %s: %w", v, model.ErrNotFound)
	}

	appLog.Info("occurrence materialized", "virtual_id", v.String(), "id", id, "kind", string(rule.EntityKind))
	return id, nil
}

func templateErr(rule model.RecurrenceRule, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("%w: template %s of rule %s is gone", model.ErrRecurrenceNotFound, rule.TemplateID, rule.ID)
	}
	return err
}
