// Package engine is the command surface of the scheduling core. It wires the
// expander, materializer, consolidator, cascade solver, lifecycle machine and
// time reconciler over one store, checks office scope on every command, and
// drops both read models after each successful write before returning.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"legalagenda/internal/agenda"
	"legalagenda/internal/cache"
	"legalagenda/internal/cascade"
	"legalagenda/internal/clock"
	"legalagenda/internal/ics"
	"legalagenda/internal/lifecycle"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/materialize"
	"legalagenda/internal/model"
	"legalagenda/internal/occurrence"
	"legalagenda/internal/recurrence"
	"legalagenda/internal/store"
	"legalagenda/internal/timekeeping"
)

// Options tunes New. Zero values pick sensible defaults.
type Options struct {
	Location              *time.Location
	Clock                 clock.Clock
	MaxOccurrencesPerRule int
	CacheTTL              time.Duration
}

type Service struct {
	store *store.Store
	clock clock.Clock
	loc   *time.Location

	expander     *recurrence.Expander
	materializer *materialize.Materializer
	consolidator *agenda.Consolidator
	solver       *cascade.Solver
	machine      *lifecycle.Machine
	reconciler   *timekeeping.Reconciler
	cache        *cache.Cache
}

func New(st *store.Store, opts Options) *Service {
	loc := opts.Location
	if loc == nil {
		loc = st.Location()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	exp := recurrence.NewExpander(loc, opts.MaxOccurrencesPerRule)
	rec := timekeeping.New(st, clk, loc)
	return &Service{
		store:        st,
		clock:        clk,
		loc:          loc,
		expander:     exp,
		materializer: materialize.New(st, exp),
		consolidator: agenda.NewConsolidator(st, exp, clk, loc),
		solver:       cascade.NewSolver(st, st, loc),
		machine:      lifecycle.New(st, clk, rec),
		reconciler:   rec,
		cache:        cache.New(opts.CacheTTL, clk),
	}
}

// Location is the zone calendar days are observed in.
func (s *Service) Location() *time.Location { return s.loc }

// Now is the current time in the service zone.
func (s *Service) Now() time.Time { return s.clock.Now().In(s.loc) }

func (s *Service) invalidate(ids ...string) {
	s.cache.Invalidate(ids...)
}

// List returns the consolidated agenda for q, served from the snapshot cache
// when an equal query was answered since the last write.
func (s *Service) List(ctx context.Context, q agenda.Query) ([]agenda.Entry, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return cache.Agenda(s.cache, q.Key(), func() ([]agenda.Entry, error) {
		return s.consolidator.List(ctx, q)
	})
}

// ExportICS serializes the agenda for q as an iCalendar document.
func (s *Service) ExportICS(ctx context.Context, q agenda.Query, name string) (string, error) {
	entries, err := s.List(ctx, q)
	if err != nil {
		return "", err
	}
	items := make([]model.AgendaItem, len(entries))
	for i, e := range entries {
		items[i] = e.AgendaItem
	}
	return ics.Export(name, items, s.Now(), s.loc), nil
}

// GetTask returns a live task of the scope's office.
func (s *Service) GetTask(ctx context.Context, scope model.Scope, id string) (model.Task, error) {
	t, err := cache.Entity(s.cache, id, func() (model.Task, error) {
		return s.store.GetTask(ctx, id)
	})
	if err != nil {
		return model.Task{}, err
	}
	if t.OfficeID != scope.OfficeID {
		return model.Task{}, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return t, nil
}

// GetEvent returns a live event of the scope's office.
func (s *Service) GetEvent(ctx context.Context, scope model.Scope, id string) (model.Event, error) {
	e, err := cache.Entity(s.cache, id, func() (model.Event, error) {
		return s.store.GetEvent(ctx, id)
	})
	if err != nil {
		return model.Event{}, err
	}
	if e.OfficeID != scope.OfficeID {
		return model.Event{}, fmt.Errorf("event %s: %w", id, model.ErrNotFound)
	}
	return e, nil
}

// ruleInScope loads a rule and hides rules of other offices.
func (s *Service) ruleInScope(ctx context.Context, scope model.Scope, id string) (model.RecurrenceRule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.RecurrenceRule{}, fmt.Errorf("%w: %s", model.ErrRecurrenceNotFound, id)
	}
	if err != nil {
		return model.RecurrenceRule{}, err
	}
	if rule.OfficeID != scope.OfficeID {
		return model.RecurrenceRule{}, fmt.Errorf("%w: %s", model.ErrRecurrenceNotFound, id)
	}
	return rule, nil
}

// Materialize normalizes any agenda id into a real row id. Concrete ids are
// returned unchanged.
func (s *Service) Materialize(ctx context.Context, scope model.Scope, id string) (string, error) {
	ref, err := occurrence.Resolve(id)
	if err != nil {
		return "", err
	}
	v, ok := ref.(occurrence.Virtual)
	if !ok {
		return id, nil
	}
	if _, err := s.ruleInScope(ctx, scope, v.RecurrenceID); err != nil {
		return "", err
	}
	rowID, err := s.materializer.Resolve(ctx, v)
	if err != nil {
		return "", err
	}
	s.invalidate(rowID)
	return rowID, nil
}

// DeleteScope selects between one occurrence and the whole series.
type DeleteScope string

const (
	DeleteThis DeleteScope = "this"
	DeleteAll  DeleteScope = "all"
)

func ParseDeleteScope(s string) (DeleteScope, error) {
	switch DeleteScope(s) {
	case DeleteThis, "":
		return DeleteThis, nil
	case DeleteAll:
		return DeleteAll, nil
	}
	return "", fmt.Errorf("unknown delete scope %q", s)
}

// DeleteOccurrence removes one occurrence or ends its series. Deleting one
// occurrence of a series tombstones its row so the date never comes back as
// virtual; a non-recurring row is removed outright. Deleting the series
// deactivates the rule and leaves existing rows alone.
func (s *Service) DeleteOccurrence(ctx context.Context, scope model.Scope, id string, which DeleteScope) error {
	if which == DeleteAll {
		return s.deleteSeries(ctx, scope, id)
	}

	rowID, err := s.Materialize(ctx, scope, id)
	if err != nil {
		return err
	}
	var kind model.Kind
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		if t, err := q.GetTask(ctx, rowID); err == nil {
			if t.OfficeID != scope.OfficeID {
				return fmt.Errorf("task %s: %w", rowID, model.ErrNotFound)
			}
			kind = model.KindTask
			if t.RecurrenceID != "" {
				return q.TombstoneTask(ctx, rowID)
			}
			return q.DeleteTask(ctx, rowID)
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		e, err := q.GetEvent(ctx, rowID)
		if err != nil {
			return err
		}
		if e.OfficeID != scope.OfficeID {
			return fmt.Errorf("event %s: %w", rowID, model.ErrNotFound)
		}
		kind = model.KindEvent
		if e.RecurrenceID != "" {
			return q.TombstoneEvent(ctx, rowID)
		}
		return q.DeleteEvent(ctx, rowID)
	})
	if err != nil {
		return err
	}
	s.invalidate(id, rowID)
	appLog.Info("occurrence deleted", "id", rowID, "kind", string(kind), "scope", string(DeleteThis))
	return nil
}

func (s *Service) deleteSeries(ctx context.Context, scope model.Scope, id string) error {
	ref, err := occurrence.Resolve(id)
	if err != nil {
		return err
	}

	var ruleID string
	switch r := ref.(type) {
	case occurrence.Virtual:
		ruleID = r.RecurrenceID
	case occurrence.Concrete:
		if t, err := s.GetTask(ctx, scope, r.ID); err == nil {
			ruleID = t.RecurrenceID
		} else if e, err := s.GetEvent(ctx, scope, r.ID); err == nil {
			ruleID = e.RecurrenceID
		} else {
			return err
		}
	}
	if ruleID == "" {
		return fmt.Errorf("%w: %s is not part of a series", model.ErrRecurrenceNotFound, id)
	}
	if _, err := s.ruleInScope(ctx, scope, ruleID); err != nil {
		return err
	}
	if err := s.store.DeactivateRule(ctx, ruleID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("%w: %s is already inactive", model.ErrRecurrenceNotFound, ruleID)
		}
		return err
	}
	s.invalidate(id)
	appLog.Info("recurrence deactivated", "recurrence_id", ruleID, "scope", string(DeleteAll))
	return nil
}
