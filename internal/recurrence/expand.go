package recurrence

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"legalagenda/internal/dates"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
)

const (
	defaultMaxOccurrencesPerRule = 5000
)

// Occurrence is one (recurrenceId, date) pair produced by expansion.
type Occurrence struct {
	RecurrenceID string
	Date         dates.Date
}

// Window is an inclusive [From, To] range of calendar days.
type Window struct {
	From dates.Date
	To   dates.Date
}

func (w Window) Contains(d dates.Date) bool {
	return !d.Before(w.From) && !d.After(w.To)
}

// Expander turns recurrence rules into occurrences. It performs no I/O and
// does not know which dates are already materialized; suppressing those is
// the caller's job.
type Expander struct {
	// Location is the zone in which rule anchors and dates are interpreted.
	// If nil, time.Local is used.
	Location *time.Location

	// MaxOccurrencesPerRule is a safety cap per rule and window. If zero,
	// defaultMaxOccurrencesPerRule is used.
	MaxOccurrencesPerRule int
}

func NewExpander(loc *time.Location, maxPerRule int) *Expander {
	return &Expander{Location: loc, MaxOccurrencesPerRule: maxPerRule}
}

func (e *Expander) loc() *time.Location {
	if e.Location == nil {
		return time.Local
	}
	return e.Location
}

func (e *Expander) limit() int {
	if e.MaxOccurrencesPerRule <= 0 {
		return defaultMaxOccurrencesPerRule
	}
	return e.MaxOccurrencesPerRule
}

// Expand returns a lazy, restartable sequence of the rule's occurrences inside
// w, ascending by date. Inactive rules yield nothing. Infinite rules are
// bounded by the window only. Ranging over the sequence again restarts it.
func (e *Expander) Expand(rule model.RecurrenceRule, w Window) (iter.Seq[Occurrence], error) {
	if w.To.Before(w.From) {
		return nil, errors.New("expand: window end is before window start")
	}
	if !rule.Active {
		return func(func(Occurrence) bool) {}, nil
	}
	r, err := buildRRule(rule, e.loc())
	if err != nil {
		return nil, err
	}
	loc := e.loc()
	limit := e.limit()

	return func(yield func(Occurrence) bool) {
		// The iterator walks from the anchor; dates before the window are skipped.
		next := r.Iterator()
		emitted := 0
		for {
			t, ok := next()
			if !ok {
				return
			}
			d := dates.OfIn(t, loc)
			if d.After(w.To) {
				return
			}
			if d.Before(w.From) {
				continue
			}
			if emitted >= limit {
				appLog.Error("expand: truncated occurrences for rule due to cap",
					errors.New("max occurrences reached"),
					"rule_id", rule.ID,
					"cap", limit,
				)
				return
			}
			emitted++
			if !yield(Occurrence{RecurrenceID: rule.ID, Date: d}) {
				return
			}
		}
	}, nil
}

// Occurs reports whether the rule has an occurrence on d.
func (e *Expander) Occurs(rule model.RecurrenceRule, d dates.Date) (bool, error) {
	seq, err := e.Expand(rule, Window{From: d, To: d})
	if err != nil {
		return false, err
	}
	for range seq {
		return true, nil
	}
	return false, nil
}

// Collect drains the expansion of several rules into one slice ordered by
// date, then rule id.
func (e *Expander) Collect(rules []model.RecurrenceRule, w Window) ([]Occurrence, error) {
	out := make([]Occurrence, 0)
	for _, rule := range rules {
		seq, err := e.Expand(rule, w)
		if err != nil {
			appLog.Error("expand: skipping invalid rule", err, "rule_id", rule.ID)
			continue
		}
		for occ := range seq {
			out = append(out, occ)
		}
	}
	sortOccurrences(out)
	return out, nil
}

func buildRRule(rule model.RecurrenceRule, loc *time.Location) (*rrule.RRule, error) {
	if rule.Anchor.IsZero() {
		return nil, fmt.Errorf("expand: rule %s has no anchor date", rule.ID)
	}
	freq, err := toFrequency(rule.Frequency)
	if err != nil {
		return nil, fmt.Errorf("expand: rule %s: %w", rule.ID, err)
	}
	interval := rule.Interval
	if interval <= 0 {
		interval = 1
	}
	opt := rrule.ROption{
		Freq:     freq,
		Interval: interval,
		Dtstart:  rule.Anchor.In(loc),
	}
	if rule.Until != nil {
		// Inclusive: any occurrence on the Until day counts.
		opt.Until = rule.Until.AddDays(1).In(loc).Add(-time.Second)
	}
	return rrule.NewRRule(opt)
}

func toFrequency(f model.Frequency) (rrule.Frequency, error) {
	switch f {
	case model.FrequencyDaily:
		return rrule.DAILY, nil
	case model.FrequencyWeekly:
		return rrule.WEEKLY, nil
	case model.FrequencyMonthly:
		return rrule.MONTHLY, nil
	case model.FrequencyYearly:
		return rrule.YEARLY, nil
	default:
		return 0, fmt.Errorf("unsupported frequency %q", f)
	}
}

// ValidateRule checks that a rule can be expanded.
func ValidateRule(rule model.RecurrenceRule) error {
	if rule.EntityKind != model.KindTask && rule.EntityKind != model.KindEvent {
		return fmt.Errorf("recurrence: entity kind %q cannot recur", rule.EntityKind)
	}
	if rule.Until != nil && rule.Until.Before(rule.Anchor) {
		return errors.New("recurrence: end date before anchor")
	}
	_, err := buildRRule(rule, time.UTC)
	return err
}

func sortOccurrences(occ []Occurrence) {
	slices.SortStableFunc(occ, func(a, b Occurrence) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.RecurrenceID, b.RecurrenceID)
	})
}
