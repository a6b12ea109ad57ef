package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"modernc.org/sqlite"

	"legalagenda/internal/dates"
)

// MaxDeadlineDays bounds a legal term. Procedural terms are counted in days or
// weeks; ten years covers every statute of limitation.
const MaxDeadlineDays = 3650

// ErrDeadlineTerm rejects a day count outside [0, MaxDeadlineDays].
var ErrDeadlineTerm = errors.New("deadline term out of range")

func checkTerm(days int64) error {
	if days < 0 || days > MaxDeadlineDays {
		return fmt.Errorf("%w: %d days (allowed 0..%d)", ErrDeadlineTerm, days, MaxDeadlineDays)
	}
	return nil
}

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions installs the SQL functions every connection needs. The
// driver keeps a process-wide registry, so this runs once.
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction("calcular_prazo", 3, calcularPrazo)
	})
	return registerErr
}

// calcular_prazo(intimation TEXT, days INTEGER, business INTEGER) TEXT
func calcularPrazo(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	raw, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("calcular_prazo: intimation must be text, got %T", args[0])
	}
	start, err := dates.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("calcular_prazo: %w", err)
	}
	days, ok := args[1].(int64)
	if !ok {
		return nil, fmt.Errorf("calcular_prazo: days must be integer, got %T", args[1])
	}
	if err := checkTerm(days); err != nil {
		return nil, fmt.Errorf("calcular_prazo: %w", err)
	}
	business := false
	switch v := args[2].(type) {
	case int64:
		business = v != 0
	case nil:
	default:
		return nil, fmt.Errorf("calcular_prazo: business flag must be integer, got %T", args[2])
	}
	return ComputeDeadline(start, int(days), business).String(), nil
}

// ComputeDeadline counts days from the day after intimation. Business mode
// skips Saturdays and Sundays; calendar mode moves a weekend result to the
// following Monday.
func ComputeDeadline(intimation dates.Date, days int, business bool) dates.Date {
	if !business {
		return nextWeekday(intimation.AddDays(days))
	}
	d := intimation
	for n := 0; n < days; {
		d = d.AddDays(1)
		if !weekend(d) {
			n++
		}
	}
	return nextWeekday(d)
}

func weekend(d dates.Date) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func nextWeekday(d dates.Date) dates.Date {
	for weekend(d) {
		d = d.AddDays(1)
	}
	return d
}

// CalculateDeadline evaluates calcular_prazo inside the database.
func (q *Queries) CalculateDeadline(ctx context.Context, intimation dates.Date, days int, business bool) (dates.Date, error) {
	if err := checkTerm(int64(days)); err != nil {
		return dates.Date{}, err
	}
	var out string
	err := q.q.QueryRowContext(ctx, `SELECT calcular_prazo(?, ?, ?)`, intimation.String(), days, boolToInt(business)).Scan(&out)
	if err != nil {
		return dates.Date{}, fmt.Errorf("calculate deadline: %w", err)
	}
	return dates.Parse(out)
}
