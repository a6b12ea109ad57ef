package model

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the scheduling core. Structural errors abort a
// command with no partial mutation.
var (
	ErrInvalidVirtualID   = errors.New("invalid virtual occurrence id")
	ErrRecurrenceNotFound = errors.New("recurrence not found")
	ErrImmutableSchedule  = errors.New("schedule of a fixed task cannot change")
	ErrDeadlineViolation  = errors.New("new start passes the fixed deadline")
	ErrMissingLink        = errors.New("item has no billable case or consultation link")
	ErrPersistence        = errors.New("persistence failure")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAttemptClosed      = errors.New("completion attempt already finished")
)

// PersistenceError wraps a storage failure. errors.Is(err, ErrPersistence)
// holds for every PersistenceError.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Persistence wraps err unless it is nil, already a PersistenceError or one
// of the domain errors above.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
